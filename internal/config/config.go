package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/audiolibrelab/isdrec/internal/bus"
	"github.com/audiolibrelab/isdrec/internal/isd"
)

const (
	inherited       = "inherited"
	profileSpecific = "profile-specific"
	builtin         = "builtin"
)

type RootConfig struct {
	ActiveConfig string             `mapstructure:"active_config" yaml:"active_config"`
	Configs      map[string]*Config `mapstructure:"configs" yaml:"configs"`
}

type Config struct {
	Chip    ChipConfig    `mapstructure:"chip" yaml:"chip"`
	Bus     BusConfig     `mapstructure:"bus" yaml:"bus"`
	Timing  TimingConfig  `mapstructure:"timing" yaml:"timing"`
	Session SessionConfig `mapstructure:"session" yaml:"session"`

	// Internal field to track where each resolved value came from
	Inheritance map[string]string `mapstructure:"-" yaml:"-"`
}

type ChipConfig struct {
	Model   string `mapstructure:"model" yaml:"model"`
	MaxAddr uint16 `mapstructure:"max_addr" yaml:"max_addr,omitempty"` // overrides the model table
}

type BusConfig struct {
	Backend            string        `mapstructure:"backend" yaml:"backend"` // "periph", "sim", "auto"
	Port               string        `mapstructure:"port" yaml:"port"`
	ClockHz            int64         `mapstructure:"clock_hz" yaml:"clock_hz"`
	Mode               *int          `mapstructure:"mode" yaml:"mode"`
	LSBFirst           *bool         `mapstructure:"lsb_first" yaml:"lsb_first"`
	ChipSelectPin      string        `mapstructure:"cs_pin" yaml:"cs_pin,omitempty"`
	InterruptPin       string        `mapstructure:"interrupt_pin" yaml:"interrupt_pin"`
	InterruptActiveLow *bool         `mapstructure:"interrupt_active_low" yaml:"interrupt_active_low"`
	TriggerPin         string        `mapstructure:"trigger_pin" yaml:"trigger_pin,omitempty"`
	SimRowsPerSecond   float64       `mapstructure:"sim_rows_per_second" yaml:"sim_rows_per_second,omitempty"`
	SimEraseTime       time.Duration `mapstructure:"sim_erase_time" yaml:"sim_erase_time,omitempty"`
}

type TimingConfig struct {
	PowerUpDelay time.Duration `mapstructure:"power_up_delay" yaml:"power_up_delay"`
	SettleDelay  time.Duration `mapstructure:"settle_delay" yaml:"settle_delay"`
	PollInterval time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	EraseTimeout time.Duration `mapstructure:"erase_timeout" yaml:"erase_timeout"`
}

type SessionConfig struct {
	SamplesPerRow  int           `mapstructure:"samples_per_row" yaml:"samples_per_row"`
	MaxDuration    time.Duration `mapstructure:"max_duration" yaml:"max_duration"`
	PlaybackVolume *uint8        `mapstructure:"playback_volume" yaml:"playback_volume"`
}

func intPtr(v int) *int       { return &v }
func boolPtr(v bool) *bool    { return &v }
func uint8Ptr(v uint8) *uint8 { return &v }

var defaultConfig = Config{
	Chip: ChipConfig{
		Model: isd.DefaultModel,
	},
	Bus: BusConfig{
		Backend:            "auto",
		Port:               "",
		ClockHz:            1000000,
		Mode:               intPtr(3),
		LSBFirst:           boolPtr(true),
		InterruptPin:       "GPIO25",
		InterruptActiveLow: boolPtr(true),
		SimRowsPerSecond:   8,
	},
	Timing: TimingConfig{
		PowerUpDelay: isd.DefaultTiming.PowerUp,
		SettleDelay:  isd.DefaultTiming.Settle,
		PollInterval: 10 * time.Millisecond,
		EraseTimeout: 30 * time.Second,
	},
	Session: SessionConfig{
		SamplesPerRow:  1000,
		MaxDuration:    99999 * time.Millisecond,
		PlaybackVolume: uint8Ptr(isd.DefaultVolume),
	},
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := mergeConfigs(nil, &defaultConfig)
	for k := range cfg.Inheritance {
		cfg.Inheritance[k] = builtin
	}
	return cfg
}

// LoadWithProfile reads configFile and resolves profile (or the file's
// active_config, or "default") over the default profile and the built-in
// values.
func LoadWithProfile(configFile, profile string) (*Config, error) {
	if configFile == "" {
		return nil, fmt.Errorf("no config file specified, use --config flag")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return rootConfig.Resolve(profile)
}

// Resolve builds the effective configuration for a profile.
func (r *RootConfig) Resolve(profile string) (*Config, error) {
	configName := profile
	if configName == "" {
		configName = r.ActiveConfig
	}
	if configName == "" {
		configName = "default"
	}

	selected, exists := r.Configs[configName]
	if !exists {
		return nil, fmt.Errorf("configuration profile '%s' not found", configName)
	}

	base := mergeConfigs(nil, &defaultConfig)
	if configName != "default" {
		if def, ok := r.Configs["default"]; ok {
			base = mergeConfigs(base, def)
		}
	}
	result := mergeConfigs(base, selected)

	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("profile '%s': %w", configName, err)
	}
	return result, nil
}

// Profiles returns the profile names in the file, sorted.
func (r *RootConfig) Profiles() []string {
	names := make([]string, 0, len(r.Configs))
	for name := range r.Configs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateConfigurationFormat reads configFile and checks every profile
// resolves to a valid configuration.
func ValidateConfigurationFormat(configFile string) (*RootConfig, error) {
	v := viper.New()
	v.SetConfigFile(configFile)
	v.SetEnvPrefix("ISDREC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", configFile, err)
	}

	var rootConfig RootConfig
	if err := v.Unmarshal(&rootConfig); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if len(rootConfig.Configs) == 0 {
		return nil, errors.New("configs section is required and cannot be empty")
	}
	for name, profile := range rootConfig.Configs {
		if profile == nil {
			return nil, fmt.Errorf("config '%s' is empty", name)
		}
	}
	if rootConfig.ActiveConfig != "" {
		if _, ok := rootConfig.Configs[rootConfig.ActiveConfig]; !ok {
			return nil, fmt.Errorf("active_config '%s' does not name a profile", rootConfig.ActiveConfig)
		}
	}
	for _, name := range rootConfig.Profiles() {
		if _, err := rootConfig.Resolve(name); err != nil {
			return nil, fmt.Errorf("invalid config '%s': %w", name, err)
		}
	}

	return &rootConfig, nil
}

// ActiveProfileName returns the profile LoadWithProfile resolves for
// profile: the flag value, else the file's active_config, else "default".
func ActiveProfileName(configFile, profile string) string {
	if profile != "" {
		return profile
	}
	if configFile == "" {
		return builtin
	}

	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		slog.Warn("Failed to read config file for active profile", "error", err)
		return ""
	}
	if name := v.GetString("active_config"); name != "" {
		return name
	}
	return "default"
}

// UpdateActiveConfig updates the active_config field in the config file
func UpdateActiveConfig(configFile, newActiveConfig string) error {
	if configFile == "" {
		return fmt.Errorf("no config file specified")
	}

	rootConfig, err := ValidateConfigurationFormat(configFile)
	if err != nil {
		return err
	}
	if _, ok := rootConfig.Configs[newActiveConfig]; !ok {
		return fmt.Errorf("configuration profile '%s' not found", newActiveConfig)
	}

	// Separate viper instance so env overrides are not written back
	v := viper.New()
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file %s: %w", configFile, err)
	}
	v.Set("active_config", newActiveConfig)
	if err := v.WriteConfig(); err != nil {
		return fmt.Errorf("error writing config file %s: %w", configFile, err)
	}
	return nil
}

// pick returns the profile value when set, else the base value, and records
// which one won.
func pick[T comparable](inh map[string]string, key string, base, profile T) T {
	var zero T
	if profile != zero {
		inh[key] = profileSpecific
		return profile
	}
	inh[key] = inherited
	return base
}

// mergeConfigs overlays profile on base. Zero values in profile inherit.
func mergeConfigs(base, profile *Config) *Config {
	if base == nil {
		base = &Config{}
	}
	inh := make(map[string]string)
	r := &Config{Inheritance: inh}

	r.Chip.Model = pick(inh, "chip.model", base.Chip.Model, profile.Chip.Model)
	r.Chip.MaxAddr = pick(inh, "chip.max_addr", base.Chip.MaxAddr, profile.Chip.MaxAddr)

	r.Bus.Backend = pick(inh, "bus.backend", base.Bus.Backend, profile.Bus.Backend)
	r.Bus.Port = pick(inh, "bus.port", base.Bus.Port, profile.Bus.Port)
	r.Bus.ClockHz = pick(inh, "bus.clock_hz", base.Bus.ClockHz, profile.Bus.ClockHz)
	r.Bus.Mode = pick(inh, "bus.mode", base.Bus.Mode, profile.Bus.Mode)
	r.Bus.LSBFirst = pick(inh, "bus.lsb_first", base.Bus.LSBFirst, profile.Bus.LSBFirst)
	r.Bus.ChipSelectPin = pick(inh, "bus.cs_pin", base.Bus.ChipSelectPin, profile.Bus.ChipSelectPin)
	r.Bus.InterruptPin = pick(inh, "bus.interrupt_pin", base.Bus.InterruptPin, profile.Bus.InterruptPin)
	r.Bus.InterruptActiveLow = pick(inh, "bus.interrupt_active_low", base.Bus.InterruptActiveLow, profile.Bus.InterruptActiveLow)
	r.Bus.TriggerPin = pick(inh, "bus.trigger_pin", base.Bus.TriggerPin, profile.Bus.TriggerPin)
	r.Bus.SimRowsPerSecond = pick(inh, "bus.sim_rows_per_second", base.Bus.SimRowsPerSecond, profile.Bus.SimRowsPerSecond)
	r.Bus.SimEraseTime = pick(inh, "bus.sim_erase_time", base.Bus.SimEraseTime, profile.Bus.SimEraseTime)

	r.Timing.PowerUpDelay = pick(inh, "timing.power_up_delay", base.Timing.PowerUpDelay, profile.Timing.PowerUpDelay)
	r.Timing.SettleDelay = pick(inh, "timing.settle_delay", base.Timing.SettleDelay, profile.Timing.SettleDelay)
	r.Timing.PollInterval = pick(inh, "timing.poll_interval", base.Timing.PollInterval, profile.Timing.PollInterval)
	r.Timing.EraseTimeout = pick(inh, "timing.erase_timeout", base.Timing.EraseTimeout, profile.Timing.EraseTimeout)

	r.Session.SamplesPerRow = pick(inh, "session.samples_per_row", base.Session.SamplesPerRow, profile.Session.SamplesPerRow)
	r.Session.MaxDuration = pick(inh, "session.max_duration", base.Session.MaxDuration, profile.Session.MaxDuration)
	r.Session.PlaybackVolume = pick(inh, "session.playback_volume", base.Session.PlaybackVolume, profile.Session.PlaybackVolume)

	return r
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if _, err := c.Geometry(); err != nil {
		return fmt.Errorf("chip: %w", err)
	}

	switch strings.ToLower(c.Bus.Backend) {
	case "periph", "auto":
		if c.Bus.InterruptPin == "" {
			return fmt.Errorf("bus.interrupt_pin is required for backend '%s'", c.Bus.Backend)
		}
	case "sim":
	default:
		return fmt.Errorf("bus.backend must be 'periph', 'sim' or 'auto', got: %s", c.Bus.Backend)
	}
	if c.Bus.ClockHz <= 0 {
		return fmt.Errorf("bus.clock_hz must be > 0, got: %d", c.Bus.ClockHz)
	}
	if c.Bus.Mode != nil && (*c.Bus.Mode < 0 || *c.Bus.Mode > 3) {
		return fmt.Errorf("bus.mode must be 0-3, got: %d", *c.Bus.Mode)
	}
	if c.Bus.SimRowsPerSecond < 0 {
		return fmt.Errorf("bus.sim_rows_per_second must be >= 0, got: %.2f", c.Bus.SimRowsPerSecond)
	}

	if c.Timing.PollInterval <= 0 {
		return fmt.Errorf("timing.poll_interval must be > 0, got: %s", c.Timing.PollInterval)
	}
	if c.Timing.PowerUpDelay < 0 || c.Timing.SettleDelay < 0 {
		return errors.New("timing delays must be >= 0")
	}
	if c.Timing.EraseTimeout <= 0 {
		return fmt.Errorf("timing.erase_timeout must be > 0, got: %s", c.Timing.EraseTimeout)
	}

	if c.Session.SamplesPerRow <= 0 {
		return fmt.Errorf("session.samples_per_row must be > 0, got: %d", c.Session.SamplesPerRow)
	}
	if c.Session.MaxDuration <= 0 {
		return fmt.Errorf("session.max_duration must be > 0, got: %s", c.Session.MaxDuration)
	}
	if c.Session.PlaybackVolume != nil && *c.Session.PlaybackVolume > isd.MinVolume {
		return fmt.Errorf("session.playback_volume must be 0-7, got: %d", *c.Session.PlaybackVolume)
	}
	return nil
}

// Geometry returns the chip address range.
func (c *Config) Geometry() (isd.Geometry, error) {
	return isd.GeometryFor(c.Chip.Model, c.Chip.MaxAddr)
}

// DriverTiming returns the start-up delays for the driver.
func (c *Config) DriverTiming() isd.Timing {
	return isd.Timing{PowerUp: c.Timing.PowerUpDelay, Settle: c.Timing.SettleDelay}
}

// SPI returns the wiring for the periph transport.
func (c *Config) SPI() bus.SPIConfig {
	mode := 3
	if c.Bus.Mode != nil {
		mode = *c.Bus.Mode
	}
	return bus.SPIConfig{
		Port:               c.Bus.Port,
		ClockHz:            c.Bus.ClockHz,
		Mode:               mode,
		LSBFirst:           c.Bus.LSBFirst == nil || *c.Bus.LSBFirst,
		ChipSelectPin:      c.Bus.ChipSelectPin,
		InterruptPin:       c.Bus.InterruptPin,
		InterruptActiveLow: c.Bus.InterruptActiveLow == nil || *c.Bus.InterruptActiveLow,
		TriggerPin:         c.Bus.TriggerPin,
	}
}

// Volume returns the configured playback volume.
func (c *Config) Volume() uint8 {
	if c.Session.PlaybackVolume == nil {
		return isd.DefaultVolume
	}
	return *c.Session.PlaybackVolume
}

// DefaultPath is where the CLI looks for a config file.
func DefaultPath() string {
	return os.ExpandEnv("$HOME/.config/isdrec.yaml")
}
