package isd

// Power is the chip power mode.
type Power int

const (
	PowerDown Power = iota
	PowerUp
)

func (p Power) String() string {
	if p == PowerUp {
		return "UP"
	}
	return "DOWN"
}

// Activity is the operation the chip is running.
type Activity int

const (
	Idle Activity = iota
	Recording
	Playing
)

func (a Activity) String() string {
	switch a {
	case Recording:
		return "RECORDING"
	case Playing:
		return "PLAYING"
	default:
		return "IDLE"
	}
}

// State mirrors what the driver last told the chip to do.
type State struct {
	Power       Power    `json:"power"`
	Activity    Activity `json:"activity"`
	Feedthrough bool     `json:"feedthrough"`
	Volume      uint8    `json:"volume"`
	Interrupt   bool     `json:"interrupt"`
}

// Consistent reports whether the analogue path matches the activity:
// recording needs feedthrough on, playback needs it off.
func (s State) Consistent() bool {
	switch s.Activity {
	case Recording:
		return s.Feedthrough
	case Playing:
		return !s.Feedthrough
	}
	return true
}

func (p Power) MarshalText() ([]byte, error)    { return []byte(p.String()), nil }
func (a Activity) MarshalText() ([]byte, error) { return []byte(a.String()), nil }
