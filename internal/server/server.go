package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/audiolibrelab/isdrec/internal/config"
	"github.com/audiolibrelab/isdrec/internal/service"
	"github.com/spf13/viper"
)

// Server represents the web server for remote control of the recorder
type Server struct {
	service       service.Service
	cfg           *config.Config
	configFile    string
	port          string
	activeProfile string
}

// StatusResponse represents the JSON response for status endpoint
type StatusResponse struct {
	Status        string                `json:"status"`
	Message       string                `json:"message,omitempty"`
	Chip          *service.StatusReport `json:"chip,omitempty"`
	LastRecord    *service.RecordResult `json:"last_record,omitempty"`
	Config        *ResolvedConfigInfo   `json:"resolved_config"`
	ActiveProfile string                `json:"active_profile"`
}

// ResolvedConfigInfo contains configuration information for clients
type ResolvedConfigInfo struct {
	ActiveProfile  string `json:"active_profile"`
	Model          string `json:"model"`
	Backend        string `json:"backend"`
	MinAddr        string `json:"min_addr"`
	MaxAddr        string `json:"max_addr"`
	MaxDurationMs  int64  `json:"max_duration_ms"`
	PollIntervalMs int64  `json:"poll_interval_ms"`
	PlaybackVolume uint8  `json:"playback_volume"`
}

// New creates a new web server instance
func New(svc service.Service, configFile, activeProfile, port string) *Server {
	return &Server{
		service:       svc,
		cfg:           svc.GetConfig(),
		configFile:    configFile,
		port:          port,
		activeProfile: activeProfile,
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/record", s.handleRecord)
	mux.HandleFunc("/play", s.handlePlay)
	mux.HandleFunc("/erase", s.handleErase)
	mux.HandleFunc("/stop", s.handleStop)
	mux.HandleFunc("/config/profiles", s.handleProfiles)
	mux.HandleFunc("/config/active", s.handleActiveProfile)
	return mux
}

// Start starts the web server
func (s *Server) Start() error {
	localIP := getLocalIP()

	slog.Info("Starting isdrec Web Server",
		"port", s.port,
		"local_url", fmt.Sprintf("http://%s:%s", localIP, s.port),
		"localhost_url", fmt.Sprintf("http://localhost:%s", s.port))

	return http.ListenAndServe(":"+s.port, s.Handler())
}

// handleIndex serves a short description of the API
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(getDefaultHTML()))
}

// getDefaultHTML lists the API endpoints
func getDefaultHTML() string {
	return `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>isdrec</title>
</head>
<body>
    <h1>isdrec</h1>
    <h2>API Endpoints:</h2>
    <ul>
        <li>GET /status - Session and chip status</li>
        <li>POST /record - Start recording (address=hex, duration_ms)</li>
        <li>POST /play - Start playback (address=hex, volume=0-7, duration_ms)</li>
        <li>POST /erase - Erase all memory</li>
        <li>POST /stop - Stop the running operation</li>
        <li>GET /config/profiles - List profiles</li>
        <li>GET /config/active - Active profile</li>
    </ul>
</body>
</html>`
}

// handleRecord starts a recording (STANDBY -> RECORDING)
func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "record")
		return
	}

	addr, err := parseAddress(r.FormValue("address"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "record")
		return
	}
	dur, err := parseDurationMs(r.FormValue("duration_ms"), true)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "record")
		return
	}

	slog.Debug("Record request received", "address", fmt.Sprintf("%#03x", addr), "duration", dur)
	req := service.RecordRequest{Address: addr, Duration: dur}
	if err := s.service.StartRecord(req); err != nil {
		s.sendServiceError(w, fmt.Sprintf("Failed to start recording: %v", err), err, "operation", "record")
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message":     "Recording started",
		"address":     fmt.Sprintf("0x%03X", addr),
		"duration_ms": dur.Milliseconds(),
	})
}

// handlePlay starts playback (STANDBY -> PLAYING)
func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := r.ParseForm(); err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, "Failed to parse form", "operation", "play")
		return
	}

	addr, err := parseAddress(r.FormValue("address"))
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "play")
		return
	}
	dur, err := parseDurationMs(r.FormValue("duration_ms"), false)
	if err != nil {
		s.sendErrorResponse(w, http.StatusBadRequest, err.Error(), "operation", "play")
		return
	}
	volume := s.cfg.Volume()
	if v := r.FormValue("volume"); v != "" {
		n, err := strconv.ParseUint(v, 10, 8)
		if err != nil {
			s.sendErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid volume: %s", v), "operation", "play")
			return
		}
		volume = uint8(n)
	}

	req := service.PlayRequest{Address: addr, Volume: volume, Duration: dur}
	if err := s.service.StartPlay(req); err != nil {
		s.sendServiceError(w, fmt.Sprintf("Failed to start playback: %v", err), err, "operation", "play")
		return
	}

	s.sendSuccess(w, map[string]interface{}{
		"message": "Playback started",
		"address": fmt.Sprintf("0x%03X", addr),
		"volume":  volume,
	})
}

// handleErase starts a global erase (STANDBY -> ERASING)
func (s *Server) handleErase(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.StartErase(); err != nil {
		s.sendServiceError(w, fmt.Sprintf("Failed to start erase: %v", err), err, "operation", "erase")
		return
	}
	s.sendSuccess(w, map[string]interface{}{"message": "Erasing all memory"})
}

// handleStop stops the running operation
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.service.Stop(); err != nil {
		s.sendServiceError(w, fmt.Sprintf("Failed to stop: %v", err), err, "operation", "stop")
		return
	}

	response := map[string]interface{}{"message": "Stopped"}
	if last := s.service.LastRecord(); last != nil {
		response["last_record"] = last
	}
	s.sendSuccess(w, response)
}

// handleStatus returns the current session and chip status
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	report, err := s.service.Status()
	if err != nil {
		slog.Warn("Status read failed", "error", err)
	}

	status := service.StatusStandby
	if report != nil {
		status = report.Session
	}

	response := StatusResponse{
		Status:        string(status),
		Message:       s.generateStatusMessage(status),
		Chip:          report,
		LastRecord:    s.service.LastRecord(),
		Config:        s.getResolvedConfigInfo(),
		ActiveProfile: s.activeProfile,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleProfiles returns available configuration profiles
func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"profiles": s.getAvailableProfiles(),
	})
}

// handleActiveProfile returns the currently active profile
func (s *Server) handleActiveProfile(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"active_profile": s.activeProfile,
		"success":        true,
	})
}

// getResolvedConfigInfo builds configuration information for clients
func (s *Server) getResolvedConfigInfo() *ResolvedConfigInfo {
	info := &ResolvedConfigInfo{
		ActiveProfile:  s.activeProfile,
		Model:          s.cfg.Chip.Model,
		Backend:        s.cfg.Bus.Backend,
		MaxDurationMs:  s.cfg.Session.MaxDuration.Milliseconds(),
		PollIntervalMs: s.cfg.Timing.PollInterval.Milliseconds(),
		PlaybackVolume: s.cfg.Volume(),
	}
	if geo, err := s.cfg.Geometry(); err == nil {
		info.MinAddr = fmt.Sprintf("0x%03X", geo.MinAddr)
		info.MaxAddr = fmt.Sprintf("0x%03X", geo.MaxAddr)
	}
	return info
}

// getAvailableProfiles returns a list of available configuration profiles
func (s *Server) getAvailableProfiles() []string {
	profiles := []string{}

	if s.configFile != "" {
		if _, err := os.Stat(s.configFile); err == nil {
			// Create a new viper instance to avoid interfering with global config
			v := viper.New()
			v.SetConfigFile(s.configFile)

			if err := v.ReadInConfig(); err == nil {
				var rootConfig config.RootConfig
				if err := v.Unmarshal(&rootConfig); err == nil {
					for profileName := range rootConfig.Configs {
						profiles = append(profiles, profileName)
					}
				} else {
					slog.Debug("Failed to unmarshal config for profiles", "error", err)
				}
			} else {
				slog.Debug("Failed to read config file for profiles", "error", err)
			}
		}
	}
	sort.Strings(profiles)

	slog.Debug("Available profiles loaded", "profiles", profiles, "config_file", s.configFile)
	return profiles
}

// generateStatusMessage creates appropriate status messages based on current state
func (s *Server) generateStatusMessage(status service.SessionStatus) string {
	switch status {
	case service.StatusErasing:
		return "Erasing all memory"
	case service.StatusRecording:
		return "Recording in progress"
	case service.StatusPlaying:
		return "Playing back audio"
	case service.StatusError:
		if errorDetails := s.service.GetLastError(); errorDetails != "" {
			return errorDetails
		}
		return "An error occurred during the operation"
	default:
		return ""
	}
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   "Method not allowed",
	})
	return false
}

func (s *Server) sendSuccess(w http.ResponseWriter, response map[string]interface{}) {
	response["success"] = true
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// sendServiceError maps service errors to HTTP status codes
func (s *Server) sendServiceError(w http.ResponseWriter, errorMsg string, err error, logContext ...interface{}) {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrBusy):
		code = http.StatusConflict
	case errors.Is(err, service.ErrInvalidAddress),
		errors.Is(err, service.ErrInvalidDuration),
		errors.Is(err, service.ErrInvalidVolume):
		code = http.StatusBadRequest
	}
	s.sendErrorResponse(w, code, errorMsg, logContext...)
}

// sendErrorResponse logs the error and sends a JSON error response to the client
func (s *Server) sendErrorResponse(w http.ResponseWriter, statusCode int, errorMsg string, logContext ...interface{}) {
	logFields := []interface{}{"error_message", errorMsg, "status_code", statusCode}
	if len(logContext) > 0 {
		logFields = append(logFields, logContext...)
	}
	slog.Error("Sending error response to client", logFields...)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   errorMsg,
	})
}

func parseAddress(v string) (uint16, error) {
	if v == "" {
		return 0, errors.New("address is required")
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(v), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid address: %s", v)
	}
	return uint16(n), nil
}

func parseDurationMs(v string, required bool) (time.Duration, error) {
	if v == "" {
		if required {
			return 0, errors.New("duration_ms is required")
		}
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid duration_ms: %s", v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func getLocalIP() string {
	// Try to connect to a remote address to determine local IP
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "localhost"
	}
	defer conn.Close()

	localAddr := conn.LocalAddr().(*net.UDPAddr)
	return localAddr.IP.String()
}
