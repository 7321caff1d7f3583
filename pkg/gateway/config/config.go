package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type AuthMode string

const (
	AuthModeRequired AuthMode = "required"
	AuthModeDisabled AuthMode = "disabled"
)

type Config struct {
	Addr string

	AuthMode AuthMode
	APIKeys  map[string]struct{}

	// Zoom RTMS credentials used to sign stream handshakes and to verify
	// inbound webhook signatures.
	ZoomClientID      string
	ZoomClientSecret  string
	ZoomWebhookSecret string

	// Scoring backend.
	ScoringAPIKey  string
	ScoringBaseURL string

	// If true, a webhook stream-start event only begins analysis when a
	// matching pending registration exists.
	RequireOptIn bool

	MaxBodyBytes int64

	// Session limits.
	MaxSessions int

	// Per-participant accumulation tuning.
	AccumulationWindow time.Duration
	InactivityTimeout  time.Duration
	OverallTimeout     time.Duration
	PollInterval       time.Duration
	RequiredFrames     int
	CropSize           int
	SharpnessThreshold float64

	// Operational defaults
	ReadHeaderTimeout   time.Duration
	ReadTimeout         time.Duration
	HandlerTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

func LoadFromEnv() (Config, error) {
	cfg := Config{
		Addr:                envOr("LIVENESSD_ADDR", ":8080"),
		AuthMode:            AuthMode(envOr("LIVENESSD_AUTH_MODE", string(AuthModeRequired))),
		APIKeys:             make(map[string]struct{}),
		ZoomClientID:        strings.TrimSpace(os.Getenv("LIVENESSD_ZOOM_CLIENT_ID")),
		ZoomClientSecret:    strings.TrimSpace(os.Getenv("LIVENESSD_ZOOM_CLIENT_SECRET")),
		ZoomWebhookSecret:   strings.TrimSpace(os.Getenv("LIVENESSD_ZOOM_WEBHOOK_SECRET")),
		ScoringAPIKey:       strings.TrimSpace(os.Getenv("LIVENESSD_SCORING_API_KEY")),
		ScoringBaseURL:      envOr("LIVENESSD_SCORING_BASE_URL", "https://api.moveris.com"),
		RequireOptIn:        envBoolOr("LIVENESSD_REQUIRE_OPT_IN", false),
		MaxBodyBytes:        envInt64Or("LIVENESSD_MAX_BODY_BYTES", 1<<20), // 1 MiB
		MaxSessions:         envIntOr("LIVENESSD_MAX_SESSIONS", 50),
		AccumulationWindow:  envDurationOr("LIVENESSD_ACCUMULATION_WINDOW", 4*time.Second),
		InactivityTimeout:   envDurationOr("LIVENESSD_INACTIVITY_TIMEOUT", 5*time.Second),
		OverallTimeout:      envDurationOr("LIVENESSD_OVERALL_TIMEOUT", 30*time.Second),
		PollInterval:        envDurationOr("LIVENESSD_POLL_INTERVAL", 250*time.Millisecond),
		RequiredFrames:      envIntOr("LIVENESSD_REQUIRED_FRAMES", 10),
		CropSize:            envIntOr("LIVENESSD_CROP_SIZE", 224),
		SharpnessThreshold:  envFloat64Or("LIVENESSD_SHARPNESS_THRESHOLD", 50.0),
		ReadHeaderTimeout:   envDurationOr("LIVENESSD_READ_HEADER_TIMEOUT", 10*time.Second),
		ReadTimeout:         envDurationOr("LIVENESSD_READ_TIMEOUT", 30*time.Second),
		HandlerTimeout:      envDurationOr("LIVENESSD_TOTAL_REQUEST_TIMEOUT", 2*time.Minute),
		ShutdownGracePeriod: envDurationOr("LIVENESSD_SHUTDOWN_GRACE_PERIOD", 30*time.Second),
	}

	switch cfg.AuthMode {
	case AuthModeRequired, AuthModeDisabled:
	default:
		return Config{}, fmt.Errorf("LIVENESSD_AUTH_MODE must be one of required|disabled")
	}

	for _, key := range splitCSV(os.Getenv("LIVENESSD_API_KEYS")) {
		cfg.APIKeys[key] = struct{}{}
	}

	if cfg.ZoomClientID == "" {
		return Config{}, fmt.Errorf("LIVENESSD_ZOOM_CLIENT_ID must be set")
	}
	if cfg.ZoomClientSecret == "" {
		return Config{}, fmt.Errorf("LIVENESSD_ZOOM_CLIENT_SECRET must be set")
	}
	if cfg.ZoomWebhookSecret == "" {
		return Config{}, fmt.Errorf("LIVENESSD_ZOOM_WEBHOOK_SECRET must be set")
	}
	if cfg.ScoringAPIKey == "" {
		return Config{}, fmt.Errorf("LIVENESSD_SCORING_API_KEY must be set")
	}
	if strings.TrimSpace(cfg.ScoringBaseURL) == "" {
		return Config{}, fmt.Errorf("LIVENESSD_SCORING_BASE_URL must not be empty")
	}

	if cfg.MaxBodyBytes <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_MAX_BODY_BYTES must be > 0")
	}
	if cfg.MaxSessions <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_MAX_SESSIONS must be > 0")
	}
	if cfg.AccumulationWindow <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_ACCUMULATION_WINDOW must be > 0")
	}
	if cfg.InactivityTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_INACTIVITY_TIMEOUT must be > 0")
	}
	if cfg.OverallTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_OVERALL_TIMEOUT must be > 0")
	}
	if cfg.PollInterval <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_POLL_INTERVAL must be > 0")
	}
	if cfg.RequiredFrames <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_REQUIRED_FRAMES must be > 0")
	}
	if cfg.CropSize <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_CROP_SIZE must be > 0")
	}
	if cfg.SharpnessThreshold < 0 {
		return Config{}, fmt.Errorf("LIVENESSD_SHARPNESS_THRESHOLD must be >= 0")
	}
	if cfg.ReadHeaderTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_READ_HEADER_TIMEOUT must be > 0")
	}
	if cfg.ReadTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_READ_TIMEOUT must be > 0")
	}
	if cfg.HandlerTimeout <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_TOTAL_REQUEST_TIMEOUT must be > 0")
	}
	if cfg.ShutdownGracePeriod <= 0 {
		return Config{}, fmt.Errorf("LIVENESSD_SHUTDOWN_GRACE_PERIOD must be > 0")
	}

	if cfg.AuthMode == AuthModeRequired && len(cfg.APIKeys) == 0 {
		return Config{}, fmt.Errorf("LIVENESSD_API_KEYS must be set when LIVENESSD_AUTH_MODE=required")
	}

	return cfg, nil
}

func envOr(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt64Or(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func envIntOr(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

func envFloat64Or(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return def
	}
	return n
}

func envBoolOr(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	switch strings.ToLower(raw) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func envDurationOr(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return def
	}
	return d
}

func splitCSV(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}
