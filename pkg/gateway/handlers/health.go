package handlers

import (
	"net/http"

	"github.com/verilive/livenessd/pkg/gateway/config"
	"github.com/verilive/livenessd/pkg/gateway/lifecycle"
)

type HealthHandler struct{}

func (h HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

type ReadyHandler struct {
	Config    config.Config
	Lifecycle *lifecycle.Lifecycle
	// Active reports the current active session count; nil means unknown.
	Active func() int
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	type readyResp struct {
		OK             bool     `json:"ok"`
		AuthMode       string   `json:"auth_mode"`
		ActiveSessions int      `json:"active_sessions"`
		MaxSessions    int      `json:"max_sessions"`
		Draining       bool     `json:"draining,omitempty"`
		Issues         []string `json:"issues,omitempty"`
	}

	issues := make([]string, 0, 4)

	if h.Lifecycle.IsDraining() {
		issues = append(issues, "draining")
	}

	switch h.Config.AuthMode {
	case config.AuthModeRequired, config.AuthModeDisabled:
	default:
		issues = append(issues, "invalid auth_mode")
	}
	if h.Config.AuthMode == config.AuthModeRequired && len(h.Config.APIKeys) == 0 {
		issues = append(issues, "auth_mode=required but no api keys configured")
	}
	if h.Config.MaxSessions <= 0 {
		issues = append(issues, "max_sessions must be > 0")
	}
	if h.Config.RequiredFrames <= 0 {
		issues = append(issues, "required_frames must be > 0")
	}
	if h.Config.AccumulationWindow <= 0 || h.Config.InactivityTimeout <= 0 || h.Config.PollInterval <= 0 {
		issues = append(issues, "accumulation timings must be > 0")
	}
	if h.Config.ReadHeaderTimeout <= 0 || h.Config.ReadTimeout <= 0 || h.Config.HandlerTimeout <= 0 {
		issues = append(issues, "timeouts must be > 0")
	}

	active := 0
	if h.Active != nil {
		active = h.Active()
	}

	ok := len(issues) == 0
	status := http.StatusOK
	if !ok {
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, readyResp{
		OK:             ok,
		AuthMode:       string(h.Config.AuthMode),
		ActiveSessions: active,
		MaxSessions:    h.Config.MaxSessions,
		Draining:       h.Lifecycle.IsDraining(),
		Issues:         issues,
	})
}
