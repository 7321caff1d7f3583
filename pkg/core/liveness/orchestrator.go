// Package liveness is the session orchestration core: it owns the map of
// active meeting sessions, the per-participant accumulation pipelines, and
// the policies that decide when a participant's video evidence is enough to
// submit for scoring.
package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/core/stream"
)

// OrchestratorConfig wires the orchestrator's collaborators and limits.
type OrchestratorConfig struct {
	// MaxSessions is the global active-session ceiling.
	MaxSessions int
	// Pipeline configures per-participant accumulation.
	Pipeline PipelineConfig
	// Dialer constructs stream sources for new sessions.
	Dialer stream.Dialer
	// Scorer is the default scoring collaborator.
	Scorer Scorer
	// NewScorer, when set, builds a per-session scorer from the start
	// credential. Sessions started without a credential use Scorer.
	NewScorer func(credential string) Scorer
	// Decoder is the batch decoder shared by time-window pipelines.
	Decoder Decoder
	// Store receives session states and participant results.
	Store *results.Store
	// Observer receives optional progress/stage/result hooks.
	Observer Observer
	// Logger defaults to slog.Default.
	Logger *slog.Logger
	// Now is the clock, injectable for tests.
	Now func() time.Time
}

// Orchestrator is the top-level coordinator for all active sessions.
type Orchestrator struct {
	cfg      OrchestratorConfig
	observer *Observer
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]string // meetingID -> credential
}

// NewOrchestrator creates an orchestrator. Store and Dialer are required;
// everything else has defaults.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = 50
	}
	cfg.Pipeline = cfg.Pipeline.withDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	o := &Orchestrator{
		cfg:      cfg,
		logger:   logger,
		now:      now,
		sessions: make(map[string]*session),
		pending:  make(map[string]string),
	}
	o.observer = &cfg.Observer
	return o
}

// Store exposes the result store for read-only pollers.
func (o *Orchestrator) Store() *results.Store {
	return o.cfg.Store
}

// ActiveSessions returns the current active-session count.
func (o *Orchestrator) ActiveSessions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sessions)
}

// StartSession begins streaming and liveness analysis for a meeting.
//
// Fails with a capacity error when the ceiling is reached. A second start
// for an already-active meeting is an idempotent no-op. On a connect
// failure the result store entry is marked error and the session is not
// registered.
func (o *Orchestrator) StartSession(ctx context.Context, desc stream.Descriptor, credential string) error {
	o.mu.Lock()
	if _, ok := o.sessions[desc.MeetingID]; ok {
		o.mu.Unlock()
		o.logger.Warn("session already active, ignoring duplicate start", "meeting", desc.MeetingID)
		return nil
	}
	if len(o.sessions) >= o.cfg.MaxSessions {
		o.mu.Unlock()
		return core.NewCapacityError(fmt.Sprintf(
			"cannot start session %s: max %d concurrent sessions", desc.MeetingID, o.cfg.MaxSessions))
	}

	o.cfg.Store.CreateSession(desc.MeetingID)
	o.cfg.Store.SetSessionState(desc.MeetingID, results.StateProcessing)

	sess := newSession(
		desc,
		o.cfg.Dialer.Dial(desc),
		o.cfg.Store,
		o.scorerFor(credential),
		o.observer,
		o,
		o.cfg.Pipeline,
		o.cfg.Decoder,
		o.logger,
		o.now,
	)
	o.sessions[desc.MeetingID] = sess
	o.mu.Unlock()

	if err := sess.start(ctx); err != nil {
		o.mu.Lock()
		delete(o.sessions, desc.MeetingID)
		o.mu.Unlock()
		sess.close()
		o.cfg.Store.SetSessionState(desc.MeetingID, results.StateError)
		return core.NewConnectivityError(fmt.Sprintf("start session %s: %v", desc.MeetingID, err))
	}

	o.logger.Info("session started", "meeting", desc.MeetingID)
	return nil
}

// StopSession gracefully stops an active session and marks it complete.
// No-op for unknown meetings.
func (o *Orchestrator) StopSession(meetingID string) {
	o.mu.Lock()
	sess, ok := o.sessions[meetingID]
	delete(o.sessions, meetingID)
	o.mu.Unlock()

	if !ok {
		o.logger.Debug("stop requested for unknown meeting", "meeting", meetingID)
		return
	}
	sess.close()
	o.cfg.Store.SetSessionState(meetingID, results.StateComplete)
	o.logger.Info("session stopped", "meeting", meetingID)
}

// RetryParticipant restarts a single participant's pipeline inside an
// active session. Returns false when no session is active for the meeting.
func (o *Orchestrator) RetryParticipant(meetingID, participantID string) bool {
	o.mu.Lock()
	sess, ok := o.sessions[meetingID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	return sess.retryParticipant(participantID)
}

// Close stops every active session and waits for their pipelines to wind
// down until the context expires.
func (o *Orchestrator) Close(ctx context.Context) {
	o.mu.Lock()
	sessions := make(map[string]*session, len(o.sessions))
	for id, s := range o.sessions {
		sessions[id] = s
	}
	o.sessions = make(map[string]*session)
	o.mu.Unlock()

	for meetingID, sess := range sessions {
		sess.close()
		o.cfg.Store.SetSessionState(meetingID, results.StateComplete)
	}
	for _, sess := range sessions {
		if !sess.wait(ctx) {
			break
		}
	}
	if len(sessions) > 0 {
		o.logger.Info("orchestrator shut down", "sessions_closed", len(sessions))
	}
}

// sessionFailed implements sessionNotifier: an unrecoverable stream failure
// behaves like StopSession but leaves the store entry in state error.
// Participant pipelines still running are cancelled without individual
// error records; the session's terminal state communicates the failure.
func (o *Orchestrator) sessionFailed(meetingID, reason string) {
	o.mu.Lock()
	sess, ok := o.sessions[meetingID]
	delete(o.sessions, meetingID)
	o.mu.Unlock()

	if !ok {
		return
	}
	sess.close()
	o.cfg.Store.SetSessionState(meetingID, results.StateError)
	o.logger.Error("session failed", "meeting", meetingID, "reason", reason)
}

func (o *Orchestrator) scorerFor(credential string) Scorer {
	if credential != "" && o.cfg.NewScorer != nil {
		return o.cfg.NewScorer(credential)
	}
	return o.cfg.Scorer
}

// RegisterPendingSession records a credential for a meeting whose start is
// decoupled from the external start signal (a human must opt in first).
func (o *Orchestrator) RegisterPendingSession(meetingID, credential string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[meetingID] = credential
}

// HasPendingSession reports whether a pending registration exists.
func (o *Orchestrator) HasPendingSession(meetingID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pending[meetingID]
	return ok
}

// ConsumePendingSession retrieves and removes a pending registration.
// At-most-once: a second consume for the same meeting reports ok=false.
func (o *Orchestrator) ConsumePendingSession(meetingID string) (credential string, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	credential, ok = o.pending[meetingID]
	delete(o.pending, meetingID)
	return credential, ok
}
