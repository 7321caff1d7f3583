// Package results holds the process-wide store of per-meeting session status
// and per-participant liveness results. It is populated by the orchestrator's
// pipelines and read by external pollers, so every accessor must be safe to
// call concurrently with writers.
package results

import (
	"sync"
	"time"
)

// SessionState is the lifecycle state of a meeting session.
type SessionState string

const (
	StatePending    SessionState = "pending"
	StateProcessing SessionState = "processing"
	StateComplete   SessionState = "complete"
	StateError      SessionState = "error"
)

// Terminal reports whether the state is a terminal one.
func (s SessionState) Terminal() bool {
	return s == StateComplete || s == StateError
}

// Result is the terminal outcome for one participant in one meeting.
// Exactly one of Verdict and Error is set.
type Result struct {
	MeetingID     string    `json:"meeting_id"`
	ParticipantID string    `json:"participant_id"`
	Verdict       string    `json:"verdict,omitempty"` // "live" | "fake"
	Score         float64   `json:"score"`             // 0-100 display score
	RealScore     float64   `json:"real_score"`        // 0-1 liveness probability
	FakeScore     float64   `json:"fake_score"`        // 0-1 spoof probability
	Confidence    float64   `json:"confidence"`        // 0-1
	ProcessingMs  int64     `json:"processing_ms"`
	FramesSeen    int       `json:"frames_seen"`
	SubmissionID  string    `json:"submission_id,omitempty"`
	CompletedAt   time.Time `json:"completed_at"`
	Error         string    `json:"error,omitempty"`
}

// Passed reports whether the participant passed the liveness check.
func (r *Result) Passed() bool {
	return r != nil && r.Verdict == "live"
}

// SessionStatus is a point-in-time view of one meeting session. Participants
// with a nil Result have been announced but not yet resolved.
type SessionStatus struct {
	MeetingID    string             `json:"meeting_id"`
	State        SessionState       `json:"state"`
	Participants map[string]*Result `json:"participants"`
	StartedAt    time.Time          `json:"started_at"`
	CompletedAt  *time.Time         `json:"completed_at,omitempty"`
}

// Store is the keyed store of session statuses.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*SessionStatus
	now      func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*SessionStatus),
		now:      time.Now,
	}
}

// CreateSession registers a meeting in state pending. Idempotent: a second
// call for the same meeting is a no-op.
func (s *Store) CreateSession(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[meetingID]; ok {
		return
	}
	s.sessions[meetingID] = &SessionStatus{
		MeetingID:    meetingID,
		State:        StatePending,
		Participants: make(map[string]*Result),
		StartedAt:    s.now(),
	}
}

// SetSessionState transitions a session. No-op if the meeting is unknown.
// The completion timestamp is set exactly once, on the first transition into
// a terminal state.
func (s *Store) SetSessionState(meetingID string, state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[meetingID]
	if !ok {
		return
	}
	sess.State = state
	if state.Terminal() && sess.CompletedAt == nil {
		t := s.now()
		sess.CompletedAt = &t
	}
}

// Announce records that a participant has been seen, without a result yet.
// No-op if the meeting is unknown or the participant already has a result.
func (s *Store) Announce(meetingID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[meetingID]
	if !ok {
		return
	}
	if _, ok := sess.Participants[participantID]; !ok {
		sess.Participants[participantID] = nil
	}
}

// SetResult records a participant's terminal outcome, overwriting any prior
// result (retry support). No-op if the meeting is unknown.
func (s *Store) SetResult(meetingID, participantID string, result *Result) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[meetingID]
	if !ok {
		return
	}
	sess.Participants[participantID] = result
}

// ClearResult drops a participant's recorded result, returning them to the
// announced-but-pending state. Used when a retry starts a fresh pipeline.
func (s *Store) ClearResult(meetingID, participantID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[meetingID]
	if !ok {
		return
	}
	if _, ok := sess.Participants[participantID]; ok {
		sess.Participants[participantID] = nil
	}
}

// GetSession returns a deep copy of the session status, or nil if unknown.
func (s *Store) GetSession(meetingID string) *SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[meetingID]
	if !ok {
		return nil
	}
	out := &SessionStatus{
		MeetingID:    sess.MeetingID,
		State:        sess.State,
		Participants: make(map[string]*Result, len(sess.Participants)),
		StartedAt:    sess.StartedAt,
	}
	if sess.CompletedAt != nil {
		t := *sess.CompletedAt
		out.CompletedAt = &t
	}
	for id, r := range sess.Participants {
		if r == nil {
			out.Participants[id] = nil
			continue
		}
		cp := *r
		out.Participants[id] = &cp
	}
	return out
}

// CleanupSession removes a session entirely. Terminal store entries normally
// persist after stop; this exists for operators reclaiming memory.
func (s *Store) CleanupSession(meetingID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, meetingID)
}

// Len returns the number of tracked sessions (active and terminal).
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
