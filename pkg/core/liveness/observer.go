package liveness

import (
	"log/slog"
	"time"

	"github.com/verilive/livenessd/pkg/core/results"
)

// Stage labels a pipeline's position in its lifecycle, for observers.
type Stage string

const (
	StageConnected Stage = "connected"
	StageRecording Stage = "recording"
	StageDecoding  Stage = "decoding"
	StageAnalyzing Stage = "analyzing"
)

// Observer receives optional progress, stage, and result notifications.
// Every field may be nil. Callbacks run on pipeline goroutines; a panic
// inside one is recovered and logged, never allowed to corrupt orchestrator
// state.
type Observer struct {
	// OnProgress reports accumulation progress for a participant.
	// participantID is empty for session-level events.
	OnProgress func(meetingID, participantID string, elapsed, target time.Duration)
	// OnStage reports a lifecycle stage transition.
	OnStage func(meetingID, participantID string, stage Stage)
	// OnResult reports a participant's terminal outcome.
	OnResult func(meetingID, participantID string, result *results.Result)
}

func (o *Observer) progress(logger *slog.Logger, meetingID, participantID string, elapsed, target time.Duration) {
	if o == nil || o.OnProgress == nil {
		return
	}
	defer recoverObserver(logger, "progress")
	o.OnProgress(meetingID, participantID, elapsed, target)
}

func (o *Observer) stage(logger *slog.Logger, meetingID, participantID string, stage Stage) {
	if o == nil || o.OnStage == nil {
		return
	}
	defer recoverObserver(logger, "stage")
	o.OnStage(meetingID, participantID, stage)
}

func (o *Observer) result(logger *slog.Logger, meetingID, participantID string, result *results.Result) {
	if o == nil || o.OnResult == nil {
		return
	}
	defer recoverObserver(logger, "result")
	o.OnResult(meetingID, participantID, result)
}

func recoverObserver(logger *slog.Logger, hook string) {
	if v := recover(); v != nil && logger != nil {
		logger.Error("observer panic", "hook", hook, "panic", v)
	}
}
