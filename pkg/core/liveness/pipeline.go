package liveness

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/media"
	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/core/scoring"
)

// Scorer is the scoring collaborator as the pipelines consume it.
type Scorer interface {
	Submit(ctx context.Context, frames []media.EncodedFrame, opts scoring.Options) (*scoring.Response, error)
}

type inboundChunk struct {
	data        []byte
	timestampMs int64
}

// pipeline drives one participant from first byte to terminal result. The
// done flag is acquired exactly once, by whichever of batch-readiness and
// timeout fires first; submission and timeout are therefore mutually
// exclusive. The cancelled flag gates result writes so an in-flight decode
// or submission finishing after session close cannot mutate the store.
type pipeline struct {
	meetingID     string
	participantID string
	name          string
	generation    string

	cfg      PipelineConfig
	policy   framePolicy
	chunks   chan inboundChunk
	store    *results.Store
	scorer   Scorer
	observer *Observer
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	done      atomic.Bool
	cancelled atomic.Bool

	started time.Time
	now     func() time.Time
}

func newPipeline(
	parent context.Context,
	meetingID, participantID, name string,
	cfg PipelineConfig,
	policy framePolicy,
	store *results.Store,
	scorer Scorer,
	observer *Observer,
	logger *slog.Logger,
	now func() time.Time,
) *pipeline {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(parent)
	return &pipeline{
		meetingID:     meetingID,
		participantID: participantID,
		name:          name,
		generation:    uuid.NewString(),
		cfg:           cfg,
		policy:        policy,
		chunks:        make(chan inboundChunk, cfg.ChunkQueueSize),
		store:         store,
		scorer:        scorer,
		observer:      observer,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		started:       now(),
		now:           now,
	}
}

// feed hands a chunk to the pipeline without blocking the stream read loop.
// Chunks beyond the queue bound are dropped.
func (p *pipeline) feed(data []byte, timestampMs int64) {
	select {
	case p.chunks <- inboundChunk{data: data, timestampMs: timestampMs}:
	default:
		p.logger.Debug("chunk queue full, dropping",
			"meeting", p.meetingID, "participant", p.participantID)
	}
}

// stop cancels the pipeline. A pipeline that already acquired done keeps its
// result; one still accumulating is discarded without a result record.
func (p *pipeline) stop() {
	p.cancelled.Store(true)
	p.cancel()
}

// run is the pipeline goroutine: drain inbound chunks and poll the policy
// predicates at a fixed interval until one side wins the done flag.
func (p *pipeline) run() {
	defer p.cancel()

	p.observer.stage(p.logger, p.meetingID, p.participantID, StageRecording)
	_, target := p.policy.Progress()
	p.observer.progress(p.logger, p.meetingID, p.participantID, 0, target)

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			p.logger.Debug("pipeline cancelled",
				"meeting", p.meetingID, "participant", p.participantID)
			return

		case chunk := <-p.chunks:
			p.policy.Add(chunk.data, chunk.timestampMs)

		case <-ticker.C:
			elapsed, target := p.policy.Progress()
			p.observer.progress(p.logger, p.meetingID, p.participantID, elapsed, target)

			if p.policy.Ready() {
				if !p.done.CompareAndSwap(false, true) {
					return
				}
				p.finish()
				return
			}
			if p.policy.TimedOut() {
				if !p.done.CompareAndSwap(false, true) {
					return
				}
				err := p.policy.TimeoutError()
				p.logger.Warn("pipeline timed out",
					"meeting", p.meetingID, "participant", p.participantID, "error", err)
				p.storeError(err)
				return
			}
		}
	}
}

// finish decodes the batch and submits it. It runs on a context detached
// from cancellation so an in-flight decode or submission completes; the
// result write is gated on the cancelled flag instead.
func (p *pipeline) finish() {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.OverallTimeout)
	defer cancel()

	p.observer.stage(p.logger, p.meetingID, p.participantID, StageDecoding)
	frames, err := p.policy.Produce(ctx)
	if err != nil {
		p.logger.Warn("batch production failed",
			"meeting", p.meetingID, "participant", p.participantID, "error", err)
		p.storeError(err)
		return
	}

	p.observer.stage(p.logger, p.meetingID, p.participantID, StageAnalyzing)
	resp, err := p.scorer.Submit(ctx, frames, scoring.Options{
		SessionID: p.meetingID,
		Source:    "live-call",
	})
	if err != nil {
		p.logger.Error("scoring submission failed",
			"meeting", p.meetingID, "participant", p.participantID,
			"code", errorCode(err), "error", err)
		p.storeError(err)
		return
	}

	result := &results.Result{
		MeetingID:     p.meetingID,
		ParticipantID: p.participantID,
		Verdict:       resp.Verdict,
		Score:         resp.Score,
		RealScore:     resp.RealScore,
		FakeScore:     resp.FakeScore,
		Confidence:    resp.Confidence,
		ProcessingMs:  p.now().Sub(p.started).Milliseconds(),
		FramesSeen:    len(frames),
		SubmissionID:  resp.SubmissionID,
		CompletedAt:   p.now(),
	}
	p.storeResult(result)
	p.logger.Info("liveness result",
		"meeting", p.meetingID, "participant", p.participantID,
		"verdict", resp.Verdict, "score", resp.Score)
}

func (p *pipeline) storeError(err error) {
	p.storeResult(&results.Result{
		MeetingID:     p.meetingID,
		ParticipantID: p.participantID,
		ProcessingMs:  p.now().Sub(p.started).Milliseconds(),
		CompletedAt:   p.now(),
		Error:         errorCode(err),
	})
}

// errorCode maps any pipeline failure to the machine-readable code recorded
// in the result store. Scoring collaborator codes pass through verbatim.
func errorCode(err error) string {
	var scErr *scoring.Error
	if errors.As(err, &scErr) && scErr != nil {
		return scErr.Code
	}
	return core.CodeOf(err)
}

func (p *pipeline) storeResult(result *results.Result) {
	if p.cancelled.Load() {
		p.logger.Debug("discarding result for cancelled pipeline",
			"meeting", p.meetingID, "participant", p.participantID)
		return
	}
	p.store.SetResult(p.meetingID, p.participantID, result)
	p.observer.result(p.logger, p.meetingID, p.participantID, result)
}
