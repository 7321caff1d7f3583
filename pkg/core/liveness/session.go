package liveness

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/core/stream"
)

// sessionNotifier is the narrow surface a session uses to report a fatal
// stream failure back to its owner.
type sessionNotifier interface {
	sessionFailed(meetingID, reason string)
}

// session binds one meeting's stream connection to its participant
// pipelines. It implements stream.Handler: every inbound stream event lands
// here and is fanned out to the owning pipeline, created lazily on the
// first byte when the source never announced the participant.
type session struct {
	meetingID string
	desc      stream.Descriptor
	source    stream.Source
	store     *results.Store
	scorer    Scorer
	observer  *Observer
	notifier  sessionNotifier
	cfg       PipelineConfig
	decoder   Decoder
	logger    *slog.Logger
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	pipelines map[string]*pipeline
	closed    bool
	wg        sync.WaitGroup

	closeOnce sync.Once
}

func newSession(
	desc stream.Descriptor,
	source stream.Source,
	store *results.Store,
	scorer Scorer,
	observer *Observer,
	notifier sessionNotifier,
	cfg PipelineConfig,
	decoder Decoder,
	logger *slog.Logger,
	now func() time.Time,
) *session {
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		meetingID: desc.MeetingID,
		desc:      desc,
		source:    source,
		store:     store,
		scorer:    scorer,
		observer:  observer,
		notifier:  notifier,
		cfg:       cfg,
		decoder:   decoder,
		logger:    logger,
		now:       now,
		ctx:       ctx,
		cancel:    cancel,
		pipelines: make(map[string]*pipeline),
	}
}

// start opens the stream connection. Events arrive on the Handler methods
// from the source's read loop after this returns.
func (s *session) start(ctx context.Context) error {
	return s.source.Connect(ctx, s)
}

// close releases the stream connection and cancels every live pipeline.
// Pipelines not yet done are discarded without a result record. Idempotent.
func (s *session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pipelines := make([]*pipeline, 0, len(s.pipelines))
		for _, p := range s.pipelines {
			pipelines = append(pipelines, p)
		}
		s.mu.Unlock()

		_ = s.source.Close()
		for _, p := range pipelines {
			p.stop()
		}
		s.cancel()
	})
}

// wait blocks until every pipeline goroutine has returned or the context
// expires.
func (s *session) wait(ctx context.Context) bool {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.wg.Wait()
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// retryParticipant discards the participant's pipeline state and starts a
// fresh accumulation cycle with progress reset to zero. Returns false when
// the session is already closed.
func (s *session) retryParticipant(participantID string) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	old := s.pipelines[participantID]
	delete(s.pipelines, participantID)
	s.mu.Unlock()

	if old != nil {
		old.stop()
	}
	s.store.ClearResult(s.meetingID, participantID)

	name := ""
	if old != nil {
		name = old.name
	}
	s.spawnPipeline(participantID, name)
	s.logger.Info("participant retry", "meeting", s.meetingID, "participant", participantID)
	return true
}

// OnJoinConfirm implements stream.Handler.
func (s *session) OnJoinConfirm(statusCode int) {
	if statusCode != 0 {
		s.notifier.sessionFailed(s.meetingID, fmt.Sprintf("stream join rejected: status=%d", statusCode))
		return
	}
	s.logger.Info("stream joined", "meeting", s.meetingID)
	s.observer.stage(s.logger, s.meetingID, "", StageConnected)
}

// OnParticipantJoin implements stream.Handler.
func (s *session) OnParticipantJoin(participantID, name string) {
	if participantID == stream.SystemParticipantID {
		return
	}
	s.ensurePipeline(participantID, name)
}

// OnRawData implements stream.Handler. Data for the system sentinel stream
// is dropped; anything else routes to the owning pipeline, creating it on
// the first byte.
func (s *session) OnRawData(data []byte, participantID, name string, timestampMs int64) {
	if participantID == stream.SystemParticipantID {
		return
	}
	p := s.ensurePipeline(participantID, name)
	if p != nil {
		p.feed(data, timestampMs)
	}
}

// OnLeave implements stream.Handler.
func (s *session) OnLeave(reasonCode int) {
	s.notifier.sessionFailed(s.meetingID, fmt.Sprintf("stream left: reason=%d", reasonCode))
}

// OnSessionUpdate implements stream.Handler.
func (s *session) OnSessionUpdate(opCode int) {
	if opCode == stream.SessionUpdateStopped {
		s.notifier.sessionFailed(s.meetingID, "stream session stopped")
		return
	}
	s.logger.Debug("stream session update", "meeting", s.meetingID, "op", opCode)
}

func (s *session) ensurePipeline(participantID, name string) *pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if p, ok := s.pipelines[participantID]; ok {
		return p
	}
	return s.spawnPipelineLocked(participantID, name)
}

func (s *session) spawnPipeline(participantID, name string) *pipeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return s.spawnPipelineLocked(participantID, name)
}

func (s *session) spawnPipelineLocked(participantID, name string) *pipeline {
	p := newPipeline(s.ctx, s.meetingID, participantID, name,
		s.cfg, s.newPolicy(), s.store, s.scorer, s.observer, s.logger, s.now)
	s.pipelines[participantID] = p
	s.store.Announce(s.meetingID, participantID)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		p.run()
	}()

	s.logger.Info("participant pipeline started",
		"meeting", s.meetingID, "participant", participantID, "name", name)
	return p
}

// newPolicy picks the accumulation policy from the stream codec: raw H.264
// goes through the time-window batch decode, pre-decoded stills through the
// quality-filtered collector.
func (s *session) newPolicy() framePolicy {
	if s.desc.Codec == stream.CodecPNG {
		return NewCollector(s.cfg, s.now)
	}
	return NewAccumulator(s.cfg, s.decoder, s.now)
}
