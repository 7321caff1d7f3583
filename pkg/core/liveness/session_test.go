package liveness

import (
	"context"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/core/stream"
)

// stubSource is an inert stream source; tests drive the session through its
// Handler methods directly.
type stubSource struct {
	connectErr error
	closed     atomic.Bool
}

func (s *stubSource) Connect(_ context.Context, _ stream.Handler) error { return s.connectErr }
func (s *stubSource) Close() error {
	s.closed.Store(true)
	return nil
}

type recordingNotifier struct {
	failures chan string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{failures: make(chan string, 4)}
}

func (n *recordingNotifier) sessionFailed(meetingID, reason string) {
	n.failures <- meetingID + ": " + reason
}

func (n *recordingNotifier) expectFailure(t *testing.T) string {
	t.Helper()
	select {
	case f := <-n.failures:
		return f
	case <-time.After(time.Second):
		t.Fatalf("no session failure reported")
		return ""
	}
}

func newTestSession(t *testing.T) (*session, *stubSource, *recordingNotifier, *results.Store) {
	t.Helper()
	store := results.NewStore()
	store.CreateSession("m1")

	src := &stubSource{}
	notifier := newRecordingNotifier()
	desc := stream.Descriptor{MeetingID: "m1", StreamID: "s1", Codec: stream.CodecPNG}
	sess := newSession(desc, src, store, &stubScorer{}, &Observer{}, notifier,
		pipelineConfig(), nil, slog.Default(), nil)
	t.Cleanup(func() {
		sess.close()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		sess.wait(ctx)
	})
	return sess, src, notifier, store
}

func (s *session) pipelineCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pipelines)
}

func TestSession_IgnoresSystemParticipant(t *testing.T) {
	sess, _, _, _ := newTestSession(t)

	sess.OnRawData([]byte{1}, stream.SystemParticipantID, "system", 0)
	sess.OnParticipantJoin(stream.SystemParticipantID, "system")
	if n := sess.pipelineCount(); n != 0 {
		t.Fatalf("pipelines=%d, want 0 for the system stream", n)
	}
}

func TestSession_LazyPipelineOnFirstData(t *testing.T) {
	sess, _, _, store := newTestSession(t)

	sess.OnRawData([]byte{1}, "42", "Alice", 0)
	if n := sess.pipelineCount(); n != 1 {
		t.Fatalf("pipelines=%d, want 1", n)
	}
	// A second chunk routes to the existing pipeline.
	sess.OnRawData([]byte{2}, "42", "Alice", 0)
	if n := sess.pipelineCount(); n != 1 {
		t.Fatalf("pipelines=%d after second chunk, want 1", n)
	}

	snap := store.GetSession("m1")
	if _, ok := snap.Participants["42"]; !ok {
		t.Fatalf("participant 42 not announced in the store")
	}
}

func TestSession_JoinAnnouncesBeforeData(t *testing.T) {
	sess, _, _, store := newTestSession(t)

	sess.OnParticipantJoin("7", "Bob")
	if n := sess.pipelineCount(); n != 1 {
		t.Fatalf("pipelines=%d, want 1", n)
	}
	if _, ok := store.GetSession("m1").Participants["7"]; !ok {
		t.Fatalf("participant 7 not announced")
	}
}

func TestSession_JoinRejectedNotifies(t *testing.T) {
	sess, _, notifier, _ := newTestSession(t)

	sess.OnJoinConfirm(5)
	if f := notifier.expectFailure(t); f == "" {
		t.Fatalf("empty failure reason")
	}
}

func TestSession_LeaveNotifies(t *testing.T) {
	sess, _, notifier, _ := newTestSession(t)

	sess.OnLeave(3)
	notifier.expectFailure(t)
}

func TestSession_StoppedUpdateNotifies(t *testing.T) {
	sess, _, notifier, _ := newTestSession(t)

	sess.OnSessionUpdate(stream.SessionUpdatePaused)
	select {
	case f := <-notifier.failures:
		t.Fatalf("pause reported as failure: %s", f)
	case <-time.After(50 * time.Millisecond):
	}

	sess.OnSessionUpdate(stream.SessionUpdateStopped)
	notifier.expectFailure(t)
}

func TestSession_RetryParticipant(t *testing.T) {
	sess, _, _, store := newTestSession(t)

	sess.OnRawData([]byte{1}, "42", "Alice", 0)
	sess.mu.Lock()
	first := sess.pipelines["42"]
	sess.mu.Unlock()

	store.SetResult("m1", "42", &results.Result{
		MeetingID: "m1", ParticipantID: "42", Error: "no_data",
	})

	if !sess.retryParticipant("42") {
		t.Fatalf("retryParticipant() = false on an open session")
	}
	sess.mu.Lock()
	second := sess.pipelines["42"]
	sess.mu.Unlock()

	if second == nil || second == first {
		t.Fatalf("retry did not start a fresh pipeline")
	}
	if first.generation == second.generation {
		t.Fatalf("retry reused the pipeline generation")
	}
	if r := store.GetSession("m1").Participants["42"]; r != nil {
		t.Fatalf("retry did not clear the stale result: %+v", r)
	}
}

func TestSession_CloseStopsEverything(t *testing.T) {
	sess, src, _, _ := newTestSession(t)

	sess.OnRawData([]byte{1}, "42", "Alice", 0)
	sess.close()

	if !src.closed.Load() {
		t.Fatalf("source not closed")
	}
	if sess.ensurePipeline("99", "") != nil {
		t.Fatalf("pipeline created after close")
	}
	if sess.retryParticipant("42") {
		t.Fatalf("retryParticipant() = true on a closed session")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if !sess.wait(ctx) {
		t.Fatalf("pipelines did not drain after close")
	}
}
