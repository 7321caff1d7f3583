package results

import (
	"sync"
	"testing"
	"time"
)

func TestCreateSession_Idempotent(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")
	s.SetResult("m1", "7", &Result{MeetingID: "m1", ParticipantID: "7", Verdict: "live"})

	s.CreateSession("m1")

	got := s.GetSession("m1")
	if got == nil {
		t.Fatal("expected session")
	}
	if got.Participants["7"] == nil || got.Participants["7"].Verdict != "live" {
		t.Fatalf("duplicate create clobbered results: %+v", got.Participants["7"])
	}
}

func TestSetSessionState_CompletedAtSetOnce(t *testing.T) {
	s := NewStore()
	t0 := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := t0
	s.now = func() time.Time { return clock }

	s.CreateSession("m1")
	s.SetSessionState("m1", StateProcessing)
	if got := s.GetSession("m1"); got.CompletedAt != nil {
		t.Fatalf("CompletedAt set on non-terminal state")
	}

	clock = t0.Add(5 * time.Second)
	s.SetSessionState("m1", StateComplete)
	first := s.GetSession("m1").CompletedAt
	if first == nil || !first.Equal(t0.Add(5*time.Second)) {
		t.Fatalf("CompletedAt = %v, want %v", first, t0.Add(5*time.Second))
	}

	clock = t0.Add(60 * time.Second)
	s.SetSessionState("m1", StateError)
	second := s.GetSession("m1").CompletedAt
	if !second.Equal(*first) {
		t.Fatalf("CompletedAt changed on second terminal transition: %v -> %v", first, second)
	}
}

func TestAnnounce_DoesNotClobberResult(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")
	s.SetResult("m1", "7", &Result{MeetingID: "m1", ParticipantID: "7", Verdict: "live"})

	s.Announce("m1", "7")

	if got := s.GetSession("m1").Participants["7"]; got == nil || got.Verdict != "live" {
		t.Fatalf("announce clobbered result: %+v", got)
	}
}

func TestSetResult_OverwritesForRetry(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")
	s.SetResult("m1", "7", &Result{MeetingID: "m1", ParticipantID: "7", Error: "no_data"})
	s.ClearResult("m1", "7")

	got := s.GetSession("m1")
	if r, ok := got.Participants["7"]; !ok || r != nil {
		t.Fatalf("ClearResult should leave participant announced with nil result, got %+v", r)
	}

	s.SetResult("m1", "7", &Result{MeetingID: "m1", ParticipantID: "7", Verdict: "live"})
	if r := s.GetSession("m1").Participants["7"]; r == nil || r.Verdict != "live" {
		t.Fatalf("retry result not recorded: %+v", r)
	}
}

func TestGetSession_ReturnsDeepCopy(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")
	s.SetResult("m1", "7", &Result{MeetingID: "m1", ParticipantID: "7", Verdict: "live"})

	snap := s.GetSession("m1")
	snap.Participants["7"].Verdict = "fake"
	snap.State = StateError

	fresh := s.GetSession("m1")
	if fresh.Participants["7"].Verdict != "live" {
		t.Fatalf("snapshot mutation leaked into store")
	}
	if fresh.State == StateError {
		t.Fatalf("snapshot state mutation leaked into store")
	}
}

func TestGetSession_UnknownMeetingIsNil(t *testing.T) {
	s := NewStore()
	if got := s.GetSession("nope"); got != nil {
		t.Fatalf("expected nil, got %+v", got)
	}
}

func TestCleanupSession(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")
	s.CreateSession("m2")
	s.CleanupSession("m1")
	if s.Len() != 1 {
		t.Fatalf("Len=%d, want 1", s.Len())
	}
	if s.GetSession("m1") != nil {
		t.Fatalf("m1 should be gone")
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s := NewStore()
	s.CreateSession("m1")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.Announce("m1", "p")
				s.SetResult("m1", "p", &Result{MeetingID: "m1", ParticipantID: "p"})
				_ = s.GetSession("m1")
			}
		}(i)
	}
	wg.Wait()

	if got := s.GetSession("m1"); got == nil || got.Participants["p"] == nil {
		t.Fatalf("expected participant result after concurrent writes")
	}
}

func TestResultPassed(t *testing.T) {
	if (&Result{Verdict: "live"}).Passed() != true {
		t.Fatal("live should pass")
	}
	if (&Result{Verdict: "fake"}).Passed() {
		t.Fatal("fake should not pass")
	}
	var nilResult *Result
	if nilResult.Passed() {
		t.Fatal("nil should not pass")
	}
}
