package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/verilive/livenessd/pkg/core/media"
)

func testFrames(n int) []media.EncodedFrame {
	frames := make([]media.EncodedFrame, n)
	for i := range frames {
		frames[i] = media.EncodedFrame{Index: i, Data: []byte{0x89, byte(i)}}
	}
	return frames
}

func noSleep(c *Client) {
	c.sleep = func(ctx context.Context, d time.Duration) error { return nil }
}

func TestSubmit_Success(t *testing.T) {
	var gotKey string
	var gotReq checkCropsRequest
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/fast-check-crops" {
			t.Errorf("path=%q", r.URL.Path)
		}
		gotKey = r.Header.Get("X-API-Key")
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"verdict":    "live",
			"score":      87.5,
			"real_score": 0.91,
			"fake_score": 0.09,
			"confidence": 0.95,
			"session_id": "sub_123",
		})
	}))
	defer ts.Close()

	c := NewClient("key-1", ts.URL, ts.Client())
	resp, err := c.Submit(context.Background(), testFrames(RequiredFrames), Options{SessionID: "m1"})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if gotKey != "key-1" {
		t.Fatalf("X-API-Key=%q", gotKey)
	}
	if len(gotReq.Pixels) != RequiredFrames {
		t.Fatalf("pixels len=%d, want %d", len(gotReq.Pixels), RequiredFrames)
	}
	if gotReq.SessionID != "m1" {
		t.Fatalf("session_id=%q", gotReq.SessionID)
	}
	if resp.Verdict != "live" || resp.Score != 87.5 || resp.SubmissionID != "sub_123" {
		t.Fatalf("resp=%+v", resp)
	}
}

func TestSubmit_WrongFrameCount(t *testing.T) {
	c := NewClient("key", "http://unused.invalid", nil)
	_, err := c.Submit(context.Background(), testFrames(9), Options{})
	var scErr *Error
	if !errors.As(err, &scErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if scErr.Code != "invalid_request" {
		t.Fatalf("code=%q", scErr.Code)
	}
}

func TestSubmit_NonRetryableStatuses(t *testing.T) {
	cases := []struct {
		status   int
		wantCode string
	}{
		{http.StatusUnauthorized, "invalid_key"},
		{http.StatusPaymentRequired, "insufficient_credits"},
		{http.StatusUnprocessableEntity, "invalid_request"},
	}
	for _, tc := range cases {
		attempts := 0
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			attempts++
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"detail":"nope"}`))
		}))
		c := NewClient("key", ts.URL, ts.Client())
		noSleep(c)
		_, err := c.Submit(context.Background(), testFrames(RequiredFrames), Options{})
		ts.Close()

		var scErr *Error
		if !errors.As(err, &scErr) {
			t.Fatalf("status %d: error = %v, want *Error", tc.status, err)
		}
		if scErr.Code != tc.wantCode {
			t.Fatalf("status %d: code=%q, want %q", tc.status, scErr.Code, tc.wantCode)
		}
		if attempts != 1 {
			t.Fatalf("status %d: attempts=%d, want 1 (no retries)", tc.status, attempts)
		}
	}
}

func TestSubmit_RetriesRateLimitThenSucceeds(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"retry_after": 1}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"verdict": "fake", "score": 12.0})
	}))
	defer ts.Close()

	var slept []time.Duration
	c := NewClient("key", ts.URL, ts.Client())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	resp, err := c.Submit(context.Background(), testFrames(RequiredFrames), Options{})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if resp.Verdict != "fake" {
		t.Fatalf("verdict=%q", resp.Verdict)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d, want 3", attempts)
	}
	for i, d := range slept {
		if d != time.Second {
			t.Fatalf("sleep[%d]=%v, want 1s from retry_after", i, d)
		}
	}
}

func TestSubmit_ExhaustsRetriesOnServerError(t *testing.T) {
	attempts := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	noSleep(c)

	_, err := c.Submit(context.Background(), testFrames(RequiredFrames), Options{})
	var scErr *Error
	if !errors.As(err, &scErr) {
		t.Fatalf("error = %v, want *Error", err)
	}
	if scErr.Code != "api_error" {
		t.Fatalf("code=%q", scErr.Code)
	}
	if attempts != 3 {
		t.Fatalf("attempts=%d, want 3", attempts)
	}
}

func TestSubmit_ContextCancelledDuringBackoff(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	c := NewClient("key", ts.URL, ts.Client())
	c.sleep = func(ctx context.Context, d time.Duration) error { return context.Canceled }

	_, err := c.Submit(context.Background(), testFrames(RequiredFrames), Options{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestParseRetryAfter_StringAndNumber(t *testing.T) {
	for _, tc := range []struct {
		in   any
		want int
	}{
		{float64(7), 7},
		{"3", 3},
		{"bogus", 0},
		{nil, 0},
	} {
		if got := parseRetryAfter(tc.in); got != tc.want {
			t.Fatalf("parseRetryAfter(%v)=%d, want %d", tc.in, got, tc.want)
		}
	}
}
