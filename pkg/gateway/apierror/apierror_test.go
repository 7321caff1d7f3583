package apierror

import (
	"context"
	"testing"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/scoring"
)

func TestFromError_ContextCanceled_Is408Cancelled(t *testing.T) {
	ce, status := FromError(context.Canceled, "req_test")
	if status != 408 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrConnectivity {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "cancelled" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RequestID != "req_test" {
		t.Fatalf("request_id=%q", ce.RequestID)
	}
}

func TestFromError_Capacity_Is429(t *testing.T) {
	ce, status := FromError(core.NewCapacityError("too many sessions"), "req_test")
	if status != 429 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrCapacity {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != core.CodeTooManySessions {
		t.Fatalf("code=%q", ce.Code)
	}
}

func TestFromError_NotFound_Is404(t *testing.T) {
	_, status := FromError(core.NewNotFoundError("no such meeting"), "req_test")
	if status != 404 {
		t.Fatalf("status=%d", status)
	}
}

func TestFromError_ScoringError_KeepsCode(t *testing.T) {
	after := 3
	ce, status := FromError(&scoring.Error{
		Type:       scoring.ErrRateLimit,
		Code:       "rate_limit_exceeded",
		Message:    "slow down",
		RetryAfter: &after,
	}, "req_test")
	if status != 502 {
		t.Fatalf("status=%d", status)
	}
	if ce.Type != core.ErrScoring {
		t.Fatalf("type=%q", ce.Type)
	}
	if ce.Code != "rate_limit_exceeded" {
		t.Fatalf("code=%q", ce.Code)
	}
	if ce.RetryAfter == nil || *ce.RetryAfter != 3 {
		t.Fatalf("retry_after=%v", ce.RetryAfter)
	}
}

func TestFromError_Unknown_Is500(t *testing.T) {
	ce, status := FromError(context.DeadlineExceeded, "req_test")
	if status != 504 {
		t.Fatalf("status=%d", status)
	}
	if ce.Message != "request timeout" {
		t.Fatalf("message=%q", ce.Message)
	}
}
