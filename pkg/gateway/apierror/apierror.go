package apierror

import (
	"context"
	"errors"
	"net/http"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/scoring"
)

type Envelope struct {
	Error *core.Error `json:"error"`
}

func FromError(err error, requestID string) (*core.Error, int) {
	if err == nil {
		return nil, http.StatusOK
	}

	// Context timeouts/cancellation.
	if errors.Is(err, context.DeadlineExceeded) {
		return &core.Error{
			Type:      core.ErrConnectivity,
			Message:   "request timeout",
			RequestID: requestID,
		}, http.StatusGatewayTimeout
	}
	if errors.Is(err, context.Canceled) {
		return &core.Error{
			Type:      core.ErrConnectivity,
			Message:   "request cancelled",
			Code:      "cancelled",
			RequestID: requestID,
		}, http.StatusRequestTimeout
	}

	// Already canonical.
	var coreErr *core.Error
	if errors.As(err, &coreErr) && coreErr != nil {
		out := *coreErr
		out.RequestID = requestID
		return &out, statusFromType(coreErr.Type)
	}

	// Scoring collaborator errors surface with their upstream code intact.
	var scoreErr *scoring.Error
	if errors.As(err, &scoreErr) && scoreErr != nil {
		return &core.Error{
			Type:       core.ErrScoring,
			Message:    scoreErr.Message,
			Code:       scoreErr.Code,
			RetryAfter: scoreErr.RetryAfter,
			RequestID:  requestID,
		}, http.StatusBadGateway
	}

	// Unknown errors: treat as internal (do not leak details by default).
	return &core.Error{
		Type:      core.ErrConnectivity,
		Message:   "internal error",
		RequestID: requestID,
	}, http.StatusInternalServerError
}

func statusFromType(t core.ErrorType) int {
	switch t {
	case core.ErrInvalidRequest:
		return http.StatusBadRequest
	case core.ErrAuthentication:
		return http.StatusUnauthorized
	case core.ErrNotFound:
		return http.StatusNotFound
	case core.ErrCapacity:
		return http.StatusTooManyRequests
	case core.ErrConnectivity:
		return http.StatusBadGateway
	case core.ErrScoring:
		return http.StatusBadGateway
	case core.ErrAccumulation, core.ErrDecode:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
