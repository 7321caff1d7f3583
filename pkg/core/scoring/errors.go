package scoring

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
)

// ErrorType categorizes scoring API failures.
type ErrorType string

const (
	ErrAuthentication ErrorType = "authentication_error"
	ErrCredits        ErrorType = "credits_error"
	ErrInvalidRequest ErrorType = "invalid_request_error"
	ErrRateLimit      ErrorType = "rate_limit_error"
	ErrAPI            ErrorType = "api_error"
	ErrConnection     ErrorType = "connection_error"
)

// Error is a typed scoring API error. Code is the machine-readable value
// recorded verbatim in participant results.
type Error struct {
	Type       ErrorType `json:"type"`
	Code       string    `json:"code"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	RetryAfter *int      `json:"retry_after,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("scoring: %s: %s (code: %s)", e.Type, e.Message, e.Code)
}

// IsRetryable reports whether another attempt may succeed. 401/402/422 are
// terminal; rate limits, 5xx and transport failures are retried.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrRateLimit, ErrAPI, ErrConnection:
		return true
	default:
		return false
	}
}

type apiError struct {
	Detail     string `json:"detail"`
	RetryAfter any    `json:"retry_after"`
}

func parseError(resp *http.Response) *Error {
	body, _ := io.ReadAll(resp.Body)
	var parsed apiError
	_ = json.Unmarshal(body, &parsed)
	detail := parsed.Detail
	if detail == "" {
		detail = http.StatusText(resp.StatusCode)
	}

	out := &Error{Message: detail, StatusCode: resp.StatusCode}
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		out.Type, out.Code = ErrAuthentication, "invalid_key"
	case http.StatusPaymentRequired:
		out.Type, out.Code = ErrCredits, "insufficient_credits"
	case http.StatusUnprocessableEntity:
		out.Type, out.Code = ErrInvalidRequest, "invalid_request"
	case http.StatusTooManyRequests:
		out.Type, out.Code = ErrRateLimit, "rate_limit_exceeded"
		if ra := parseRetryAfter(parsed.RetryAfter); ra > 0 {
			out.RetryAfter = &ra
		}
	default:
		out.Type, out.Code = ErrAPI, "api_error"
	}
	return out
}

func parseRetryAfter(v any) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case string:
		n, err := strconv.Atoi(t)
		if err != nil {
			return 0
		}
		return n
	default:
		return 0
	}
}
