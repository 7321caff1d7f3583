// Package scoring is the client for the remote liveness-scoring API. It
// submits one batch of face crops per participant and returns a structured
// verdict, mapping the API's failure modes onto a small set of
// machine-readable codes.
package scoring

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/verilive/livenessd/pkg/core/media"
)

const (
	defaultBaseURL = "https://api.moveris.com"
	checkCropsPath = "/api/v1/fast-check-crops"

	// RequiredFrames is the exact batch size the fast-check-crops endpoint
	// accepts.
	RequiredFrames = 10

	maxAttempts = 3
)

var retryDelays = [...]time.Duration{time.Second, 2 * time.Second}

// Response is the parsed scoring result for one submission.
type Response struct {
	Verdict      string  `json:"verdict"` // "live" | "fake"
	Score        float64 `json:"score"`   // 0-100 display score
	RealScore    float64 `json:"real_score"`
	FakeScore    float64 `json:"fake_score"`
	Confidence   float64 `json:"confidence"`
	SubmissionID string  `json:"session_id"`
}

// Options carry per-submission metadata.
type Options struct {
	SessionID string
	Source    string
}

// Client submits crop batches over HTTP.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewClient creates a scoring client. A nil httpClient falls back to a
// client with a 30s total timeout.
func NewClient(apiKey, baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: httpClient,
		sleep:      sleepCtx,
	}
}

type checkCropsRequest struct {
	Pixels    []string `json:"pixels"`
	SessionID string   `json:"session_id,omitempty"`
	Source    string   `json:"source,omitempty"`
}

// Submit sends exactly RequiredFrames crops and returns the verdict.
// Attempts are capped at three with 1s then 2s back-off; 429 honours the
// server's retry_after when present. 401/402/422 are never retried.
func (c *Client) Submit(ctx context.Context, frames []media.EncodedFrame, opts Options) (*Response, error) {
	if len(frames) != RequiredFrames {
		return nil, &Error{
			Type:    ErrInvalidRequest,
			Code:    "invalid_request",
			Message: fmt.Sprintf("fast-check-crops requires exactly %d frames, got %d", RequiredFrames, len(frames)),
		}
	}

	req := checkCropsRequest{
		Pixels:    make([]string, len(frames)),
		SessionID: opts.SessionID,
		Source:    opts.Source,
	}
	for i, f := range frames {
		req.Pixels[i] = base64.StdEncoding.EncodeToString(f.Data)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := c.post(ctx, body)
		if err == nil {
			return resp, nil
		}

		scErr, ok := err.(*Error)
		if ok && !scErr.IsRetryable() {
			return nil, scErr
		}
		lastErr = err

		if attempt == maxAttempts-1 {
			break
		}
		delay := retryDelays[min(attempt, len(retryDelays)-1)]
		if ok && scErr.RetryAfter != nil && *scErr.RetryAfter > 0 {
			delay = time.Duration(*scErr.RetryAfter) * time.Second
		}
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) post(ctx context.Context, body []byte) (*Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkCropsPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &Error{Type: ErrConnection, Code: "api_error", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, parseError(resp)
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	var out Response
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, &Error{Type: ErrAPI, Code: "api_error", Message: fmt.Sprintf("malformed response: %v", err)}
	}
	return &out, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
