package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/liveness"
	"github.com/verilive/livenessd/pkg/core/stream"
	"github.com/verilive/livenessd/pkg/gateway/config"
	"github.com/verilive/livenessd/pkg/gateway/mw"
)

const (
	eventURLValidation = "endpoint.url_validation"
	eventStreamStarted = "meeting.rtms_started"
	eventStreamStopped = "meeting.rtms_stopped"
)

// WebhookHandler receives platform webhook deliveries. The signature covers
// the raw body bytes, so the body is read before any JSON parsing.
type WebhookHandler struct {
	Config       config.Config
	Orchestrator *liveness.Orchestrator
	Logger       *slog.Logger
}

type webhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		PlainToken string `json:"plainToken"`
		Object     struct {
			MeetingUUID  string          `json:"meeting_uuid"`
			RTMSStreamID string          `json:"rtms_stream_id"`
			ServerURLs   json.RawMessage `json:"server_urls"`
		} `json:"object"`
	} `json:"payload"`
}

func (h WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	if r.Method != http.MethodPost {
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrInvalidRequest, Message: "method not allowed", Code: "method_not_allowed"}, http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}

	var body webhookBody
	if err := json.Unmarshal(raw, &body); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid JSON body"), http.StatusBadRequest)
		return
	}

	// The validation challenge fires during webhook registration, before the
	// endpoint is fully set up, and carries no usable signature.
	if body.Event == eventURLValidation {
		enc := hmacHex(h.Config.ZoomWebhookSecret, body.Payload.PlainToken)
		writeJSON(w, http.StatusOK, map[string]string{
			"plainToken":     body.Payload.PlainToken,
			"encryptedToken": enc,
		})
		return
	}

	timestamp := r.Header.Get("X-Zoom-Request-Timestamp")
	signature := r.Header.Get("X-Zoom-Signature")
	if !ValidSignature(raw, timestamp, signature, h.Config.ZoomWebhookSecret) {
		h.Logger.Warn("rejected webhook with invalid signature", "event", body.Event)
		writeCoreErrorJSON(w, reqID, &core.Error{Type: core.ErrAuthentication, Message: "invalid signature"}, http.StatusUnauthorized)
		return
	}

	switch body.Event {
	case eventStreamStarted:
		h.handleStarted(body)
	case eventStreamStopped:
		h.Logger.Info("stream stopped", "meeting", body.Payload.Object.MeetingUUID)
		h.Orchestrator.StopSession(body.Payload.Object.MeetingUUID)
	default:
		// Forward-compatible: acknowledge events we do not handle.
		h.Logger.Debug("unhandled webhook event", "event", body.Event)
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h WebhookHandler) handleStarted(body webhookBody) {
	obj := body.Payload.Object
	desc := stream.Descriptor{
		MeetingID:  obj.MeetingUUID,
		StreamID:   obj.RTMSStreamID,
		ServerURLs: parseServerURLs(obj.ServerURLs),
		Codec:      stream.CodecH264,
	}

	credential := ""
	if h.Config.RequireOptIn {
		cred, ok := h.Orchestrator.ConsumePendingSession(desc.MeetingID)
		if !ok {
			h.Logger.Info("no pending registration, ignoring stream start", "meeting", desc.MeetingID)
			return
		}
		credential = cred
	}

	// The platform expects a fast acknowledgement; connect in the background.
	go func() {
		if err := h.Orchestrator.StartSession(context.Background(), desc, credential); err != nil {
			h.Logger.Error("webhook session start failed", "meeting", desc.MeetingID, "error", err)
		}
	}()
	h.Logger.Info("stream started", "meeting", desc.MeetingID, "stream", desc.StreamID)
}

// parseServerURLs accepts either a JSON string or an array of strings; some
// platform payloads deliver a single URL unwrapped.
func parseServerURLs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err == nil {
		return many
	}
	return nil
}

// ValidSignature checks the webhook HMAC: the platform signs
// "v0:{timestamp}:{raw body}" with the shared secret and prefixes "v0=".
func ValidSignature(rawBody []byte, timestamp, signature, secret string) bool {
	msg := "v0:" + timestamp + ":" + string(rawBody)
	expected := "v0=" + hmacHex(secret, msg)
	return hmac.Equal([]byte(expected), []byte(signature))
}

func hmacHex(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}
