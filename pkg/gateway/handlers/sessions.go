package handlers

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/liveness"
	"github.com/verilive/livenessd/pkg/core/stream"
	"github.com/verilive/livenessd/pkg/gateway/config"
	"github.com/verilive/livenessd/pkg/gateway/mw"
)

// StartSessionHandler handles POST /v1/sessions: an operator-initiated
// session start, bypassing the webhook path.
type StartSessionHandler struct {
	Config       config.Config
	Orchestrator *liveness.Orchestrator
	Logger       *slog.Logger
}

type startSessionRequest struct {
	MeetingUUID  string   `json:"meeting_uuid"`
	RTMSStreamID string   `json:"rtms_stream_id"`
	ServerURLs   []string `json:"server_urls"`
	Codec        string   `json:"codec,omitempty"`
	APIKey       string   `json:"api_key,omitempty"`
}

func (h StartSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}

	var req startSessionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid JSON body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.MeetingUUID) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("meeting_uuid is required"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.RTMSStreamID) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("rtms_stream_id is required"), http.StatusBadRequest)
		return
	}
	if len(req.ServerURLs) == 0 {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("server_urls is required"), http.StatusBadRequest)
		return
	}

	codec := stream.CodecH264
	switch req.Codec {
	case "", "h264":
	case "png":
		codec = stream.CodecPNG
	default:
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("codec must be h264 or png"), http.StatusBadRequest)
		return
	}

	desc := stream.Descriptor{
		MeetingID:  req.MeetingUUID,
		StreamID:   req.RTMSStreamID,
		ServerURLs: req.ServerURLs,
		Codec:      codec,
	}
	if err := h.Orchestrator.StartSession(r.Context(), desc, req.APIKey); err != nil {
		writeErr(w, reqID, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"meeting": desc.MeetingID,
	})
}

// StopSessionHandler handles DELETE /v1/sessions/{meeting}.
type StopSessionHandler struct {
	Orchestrator *liveness.Orchestrator
	Logger       *slog.Logger
}

func (h StopSessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	meetingID := r.PathValue("meeting")
	if meetingID == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("meeting is required"), http.StatusBadRequest)
		return
	}
	h.Orchestrator.StopSession(meetingID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "stopped",
		"meeting": meetingID,
	})
}

// RetryParticipantHandler handles
// POST /v1/sessions/{meeting}/participants/{participant}/retry.
type RetryParticipantHandler struct {
	Orchestrator *liveness.Orchestrator
	Logger       *slog.Logger
}

func (h RetryParticipantHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	meetingID := r.PathValue("meeting")
	participantID := r.PathValue("participant")
	if meetingID == "" || participantID == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("meeting and participant are required"), http.StatusBadRequest)
		return
	}
	if !h.Orchestrator.RetryParticipant(meetingID, participantID) {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("no active session for meeting"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":      "retrying",
		"meeting":     meetingID,
		"participant": participantID,
	})
}

// RegisterPendingHandler handles POST /v1/pending: it records that a
// participant has opted in, so a later stream-start webhook for the meeting
// is allowed to begin analysis.
type RegisterPendingHandler struct {
	Config       config.Config
	Orchestrator *liveness.Orchestrator
	Logger       *slog.Logger
}

type registerPendingRequest struct {
	MeetingUUID string `json:"meeting_uuid"`
	APIKey      string `json:"api_key,omitempty"`
}

func (h RegisterPendingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("failed to read request body"), http.StatusBadRequest)
		return
	}

	var req registerPendingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("invalid JSON body"), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.MeetingUUID) == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("meeting_uuid is required"), http.StatusBadRequest)
		return
	}

	h.Orchestrator.RegisterPendingSession(req.MeetingUUID, req.APIKey)
	h.Logger.Info("pending session registered", "meeting", req.MeetingUUID)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "registered",
		"meeting": req.MeetingUUID,
	})
}
