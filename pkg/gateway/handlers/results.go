package handlers

import (
	"log/slog"
	"net/http"

	"github.com/verilive/livenessd/pkg/core"
	"github.com/verilive/livenessd/pkg/core/results"
	"github.com/verilive/livenessd/pkg/gateway/mw"
)

// ResultsHandler handles GET /v1/results/{meeting}: a point-in-time snapshot
// of session state and per-participant results, intended for polling.
type ResultsHandler struct {
	Store  *results.Store
	Logger *slog.Logger
}

func (h ResultsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reqID, _ := mw.RequestIDFrom(r.Context())
	meetingID := r.PathValue("meeting")
	if meetingID == "" {
		writeCoreErrorJSON(w, reqID, core.NewInvalidRequestError("meeting is required"), http.StatusBadRequest)
		return
	}

	status := h.Store.GetSession(meetingID)
	if status == nil {
		writeCoreErrorJSON(w, reqID, core.NewNotFoundError("no session for meeting"), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
