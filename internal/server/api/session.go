package api

import (
	"encoding/json"
	"net/http"

	"github.com/ayusman/roomguard/internal/session"
)

// SessionController starts and stops the live session.
type SessionController interface {
	StartSession(room string) error
	StopSession()
	SessionStatus() session.Status
}

// SessionHandler serves /api/session.
//
//	GET    status of the running or last session
//	POST   {"room_id": "..."} starts a session
//	DELETE stops it
type SessionHandler struct {
	ctl SessionController
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(ctl SessionController) *SessionHandler {
	return &SessionHandler{ctl: ctl}
}

type startSessionRequest struct {
	RoomID string `json:"room_id"`
}

func (h *SessionHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.ctl.SessionStatus())

	case http.MethodPost:
		var req startSessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid JSON")
			return
		}
		if req.RoomID == "" {
			writeError(w, http.StatusBadRequest, "room_id is required")
			return
		}
		if err := h.ctl.StartSession(req.RoomID); err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusAccepted, h.ctl.SessionStatus())

	case http.MethodDelete:
		h.ctl.StopSession()
		writeJSON(w, http.StatusOK, h.ctl.SessionStatus())

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
