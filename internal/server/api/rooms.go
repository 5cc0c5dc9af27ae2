package api

import (
	"context"
	"encoding/json"
	"errors"
	"image"
	"net/http"
	"strconv"

	"github.com/ayusman/roomguard/internal/app"
	"github.com/ayusman/roomguard/internal/inference"
	"github.com/ayusman/roomguard/internal/matcher"
	"github.com/ayusman/roomguard/internal/rooms"
	"github.com/ayusman/roomguard/internal/session"
	"github.com/ayusman/roomguard/internal/store"
)

// RoomService is the part of the application the room endpoints need.
type RoomService interface {
	Rooms() *rooms.Store
	Store() *store.Store
	EnrollEmbedding(room, user string, embedding []float32) error
	EnrollImage(room, user string, img image.Image) error
	EnrollFromCamera(ctx context.Context, room, user string) error
	AuthorizeImage(room string, img image.Image) (app.StillResult, error)
	SessionConfig() session.Config
}

// RoomHandler serves /api/rooms and everything below it.
type RoomHandler struct {
	svc RoomService
}

// NewRoomHandler creates a new RoomHandler.
func NewRoomHandler(svc RoomService) *RoomHandler {
	return &RoomHandler{svc: svc}
}

// ServeHTTP routes:
//
//	/api/rooms
//	/api/rooms/{room}
//	/api/rooms/{room}/users
//	/api/rooms/{room}/users/{user}
//	/api/rooms/{room}/authorize
//	/api/rooms/{room}/attempts
func (h *RoomHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := splitPath(r.URL.Path, "/api/rooms")

	switch {
	case len(parts) == 0:
		switch r.Method {
		case http.MethodGet:
			h.list(w, r)
		case http.MethodPost:
			h.create(w, r)
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 1:
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.get(w, r, parts[0])

	case len(parts) == 2 && parts[1] == "users":
		switch r.Method {
		case http.MethodGet:
			h.listUsers(w, r, parts[0])
		case http.MethodPost:
			h.enroll(w, r, parts[0])
		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}

	case len(parts) == 3 && parts[1] == "users":
		if r.Method != http.MethodDelete {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.removeUser(w, r, parts[0], parts[2])

	case len(parts) == 2 && parts[1] == "authorize":
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.authorize(w, r, parts[0])

	case len(parts) == 2 && parts[1] == "attempts":
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h.attempts(w, r, parts[0])

	default:
		http.NotFound(w, r)
	}
}

type createRoomRequest struct {
	RoomID string `json:"room_id"`
}

type roomResponse struct {
	RoomID  string   `json:"room_id"`
	Users   []string `json:"users"`
	Created bool     `json:"created"`
	Message string   `json:"message,omitempty"`
}

type listRoomsResponse struct {
	Rooms []string `json:"rooms"`
}

type enrollRequest struct {
	UserID    string    `json:"user_id"`
	Embedding []float32 `json:"embedding,omitempty"`
	Image     string    `json:"image,omitempty"`
}

type userResponse struct {
	RoomID string `json:"room_id"`
	UserID string `json:"user_id"`
}

type listUsersResponse struct {
	RoomID string   `json:"room_id"`
	Users  []string `json:"users"`
}

type authorizeRequest struct {
	Embedding []float32 `json:"embedding,omitempty"`
	Image     string    `json:"image,omitempty"`
}

type authorizeResponse struct {
	matcher.Result
	Face bool `json:"face"`
}

type listAttemptsResponse struct {
	Attempts []*store.Attempt `json:"attempts"`
}

// writeStoreError maps rooms errors to status codes.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, rooms.ErrInvalidInput), errors.Is(err, matcher.ErrDimensionMismatch):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, rooms.ErrRoomNotFound), errors.Is(err, rooms.ErrUserNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, rooms.ErrUserExists), errors.Is(err, app.ErrSessionActive), errors.Is(err, app.ErrCameraBusy):
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, app.ErrNoFace):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, inference.ErrModelFailure):
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// list handles GET /api/rooms.
func (h *RoomHandler) list(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.Rooms().ListRooms()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rooms")
		return
	}
	writeJSON(w, http.StatusOK, listRoomsResponse{Rooms: ids})
}

// create handles POST /api/rooms. An existing room is reported, not an error.
func (h *RoomHandler) create(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	created, err := h.svc.Rooms().CreateRoom(req.RoomID)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	users, _ := h.svc.Rooms().ListUsers(req.RoomID)
	resp := roomResponse{RoomID: req.RoomID, Users: users, Created: created}
	if !created {
		resp.Message = "Room " + req.RoomID + " already exists"
		writeJSON(w, http.StatusOK, resp)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// get handles GET /api/rooms/{room}.
func (h *RoomHandler) get(w http.ResponseWriter, r *http.Request, room string) {
	users, err := h.svc.Rooms().ListUsers(room)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, roomResponse{RoomID: room, Users: users})
}

// listUsers handles GET /api/rooms/{room}/users.
func (h *RoomHandler) listUsers(w http.ResponseWriter, r *http.Request, room string) {
	users, err := h.svc.Rooms().ListUsers(room)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, listUsersResponse{RoomID: room, Users: users})
}

// enroll handles POST /api/rooms/{room}/users. The embedding comes from the
// request, from a posted image, or from the camera when neither is given.
func (h *RoomHandler) enroll(w http.ResponseWriter, r *http.Request, room string) {
	var req enrollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if req.UserID == "" {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	var err error
	switch {
	case len(req.Embedding) > 0:
		err = h.svc.EnrollEmbedding(room, req.UserID, req.Embedding)
	case req.Image != "":
		img, decErr := decodeImage(req.Image)
		if decErr != nil {
			writeError(w, http.StatusBadRequest, decErr.Error())
			return
		}
		err = h.svc.EnrollImage(room, req.UserID, img)
	default:
		err = h.svc.EnrollFromCamera(r.Context(), room, req.UserID)
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, userResponse{RoomID: room, UserID: req.UserID})
}

// removeUser handles DELETE /api/rooms/{room}/users/{user}.
func (h *RoomHandler) removeUser(w http.ResponseWriter, r *http.Request, room, user string) {
	if err := h.svc.Rooms().RemoveUser(room, user); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// authorize handles POST /api/rooms/{room}/authorize.
func (h *RoomHandler) authorize(w http.ResponseWriter, r *http.Request, room string) {
	var req authorizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	switch {
	case len(req.Embedding) > 0:
		res, err := h.svc.Rooms().Authorize(room, req.Embedding, h.svc.SessionConfig().Threshold)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{Result: res, Face: true})

	case req.Image != "":
		img, err := decodeImage(req.Image)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		res, err := h.svc.AuthorizeImage(room, img)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, authorizeResponse{Result: res.Result, Face: res.Face})

	default:
		writeError(w, http.StatusBadRequest, "embedding or image is required")
	}
}

// attempts handles GET /api/rooms/{room}/attempts?limit=N.
func (h *RoomHandler) attempts(w http.ResponseWriter, r *http.Request, room string) {
	st := h.svc.Store()
	if st == nil {
		writeJSON(w, http.StatusOK, listAttemptsResponse{Attempts: []*store.Attempt{}})
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "limit must be a number")
			return
		}
		limit = n
	}

	attempts, err := st.Attempts().ListByRoom(room, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list attempts")
		return
	}
	writeJSON(w, http.StatusOK, listAttemptsResponse{Attempts: attempts})
}
