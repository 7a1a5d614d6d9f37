package api

import (
	"crypto/rand"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/db"
	"github.com/cosketch/backend/internal/room"
	"github.com/cosketch/backend/internal/ws"
)

// roomIDCharset excludes ambiguous characters so ids read well out loud.
const roomIDCharset = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// Handler serves the HTTP surface: health, stats, and the room directory.
// Live room state stays inside the hub; the directory is bookkeeping.
type Handler struct {
	db       *db.Database
	registry *room.Registry
	hub      *ws.Hub
	log      *zap.SugaredLogger
	started  time.Time
}

func NewHandler(database *db.Database, registry *room.Registry, hub *ws.Hub, log *zap.SugaredLogger) *Handler {
	return &Handler{
		db:       database,
		registry: registry,
		hub:      hub,
		log:      log,
		started:  time.Now(),
	}
}

// Routes mounts the API endpoints on a fresh router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/rooms", h.createRoom)
	r.Get("/rooms", h.listRooms)
	r.Get("/rooms/{roomID}", h.getRoom)
	r.Delete("/rooms/{roomID}", h.deleteRoom)
	r.Get("/stats", h.stats)
	return r
}

// Health is mounted at the server root, outside the /api prefix.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

type createRoomRequest struct {
	CreatorName string `json:"creatorName"`
	IsGuestRoom bool   `json:"isGuestRoom"`
}

type roomResponse struct {
	db.RoomRecord
	ActiveUsers int  `json:"activeUsers"`
	Live        bool `json:"live"`
}

func (h *Handler) createRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if r.Body != nil {
		// An empty or absent body is a guest room with no creator name.
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.CreatorName == "" {
		req.IsGuestRoom = true
	}

	var roomID string
	for attempt := 0; attempt < 5; attempt++ {
		candidate, err := generateRoomID()
		if err != nil {
			errorResponse(w, http.StatusInternalServerError, "failed to generate room id")
			return
		}
		existing, err := h.db.GetRoomRecord(candidate)
		if err != nil {
			h.log.Errorw("room directory lookup failed", "error", err)
			errorResponse(w, http.StatusInternalServerError, "database error")
			return
		}
		if existing == nil {
			roomID = candidate
			break
		}
	}
	if roomID == "" {
		errorResponse(w, http.StatusInternalServerError, "failed to allocate room id")
		return
	}

	if err := h.db.CreateRoomRecord(roomID, req.CreatorName, req.IsGuestRoom); err != nil {
		h.log.Errorw("failed to create room record", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}

	rec, err := h.db.GetRoomRecord(roomID)
	if err != nil || rec == nil {
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}
	h.log.Infow("room created", "room", roomID, "creator", req.CreatorName, "guest", req.IsGuestRoom)
	jsonResponse(w, http.StatusCreated, h.decorate(*rec))
}

func (h *Handler) getRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.ToUpper(chi.URLParam(r, "roomID"))
	rec, err := h.db.GetRoomRecord(roomID)
	if err != nil {
		h.log.Errorw("room directory lookup failed", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}
	if rec == nil {
		// A room may be live without a directory entry: joining over the
		// websocket never touches the directory.
		if users := h.registry.Participants(roomID); len(users) > 0 {
			jsonResponse(w, http.StatusOK, roomResponse{
				RoomRecord:  db.RoomRecord{RoomID: roomID},
				ActiveUsers: len(users),
				Live:        true,
			})
			return
		}
		errorResponse(w, http.StatusNotFound, "room not found")
		return
	}

	if err := h.db.TouchRoomRecord(roomID); err != nil {
		h.log.Warnw("failed to touch room record", "room", roomID, "error", err)
	}
	jsonResponse(w, http.StatusOK, h.decorate(*rec))
}

func (h *Handler) listRooms(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	records, err := h.db.ListRoomRecords(limit, offset)
	if err != nil {
		h.log.Errorw("failed to list rooms", "error", err)
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}

	out := make([]roomResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, h.decorate(rec))
	}
	jsonResponse(w, http.StatusOK, map[string]any{"rooms": out})
}

func (h *Handler) deleteRoom(w http.ResponseWriter, r *http.Request) {
	roomID := strings.ToUpper(chi.URLParam(r, "roomID"))
	if err := h.db.DeleteRoomRecord(roomID); err != nil {
		h.log.Errorw("failed to delete room record", "room", roomID, "error", err)
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{"deleted": roomID})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	dbStats, err := h.db.Stats()
	if err != nil {
		h.log.Errorw("failed to read database stats", "error", err)
		errorResponse(w, http.StatusInternalServerError, "database error")
		return
	}
	jsonResponse(w, http.StatusOK, map[string]any{
		"connectedClients": h.hub.ClientCount(),
		"activeRooms":      h.registry.RoomCount(),
		"liveDocuments":    h.hub.Docs().DocCount(),
		"registeredUsers":  dbStats["user_count"],
		"directoryRooms":   dbStats["room_count"],
		"uptime":           time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handler) decorate(rec db.RoomRecord) roomResponse {
	users := h.registry.Participants(rec.RoomID)
	return roomResponse{
		RoomRecord:  rec,
		ActiveUsers: len(users),
		Live:        len(users) > 0,
	}
}

// generateRoomID produces a readable id like "K3F-9QT-WM2".
func generateRoomID() (string, error) {
	buf := make([]byte, 9)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	var b strings.Builder
	for i, c := range buf {
		if i > 0 && i%3 == 0 {
			b.WriteByte('-')
		}
		b.WriteByte(roomIDCharset[int(c)%len(roomIDCharset)])
	}
	return b.String(), nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func jsonResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func errorResponse(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}
