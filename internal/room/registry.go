package room

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/protocol"
)

// Registry is the process-wide map of live rooms plus the session table
// recording which room each connection currently occupies. Every mutation
// of room state goes through it; message handlers never touch the maps
// directly.
type Registry struct {
	mu          sync.RWMutex
	rooms       map[string]*Room
	sessions    map[string]string // conn id -> room id
	logCapacity int
	log         *zap.SugaredLogger
}

func NewRegistry(logCapacity int, log *zap.SugaredLogger) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		sessions:    make(map[string]string),
		logCapacity: logCapacity,
		log:         log,
	}
}

// JoinResult describes what a Join actually did, so the caller can emit
// the right notifications.
type JoinResult struct {
	// NoOp is set when the connection was already in the requested room.
	NoOp bool
	// Transferred holds the leave outcome for the previous room when the
	// connection moved rooms; nil otherwise.
	Transferred *LeaveResult
	UserCount   int
	// Others are the connection ids of the pre-existing participants.
	Others []string
}

// LeaveResult describes a departure.
type LeaveResult struct {
	RoomID      string
	Left        bool
	UserCount   int
	Deleted     bool
	Participant Participant
}

// Join enrolls the connection in roomID, creating the room if absent. A
// connection occupies at most one drawing room: joining a different room
// first leaves the old one (the caller broadcasts that departure using the
// Transferred result). Joining the current room is a no-op.
//
// An empty room id is a logged no-op: room tokens are client-generated and
// intentionally unvalidated.
func (reg *Registry) Join(connID, roomID string, p Participant) JoinResult {
	if roomID == "" {
		reg.log.Warnw("join with empty room id ignored", "conn", connID)
		return JoinResult{NoOp: true}
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	var res JoinResult
	if current, ok := reg.sessions[connID]; ok {
		if current == roomID {
			reg.log.Infow("already in room", "conn", connID, "room", roomID)
			res.NoOp = true
			res.UserCount = len(reg.rooms[roomID].participants)
			return res
		}
		left := reg.leaveLocked(connID, current)
		res.Transferred = &left
	}

	r, ok := reg.rooms[roomID]
	if !ok {
		r = newRoom(roomID)
		reg.rooms[roomID] = r
		reg.log.Infow("room created", "room", roomID)
	}

	for id := range r.participants {
		res.Others = append(res.Others, id)
	}
	p.ConnID = connID
	p.JoinedAt = time.Now()
	r.participants[connID] = p
	r.touch()
	reg.sessions[connID] = roomID
	res.UserCount = len(r.participants)
	return res
}

// Leave removes the connection from roomID. Idempotent: leaving a room the
// connection is not in, or a room that no longer exists, reports Left=false
// and changes nothing. The last leaver deletes the room record outright.
func (reg *Registry) Leave(connID, roomID string) LeaveResult {
	if roomID == "" {
		reg.log.Warnw("leave with empty room id ignored", "conn", connID)
		return LeaveResult{}
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.leaveLocked(connID, roomID)
}

func (reg *Registry) leaveLocked(connID, roomID string) LeaveResult {
	res := LeaveResult{RoomID: roomID}
	r, ok := reg.rooms[roomID]
	if !ok {
		// Possibly already swept; treat as success-no-op.
		if reg.sessions[connID] == roomID {
			delete(reg.sessions, connID)
		}
		return res
	}
	p, ok := r.participants[connID]
	if !ok {
		return res
	}
	delete(r.participants, connID)
	if reg.sessions[connID] == roomID {
		delete(reg.sessions, connID)
	}
	r.touch()

	res.Left = true
	res.Participant = p
	res.UserCount = len(r.participants)
	if res.UserCount == 0 {
		delete(reg.rooms, roomID)
		res.Deleted = true
		reg.log.Infow("room deleted", "room", roomID)
	}
	return res
}

// Disconnect is the implicit-leave path for a dropped connection: it
// leaves whatever drawing room the connection occupies, if any.
func (reg *Registry) Disconnect(connID string) (LeaveResult, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	roomID, ok := reg.sessions[connID]
	if !ok {
		return LeaveResult{}, false
	}
	return reg.leaveLocked(connID, roomID), true
}

// RoomOf returns the drawing room the connection currently occupies.
func (reg *Registry) RoomOf(connID string) (string, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	id, ok := reg.sessions[connID]
	return id, ok
}

// Member reports whether the connection occupies roomID, and returns its
// participant metadata.
func (reg *Registry) Member(connID, roomID string) (Participant, bool) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return Participant{}, false
	}
	p, ok := r.participants[connID]
	return p, ok
}

// Participants returns the connection ids currently in roomID.
func (reg *Registry) Participants(roomID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(r.participants))
	for id := range r.participants {
		ids = append(ids, id)
	}
	return ids
}

// AppendOp durably appends a drawing op to the room log in receipt order,
// returning the stamped op. Reports false when the room does not exist.
func (reg *Registry) AppendOp(roomID string, op protocol.DrawingOp) (protocol.DrawingOp, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return op, false
	}
	return r.appendOp(op, reg.logCapacity), true
}

// SetSnapshot replaces the room's full-canvas snapshot.
func (reg *Registry) SetSnapshot(roomID string, snapshot json.RawMessage) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	r.snapshot = snapshot
	r.touch()
	return true
}

// Board returns the room's current snapshot (authoritative base, may be
// nil) and a copy of the op log (replayable on top).
func (reg *Registry) Board(roomID string) (json.RawMessage, []protocol.DrawingOp) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return nil, nil
	}
	ops := make([]protocol.DrawingOp, len(r.ops))
	copy(ops, r.ops)
	return r.snapshot, ops
}

// ClearBoard wipes the room's log and snapshot, leaving the room itself in
// place. Safe no-op for unknown rooms.
func (reg *Registry) ClearBoard(roomID string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	r.clearBoard()
	return true
}

// SetCode stores the room's plain-text code snapshot (a convenience for
// participants rejoining within the room's lifetime, not persistence).
func (reg *Registry) SetCode(roomID, text, language string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	r, ok := reg.rooms[roomID]
	if !ok {
		return false
	}
	r.codeText = text
	r.codeLang = language
	r.touch()
	return true
}

func (reg *Registry) Code(roomID string) (text, language string) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	if r, ok := reg.rooms[roomID]; ok {
		return r.codeText, r.codeLang
	}
	return "", ""
}

// Touch refreshes the room's last-activity timestamp.
func (reg *Registry) Touch(roomID string) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, ok := reg.rooms[roomID]; ok {
		r.touch()
	}
}

// RoomCount returns the number of live rooms.
func (reg *Registry) RoomCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.rooms)
}

// SessionCount returns the number of connections currently in a room.
func (reg *Registry) SessionCount() int {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return len(reg.sessions)
}

// SweepIdle deletes every room whose last activity is older than ttl,
// regardless of recorded participant count. This is the leak guard against
// ghost entries from connections that never delivered a disconnect.
func (reg *Registry) SweepIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	reg.mu.Lock()
	defer reg.mu.Unlock()

	var swept []string
	for id, r := range reg.rooms {
		if r.lastActivity.After(cutoff) {
			continue
		}
		for connID := range r.participants {
			if reg.sessions[connID] == id {
				delete(reg.sessions, connID)
			}
		}
		delete(reg.rooms, id)
		swept = append(swept, id)
	}
	if len(swept) > 0 {
		reg.log.Infow("swept idle rooms", "count", len(swept), "rooms", swept)
	}
	return swept
}
