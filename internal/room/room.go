package room

import (
	"encoding/json"
	"time"

	"github.com/cosketch/backend/internal/protocol"
)

// Participant is per-connection metadata inside a room.
type Participant struct {
	ConnID        string
	DisplayName   string
	Authenticated bool
	JoinedAt      time.Time
}

// Room is the in-memory record for one collaboration session: the
// participant set, the drawing operation log, the latest full-canvas
// snapshot, and an optional plain-text code snapshot. Room state is
// ephemeral; it dies with the last participant or the sweeper.
//
// Rooms are only ever touched through the Registry, which owns the lock.
type Room struct {
	ID           string
	participants map[string]Participant
	lastActivity time.Time

	ops      []protocol.DrawingOp
	snapshot json.RawMessage
	seq      int64

	codeText string
	codeLang string
}

func newRoom(id string) *Room {
	return &Room{
		ID:           id,
		participants: make(map[string]Participant),
		lastActivity: time.Now(),
	}
}

func (r *Room) touch() {
	r.lastActivity = time.Now()
}

// appendOp stamps the op with the next receipt sequence number and appends
// it, evicting the oldest entries once the log exceeds capacity. Appended
// ops are never mutated afterwards.
func (r *Room) appendOp(op protocol.DrawingOp, capacity int) protocol.DrawingOp {
	r.seq++
	op.Seq = r.seq
	r.ops = append(r.ops, op)
	if len(r.ops) > capacity {
		excess := len(r.ops) - capacity
		r.ops = append(r.ops[:0:0], r.ops[excess:]...)
	}
	r.touch()
	return op
}

func (r *Room) clearBoard() {
	r.ops = nil
	r.snapshot = nil
	r.touch()
}
