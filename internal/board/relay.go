package board

import (
	"encoding/json"

	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/metrics"
	"github.com/cosketch/backend/internal/protocol"
	"github.com/cosketch/backend/internal/room"
)

// Sender delivers an envelope to one connection. Implemented by the
// websocket hub; replaced with a recorder in tests.
type Sender interface {
	Send(connID string, env protocol.Envelope)
}

// Relay fans drawing operations out to a room. Durable ops are appended to
// the room log before rebroadcast, so every participant observes them in
// server receipt order; cursor traffic is relayed but never logged.
type Relay struct {
	reg  *room.Registry
	send Sender
	log  *zap.SugaredLogger
}

func NewRelay(reg *room.Registry, send Sender, log *zap.SugaredLogger) *Relay {
	return &Relay{reg: reg, send: send, log: log}
}

// Submit relays one drawing operation from connID. Membership in roomID is
// the only authorization: a non-member submission is treated as a stale
// message and silently dropped.
func (rl *Relay) Submit(connID, roomID string, op protocol.DrawingOp) {
	p, ok := rl.reg.Member(connID, roomID)
	if !ok {
		rl.log.Debugw("drawing op from non-member dropped", "conn", connID, "room", roomID)
		return
	}
	if op.Tool == "" && op.Kind == "" {
		rl.log.Warnw("drawing op missing tool and kind dropped", "conn", connID, "room", roomID)
		return
	}
	op.UserID = connID
	op.DisplayName = p.DisplayName

	switch {
	case op.Ephemeral():
		// Presence only: replaying it later would be useless.
		rl.reg.Touch(roomID)

	case op.Snapshotting():
		rl.reg.SetSnapshot(roomID, op.Data)

	default:
		stamped, ok := rl.reg.AppendOp(roomID, op)
		if !ok {
			return
		}
		op = stamped
	}

	metrics.DrawingOpsRelayed.Inc()
	rl.broadcast(roomID, connID, protocol.MustEnvelope(protocol.TypeDrawingOp, op))
}

// Cursor relays an ephemeral cursor position to the rest of the room.
func (rl *Relay) Cursor(connID, roomID string, cm protocol.CursorMove) {
	if _, ok := rl.reg.Member(connID, roomID); !ok {
		return
	}
	cm.UserID = connID
	cm.RoomID = roomID
	rl.broadcast(roomID, connID, protocol.MustEnvelope(protocol.TypeCursorMove, cm))
}

// SyncCanvas replaces the room snapshot with an authoritative full-canvas
// state pushed by an existing participant, and forwards it to the others.
func (rl *Relay) SyncCanvas(connID, roomID string, state json.RawMessage) {
	if _, ok := rl.reg.Member(connID, roomID); !ok {
		return
	}
	if !rl.reg.SetSnapshot(roomID, state) {
		return
	}
	rl.broadcast(roomID, connID, protocol.MustEnvelope(protocol.TypeCanvasState, protocol.CanvasState{
		RoomID: roomID,
		State:  state,
	}))
}

// Clear wipes the room's log and snapshot and notifies the other
// participants. Clearing an unknown (possibly already swept) room is a
// safe no-op.
func (rl *Relay) Clear(connID, roomID string) {
	if _, ok := rl.reg.Member(connID, roomID); !ok {
		return
	}
	if !rl.reg.ClearBoard(roomID) {
		return
	}
	rl.broadcast(roomID, connID, protocol.MustEnvelope(protocol.TypeClearCanvas, protocol.ClearCanvas{
		RoomID: roomID,
		UserID: connID,
	}))
}

// PushCatchUp sends the joining connection everything it needs to
// reconstruct the board: the stored snapshot when present (authoritative
// base), then the retained op log (replayable on top). Nothing is sent for
// an empty board. Cursor traffic is never part of catch-up.
func (rl *Relay) PushCatchUp(connID, roomID string) {
	snapshot, ops := rl.reg.Board(roomID)
	if snapshot != nil {
		rl.send.Send(connID, protocol.MustEnvelope(protocol.TypeCanvasState, protocol.CanvasState{
			RoomID: roomID,
			State:  snapshot,
		}))
	}
	if len(ops) > 0 {
		rl.send.Send(connID, protocol.MustEnvelope(protocol.TypeBoardData, protocol.BoardData{
			RoomID: roomID,
			Ops:    ops,
		}))
	}
}

func (rl *Relay) broadcast(roomID, exclude string, env protocol.Envelope) {
	for _, connID := range rl.reg.Participants(roomID) {
		if connID == exclude {
			continue
		}
		rl.send.Send(connID, env)
	}
}
