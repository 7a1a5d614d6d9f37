package protocol

import (
	"encoding/json"
	"fmt"
)

// Type discriminates every message that crosses the websocket. The set is
// closed: the hub matches exhaustively and drops anything else.
type Type string

const (
	// Client -> server control messages.
	TypeJoinRoom     Type = "join-room"
	TypeLeaveRoom    Type = "leave-room"
	TypeCRDTJoinRoom Type = "crdt-join-room"
	TypeCRDTLeave    Type = "crdt-leave-room"

	// Drawing surface.
	TypeDrawingOp   Type = "drawing-op"
	TypeCanvasSync  Type = "canvas-sync"
	TypeClearCanvas Type = "clear-canvas"
	TypeCursorMove  Type = "cursor-move"
	TypeBoardData   Type = "board-data"
	TypeCanvasState Type = "canvas-state"

	// Room membership notifications.
	TypeParticipantJoined Type = "participant-joined"
	TypeParticipantLeft   Type = "participant-left"
	TypeRoomUsers         Type = "room-users"

	// Code snapshot convenience (client pushes, server replays on join).
	TypeCodeSnapshot Type = "code-snapshot"

	// Replicated text document.
	TypeCRDTSync        Type = "crdt-sync"
	TypeCRDTUpdate      Type = "crdt-update"
	TypeAwarenessUpdate Type = "awareness-update"
	TypeAwarenessRemove Type = "awareness-remove"
	TypeUserCountUpdate Type = "user-count-update"
)

// Known reports whether t is part of the closed message set.
func (t Type) Known() bool {
	switch t {
	case TypeJoinRoom, TypeLeaveRoom, TypeCRDTJoinRoom, TypeCRDTLeave,
		TypeDrawingOp, TypeCanvasSync, TypeClearCanvas, TypeCursorMove,
		TypeBoardData, TypeCanvasState, TypeCodeSnapshot,
		TypeParticipantJoined, TypeParticipantLeft, TypeRoomUsers,
		TypeCRDTSync, TypeCRDTUpdate, TypeAwarenessUpdate,
		TypeAwarenessRemove, TypeUserCountUpdate:
		return true
	}
	return false
}

// Envelope is the wire frame: one type tag plus a type-specific payload.
type Envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an envelope of the given type.
func NewEnvelope(t Type, payload any) (Envelope, error) {
	if payload == nil {
		return Envelope{Type: t}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", t, err)
	}
	return Envelope{Type: t, Data: raw}, nil
}

// MustEnvelope is NewEnvelope for payloads built by the server itself,
// where a marshal failure is a programming error.
func MustEnvelope(t Type, payload any) Envelope {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		panic(err)
	}
	return env
}

// Decode unmarshals the envelope payload into out.
func (e Envelope) Decode(out any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Type)
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return fmt.Errorf("%s: malformed payload: %w", e.Type, err)
	}
	return nil
}

// JoinRoom enrolls the connection in a drawing room. DisplayName and
// IsAuthenticated are advisory; the resolved identity on the connection
// wins when present.
type JoinRoom struct {
	RoomID      string `json:"roomId"`
	DisplayName string `json:"displayName,omitempty"`
}

type LeaveRoom struct {
	RoomID string `json:"roomId"`
}

// DrawingOp is a single tagged drawing operation. Data is opaque shape or
// path geometry the server relays without interpreting. UserID, DisplayName
// and Seq are stamped server-side on receipt.
type DrawingOp struct {
	RoomID      string          `json:"roomId,omitempty"`
	Tool        string          `json:"tool"`
	Kind        string          `json:"kind"`
	Data        json.RawMessage `json:"data,omitempty"`
	X           *float64        `json:"x,omitempty"`
	Y           *float64        `json:"y,omitempty"`
	Color       string          `json:"color,omitempty"`
	Size        float64         `json:"size,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Seq         int64           `json:"seq,omitempty"`
}

// Drawing operation kinds. KindFullState replaces the room snapshot,
// KindUpdate on ToolCursor is ephemeral presence; the rest are logged.
const (
	KindDraw      = "draw"
	KindAdd       = "add"
	KindRemove    = "remove"
	KindModify    = "modify"
	KindUpdate    = "update"
	KindFullState = "fullState"
)

const (
	ToolCursor     = "cursor"
	ToolCanvasSync = "canvasSync"
)

// Ephemeral reports whether the op is presence-only and must never be
// appended to the room log or replayed to late joiners.
func (op DrawingOp) Ephemeral() bool {
	return op.Tool == ToolCursor
}

// Snapshotting reports whether the op carries an authoritative full-canvas
// state that supersedes the log.
func (op DrawingOp) Snapshotting() bool {
	return op.Tool == ToolCanvasSync || op.Kind == KindFullState
}

// CanvasSync carries a full serialized canvas snapshot.
type CanvasSync struct {
	RoomID string          `json:"roomId,omitempty"`
	State  json.RawMessage `json:"state"`
	UserID string          `json:"userId,omitempty"`
}

type ClearCanvas struct {
	RoomID string `json:"roomId,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// CursorMove is ephemeral presence for the drawing surface.
type CursorMove struct {
	RoomID string  `json:"roomId,omitempty"`
	UserID string  `json:"userId,omitempty"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Color  string  `json:"color,omitempty"`
	Size   float64 `json:"size,omitempty"`
	Tool   string  `json:"tool,omitempty"`
}

// BoardData is the drawing catch-up payload pushed right after a join.
type BoardData struct {
	RoomID string      `json:"roomId"`
	Ops    []DrawingOp `json:"ops"`
}

// CanvasState carries the stored snapshot to a late joiner. The snapshot is
// the authoritative base; BoardData ops are replayable on top of it.
type CanvasState struct {
	RoomID string          `json:"roomId"`
	State  json.RawMessage `json:"state"`
}

// Membership holds a room population change notification.
type Membership struct {
	RoomID      string `json:"roomId"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName,omitempty"`
	UserCount   int    `json:"userCount"`
}

// RoomUsers is sent to a joiner with the current population.
type RoomUsers struct {
	RoomID    string   `json:"roomId"`
	UserCount int      `json:"userCount"`
	Users     []string `json:"users"`
}

// CodeSnapshot carries the room's plain-text code and language tag. Stored
// on the room record as a rejoin convenience; not a synchronization
// mechanism (that is the CRDT's job).
type CodeSnapshot struct {
	RoomID   string `json:"roomId,omitempty"`
	Text     string `json:"text"`
	Language string `json:"language,omitempty"`
}

// CRDTJoin enrolls the connection in a room's replicated document session.
type CRDTJoin struct {
	RoomID string `json:"roomId"`
}

// CRDTSync carries a full document encoding for one-time initialization.
// Update bytes are opaque to the relay; []byte marshals as base64.
type CRDTSync struct {
	RoomID string `json:"roomId"`
	State  []byte `json:"state"`
}

// CRDTUpdate carries one opaque incremental delta.
type CRDTUpdate struct {
	RoomID string `json:"roomId"`
	Delta  []byte `json:"delta"`
}

// Awareness is ephemeral per-participant presence for the document session
// (cursor position, selection, color). Full replace per sender.
type Awareness struct {
	RoomID string          `json:"roomId"`
	UserID string          `json:"userId,omitempty"`
	State  json.RawMessage `json:"state"`
}

// AwarenessRemove announces that a participant's presence is gone.
type AwarenessRemove struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// UserCount is the document-session population broadcast.
type UserCount struct {
	RoomID    string `json:"roomId"`
	UserCount int    `json:"userCount"`
}
