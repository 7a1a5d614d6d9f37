package ws

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/board"
	"github.com/cosketch/backend/internal/crdt"
	"github.com/cosketch/backend/internal/metrics"
	"github.com/cosketch/backend/internal/protocol"
	"github.com/cosketch/backend/internal/room"
)

type inbound struct {
	client *Client
	env    protocol.Envelope
}

// Hub owns the set of connected clients and runs the single dispatch loop
// every inbound message flows through. One message is handled to
// completion before the next, so registry and relay mutations never race:
// the atomicity of "append then rebroadcast" comes from this loop, not
// from locking discipline in the handlers.
type Hub struct {
	mu         sync.RWMutex
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inbound

	registry *room.Registry
	board    *board.Relay
	docs     *crdt.Relay
	log      *zap.SugaredLogger
}

func NewHub(registry *room.Registry, log *zap.SugaredLogger) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		inbound:    make(chan inbound, 256),
		registry:   registry,
		log:        log,
	}
	h.board = board.NewRelay(registry, h, log)
	h.docs = crdt.NewRelay(h, log)
	return h
}

// Board returns the drawing relay (used by the REST stats surface).
func (h *Hub) Board() *board.Relay { return h.board }

// Docs returns the CRDT relay.
func (h *Hub) Docs() *crdt.Relay { return h.docs }

// Send implements board.Sender and crdt.Sender. A client whose send
// buffer is full is dropped rather than allowed to stall the room.
func (h *Hub) Send(connID string, env protocol.Envelope) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[connID]
	if !ok {
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		h.log.Errorw("failed to encode frame", "type", env.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		h.log.Warnw("send buffer full, dropping client", "conn", connID)
		close(c.send)
		delete(h.clients, connID)
	}
}

func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c.id] = c
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ConnectedClients.Set(float64(count))
			h.log.Infow("client connected", "conn", c.id, "name", c.identity.DisplayName,
				"authenticated", c.identity.Authenticated)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c.id]; ok {
				delete(h.clients, c.id)
				close(c.send)
			}
			count := len(h.clients)
			h.mu.Unlock()
			h.cleanupConnection(c.id)
			metrics.ConnectedClients.Set(float64(count))
			h.log.Infow("client disconnected", "conn", c.id)

		case msg := <-h.inbound:
			h.dispatch(msg.client, msg.env)
		}
		metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))
	}
}

// cleanupConnection treats an abrupt disconnect as an implicit leave of
// whatever drawing room and document session the connection occupied.
func (h *Hub) cleanupConnection(connID string) {
	if res, ok := h.registry.Disconnect(connID); ok && res.Left {
		h.notifyLeft(res)
	}
	h.docs.Disconnect(connID)
}

// dispatch routes one inbound envelope. The union of message types is
// closed; anything else is logged and dropped, never echoed as an error.
func (h *Hub) dispatch(c *Client, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeJoinRoom:
		var req protocol.JoinRoom
		if err := env.Decode(&req); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.handleJoin(c, req)

	case protocol.TypeLeaveRoom:
		var req protocol.LeaveRoom
		if err := env.Decode(&req); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		if res := h.registry.Leave(c.id, req.RoomID); res.Left {
			h.notifyLeft(res)
		}

	case protocol.TypeDrawingOp:
		var op protocol.DrawingOp
		if err := env.Decode(&op); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.board.Submit(c.id, h.roomFor(c, op.RoomID), op)

	case protocol.TypeCanvasSync:
		var cs protocol.CanvasSync
		if err := env.Decode(&cs); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.board.SyncCanvas(c.id, h.roomFor(c, cs.RoomID), cs.State)

	case protocol.TypeClearCanvas:
		var cc protocol.ClearCanvas
		if err := env.Decode(&cc); err != nil {
			// clear-canvas legitimately has no required fields
			cc = protocol.ClearCanvas{}
		}
		h.board.Clear(c.id, h.roomFor(c, cc.RoomID))

	case protocol.TypeCursorMove:
		var cm protocol.CursorMove
		if err := env.Decode(&cm); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.board.Cursor(c.id, h.roomFor(c, cm.RoomID), cm)

	case protocol.TypeCodeSnapshot:
		var snap protocol.CodeSnapshot
		if err := env.Decode(&snap); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.handleCodeSnapshot(c, snap)

	case protocol.TypeCRDTJoinRoom:
		var req protocol.CRDTJoin
		if err := env.Decode(&req); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.docs.Join(c.id, req.RoomID)

	case protocol.TypeCRDTLeave:
		var req protocol.CRDTJoin
		if err := env.Decode(&req); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.docs.Leave(c.id, req.RoomID)

	case protocol.TypeCRDTUpdate:
		var up protocol.CRDTUpdate
		if err := env.Decode(&up); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.docs.ApplyUpdate(c.id, up.RoomID, up.Delta)

	case protocol.TypeAwarenessUpdate:
		var aw protocol.Awareness
		if err := env.Decode(&aw); err != nil {
			h.log.Warnw("dropping malformed frame", "conn", c.id, "error", err)
			return
		}
		h.docs.UpdateAwareness(c.id, aw.RoomID, aw.State)

	case protocol.TypeBoardData, protocol.TypeCanvasState,
		protocol.TypeParticipantJoined, protocol.TypeParticipantLeft,
		protocol.TypeRoomUsers, protocol.TypeCRDTSync,
		protocol.TypeAwarenessRemove, protocol.TypeUserCountUpdate:
		// Server-originated types; a client sending them is confused.
		h.log.Debugw("ignoring server-only frame from client", "conn", c.id, "type", env.Type)

	default:
		h.log.Warnw("unknown frame type dropped", "conn", c.id, "type", env.Type)
	}
}

// roomFor prefers the room id named in the payload, falling back to the
// room the connection currently occupies.
func (h *Hub) roomFor(c *Client, roomID string) string {
	if roomID != "" {
		return roomID
	}
	if current, ok := h.registry.RoomOf(c.id); ok {
		return current
	}
	return ""
}

func (h *Hub) handleJoin(c *Client, req protocol.JoinRoom) {
	p := room.Participant{
		DisplayName:   c.identity.DisplayName,
		Authenticated: c.identity.Authenticated,
	}
	// A guest may pick a per-room display name; verified names win.
	if req.DisplayName != "" && !c.identity.Authenticated {
		p.DisplayName = req.DisplayName
	}

	res := h.registry.Join(c.id, req.RoomID, p)
	if res.NoOp {
		return
	}
	if res.Transferred != nil && res.Transferred.Left {
		h.notifyLeft(*res.Transferred)
	}

	// Catch-up before any live traffic: snapshot, then log, then the
	// stored code snapshot and current document state if one exists.
	h.board.PushCatchUp(c.id, req.RoomID)
	if text, lang := h.registry.Code(req.RoomID); text != "" {
		h.Send(c.id, protocol.MustEnvelope(protocol.TypeCodeSnapshot, protocol.CodeSnapshot{
			RoomID:   req.RoomID,
			Text:     text,
			Language: lang,
		}))
	}
	if state := h.docs.DocState(req.RoomID); state != nil {
		h.Send(c.id, protocol.MustEnvelope(protocol.TypeCRDTSync, protocol.CRDTSync{
			RoomID: req.RoomID,
			State:  state,
		}))
	}

	h.Send(c.id, protocol.MustEnvelope(protocol.TypeRoomUsers, protocol.RoomUsers{
		RoomID:    req.RoomID,
		UserCount: res.UserCount,
		Users:     append(res.Others, c.id),
	}))

	joined := protocol.MustEnvelope(protocol.TypeParticipantJoined, protocol.Membership{
		RoomID:      req.RoomID,
		UserID:      c.id,
		DisplayName: p.DisplayName,
		UserCount:   res.UserCount,
	})
	for _, id := range res.Others {
		h.Send(id, joined)
	}
}

func (h *Hub) handleCodeSnapshot(c *Client, snap protocol.CodeSnapshot) {
	roomID := h.roomFor(c, snap.RoomID)
	if _, ok := h.registry.Member(c.id, roomID); !ok {
		return
	}
	if !h.registry.SetCode(roomID, snap.Text, snap.Language) {
		return
	}
	snap.RoomID = roomID
	env := protocol.MustEnvelope(protocol.TypeCodeSnapshot, snap)
	for _, id := range h.registry.Participants(roomID) {
		if id != c.id {
			h.Send(id, env)
		}
	}
}

func (h *Hub) notifyLeft(res room.LeaveResult) {
	left := protocol.MustEnvelope(protocol.TypeParticipantLeft, protocol.Membership{
		RoomID:      res.RoomID,
		UserID:      res.Participant.ConnID,
		DisplayName: res.Participant.DisplayName,
		UserCount:   res.UserCount,
	})
	for _, id := range h.registry.Participants(res.RoomID) {
		h.Send(id, left)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
