package crdt

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/automerge/automerge-go"
	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/metrics"
	"github.com/cosketch/backend/internal/protocol"
)

// Sender delivers an envelope to one connection.
type Sender interface {
	Send(connID string, env protocol.Envelope)
}

// docRoom is one room's replicated document session: the server-held
// authoritative replica plus the live awareness records. Awareness is
// ephemeral and never part of the document.
type docRoom struct {
	doc          *automerge.Doc
	participants map[string]struct{}
	awareness    map[string]json.RawMessage
	lastActivity time.Time
}

// Relay keeps one automerge document per room and fans update deltas out
// to the room's participants. Deltas are opaque: the relay never inspects
// their structure, only the automerge merge function does. Convergence is
// the CRDT's guarantee; the relay's sole job is that every delta reaches
// every other participant at least once, in any order.
type Relay struct {
	mu       sync.Mutex
	rooms    map[string]*docRoom
	sessions map[string]string // conn id -> room id
	send     Sender
	log      *zap.SugaredLogger
}

func NewRelay(send Sender, log *zap.SugaredLogger) *Relay {
	return &Relay{
		rooms:    make(map[string]*docRoom),
		sessions: make(map[string]string),
		send:     send,
		log:      log,
	}
}

// Join enrolls the connection in roomID's document session, creating the
// document on first join. The joiner receives a full state encoding (not a
// delta) so it can initialize without replaying history, followed by the
// other participants' live awareness records. Everyone then hears the new
// population count.
func (rl *Relay) Join(connID, roomID string) {
	if roomID == "" {
		rl.log.Warnw("crdt join with empty room id ignored", "conn", connID)
		return
	}

	rl.mu.Lock()
	if current, ok := rl.sessions[connID]; ok && current != roomID {
		rl.leaveLocked(connID, current)
	}
	r, ok := rl.rooms[roomID]
	if !ok {
		r = &docRoom{
			doc:          automerge.New(),
			participants: make(map[string]struct{}),
			awareness:    make(map[string]json.RawMessage),
		}
		rl.rooms[roomID] = r
		metrics.LiveDocuments.Inc()
		rl.log.Infow("document created", "room", roomID)
	}
	r.participants[connID] = struct{}{}
	r.lastActivity = time.Now()
	rl.sessions[connID] = roomID

	state := r.doc.Save()
	count := len(r.participants)
	others := rl.peersLocked(roomID, connID)
	replay := make(map[string]json.RawMessage, len(r.awareness))
	for id, st := range r.awareness {
		if id != connID {
			replay[id] = st
		}
	}
	rl.mu.Unlock()

	rl.send.Send(connID, protocol.MustEnvelope(protocol.TypeCRDTSync, protocol.CRDTSync{
		RoomID: roomID,
		State:  state,
	}))
	for id, st := range replay {
		rl.send.Send(connID, protocol.MustEnvelope(protocol.TypeAwarenessUpdate, protocol.Awareness{
			RoomID: roomID,
			UserID: id,
			State:  st,
		}))
	}
	countEnv := protocol.MustEnvelope(protocol.TypeUserCountUpdate, protocol.UserCount{
		RoomID:    roomID,
		UserCount: count,
	})
	rl.send.Send(connID, countEnv)
	for _, id := range others {
		rl.send.Send(id, countEnv)
	}
}

// ApplyUpdate merges an opaque delta into the room's replica and forwards
// the same bytes verbatim to every other participant. A delta that fails
// to apply is logged and dropped; the sender hears nothing and converges
// from later traffic.
func (rl *Relay) ApplyUpdate(connID, roomID string, delta []byte) {
	rl.mu.Lock()
	r, ok := rl.rooms[roomID]
	if !ok || rl.sessions[connID] != roomID {
		rl.mu.Unlock()
		rl.log.Debugw("crdt update for unknown room or non-member dropped", "conn", connID, "room", roomID)
		return
	}
	if err := r.doc.LoadIncremental(delta); err != nil {
		rl.mu.Unlock()
		metrics.DeltasRejected.Inc()
		rl.log.Warnw("failed to apply crdt delta", "room", roomID, "conn", connID, "error", err)
		return
	}
	r.lastActivity = time.Now()
	peers := rl.peersLocked(roomID, connID)
	rl.mu.Unlock()

	metrics.DeltasRelayed.Inc()
	env := protocol.MustEnvelope(protocol.TypeCRDTUpdate, protocol.CRDTUpdate{
		RoomID: roomID,
		Delta:  delta,
	})
	for _, id := range peers {
		rl.send.Send(id, env)
	}
}

// UpdateAwareness stores the sender's ephemeral presence record (full
// replace, last writer wins) and rebroadcasts it.
func (rl *Relay) UpdateAwareness(connID, roomID string, state json.RawMessage) {
	rl.mu.Lock()
	r, ok := rl.rooms[roomID]
	if !ok || rl.sessions[connID] != roomID {
		rl.mu.Unlock()
		return
	}
	r.awareness[connID] = state
	r.lastActivity = time.Now()
	peers := rl.peersLocked(roomID, connID)
	rl.mu.Unlock()

	env := protocol.MustEnvelope(protocol.TypeAwarenessUpdate, protocol.Awareness{
		RoomID: roomID,
		UserID: connID,
		State:  state,
	})
	for _, id := range peers {
		rl.send.Send(id, env)
	}
}

// Leave removes the connection from the document session. Presence is torn
// down immediately with an explicit awareness-remove broadcast; the last
// leaver destroys the document outright.
func (rl *Relay) Leave(connID, roomID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.leaveLocked(connID, roomID)
}

// Disconnect is the implicit-leave path for a dropped connection.
func (rl *Relay) Disconnect(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if roomID, ok := rl.sessions[connID]; ok {
		rl.leaveLocked(connID, roomID)
	}
}

func (rl *Relay) leaveLocked(connID, roomID string) {
	r, ok := rl.rooms[roomID]
	if !ok {
		if rl.sessions[connID] == roomID {
			delete(rl.sessions, connID)
		}
		return
	}
	if _, ok := r.participants[connID]; !ok {
		return
	}
	delete(r.participants, connID)
	delete(r.awareness, connID)
	if rl.sessions[connID] == roomID {
		delete(rl.sessions, connID)
	}
	r.lastActivity = time.Now()

	if len(r.participants) == 0 {
		delete(rl.rooms, roomID)
		metrics.LiveDocuments.Dec()
		rl.log.Infow("document destroyed", "room", roomID)
		return
	}

	peers := rl.peersLocked(roomID, "")
	removeEnv := protocol.MustEnvelope(protocol.TypeAwarenessRemove, protocol.AwarenessRemove{
		RoomID: roomID,
		UserID: connID,
	})
	countEnv := protocol.MustEnvelope(protocol.TypeUserCountUpdate, protocol.UserCount{
		RoomID:    roomID,
		UserCount: len(r.participants),
	})
	for _, id := range peers {
		rl.send.Send(id, removeEnv)
		rl.send.Send(id, countEnv)
	}
}

// DocState returns the current full encoding of a room's document, or nil
// if the room has no document.
func (rl *Relay) DocState(roomID string) []byte {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	r, ok := rl.rooms[roomID]
	if !ok {
		return nil
	}
	return r.doc.Save()
}

// DocCount returns the number of live documents.
func (rl *Relay) DocCount() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.rooms)
}

// SweepIdle destroys documents idle beyond ttl, mirroring the drawing
// registry's leak guard.
func (rl *Relay) SweepIdle(ttl time.Duration) []string {
	cutoff := time.Now().Add(-ttl)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	var swept []string
	for id, r := range rl.rooms {
		if r.lastActivity.After(cutoff) {
			continue
		}
		for connID := range r.participants {
			if rl.sessions[connID] == id {
				delete(rl.sessions, connID)
			}
		}
		delete(rl.rooms, id)
		metrics.LiveDocuments.Dec()
		swept = append(swept, id)
	}
	if len(swept) > 0 {
		rl.log.Infow("swept idle documents", "count", len(swept), "rooms", swept)
	}
	return swept
}

func (rl *Relay) peersLocked(roomID, exclude string) []string {
	r, ok := rl.rooms[roomID]
	if !ok {
		return nil
	}
	peers := make([]string, 0, len(r.participants))
	for id := range r.participants {
		if id != exclude {
			peers = append(peers, id)
		}
	}
	return peers
}
