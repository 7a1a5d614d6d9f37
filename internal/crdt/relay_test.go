package crdt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cosketch/backend/internal/protocol"
)

type recorder struct {
	sent map[string][]protocol.Envelope
}

func newRecorder() *recorder {
	return &recorder{sent: make(map[string][]protocol.Envelope)}
}

func (r *recorder) Send(connID string, env protocol.Envelope) {
	r.sent[connID] = append(r.sent[connID], env)
}

func (r *recorder) reset() {
	r.sent = make(map[string][]protocol.Envelope)
}

func (r *recorder) byType(connID string, t protocol.Type) []protocol.Envelope {
	var out []protocol.Envelope
	for _, env := range r.sent[connID] {
		if env.Type == t {
			out = append(out, env)
		}
	}
	return out
}

func setupRelay(t *testing.T) (*Relay, *recorder) {
	t.Helper()
	rec := newRecorder()
	return NewRelay(rec, zap.NewNop().Sugar()), rec
}

// editDoc applies a local change to a client replica and returns the
// incremental delta bytes a real editor would put on the wire.
func editDoc(t *testing.T, doc *automerge.Doc, key, value string) []byte {
	t.Helper()
	require.NoError(t, doc.Path(key).Set(value))
	delta := doc.SaveIncremental()
	require.NotEmpty(t, delta)
	return delta
}

func docValue(t *testing.T, doc *automerge.Doc, key string) any {
	t.Helper()
	v, err := doc.Path(key).Get()
	require.NoError(t, err)
	return v.Interface()
}

func TestJoinSendsFullStateNotDelta(t *testing.T) {
	relay, rec := setupRelay(t)

	relay.Join("c1", "doc-a")
	client := automerge.New()
	relay.ApplyUpdate("c1", "doc-a", editDoc(t, client, "text", "hello"))

	rec.reset()
	relay.Join("late", "doc-a")

	syncs := rec.byType("late", protocol.TypeCRDTSync)
	require.Len(t, syncs, 1)

	var sync protocol.CRDTSync
	require.NoError(t, syncs[0].Decode(&sync))

	// The state is a full document encoding a fresh replica can load.
	loaded, err := automerge.Load(sync.State)
	require.NoError(t, err)
	assert.Equal(t, "hello", docValue(t, loaded, "text"))
}

func TestUpdateRelayedVerbatimToOthers(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")
	relay.Join("c3", "doc-b")
	rec.reset()

	client := automerge.New()
	delta := editDoc(t, client, "text", "hi")
	relay.ApplyUpdate("c1", "doc-a", delta)

	assert.Empty(t, rec.byType("c1", protocol.TypeCRDTUpdate), "sender must not hear its own delta")
	assert.Empty(t, rec.byType("c3", protocol.TypeCRDTUpdate), "other documents must not hear it")

	updates := rec.byType("c2", protocol.TypeCRDTUpdate)
	require.Len(t, updates, 1)
	var up protocol.CRDTUpdate
	require.NoError(t, updates[0].Decode(&up))
	assert.Equal(t, delta, up.Delta, "delta bytes are forwarded untouched")
}

func TestReplicaConvergesAcrossClients(t *testing.T) {
	relay, _ := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")

	alice := automerge.New()
	bob := automerge.New()

	relay.ApplyUpdate("c1", "doc-a", editDoc(t, alice, "alice", "a1"))
	relay.ApplyUpdate("c2", "doc-a", editDoc(t, bob, "bob", "b1"))
	relay.ApplyUpdate("c1", "doc-a", editDoc(t, alice, "alice", "a2"))

	loaded, err := automerge.Load(relay.DocState("doc-a"))
	require.NoError(t, err)
	assert.Equal(t, "a2", docValue(t, loaded, "alice"))
	assert.Equal(t, "b1", docValue(t, loaded, "bob"))
}

func TestDuplicateDeltaIsIdempotent(t *testing.T) {
	relay, _ := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")

	client := automerge.New()
	delta := editDoc(t, client, "text", "once")

	relay.ApplyUpdate("c1", "doc-a", delta)
	relay.ApplyUpdate("c2", "doc-a", delta)

	loaded, err := automerge.Load(relay.DocState("doc-a"))
	require.NoError(t, err)
	assert.Equal(t, "once", docValue(t, loaded, "text"))
}

func TestMalformedDeltaDropped(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")
	rec.reset()

	relay.ApplyUpdate("c1", "doc-a", []byte("definitely not automerge"))

	assert.Empty(t, rec.byType("c2", protocol.TypeCRDTUpdate), "a rejected delta must not be forwarded")
	assert.Equal(t, 1, relay.DocCount(), "the document survives a bad delta")
}

func TestUpdateFromNonMemberDropped(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	rec.reset()

	client := automerge.New()
	relay.ApplyUpdate("intruder", "doc-a", editDoc(t, client, "x", "y"))

	assert.Empty(t, rec.sent)
}

func TestAwarenessReplayAndLastWriterWins(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")

	relay.UpdateAwareness("c1", "doc-a", json.RawMessage(`{"cursor":1}`))
	relay.UpdateAwareness("c1", "doc-a", json.RawMessage(`{"cursor":2}`))

	// c2 heard both live updates.
	assert.Len(t, rec.byType("c2", protocol.TypeAwarenessUpdate), 2)

	// A late joiner only sees the latest record per participant.
	rec.reset()
	relay.Join("late", "doc-a")
	replays := rec.byType("late", protocol.TypeAwarenessUpdate)
	require.Len(t, replays, 1)

	var aw protocol.Awareness
	require.NoError(t, replays[0].Decode(&aw))
	assert.Equal(t, "c1", aw.UserID)
	assert.JSONEq(t, `{"cursor":2}`, string(aw.State))
}

func TestLeaveBroadcastsAwarenessRemoveAndCount(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")
	relay.UpdateAwareness("c1", "doc-a", json.RawMessage(`{"cursor":1}`))
	rec.reset()

	relay.Leave("c1", "doc-a")

	removes := rec.byType("c2", protocol.TypeAwarenessRemove)
	require.Len(t, removes, 1)
	var rm protocol.AwarenessRemove
	require.NoError(t, removes[0].Decode(&rm))
	assert.Equal(t, "c1", rm.UserID)

	counts := rec.byType("c2", protocol.TypeUserCountUpdate)
	require.Len(t, counts, 1)
	var uc protocol.UserCount
	require.NoError(t, counts[0].Decode(&uc))
	assert.Equal(t, 1, uc.UserCount)

	// c1's stale awareness must not replay to later joiners.
	rec.reset()
	relay.Join("late", "doc-a")
	assert.Empty(t, rec.byType("late", protocol.TypeAwarenessUpdate))
}

func TestLastLeaveDestroysDocument(t *testing.T) {
	relay, _ := setupRelay(t)
	relay.Join("c1", "doc-a")

	client := automerge.New()
	relay.ApplyUpdate("c1", "doc-a", editDoc(t, client, "text", "gone"))

	relay.Leave("c1", "doc-a")
	assert.Equal(t, 0, relay.DocCount())
	assert.Nil(t, relay.DocState("doc-a"))

	// Rejoining starts from an empty document.
	relay.Join("c1", "doc-a")
	loaded, err := automerge.Load(relay.DocState("doc-a"))
	require.NoError(t, err)
	assert.Nil(t, docValue(t, loaded, "text"))
}

func TestDisconnectActsAsLeave(t *testing.T) {
	relay, rec := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c2", "doc-a")
	rec.reset()

	relay.Disconnect("c1")

	assert.Len(t, rec.byType("c2", protocol.TypeUserCountUpdate), 1)
	assert.Equal(t, 1, relay.DocCount())

	relay.Disconnect("c2")
	assert.Equal(t, 0, relay.DocCount())
}

func TestJoinTransfersBetweenDocuments(t *testing.T) {
	relay, _ := setupRelay(t)
	relay.Join("c1", "doc-a")
	relay.Join("c1", "doc-b")

	assert.Equal(t, 1, relay.DocCount(), "leaving doc-a as last participant destroys it")
	assert.Nil(t, relay.DocState("doc-a"))
	assert.NotNil(t, relay.DocState("doc-b"))
}

func TestSweepIdleDestroysStaleDocuments(t *testing.T) {
	relay, _ := setupRelay(t)
	relay.Join("c1", "stale")
	relay.Join("c2", "fresh")

	relay.mu.Lock()
	relay.rooms["stale"].lastActivity = time.Now().Add(-48 * time.Hour)
	relay.mu.Unlock()

	swept := relay.SweepIdle(24 * time.Hour)
	assert.Equal(t, []string{"stale"}, swept)
	assert.Equal(t, 1, relay.DocCount())
}
