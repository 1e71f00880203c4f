package main

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// mockNotifier records everything the engine emits
type mockNotifier struct {
	mu     sync.Mutex
	all    []Envelope
	room   map[string][]Envelope
	binary map[string][][]byte
	direct map[string][]Envelope
	left   map[string][]string
}

func newMockNotifier() *mockNotifier {
	return &mockNotifier{
		room:   make(map[string][]Envelope),
		binary: make(map[string][][]byte),
		direct: make(map[string][]Envelope),
		left:   make(map[string][]string),
	}
}

func (n *mockNotifier) BroadcastAll(env Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.all = append(n.all, env)
}

func (n *mockNotifier) BroadcastRoom(roomID string, env Envelope) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.room[roomID] = append(n.room[roomID], env)
}

func (n *mockNotifier) BroadcastRoomBinary(roomID string, frame []byte) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.binary[roomID] = append(n.binary[roomID], append([]byte(nil), frame...))
}

func (n *mockNotifier) SendToPlayer(player string, env Envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.direct[player] = append(n.direct[player], env)
	return true
}

func (n *mockNotifier) LeaveGroup(roomID, player string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.left[roomID] = append(n.left[roomID], player)
}

// roomEvents returns room-group envelopes of one type
func (n *mockNotifier) roomEvents(roomID, msgType string) []Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Envelope
	for _, env := range n.room[roomID] {
		if env.T == msgType {
			out = append(out, env)
		}
	}
	return out
}

// directEvents returns single-connection envelopes of one type
func (n *mockNotifier) directEvents(player, msgType string) []Envelope {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []Envelope
	for _, env := range n.direct[player] {
		if env.T == msgType {
			out = append(out, env)
		}
	}
	return out
}

// positionFrames decodes every binary frame broadcast to the room
func (n *mockNotifier) positionFrames(t *testing.T, roomID string) []PositionsFrame {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []PositionsFrame
	for _, raw := range n.binary[roomID] {
		var f PositionsFrame
		if err := msgpack.Unmarshal(raw, &f); err != nil {
			t.Fatalf("msgpack unmarshal: %v", err)
		}
		out = append(out, f)
	}
	return out
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// newTestManager builds a RoomManager on a throwaway store with a
// recording notifier and no analytics.
func newTestManager(t *testing.T) (*RoomManager, *mockNotifier) {
	t.Helper()
	notify := newMockNotifier()
	m := NewRoomManager(openTestStore(t), notify, nil)
	t.Cleanup(m.Stop)
	return m, notify
}

// seedRoom persists a prepared room document
func seedRoom(t *testing.T, m *RoomManager, doc *RoomDoc) {
	t.Helper()
	if err := m.store.InsertRoom(doc); err != nil {
		t.Fatalf("insert room: %v", err)
	}
}

// battlefieldDoc builds a started 10x10 open-field room with A on red
// (attacking) and B on blue.
func battlefieldDoc(id string, ax, ay, bx, by float64) *RoomDoc {
	return &RoomDoc{
		ID:        id,
		Name:      "Test Arena",
		Owner:     "A",
		RedTeam:   []string{"A"},
		BlueTeam:  []string{"B"},
		NoTeam:    []string{},
		Attacking: TeamRed,
		Started:   true,
		Terrain:   NewGrid(10, 10),
		Players: []PlayerEntry{
			{ID: "A", X: ax, Y: ay, Team: TeamRed},
			{ID: "B", X: bx, Y: by, Team: TeamBlue},
		},
	}
}

// playerPos reads a player's persisted position from the store
func playerPos(t *testing.T, m *RoomManager, roomID, player string) (float64, float64) {
	t.Helper()
	doc, err := m.store.FindRoom(roomID)
	if err != nil || doc == nil {
		t.Fatalf("find room %s: %v", roomID, err)
	}
	p := doc.FindPlayer(player)
	if p == nil {
		t.Fatalf("player %s not in room %s", player, roomID)
	}
	return p.X, p.Y
}
