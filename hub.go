package main

import "sync"

const (
	maxConnsPerIP = 5
	maxTotalConns = 1000
)

// Hub manages all connected clients, their room broadcast groups and
// the identity -> connection mapping used for single-player sends.
type Hub struct {
	mu         sync.RWMutex
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	// Connection limiting (mutex-protected, accessed from HTTP handlers)
	connMu     sync.Mutex
	ipConns    map[string]int
	totalConns int
	// Room broadcast groups: roomID -> members
	groupMu sync.RWMutex
	groups  map[string]map[*Client]bool
	// Resolved identity -> active connection
	identMu    sync.RWMutex
	identities map[string]*Client
	// Engine & collaborators
	store     *Store
	auth      *Auth
	analytics *Analytics
	rooms     *RoomManager
}

// NewHub creates a new Hub wired to the store
func NewHub(store *Store) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		ipConns:    make(map[string]int),
		groups:     make(map[string]map[*Client]bool),
		identities: make(map[string]*Client),
		store:      store,
		auth:       NewAuth(store),
	}
	h.analytics = NewAnalytics(store)
	h.rooms = NewRoomManager(store, h, h.analytics)
	return h
}

func (h *Hub) CanAccept(ip string) bool {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	if h.totalConns >= maxTotalConns {
		return false
	}
	if h.ipConns[ip] >= maxConnsPerIP {
		return false
	}
	return true
}

func (h *Hub) TrackConnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]++
	h.totalConns++
}

func (h *Hub) TrackDisconnect(ip string) {
	h.connMu.Lock()
	defer h.connMu.Unlock()
	h.ipConns[ip]--
	if h.ipConns[ip] <= 0 {
		delete(h.ipConns, ip)
	}
	h.totalConns--
}

// Run processes register/unregister events
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

			h.LeaveAllGroups(client)
			if client.username != "" && h.UnbindIdentity(client.username, client) {
				// Cleanup removes rosters/positions; any pending
				// respawn timer for this player validates on fire.
				h.rooms.Disconnect(client.username)
			}
		}
	}
}

// JoinGroup subscribes a connection to a room's broadcasts
func (h *Hub) JoinGroup(roomID string, c *Client) {
	h.groupMu.Lock()
	defer h.groupMu.Unlock()
	g, ok := h.groups[roomID]
	if !ok {
		g = make(map[*Client]bool)
		h.groups[roomID] = g
	}
	g[c] = true
}

// LeaveGroup removes the identity's connection from one room's
// broadcast group, so players cleared from a room stop receiving its
// frames while staying connected.
func (h *Hub) LeaveGroup(roomID, player string) {
	h.identMu.RLock()
	c := h.identities[player]
	h.identMu.RUnlock()
	if c == nil {
		return
	}
	h.groupMu.Lock()
	if g, ok := h.groups[roomID]; ok {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, roomID)
		}
	}
	h.groupMu.Unlock()
}

// LeaveAllGroups removes a connection from every broadcast group
func (h *Hub) LeaveAllGroups(c *Client) {
	h.groupMu.Lock()
	defer h.groupMu.Unlock()
	for roomID, g := range h.groups {
		delete(g, c)
		if len(g) == 0 {
			delete(h.groups, roomID)
		}
	}
}

// BindIdentity maps a resolved identity to its active connection. A
// reconnect replaces the previous binding.
func (h *Hub) BindIdentity(username string, c *Client) {
	h.identMu.Lock()
	defer h.identMu.Unlock()
	h.identities[username] = c
}

// UnbindIdentity removes the mapping if it still points at this
// connection. Returns whether this connection owned the identity.
func (h *Hub) UnbindIdentity(username string, c *Client) bool {
	h.identMu.Lock()
	defer h.identMu.Unlock()
	if h.identities[username] != c {
		return false
	}
	delete(h.identities, username)
	return true
}

// BroadcastAll sends an envelope to every connected client
func (h *Hub) BroadcastAll(env Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.SendJSON(env)
	}
}

// BroadcastRoom sends an envelope to every member of a room group
func (h *Hub) BroadcastRoom(roomID string, env Envelope) {
	h.groupMu.RLock()
	defer h.groupMu.RUnlock()
	for c := range h.groups[roomID] {
		c.SendJSON(env)
	}
}

// BroadcastRoomBinary sends a binary frame to every member of a room group
func (h *Hub) BroadcastRoomBinary(roomID string, frame []byte) {
	h.groupMu.RLock()
	defer h.groupMu.RUnlock()
	for c := range h.groups[roomID] {
		c.SendBinary(frame)
	}
}

// SendToPlayer delivers an envelope to the identity's connection,
// reporting whether the player was online.
func (h *Hub) SendToPlayer(player string, env Envelope) bool {
	h.identMu.RLock()
	c := h.identities[player]
	h.identMu.RUnlock()
	if c == nil {
		return false
	}
	c.SendJSON(env)
	return true
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
