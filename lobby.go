package main

import (
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Overridable in tests
var (
	RoomIdleTimeout = 30 * time.Minute
	janitorInterval = time.Minute
)

var (
	errRoomNotFound = errors.New("room not found")
	errNotOwner     = errors.New("not the room owner")
)

// Notifier delivers engine events to connected clients. The Hub is the
// production implementation; tests substitute a recorder.
type Notifier interface {
	BroadcastAll(env Envelope)
	BroadcastRoom(roomID string, env Envelope)
	BroadcastRoomBinary(roomID string, frame []byte)
	SendToPlayer(player string, env Envelope) bool
	LeaveGroup(roomID, player string)
}

// playerStatus is the transient battlefield status of one player.
// Absent = alive. respawnTeam freezes the tagger's team at tag time.
type playerStatus struct {
	dead        bool
	tagger      string
	respawnTeam string
}

// RoomManager owns room lifecycle, team assignment, the movement and
// tag engines, and every shared in-memory structure derived from room
// documents. Handlers are short critical sections: each operation
// takes the room's lock, reads latest state, writes the store,
// refreshes the cache, then broadcasts.
type RoomManager struct {
	store     *Store
	cache     *RoomCache
	notify    Notifier
	analytics *Analytics // may be nil

	mu         sync.Mutex
	locks      map[string]*sync.Mutex   // per-room critical sections
	lastActive map[string]time.Time     // idle expiry bookkeeping
	status     map[string]*playerStatus // "roomID/player" -> status
	timers     map[string]*time.Timer   // one respawn timer per dead player

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRoomManager creates the manager and starts the idle-room janitor
func NewRoomManager(store *Store, notify Notifier, analytics *Analytics) *RoomManager {
	m := &RoomManager{
		store:      store,
		cache:      NewRoomCache(store),
		notify:     notify,
		analytics:  analytics,
		locks:      make(map[string]*sync.Mutex),
		lastActive: make(map[string]time.Time),
		status:     make(map[string]*playerStatus),
		timers:     make(map[string]*time.Timer),
		stop:       make(chan struct{}),
	}
	m.wg.Add(1)
	go m.janitor()
	return m
}

// Stop terminates the janitor. Pending respawn timers are left to fire
// and validate; they survive shutdown of nothing else.
func (m *RoomManager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

func statusKey(roomID, player string) string {
	return roomID + "/" + player
}

// roomLock returns the mutex serializing mutations for one room
func (m *RoomManager) roomLock(roomID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[roomID] = l
	}
	return l
}

// dropLock removes the lock entry for a room that turned out not to
// exist, so streams of unknown room ids cannot grow the map. A caller
// holding the dropped mutex still unlocks it safely; the next operation
// on a live room simply allocates a fresh one.
func (m *RoomManager) dropLock(roomID string) {
	m.mu.Lock()
	delete(m.locks, roomID)
	m.mu.Unlock()
}

func (m *RoomManager) touch(roomID string) {
	m.mu.Lock()
	m.lastActive[roomID] = time.Now()
	m.mu.Unlock()
}

// CreateRoom allocates a unique id, persists an empty lobby room and
// broadcasts the full room list to every connection.
func (m *RoomManager) CreateRoom(owner, name, attacking string) (string, error) {
	id := uuid.NewString()
	doc := NewRoomDoc(id, name, owner, attacking)
	if err := m.store.InsertRoom(doc); err != nil {
		log.Printf("[CREATE_ROOM] insert failed: %v", err)
		return "", err
	}
	m.cache.Put(doc)
	m.touch(id)
	m.track(EvtRoomCreated, owner, id, "")
	m.broadcastRoomList()
	return id, nil
}

// ListRooms is the read-only {id, name} projection
func (m *RoomManager) ListRooms() []RoomInfo {
	list, err := m.store.ListRooms()
	if err != nil {
		log.Printf("[ROOMS] list failed: %v", err)
		return []RoomInfo{}
	}
	return list
}

func (m *RoomManager) broadcastRoomList() {
	m.notify.BroadcastAll(Envelope{T: MsgRoomList, Data: m.ListRooms()})
}

// PageReady enrolls a first-contact player on the unassigned roster
// and emits the three rosters to the room.
func (m *RoomManager) PageReady(roomID, player string) error {
	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	doc, err := m.cache.Get(roomID)
	if err != nil || doc == nil {
		if err == nil {
			m.dropLock(roomID)
		}
		log.Printf("[PAGE_READY] room %s not found", roomID)
		return errRoomNotFound
	}
	if !doc.OnAnyRoster(player) {
		updated, err := m.store.UpdateRoom(roomID, func(d *RoomDoc) error {
			if !d.OnAnyRoster(player) {
				d.AddToRoster(player, TeamNone)
			}
			return nil
		})
		if err != nil || updated == nil {
			log.Printf("[PAGE_READY] update failed for %s: %v", roomID, err)
			return errRoomNotFound
		}
		m.cache.Put(updated)
		doc = updated
	}
	m.touch(roomID)
	m.emitRosters(doc)
	return nil
}

// JoinTeam moves the player onto the requested roster. Remove-and-
// insert runs as one store transaction, so concurrent calls settle
// last-writer-wins with the player on exactly one roster.
func (m *RoomManager) JoinTeam(roomID, player, team string) error {
	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	updated, err := m.store.UpdateRoom(roomID, func(d *RoomDoc) error {
		d.RemoveFromRosters(player)
		d.AddToRoster(player, team)
		return nil
	})
	if err != nil {
		log.Printf("[JOIN_TEAM] update failed for %s: %v", roomID, err)
		return err
	}
	if updated == nil {
		m.dropLock(roomID)
		log.Printf("[JOIN_TEAM] room %s not found", roomID)
		return errRoomNotFound
	}
	m.cache.Put(updated)
	m.touch(roomID)
	m.emitRosters(updated)
	return nil
}

// StartGame transitions the room from lobby to battlefield. Only the
// owner may start. Unassigned players are cleared from the room and
// notified distinctly; everyone on red/blue gets a battlefield entry
// at their team's spawn corner and an individual game_started message.
func (m *RoomManager) StartGame(roomID, requester string) error {
	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	doc, err := m.cache.Get(roomID)
	if err != nil || doc == nil {
		if err == nil {
			m.dropLock(roomID)
		}
		log.Printf("[START_GAME] room %s not found", roomID)
		return errRoomNotFound
	}
	if doc.Owner != requester {
		log.Printf("[START_GAME] %s is not the owner of %s", requester, roomID)
		return errNotOwner
	}

	kicked := append([]string(nil), doc.NoTeam...)

	updated, err := m.store.UpdateRoom(roomID, func(d *RoomDoc) error {
		d.NoTeam = []string{}
		d.Started = true
		for _, name := range d.RedTeam {
			if d.FindPlayer(name) == nil {
				x, y := spawnPosition(TeamRed)
				d.Players = append(d.Players, PlayerEntry{ID: name, X: x, Y: y, Team: TeamRed})
			}
		}
		for _, name := range d.BlueTeam {
			if d.FindPlayer(name) == nil {
				x, y := spawnPosition(TeamBlue)
				d.Players = append(d.Players, PlayerEntry{ID: name, X: x, Y: y, Team: TeamBlue})
			}
		}
		return nil
	})
	if err != nil || updated == nil {
		log.Printf("[START_GAME] update failed for %s: %v", roomID, err)
		return errRoomNotFound
	}
	m.cache.Put(updated)
	m.touch(roomID)

	m.emitRosters(updated)
	for _, name := range kicked {
		m.notify.SendToPlayer(name, Envelope{T: MsgKicked, Data: KickedMsg{RoomID: roomID}})
		m.notify.LeaveGroup(roomID, name)
	}
	m.broadcastPositions(updated)
	// game_started must reach assigned connections only, so it is
	// resolved per identity rather than broadcast to the room group.
	for _, p := range updated.Players {
		m.notify.SendToPlayer(p.ID, Envelope{T: MsgGameStarted, Data: GameStartedMsg{Msg: "The game has started!"}})
	}
	m.track(EvtGameStarted, requester, roomID, "")
	return nil
}

// Disconnect removes the identity from every room it appears in and
// broadcasts the resulting rosters and positions. Pending respawn
// timers for the player are left alone; they validate when they fire.
func (m *RoomManager) Disconnect(player string) {
	rooms, err := m.store.FindRoomsWithPlayer(player)
	if err != nil {
		log.Printf("[DISCONNECT] membership query failed for %s: %v", player, err)
		return
	}
	for _, r := range rooms {
		l := m.roomLock(r.ID)
		l.Lock()
		hadEntry := false
		updated, err := m.store.UpdateRoom(r.ID, func(d *RoomDoc) error {
			d.RemoveFromRosters(player)
			hadEntry = d.RemovePlayer(player)
			return nil
		})
		if err != nil || updated == nil {
			l.Unlock()
			continue
		}
		m.cache.Put(updated)
		m.emitRosters(updated)
		if hadEntry {
			m.broadcastPositions(updated)
		}
		l.Unlock()
	}
}

// emitRosters sends the three team lists to the room group
func (m *RoomManager) emitRosters(doc *RoomDoc) {
	m.notify.BroadcastRoom(doc.ID, Envelope{T: MsgTeamRedList, Data: doc.RedTeam})
	m.notify.BroadcastRoom(doc.ID, Envelope{T: MsgTeamBlueList, Data: doc.BlueTeam})
	m.notify.BroadcastRoom(doc.ID, Envelope{T: MsgNoTeamList, Data: doc.NoTeam})
}

// broadcastPositions sends the msgpack positions frame for the room.
// Callers must have refreshed the cache first so the frame reflects
// post-write state.
func (m *RoomManager) broadcastPositions(doc *RoomDoc) {
	states := make([]PlayerState, 0, len(doc.Players))
	for _, p := range doc.Players {
		states = append(states, PlayerState{
			ID:     p.ID,
			X:      p.X,
			Y:      p.Y,
			Team:   p.Team,
			Alive:  !m.isDead(doc.ID, p.ID),
			Avatar: AvatarRef(p.ID, doc.ID),
		})
	}
	frame, err := msgpack.Marshal(PositionsFrame{T: MsgPlayerPositions, Players: states})
	if err != nil {
		log.Printf("positions marshal error: %v", err)
		return
	}
	m.notify.BroadcastRoomBinary(doc.ID, frame)
}

func (m *RoomManager) track(evtType, player, roomID, data string) {
	if m.analytics != nil {
		m.analytics.Track(evtType, player, roomID, data)
	}
}

// janitor expires rooms idle beyond RoomIdleTimeout
func (m *RoomManager) janitor() {
	defer m.wg.Done()
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.sweep()
		case <-m.stop:
			return
		}
	}
}

// sweep deletes rooms with no activity since RoomIdleTimeout ago.
// Rooms found in the store without an activity record (e.g. after a
// restart) are stamped now and picked up on a later pass.
func (m *RoomManager) sweep() {
	list, err := m.store.ListRooms()
	if err != nil {
		log.Printf("[JANITOR] list failed: %v", err)
		return
	}

	cutoff := time.Now().Add(-RoomIdleTimeout)
	var expired []string
	m.mu.Lock()
	for _, info := range list {
		last, ok := m.lastActive[info.ID]
		if !ok {
			m.lastActive[info.ID] = time.Now()
			continue
		}
		if last.Before(cutoff) {
			expired = append(expired, info.ID)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		m.expireRoom(id)
	}
}

func (m *RoomManager) expireRoom(roomID string) {
	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	if err := m.store.DeleteRoom(roomID); err != nil {
		log.Printf("[JANITOR] delete %s failed: %v", roomID, err)
		return
	}
	m.cache.Invalidate(roomID)

	m.mu.Lock()
	delete(m.lastActive, roomID)
	delete(m.locks, roomID)
	prefix := roomID + "/"
	for k := range m.status {
		if strings.HasPrefix(k, prefix) {
			delete(m.status, k)
		}
	}
	m.mu.Unlock()
	log.Printf("[JANITOR] expired idle room %s", roomID)
}
