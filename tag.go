package main

import (
	"log"
	"time"
)

// RespawnDelay is how long a tagged player stays dead. Var so tests
// can shorten it.
var RespawnDelay = 5 * time.Second

// checkTag evaluates tag consequences of an accepted move. A tag
// requires opposing teams with exactly one side on the room's
// attacking team; whoever is attacking is the tagger regardless of who
// moved. At most one tag resolves per move. Called under the room
// lock with the cache already refreshed.
func (m *RoomManager) checkTag(doc *RoomDoc, mover string, x, y float64) {
	me := doc.FindPlayer(mover)
	if me == nil {
		return
	}
	positions, err := m.cache.Positions(doc.ID)
	if err != nil || positions == nil {
		return
	}

	moverAttacking := me.Team == doc.Attacking
	for id, pos := range positions {
		if id == mover {
			continue
		}
		if pos.Team == me.Team {
			continue
		}
		if (pos.Team == doc.Attacking) == moverAttacking {
			continue // zero or two attackers in the pair
		}
		if m.isDead(doc.ID, id) {
			continue
		}
		if Chebyshev(x, y, pos.X, pos.Y) > 1 {
			continue
		}
		if moverAttacking {
			m.tag(doc, mover, id)
		} else {
			m.tag(doc, id, mover)
		}
		return
	}
}

// tag marks the victim dead and schedules the respawn. The tagger's
// team is recorded now: the respawn uses it even if the tagger later
// switches teams or leaves.
func (m *RoomManager) tag(doc *RoomDoc, tagger, victim string) {
	taggerEntry := doc.FindPlayer(tagger)
	if taggerEntry == nil {
		return
	}

	key := statusKey(doc.ID, victim)
	m.mu.Lock()
	if st, ok := m.status[key]; ok && st.dead {
		m.mu.Unlock()
		return // already dead, one timer per victim
	}
	m.status[key] = &playerStatus{dead: true, tagger: tagger, respawnTeam: taggerEntry.Team}
	if m.timers[key] == nil {
		roomID := doc.ID
		m.timers[key] = time.AfterFunc(RespawnDelay, func() {
			m.respawn(roomID, victim)
		})
	}
	m.mu.Unlock()

	m.notify.BroadcastRoom(doc.ID, Envelope{T: MsgPlayerTagged, Data: PlayerTaggedMsg{Tagger: tagger, Target: victim}})
	m.track(EvtPlayerTagged, victim, doc.ID, tagger)
}

// respawn fires after RespawnDelay, detached from the tagging
// connection. The room or player may have vanished meanwhile, so it
// validates against current state and no-ops rather than faulting.
func (m *RoomManager) respawn(roomID, victim string) {
	key := statusKey(roomID, victim)

	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	m.mu.Lock()
	st := m.status[key]
	delete(m.timers, key)
	m.mu.Unlock()
	if st == nil || !st.dead {
		return
	}

	clear := func() {
		m.mu.Lock()
		delete(m.status, key)
		m.mu.Unlock()
	}

	doc, err := m.cache.Get(roomID)
	if err != nil || doc == nil {
		if err == nil {
			m.dropLock(roomID)
		}
		clear()
		return
	}
	if doc.FindPlayer(victim) == nil {
		clear()
		return
	}

	team := st.respawnTeam
	updated, err := m.store.UpdateRoom(roomID, func(d *RoomDoc) error {
		d.RemoveFromRosters(victim)
		d.AddToRoster(victim, team)
		if p := d.FindPlayer(victim); p != nil {
			p.Team = team
		}
		return nil
	})
	if err != nil || updated == nil {
		log.Printf("[RESPAWN] persist failed for %s in %s: %v", victim, roomID, err)
		clear()
		return
	}
	m.cache.Put(updated)
	clear()
	m.touch(roomID)

	m.emitRosters(updated)
	m.broadcastPositions(updated)
	m.notify.BroadcastRoom(roomID, Envelope{T: MsgPlayerRespawned, Data: PlayerRespawnedMsg{Player: victim, Team: team}})
	m.track(EvtPlayerRespawned, victim, roomID, team)
}

// isDead reports whether the player is in the dead-pending-respawn state
func (m *RoomManager) isDead(roomID, player string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.status[statusKey(roomID, player)]
	return st != nil && st.dead
}
