package main

import (
	"log"
	"math"
)

// Move validates and applies a displacement for one player. Rejections
// are silent: no state change, no broadcast. An accepted move persists
// the new coordinates, refreshes the cache, evaluates tags, then
// broadcasts the positions frame, all under the room's lock so two
// concurrent moves for the same player cannot interleave.
func (m *RoomManager) Move(roomID, player string, msg MoveMsg) {
	l := m.roomLock(roomID)
	l.Lock()
	defer l.Unlock()

	doc, err := m.cache.Get(roomID)
	if err != nil || doc == nil {
		if err == nil {
			m.dropLock(roomID)
		}
		return
	}
	entry := doc.FindPlayer(player)
	if entry == nil {
		return
	}
	if m.isDead(roomID, player) {
		return
	}

	dx, dy := msg.Delta()
	tx := Round2(entry.X + dx)
	ty := Round2(entry.Y + dy)

	terrain := doc.TerrainSource()
	w, h := terrain.Size()

	// Bounds: clamping needed on both axes rejects the move outright;
	// on exactly one axis the other axis's motion still applies.
	outX := tx < 0 || tx > float64(w-1)
	outY := ty < 0 || ty > float64(h-1)
	if outX && outY {
		return
	}
	if outX {
		tx = entry.X
	}
	if outY {
		ty = entry.Y
	}

	// Terrain: each axis is blocked independently, so sliding along a
	// wall on the free axis remains possible.
	newX := tx
	if blockedFor(terrain, tx, entry.Y, entry.Team) {
		newX = entry.X
	}
	newY := ty
	if blockedFor(terrain, newX, ty, entry.Team) {
		newY = entry.Y
	}
	if newX == entry.X && newY == entry.Y {
		return
	}

	updated, err := m.store.UpdateRoom(roomID, func(d *RoomDoc) error {
		p := d.FindPlayer(player)
		if p == nil {
			return errRoomNotFound
		}
		p.X = newX
		p.Y = newY
		return nil
	})
	if err != nil || updated == nil {
		log.Printf("[MOVE] persist failed for %s in %s: %v", player, roomID, err)
		return
	}
	m.cache.Put(updated)
	m.touch(roomID)

	m.checkTag(updated, player, newX, newY)
	m.broadcastPositions(updated)
}

// blockedFor samples the four tiles surrounding a fractional position
// (floor/ceil of each axis, collapsing when integral) and reports
// whether any of them stops the mover's team.
func blockedFor(t TerrainSource, x, y float64, team string) bool {
	x0, x1 := int(math.Floor(x)), int(math.Ceil(x))
	y0, y1 := int(math.Floor(y)), int(math.Ceil(y))
	for _, tx := range [2]int{x0, x1} {
		for _, ty := range [2]int{y0, y1} {
			if t.TileAt(tx, ty).Blocks(team) {
				return true
			}
		}
	}
	return false
}
