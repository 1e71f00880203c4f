package main

import "sync"

// PlayerPos is the derived per-player view used for proximity scans
type PlayerPos struct {
	X    float64
	Y    float64
	Team string
}

type cacheEntry struct {
	doc       *RoomDoc
	positions map[string]PlayerPos
}

// RoomCache is a read-through, invalidate-on-write cache of room
// documents plus a derived {player: {x, y, team}} map, keeping the
// movement hot path off the store. Mutators must call Put (atomic
// replace) or Invalidate before any broadcast built from post-write
// state.
type RoomCache struct {
	mu      sync.RWMutex
	store   *Store
	entries map[string]*cacheEntry
}

// NewRoomCache creates an empty cache backed by the store
func NewRoomCache(store *Store) *RoomCache {
	return &RoomCache{
		store:   store,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached room document, reading through to the store
// on a miss. Unknown rooms return (nil, nil) and are not cached.
func (c *RoomCache) Get(roomID string) (*RoomDoc, error) {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if ok {
		return e.doc, nil
	}

	doc, err := c.store.FindRoom(roomID)
	if err != nil || doc == nil {
		return nil, err
	}
	c.Put(doc)
	return doc, nil
}

// Positions returns a copy of the derived position map, loading the
// room on a miss.
func (c *RoomCache) Positions(roomID string) (map[string]PlayerPos, error) {
	c.mu.RLock()
	e, ok := c.entries[roomID]
	c.mu.RUnlock()
	if !ok {
		if _, err := c.Get(roomID); err != nil {
			return nil, err
		}
		c.mu.RLock()
		e, ok = c.entries[roomID]
		c.mu.RUnlock()
		if !ok {
			return nil, nil
		}
	}

	out := make(map[string]PlayerPos, len(e.positions))
	for k, v := range e.positions {
		out[k] = v
	}
	return out, nil
}

// Put atomically replaces the entry for a freshly written document,
// deriving the position map in the same step. Using Put after a store
// write means there is no window where a stale entry can be read.
func (c *RoomCache) Put(doc *RoomDoc) {
	positions := make(map[string]PlayerPos, len(doc.Players))
	for _, p := range doc.Players {
		positions[p.ID] = PlayerPos{X: p.X, Y: p.Y, Team: p.Team}
	}
	c.mu.Lock()
	c.entries[doc.ID] = &cacheEntry{doc: doc, positions: positions}
	c.mu.Unlock()
}

// Invalidate drops the entry for a room; the next Get reads through
func (c *RoomCache) Invalidate(roomID string) {
	c.mu.Lock()
	delete(c.entries, roomID)
	c.mu.Unlock()
}
