package main

import (
	"database/sql"
	"log"
	"sync"
	"time"
)

// Event types for the analytics trail
const (
	EvtRoomCreated     = "room_created"
	EvtGameStarted     = "game_started"
	EvtPlayerTagged    = "player_tagged"
	EvtPlayerRespawned = "player_respawned"
)

// AnalyticsEvent represents a single trackable event
type AnalyticsEvent struct {
	Type      string
	Player    string
	RoomID    string
	Data      string
	Timestamp time.Time
}

// Analytics handles event tracking with batched background writes
type Analytics struct {
	store  *Store
	events chan AnalyticsEvent
	stop   chan struct{}
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewAnalytics creates and starts the analytics background writer
func NewAnalytics(store *Store) *Analytics {
	a := &Analytics{
		store:  store,
		events: make(chan AnalyticsEvent, 1024),
		stop:   make(chan struct{}),
	}
	a.wg.Add(1)
	go a.writer()
	return a
}

// Track enqueues an event for async persistence (non-blocking). Events
// arriving after Stop are dropped; detached respawn timers can outlive
// the writer.
func (a *Analytics) Track(evtType, player, roomID, data string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.events <- AnalyticsEvent{
		Type:      evtType,
		Player:    player,
		RoomID:    roomID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}:
	default:
		// Channel full: drop event rather than blocking the hot path
	}
}

// Stop shuts down the writer after flushing queued events. Idempotent.
func (a *Analytics) Stop() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	a.mu.Unlock()

	close(a.stop)
	a.wg.Wait()
}

// writer is the background goroutine that batches and writes events
func (a *Analytics) writer() {
	defer a.wg.Done()

	batch := make([]AnalyticsEvent, 0, 64)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case evt := <-a.events:
			batch = append(batch, evt)
			if len(batch) >= 50 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				a.flush(batch)
				batch = batch[:0]
			}
		case <-a.stop:
			// Drain remaining events
			close(a.events)
			for evt := range a.events {
				batch = append(batch, evt)
			}
			if len(batch) > 0 {
				a.flush(batch)
			}
			return
		}
	}
}

// flush writes a batch of events to the store
func (a *Analytics) flush(events []AnalyticsEvent) {
	if a.store == nil || len(events) == 0 {
		return
	}
	tx, err := a.store.conn.Begin()
	if err != nil {
		log.Printf("analytics: begin tx error: %v", err)
		return
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO events (event_type, player, room_id, data, created_at) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		log.Printf("analytics: prepare error: %v", err)
		return
	}
	defer stmt.Close()

	for _, evt := range events {
		player := sql.NullString{String: evt.Player, Valid: evt.Player != ""}
		room := sql.NullString{String: evt.RoomID, Valid: evt.RoomID != ""}
		data := sql.NullString{String: evt.Data, Valid: evt.Data != ""}
		if _, err := stmt.Exec(evt.Type, player, room, data, evt.Timestamp.Format(time.RFC3339)); err != nil {
			log.Printf("analytics: insert error: %v", err)
			return
		}
	}
	if err := tx.Commit(); err != nil {
		log.Printf("analytics: commit error: %v", err)
	}
}
