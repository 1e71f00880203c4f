package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the persistent room store: a transactional key-document
// store over SQLite. Room documents are JSON blobs keyed by the
// engine-generated room id; users, settings and analytics events live
// in side tables.
type Store struct {
	conn *sql.DB
}

// UserRow represents an account record
type UserRow struct {
	ID        int64
	Username  string
	PassHash  string
	CreatedAt time.Time
}

// OpenStore opens (or creates) the SQLite database
func OpenStore(path string) (*Store, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, err
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, err
	}

	s := &Store{conn: conn}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// migrate creates tables if they don't exist
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS rooms (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL UNIQUE,
		pass_hash TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS settings (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		player TEXT,
		room_id TEXT,
		data TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_username ON users(username);
	CREATE INDEX IF NOT EXISTS idx_events_room ON events(room_id);
	`
	_, err := s.conn.Exec(schema)
	if err != nil {
		log.Printf("store migration error: %v", err)
	}
	return err
}

// InsertRoom persists a new room document
func (s *Store) InsertRoom(doc *RoomDoc) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec("INSERT INTO rooms (id, doc) VALUES (?, ?)", doc.ID, string(raw))
	return err
}

// FindRoom returns the room document, or (nil, nil) when unknown
func (s *Store) FindRoom(id string) (*RoomDoc, error) {
	row := s.conn.QueryRow("SELECT doc FROM rooms WHERE id = ?", id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return decodeRoom(raw)
}

// UpdateRoom applies a mutator to the room document inside one
// transaction: read, mutate, write. This is the engine's patch
// contract: field sets and roster push/pull all run as a single
// atomic read-modify-write against the document. Returns the updated
// document, or (nil, nil) when the room does not exist.
func (s *Store) UpdateRoom(id string, mutate func(*RoomDoc) error) (*RoomDoc, error) {
	tx, err := s.conn.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRow("SELECT doc FROM rooms WHERE id = ?", id)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	doc, err := decodeRoom(raw)
	if err != nil {
		return nil, err
	}
	if err := mutate(doc); err != nil {
		return nil, err
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(
		"UPDATE rooms SET doc = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?",
		string(out), id,
	); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return doc, nil
}

// DeleteRoom removes a room document
func (s *Store) DeleteRoom(id string) error {
	_, err := s.conn.Exec("DELETE FROM rooms WHERE id = ?", id)
	return err
}

// ListRooms returns the {id, name} projection of every room
func (s *Store) ListRooms() ([]RoomInfo, error) {
	rows, err := s.conn.Query("SELECT doc FROM rooms ORDER BY updated_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	list := make([]RoomInfo, 0)
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeRoom(raw)
		if err != nil {
			return nil, err
		}
		list = append(list, RoomInfo{ID: doc.ID, Name: doc.Name})
	}
	return list, rows.Err()
}

// FindRoomsWithPlayer returns every room whose rosters or player list
// contain the identity (the disconnect-cleanup membership query).
func (s *Store) FindRoomsWithPlayer(player string) ([]*RoomDoc, error) {
	rows, err := s.conn.Query("SELECT doc FROM rooms")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*RoomDoc
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		doc, err := decodeRoom(raw)
		if err != nil {
			return nil, err
		}
		if doc.OnAnyRoster(player) || doc.FindPlayer(player) != nil {
			out = append(out, doc)
		}
	}
	return out, rows.Err()
}

func decodeRoom(raw string) (*RoomDoc, error) {
	doc := &RoomDoc{}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, fmt.Errorf("corrupt room document: %w", err)
	}
	return doc, nil
}

// CreateUser creates a new account (returns user ID)
func (s *Store) CreateUser(username, passHash string) (int64, error) {
	res, err := s.conn.Exec(
		"INSERT INTO users (username, pass_hash) VALUES (?, ?)",
		username, passHash,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// GetUserByUsername returns an account, or (nil, nil) when unknown
func (s *Store) GetUserByUsername(username string) (*UserRow, error) {
	row := s.conn.QueryRow(
		"SELECT id, username, pass_hash, created_at FROM users WHERE username = ?",
		username,
	)
	u := &UserRow{}
	err := row.Scan(&u.ID, &u.Username, &u.PassHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// UsernameExists checks if a username is taken
func (s *Store) UsernameExists(username string) (bool, error) {
	var count int
	err := s.conn.QueryRow("SELECT COUNT(*) FROM users WHERE username = ?", username).Scan(&count)
	return count > 0, err
}

// GetSetting returns a settings value, or "" when absent
func (s *Store) GetSetting(key string) string {
	var value string
	err := s.conn.QueryRow("SELECT value FROM settings WHERE key = ?", key).Scan(&value)
	if err != nil {
		return ""
	}
	return value
}

// SetSetting upserts a settings value
func (s *Store) SetSetting(key, value string) error {
	_, err := s.conn.Exec(
		"INSERT INTO settings (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	return err
}
