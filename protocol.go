package main

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Client -> Server message types
const (
	MsgRegister   = "register"
	MsgLogin      = "login"
	MsgAuth       = "auth"
	MsgCreateRoom = "create_room"
	MsgGetRooms   = "get_rooms"
	MsgJoinRoom   = "join_room" // join the room's broadcast group
	MsgPageReady  = "page_ready"
	MsgJoinTeam   = "join_team"
	MsgStartGame  = "start_game"
	MsgMove       = "move"
	MsgLeave      = "leave"
)

// Server -> Client message types
const (
	MsgAuthOK          = "auth_ok"
	MsgRoomList        = "room_list"
	MsgTeamRedList     = "team_red_list"
	MsgTeamBlueList    = "team_blue_list"
	MsgNoTeamList      = "no_team_list"
	MsgJoinedTeam      = "joined_team"
	MsgKicked          = "kicked" // unassigned player removed on game start
	MsgGameStarted     = "game_started"
	MsgPlayerPositions = "player_positions" // msgpack binary frame
	MsgPlayerTagged    = "player_tagged"
	MsgPlayerRespawned = "player_respawned"
	MsgError           = "error"
)

// Envelope wraps all outgoing messages with a type field
type Envelope struct {
	T    string      `json:"t"`
	Data interface{} `json:"d,omitempty"`
}

// InEnvelope is used for incoming messages; json.RawMessage avoids double-unmarshal
type InEnvelope struct {
	T string          `json:"t"`
	D json.RawMessage `json:"d,omitempty"`
}

// RegisterMsg creates a new account
type RegisterMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginMsg authenticates an existing account
type LoginMsg struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AuthMsg resumes a session from a previously issued token
type AuthMsg struct {
	Token string `json:"token"`
}

func (m *AuthMsg) Validate() error {
	if m.Token == "" {
		return fmt.Errorf("missing token")
	}
	return nil
}

// CreateRoomMsg requests a new lobby room
type CreateRoomMsg struct {
	Name      string `json:"name"`
	Attacking string `json:"attacking,omitempty"` // defaults to red
}

func (m *CreateRoomMsg) Validate() error {
	m.Name = strings.TrimSpace(m.Name)
	if m.Name == "" {
		return fmt.Errorf("missing room name")
	}
	if len(m.Name) > maxRoomNameLen {
		m.Name = m.Name[:maxRoomNameLen]
	}
	switch m.Attacking {
	case "", TeamRed, TeamBlue:
		return nil
	}
	return fmt.Errorf("invalid attacking team %q", m.Attacking)
}

// JoinRoomMsg subscribes the connection to a room's broadcasts
type JoinRoomMsg struct {
	RoomID string `json:"room_id"`
}

func (m *JoinRoomMsg) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("missing room_id")
	}
	return nil
}

// PageReadyMsg is sent when a client finishes loading a page
type PageReadyMsg struct {
	RoomID string `json:"room_id,omitempty"`
	Page   string `json:"page"`
}

func (m *PageReadyMsg) Validate() error {
	switch m.Page {
	case "create_lobby":
		return nil
	case "team_select":
		if m.RoomID == "" {
			return fmt.Errorf("missing room_id")
		}
		return nil
	}
	return fmt.Errorf("unknown page %q", m.Page)
}

// JoinTeamMsg moves the player onto a roster
type JoinTeamMsg struct {
	RoomID string `json:"room_id"`
	Team   string `json:"team"`
}

func (m *JoinTeamMsg) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("missing room_id")
	}
	switch m.Team {
	case TeamRed, TeamBlue, TeamNone:
		return nil
	}
	return fmt.Errorf("invalid team %q", m.Team)
}

// StartGameMsg transitions a lobby to the battlefield (owner only)
type StartGameMsg struct {
	RoomID string `json:"room_id"`
}

func (m *StartGameMsg) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("missing room_id")
	}
	return nil
}

// MoveMsg carries either a discrete direction (one tile step) or a
// fractional per-axis delta. Exactly one form must be present.
type MoveMsg struct {
	RoomID string  `json:"room_id"`
	Dir    string  `json:"dir,omitempty"`
	DX     float64 `json:"dx,omitempty"`
	DY     float64 `json:"dy,omitempty"`
}

func (m *MoveMsg) Validate() error {
	if m.RoomID == "" {
		return fmt.Errorf("missing room_id")
	}
	switch m.Dir {
	case "up", "down", "left", "right":
		if m.DX != 0 || m.DY != 0 {
			return fmt.Errorf("dir and delta are mutually exclusive")
		}
		return nil
	case "":
		if m.DX == 0 && m.DY == 0 {
			return fmt.Errorf("empty move")
		}
		if m.DX < -1 || m.DX > 1 || m.DY < -1 || m.DY > 1 {
			return fmt.Errorf("delta out of range")
		}
		return nil
	}
	return fmt.Errorf("invalid dir %q", m.Dir)
}

// Delta resolves the move to per-axis displacements, rounded to two
// decimals the same way accepted positions are.
func (m *MoveMsg) Delta() (dx, dy float64) {
	switch m.Dir {
	case "up":
		return 0, -1
	case "down":
		return 0, 1
	case "left":
		return -1, 0
	case "right":
		return 1, 0
	}
	return Round2(m.DX), Round2(m.DY)
}

// AuthOKMsg confirms registration, login or token resume
type AuthOKMsg struct {
	Token    string `json:"token"`
	Username string `json:"username"`
}

// RoomInfo is one entry of the room_list broadcast
type RoomInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// JoinedTeamMsg confirms a roster change to the requesting connection
type JoinedTeamMsg struct {
	RoomID string `json:"room_id"`
	Team   string `json:"team"`
}

// KickedMsg tells an unassigned player they were removed on game start
type KickedMsg struct {
	RoomID string `json:"room_id"`
}

// GameStartedMsg is sent individually to each assigned player
type GameStartedMsg struct {
	Msg string `json:"msg"`
}

// PlayerState is one player's entry in a positions frame
type PlayerState struct {
	ID     string  `json:"id" msgpack:"id"`
	X      float64 `json:"x" msgpack:"x"`
	Y      float64 `json:"y" msgpack:"y"`
	Team   string  `json:"team" msgpack:"team"`
	Alive  bool    `json:"alive" msgpack:"alive"`
	Avatar string  `json:"avatar,omitempty" msgpack:"avatar,omitempty"`
}

// PositionsFrame is the msgpack-encoded binary broadcast of all player
// positions in a room. The T field keeps the event name on the wire.
type PositionsFrame struct {
	T       string        `msgpack:"t"`
	Players []PlayerState `msgpack:"p"`
}

// PlayerTaggedMsg is broadcast when an attacker tags an opponent
type PlayerTaggedMsg struct {
	Tagger string `json:"tagger"`
	Target string `json:"target"`
}

// PlayerRespawnedMsg is broadcast when a dead player returns to play
type PlayerRespawnedMsg struct {
	Player string `json:"player"`
	Team   string `json:"team"`
}

// ErrorMsg sends an error to a single client
type ErrorMsg struct {
	Msg string `json:"msg"`
}
