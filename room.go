package main

// Team identifiers as they appear on the wire and in room documents
const (
	TeamRed  = "red"
	TeamBlue = "blue"
	TeamNone = "no_team"
)

const maxRoomNameLen = 30

// PlayerEntry is one active battlefield participant inside a room
// document. Positions are fractional grid coordinates.
type PlayerEntry struct {
	ID   string  `json:"id"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Team string  `json:"team"`
}

// RoomDoc is the persistent room document. The store is the system of
// record for everything in here; caches hold point-in-time copies.
type RoomDoc struct {
	ID        string        `json:"id"`
	Name      string        `json:"room_name"`
	Owner     string        `json:"owner"`
	RedTeam   []string      `json:"red_team"`
	BlueTeam  []string      `json:"blue_team"`
	NoTeam    []string      `json:"no_team"`
	Attacking string        `json:"attacking_team"`
	Started   bool          `json:"started"`
	Terrain   *Grid         `json:"terrain,omitempty"` // nil = shared global grid
	Players   []PlayerEntry `json:"players"`
}

// NewRoomDoc creates an empty lobby-state room document
func NewRoomDoc(id, name, owner, attacking string) *RoomDoc {
	if attacking == "" {
		attacking = TeamRed
	}
	return &RoomDoc{
		ID:        id,
		Name:      name,
		Owner:     owner,
		RedTeam:   []string{},
		BlueTeam:  []string{},
		NoTeam:    []string{},
		Attacking: attacking,
		Players:   []PlayerEntry{},
	}
}

// TerrainSource returns the room's embedded grid, or the shared global
// grid when the room has none.
func (r *RoomDoc) TerrainSource() TerrainSource {
	if r.Terrain != nil {
		return r.Terrain
	}
	return DefaultGrid()
}

// OnAnyRoster reports whether the identity sits on any of the three rosters
func (r *RoomDoc) OnAnyRoster(player string) bool {
	return r.RosterOf(player) != ""
}

// RosterOf returns which roster holds the identity, or ""
func (r *RoomDoc) RosterOf(player string) string {
	for _, n := range r.RedTeam {
		if n == player {
			return TeamRed
		}
	}
	for _, n := range r.BlueTeam {
		if n == player {
			return TeamBlue
		}
	}
	for _, n := range r.NoTeam {
		if n == player {
			return TeamNone
		}
	}
	return ""
}

// RemoveFromRosters pulls the identity out of all three rosters
func (r *RoomDoc) RemoveFromRosters(player string) {
	r.RedTeam = removeString(r.RedTeam, player)
	r.BlueTeam = removeString(r.BlueTeam, player)
	r.NoTeam = removeString(r.NoTeam, player)
}

// AddToRoster appends the identity to the requested roster. Callers
// remove first; remove-and-insert runs inside one store transaction so
// the identity lands on exactly one roster.
func (r *RoomDoc) AddToRoster(player, team string) {
	switch team {
	case TeamRed:
		r.RedTeam = append(r.RedTeam, player)
	case TeamBlue:
		r.BlueTeam = append(r.BlueTeam, player)
	default:
		r.NoTeam = append(r.NoTeam, player)
	}
}

// FindPlayer returns the battlefield entry for the identity, or nil
func (r *RoomDoc) FindPlayer(player string) *PlayerEntry {
	for i := range r.Players {
		if r.Players[i].ID == player {
			return &r.Players[i]
		}
	}
	return nil
}

// RemovePlayer drops the identity's battlefield entry. Returns whether
// an entry was removed.
func (r *RoomDoc) RemovePlayer(player string) bool {
	for i := range r.Players {
		if r.Players[i].ID == player {
			r.Players = append(r.Players[:i], r.Players[i+1:]...)
			return true
		}
	}
	return false
}

func removeString(s []string, v string) []string {
	out := s[:0]
	for _, n := range s {
		if n != v {
			out = append(out, n)
		}
	}
	return out
}
