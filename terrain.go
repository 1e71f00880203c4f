package main

import "sync"

// Tile classifies one map cell
type Tile int

const (
	TileOpen     Tile = 0
	TileWall     Tile = 1
	TileBlueBase Tile = 2
	TileRedBase  Tile = 3
)

// Blocks reports whether the tile stops a mover on the given team.
// Generic walls stop everyone; a base wall stops only the enemy team.
func (t Tile) Blocks(team string) bool {
	switch t {
	case TileWall:
		return true
	case TileRedBase:
		return team != TeamRed
	case TileBlueBase:
		return team != TeamBlue
	}
	return false
}

// TerrainSource is implemented by both the shared global grid and
// per-room embedded grids.
type TerrainSource interface {
	TileAt(tx, ty int) Tile
	Size() (w, h int)
}

// Grid is a static 2D tile classification. Rows are indexed [y][x].
type Grid struct {
	Width  int      `json:"w"`
	Height int      `json:"h"`
	Tiles  [][]Tile `json:"tiles"`
}

// TileAt returns the tile at integer coordinates. Anything outside the
// grid counts as a wall so sampling near edges stays safe.
func (g *Grid) TileAt(tx, ty int) Tile {
	if tx < 0 || ty < 0 || tx >= g.Width || ty >= g.Height {
		return TileWall
	}
	return g.Tiles[ty][tx]
}

// Size returns the grid dimensions
func (g *Grid) Size() (int, int) {
	return g.Width, g.Height
}

// NewGrid allocates an all-open grid
func NewGrid(w, h int) *Grid {
	tiles := make([][]Tile, h)
	for y := range tiles {
		tiles[y] = make([]Tile, w)
	}
	return &Grid{Width: w, Height: h, Tiles: tiles}
}

const (
	GridWidth  = 100
	GridHeight = 100
)

var (
	defaultGrid     *Grid
	defaultGridOnce sync.Once
)

// DefaultGrid returns the shared battlefield used by rooms without an
// embedded terrain: a 100x100 field with a walled base around each
// spawn corner and a broken wall across the middle.
func DefaultGrid() *Grid {
	defaultGridOnce.Do(func() {
		defaultGrid = buildDefaultGrid()
	})
	return defaultGrid
}

func buildDefaultGrid() *Grid {
	g := NewGrid(GridWidth, GridHeight)

	// Red base encloses the top-right spawn corner (x 97-99, y 0-2)
	for y := 0; y <= 5; y++ {
		g.Tiles[y][95] = TileRedBase
	}
	for x := 95; x < GridWidth; x++ {
		g.Tiles[5][x] = TileRedBase
	}

	// Blue base encloses the bottom-left spawn corner (x 0-2, y 97-99)
	for y := 95; y < GridHeight; y++ {
		g.Tiles[y][4] = TileBlueBase
	}
	for x := 0; x <= 4; x++ {
		g.Tiles[94][x] = TileBlueBase
	}

	// Mid-field wall with gaps every tenth tile
	for y := 20; y < 80; y++ {
		if y%10 == 0 {
			continue
		}
		g.Tiles[y][50] = TileWall
	}
	return g
}
