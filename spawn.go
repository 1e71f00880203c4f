package main

import "math/rand"

// spawnPosition returns a fresh battlefield position for a team: red
// spawns in the top-right corner region, blue in the bottom-left, and
// anyone else mid-field.
func spawnPosition(team string) (float64, float64) {
	switch team {
	case TeamRed:
		return randRange(97, 99), randRange(0, 2)
	case TeamBlue:
		return randRange(0, 2), randRange(97, 99)
	}
	return randRange(10, 90), randRange(10, 90)
}

// randRange returns an integer-valued coordinate in [lo, hi]
func randRange(lo, hi int) float64 {
	return float64(lo + rand.Intn(hi-lo+1))
}
