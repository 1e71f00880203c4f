package main

import "math"

// Round2 rounds to two decimal places, the resolution of stored positions
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Chebyshev returns max(|dx|, |dy|), the tag proximity metric
func Chebyshev(x1, y1, x2, y2 float64) float64 {
	dx := math.Abs(x2 - x1)
	dy := math.Abs(y2 - y1)
	if dx > dy {
		return dx
	}
	return dy
}
