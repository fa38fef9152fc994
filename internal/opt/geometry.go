package opt

import (
	"math"

	"venuetour/internal/model"
)

// Distance is the Euclidean distance between two grid points.
func Distance(a, b model.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

// TourLength is the closed-loop length of tour, including the leg from the
// last stop back to the first. Tours of length 0 or 1 have length 0.
func TourLength(venues []model.Venue, tour Tour) float64 {
	n := len(tour)
	if n < 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		a := venues[tour[i]].Location
		b := venues[tour[(i+1)%n]].Location
		total += Distance(a, b)
	}
	return total
}

// PathLength is the closed-loop length over raw points.
func PathLength(points []model.Point) float64 {
	n := len(points)
	if n < 2 {
		return 0
	}
	total := 0.0
	for i := 0; i < n; i++ {
		total += Distance(points[i], points[(i+1)%n])
	}
	return total
}
