package opt

import (
	"fmt"
	"math/rand"

	"venuetour/internal/model"
)

// Tour is a visiting order expressed as indices into the working venue set.
type Tour []int

// Clone returns an independent copy of t.
func (t Tour) Clone() Tour { return append(Tour(nil), t...) }

// Individual is a tour with its cached fitness.
type Individual struct {
	Tour    Tour
	Fitness float64
}

func (ind Individual) clone() Individual {
	return Individual{Tour: ind.Tour.Clone(), Fitness: ind.Fitness}
}

// FilterVenues keeps catalog entries with rating >= MinRating and
// price <= MaxPrice, preserving catalog order. An empty result is a
// configuration error.
func FilterVenues(catalog []model.Venue, c model.Criteria) ([]model.Venue, error) {
	out := make([]model.Venue, 0, len(catalog))
	for _, v := range catalog {
		if v.Rating >= c.MinRating && v.Price <= c.MaxPrice {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w (minRating=%g, maxPrice=%g)", ErrNoVenues, c.MinRating, c.MaxPrice)
	}
	return out, nil
}

// InitializePopulation returns size independently shuffled permutations of 0..n-1.
func InitializePopulation(rng *rand.Rand, size, n int) []Tour {
	pop := make([]Tour, size)
	for i := range pop {
		t := make(Tour, n)
		for j := range t {
			t[j] = j
		}
		rng.Shuffle(n, func(a, b int) { t[a], t[b] = t[b], t[a] })
		pop[i] = t
	}
	return pop
}

// fittest returns the first individual with the highest fitness.
func fittest(pop []Individual) Individual {
	best := pop[0]
	for _, ind := range pop[1:] {
		if ind.Fitness > best.Fitness {
			best = ind
		}
	}
	return best
}
