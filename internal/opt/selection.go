package opt

import (
	"fmt"
	"math/rand"
	"sort"
)

// DefaultTournamentSize is the number of contestants drawn per selection.
const DefaultTournamentSize = 3

// TournamentSelect draws k distinct individuals uniformly without replacement,
// ranks them by fitness descending and returns the top two as parents.
func TournamentSelect(rng *rand.Rand, pop []Individual, k int) (Individual, Individual, error) {
	if k < 2 || len(pop) < k {
		return Individual{}, Individual{}, fmt.Errorf("%w: k=%d, population=%d", ErrPopulationTooSmall, k, len(pop))
	}
	// partial Fisher-Yates over indices
	idx := make([]int, len(pop))
	for i := range idx {
		idx[i] = i
	}
	for i := 0; i < k; i++ {
		j := i + rng.Intn(len(idx)-i)
		idx[i], idx[j] = idx[j], idx[i]
	}
	picked := idx[:k]
	sort.SliceStable(picked, func(a, b int) bool {
		return pop[picked[a]].Fitness > pop[picked[b]].Fitness
	})
	return pop[picked[0]], pop[picked[1]], nil
}
