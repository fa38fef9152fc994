package opt

import "math/rand"

// DefaultMutationRate is the per-position swap probability.
const DefaultMutationRate = 0.01

// SwapMutate visits every position and, with probability rate, swaps it with a
// uniformly chosen position (possibly itself). The tour is changed in place.
func SwapMutate(rng *rand.Rand, tour Tour, rate float64) {
	n := len(tour)
	for i := 0; i < n; i++ {
		if rng.Float64() < rate {
			j := rng.Intn(n)
			tour[i], tour[j] = tour[j], tour[i]
		}
	}
}
