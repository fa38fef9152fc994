package opt

import "math/rand"

// OrderCrossover recombines two permutations of the same venue set. A random
// segment of p1 keeps its positions; the free slots are filled left to right
// with the remaining venues in p2's order.
func OrderCrossover(rng *rand.Rand, p1, p2 Tour) Tour {
	n := len(p1)
	if n < 2 {
		return p1.Clone()
	}
	start := rng.Intn(n)
	end := rng.Intn(n - 1)
	if end >= start {
		end++
	}
	if start > end {
		start, end = end, start
	}
	return crossAt(p1, p2, start, end)
}

// crossAt performs the recombination for the inclusive segment [start, end].
func crossAt(p1, p2 Tour, start, end int) Tour {
	n := len(p1)
	child := make(Tour, n)
	filled := make([]bool, n)
	present := make([]bool, n)
	for i := start; i <= end; i++ {
		child[i] = p1[i]
		filled[i] = true
		present[p1[i]] = true
	}
	pos := 0
	for _, v := range p2 {
		if present[v] {
			continue
		}
		for filled[pos] {
			pos++
		}
		child[pos] = v
		filled[pos] = true
		present[v] = true
	}
	return child
}
