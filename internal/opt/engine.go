package opt

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/stat"

	"venuetour/internal/model"
)

// Params configures one solver run.
type Params struct {
	PopulationSize int
	Generations    int
	MutationRate   float64
	TournamentSize int
	Criteria       model.Criteria
	Weights        model.Weights
	Seed           int64 // 0 picks a time-based seed
	Workers        int   // fitness evaluation goroutines; <= 1 is sequential
	SnapshotEvery  int   // generations between snapshots; 0 disables periodic snapshots
}

// DefaultParams mirrors the settings the planner was tuned with.
func DefaultParams() Params {
	return Params{
		PopulationSize: 100,
		Generations:    500,
		MutationRate:   DefaultMutationRate,
		TournamentSize: DefaultTournamentSize,
		Criteria:       model.Criteria{MinRating: 4.0, MaxPrice: 500000},
		Weights:        DefaultWeights(),
		SnapshotEvery:  10,
	}
}

// Validate rejects parameter sets the solver cannot run. Every error wraps
// ErrConfiguration.
func (p Params) Validate() error {
	if p.TournamentSize < 2 {
		return fmt.Errorf("%w: tournament size must be >= 2 (got %d)", ErrConfiguration, p.TournamentSize)
	}
	if p.PopulationSize < p.TournamentSize {
		return fmt.Errorf("%w: population size must be >= tournament size %d (got %d)", ErrConfiguration, p.TournamentSize, p.PopulationSize)
	}
	if p.Generations < 0 {
		return fmt.Errorf("%w: generations must be >= 0 (got %d)", ErrConfiguration, p.Generations)
	}
	if math.IsNaN(p.MutationRate) || p.MutationRate < 0 || p.MutationRate > 1 {
		return fmt.Errorf("%w: mutation rate must be in [0,1] (got %g)", ErrConfiguration, p.MutationRate)
	}
	for name, w := range map[string]float64{"distance": p.Weights.Distance, "rating": p.Weights.Rating, "price": p.Weights.Price} {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return fmt.Errorf("%w: %s weight must be finite", ErrConfiguration, name)
		}
	}
	return nil
}

// Solution is the best-ever route found by a run.
type Solution struct {
	Venues     []model.Venue // working set the tour indexes into
	Tour       Tour
	Fitness    float64
	TourLength float64
}

// Route resolves the tour into venue records in visiting order.
func (s Solution) Route() []model.Venue {
	out := make([]model.Venue, len(s.Tour))
	for i, idx := range s.Tour {
		out[i] = s.Venues[idx]
	}
	return out
}

// Metrics summarizes a run: counters, fitness trajectory and the periodic
// snapshots.
type Metrics struct {
	Seed               int64
	FilteredVenues     int
	Generations        int
	Evaluations        int
	Improvements       int
	InitialBestFitness float64
	BestFitness        float64
	FinalMeanFitness   float64
	Elapsed            time.Duration
	Snapshots          []model.GenerationSnapshot
}

// Progress is emitted once per completed generation.
type Progress struct {
	Generation  int // 1-based
	BestFitness float64
	MeanFitness float64
	StdDev      float64
	Improved    bool
}

// Observer receives progress reports. It runs on the solver goroutine.
type Observer func(Progress)

// Solve filters catalog, seeds a population and evolves it for
// params.Generations generations with single-individual elitism, returning
// the best route seen across the whole run.
//
// The next generation holds PopulationSize-1 children plus the elite, so the
// population size never changes. All randomness comes from one source seeded
// by params.Seed; a fixed seed gives identical results.
func Solve(ctx context.Context, catalog []model.Venue, params Params, observe Observer) (Solution, Metrics, error) {
	if err := params.Validate(); err != nil {
		return Solution{}, Metrics{}, err
	}
	venues, err := FilterVenues(catalog, params.Criteria)
	if err != nil {
		return Solution{}, Metrics{}, err
	}
	seed := params.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	eval := NewEvaluator(catalog, params.Weights)
	start := time.Now()

	pop := make([]Individual, params.PopulationSize)
	for i, t := range InitializePopulation(rng, params.PopulationSize, len(venues)) {
		pop[i] = Individual{Tour: t}
	}
	eval.evaluate(venues, pop, params.Workers)

	best := fittest(pop).clone()
	m := Metrics{
		Seed:               seed,
		FilteredVenues:     len(venues),
		Evaluations:        len(pop),
		InitialBestFitness: best.Fitness,
	}
	mean, _ := populationStats(pop)
	m.FinalMeanFitness = mean

	children := params.PopulationSize - 1
	for gen := 0; gen < params.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return Solution{}, m, err
		}
		next := make([]Individual, 0, params.PopulationSize)
		for len(next) < children {
			p1, p2, err := TournamentSelect(rng, pop, params.TournamentSize)
			if err != nil {
				return Solution{}, m, err
			}
			c1 := OrderCrossover(rng, p1.Tour, p2.Tour)
			c2 := OrderCrossover(rng, p2.Tour, p1.Tour)
			SwapMutate(rng, c1, params.MutationRate)
			SwapMutate(rng, c2, params.MutationRate)
			next = append(next, Individual{Tour: c1})
			if len(next) < children {
				next = append(next, Individual{Tour: c2})
			}
		}
		eval.evaluate(venues, next, params.Workers)
		m.Evaluations += len(next)
		// elitism: carried over unchanged, fitness already known
		next = append(next, fittest(pop).clone())
		pop = next

		improved := false
		for _, ind := range pop {
			if ind.Fitness > best.Fitness {
				best = ind.clone()
				improved = true
			}
		}
		if improved {
			m.Improvements++
		}
		m.Generations = gen + 1
		mean, sd := populationStats(pop)
		m.FinalMeanFitness = mean
		if params.SnapshotEvery > 0 && (m.Generations%params.SnapshotEvery == 0 || m.Generations == params.Generations) {
			m.Snapshots = append(m.Snapshots, model.GenerationSnapshot{Generation: m.Generations, BestFitness: best.Fitness, MeanFitness: mean, StdDev: sd})
		}
		if observe != nil {
			observe(Progress{Generation: m.Generations, BestFitness: best.Fitness, MeanFitness: mean, StdDev: sd, Improved: improved})
		}
	}
	m.BestFitness = best.Fitness
	m.Elapsed = time.Since(start)
	sol := Solution{
		Venues:     venues,
		Tour:       best.Tour,
		Fitness:    best.Fitness,
		TourLength: TourLength(venues, best.Tour),
	}
	return sol, m, nil
}

// populationStats returns mean and standard deviation over the finite
// fitness values; degenerate individuals are left out.
func populationStats(pop []Individual) (float64, float64) {
	xs := make([]float64, 0, len(pop))
	for _, ind := range pop {
		if !math.IsInf(ind.Fitness, 0) && !math.IsNaN(ind.Fitness) {
			xs = append(xs, ind.Fitness)
		}
	}
	switch len(xs) {
	case 0:
		return 0, 0
	case 1:
		return xs[0], 0
	}
	return stat.MeanStdDev(xs, nil)
}
