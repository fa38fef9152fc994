package opt

import (
	"fmt"
	"math"

	"github.com/sourcegraph/conc/pool"

	"venuetour/internal/model"
)

const (
	// BoundingBoxSide is the assumed extent of the venue grid on each axis.
	BoundingBoxSide = 20.0
	// MaxRating is the top of the rating scale.
	MaxRating = 5.0
)

// DegenerateFitness is the score given to tours the normalizer cannot handle.
// It ranks below every real score, so such tours never displace a valid one.
var DegenerateFitness = math.Inf(-1)

// DefaultWeights returns the distance/rating/price balance used when none is configured.
func DefaultWeights() model.Weights {
	return model.Weights{Distance: 0.5, Rating: 0.3, Price: 0.2}
}

// MaxPossibleDistance is a coarse upper bound on a tour of n stops: the
// bounding-box diagonal once per leg.
func MaxPossibleDistance(n int) float64 {
	return math.Hypot(BoundingBoxSide, BoundingBoxSide) * float64(n)
}

// Evaluator scores tours. MaxPrice is taken from the full catalog once, not
// from the filtered working set.
type Evaluator struct {
	Weights  model.Weights
	MaxPrice float64
}

// NewEvaluator fixes the price normalizer to the most expensive venue in catalog.
func NewEvaluator(catalog []model.Venue, w model.Weights) *Evaluator {
	maxPrice := 0.0
	for _, v := range catalog {
		if v.Price > maxPrice {
			maxPrice = v.Price
		}
	}
	return &Evaluator{Weights: w, MaxPrice: maxPrice}
}

// Score computes the composite fitness of tour over venues. Higher is better.
// An empty tour or one of zero length returns ErrDegenerateRoute.
func (e *Evaluator) Score(venues []model.Venue, tour Tour) (float64, error) {
	n := len(tour)
	if n == 0 {
		return DegenerateFitness, fmt.Errorf("%w: empty tour", ErrDegenerateRoute)
	}
	var rating, price float64
	for _, idx := range tour {
		rating += venues[idx].Rating
		price += venues[idx].Price
	}
	avgRating := rating / float64(n)
	avgPrice := price / float64(n)

	normDist := TourLength(venues, tour) / MaxPossibleDistance(n)
	if normDist == 0 {
		return DegenerateFitness, fmt.Errorf("%w: tour of %d stops has zero length", ErrDegenerateRoute, n)
	}
	normRating := avgRating / MaxRating
	normPrice := 0.0
	if e.MaxPrice > 0 {
		normPrice = avgPrice / e.MaxPrice
	}
	w := e.Weights
	return w.Distance*(1/normDist) + w.Rating*normRating - w.Price*normPrice, nil
}

// Fitness is Score with degenerate tours mapped to DegenerateFitness.
func (e *Evaluator) Fitness(venues []model.Venue, tour Tour) float64 {
	f, err := e.Score(venues, tour)
	if err != nil {
		return DegenerateFitness
	}
	return f
}

// evaluate fills in the fitness of every individual. Fitness is pure, so the
// worker pool changes nothing but wall time.
func (e *Evaluator) evaluate(venues []model.Venue, pop []Individual, workers int) {
	if workers <= 1 || len(pop) < 2 {
		for i := range pop {
			pop[i].Fitness = e.Fitness(venues, pop[i].Tour)
		}
		return
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i := range pop {
		i := i
		p.Go(func() {
			pop[i].Fitness = e.Fitness(venues, pop[i].Tour)
		})
	}
	p.Wait()
}
