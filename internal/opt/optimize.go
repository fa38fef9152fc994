package opt

import (
	"context"

	"venuetour/internal/model"
)

// Optimize runs Solve with no progress reporting and no cancellation.
func Optimize(catalog []model.Venue, params Params) (Solution, error) {
	sol, _, err := Solve(context.Background(), catalog, params, nil)
	return sol, err
}

// ProgressLogger returns an Observer printing one line per generation through logf.
func ProgressLogger(logf func(format string, args ...any)) Observer {
	return func(p Progress) {
		logf("Generation %d: Best Fitness = %v", p.Generation, p.BestFitness)
	}
}
