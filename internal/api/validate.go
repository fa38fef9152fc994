package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"runtime"

	"venuetour/internal/model"
	"venuetour/internal/opt"
)

var errBadRequest = errors.New("bad request")

// Upper bounds on run size. The solver allocates population and tours up
// front, so these keep a single request from exhausting memory.
const (
	maxWorkers     = 64
	maxPopulation  = 10000
	maxGenerations = 100000
	maxVenues      = 1000
)

func validateOptimizeRequest(req *model.OptimizeRequest) error {
	if req.PopulationSize < 0 || req.PopulationSize > maxPopulation {
		return fmt.Errorf("%w: populationSize must be in [0,%d]", errBadRequest, maxPopulation)
	}
	if req.Generations != nil && (*req.Generations < 0 || *req.Generations > maxGenerations) {
		return fmt.Errorf("%w: generations must be in [0,%d]", errBadRequest, maxGenerations)
	}
	if len(req.Venues) > maxVenues {
		return fmt.Errorf("%w: at most %d venues", errBadRequest, maxVenues)
	}
	if req.MutationRate != nil && (math.IsNaN(*req.MutationRate) || *req.MutationRate < 0 || *req.MutationRate > 1) {
		return fmt.Errorf("%w: mutationRate must be in [0,1]", errBadRequest)
	}
	if req.TournamentSize < 0 {
		return fmt.Errorf("%w: tournamentSize must be >= 0", errBadRequest)
	}
	if req.Workers < 0 || req.Workers > maxWorkers {
		return fmt.Errorf("%w: workers must be in [0,%d]", errBadRequest, maxWorkers)
	}
	if req.Criteria != nil && req.Criteria.MaxPrice < 0 {
		return fmt.Errorf("%w: criteria.maxPrice must be >= 0", errBadRequest)
	}
	return nil
}

// checkLimits applies the run size bounds to fully layered parameters, so
// stored tenant overrides are held to the same limits as requests.
func checkLimits(p opt.Params) error {
	if p.PopulationSize > maxPopulation {
		return fmt.Errorf("%w: populationSize must be <= %d", errBadRequest, maxPopulation)
	}
	if p.Generations > maxGenerations {
		return fmt.Errorf("%w: generations must be <= %d", errBadRequest, maxGenerations)
	}
	return nil
}

// paramsOverride is the tenant optimizer config document. Absent fields keep
// the server defaults.
type paramsOverride struct {
	PopulationSize *int            `json:"populationSize,omitempty"`
	Generations    *int            `json:"generations,omitempty"`
	MutationRate   *float64        `json:"mutationRate,omitempty"`
	TournamentSize *int            `json:"tournamentSize,omitempty"`
	Criteria       *model.Criteria `json:"criteria,omitempty"`
	Weights        *model.Weights  `json:"weights,omitempty"`
	Workers        *int            `json:"workers,omitempty"`
	SnapshotEvery  *int            `json:"snapshotEvery,omitempty"`
}

func (o paramsOverride) apply(p *opt.Params) {
	if o.PopulationSize != nil { p.PopulationSize = *o.PopulationSize }
	if o.Generations != nil { p.Generations = *o.Generations }
	if o.MutationRate != nil { p.MutationRate = *o.MutationRate }
	if o.TournamentSize != nil { p.TournamentSize = *o.TournamentSize }
	if o.Criteria != nil { p.Criteria = *o.Criteria }
	if o.Weights != nil { p.Weights = *o.Weights }
	if o.Workers != nil { p.Workers = *o.Workers }
	if o.SnapshotEvery != nil { p.SnapshotEvery = *o.SnapshotEvery }
}

// decodeOverride converts a stored config map, rejecting unknown keys.
func decodeOverride(cfg map[string]any) (paramsOverride, error) {
	var o paramsOverride
	if len(cfg) == 0 {
		return o, nil
	}
	b, err := json.Marshal(cfg)
	if err != nil {
		return o, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&o); err != nil {
		return o, fmt.Errorf("%w: optimizer config: %v", errBadRequest, err)
	}
	return o, nil
}

// applyRequest layers per-request fields over p.
func applyRequest(p *opt.Params, req *model.OptimizeRequest) {
	if req.PopulationSize > 0 { p.PopulationSize = req.PopulationSize }
	if req.Generations != nil { p.Generations = *req.Generations }
	if req.MutationRate != nil { p.MutationRate = *req.MutationRate }
	if req.TournamentSize > 0 { p.TournamentSize = req.TournamentSize }
	if req.Criteria != nil { p.Criteria = *req.Criteria }
	if req.Weights != nil { p.Weights = *req.Weights }
	if req.Workers > 0 { p.Workers = req.Workers }
	p.Seed = req.Seed
	if p.Workers > runtime.NumCPU() { p.Workers = runtime.NumCPU() }
}

func paramsView(p opt.Params) map[string]any {
	return map[string]any{
		"populationSize": p.PopulationSize,
		"generations":    p.Generations,
		"mutationRate":   p.MutationRate,
		"tournamentSize": p.TournamentSize,
		"criteria":       p.Criteria,
		"weights":        p.Weights,
		"workers":        p.Workers,
		"snapshotEvery":  p.SnapshotEvery,
	}
}
