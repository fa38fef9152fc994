package api

import (
    "context"
    "errors"
    "fmt"
    "log"
    "math"
    "time"

    "github.com/google/uuid"

    "venuetour/internal/catalog"
    "venuetour/internal/metrics"
    "venuetour/internal/model"
    "venuetour/internal/opt"
    "venuetour/internal/webhooks"
)

// Broker event types published on a run's topic.
const (
    EventRunProgress  = "run.progress"
    EventRunCompleted = webhooks.EventRunCompleted
    EventRunFailed    = webhooks.EventRunFailed
)

// plannedRun is a validated request ready to execute.
type plannedRun struct {
    run     model.Run
    catalog []model.Venue
    params  opt.Params
}

// planRun resolves parameters and the catalog, and fails fast on anything
// that would make the solver reject the run.
func (s *Server) planRun(ctx context.Context, tenant string, req *model.OptimizeRequest) (plannedRun, error) {
    params := s.defaultParams()
    cfg, err := s.Store.GetOptimizerConfig(ctx, tenant)
    if err != nil {
        return plannedRun{}, err
    }
    ov, err := decodeOverride(cfg)
    if err != nil {
        return plannedRun{}, err
    }
    ov.apply(&params)
    applyRequest(&params, req)
    if params.Seed == 0 {
        // pin the seed so the stored run can be replayed
        params.Seed = time.Now().UnixNano()
    }
    if err := checkLimits(params); err != nil {
        return plannedRun{}, err
    }
    if err := params.Validate(); err != nil {
        return plannedRun{}, err
    }
    venues, err := s.resolveCatalog(ctx, tenant, req.Venues)
    if err != nil {
        return plannedRun{}, err
    }
    if len(venues) > maxVenues {
        return plannedRun{}, fmt.Errorf("%w: catalog has %d venues, at most %d allowed", errBadRequest, len(venues), maxVenues)
    }
    if _, err := opt.FilterVenues(venues, params.Criteria); err != nil {
        return plannedRun{}, err
    }
    run := model.Run{
        ID:       uuid.New().String(),
        TenantID: tenant,
        Status:   model.RunRunning,
        Params: model.RunParams{
            PopulationSize: params.PopulationSize,
            Generations:    params.Generations,
            MutationRate:   params.MutationRate,
            TournamentSize: params.TournamentSize,
            Criteria:       params.Criteria,
            Weights:        params.Weights,
            Seed:           params.Seed,
        },
        CreatedAt: time.Now().UTC().Format(time.RFC3339),
    }
    return plannedRun{run: run, catalog: venues, params: params}, nil
}

// resolveCatalog picks the request catalog, then the tenant catalog, then
// the configured source.
func (s *Server) resolveCatalog(ctx context.Context, tenant string, inline []model.Venue) ([]model.Venue, error) {
    if len(inline) > 0 {
        if err := catalog.Validate(inline); err != nil {
            return nil, err
        }
        return inline, nil
    }
    vs, err := s.Store.ListVenues(ctx, tenant)
    if err != nil {
        return nil, err
    }
    if len(vs) > 0 {
        return vs, nil
    }
    return s.Catalog.FetchVenues(ctx)
}

// execute runs the solver, persists the outcome and notifies listeners.
// It returns the final run record.
func (s *Server) execute(ctx context.Context, pr plannedRun) model.Run {
    run := pr.run
    topic := run.ID
    observe := func(p opt.Progress) {
        // every improvement, every snapshot boundary, and the last generation
        last := p.Generation == pr.params.Generations
        periodic := pr.params.SnapshotEvery > 0 && p.Generation%pr.params.SnapshotEvery == 0
        if !p.Improved && !periodic && !last {
            return
        }
        s.Broker.Publish(topic, SSEEvent{Type: EventRunProgress, Data: map[string]any{
            "runId":       run.ID,
            "generation":  p.Generation,
            "generations": pr.params.Generations,
            "bestFitness": finite(p.BestFitness),
            "meanFitness": finite(p.MeanFitness),
            "stdDev":      finite(p.StdDev),
        }})
    }

    sol, m, err := opt.Solve(ctx, pr.catalog, pr.params, observe)
    run.FinishedAt = time.Now().UTC().Format(time.RFC3339)
    run.Generations = m.Generations
    run.Evaluations = m.Evaluations
    if err != nil {
        run.Status = model.RunFailed
        run.Error = err.Error()
    } else {
        run.Status = model.RunSucceeded
        run.Route = sol.Route()
        run.Fitness = finite(sol.Fitness)
        run.TourLength = sol.TourLength
    }

    // persistence must outlive a cancelled request
    bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
    defer cancel()
    if err := s.Store.SaveRun(bg, run); err != nil {
        log.Printf("run %s: save: %v", run.ID, err)
    }
    if snaps := finiteSnapshots(m.Snapshots); len(snaps) > 0 {
        if err := s.Store.SaveRunSnapshots(bg, run.TenantID, run.ID, snaps); err != nil {
            log.Printf("run %s: save snapshots: %v", run.ID, err)
        }
    }
    opt.RecordMetrics(run.TenantID, run.ID, m)
    metrics.ObserveRun(run.TenantID, run.Status, m.Elapsed.Seconds(), m.Generations, m.Evaluations, run.Fitness)

    evt := EventRunCompleted
    if run.Status == model.RunFailed {
        evt = EventRunFailed
        if !errors.Is(err, context.Canceled) {
            log.Printf("run %s failed: %v", run.ID, err)
        }
    }
    summary := runSummary(run)
    s.Broker.Publish(topic, SSEEvent{Type: evt, Data: summary})
    s.Pub.Emit(bg, run.TenantID, evt, summary)
    return run
}

// startAsync records the run as running and solves it in the background.
func (s *Server) startAsync(ctx context.Context, pr plannedRun) (model.Run, error) {
    if err := s.Store.SaveRun(ctx, pr.run); err != nil {
        return model.Run{}, fmt.Errorf("save run: %w", err)
    }
    s.runs.Add(1)
    go func() {
        defer s.runs.Done()
        s.execute(s.runCtx, pr)
    }()
    return pr.run, nil
}

func runSummary(run model.Run) map[string]any {
    out := map[string]any{
        "runId":       run.ID,
        "status":      run.Status,
        "generations": run.Generations,
        "fitness":     run.Fitness,
        "tourLength":  run.TourLength,
        "stops":       len(run.Route),
    }
    if run.Error != "" {
        out["error"] = run.Error
    }
    return out
}

func finiteSnapshots(in []model.GenerationSnapshot) []model.GenerationSnapshot {
    out := make([]model.GenerationSnapshot, 0, len(in))
    for _, s := range in {
        if math.IsInf(s.BestFitness, 0) || math.IsNaN(s.BestFitness) {
            continue
        }
        out = append(out, s)
    }
    return out
}
