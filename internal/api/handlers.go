package api

import (
    "context"
    "encoding/json"
    "fmt"
    "net/http"
    "strconv"
    "strings"
    "time"

    "venuetour/internal/catalog"
    "venuetour/internal/model"
    "venuetour/internal/opt"
    "venuetour/internal/webhooks"
)

func queryLimit(r *http.Request) int {
    limit := 100
    if v := r.URL.Query().Get("limit"); v != "" {
        if n, err := strconv.Atoi(v); err == nil { limit = n }
    }
    return limit
}

// OptimizeHandler handles POST /v1/optimize
func (s *Server) OptimizeHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodPost {
        w.WriteHeader(http.StatusMethodNotAllowed)
        return
    }
    p := s.getPrincipal(r)
    if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
    if !s.limiters.Allow(p.Tenant) { writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "optimize rate limit exceeded", r.URL.Path); return }
    var req model.OptimizeRequest
    dec := json.NewDecoder(r.Body)
    dec.DisallowUnknownFields()
    if err := dec.Decode(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
        return
    }
    if err := validateOptimizeRequest(&req); err != nil {
        writeProblem(w, http.StatusBadRequest, "Invalid optimize request", err.Error(), r.URL.Path)
        return
    }
    // tenant comes from the principal; a mismatching body tenant is rejected
    if req.TenantID != "" && req.TenantID != p.Tenant && !p.IsAdmin() {
        writeProblem(w, 403, "Forbidden", "tenant mismatch", r.URL.Path)
        return
    }
    if req.TenantID == "" { req.TenantID = p.Tenant }

    pr, err := s.planRun(r.Context(), req.TenantID, &req)
    if err != nil { writeError(w, r, "Invalid optimize request", err); return }
    if req.Async {
        run, err := s.startAsync(r.Context(), pr)
        if err != nil { writeError(w, r, "Start run failed", err); return }
        w.Header().Set("Location", "/v1/runs/"+run.ID)
        writeJSON(w, http.StatusAccepted, run)
        return
    }
    run := s.execute(r.Context(), pr)
    if run.Status == model.RunFailed {
        writeProblem(w, http.StatusInternalServerError, "Optimization failed", run.Error, "/v1/runs/"+run.ID)
        return
    }
    writeJSON(w, http.StatusOK, run)
}

// OptimizerConfigHandler returns the effective optimizer configuration for the tenant
func (s *Server) OptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/optimizer/config" || r.Method != http.MethodGet { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.CanRead() { writeProblem(w, 403, "Forbidden", "", r.URL.Path); return }
    params := s.defaultParams()
    cfg, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
    if err != nil { writeError(w, r, "Load config failed", err); return }
    ov, err := decodeOverride(cfg)
    if err != nil { writeError(w, r, "Stored config invalid", err); return }
    ov.apply(&params)
    writeJSON(w, 200, map[string]any{"defaults": paramsView(params)})
}

// Admin get/set optimizer tenant config
func (s *Server) AdminOptimizerConfigHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/optimizer/config" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodGet:
        cfg, err := s.Store.GetOptimizerConfig(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "Load config failed", err); return }
        if cfg == nil { cfg = map[string]any{} }
        writeJSON(w, 200, map[string]any{"config": cfg})
    case http.MethodPut:
        var body struct{ Config map[string]any `json:"config"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if body.Config == nil { writeProblem(w, 400, "Missing config", "", r.URL.Path); return }
        ov, err := decodeOverride(body.Config)
        if err != nil { writeError(w, r, "Invalid config", err); return }
        params := s.defaultParams()
        ov.apply(&params)
        if err := checkLimits(params); err != nil { writeError(w, r, "Invalid config", err); return }
        if err := params.Validate(); err != nil { writeError(w, r, "Invalid config", err); return }
        if err := s.Store.SaveOptimizerConfig(r.Context(), p.Tenant, body.Config); err != nil { writeError(w, r, "Save failed", err); return }
        writeJSON(w, 200, map[string]bool{"ok": true})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// RunsIndexHandler handles GET /v1/runs
func (s *Server) RunsIndexHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.CanRead() { writeProblem(w, 403, "Forbidden", "", r.URL.Path); return }
    q := r.URL.Query()
    items, next, err := s.Store.ListRuns(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
    if err != nil { writeError(w, r, "List runs failed", err); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

// RunByIDHandler handles GET /v1/runs/{id} and its /snapshots, /metrics and /events/stream subresources
func (s *Server) RunByIDHandler(w http.ResponseWriter, r *http.Request) {
    rest := strings.TrimPrefix(r.URL.Path, "/v1/runs/")
    if rest == r.URL.Path || rest == "" {
        writeProblem(w, http.StatusNotFound, "Not Found", "missing id", r.URL.Path)
        return
    }
    if r.Method != http.MethodGet { w.WriteHeader(http.StatusMethodNotAllowed); return }
    p := s.getPrincipal(r)
    if !p.CanRead() { writeProblem(w, 403, "Forbidden", "", r.URL.Path); return }
    parts := strings.Split(rest, "/")
    id := parts[0]
    switch {
    case len(parts) == 1:
        run, err := s.Store.GetRun(r.Context(), p.Tenant, id)
        if err != nil { writeError(w, r, "Get run failed", err); return }
        writeJSON(w, 200, run)
    case len(parts) == 2 && parts[1] == "snapshots":
        snaps, err := s.Store.ListRunSnapshots(r.Context(), p.Tenant, id)
        if err != nil { writeError(w, r, "List snapshots failed", err); return }
        writeJSON(w, 200, map[string]any{"items": snaps})
    case len(parts) == 2 && parts[1] == "metrics":
        // held in process memory only; absent after a restart or on another replica
        if _, err := s.Store.GetRun(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Get run failed", err); return }
        m, ok := opt.GetMetrics(p.Tenant, id)
        if !ok { writeProblem(w, 404, "Not Found", "no solver metrics recorded for run", r.URL.Path); return }
        writeJSON(w, 200, metricsView(m))
    case len(parts) == 3 && parts[1] == "events" && parts[2] == "stream":
        s.streamRunEvents(w, r, p.Tenant, id)
    default:
        writeProblem(w, 404, "Not Found", "", r.URL.Path)
    }
}

// streamRunEvents serves run progress as server-sent events until the run
// finishes or the client goes away.
func (s *Server) streamRunEvents(w http.ResponseWriter, r *http.Request, tenant, id string) {
    flusher, ok := w.(http.Flusher)
    if !ok { writeProblem(w, 500, "Streaming unsupported", "", r.URL.Path); return }
    // subscribe before the status check so a run finishing in between is not missed
    ch := s.Broker.Subscribe(id)
    defer s.Broker.Unsubscribe(id, ch)
    run, err := s.Store.GetRun(r.Context(), tenant, id)
    if err != nil { writeError(w, r, "Run not found", err); return }

    w.Header().Set("Content-Type", "text/event-stream")
    w.Header().Set("Cache-Control", "no-cache")
    w.Header().Set("Connection", "keep-alive")
    writeSSE := func(evt SSEEvent) {
        b, _ := json.Marshal(evt.Data)
        fmt.Fprintf(w, "event: %s\n", evt.Type)
        fmt.Fprintf(w, "data: %s\n\n", b)
        flusher.Flush()
    }
    if run.Status != model.RunRunning {
        typ := EventRunCompleted
        if run.Status == model.RunFailed { typ = EventRunFailed }
        writeSSE(SSEEvent{Type: typ, Data: runSummary(run)})
        return
    }
    writeSSE(SSEEvent{Type: "heartbeat", Data: map[string]any{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)}})
    heartbeat := time.NewTicker(15 * time.Second)
    defer heartbeat.Stop()
    for {
        select {
        case <-r.Context().Done():
            return
        case evt, ok := <-ch:
            if !ok { return }
            writeSSE(evt)
            if evt.Type == EventRunCompleted || evt.Type == EventRunFailed { return }
        case <-heartbeat.C:
            writeSSE(SSEEvent{Type: "heartbeat", Data: map[string]any{"runId": id, "ts": time.Now().UTC().Format(time.RFC3339)}})
        }
    }
}

// VenuesHandler handles GET/PUT /v1/venues
func (s *Server) VenuesHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    switch r.Method {
    case http.MethodGet:
        if !p.CanRead() { writeProblem(w, 403, "Forbidden", "", r.URL.Path); return }
        vs, err := s.Store.ListVenues(r.Context(), p.Tenant)
        if err != nil { writeError(w, r, "List venues failed", err); return }
        source := "tenant"
        if len(vs) == 0 {
            if vs, err = s.Catalog.FetchVenues(r.Context()); err != nil { writeError(w, r, "Load catalog failed", err); return }
            source = s.Catalog.Name()
        }
        writeJSON(w, 200, map[string]any{"items": vs, "source": source, "maxPrice": catalog.MaxPrice(vs)})
    case http.MethodPut:
        if !p.CanPlan() { writeProblem(w, 403, "Forbidden", "planner or admin required", r.URL.Path); return }
        var body struct{ Venues []model.Venue `json:"venues"` }
        if err := json.NewDecoder(r.Body).Decode(&body); err != nil { writeProblem(w, 400, "Invalid JSON", err.Error(), r.URL.Path); return }
        if len(body.Venues) > maxVenues { writeProblem(w, 400, "Invalid catalog", fmt.Sprintf("at most %d venues", maxVenues), r.URL.Path); return }
        if err := catalog.Validate(body.Venues); err != nil { writeError(w, r, "Invalid catalog", err); return }
        vs, err := s.Store.PutVenues(r.Context(), p.Tenant, body.Venues)
        if err != nil { writeError(w, r, "Save venues failed", err); return }
        writeJSON(w, 200, map[string]any{"items": vs})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// SubscriptionsHandler handles POST/GET /v1/subscriptions (admin)
func (s *Server) SubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    switch r.Method {
    case http.MethodPost:
        var req model.SubscriptionRequest
        if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
            writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
            return
        }
        req.TenantID = p.Tenant
        if !strings.HasPrefix(req.URL, "http://") && !strings.HasPrefix(req.URL, "https://") {
            writeProblem(w, 400, "Invalid subscription", "url must be http(s)", r.URL.Path)
            return
        }
        if len(req.Events) == 0 {
            req.Events = webhooks.Events
        }
        for _, e := range req.Events {
            if !webhooks.KnownEvent(e) { writeProblem(w, 400, "Invalid subscription", "unknown event: "+e, r.URL.Path); return }
        }
        sub, err := s.Store.CreateSubscription(r.Context(), req)
        if err != nil { writeError(w, r, "Create subscription failed", err); return }
        writeJSON(w, http.StatusCreated, sub)
    case http.MethodGet:
        items, next, err := s.Store.ListSubscriptions(r.Context(), p.Tenant, r.URL.Query().Get("cursor"), queryLimit(r))
        if err != nil { writeError(w, r, "List subscriptions failed", err); return }
        writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
    default:
        w.WriteHeader(http.StatusMethodNotAllowed)
    }
}

// Subscription delete (admin)
func (s *Server) SubscriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
    if r.Method != http.MethodDelete { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimPrefix(r.URL.Path, "/v1/subscriptions/")
    if err := s.Store.DeleteSubscription(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Delete subscription failed", err); return }
    w.WriteHeader(204)
}

// Admin: webhook deliveries list and retry
func (s *Server) WebhookDeliveriesHandler(w http.ResponseWriter, r *http.Request) {
    if r.URL.Path != "/v1/admin/webhook-deliveries" { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    if r.Method != http.MethodGet { w.WriteHeader(405); return }
    q := r.URL.Query()
    items, next, err := s.Store.ListWebhookDeliveries(r.Context(), p.Tenant, q.Get("status"), q.Get("cursor"), queryLimit(r))
    if err != nil { writeError(w, r, "List deliveries failed", err); return }
    writeJSON(w, 200, map[string]any{"items": items, "nextCursor": next})
}

func (s *Server) WebhookDeliveryRetryHandler(w http.ResponseWriter, r *http.Request) {
    if !strings.HasPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/") || !strings.HasSuffix(r.URL.Path, "/retry") { writeProblem(w, 404, "Not Found", "", r.URL.Path); return }
    if r.Method != http.MethodPost { w.WriteHeader(405); return }
    p := s.getPrincipal(r)
    if !p.IsAdmin() { writeProblem(w, 403, "Forbidden", "admin required", r.URL.Path); return }
    id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/admin/webhook-deliveries/"), "/retry")
    if err := s.Store.RetryWebhookDelivery(r.Context(), p.Tenant, id); err != nil { writeError(w, r, "Retry delivery failed", err); return }
    writeJSON(w, 202, map[string]int{"accepted": 1})
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
    writeJSON(w, 200, map[string]string{"status": "ok"})
}

func (s *Server) ReadyHandler(w http.ResponseWriter, r *http.Request) {
    // Check DB connectivity when using Postgres store
    type pinger interface{ Ping(ctx context.Context) error }
    if pg, ok := s.Store.(pinger); ok {
        ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
        defer cancel()
        if err := pg.Ping(ctx); err != nil { writeProblem(w, 503, "Not Ready", err.Error(), r.URL.Path); return }
    }
    writeJSON(w, 200, map[string]string{"status": "ready"})
}

// metricsView renders solver metrics with non-finite values as null.
func metricsView(m opt.Metrics) map[string]any {
    return map[string]any{
        "seed":               m.Seed,
        "filteredVenues":     m.FilteredVenues,
        "generations":        m.Generations,
        "evaluations":        m.Evaluations,
        "improvements":       m.Improvements,
        "initialBestFitness": finite(m.InitialBestFitness),
        "bestFitness":        finite(m.BestFitness),
        "finalMeanFitness":   finite(m.FinalMeanFitness),
        "elapsedMs":          m.Elapsed.Milliseconds(),
    }
}
