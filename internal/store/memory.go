package store

import (
    "context"
    "sync"
    "time"

    "github.com/google/uuid"
    "venuetour/internal/model"
)

// Memory is a simple in-memory store used when no DATABASE_URL is set.
type Memory struct {
    mu     sync.Mutex
    venues map[string][]model.Venue                   // tenant -> catalog
    runs   map[string]model.Run                       // id -> run
    runTen map[string][]string                        // tenant -> run ids, insertion order
    snaps  map[string][]model.GenerationSnapshot      // run id -> snapshots
    subs   map[string][]model.Subscription            // tenant -> subscriptions
    // Webhooks queue state
    deliveries map[string]*memDelivery                // id -> delivery state
    deliveryIDs []string                              // all delivery ids, enqueue order
    deliveriesByTenant map[string][]string            // tenant -> delivery ids
    optCfg map[string]map[string]any                  // tenant -> config
}

func NewMemory() *Memory {
    return &Memory{
        venues: map[string][]model.Venue{},
        runs: map[string]model.Run{},
        runTen: map[string][]string{},
        snaps: map[string][]model.GenerationSnapshot{},
        subs: map[string][]model.Subscription{},
        deliveries: map[string]*memDelivery{},
        deliveriesByTenant: map[string][]string{},
        optCfg: map[string]map[string]any{},
    }
}

// memDelivery augments WebhookDelivery with scheduling/metrics
type memDelivery struct {
    WebhookDelivery
    NextAttemptAt time.Time
    LastError     string
    ResponseCode  int
    LatencyMs     int
    DeliveredAt   *time.Time
}

// PutVenues replaces the tenant catalog. Venues without an ID get one.
func (m *Memory) PutVenues(ctx context.Context, tenantID string, venues []model.Venue) ([]model.Venue, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := make([]model.Venue, len(venues))
    for i, v := range venues {
        if v.ID == "" { v.ID = uuid.New().String() }
        out[i] = v
    }
    m.venues[tenantID] = out
    return append([]model.Venue(nil), out...), nil
}

func (m *Memory) ListVenues(ctx context.Context, tenantID string) ([]model.Venue, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    return append([]model.Venue(nil), m.venues[tenantID]...), nil
}

// SaveRun inserts or replaces a run by ID.
func (m *Memory) SaveRun(ctx context.Context, run model.Run) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if _, ok := m.runs[run.ID]; !ok {
        m.runTen[run.TenantID] = append(m.runTen[run.TenantID], run.ID)
    }
    run.Route = append([]model.Venue(nil), run.Route...)
    m.runs[run.ID] = run
    return nil
}

func (m *Memory) GetRun(ctx context.Context, tenantID, runID string) (model.Run, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    r, ok := m.runs[runID]
    if !ok || r.TenantID != tenantID { return model.Run{}, ErrNotFound }
    return r, nil
}

func (m *Memory) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    ids := m.runTen[tenantID]
    start := 0
    if cursor != "" {
        for i := range ids { if ids[i] == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    out := []model.Run{}
    next := ""
    for i := start; i < len(ids); i++ {
        r := m.runs[ids[i]]
        if status != "" && r.Status != status { continue }
        if len(out) == limit { next = out[len(out)-1].ID; break }
        out = append(out, r)
    }
    return out, next, nil
}

func (m *Memory) SaveRunSnapshots(ctx context.Context, tenantID, runID string, snaps []model.GenerationSnapshot) error {
    m.mu.Lock(); defer m.mu.Unlock()
    if r, ok := m.runs[runID]; !ok || r.TenantID != tenantID { return ErrNotFound }
    m.snaps[runID] = append([]model.GenerationSnapshot(nil), snaps...)
    return nil
}

func (m *Memory) ListRunSnapshots(ctx context.Context, tenantID, runID string) ([]model.GenerationSnapshot, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if r, ok := m.runs[runID]; !ok || r.TenantID != tenantID { return nil, ErrNotFound }
    out := append([]model.GenerationSnapshot(nil), m.snaps[runID]...)
    if out == nil { out = []model.GenerationSnapshot{} }
    return out, nil
}

func (m *Memory) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    s := model.Subscription{ID: uuid.New().String(), TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}
    m.subs[req.TenantID] = append(m.subs[req.TenantID], s)
    return s, nil
}

func (m *Memory) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    var out []model.Subscription
    for _, s := range m.subs[tenantID] {
        for _, e := range s.Events { if e == eventType { out = append(out, s); break } }
    }
    return out, nil
}

func (m *Memory) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    list := m.subs[tenantID]
    start := 0
    if cursor != "" {
        for i := range list { if list[i].ID == cursor { start = i+1; break } }
    }
    if limit <= 0 { limit = 100 }
    end := start + limit
    if end > len(list) { end = len(list) }
    items := append([]model.Subscription(nil), list[start:end]...)
    next := ""
    if end < len(list) { next = list[end-1].ID }
    return items, next, nil
}

func (m *Memory) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    arr := m.subs[tenantID]
    out := make([]model.Subscription, 0, len(arr))
    for _, s := range arr { if s.ID != id { out = append(out, s) } }
    if len(out) == len(arr) { return ErrNotFound }
    m.subs[tenantID] = out
    return nil
}

// Webhook deliveries
func (m *Memory) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    id := uuid.New().String()
    d := &memDelivery{WebhookDelivery: WebhookDelivery{ID: id, TenantID: tenantID, SubscriptionID: subscriptionID, EventType: eventType, URL: url, Secret: secret, Payload: payload, Status: DeliveryPending}, NextAttemptAt: time.Now()}
    m.deliveries[id] = d
    m.deliveryIDs = append(m.deliveryIDs, id)
    m.deliveriesByTenant[tenantID] = append(m.deliveriesByTenant[tenantID], id)
    return id, nil
}

func (m *Memory) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    now := time.Now()
    out := []WebhookDelivery{}
    for _, id := range m.deliveryIDs {
        d := m.deliveries[id]
        if (d.Status == DeliveryPending || d.Status == DeliveryRetry) && !d.NextAttemptAt.After(now) {
            out = append(out, d.WebhookDelivery)
            if limit > 0 && len(out) >= limit { break }
        }
    }
    return out, nil
}

func (m *Memory) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    if success {
        d.Status = DeliveryDelivered
        now := time.Now()
        d.DeliveredAt = &now
    } else {
        d.Status = DeliveryRetry
        d.LastError = lastError
        if nextAttemptAt != nil { d.NextAttemptAt = *nextAttemptAt } else { d.NextAttemptAt = time.Now().Add(1 * time.Minute) }
    }
    return nil
}

func (m *Memory) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil { return ErrNotFound }
    d.Attempts++
    d.Status = DeliveryFailed
    d.LastError = lastError
    d.ResponseCode = responseCode
    d.LatencyMs = latencyMs
    return nil
}

func (m *Memory) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    out := []map[string]any{}
    for _, id := range m.deliveriesByTenant[tenantID] {
        d := m.deliveries[id]
        if status == "" || d.Status == status {
            item := map[string]any{"id": d.ID, "eventType": d.EventType, "status": d.Status, "attempts": d.Attempts, "url": d.URL}
            if !d.NextAttemptAt.IsZero() { item["nextAttemptAt"] = d.NextAttemptAt }
            if d.LastError != "" { item["lastError"] = d.LastError }
            if d.ResponseCode != 0 { item["responseCode"] = d.ResponseCode }
            out = append(out, item)
        }
    }
    return out, "", nil
}

func (m *Memory) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    m.mu.Lock(); defer m.mu.Unlock()
    d := m.deliveries[id]
    if d == nil || d.TenantID != tenantID { return ErrNotFound }
    d.Status = DeliveryPending
    d.NextAttemptAt = time.Now()
    return nil
}

func (m *Memory) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    m.mu.Lock(); defer m.mu.Unlock()
    if cfg, ok := m.optCfg[tenantID]; ok { return cfg, nil }
    return nil, nil
}

func (m *Memory) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    m.mu.Lock(); defer m.mu.Unlock()
    m.optCfg[tenantID] = cfg
    return nil
}
