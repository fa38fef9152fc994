package store

import (
    "context"
    "crypto/sha256"
    "database/sql"
    "encoding/hex"
    "encoding/json"
    "errors"
    "fmt"
    "math"
    "os"
    "path/filepath"
    "sort"
    "time"

    "github.com/google/uuid"
    _ "github.com/jackc/pgx/v5/stdlib"

    "venuetour/internal/model"
)

type Postgres struct {
    db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
    db, err := sql.Open("pgx", dsn)
    if err != nil {
        return nil, err
    }
    if err := db.Ping(); err != nil {
        return nil, err
    }
    return &Postgres{db: db}, nil
}

func (p *Postgres) Ping(ctx context.Context) error { return p.db.PingContext(ctx) }

func (p *Postgres) Close() error { return p.db.Close() }

// MigrateDir applies every *.sql file in dir in lexical order. Statements
// are written to be idempotent.
func (p *Postgres) MigrateDir(dir string) error {
    files, err := filepath.Glob(filepath.Join(dir, "*.sql"))
    if err != nil { return err }
    sort.Strings(files)
    for _, f := range files {
        b, err := os.ReadFile(f)
        if err != nil { return err }
        if _, err := p.db.Exec(string(b)); err != nil {
            return fmt.Errorf("migrate %s: %w", filepath.Base(f), err)
        }
    }
    return nil
}

// PutVenues replaces the tenant catalog in one transaction.
func (p *Postgres) PutVenues(ctx context.Context, tenantID string, venues []model.Venue) ([]model.Venue, error) {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return nil, err }
    defer func(){ _ = tx.Rollback() }()
    if _, err := tx.ExecContext(ctx, `DELETE FROM venues WHERE tenant_id=$1`, tenantID); err != nil { return nil, err }
    out := make([]model.Venue, len(venues))
    for i, v := range venues {
        if _, err := uuid.Parse(v.ID); err != nil { v.ID = uuid.New().String() }
        _, err := tx.ExecContext(ctx, `INSERT INTO venues (id, tenant_id, position, name, x, y, rating, price) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
            v.ID, tenantID, i, v.Name, v.Location.X, v.Location.Y, v.Rating, v.Price)
        if err != nil { return nil, err }
        out[i] = v
    }
    if err := tx.Commit(); err != nil { return nil, err }
    return out, nil
}

func (p *Postgres) ListVenues(ctx context.Context, tenantID string) ([]model.Venue, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, name, x, y, rating, price FROM venues WHERE tenant_id=$1 ORDER BY position`, tenantID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Venue{}
    for rows.Next() {
        var v model.Venue
        if err := rows.Scan(&v.ID, &v.Name, &v.Location.X, &v.Location.Y, &v.Rating, &v.Price); err != nil { return nil, err }
        out = append(out, v)
    }
    return out, rows.Err()
}

// SaveRun upserts a run by ID.
func (p *Postgres) SaveRun(ctx context.Context, run model.Run) error {
    params, err := json.Marshal(run.Params)
    if err != nil { return err }
    var route any
    if len(run.Route) > 0 {
        b, err := json.Marshal(run.Route)
        if err != nil { return err }
        route = b
    }
    created, err := parseTime(run.CreatedAt)
    if err != nil { return err }
    finished, err := parseTime(run.FinishedAt)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO runs (id, tenant_id, status, params, route, fitness, tour_length, generations, evaluations, error, created_at, finished_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,COALESCE($11, now()),$12)
        ON CONFLICT (id) DO UPDATE SET status=$3, route=$5, fitness=$6, tour_length=$7, generations=$8, evaluations=$9, error=$10, finished_at=$12`,
        run.ID, run.TenantID, run.Status, params, route, finiteOrNil(run.Fitness), run.TourLength, run.Generations, run.Evaluations, nullIfEmpty(run.Error), created, finished)
    return err
}

const runCols = `id::text, tenant_id, status, params, route, fitness, tour_length, generations, evaluations, COALESCE(error,''), created_at, finished_at`

func (p *Postgres) GetRun(ctx context.Context, tenantID, runID string) (model.Run, error) {
    if _, err := uuid.Parse(runID); err != nil { return model.Run{}, ErrNotFound }
    row := p.db.QueryRowContext(ctx, `SELECT `+runCols+` FROM runs WHERE tenant_id=$1 AND id=$2`, tenantID, runID)
    r, err := scanRun(row)
    if errors.Is(err, sql.ErrNoRows) { return model.Run{}, ErrNotFound }
    return r, err
}

func (p *Postgres) ListRuns(ctx context.Context, tenantID, status, cursor string, limit int) ([]model.Run, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT `+runCols+` FROM runs
        WHERE tenant_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR id::text > $3)
        ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []model.Run{}
    for rows.Next() {
        r, err := scanRun(rows)
        if err != nil { return nil, "", err }
        out = append(out, r)
    }
    next := ""
    if len(out) == limit { next = out[len(out)-1].ID }
    return out, next, rows.Err()
}

type scanner interface{ Scan(dest ...any) error }

func scanRun(s scanner) (model.Run, error) {
    var r model.Run
    var params, route []byte
    var fitness sql.NullFloat64
    var created time.Time
    var finished sql.NullTime
    if err := s.Scan(&r.ID, &r.TenantID, &r.Status, &params, &route, &fitness, &r.TourLength, &r.Generations, &r.Evaluations, &r.Error, &created, &finished); err != nil {
        return model.Run{}, err
    }
    if err := json.Unmarshal(params, &r.Params); err != nil { return model.Run{}, err }
    if len(route) > 0 {
        if err := json.Unmarshal(route, &r.Route); err != nil { return model.Run{}, err }
    }
    if fitness.Valid { f := fitness.Float64; r.Fitness = &f }
    r.CreatedAt = created.UTC().Format(time.RFC3339)
    if finished.Valid { r.FinishedAt = finished.Time.UTC().Format(time.RFC3339) }
    return r, nil
}

func (p *Postgres) SaveRunSnapshots(ctx context.Context, tenantID, runID string, snaps []model.GenerationSnapshot) error {
    tx, err := p.db.BeginTx(ctx, nil)
    if err != nil { return err }
    defer func(){ _ = tx.Rollback() }()
    var owner string
    if err := tx.QueryRowContext(ctx, `SELECT tenant_id FROM runs WHERE id=$1`, runID).Scan(&owner); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return ErrNotFound }
        return err
    }
    if owner != tenantID { return ErrNotFound }
    for _, s := range snaps {
        _, err := tx.ExecContext(ctx, `INSERT INTO run_snapshots (run_id, generation, best_fitness, mean_fitness, std_dev) VALUES ($1,$2,$3,$4,$5)
            ON CONFLICT (run_id, generation) DO UPDATE SET best_fitness=$3, mean_fitness=$4, std_dev=$5`,
            runID, s.Generation, s.BestFitness, s.MeanFitness, s.StdDev)
        if err != nil { return err }
    }
    return tx.Commit()
}

func (p *Postgres) ListRunSnapshots(ctx context.Context, tenantID, runID string) ([]model.GenerationSnapshot, error) {
    if _, err := p.GetRun(ctx, tenantID, runID); err != nil { return nil, err }
    rows, err := p.db.QueryContext(ctx, `SELECT generation, best_fitness, mean_fitness, std_dev FROM run_snapshots WHERE run_id=$1 ORDER BY generation`, runID)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.GenerationSnapshot{}
    for rows.Next() {
        var s model.GenerationSnapshot
        if err := rows.Scan(&s.Generation, &s.BestFitness, &s.MeanFitness, &s.StdDev); err != nil { return nil, err }
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) CreateSubscription(ctx context.Context, req model.SubscriptionRequest) (model.Subscription, error) {
    id := uuid.New().String()
    ev, _ := json.Marshal(req.Events)
    _, err := p.db.ExecContext(ctx, `INSERT INTO subscriptions (id, tenant_id, url, events, secret) VALUES ($1,$2,$3,$4,$5)`, id, req.TenantID, req.URL, ev, req.Secret)
    if err != nil { return model.Subscription{}, err }
    return model.Subscription{ID: id, TenantID: req.TenantID, URL: req.URL, Events: req.Events, Secret: req.Secret}, nil
}

func (p *Postgres) GetSubscriptionsForEvent(ctx context.Context, tenantID, eventType string) ([]model.Subscription, error) {
    filter, _ := json.Marshal([]string{eventType})
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions WHERE tenant_id=$1 AND events @> $2::jsonb`, tenantID, filter)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []model.Subscription{}
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
    }
    return out, rows.Err()
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID, cursor string, limit int) ([]model.Subscription, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, url, secret, events FROM subscriptions
        WHERE tenant_id=$1 AND ($2 = '' OR id::text > $2) ORDER BY id LIMIT $3`, tenantID, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    var out []model.Subscription
    var last string
    for rows.Next() {
        var s model.Subscription
        var ev []byte
        if err := rows.Scan(&s.ID, &s.URL, &s.Secret, &ev); err != nil { return nil, "", err }
        s.TenantID = tenantID
        _ = json.Unmarshal(ev, &s.Events)
        out = append(out, s)
        last = s.ID
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id string) error {
    if _, err := uuid.Parse(id); err != nil { return ErrNotFound }
    res, err := p.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

// Webhook deliveries
func (p *Postgres) EnqueueWebhook(ctx context.Context, tenantID, subscriptionID, eventType, url, secret string, payload []byte) (string, error) {
    id := uuid.New().String()
    dk := computeDedupKey(payload)
    _, err := p.db.ExecContext(ctx, `INSERT INTO webhook_deliveries (id, tenant_id, subscription_id, event_type, url, secret, payload, status, attempts, next_attempt_at, dedup_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,'pending',0,now(),$8)
        ON CONFLICT (tenant_id, event_type, url, dedup_key) DO NOTHING`, id, tenantID, nullIfEmpty(subscriptionID), eventType, url, nullIfEmpty(secret), payload, dk)
    if err != nil { return "", err }
    return id, nil
}

func (p *Postgres) FetchDueWebhookDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error) {
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, tenant_id, COALESCE(subscription_id::text,''), event_type, url, COALESCE(secret,''), payload, status, attempts
        FROM webhook_deliveries WHERE status IN ('pending','retry') AND next_attempt_at <= now() ORDER BY next_attempt_at ASC LIMIT $1`, limit)
    if err != nil { return nil, err }
    defer rows.Close()
    out := []WebhookDelivery{}
    for rows.Next() {
        var d WebhookDelivery
        if err := rows.Scan(&d.ID, &d.TenantID, &d.SubscriptionID, &d.EventType, &d.URL, &d.Secret, &d.Payload, &d.Status, &d.Attempts); err != nil { return nil, err }
        out = append(out, d)
    }
    return out, rows.Err()
}

func (p *Postgres) MarkWebhookDelivery(ctx context.Context, id string, success bool, nextAttemptAt *time.Time, lastError string, responseCode int, latencyMs int) error {
    if !success {
        if nextAttemptAt == nil { t := time.Now().Add(1 * time.Minute); nextAttemptAt = &t }
        _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='retry', last_error=$2, next_attempt_at=$3, updated_at=now(), response_code=$4, latency_ms=$5 WHERE id=$1`,
            id, nullIfEmpty(lastError), *nextAttemptAt, responseCode, latencyMs)
        return err
    }
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='delivered', delivered_at=now(), updated_at=now(), response_code=$2, latency_ms=$3 WHERE id=$1`, id, responseCode, latencyMs)
    return err
}

func (p *Postgres) FailWebhookDelivery(ctx context.Context, id string, lastError string, responseCode int, latencyMs int) error {
    _, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET attempts=attempts+1, status='failed', last_error=$2, updated_at=now(), response_code=$3, latency_ms=$4 WHERE id=$1`,
        id, nullIfEmpty(lastError), responseCode, latencyMs)
    return err
}

func (p *Postgres) ListWebhookDeliveries(ctx context.Context, tenantID, status, cursor string, limit int) ([]map[string]any, string, error) {
    if limit <= 0 || limit > 500 { limit = 100 }
    rows, err := p.db.QueryContext(ctx, `SELECT id::text, event_type, status, attempts, next_attempt_at, COALESCE(last_error,''), url, COALESCE(response_code,0)
        FROM webhook_deliveries WHERE tenant_id=$1 AND ($2 = '' OR status=$2) AND ($3 = '' OR id::text > $3) ORDER BY id LIMIT $4`, tenantID, status, cursor, limit)
    if err != nil { return nil, "", err }
    defer rows.Close()
    out := []map[string]any{}
    var last string
    for rows.Next() {
        var id, typ, st, lastErr, url string
        var attempts, code int
        var nextAt sql.NullTime
        if err := rows.Scan(&id, &typ, &st, &attempts, &nextAt, &lastErr, &url, &code); err != nil { return nil, "", err }
        m := map[string]any{"id": id, "eventType": typ, "status": st, "attempts": attempts, "url": url}
        if nextAt.Valid { m["nextAttemptAt"] = nextAt.Time }
        if lastErr != "" { m["lastError"] = lastErr }
        if code != 0 { m["responseCode"] = code }
        out = append(out, m)
        last = id
    }
    next := ""
    if len(out) == limit { next = last }
    return out, next, rows.Err()
}

func (p *Postgres) RetryWebhookDelivery(ctx context.Context, tenantID, id string) error {
    if _, err := uuid.Parse(id); err != nil { return ErrNotFound }
    res, err := p.db.ExecContext(ctx, `UPDATE webhook_deliveries SET status='pending', next_attempt_at=now(), updated_at=now() WHERE tenant_id=$1 AND id=$2`, tenantID, id)
    if err != nil { return err }
    if n, _ := res.RowsAffected(); n == 0 { return ErrNotFound }
    return nil
}

func (p *Postgres) GetOptimizerConfig(ctx context.Context, tenantID string) (map[string]any, error) {
    row := p.db.QueryRowContext(ctx, `SELECT config FROM optimizer_config WHERE tenant_id=$1`, tenantID)
    var js []byte
    if err := row.Scan(&js); err != nil {
        if errors.Is(err, sql.ErrNoRows) { return nil, nil }
        return nil, err
    }
    var cfg map[string]any
    if err := json.Unmarshal(js, &cfg); err != nil { return nil, err }
    return cfg, nil
}

func (p *Postgres) SaveOptimizerConfig(ctx context.Context, tenantID string, cfg map[string]any) error {
    js, err := json.Marshal(cfg)
    if err != nil { return err }
    _, err = p.db.ExecContext(ctx, `INSERT INTO optimizer_config (tenant_id, config, updated_at) VALUES ($1, $2, now())
        ON CONFLICT (tenant_id) DO UPDATE SET config=$2, updated_at=now()`, tenantID, js)
    return err
}

// computeDedupKey uses the event id when the payload carries one, otherwise
// a short content hash.
func computeDedupKey(payload []byte) string {
    var m map[string]any
    if json.Unmarshal(payload, &m) == nil {
        if v, ok := m["id"].(string); ok && v != "" {
            return v
        }
    }
    sum := sha256.Sum256(payload)
    return hex.EncodeToString(sum[:8])
}

func nullIfEmpty(s string) any { if s == "" { return nil }; return s }

// finiteOrNil maps a missing or non-finite fitness to SQL NULL.
func finiteOrNil(f *float64) any {
    if f == nil || math.IsNaN(*f) || math.IsInf(*f, 0) { return nil }
    return *f
}

func parseTime(s string) (any, error) {
    if s == "" { return nil, nil }
    t, err := time.Parse(time.RFC3339, s)
    if err != nil { return nil, fmt.Errorf("parse time %q: %w", s, err) }
    return t, nil
}
