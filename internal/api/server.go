package api

import (
    "context"
    "fmt"
    "log"
    "net/http"
    "strings"
    "sync"

    "golang.org/x/time/rate"

    "venuetour/internal/auth"
    "venuetour/internal/catalog"
    "venuetour/internal/config"
    "venuetour/internal/integrations"
    "venuetour/internal/opt"
    "venuetour/internal/store"
    "venuetour/internal/webhooks"
)

type Server struct {
    Store   store.Store
    Pub     *webhooks.Publisher
    Auth    *auth.Verifier
    Broker  EventBroker
    Catalog integrations.CatalogSource
    Config  config.Config

    limiters *tenantLimiters

    // async runs live until Shutdown
    runCtx    context.Context
    cancelRun context.CancelFunc
    runs      sync.WaitGroup
}

// NewServer wires the store, broker and catalog described by cfg. An empty
// DatabaseURL selects the in-memory store; an empty RedisURL the in-process broker.
func NewServer(cfg config.Config) (*Server, error) {
    var s store.Store
    if strings.TrimSpace(cfg.Server.DatabaseURL) == "" {
        s = store.NewMemory()
    } else {
        sp, err := store.NewPostgres(cfg.Server.DatabaseURL)
        if err != nil {
            return nil, err
        }
        if cfg.Server.Migrate {
            if err := sp.MigrateDir("db/migrations"); err != nil {
                return nil, fmt.Errorf("migrate: %w", err)
            }
        }
        s = sp
    }
    var broker EventBroker = NewBroker()
    if cfg.Server.RedisURL != "" {
        if rb, err := NewRedisBroker(cfg.Server.RedisURL); err == nil {
            broker = rb
        } else {
            log.Printf("redis broker unavailable, using in-process broker: %v", err)
        }
    }
    src, err := catalog.Source(cfg.Catalog.Path)
    if err != nil {
        return nil, fmt.Errorf("catalog: %w", err)
    }
    ctx, cancel := context.WithCancel(context.Background())
    return &Server{
        Store:     s,
        Pub:       webhooks.NewPublisher(s),
        Auth:      auth.NewVerifierFromEnv(),
        Broker:    broker,
        Catalog:   src,
        Config:    cfg,
        limiters:  newTenantLimiters(rate.Limit(cfg.Server.RateRPS), cfg.Server.RateBurst),
        runCtx:    ctx,
        cancelRun: cancel,
    }, nil
}

// Routes builds the HTTP mux with logging and metrics middleware.
func (s *Server) Routes() http.Handler {
    mux := http.NewServeMux()

    // Optimization
    mux.HandleFunc("/v1/optimize", s.OptimizeHandler)
    mux.HandleFunc("/v1/optimizer/config", s.OptimizerConfigHandler)
    mux.HandleFunc("/v1/admin/optimizer/config", s.AdminOptimizerConfigHandler)

    // Runs
    mux.HandleFunc("/v1/runs", s.RunsIndexHandler)
    mux.HandleFunc("/v1/runs/ws", s.RunsWSHandler)
    mux.HandleFunc("/v1/runs/", s.RunByIDHandler) // includes /snapshots, /events/stream

    // Catalog
    mux.HandleFunc("/v1/venues", s.VenuesHandler)

    // Subscriptions
    mux.HandleFunc("/v1/subscriptions", s.SubscriptionsHandler)
    mux.HandleFunc("/v1/subscriptions/", s.SubscriptionByIDHandler)

    // Admin
    mux.HandleFunc("/v1/admin/webhook-deliveries", s.WebhookDeliveriesHandler)
    mux.HandleFunc("/v1/admin/webhook-deliveries/", s.WebhookDeliveryRetryHandler)

    // Health, metrics, docs
    mux.HandleFunc("/healthz", s.HealthHandler)
    mux.HandleFunc("/readyz", s.ReadyHandler)
    mux.Handle("/metrics", metricsHandler())
    mux.HandleFunc("/debug/info", s.DebugJSON)
    mux.HandleFunc("/openapi.yaml", s.OpenAPIHandler)
    mux.HandleFunc("/openapi.json", s.OpenAPIJSONHandler)
    mux.HandleFunc("/docs", s.DocsHandler)

    return logMiddleware(instrument(mux))
}

// NewWebhookWorker creates a background worker for webhook deliveries.
func (s *Server) NewWebhookWorker() *webhooks.Worker {
    return webhooks.NewWorker(s.Store, s.Config.Webhooks.MaxAttempts)
}

// Shutdown cancels in-flight async runs and waits for them to record their outcome.
func (s *Server) Shutdown(ctx context.Context) error {
    s.cancelRun()
    done := make(chan struct{})
    go func() { s.runs.Wait(); close(done) }()
    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// defaultParams returns the configured solver defaults.
func (s *Server) defaultParams() opt.Params { return s.Config.Params() }

// tenantLimiters hands out one token bucket per tenant.
type tenantLimiters struct {
    mu    sync.Mutex
    rps   rate.Limit
    burst int
    m     map[string]*rate.Limiter
}

func newTenantLimiters(rps rate.Limit, burst int) *tenantLimiters {
    if burst <= 0 { burst = 1 }
    return &tenantLimiters{rps: rps, burst: burst, m: map[string]*rate.Limiter{}}
}

// Allow reports whether tenant may start another run now. A non-positive
// rate disables limiting.
func (l *tenantLimiters) Allow(tenant string) bool {
    if l == nil || l.rps <= 0 { return true }
    l.mu.Lock()
    lim, ok := l.m[tenant]
    if !ok {
        lim = rate.NewLimiter(l.rps, l.burst)
        l.m[tenant] = lim
    }
    l.mu.Unlock()
    return lim.Allow()
}
