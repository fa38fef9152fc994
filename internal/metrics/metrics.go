package metrics

import (
    "net/http"
    "sync"

    "github.com/prometheus/client_golang/prometheus"
    "github.com/prometheus/client_golang/prometheus/collectors"
    "github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
    // Registry is the dedicated Prometheus registry for the API
    Registry = prometheus.NewRegistry()
    // HTTPRequests counts requests by method, path, and status
    HTTPRequests = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
        []string{"method", "path", "status"},
    )
    // HTTPDuration records request durations in seconds
    HTTPDuration = prometheus.NewHistogramVec(
        prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
        []string{"method", "path", "status"},
    )

    // Runs counts optimization runs by final status
    Runs = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "ga_runs_total", Help: "Optimization runs by status."},
        []string{"status"},
    )
    // RunDuration records wall time of finished runs in seconds
    RunDuration = prometheus.NewHistogram(
        prometheus.HistogramOpts{Name: "ga_run_duration_seconds", Help: "Optimization run duration in seconds.", Buckets: prometheus.ExponentialBuckets(0.01, 2, 12)},
    )
    // Generations counts evolved generations across all runs
    Generations = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "ga_generations_total", Help: "Generations evolved across all runs."},
    )
    // Evaluations counts fitness evaluations across all runs
    Evaluations = prometheus.NewCounter(
        prometheus.CounterOpts{Name: "ga_fitness_evaluations_total", Help: "Fitness evaluations across all runs."},
    )
    // BestFitness is the best fitness of the most recent successful run per tenant
    BestFitness = prometheus.NewGaugeVec(
        prometheus.GaugeOpts{Name: "ga_best_fitness", Help: "Best fitness of the last successful run."},
        []string{"tenant"},
    )

    // WebhookDeliveries counts webhook delivery outcomes by event type and status
    WebhookDeliveries = prometheus.NewCounterVec(
        prometheus.CounterOpts{Name: "webhook_deliveries_total", Help: "Webhook deliveries by event type and status."},
        []string{"event_type", "status"},
    )
)

// RegisterDefault registers all collectors on Registry. Safe to call more than once.
func RegisterDefault() {
    regOnce.Do(func(){
        Registry.MustRegister(HTTPRequests, HTTPDuration)
        Registry.MustRegister(Runs, RunDuration, Generations, Evaluations, BestFitness)
        Registry.MustRegister(WebhookDeliveries)
        // Go/process collectors on our registry
        Registry.MustRegister(collectors.NewGoCollector())
        Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
    })
}

var regOnce sync.Once

// Handler serves Registry in the Prometheus exposition format.
func Handler() http.Handler {
    RegisterDefault()
    return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry})
}

// ObserveRun records the outcome of one optimization run.
func ObserveRun(tenant, status string, seconds float64, generations, evaluations int, bestFitness *float64) {
    Runs.WithLabelValues(status).Inc()
    RunDuration.Observe(seconds)
    Generations.Add(float64(generations))
    Evaluations.Add(float64(evaluations))
    if bestFitness != nil {
        BestFitness.WithLabelValues(tenant).Set(*bestFitness)
    }
}

func ObserveWebhook(eventType, status string) {
    WebhookDeliveries.WithLabelValues(eventType, status).Inc()
}
