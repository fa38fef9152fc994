package api

import (
    "log"
    "net/http"
    "strconv"
    "strings"
    "time"

    "venuetour/internal/metrics"
)

type statusRecorder struct {
    http.ResponseWriter
    status int
}

func (r *statusRecorder) WriteHeader(code int) {
    r.status = code
    r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the recorder.
func (r *statusRecorder) Flush() {
    if f, ok := r.ResponseWriter.(http.Flusher); ok { f.Flush() }
}

// Unwrap lets http.ResponseController and the websocket upgrader reach the
// underlying connection.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func logMiddleware(next http.Handler) http.Handler {
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        start := time.Now()
        next.ServeHTTP(w, r)
        log.Printf("%s %s %s %v", r.RemoteAddr, r.Method, r.URL.Path, time.Since(start))
    })
}

func instrument(next http.Handler) http.Handler {
    metrics.RegisterDefault()
    return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
        if r.URL.Path == "/v1/runs/ws" {
            // hijacked connections report no status
            next.ServeHTTP(w, r)
            return
        }
        start := time.Now()
        rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
        next.ServeHTTP(rec, r)
        path := routeLabel(r.URL.Path)
        code := strconv.Itoa(rec.status)
        metrics.HTTPRequests.WithLabelValues(r.Method, path, code).Inc()
        metrics.HTTPDuration.WithLabelValues(r.Method, path, code).Observe(time.Since(start).Seconds())
    })
}

// routeLabel collapses IDs so metric cardinality stays bounded.
func routeLabel(p string) string {
    parts := strings.Split(strings.Trim(p, "/"), "/")
    if len(parts) >= 3 && parts[0] == "v1" {
        switch parts[1] {
        case "runs", "subscriptions":
            if parts[2] != "ws" { parts[2] = "{id}" }
        case "admin":
            if len(parts) >= 4 && parts[2] == "webhook-deliveries" { parts[3] = "{id}" }
        }
    }
    return "/" + strings.Join(parts, "/")
}

func metricsHandler() http.Handler { return metrics.Handler() }
