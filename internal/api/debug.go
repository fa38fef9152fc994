package api

import (
    "encoding/json"
    "net/http"
    "os"
    "time"

    "venuetour/internal/buildinfo"
)

func (s *Server) DebugJSON(w http.ResponseWriter, r *http.Request) {
    c := s.Config
    info := map[string]any{
        "build": buildinfo.Info(),
        "time":  time.Now().UTC().Format(time.RFC3339),
        "config": map[string]any{
            "port":               c.Server.Port,
            "authMode":           os.Getenv("AUTH_MODE"),
            "rateRps":            c.Server.RateRPS,
            "rateBurst":          c.Server.RateBurst,
            "webhookMaxAttempts": c.Webhooks.MaxAttempts,
            "catalogSource":      s.Catalog.Name(),
            "optimizer":          paramsView(s.defaultParams()),
            "hasDatabaseUrl":     c.Server.DatabaseURL != "",
            "hasRedisUrl":        c.Server.RedisURL != "",
        },
    }
    w.Header().Set("Content-Type", "application/json")
    _ = json.NewEncoder(w).Encode(info)
}
