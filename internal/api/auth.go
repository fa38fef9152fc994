// Package api implements HTTP handlers and helpers for the venue tour service.
package api

import (
    "net/http"
    "strings"

    "venuetour/internal/auth"
)

type Principal struct {
    Tenant string
    Role   string // admin, planner, viewer
}

// getPrincipal extracts tenant and role from a bearer token or headers.
// - If Authorization: Bearer is present, uses the configured verifier (dev/hmac).
// - Else falls back to X-Tenant-Id / X-Role for dev.
func (s *Server) getPrincipal(r *http.Request) Principal {
    authz := r.Header.Get("Authorization")
    if strings.HasPrefix(strings.ToLower(authz), "bearer ") && s.Auth != nil {
        tok := strings.TrimSpace(authz[len("Bearer "):])
        if pr, err := s.Auth.Verify(tok); err == nil {
            return Principal{Tenant: pr.Tenant, Role: pr.Role}
        }
    }
    tenant := strings.TrimSpace(r.Header.Get("X-Tenant-Id"))
    role := strings.ToLower(strings.TrimSpace(r.Header.Get("X-Role")))
    if tenant == "" {
        tenant = "t_demo"
    }
    if role == "" {
        role = auth.RoleAdmin
    }
    return Principal{Tenant: tenant, Role: role}
}

// IsAdmin reports whether the principal has the admin role.
func (p Principal) IsAdmin() bool { return p.Role == auth.RoleAdmin }

// CanPlan reports whether the principal may start runs and edit the catalog.
func (p Principal) CanPlan() bool { return p.IsAdmin() || p.Role == auth.RolePlanner }

// CanRead reports whether the principal may read runs and catalogs.
func (p Principal) CanRead() bool { return p.CanPlan() || p.Role == auth.RoleViewer }
