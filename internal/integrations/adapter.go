package integrations

import (
    "context"

    "venuetour/internal/model"
)

// CatalogSource is the minimal interface for venue catalog integrations.
type CatalogSource interface {
    Name() string
    FetchVenues(ctx context.Context) ([]model.Venue, error)
}

// Static serves a fixed in-memory catalog.
type Static struct {
    Label  string
    Venues []model.Venue
}

func (s Static) Name() string {
    if s.Label == "" {
        return "static"
    }
    return s.Label
}

func (s Static) FetchVenues(ctx context.Context) ([]model.Venue, error) {
    out := make([]model.Venue, len(s.Venues))
    copy(out, s.Venues)
    return out, nil
}
