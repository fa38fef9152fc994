package model

// Core domain types shared by the optimizer, store and API.

// Point is a planar location. Venue catalogs use a local grid, not lat/lng.
type Point struct {
    X float64 `json:"x" yaml:"x"`
    Y float64 `json:"y" yaml:"y"`
}

// Venue is an immutable candidate stop. Venues are only reordered or filtered.
type Venue struct {
    ID       string  `json:"id,omitempty" yaml:"id,omitempty"`
    Name     string  `json:"name" yaml:"name"`
    Location Point   `json:"location" yaml:"location"`
    Rating   float64 `json:"rating" yaml:"rating"`
    Price    float64 `json:"price" yaml:"price"`
}

// Criteria are the hard filters applied to a catalog before optimization.
type Criteria struct {
    MinRating float64 `json:"minRating" yaml:"minRating"`
    MaxPrice  float64 `json:"maxPrice" yaml:"maxPrice"`
}

// Weights balance the soft objective terms. They need not sum to 1.
type Weights struct {
    Distance float64 `json:"distance" yaml:"distance"`
    Rating   float64 `json:"rating" yaml:"rating"`
    Price    float64 `json:"price" yaml:"price"`
}

type OptimizeRequest struct {
    TenantID       string   `json:"tenantId"`
    Venues         []Venue  `json:"venues,omitempty"`
    PopulationSize int      `json:"populationSize,omitempty"`
    Generations    *int     `json:"generations,omitempty"`
    MutationRate   *float64 `json:"mutationRate,omitempty"`
    TournamentSize int      `json:"tournamentSize,omitempty"`
    Criteria       *Criteria `json:"criteria,omitempty"`
    Weights        *Weights `json:"weights,omitempty"`
    Seed           int64    `json:"seed,omitempty"`
    Workers        int      `json:"workers,omitempty"`
    Async          bool     `json:"async,omitempty"`
}

// Run statuses
const (
    RunRunning   = "running"
    RunSucceeded = "succeeded"
    RunFailed    = "failed"
)

// RunParams records the effective parameters a run used.
type RunParams struct {
    PopulationSize int      `json:"populationSize"`
    Generations    int      `json:"generations"`
    MutationRate   float64  `json:"mutationRate"`
    TournamentSize int      `json:"tournamentSize"`
    Criteria       Criteria `json:"criteria"`
    Weights        Weights  `json:"weights"`
    Seed           int64    `json:"seed"`
}

type Run struct {
    ID          string    `json:"id"`
    TenantID    string    `json:"tenantId"`
    Status      string    `json:"status"`
    Params      RunParams `json:"params"`
    Route       []Venue   `json:"route,omitempty"`
    Fitness     *float64  `json:"fitness,omitempty"`
    TourLength  float64   `json:"tourLength,omitempty"`
    Generations int       `json:"generations"`
    Evaluations int       `json:"evaluations,omitempty"`
    Error       string    `json:"error,omitempty"`
    CreatedAt   string    `json:"createdAt"`
    FinishedAt  string    `json:"finishedAt,omitempty"`
}

// GenerationSnapshot is a periodic sample of population statistics.
type GenerationSnapshot struct {
    Generation  int     `json:"generation"`
    BestFitness float64 `json:"bestFitness"`
    MeanFitness float64 `json:"meanFitness"`
    StdDev      float64 `json:"stdDev"`
}

type SubscriptionRequest struct {
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret"`
}

type Subscription struct {
    ID       string   `json:"id"`
    TenantID string   `json:"tenantId"`
    URL      string   `json:"url"`
    Events   []string `json:"events"`
    Secret   string   `json:"secret,omitempty"`
}
