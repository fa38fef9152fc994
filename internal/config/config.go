// Package config loads service settings from an optional YAML file and
// overlays environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"venuetour/internal/model"
	"venuetour/internal/opt"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Optimizer Optimizer `yaml:"optimizer"`
	Catalog   Catalog   `yaml:"catalog"`
	Webhooks  Webhooks  `yaml:"webhooks"`
}

type Server struct {
	Port        string  `yaml:"port"`
	DatabaseURL string  `yaml:"databaseUrl"`
	RedisURL    string  `yaml:"redisUrl"`
	Migrate     bool    `yaml:"migrate"`
	RateRPS     float64 `yaml:"rateRps"`
	RateBurst   int     `yaml:"rateBurst"`
}

type Optimizer struct {
	PopulationSize int            `yaml:"populationSize"`
	Generations    int            `yaml:"generations"`
	MutationRate   float64        `yaml:"mutationRate"`
	TournamentSize int            `yaml:"tournamentSize"`
	Criteria       model.Criteria `yaml:"criteria"`
	Weights        model.Weights  `yaml:"weights"`
	Workers        int            `yaml:"workers"`
	SnapshotEvery  int            `yaml:"snapshotEvery"`
}

type Catalog struct {
	Path string `yaml:"path"`
}

type Webhooks struct {
	MaxAttempts int `yaml:"maxAttempts"`
}

// Default returns the built-in settings.
func Default() Config {
	p := opt.DefaultParams()
	return Config{
		Server: Server{Port: "8080", Migrate: true, RateRPS: 5, RateBurst: 10},
		Optimizer: Optimizer{
			PopulationSize: p.PopulationSize,
			Generations:    p.Generations,
			MutationRate:   p.MutationRate,
			TournamentSize: p.TournamentSize,
			Criteria:       p.Criteria,
			Weights:        p.Weights,
			Workers:        1,
			SnapshotEvery:  p.SnapshotEvery,
		},
		Webhooks: Webhooks{MaxAttempts: 8},
	}
}

// Load reads path (if non-empty) over the defaults, then applies the
// environment: PORT, DATABASE_URL, REDIS_URL, DB_MIGRATE, RATE_RPS,
// RATE_BURST, CATALOG_PATH, WEBHOOK_MAX_ATTEMPTS, OPT_WORKERS.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.Getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Params().Validate()
}

// FromEnv is Load with the file named by CONFIG_PATH.
func FromEnv() (Config, error) {
	return Load(os.Getenv("CONFIG_PATH"))
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Server.Port)
	str("DATABASE_URL", &c.Server.DatabaseURL)
	str("REDIS_URL", &c.Server.RedisURL)
	str("CATALOG_PATH", &c.Catalog.Path)
	if v := getenv("DB_MIGRATE"); v != "" {
		c.Server.Migrate = v != "false"
	}
	ints := map[string]*int{
		"RATE_BURST":           &c.Server.RateBurst,
		"WEBHOOK_MAX_ATTEMPTS": &c.Webhooks.MaxAttempts,
		"OPT_WORKERS":          &c.Optimizer.Workers,
	}
	for key, dst := range ints {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
			*dst = n
		}
	}
	if v := getenv("RATE_RPS"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("RATE_RPS: %w", err)
		}
		c.Server.RateRPS = f
	}
	return nil
}

// Params converts the optimizer section to solver parameters.
func (c Config) Params() opt.Params {
	o := c.Optimizer
	return opt.Params{
		PopulationSize: o.PopulationSize,
		Generations:    o.Generations,
		MutationRate:   o.MutationRate,
		TournamentSize: o.TournamentSize,
		Criteria:       o.Criteria,
		Weights:        o.Weights,
		Workers:        o.Workers,
		SnapshotEvery:  o.SnapshotEvery,
	}
}
