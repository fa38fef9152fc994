// Package catalog loads and validates venue catalogs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"venuetour/internal/integrations"
	"venuetour/internal/integrations/csvfile"
	"venuetour/internal/model"
)

var ErrInvalid = errors.New("invalid catalog")

type file struct {
	Venues []model.Venue `yaml:"venues"`
}

// LoadYAML reads a document of the form `venues: [...]`.
func LoadYAML(r io.Reader) ([]model.Venue, error) {
	var f file
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	if err := Validate(f.Venues); err != nil {
		return nil, err
	}
	return f.Venues, nil
}

// LoadFile picks the decoder by extension: .csv, otherwise YAML.
func LoadFile(path string) ([]model.Venue, error) {
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		vs, err := csvfile.Adapter{Path: path}.FetchVenues(context.Background())
		if err != nil {
			return nil, err
		}
		return vs, Validate(vs)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadYAML(f)
}

// Source returns the catalog integration for path, or the built-in catalog
// when path is empty.
func Source(path string) (integrations.CatalogSource, error) {
	if path == "" {
		return integrations.Static{Label: "default", Venues: Default()}, nil
	}
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		return csvfile.Adapter{Path: path}, nil
	}
	vs, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	return integrations.Static{Label: filepath.Base(path), Venues: vs}, nil
}

// Validate checks names, coordinates, ratings and prices.
func Validate(vs []model.Venue) error {
	if len(vs) == 0 {
		return fmt.Errorf("%w: no venues", ErrInvalid)
	}
	for i, v := range vs {
		switch {
		case strings.TrimSpace(v.Name) == "":
			return fmt.Errorf("%w: venue %d has no name", ErrInvalid, i)
		case !finite(v.Location.X) || !finite(v.Location.Y):
			return fmt.Errorf("%w: venue %q has a non-finite location", ErrInvalid, v.Name)
		case !finite(v.Rating) || v.Rating < 0:
			return fmt.Errorf("%w: venue %q has rating %v", ErrInvalid, v.Name, v.Rating)
		case !finite(v.Price) || v.Price < 0:
			return fmt.Errorf("%w: venue %q has price %v", ErrInvalid, v.Name, v.Price)
		}
	}
	return nil
}

// MaxPrice is the highest price in vs, 0 for an empty catalog.
func MaxPrice(vs []model.Venue) float64 {
	m := 0.0
	for _, v := range vs {
		if v.Price > m {
			m = v.Price
		}
	}
	return m
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
