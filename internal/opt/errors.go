package opt

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks fatal setup problems detected before any generation runs.
	ErrConfiguration = errors.New("configuration error")
	// ErrNoVenues is returned when the filters leave nothing to route.
	ErrNoVenues = fmt.Errorf("%w: no venue satisfies the rating and price criteria", ErrConfiguration)
	// ErrNumericDegeneracy is the fitness normalizer hitting zero.
	ErrNumericDegeneracy = errors.New("numeric degeneracy")
	// ErrDegenerateRoute is a tour that is empty or has zero length.
	ErrDegenerateRoute = fmt.Errorf("%w: degenerate route", ErrNumericDegeneracy)
	// ErrPopulationTooSmall is returned by selection when fewer than k individuals exist.
	ErrPopulationTooSmall = errors.New("population smaller than tournament size")
)
