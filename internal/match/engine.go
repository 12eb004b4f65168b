// Package match ranks active drivers against a client's search.
package match

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// GeoIndex is the slice of internal/geo the engine needs.
type GeoIndex interface {
	QueryActive(ctx context.Context, now time.Time, window time.Duration) ([]geo.Ping, error)
}

// DriverLookup resolves a ping to the full driver record.
type DriverLookup interface {
	Lookup(ctx context.Context, driverID string) (models.Driver, error)
}

// Filters are exact, case-insensitive equality predicates; an empty field
// imposes no constraint.
type Filters struct {
	Nationality string
	VehicleType string
	Gender      string
}

type Engine struct {
	index     GeoIndex
	directory DriverLookup

	StalenessWindow time.Duration
	Limit           int

	now func() time.Time
}

func NewEngine(index GeoIndex, directory DriverLookup, window time.Duration, limit int) *Engine {
	return &Engine{
		index:           index,
		directory:       directory,
		StalenessWindow: window,
		Limit:           limit,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// FindCandidates returns up to limit drivers matching the filters, sorted by
// ascending distance when the client supplied a location. Candidates without
// a usable position sort last; with no client location the directory order
// is preserved. An empty result is a normal outcome, not an error.
func (e *Engine) FindCandidates(ctx context.Context, clientLoc *models.Coord, f Filters, limit int) ([]models.MatchCandidate, error) {
	if limit <= 0 {
		limit = e.Limit
	}
	observability.CandidateQueries.Inc()

	pings, err := e.index.QueryActive(ctx, e.now(), e.StalenessWindow)
	if err != nil {
		return nil, err
	}

	out := make([]models.MatchCandidate, 0, len(pings))
	for _, p := range pings {
		d, err := e.directory.Lookup(ctx, p.DriverID)
		if err != nil {
			// The driver table moved under us; skip the orphan ping.
			continue
		}
		if !matchField(f.Nationality, d.Attributes.Nationality) ||
			!matchField(f.VehicleType, d.Attributes.VehicleType) ||
			!matchField(f.Gender, d.Attributes.Gender) {
			continue
		}
		c := models.MatchCandidate{Driver: d}
		if clientLoc != nil {
			if km, ok := geo.DistanceKm(clientLoc, p.Position); ok {
				v := km
				c.DistanceKm = &v
			}
		}
		out = append(out, c)
	}

	if clientLoc != nil {
		// Stable: equal distances keep their pre-sort relative order.
		sort.SliceStable(out, func(i, j int) bool {
			return sortKey(out[i]) < sortKey(out[j])
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	observability.CandidatesFound.Observe(float64(len(out)))
	return out, nil
}

func matchField(want, have string) bool {
	if want == "" {
		return true
	}
	return strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(have))
}

// sortKey treats an absent distance as infinitely far.
func sortKey(c models.MatchCandidate) float64 {
	if c.DistanceKm == nil {
		return 1 << 30
	}
	return *c.DistanceKm
}
