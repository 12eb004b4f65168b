package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// Ping is one live-position row: what QueryActive hands to the matcher.
// Position is nil for drivers that are active but have never reported one.
type Ping struct {
	DriverID   string
	Position   *models.Coord
	LastUpdate time.Time
}

// Index answers proximity queries over the driver table and owns the lazy
// staleness demotion. There is no background sweep: a driver that stops
// reporting is retired by the next query that notices.
type Index struct {
	store storage.DriverStore

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-driver serialization for position writes
}

func NewIndex(store storage.DriverStore) *Index {
	return &Index{store: store, locks: make(map[string]*sync.Mutex)}
}

// driverLock returns the mutex serializing updates for one driver id.
// Updates for different drivers proceed independently.
func (g *Index) driverLock(id string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	l, ok := g.locks[id]
	if !ok {
		l = &sync.Mutex{}
		g.locks[id] = l
	}
	return l
}

// UpsertPosition records a location report: position, timestamp, and
// re-activation in one atomic record write. Last writer by arrival wins.
func (g *Index) UpsertPosition(ctx context.Context, driverID string, lat, lon float64, at time.Time) error {
	l := g.driverLock(driverID)
	l.Lock()
	defer l.Unlock()

	d, err := g.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	d.Position = &models.Coord{Lat: lat, Lon: lon}
	d.LastUpdate = at
	d.Activity = models.ActivityActive
	return g.store.UpsertDriver(ctx, d)
}

// Deactivate handles an explicit stop-sharing request.
func (g *Index) Deactivate(ctx context.Context, driverID string) error {
	l := g.driverLock(driverID)
	l.Lock()
	defer l.Unlock()

	d, err := g.store.GetDriver(ctx, driverID)
	if err != nil {
		return err
	}
	d.Activity = models.ActivityInactive
	d.LastUpdate = time.Now().UTC()
	return g.store.UpsertDriver(ctx, d)
}

// QueryActive returns every driver whose stored state is active and whose
// last report is within the staleness window. Drivers found active but stale
// are demoted to inactive and the demotion is persisted, so subsequent
// queries (and any other reader of the store) see it.
func (g *Index) QueryActive(ctx context.Context, now time.Time, window time.Duration) ([]Ping, error) {
	drivers, err := g.store.GetAllDrivers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Ping, 0, len(drivers))
	for _, d := range drivers {
		if d.Activity != models.ActivityActive {
			continue
		}
		if now.Sub(d.LastUpdate) > window {
			g.demote(ctx, d.ID, now, window)
			continue
		}
		out = append(out, Ping{DriverID: d.ID, Position: d.Position, LastUpdate: d.LastUpdate})
	}
	return out, nil
}

func (g *Index) demote(ctx context.Context, driverID string, now time.Time, window time.Duration) {
	l := g.driverLock(driverID)
	l.Lock()
	defer l.Unlock()

	// Re-read under the lock: a fresh ping may have raced the query.
	d, err := g.store.GetDriver(ctx, driverID)
	if err != nil {
		return
	}
	if d.Activity != models.ActivityActive || now.Sub(d.LastUpdate) <= window {
		return
	}
	d.Activity = models.ActivityInactive
	if err := g.store.UpsertDriver(ctx, d); err == nil {
		observability.StaleDemotions.Inc()
	}
}

// HaversineKm is the great-circle distance in kilometers.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371.0
	toRad := func(deg float64) float64 { return deg * math.Pi / 180.0 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// DistanceKm computes the distance between two coordinates, reporting ok=false
// (absent, not zero) when either side is missing or invalid.
func DistanceKm(a, b *models.Coord) (float64, bool) {
	if a == nil || b == nil || !a.Valid() || !b.Valid() {
		return 0, false
	}
	return HaversineKm(a.Lat, a.Lon, b.Lat, b.Lon), true
}
