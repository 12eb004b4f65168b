package geo

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

func TestHaversineKm(t *testing.T) {
	// Two points in central Riyadh roughly 1.6 km apart.
	got := HaversineKm(24.7136, 46.6753, 24.7000, 46.6800)
	if got < 1.3 || got > 1.9 {
		t.Errorf("HaversineKm = %g, want about 1.6", got)
	}
	if d := HaversineKm(24.7, 46.6, 24.7, 46.6); d != 0 {
		t.Errorf("identical points: got %g, want 0", d)
	}
}

func TestDistanceKmAbsent(t *testing.T) {
	a := &models.Coord{Lat: 24.7, Lon: 46.6}
	if _, ok := DistanceKm(a, nil); ok {
		t.Error("nil side should report absent")
	}
	if _, ok := DistanceKm(a, &models.Coord{}); ok {
		t.Error("unset (0,0) side should report absent")
	}
	if km, ok := DistanceKm(a, a); !ok || km != 0 {
		t.Errorf("same point: got %g,%v", km, ok)
	}
}

func TestUpsertPositionActivates(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewIndex(store)

	seed := models.Driver{ID: "D1", Activity: models.ActivityInactive}
	if err := store.UpsertDriver(ctx, seed); err != nil {
		t.Fatal(err)
	}

	at := time.Now().UTC()
	if err := idx.UpsertPosition(ctx, "D1", 24.7, 46.6, at); err != nil {
		t.Fatalf("UpsertPosition: %v", err)
	}

	d, err := store.GetDriver(ctx, "D1")
	if err != nil {
		t.Fatal(err)
	}
	if d.Activity != models.ActivityActive {
		t.Errorf("activity = %s, want active", d.Activity)
	}
	if d.Position == nil || d.Position.Lat != 24.7 || d.Position.Lon != 46.6 {
		t.Errorf("position not recorded: %+v", d.Position)
	}
	if !d.LastUpdate.Equal(at) {
		t.Errorf("last update = %v, want %v", d.LastUpdate, at)
	}
}

func TestQueryActiveDemotesStale(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewIndex(store)

	now := time.Now().UTC()
	window := 10 * time.Minute

	fresh := models.Driver{ID: "fresh", Activity: models.ActivityActive,
		Position: &models.Coord{Lat: 24.7, Lon: 46.6}, LastUpdate: now.Add(-5 * time.Minute)}
	stale := models.Driver{ID: "stale", Activity: models.ActivityActive,
		Position: &models.Coord{Lat: 24.8, Lon: 46.7}, LastUpdate: now.Add(-11 * time.Minute)}
	off := models.Driver{ID: "off", Activity: models.ActivityInactive,
		LastUpdate: now.Add(-1 * time.Minute)}
	for _, d := range []models.Driver{fresh, stale, off} {
		if err := store.UpsertDriver(ctx, d); err != nil {
			t.Fatal(err)
		}
	}

	pings, err := idx.QueryActive(ctx, now, window)
	if err != nil {
		t.Fatalf("QueryActive: %v", err)
	}
	if len(pings) != 1 || pings[0].DriverID != "fresh" {
		t.Fatalf("got %d pings, want just fresh: %+v", len(pings), pings)
	}

	// The demotion must be persisted, not just filtered.
	d, err := store.GetDriver(ctx, "stale")
	if err != nil {
		t.Fatal(err)
	}
	if d.Activity != models.ActivityInactive {
		t.Errorf("stale driver not demoted in store: %s", d.Activity)
	}
}

func TestUpsertPositionConcurrent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	idx := NewIndex(store)

	const drivers = 8
	for i := 0; i < drivers; i++ {
		id := fmt.Sprintf("D%d", i)
		if err := store.UpsertDriver(ctx, models.Driver{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	var wg sync.WaitGroup
	for i := 0; i < drivers; i++ {
		for j := 0; j < 20; j++ {
			wg.Add(1)
			go func(i, j int) {
				defer wg.Done()
				id := fmt.Sprintf("D%d", i)
				at := time.Now().UTC()
				if err := idx.UpsertPosition(ctx, id, 24.0+float64(j)*0.001, 46.0, at); err != nil {
					t.Errorf("UpsertPosition %s: %v", id, err)
				}
			}(i, j)
		}
	}
	wg.Wait()

	all, err := store.GetAllDrivers(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, d := range all {
		if d.Activity != models.ActivityActive || d.Position == nil {
			t.Errorf("driver %s not fully updated: activity=%s position=%v", d.ID, d.Activity, d.Position)
		}
		if d.Position != nil && math.IsNaN(d.Position.Lat) {
			t.Errorf("driver %s has corrupted position", d.ID)
		}
	}
}
