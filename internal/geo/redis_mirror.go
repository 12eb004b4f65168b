package geo

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisMirror keeps a secondary copy of live driver positions in Redis GEO
// structures so dashboards and ops tooling can query them without hitting
// the primary store. It is written by the location consumer and is never
// read on the matching path; the store remains the source of truth.
type RedisMirror struct {
	client *redis.Client
	key    string
}

func NewRedisMirror(addr, password, key string) *RedisMirror {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisMirror{client: c, key: key}
}

func (r *RedisMirror) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisMirror) Close() error { return r.client.Close() }

// Record mirrors one location report: GEOADD for the coordinates plus a
// meta hash carrying the freshness fields.
func (r *RedisMirror) Record(ctx context.Context, driverID string, lat, lon float64, at time.Time) error {
	if _, err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{
		Longitude: lon, Latitude: lat, Name: driverID,
	}).Result(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(driverID), map[string]interface{}{
		"last_update": at.UTC().Format(time.RFC3339),
		"active":      strconv.FormatBool(true),
	}).Err()
}

// Remove drops a driver from the mirror after an explicit stop-sharing.
func (r *RedisMirror) Remove(ctx context.Context, driverID string) error {
	if err := r.client.ZRem(ctx, r.key, driverID).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(driverID), "active", strconv.FormatBool(false)).Err()
}

func metaKey(id string) string { return "driver:meta:" + id }
