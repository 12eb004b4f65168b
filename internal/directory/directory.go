// Package directory owns driver identity and the user role registry.
package directory

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/storage"
)

var ErrNotFound = errors.New("driver not found")

type Directory struct {
	drivers storage.DriverStore
	users   storage.UserStore
	logger  *slog.Logger

	now func() time.Time
}

func New(drivers storage.DriverStore, users storage.UserStore, logger *slog.Logger) *Directory {
	return &Directory{drivers: drivers, users: users, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Registration carries the caller-supplied fields for Register. The contact
// channel is the stable identity handle; the driver id is generated here.
type Registration struct {
	DisplayName    string
	ContactChannel string
	Attributes     models.DriverAttributes
}

// Register merges into an existing record with the same contact channel or
// creates a fresh one. Re-registering overwrites attributes and re-activates
// the driver; the generated driver id is stable across re-registrations.
func (d *Directory) Register(ctx context.Context, reg Registration) (string, error) {
	existing, err := d.drivers.GetAllDrivers(ctx)
	if err != nil {
		return "", err
	}
	for _, rec := range existing {
		if rec.ContactChannel != reg.ContactChannel {
			continue
		}
		rec.DisplayName = reg.DisplayName
		rec.Attributes = mergeAttributes(rec.Attributes, reg.Attributes)
		rec.Activity = models.ActivityActive
		rec.LastUpdate = d.now()
		if err := d.drivers.UpsertDriver(ctx, rec); err != nil {
			return "", err
		}
		d.logger.Info("driver re-registered", "driver_id", rec.ID)
		return rec.ID, nil
	}

	driver := models.Driver{
		ID:             newDriverID(),
		DisplayName:    reg.DisplayName,
		ContactChannel: reg.ContactChannel,
		Attributes:     reg.Attributes,
		LastUpdate:     d.now(),
		Activity:       models.ActivityActive,
	}
	if err := d.drivers.UpsertDriver(ctx, driver); err != nil {
		return "", err
	}
	d.logger.Info("driver registered", "driver_id", driver.ID)
	return driver.ID, nil
}

// mergeAttributes keeps the stored value for any field the caller left blank.
func mergeAttributes(old, upd models.DriverAttributes) models.DriverAttributes {
	pick := func(n, o string) string {
		if n != "" {
			return n
		}
		return o
	}
	return models.DriverAttributes{
		Age:         pick(upd.Age, old.Age),
		Nationality: pick(upd.Nationality, old.Nationality),
		Phone:       pick(upd.Phone, old.Phone),
		VehicleType: pick(upd.VehicleType, old.VehicleType),
		VehicleMake: pick(upd.VehicleMake, old.VehicleMake),
		VehicleYear: pick(upd.VehicleYear, old.VehicleYear),
		Gender:      pick(upd.Gender, old.Gender),
	}
}

// SetActive is the explicit activity override, independent of staleness.
func (d *Directory) SetActive(ctx context.Context, driverID string, active bool) error {
	rec, err := d.drivers.GetDriver(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if active {
		rec.Activity = models.ActivityActive
	} else {
		rec.Activity = models.ActivityInactive
	}
	rec.LastUpdate = d.now()
	return d.drivers.UpsertDriver(ctx, rec)
}

func (d *Directory) Lookup(ctx context.Context, driverID string) (models.Driver, error) {
	rec, err := d.drivers.GetDriver(ctx, driverID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Driver{}, ErrNotFound
	}
	return rec, err
}

// LookupByChannel resolves the stable contact handle to a driver record.
func (d *Directory) LookupByChannel(ctx context.Context, channel string) (models.Driver, error) {
	all, err := d.drivers.GetAllDrivers(ctx)
	if err != nil {
		return models.Driver{}, err
	}
	for _, rec := range all {
		if rec.ContactChannel == channel {
			return rec, nil
		}
	}
	return models.Driver{}, ErrNotFound
}

// SetRole records a user's single role. Last write wins; setting the same
// role again is a no-op.
func (d *Directory) SetRole(ctx context.Context, userID, displayName string, role models.Role) error {
	u, err := d.users.GetUser(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if err == nil && u.Role == role && u.DisplayName == displayName {
		return nil
	}
	return d.users.UpsertUser(ctx, models.User{ID: userID, DisplayName: displayName, Role: role})
}

// Role returns the user's role, or "" for unknown users.
func (d *Directory) Role(ctx context.Context, userID string) (models.Role, error) {
	u, err := d.users.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return u.Role, nil
}

func newDriverID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "D" + hex.EncodeToString(b)
}
