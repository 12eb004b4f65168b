package storage

import (
	"context"
	"errors"

	"github.com/example/ride-dispatch/internal/models"
)

// ErrNotFound is returned when a keyed lookup finds no record.
var ErrNotFound = errors.New("record not found")

// OrderUpdate carries the fields a negotiation transition may change.
// Nil pointers leave the stored value untouched.
type OrderUpdate struct {
	Status       *models.OrderStatus
	DriverPrice  *float64
	CounterPrice *float64
}

// DriverStore persists driver records keyed by the stable driver id.
type DriverStore interface {
	GetAllDrivers(ctx context.Context) ([]models.Driver, error)
	GetDriver(ctx context.Context, id string) (models.Driver, error)
	UpsertDriver(ctx context.Context, d models.Driver) error
}

// UserStore persists user records and their single role.
type UserStore interface {
	GetAllUsers(ctx context.Context) ([]models.User, error)
	GetUser(ctx context.Context, id string) (models.User, error)
	UpsertUser(ctx context.Context, u models.User) error
}

// OrderStore is append-plus-partial-update: orders are never deleted and
// only the negotiation fields ever change after creation.
type OrderStore interface {
	AppendOrder(ctx context.Context, o models.Order) error
	FindOrder(ctx context.Context, id string) (models.Order, error)
	UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error
}

// Store bundles the three record families behind one handle so components
// can be constructed from a single dependency.
type Store interface {
	DriverStore
	UserStore
	OrderStore
}
