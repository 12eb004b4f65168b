package storage

import (
	"context"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore keeps all records in keyed maps guarded by a RWMutex.
// Each record is copied in and out whole, so readers never observe a
// partially written record. Used when no PG_DSN is configured and in tests.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[string]models.Driver
	order   []string // driver insertion order, for stable directory iteration
	users   map[string]models.User
	orders  map[string]models.Order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		drivers: make(map[string]models.Driver),
		users:   make(map[string]models.User),
		orders:  make(map[string]models.Order),
	}
}

func (m *MemoryStore) GetAllDrivers(ctx context.Context) ([]models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Driver, 0, len(m.drivers))
	for _, id := range m.order {
		out = append(out, m.drivers[id])
	}
	return out, nil
}

func (m *MemoryStore) GetDriver(ctx context.Context, id string) (models.Driver, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.drivers[id]
	if !ok {
		return models.Driver{}, ErrNotFound
	}
	return d, nil
}

func (m *MemoryStore) UpsertDriver(ctx context.Context, d models.Driver) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.drivers[d.ID]; !ok {
		m.order = append(m.order, d.ID)
	}
	m.drivers[d.ID] = d
	return nil
}

func (m *MemoryStore) GetAllUsers(ctx context.Context) ([]models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	return out, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, u models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *MemoryStore) AppendOrder(ctx context.Context, o models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	return nil
}

func (m *MemoryStore) FindOrder(ctx context.Context, id string) (models.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *MemoryStore) UpdateOrder(ctx context.Context, id string, upd OrderUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	if upd.Status != nil {
		o.Status = *upd.Status
	}
	if upd.DriverPrice != nil {
		o.DriverPrice = *upd.DriverPrice
	}
	if upd.CounterPrice != nil {
		o.CounterPrice = *upd.CounterPrice
	}
	m.orders[id] = o
	return nil
}
