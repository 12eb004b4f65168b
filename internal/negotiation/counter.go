package negotiation

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
)

// PendingCounterRequest correlates a driver's free-text price reply with the
// order they pressed "counter" on. At most one per driver: pressing counter
// on a second order replaces the first request.
type PendingCounterRequest struct {
	DriverID  string    `json:"driver_id"`
	OrderID   string    `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}

type counterRegistry struct {
	mu      sync.Mutex
	byDrvID map[string]PendingCounterRequest
}

func newCounterRegistry() *counterRegistry {
	return &counterRegistry{byDrvID: make(map[string]PendingCounterRequest)}
}

func (r *counterRegistry) put(req PendingCounterRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byDrvID[req.DriverID] = req
}

func (r *counterRegistry) get(driverID string) (PendingCounterRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.byDrvID[driverID]
	return req, ok
}

func (r *counterRegistry) clear(driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byDrvID, driverID)
}

// BeginCounter registers the driver's intent to counter and asks them for
// the new price. The order itself stays Pending until the price arrives.
func (e *Engine) BeginCounter(ctx context.Context, orderID, respondingDriverID string) error {
	l := e.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.DriverID != respondingDriverID {
		return ErrUnauthorized
	}
	if o.Status != models.StatusPending {
		return ErrInvalidState
	}

	e.pending.put(PendingCounterRequest{
		DriverID:  respondingDriverID,
		OrderID:   orderID,
		CreatedAt: e.now(),
	})

	if d, derr := e.drivers.Lookup(ctx, respondingDriverID); derr == nil {
		e.deliver(ctx, d.ContactChannel, notify.Message{
			Text: "Send the new price you propose (number only).",
		})
	}
	return nil
}

// SubmitCounterReply consumes the driver's next text reply as the counter
// price. A malformed number keeps the pending request alive so the driver
// can simply try again; any other outcome clears it.
func (e *Engine) SubmitCounterReply(ctx context.Context, driverID, text string) (models.Order, error) {
	req, ok := e.pending.get(driverID)
	if !ok {
		return models.Order{}, ErrNotFound
	}
	price, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return models.Order{}, ErrMalformedInput
	}
	if err := e.DriverCounter(ctx, req.OrderID, driverID, price); err != nil {
		if !errors.Is(err, ErrMalformedInput) {
			e.pending.clear(driverID)
		}
		return models.Order{}, err
	}
	e.pending.clear(driverID)
	return e.load(ctx, req.OrderID)
}

// PendingCounter exposes the registry for inspection.
func (e *Engine) PendingCounter(driverID string) (PendingCounterRequest, bool) {
	return e.pending.get(driverID)
}
