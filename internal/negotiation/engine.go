// Package negotiation implements the order state machine: a client proposes
// a price to one driver, the driver accepts, rejects, or counters, and a
// counter goes back to the client for the final word.
package negotiation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/directory"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

var (
	ErrNotFound         = errors.New("order not found")
	ErrUnauthorized     = errors.New("actor is not a party to this order")
	ErrInvalidState     = errors.New("order state does not permit this transition")
	ErrInvalidCandidate = errors.New("order targets an unresolvable driver")
	ErrMalformedInput   = errors.New("malformed input")
)

// DriverResolver is the slice of the directory the engine needs.
type DriverResolver interface {
	Lookup(ctx context.Context, driverID string) (models.Driver, error)
}

type Engine struct {
	orders   storage.OrderStore
	drivers  DriverResolver
	notifier notify.Notifier
	logger   *slog.Logger
	currency string

	mu    sync.Mutex
	locks map[string]*sync.Mutex // per-order serialization

	pending *counterRegistry

	now func() time.Time
}

func NewEngine(orders storage.OrderStore, drivers DriverResolver, notifier notify.Notifier, logger *slog.Logger, currency string) *Engine {
	return &Engine{
		orders:   orders,
		drivers:  drivers,
		notifier: notifier,
		logger:   logger,
		currency: currency,
		locks:    make(map[string]*sync.Mutex),
		pending:  newCounterRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// orderLock returns the mutex serializing transitions for one order id, so
// two racing responses cannot both read Pending and both commit.
func (e *Engine) orderLock(id string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[id]
	if !ok {
		l = &sync.Mutex{}
		e.locks[id] = l
	}
	return l
}

// CreateOrder opens a Pending order from the client to one driver. The
// driver id is fixed for the order's lifetime. Re-requesting the same driver
// deliberately creates a second order; there is no dedup guard.
func (e *Engine) CreateOrder(ctx context.Context, clientID string, driverID string, proposedPrice float64, pickup *models.Coord) (models.Order, error) {
	if !validPrice(proposedPrice) {
		return models.Order{}, ErrMalformedInput
	}
	d, err := e.drivers.Lookup(ctx, driverID)
	if errors.Is(err, directory.ErrNotFound) {
		return models.Order{}, ErrInvalidCandidate
	}
	if err != nil {
		return models.Order{}, err
	}

	o := models.Order{
		ID:            newOrderID(),
		ClientID:      clientID,
		DriverID:      driverID,
		ProposedPrice: proposedPrice,
		Status:        models.StatusPending,
		Pickup:        pickup,
		CreatedAt:     e.now(),
	}
	if err := e.orders.AppendOrder(ctx, o); err != nil {
		return models.Order{}, err
	}
	observability.OrderTransitions.WithLabelValues("create").Inc()
	e.logger.Info("order created", "order_id", o.ID, "client_id", clientID, "driver_id", driverID)

	text := fmt.Sprintf("New delivery request, proposed price %s", models.FormatPrice(proposedPrice, e.currency))
	if pickup != nil {
		text += fmt.Sprintf(", pickup %.5f,%.5f", pickup.Lat, pickup.Lon)
	}
	e.deliver(ctx, d.ContactChannel, notify.Message{
		Text: text,
		Choices: []notify.Choice{
			{Label: "Accept", Token: "driver_accept:" + o.ID},
			{Label: "Propose another price", Token: "driver_counter:" + o.ID},
			{Label: "Reject", Token: "driver_reject:" + o.ID},
		},
	})
	return o, nil
}

// DriverAccept commits the client's proposed price. Only valid from Pending:
// once the driver has countered, acceptance belongs to the client.
func (e *Engine) DriverAccept(ctx context.Context, orderID, respondingDriverID string) error {
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

	status := models.StatusAccepted
	price := o.ProposedPrice
	if err := e.orders.UpdateOrder(ctx, orderID, storage.OrderUpdate{Status: &status, DriverPrice: &price}); err != nil {
		return err
	}
	observability.OrderTransitions.WithLabelValues("driver_accept").Inc()
	e.logger.Info("order accepted", "order_id", orderID, "driver_id", respondingDriverID, "price", price)

	e.deliver(ctx, o.ClientID, notify.Message{Text: e.acceptanceText(ctx, o, price)})
	return nil
}

// DriverReject closes a Pending order.
func (e *Engine) DriverReject(ctx context.Context, orderID, respondingDriverID string) error {
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

	status := models.StatusRejected
	if err := e.orders.UpdateOrder(ctx, orderID, storage.OrderUpdate{Status: &status}); err != nil {
		return err
	}
	observability.OrderTransitions.WithLabelValues("driver_reject").Inc()
	e.logger.Info("order rejected", "order_id", orderID, "driver_id", respondingDriverID)

	e.deliver(ctx, o.ClientID, notify.Message{Text: "Your request was rejected by the driver. You can pick another driver."})
	return nil
}

// DriverCounter moves a Pending order to CounterProposed with the driver's
// alternative price. The client decides from here.
func (e *Engine) DriverCounter(ctx context.Context, orderID, respondingDriverID string, newPrice float64) error {
	if !validPrice(newPrice) {
		return ErrMalformedInput
	}
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

	status := models.StatusCounterProposed
	if err := e.orders.UpdateOrder(ctx, orderID, storage.OrderUpdate{Status: &status, CounterPrice: &newPrice}); err != nil {
		return err
	}
	observability.OrderTransitions.WithLabelValues("driver_counter").Inc()
	e.logger.Info("counter proposed", "order_id", orderID, "driver_id", respondingDriverID, "counter_price", newPrice)

	// The choice tokens bind the client's answer to this counter value.
	e.deliver(ctx, o.ClientID, notify.Message{
		Text: fmt.Sprintf("The driver proposed a new price for order %s: %s. Do you accept?",
			orderID, models.FormatPrice(newPrice, e.currency)),
		Choices: []notify.Choice{
			{Label: "Accept offer", Token: fmt.Sprintf("client_accept_counter:%s:%g", orderID, newPrice)},
			{Label: "Reject offer", Token: "client_reject_counter:" + orderID},
		},
	})
	return nil
}

// ClientAcceptCounter commits the driver's counter price. The submitted
// value must match the stored counter; a mismatch means the button was for
// an earlier offer and the transition is refused.
func (e *Engine) ClientAcceptCounter(ctx context.Context, orderID, respondingClientID string, counterPrice float64) error {
	l := e.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.ClientID != respondingClientID {
		return ErrUnauthorized
	}
	if o.Status != models.StatusCounterProposed {
		return ErrInvalidState
	}
	if o.CounterPrice != counterPrice {
		return ErrInvalidState
	}

	status := models.StatusAccepted
	if err := e.orders.UpdateOrder(ctx, orderID, storage.OrderUpdate{Status: &status, DriverPrice: &counterPrice}); err != nil {
		return err
	}
	observability.OrderTransitions.WithLabelValues("client_accept_counter").Inc()
	e.logger.Info("counter accepted", "order_id", orderID, "client_id", respondingClientID, "price", counterPrice)

	if d, derr := e.drivers.Lookup(ctx, o.DriverID); derr == nil {
		e.deliver(ctx, d.ContactChannel, notify.Message{
			Text: fmt.Sprintf("Your offer for order %s was accepted. Agreed price: %s",
				orderID, models.FormatPrice(counterPrice, e.currency)),
		})
	}
	return nil
}

// ClientRejectCounter closes a CounterProposed order.
func (e *Engine) ClientRejectCounter(ctx context.Context, orderID, respondingClientID string) error {
	l := e.orderLock(orderID)
	l.Lock()
	defer l.Unlock()

	o, err := e.load(ctx, orderID)
	if err != nil {
		return err
	}
	if o.ClientID != respondingClientID {
		return ErrUnauthorized
	}
	if o.Status != models.StatusCounterProposed {
		return ErrInvalidState
	}

	status := models.StatusRejected
	if err := e.orders.UpdateOrder(ctx, orderID, storage.OrderUpdate{Status: &status}); err != nil {
		return err
	}
	observability.OrderTransitions.WithLabelValues("client_reject_counter").Inc()
	e.logger.Info("counter rejected", "order_id", orderID, "client_id", respondingClientID)

	if d, derr := e.drivers.Lookup(ctx, o.DriverID); derr == nil {
		e.deliver(ctx, d.ContactChannel, notify.Message{
			Text: fmt.Sprintf("Your offer for order %s was rejected by the client.", orderID),
		})
	}
	return nil
}

// Order returns the current order record.
func (e *Engine) Order(ctx context.Context, orderID string) (models.Order, error) {
	return e.load(ctx, orderID)
}

func (e *Engine) load(ctx context.Context, orderID string) (models.Order, error) {
	o, err := e.orders.FindOrder(ctx, orderID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Order{}, ErrNotFound
	}
	return o, err
}

// acceptanceText gives the client the driver's contact details and last
// known position along with the agreed price.
func (e *Engine) acceptanceText(ctx context.Context, o models.Order, price float64) string {
	text := fmt.Sprintf("Your request %s was accepted. Agreed price: %s",
		o.ID, models.FormatPrice(price, e.currency))
	d, err := e.drivers.Lookup(ctx, o.DriverID)
	if err != nil {
		return text
	}
	text += fmt.Sprintf("\nDriver: %s, %s, phone %s",
		d.DisplayName, d.Attributes.VehicleSummary(), d.Attributes.Phone)
	if d.Position != nil && d.Position.Valid() {
		text += fmt.Sprintf("\nDriver position: %.5f,%.5f", d.Position.Lat, d.Position.Lon)
	}
	return text
}

// deliver sends best-effort: the transition is already committed and a
// delivery failure must not reverse it.
func (e *Engine) deliver(ctx context.Context, recipient string, msg notify.Message) {
	if err := e.notifier.Notify(ctx, recipient, msg); err != nil {
		observability.NotifyFailures.Inc()
		e.logger.Warn("notify failed", "recipient", recipient, "error", err)
	}
}

func validPrice(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

func newOrderID() string {
	b := make([]byte, 6)
	_, _ = rand.Read(b)
	return "O" + hex.EncodeToString(b)
}
