package models

import (
	"fmt"
	"strings"
	"time"
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Valid reports whether the coordinate pair is usable for distance math.
// (0,0) is treated as unset; the source data uses empty cells for it.
func (c Coord) Valid() bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180 &&
		!(c.Lat == 0 && c.Lon == 0)
}

type ActivityState string

const (
	ActivityActive   ActivityState = "active"
	ActivityInactive ActivityState = "inactive"
)

// DriverAttributes is the self-reported profile collected at registration.
type DriverAttributes struct {
	Age         string `json:"age"`
	Nationality string `json:"nationality"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicle_type"`
	VehicleMake string `json:"vehicle_make"`
	VehicleYear string `json:"vehicle_year"`
	Gender      string `json:"gender"`
}

// VehicleSummary renders the vehicle fields the way outbound messages show them.
func (a DriverAttributes) VehicleSummary() string {
	s := strings.TrimSpace(a.VehicleType + " " + a.VehicleMake)
	if a.VehicleYear != "" {
		s = strings.TrimSpace(s + " (" + a.VehicleYear + ")")
	}
	return s
}

type Driver struct {
	ID             string           `json:"id"`
	DisplayName    string           `json:"display_name"`
	ContactChannel string           `json:"contact_channel"` // opaque gateway handle, stable per person
	Attributes     DriverAttributes `json:"attributes"`
	Position       *Coord           `json:"position,omitempty"` // nil until the first location report
	LastUpdate     time.Time        `json:"last_update"`
	Activity       ActivityState    `json:"activity"`
}

type Role string

const (
	RoleClient Role = "client"
	RoleDriver Role = "driver"
)

type User struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Role        Role   `json:"role"`
}

type OrderStatus string

const (
	StatusPending         OrderStatus = "pending"
	StatusAccepted        OrderStatus = "accepted"
	StatusRejected        OrderStatus = "rejected"
	StatusCounterProposed OrderStatus = "counter_proposed"
)

// Terminal reports whether no further transition may leave the status.
func (s OrderStatus) Terminal() bool {
	return s == StatusAccepted || s == StatusRejected
}

type Order struct {
	ID            string      `json:"id"`
	ClientID      string      `json:"client_id"`
	DriverID      string      `json:"driver_id"` // fixed at creation
	ProposedPrice float64     `json:"proposed_price"`
	CounterPrice  float64     `json:"counter_price,omitempty"` // set only by a counter-offer
	DriverPrice   float64     `json:"driver_price,omitempty"`  // the agreed number, set on accept
	Status        OrderStatus `json:"status"`
	Pickup        *Coord      `json:"pickup,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

// MatchCandidate is a transient query result; DistanceKm is nil when the
// client withheld a location or the driver has no valid position.
type MatchCandidate struct {
	Driver     Driver   `json:"driver"`
	DistanceKm *float64 `json:"distance_km,omitempty"`
}

// FormatPrice renders a price with the display currency, dropping the
// decimals when the value is integral ("25 SAR", "27.5 SAR").
func FormatPrice(v float64, currency string) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d %s", int64(v), currency)
	}
	return fmt.Sprintf("%g %s", v, currency)
}
