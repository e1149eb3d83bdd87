// Package queue carries booking events over RabbitMQ: a publisher used by the
// checkout handlers and an audit consumer that records every event.
package queue

import "time"

// Queue names.  Both queues are durable.
const (
	BookingConfirmedQueue = "booking.confirmed"
	HoldReleasedQueue     = "seat.hold.released"
)

// BookedSeat is one sold seat in a BookingConfirmedEvent.
type BookedSeat struct {
	TripID int64  `json:"trip_id"`
	SeatID int64  `json:"seat_id"`
	Label  string `json:"label,omitempty"`
}

// BookingConfirmedEvent is published after a booking is committed.  It
// carries enough for downstream consumers to notify the customer without
// reading the database.
type BookingConfirmedEvent struct {
	BookingID    int64        `json:"booking_id"`
	SessionToken string       `json:"session_token"`
	CustomerID   string       `json:"customer_id"`
	Seats        []BookedSeat `json:"seats"`
	ConfirmedAt  time.Time    `json:"confirmed_at"`
}

// HoldReleasedEvent is published when a session gives up its holds on some
// trips before they expire.
type HoldReleasedEvent struct {
	SessionToken string    `json:"session_token"`
	CustomerID   string    `json:"customer_id"`
	TripIDs      []int64   `json:"trip_ids"`
	Released     int       `json:"released"`
	ReleasedAt   time.Time `json:"released_at"`
}
