package model

import "time"

// Draft checkout statuses.
const (
	DraftPending   = "PENDING"
	DraftCompleted = "COMPLETED"
)

// DraftCheckout is the persisted record of a checkout that has not been
// paid for yet.  It is keyed by the session token that also owns the seat
// locks, which is how a session is resolved to the concrete seats it holds.
//
// Fields:
//  ID           – primary key identifier.
//  SessionToken – opaque checkout session (lock owner) token.
//  CustomerID   – customer who opened the session; only they may act on it.
//  Status       – PENDING or COMPLETED.
//  Items        – (trip, seat) pairs selected in this checkout.
//  CreatedAt    – creation timestamp.
type DraftCheckout struct {
	ID           int64     // checkout_drafts.id
	SessionToken string    // checkout_drafts.session_token
	CustomerID   string    // checkout_drafts.customer_id
	Status       string    // checkout_drafts.status
	Items        []SeatRef // checkout_draft_items rows
	CreatedAt    time.Time // checkout_drafts.created_at
}

// Booking is a confirmed, durable sale of one or more seats.  A booked seat
// is never offered for locking again.
//
// Fields:
//  ID           – primary key identifier.
//  SessionToken – checkout session that produced the booking.
//  CustomerID   – authenticated customer (JWT subject).
//  Status       – CONFIRMED.
//  Seats        – seats sold under this booking.
//  CreatedAt    – creation timestamp.
type Booking struct {
	ID           int64     // bookings.id
	SessionToken string    // bookings.session_token
	CustomerID   string    // bookings.customer_id
	Status       string    // bookings.status
	Seats        []SeatRef // booking_seats rows
	CreatedAt    time.Time // bookings.created_at
}
