package repository

import "database/sql"

// Durable bundles the repositories the seat lock manager reads from.  It
// satisfies seatlock.Bookings.
type Durable struct {
	*BookingRepo
	*SeatRepo
	*DraftRepo
}

// NewDurable returns a Durable over db.
func NewDurable(db *sql.DB) *Durable {
	return &Durable{
		BookingRepo: NewBookingRepo(db),
		SeatRepo:    NewSeatRepo(db),
		DraftRepo:   NewDraftRepo(db),
	}
}
