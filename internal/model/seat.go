package model

// Seat describes a physical seat on a bus.  Label is what customers see on
// the seat map (for example "A1" or "12B").
//
// Fields:
//  ID    – primary key identifier.
//  BusID – bus to which this seat belongs.
//  Label – display label.
type Seat struct {
	ID    int64  // seats.id
	BusID int64  // seats.bus_id
	Label string // seats.label
}

// SeatRef addresses one seat on one trip.  It is the unit of locking and of
// booking.
type SeatRef struct {
	TripID int64 `json:"trip_id"`
	SeatID int64 `json:"seat_id"`
}
