package model

import "time"

// Trip is a single scheduled bus departure.  Seats are sold per trip, so
// every lock and booking is keyed by (trip, seat).
//
// Fields:
//  ID         – primary key identifier.
//  BusID      – bus operating the trip; its seats make up the seat map.
//  TotalSeats – number of sellable seats on the trip.
//  DepartsAt  – scheduled departure time (UTC).
//  Status     – SCHEDULED, CANCELLED or DEPARTED.
type Trip struct {
	ID         int64     // trips.id
	BusID      int64     // trips.bus_id
	TotalSeats int       // trips.total_seats
	DepartsAt  time.Time // trips.departs_at
	Status     string    // trips.status
}

// TripCounters is the availability summary for one trip.  Total and Booked
// come from durable storage, Locked from the lock store.
type TripCounters struct {
	Total  int `json:"total"`
	Booked int `json:"booked"`
	Locked int `json:"locked"`
}
