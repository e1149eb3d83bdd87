package seatlock

import (
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Conflict reasons.
const (
	ReasonLocked = "locked"
	ReasonBooked = "booked"
)

// SeatRequest asks for one seat on one trip.  Leg is an optional caller tag
// ("outbound", "return", ...) echoed back on conflicts.
type SeatRequest struct {
	TripID int64  `json:"trip_id"`
	SeatID int64  `json:"seat_id"`
	Leg    string `json:"leg,omitempty"`
}

// SeatConflict is a requested seat that could not be locked.
type SeatConflict struct {
	TripID int64  `json:"trip_id"`
	SeatID int64  `json:"seat_id"`
	Leg    string `json:"leg,omitempty"`
	Reason string `json:"reason"`
}

// QuotaViolation is a trip on which the request would push the session past
// its per-trip cap.
type QuotaViolation struct {
	TripID    int64 `json:"trip_id"`
	Held      int   `json:"held"`
	Requested int   `json:"requested"`
	Max       int   `json:"max"`
}

// LockResult is the outcome of TryLock.  When OK is false nothing was
// locked and at least one of Conflicts or QuotaExceeded is set.  ExpiresAt
// is when the first of the requested locks lapses.
type LockResult struct {
	OK            bool             `json:"ok"`
	Conflicts     []SeatConflict   `json:"conflicts,omitempty"`
	QuotaExceeded []QuotaViolation `json:"quota_exceeded,omitempty"`
	ExpiresAt     time.Time        `json:"expires_at,omitempty"`
}

// LockedSeat is a seat held by some live session.
type LockedSeat struct {
	SeatID    int64
	SeatLabel string
	TTL       time.Duration
}

// SeatStatus is the merged durable and soft-lock view of a trip's seats.
type SeatStatus struct {
	TripID int64
	Locked []LockedSeat
	Booked []int64
}

// PromotionReport describes what PromoteSessionTTL extended.
type PromotionReport struct {
	SessionExtended bool            `json:"session_extended"`
	Extended        []model.SeatRef `json:"extended"`
	Missing         []model.SeatRef `json:"missing"`
}
