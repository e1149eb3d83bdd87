// Package lockstore holds soft seat locks in a shared, low-latency store.
//
// A seat lock is a token-owned, TTL-bound claim on one seat of one trip.
// Besides the lock itself the store keeps two indices per trip: the set of
// seats locked by anyone (scored by expiry) and, per owner token, the set of
// seats that token holds.  Every mutating call is a single atomic operation
// against the store; implementations must never split "read current owner"
// and "write" into separate round trips.
//
// The package owns no business rules beyond ownership and expiry.  Input
// normalization, durable booking checks and defaults live in package
// seatlock.
package lockstore

import (
	"context"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// AcquireRequest describes one atomic lock batch.  Seats must already be
// deduplicated; implementations evaluate them in (trip, seat) order.
type AcquireRequest struct {
	Token      string
	Seats      []model.SeatRef
	TTL        time.Duration
	MaxPerTrip int
	Now        time.Time
}

// QuotaExcess reports a trip on which the token would exceed its cap.
// Held counts live locks the token already owns on the trip, Requested the
// seats in this batch it does not own yet.
type QuotaExcess struct {
	TripID    int64
	Held      int
	Requested int
}

// AcquireResult is the outcome of an Acquire call.  When Acquired is false
// nothing was written.  On success ExpiresAt is the earliest expiry among
// the requested seats; a seat whose lock already outlived the request TTL
// keeps its longer expiry.
type AcquireResult struct {
	Acquired      bool
	Conflicts     []model.SeatRef
	QuotaExceeded []QuotaExcess
	ExpiresAt     time.Time
}

// LockedSeat is a seat under a live lock together with its remaining TTL.
type LockedSeat struct {
	SeatID int64
	TTL    time.Duration
}

// Store is the contract every lock store backend satisfies.  All methods are
// safe for concurrent use from many processes.
type Store interface {
	// Acquire locks every seat in the request for req.Token or nothing.
	// Seats already held by the token are refreshed, never reported as
	// conflicts.  On success the token's session key is created or its TTL
	// raised to req.TTL.
	Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error)

	// Release deletes every lock the token still owns on the given trips and
	// drops the token's owned-seat index for those trips.  It returns the
	// number of locks deleted.
	Release(ctx context.Context, tripIDs []int64, token string) (int, error)

	// Owners reads the current owner of each seat in one atomic read.
	// Seats without a live lock map to "".
	Owners(ctx context.Context, seats []model.SeatRef) (map[model.SeatRef]string, error)

	// LockedSeats returns the live locks among seatIDs on a trip, or every
	// live lock on the trip when seatIDs is empty.  Index entries whose
	// lock has lapsed are removed as a side effect.
	LockedSeats(ctx context.Context, tripID int64, seatIDs []int64) ([]LockedSeat, error)

	// CountLocked prunes index entries that expired at or before now and
	// returns the remaining count per trip.  Every trip is present.
	CountLocked(ctx context.Context, tripIDs []int64, now time.Time) (map[int64]int, error)

	// Extend sets the TTL of each seat lock still owned by token to ttl and
	// keeps its indices alive at least as long.  Seats not owned by token
	// are returned in missing and left untouched.
	Extend(ctx context.Context, token string, seats []model.SeatRef, ttl time.Duration, now time.Time) (extended, missing []model.SeatRef, err error)

	// SessionTTL returns the remaining TTL of the session key, or a
	// non-positive duration when the session does not exist.
	SessionTTL(ctx context.Context, token string) (time.Duration, error)

	// ExtendSession sets the session TTL.  It reports false when the
	// session key does not exist.
	ExtendSession(ctx context.Context, token string, ttl time.Duration) (bool, error)

	// DeleteSession removes the session key.
	DeleteSession(ctx context.Context, token string) error
}
