package seatlock

import (
	"errors"
	"fmt"
)

var (
	// ErrNoValidSeats is returned when no positive (trip, seat) pair is left
	// after normalizing the input.
	ErrNoValidSeats = errors.New("seatlock: no valid seats")
	// ErrInvalidToken is returned for an empty owner token.
	ErrInvalidToken = errors.New("seatlock: empty owner token")
	// ErrInvalidTrip is returned for a non-positive trip id.
	ErrInvalidTrip = errors.New("seatlock: invalid trip id")
	// ErrStoreUnavailable wraps every lock store failure.  Callers must treat
	// it as "not locked" and "not verified".
	ErrStoreUnavailable = errors.New("seatlock: lock store unavailable")
	// ErrLockVerificationFailed matches every *LockVerificationError.
	ErrLockVerificationFailed = errors.New("seatlock: lock verification failed")
)

// Verification failure reasons.
const (
	ReasonExpired    = "expired"
	ReasonHeldByPeer = "held_by_other_session"
)

// LockVerificationError reports the first seat, in (trip, seat) order, that
// is not locked by the expected token.
type LockVerificationError struct {
	TripID int64
	SeatID int64
	Reason string
}

func (e *LockVerificationError) Error() string {
	return fmt.Sprintf("seatlock: seat %d on trip %d not locked by session: %s", e.SeatID, e.TripID, e.Reason)
}

// Is lets errors.Is(err, ErrLockVerificationFailed) match.
func (e *LockVerificationError) Is(target error) bool {
	return target == ErrLockVerificationFailed
}

func storeError(op string, err error) error {
	storeErrors.WithLabelValues(op).Inc()
	return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
}
