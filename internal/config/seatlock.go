package config

import "time"

// SeatLockConfig holds the seat lock defaults.
type SeatLockConfig struct {
	Prefix     string        // SEAT_LOCK_PREFIX, a Redis Cluster hash tag
	TTL        time.Duration // SEAT_LOCK_TTL, hold lifetime
	MaxPerTrip int           // SEAT_LOCK_MAX_PER_TRIP, seats per session per trip
	PaymentTTL time.Duration // SEAT_LOCK_PAYMENT_TTL, lifetime after promotion
	OpTimeout  time.Duration // SEAT_LOCK_OP_TIMEOUT, per store call
}

// LoadSeatLockConfig reads SEAT_LOCK_* variables.
func LoadSeatLockConfig() SeatLockConfig {
	return SeatLockConfig{
		Prefix:     envStr("SEAT_LOCK_PREFIX", "{seatlock}"),
		TTL:        envDur("SEAT_LOCK_TTL", 180*time.Second),
		MaxPerTrip: envInt("SEAT_LOCK_MAX_PER_TRIP", 6),
		PaymentTTL: envDur("SEAT_LOCK_PAYMENT_TTL", 15*time.Minute),
		OpTimeout:  envDur("SEAT_LOCK_OP_TIMEOUT", 2*time.Second),
	}
}
