package seatlock

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tryLockCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatlock",
			Name:      "trylock_total",
			Help:      "TryLock calls by outcome.",
		},
		[]string{"outcome"},
	)
	releasedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatlock",
			Name:      "released_total",
			Help:      "Seat locks deleted by explicit release.",
		},
	)
	verificationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatlock",
			Name:      "verification_failures_total",
			Help:      "Lock ownership assertions that failed.",
		},
	)
	promotionMissing = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "seatlock",
			Name:      "promotion_missing_total",
			Help:      "Draft seats whose lock was gone or foreign at promotion time.",
		},
	)
	storeErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "seatlock",
			Name:      "store_errors_total",
			Help:      "Lock store failures by operation.",
		},
		[]string{"op"},
	)
)

// TryLock outcomes.
const (
	outcomeAcquired = "acquired"
	outcomeConflict = "conflict"
	outcomeQuota    = "quota"
	outcomeBooked   = "booked"
	outcomeError    = "error"
)
