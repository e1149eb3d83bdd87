// Package seatlock coordinates soft seat locks for checkout sessions.
//
// A Manager sits between callers and a lockstore.Store.  It normalizes
// input, checks the durable booking record before locking, applies
// defaults, and translates store replies into conflicts, quota violations
// and verification errors.  It keeps no state of its own: every guarantee
// about mutual exclusion comes from the store's atomic operations.
package seatlock

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/bus-seat-reservation/internal/lockstore"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Bookings is the read side of the durable booking record.
type Bookings interface {
	IsSeatPermanentlyBooked(ctx context.Context, tripID, seatID int64) (bool, error)
	// BookedSeatIDs returns which of seatIDs are sold on the trip, or every
	// sold seat when seatIDs is empty.
	BookedSeatIDs(ctx context.Context, tripID int64, seatIDs []int64) (map[int64]struct{}, error)
	TotalSeatsAndBookedCounts(ctx context.Context, tripIDs []int64) (map[int64]model.TripCounters, error)
	SeatLabel(ctx context.Context, seatID int64) (string, error)
	SeatLabels(ctx context.Context, seatIDs []int64) (map[int64]string, error)
	// FindPendingDraftBySessionToken returns nil, nil when the session has
	// no pending draft.
	FindPendingDraftBySessionToken(ctx context.Context, token string) (*model.DraftCheckout, error)
}

// Config holds the manager defaults.
type Config struct {
	// DefaultTTL applies when TryLock is called with a zero TTL.
	DefaultTTL time.Duration
	// MaxPerSessionPerTrip applies when TryLock is called with a zero cap.
	MaxPerSessionPerTrip int
	// PaymentTTL applies when PromoteSessionTTL is called with a zero TTL.
	PaymentTTL time.Duration
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		DefaultTTL:           180 * time.Second,
		MaxPerSessionPerTrip: 6,
		PaymentTTL:           15 * time.Minute,
	}
}

// Manager implements seat locking, availability and session lifecycle on top
// of a lock store and the durable booking record.
type Manager struct {
	store    lockstore.Store
	bookings Bookings
	cfg      Config
	logger   zerolog.Logger
}

// NewManager returns a Manager.  Zero fields of cfg take DefaultConfig values.
func NewManager(store lockstore.Store, bookings Bookings, cfg Config) *Manager {
	def := DefaultConfig()
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = def.DefaultTTL
	}
	if cfg.MaxPerSessionPerTrip <= 0 {
		cfg.MaxPerSessionPerTrip = def.MaxPerSessionPerTrip
	}
	if cfg.PaymentTTL <= 0 {
		cfg.PaymentTTL = def.PaymentTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Manager{
		store:    store,
		bookings: bookings,
		cfg:      cfg,
		logger:   log.With().Str("component", "seatlock").Logger(),
	}
}

// TryLock locks every requested seat for token, or none of them.
//
// A zero ttl or maxPerTrip takes the configured default.  Seats already sold
// are reported as conflicts with ReasonBooked and nothing is locked.  A seat
// held by another live session is a ReasonLocked conflict.  Seats the token
// already holds are refreshed, not reported.  Store failures return
// ErrStoreUnavailable with a zero LockResult.
func (m *Manager) TryLock(ctx context.Context, reqs []SeatRequest, token string, ttl time.Duration, maxPerTrip int) (LockResult, error) {
	if token == "" {
		return LockResult{}, ErrInvalidToken
	}
	refs, legs := normalizeRequests(reqs)
	if len(refs) == 0 {
		return LockResult{}, ErrNoValidSeats
	}
	if ttl <= 0 {
		ttl = m.cfg.DefaultTTL
	}
	if maxPerTrip <= 0 {
		maxPerTrip = m.cfg.MaxPerSessionPerTrip
	}

	booked, err := m.bookedAmong(ctx, refs)
	if err != nil {
		tryLockCounter.WithLabelValues(outcomeError).Inc()
		return LockResult{}, err
	}
	if len(booked) > 0 {
		var res LockResult
		for _, ref := range booked {
			res.Conflicts = append(res.Conflicts, SeatConflict{TripID: ref.TripID, SeatID: ref.SeatID, Leg: legs[ref], Reason: ReasonBooked})
		}
		tryLockCounter.WithLabelValues(outcomeBooked).Inc()
		return res, nil
	}

	now := m.cfg.Now()
	out, err := m.store.Acquire(ctx, lockstore.AcquireRequest{
		Token:      token,
		Seats:      refs,
		TTL:        ttl,
		MaxPerTrip: maxPerTrip,
		Now:        now,
	})
	if err != nil {
		tryLockCounter.WithLabelValues(outcomeError).Inc()
		m.logger.Error().Err(err).Int("seats", len(refs)).Msg("acquire failed")
		return LockResult{}, storeError("acquire", err)
	}

	var res LockResult
	for _, ref := range out.Conflicts {
		res.Conflicts = append(res.Conflicts, SeatConflict{TripID: ref.TripID, SeatID: ref.SeatID, Leg: legs[ref], Reason: ReasonLocked})
	}
	for _, q := range out.QuotaExceeded {
		res.QuotaExceeded = append(res.QuotaExceeded, QuotaViolation{TripID: q.TripID, Held: q.Held, Requested: q.Requested, Max: maxPerTrip})
	}
	switch {
	case out.Acquired:
		res.OK = true
		res.ExpiresAt = out.ExpiresAt
		if res.ExpiresAt.IsZero() {
			res.ExpiresAt = now.Add(ttl)
		}
		tryLockCounter.WithLabelValues(outcomeAcquired).Inc()
		m.logger.Debug().Ints64("trips", tripsOf(refs)).Int("seats", len(refs)).Dur("ttl", ttl).Msg("seats locked")
	case len(res.Conflicts) > 0:
		tryLockCounter.WithLabelValues(outcomeConflict).Inc()
	default:
		tryLockCounter.WithLabelValues(outcomeQuota).Inc()
	}
	return res, nil
}

// bookedAmong returns the refs that are already sold, in input order.  A
// trip with a single requested seat takes the point lookup.
func (m *Manager) bookedAmong(ctx context.Context, refs []model.SeatRef) ([]model.SeatRef, error) {
	byTrip := make(map[int64][]int64)
	for _, ref := range refs {
		byTrip[ref.TripID] = append(byTrip[ref.TripID], ref.SeatID)
	}
	sold := make(map[model.SeatRef]struct{})
	for tripID, seats := range byTrip {
		if len(seats) == 1 {
			ok, err := m.bookings.IsSeatPermanentlyBooked(ctx, tripID, seats[0])
			if err != nil {
				return nil, fmt.Errorf("seatlock: seat %d of trip %d: %w", seats[0], tripID, err)
			}
			if ok {
				sold[model.SeatRef{TripID: tripID, SeatID: seats[0]}] = struct{}{}
			}
			continue
		}
		ids, err := m.bookings.BookedSeatIDs(ctx, tripID, seats)
		if err != nil {
			return nil, fmt.Errorf("seatlock: booked seats of trip %d: %w", tripID, err)
		}
		for id := range ids {
			sold[model.SeatRef{TripID: tripID, SeatID: id}] = struct{}{}
		}
	}
	var out []model.SeatRef
	for _, ref := range refs {
		if _, ok := sold[ref]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

// LoadStatus returns the sold and soft-locked seats of a trip, restricted to
// seatIDs when it is non-empty.  A sold seat is never also reported as
// locked.  Labels are best effort.
func (m *Manager) LoadStatus(ctx context.Context, tripID int64, seatIDs []int64) (SeatStatus, error) {
	if tripID <= 0 {
		return SeatStatus{}, ErrInvalidTrip
	}
	ids := normalizeIDs(seatIDs)
	if len(seatIDs) > 0 && len(ids) == 0 {
		return SeatStatus{}, ErrNoValidSeats
	}

	var (
		booked map[int64]struct{}
		locked []lockstore.LockedSeat
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		booked, err = m.bookings.BookedSeatIDs(gctx, tripID, ids)
		if err != nil {
			return fmt.Errorf("seatlock: booked seats of trip %d: %w", tripID, err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		locked, err = m.store.LockedSeats(gctx, tripID, ids)
		if err != nil {
			return storeError("locked_seats", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return SeatStatus{}, err
	}

	st := SeatStatus{TripID: tripID, Booked: make([]int64, 0, len(booked)), Locked: make([]LockedSeat, 0, len(locked))}
	for id := range booked {
		st.Booked = append(st.Booked, id)
	}
	sort.Slice(st.Booked, func(i, j int) bool { return st.Booked[i] < st.Booked[j] })

	var labelIDs []int64
	for _, l := range locked {
		if _, sold := booked[l.SeatID]; sold {
			continue
		}
		st.Locked = append(st.Locked, LockedSeat{SeatID: l.SeatID, TTL: l.TTL})
		labelIDs = append(labelIDs, l.SeatID)
	}
	sort.Slice(st.Locked, func(i, j int) bool { return st.Locked[i].SeatID < st.Locked[j].SeatID })

	m.labelLocked(ctx, &st, labelIDs)
	return st, nil
}

// labelLocked fills seat labels.  Lookup failures are logged and leave the
// labels empty.
func (m *Manager) labelLocked(ctx context.Context, st *SeatStatus, ids []int64) {
	switch len(ids) {
	case 0:
		return
	case 1:
		label, err := m.bookings.SeatLabel(ctx, ids[0])
		if err != nil {
			m.logger.Warn().Err(err).Int64("trip_id", st.TripID).Int64("seat_id", ids[0]).Msg("seat label unavailable")
			return
		}
		st.Locked[0].SeatLabel = label
	default:
		labels, err := m.bookings.SeatLabels(ctx, ids)
		if err != nil {
			m.logger.Warn().Err(err).Int64("trip_id", st.TripID).Msg("seat labels unavailable")
		}
		for i := range st.Locked {
			st.Locked[i].SeatLabel = labels[st.Locked[i].SeatID]
		}
	}
}

// AssertLockedByToken verifies that token currently owns every seat.  It
// must be called right before a durable booking write.
func (m *Manager) AssertLockedByToken(ctx context.Context, tripID int64, seatIDs []int64, token string) error {
	return m.AssertMultiLockedByToken(ctx, map[int64][]int64{tripID: seatIDs}, token)
}

// AssertMultiLockedByToken verifies ownership of seats across trips in one
// atomic read.  The first failing seat in (trip, seat) order is reported as a
// *LockVerificationError.
func (m *Manager) AssertMultiLockedByToken(ctx context.Context, seats map[int64][]int64, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	var refs []model.SeatRef
	for tripID, ids := range seats {
		for _, id := range ids {
			refs = append(refs, model.SeatRef{TripID: tripID, SeatID: id})
		}
	}
	refs = normalizeRefs(refs)
	if len(refs) == 0 {
		return ErrNoValidSeats
	}

	owners, err := m.store.Owners(ctx, refs)
	if err != nil {
		return storeError("owners", err)
	}
	for _, ref := range refs {
		owner := owners[ref]
		if owner == token {
			continue
		}
		reason := ReasonHeldByPeer
		if owner == "" {
			reason = ReasonExpired
		}
		verificationFailures.Inc()
		m.logger.Warn().
			Int64("trip_id", ref.TripID).
			Int64("seat_id", ref.SeatID).
			Str("reason", reason).
			Msg("lock verification failed")
		return &LockVerificationError{TripID: ref.TripID, SeatID: ref.SeatID, Reason: reason}
	}
	return nil
}

// ReleaseByToken deletes every lock token still owns on the given trips and
// returns how many were deleted.  Locks since taken by another session are
// left alone.
func (m *Manager) ReleaseByToken(ctx context.Context, tripIDs []int64, token string) (int, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	ids := normalizeIDs(tripIDs)
	if len(ids) == 0 {
		return 0, nil
	}
	n, err := m.store.Release(ctx, ids, token)
	if err != nil {
		return 0, storeError("release", err)
	}
	releasedCounter.Add(float64(n))
	m.logger.Debug().Ints64("trips", ids).Int("released", n).Msg("locks released")
	return n, nil
}
