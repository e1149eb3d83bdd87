package seatlock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// reconcileLimit bounds concurrent overlap lookups in CountersForTrips.
const reconcileLimit = 8

// CountersForTrips returns total, booked and locked seat counts for each
// trip.  Every valid requested trip is present in the result.  The durable
// and lock store reads run concurrently, so the counters are a snapshot that
// may be slightly stale.  A seat that is sold but still soft-locked counts
// as booked only, as in LoadStatus.  A zero now uses the manager's clock.
func (m *Manager) CountersForTrips(ctx context.Context, tripIDs []int64, now time.Time) (map[int64]model.TripCounters, error) {
	ids := normalizeIDs(tripIDs)
	out := make(map[int64]model.TripCounters, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	if now.IsZero() {
		now = m.cfg.Now()
	}

	var (
		durable map[int64]model.TripCounters
		locked  map[int64]int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		durable, err = m.bookings.TotalSeatsAndBookedCounts(gctx, ids)
		if err != nil {
			return fmt.Errorf("seatlock: trip counters: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		locked, err = m.store.CountLocked(gctx, ids, now)
		if err != nil {
			return storeError("count_locked", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, id := range ids {
		c := durable[id]
		c.Locked = locked[id]
		out[id] = c
	}
	if err := m.dropSoldLocks(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

// dropSoldLocks recounts Locked without seats that are already booked.  Only
// trips with both counts non-zero can overlap.
func (m *Manager) dropSoldLocks(ctx context.Context, counters map[int64]model.TripCounters) error {
	var (
		mu     sync.Mutex
		unsold = make(map[int64]int)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(reconcileLimit)
	for id, c := range counters {
		if c.Booked == 0 || c.Locked == 0 {
			continue
		}
		g.Go(func() error {
			live, err := m.store.LockedSeats(gctx, id, nil)
			if err != nil {
				return storeError("locked_seats", err)
			}
			n := 0
			if len(live) > 0 {
				seatIDs := make([]int64, len(live))
				for i, l := range live {
					seatIDs[i] = l.SeatID
				}
				sold, err := m.bookings.BookedSeatIDs(gctx, id, seatIDs)
				if err != nil {
					return fmt.Errorf("seatlock: booked seats of trip %d: %w", id, err)
				}
				n = len(live) - len(sold)
			}
			mu.Lock()
			unsold[id] = n
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	for id, n := range unsold {
		c := counters[id]
		c.Locked = n
		counters[id] = c
	}
	return nil
}
