package lockstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

type lockEntry struct {
	token   string
	expires time.Time
}

type ownerKey struct {
	tripID int64
	token  string
}

// Memory is an in-process Store.  It follows the Redis store's semantics
// exactly and is meant for tests and single-instance development runs; it
// provides no coordination between processes.
type Memory struct {
	mu       sync.Mutex
	now      func() time.Time
	locks    map[model.SeatRef]lockEntry
	locked   map[int64]map[int64]time.Time
	owned    map[ownerKey]map[int64]struct{}
	sessions map[string]time.Time
}

// NewMemory returns an empty Memory store reading time from now.  A nil now
// uses time.Now.
func NewMemory(now func() time.Time) *Memory {
	if now == nil {
		now = time.Now
	}
	return &Memory{
		now:      now,
		locks:    make(map[model.SeatRef]lockEntry),
		locked:   make(map[int64]map[int64]time.Time),
		owned:    make(map[ownerKey]map[int64]struct{}),
		sessions: make(map[string]time.Time),
	}
}

var _ Store = (*Memory)(nil)

// owner returns the live owner of ref, dropping a lapsed lock.  Callers hold mu.
func (m *Memory) owner(ref model.SeatRef, now time.Time) (lockEntry, bool) {
	e, ok := m.locks[ref]
	if !ok {
		return lockEntry{}, false
	}
	if !now.Before(e.expires) {
		delete(m.locks, ref)
		return lockEntry{}, false
	}
	return e, true
}

func (m *Memory) ownedSet(tripID int64, token string) map[int64]struct{} {
	k := ownerKey{tripID, token}
	set, ok := m.owned[k]
	if !ok {
		set = make(map[int64]struct{})
		m.owned[k] = set
	}
	return set
}

func (m *Memory) index(tripID int64) map[int64]time.Time {
	idx, ok := m.locked[tripID]
	if !ok {
		idx = make(map[int64]time.Time)
		m.locked[tripID] = idx
	}
	return idx
}

// Acquire implements Store.
func (m *Memory) Acquire(_ context.Context, req AcquireRequest) (AcquireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	var res AcquireResult
	for _, g := range groupByTrip(req.Seats) {
		set := m.owned[ownerKey{g.tripID, req.Token}]
		held := 0
		for seat := range set {
			if e, ok := m.owner(model.SeatRef{TripID: g.tripID, SeatID: seat}, now); ok && e.token == req.Token {
				held++
			} else {
				delete(set, seat)
			}
		}

		fresh := 0
		for _, seat := range g.seatIDs {
			ref := model.SeatRef{TripID: g.tripID, SeatID: seat}
			e, ok := m.owner(ref, now)
			switch {
			case !ok:
				fresh++
			case e.token != req.Token:
				res.Conflicts = append(res.Conflicts, ref)
			default:
				if _, indexed := set[seat]; !indexed {
					held++
				}
			}
		}
		if held+fresh > req.MaxPerTrip {
			res.QuotaExceeded = append(res.QuotaExceeded, QuotaExcess{TripID: g.tripID, Held: held, Requested: fresh})
		}
	}
	if len(res.Conflicts) > 0 || len(res.QuotaExceeded) > 0 {
		return res, nil
	}

	for _, ref := range req.Seats {
		e, ok := m.owner(ref, now)
		if !ok || e.expires.Sub(now) < req.TTL {
			e = lockEntry{token: req.Token, expires: now.Add(req.TTL)}
			m.locks[ref] = e
		}
		m.index(ref.TripID)[ref.SeatID] = e.expires
		m.ownedSet(ref.TripID, req.Token)[ref.SeatID] = struct{}{}
		if res.ExpiresAt.IsZero() || e.expires.Before(res.ExpiresAt) {
			res.ExpiresAt = e.expires
		}
	}
	if exp, ok := m.sessions[req.Token]; !ok || exp.Sub(now) < req.TTL {
		m.sessions[req.Token] = now.Add(req.TTL)
	}
	res.Acquired = true
	return res, nil
}

// Release implements Store.
func (m *Memory) Release(_ context.Context, tripIDs []int64, token string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	released := 0
	for _, tripID := range tripIDs {
		k := ownerKey{tripID, token}
		for seat := range m.owned[k] {
			ref := model.SeatRef{TripID: tripID, SeatID: seat}
			if e, ok := m.owner(ref, now); ok && e.token == token {
				delete(m.locks, ref)
				delete(m.locked[tripID], seat)
				released++
			}
		}
		delete(m.owned, k)
	}
	return released, nil
}

// Owners implements Store.
func (m *Memory) Owners(_ context.Context, seats []model.SeatRef) (map[model.SeatRef]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	out := make(map[model.SeatRef]string, len(seats))
	for _, ref := range seats {
		e, _ := m.owner(ref, now)
		out[ref] = e.token
	}
	return out, nil
}

// LockedSeats implements Store.
func (m *Memory) LockedSeats(_ context.Context, tripID int64, seatIDs []int64) ([]LockedSeat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	idx := m.locked[tripID]
	var candidates []int64
	if len(seatIDs) > 0 {
		for _, id := range seatIDs {
			if _, ok := idx[id]; ok {
				candidates = append(candidates, id)
			}
		}
	} else {
		for id := range idx {
			candidates = append(candidates, id)
		}
		sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })
	}

	out := make([]LockedSeat, 0, len(candidates))
	for _, id := range candidates {
		e, ok := m.owner(model.SeatRef{TripID: tripID, SeatID: id}, now)
		if !ok {
			delete(idx, id)
			continue
		}
		out = append(out, LockedSeat{SeatID: id, TTL: e.expires.Sub(now)})
	}
	return out, nil
}

// CountLocked implements Store.
func (m *Memory) CountLocked(_ context.Context, tripIDs []int64, now time.Time) (map[int64]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[int64]int, len(tripIDs))
	for _, tripID := range tripIDs {
		idx := m.locked[tripID]
		for seat, exp := range idx {
			if !exp.After(now) {
				delete(idx, seat)
			}
		}
		out[tripID] = len(idx)
	}
	return out, nil
}

// Extend implements Store.
func (m *Memory) Extend(_ context.Context, token string, seats []model.SeatRef, ttl time.Duration, _ time.Time) ([]model.SeatRef, []model.SeatRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	var extended, missing []model.SeatRef
	for _, ref := range seats {
		e, ok := m.owner(ref, now)
		if !ok || e.token != token {
			missing = append(missing, ref)
			continue
		}
		e.expires = now.Add(ttl)
		m.locks[ref] = e
		m.index(ref.TripID)[ref.SeatID] = e.expires
		m.ownedSet(ref.TripID, token)[ref.SeatID] = struct{}{}
		extended = append(extended, ref)
	}
	return extended, missing, nil
}

// SessionTTL implements Store.
func (m *Memory) SessionTTL(_ context.Context, token string) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	exp, ok := m.sessions[token]
	if !ok {
		return 0, nil
	}
	d := exp.Sub(m.now())
	if d <= 0 {
		delete(m.sessions, token)
		return 0, nil
	}
	return d, nil
}

// ExtendSession implements Store.
func (m *Memory) ExtendSession(_ context.Context, token string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()

	exp, ok := m.sessions[token]
	if !ok || !now.Before(exp) {
		delete(m.sessions, token)
		return false, nil
	}
	m.sessions[token] = now.Add(ttl)
	return true, nil
}

// DeleteSession implements Store.
func (m *Memory) DeleteSession(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
	return nil
}
