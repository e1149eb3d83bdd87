package lockstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// Redis is a Store backed by a Redis server.  Every mutation is one Lua
// script (EVALSHA, falling back to EVAL on a cold script cache), so the
// owner check and the write it guards execute as one step on the server.
type Redis struct {
	rdb  redis.Scripter
	cmd  redis.Cmdable
	keys Keys
	// route is passed as KEYS so a cluster client sends scripts to the slot
	// that owns the prefix hash tag.  The scripts themselves ignore it.
	route []string
}

// NewRedis returns a Store using rdb.  An empty prefix selects DefaultPrefix.
func NewRedis(rdb redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Redis{rdb: rdb, cmd: rdb, keys: Keys{Prefix: prefix}, route: []string{prefix}}
}

var _ Store = (*Redis)(nil)

// Acquire implements Store.
func (s *Redis) Acquire(ctx context.Context, req AcquireRequest) (AcquireResult, error) {
	args := []interface{}{
		s.keys.Prefix,
		req.Token,
		req.TTL.Milliseconds(),
		req.MaxPerTrip,
		req.Now.UnixMilli(),
	}
	groups := groupByTrip(req.Seats)
	args = append(args, len(groups))
	for _, g := range groups {
		args = append(args, g.tripID, len(g.seatIDs))
		for _, id := range g.seatIDs {
			args = append(args, id)
		}
	}

	vals, err := acquireScript.Run(ctx, s.rdb, s.route, args...).Slice()
	if err != nil {
		return AcquireResult{}, fmt.Errorf("lockstore: acquire: %w", err)
	}
	if len(vals) != 4 {
		return AcquireResult{}, fmt.Errorf("lockstore: acquire: unexpected reply %#v", vals)
	}
	res := AcquireResult{Acquired: asInt64(vals[0]) == 1}
	res.Conflicts, err = parseRefs(vals[1])
	if err != nil {
		return AcquireResult{}, fmt.Errorf("lockstore: acquire: %w", err)
	}
	flat, _ := vals[2].([]interface{})
	for i := 0; i+2 < len(flat); i += 3 {
		res.QuotaExceeded = append(res.QuotaExceeded, QuotaExcess{
			TripID:    asInt64(flat[i]),
			Held:      int(asInt64(flat[i+1])),
			Requested: int(asInt64(flat[i+2])),
		})
	}
	if res.Acquired {
		res.ExpiresAt = req.Now.Add(time.Duration(asInt64(vals[3])) * time.Millisecond)
	}
	return res, nil
}

// Release implements Store.
func (s *Redis) Release(ctx context.Context, tripIDs []int64, token string) (int, error) {
	if len(tripIDs) == 0 {
		return 0, nil
	}
	args := make([]interface{}, 0, len(tripIDs)+2)
	args = append(args, s.keys.Prefix, token)
	for _, id := range tripIDs {
		args = append(args, id)
	}
	n, err := releaseScript.Run(ctx, s.rdb, s.route, args...).Int()
	if err != nil {
		return 0, fmt.Errorf("lockstore: release: %w", err)
	}
	return n, nil
}

// Owners implements Store.  A single MGET is atomic on the server.
func (s *Redis) Owners(ctx context.Context, seats []model.SeatRef) (map[model.SeatRef]string, error) {
	out := make(map[model.SeatRef]string, len(seats))
	if len(seats) == 0 {
		return out, nil
	}
	keys := make([]string, len(seats))
	for i, ref := range seats {
		keys[i] = s.keys.Seat(ref.TripID, ref.SeatID)
	}
	vals, err := s.cmd.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("lockstore: owners: %w", err)
	}
	for i, ref := range seats {
		owner, _ := vals[i].(string)
		out[ref] = owner
	}
	return out, nil
}

// LockedSeats implements Store.
func (s *Redis) LockedSeats(ctx context.Context, tripID int64, seatIDs []int64) ([]LockedSeat, error) {
	args := make([]interface{}, 0, len(seatIDs)+2)
	args = append(args, s.keys.Prefix, tripID)
	for _, id := range seatIDs {
		args = append(args, id)
	}
	flat, err := lockedScript.Run(ctx, s.rdb, s.route, args...).Slice()
	if err != nil {
		return nil, fmt.Errorf("lockstore: locked seats: %w", err)
	}
	out := make([]LockedSeat, 0, len(flat)/2)
	for i := 0; i+1 < len(flat); i += 2 {
		out = append(out, LockedSeat{
			SeatID: asInt64(flat[i]),
			TTL:    time.Duration(asInt64(flat[i+1])) * time.Millisecond,
		})
	}
	return out, nil
}

// CountLocked implements Store.
func (s *Redis) CountLocked(ctx context.Context, tripIDs []int64, now time.Time) (map[int64]int, error) {
	out := make(map[int64]int, len(tripIDs))
	if len(tripIDs) == 0 {
		return out, nil
	}
	args := make([]interface{}, 0, len(tripIDs)+2)
	args = append(args, s.keys.Prefix, now.UnixMilli())
	for _, id := range tripIDs {
		args = append(args, id)
	}
	counts, err := countScript.Run(ctx, s.rdb, s.route, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("lockstore: count locked: %w", err)
	}
	if len(counts) != len(tripIDs) {
		return nil, fmt.Errorf("lockstore: count locked: got %d counts for %d trips", len(counts), len(tripIDs))
	}
	for i, id := range tripIDs {
		out[id] = int(counts[i])
	}
	return out, nil
}

// Extend implements Store.
func (s *Redis) Extend(ctx context.Context, token string, seats []model.SeatRef, ttl time.Duration, now time.Time) ([]model.SeatRef, []model.SeatRef, error) {
	if len(seats) == 0 {
		return nil, nil, nil
	}
	args := make([]interface{}, 0, 2*len(seats)+4)
	args = append(args, s.keys.Prefix, token, ttl.Milliseconds(), now.UnixMilli())
	for _, ref := range seats {
		args = append(args, ref.TripID, ref.SeatID)
	}
	vals, err := extendScript.Run(ctx, s.rdb, s.route, args...).Slice()
	if err != nil {
		return nil, nil, fmt.Errorf("lockstore: extend: %w", err)
	}
	if len(vals) != 2 {
		return nil, nil, fmt.Errorf("lockstore: extend: unexpected reply %#v", vals)
	}
	extended, err := parseRefs(vals[0])
	if err != nil {
		return nil, nil, fmt.Errorf("lockstore: extend: %w", err)
	}
	missing, err := parseRefs(vals[1])
	if err != nil {
		return nil, nil, fmt.Errorf("lockstore: extend: %w", err)
	}
	return extended, missing, nil
}

// SessionTTL implements Store.  Missing keys report -2ms and keys without an
// expiry -1ms, both non-positive, as Redis itself does.
func (s *Redis) SessionTTL(ctx context.Context, token string) (time.Duration, error) {
	d, err := s.cmd.PTTL(ctx, s.keys.Session(token)).Result()
	if err != nil {
		return 0, fmt.Errorf("lockstore: session ttl: %w", err)
	}
	if d < 0 {
		return 0, nil
	}
	return d, nil
}

// ExtendSession implements Store.
func (s *Redis) ExtendSession(ctx context.Context, token string, ttl time.Duration) (bool, error) {
	ok, err := s.cmd.PExpire(ctx, s.keys.Session(token), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lockstore: extend session: %w", err)
	}
	return ok, nil
}

// DeleteSession implements Store.
func (s *Redis) DeleteSession(ctx context.Context, token string) error {
	if err := s.cmd.Del(ctx, s.keys.Session(token)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("lockstore: delete session: %w", err)
	}
	return nil
}

type tripGroup struct {
	tripID  int64
	seatIDs []int64
}

// groupByTrip splits refs into consecutive per-trip runs.  Callers pass refs
// sorted by trip, so each trip appears once.
func groupByTrip(refs []model.SeatRef) []tripGroup {
	var groups []tripGroup
	for _, ref := range refs {
		if n := len(groups); n > 0 && groups[n-1].tripID == ref.TripID {
			groups[n-1].seatIDs = append(groups[n-1].seatIDs, ref.SeatID)
			continue
		}
		groups = append(groups, tripGroup{tripID: ref.TripID, seatIDs: []int64{ref.SeatID}})
	}
	return groups
}

// parseRefs decodes a flat {trip, seat, trip, seat, ...} script reply.
func parseRefs(v interface{}) ([]model.SeatRef, error) {
	flat, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected seat list %#v", v)
	}
	if len(flat)%2 != 0 {
		return nil, fmt.Errorf("odd seat list length %d", len(flat))
	}
	var out []model.SeatRef
	for i := 0; i < len(flat); i += 2 {
		out = append(out, model.SeatRef{TripID: asInt64(flat[i]), SeatID: asInt64(flat[i+1])})
	}
	return out, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
