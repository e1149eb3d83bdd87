package seatlock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/bus-seat-reservation/internal/lockstore"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// fakeBookings is an in-memory durable record.
type fakeBookings struct {
	mu       sync.Mutex
	booked   map[model.SeatRef]bool
	totals   map[int64]int
	labels   map[int64]string
	drafts   map[string]*model.DraftCheckout
	err      error
	labelErr error
	calls    map[string]int
}

func newFakeBookings() *fakeBookings {
	return &fakeBookings{
		booked: make(map[model.SeatRef]bool),
		totals: make(map[int64]int),
		labels: make(map[int64]string),
		drafts: make(map[string]*model.DraftCheckout),
		calls:  make(map[string]int),
	}
}

func (f *fakeBookings) called(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeBookings) book(refs ...model.SeatRef) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range refs {
		f.booked[r] = true
	}
}

func (f *fakeBookings) IsSeatPermanentlyBooked(_ context.Context, tripID, seatID int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["IsSeatPermanentlyBooked"]++
	return f.booked[model.SeatRef{TripID: tripID, SeatID: seatID}], f.err
}

func (f *fakeBookings) BookedSeatIDs(_ context.Context, tripID int64, seatIDs []int64) (map[int64]struct{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["BookedSeatIDs"]++
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]struct{})
	for ref := range f.booked {
		if ref.TripID != tripID {
			continue
		}
		if len(seatIDs) == 0 || containsID(seatIDs, ref.SeatID) {
			out[ref.SeatID] = struct{}{}
		}
	}
	return out, nil
}

func (f *fakeBookings) TotalSeatsAndBookedCounts(_ context.Context, tripIDs []int64) (map[int64]model.TripCounters, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[int64]model.TripCounters)
	for _, id := range tripIDs {
		total, ok := f.totals[id]
		if !ok {
			continue
		}
		c := model.TripCounters{Total: total}
		for ref := range f.booked {
			if ref.TripID == id {
				c.Booked++
			}
		}
		out[id] = c
	}
	return out, nil
}

func (f *fakeBookings) SeatLabel(_ context.Context, seatID int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SeatLabel"]++
	return f.labels[seatID], f.labelErr
}

func (f *fakeBookings) SeatLabels(_ context.Context, seatIDs []int64) (map[int64]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["SeatLabels"]++
	if f.labelErr != nil {
		return nil, f.labelErr
	}
	out := make(map[int64]string)
	for _, id := range seatIDs {
		if l, ok := f.labels[id]; ok {
			out[id] = l
		}
	}
	return out, nil
}

func (f *fakeBookings) FindPendingDraftBySessionToken(_ context.Context, token string) (*model.DraftCheckout, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drafts[token], f.err
}

func containsID(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

type env struct {
	m        *Manager
	store    lockstore.Store
	bookings *fakeBookings
	clock    time.Time
	ff       func(time.Duration)
}

func (e *env) now() time.Time { return e.clock }

func (e *env) advance(d time.Duration) {
	e.clock = e.clock.Add(d)
	if e.ff != nil {
		e.ff(d)
	}
}

var epoch = time.Date(2026, 5, 4, 8, 30, 0, 0, time.UTC)

// eachBackend runs fn with a Manager over every lock store implementation.
func eachBackend(t *testing.T, fn func(t *testing.T, e *env)) {
	build := func(e *env) {
		e.bookings = newFakeBookings()
		e.m = NewManager(e.store, e.bookings, Config{Now: e.now})
	}
	t.Run("memory", func(t *testing.T) {
		e := &env{clock: epoch}
		e.store = lockstore.NewMemory(e.now)
		build(e)
		fn(t, e)
	})
	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { rdb.Close() })
		e := &env{clock: epoch, ff: mr.FastForward}
		e.store = lockstore.NewRedis(rdb, "{test}")
		build(e)
		fn(t, e)
	})
}

func seats(trip int64, ids ...int64) []SeatRequest {
	out := make([]SeatRequest, len(ids))
	for i, id := range ids {
		out[i] = SeatRequest{TripID: trip, SeatID: id}
	}
	return out
}

func mustLock(t *testing.T, e *env, token string, reqs []SeatRequest, ttl time.Duration) LockResult {
	t.Helper()
	res, err := e.m.TryLock(context.Background(), reqs, token, ttl, 0)
	if err != nil {
		t.Fatalf("TryLock(%s): %v", token, err)
	}
	return res
}

func lockedIDs(st SeatStatus) []int64 {
	out := []int64{}
	for _, l := range st.Locked {
		out = append(out, l.SeatID)
	}
	return out
}

func TestTryLockRejectsInvalidInput(t *testing.T) {
	e := &env{clock: epoch}
	e.store = lockstore.NewMemory(e.now)
	e.m = NewManager(e.store, newFakeBookings(), Config{Now: e.now})
	ctx := context.Background()

	if _, err := e.m.TryLock(ctx, seats(1, 1), "", 0, 0); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("empty token: err = %v, want ErrInvalidToken", err)
	}
	bad := []SeatRequest{{TripID: 0, SeatID: 1}, {TripID: 1, SeatID: -3}}
	if _, err := e.m.TryLock(ctx, bad, "tok", 0, 0); !errors.Is(err, ErrNoValidSeats) {
		t.Errorf("invalid ids: err = %v, want ErrNoValidSeats", err)
	}
	if _, err := e.m.TryLock(ctx, nil, "tok", 0, 0); !errors.Is(err, ErrNoValidSeats) {
		t.Errorf("no seats: err = %v, want ErrNoValidSeats", err)
	}
}

func TestTryLockNoDoubleLock(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		const racers = 20
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners []string
		)
		for i := 0; i < racers; i++ {
			token := fmt.Sprintf("tok-%d", i)
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := e.m.TryLock(context.Background(), seats(101, 5), token, time.Minute, 0)
				if err != nil {
					t.Error(err)
					return
				}
				if res.OK {
					mu.Lock()
					winners = append(winners, token)
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if len(winners) != 1 {
			t.Fatalf("winners = %v, want one", winners)
		}
	})
}

func TestTryLockIdempotentForOwner(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		first := mustLock(t, e, "tokA", seats(101, 5, 6), time.Minute)
		if !first.OK {
			t.Fatalf("first lock: %+v", first)
		}
		e.advance(30 * time.Second)
		again := mustLock(t, e, "tokA", seats(101, 6, 5), time.Minute)
		if !again.OK || len(again.Conflicts) != 0 {
			t.Fatalf("relock: %+v", again)
		}
		if want := e.now().Add(time.Minute); !again.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", again.ExpiresAt, want)
		}
	})
}

func TestTryLockReportsExtendedExpiry(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 5), 0)
		e.bookings.drafts["tokA"] = &model.DraftCheckout{
			SessionToken: "tokA",
			Status:       model.DraftPending,
			Items:        []model.SeatRef{{TripID: 101, SeatID: 5}},
		}
		if _, err := e.m.PromoteSessionTTL(ctx, "tokA", 0); err != nil {
			t.Fatal(err)
		}
		e.advance(time.Minute)

		res := mustLock(t, e, "tokA", seats(101, 5), 0)
		if !res.OK {
			t.Fatalf("relock: %+v", res)
		}
		want := epoch.Add(15 * time.Minute)
		if !res.ExpiresAt.Equal(want) {
			t.Errorf("ExpiresAt = %v, want %v", res.ExpiresAt, want)
		}
		st, err := e.m.LoadStatus(ctx, 101, []int64{5})
		if err != nil {
			t.Fatal(err)
		}
		if got := e.now().Add(st.Locked[0].TTL); !got.Equal(res.ExpiresAt) {
			t.Errorf("lock expires at %v, reported %v", got, res.ExpiresAt)
		}
	})
}

func TestTryLockQuota(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		if res := mustLock(t, e, "tok", seats(201, 1, 2, 3, 4, 5), 0); !res.OK {
			t.Fatalf("initial five: %+v", res)
		}

		reqs := append(seats(201, 6, 7), seats(202, 1)...)
		res, err := e.m.TryLock(ctx, reqs, "tok", 0, 6)
		if err != nil {
			t.Fatal(err)
		}
		if res.OK {
			t.Fatal("quota not enforced")
		}
		want := []QuotaViolation{{TripID: 201, Held: 5, Requested: 2, Max: 6}}
		if diff := cmp.Diff(want, res.QuotaExceeded); diff != "" {
			t.Errorf("quota (-want +got):\n%s", diff)
		}
		if len(res.Conflicts) != 0 {
			t.Errorf("unexpected conflicts %v", res.Conflicts)
		}

		if res := mustLock(t, e, "tok", seats(202, 1), 0); !res.OK {
			t.Errorf("single seat on other trip: %+v", res)
		}
	})
}

func TestTryLockReportsBookedSeats(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		e.bookings.book(model.SeatRef{TripID: 101, SeatID: 2})
		reqs := []SeatRequest{{TripID: 101, SeatID: 2, Leg: "outbound"}, {TripID: 101, SeatID: 3}}

		res := mustLock(t, e, "tok", reqs, 0)
		if res.OK {
			t.Fatal("locked a booked seat")
		}
		want := []SeatConflict{{TripID: 101, SeatID: 2, Leg: "outbound", Reason: ReasonBooked}}
		if diff := cmp.Diff(want, res.Conflicts); diff != "" {
			t.Errorf("conflicts (-want +got):\n%s", diff)
		}
		st, err := e.m.LoadStatus(context.Background(), 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Locked) != 0 {
			t.Errorf("seats locked after booked conflict: %v", st.Locked)
		}
	})
}

func TestTryLockSingleSeatUsesPointLookup(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		e.bookings.book(model.SeatRef{TripID: 101, SeatID: 4})

		res := mustLock(t, e, "tok", seats(101, 4), 0)
		want := []SeatConflict{{TripID: 101, SeatID: 4, Reason: ReasonBooked}}
		if diff := cmp.Diff(want, res.Conflicts); diff != "" {
			t.Errorf("conflicts (-want +got):\n%s", diff)
		}
		if res := mustLock(t, e, "tok", seats(101, 5), 0); !res.OK {
			t.Errorf("free seat: %+v", res)
		}
		if got := e.bookings.called("IsSeatPermanentlyBooked"); got != 2 {
			t.Errorf("IsSeatPermanentlyBooked calls = %d, want 2", got)
		}
		if got := e.bookings.called("BookedSeatIDs"); got != 0 {
			t.Errorf("BookedSeatIDs calls = %d, want 0", got)
		}
	})
}

func TestTryLockFailsClosedOnDurableError(t *testing.T) {
	e := &env{clock: epoch}
	e.store = lockstore.NewMemory(e.now)
	fb := newFakeBookings()
	fb.err = errors.New("db down")
	e.m = NewManager(e.store, fb, Config{Now: e.now})

	res, err := e.m.TryLock(context.Background(), seats(1, 1), "tok", 0, 0)
	if err == nil || res.OK {
		t.Fatalf("TryLock = %+v, %v; want error", res, err)
	}
}

func TestLocksExpire(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 5), 3*time.Second)
		e.advance(4 * time.Second)

		st, err := e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Locked) != 0 {
			t.Errorf("expired lock still reported: %v", st.Locked)
		}
		if alive, _ := e.m.IsSessionHoldAlive(ctx, "tokA"); alive {
			t.Error("session alive after ttl")
		}
		if res := mustLock(t, e, "tokB", seats(101, 5), 0); !res.OK {
			t.Errorf("tokB after expiry: %+v", res)
		}
	})
}

func TestReleaseByTokenIsScoped(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", append(seats(101, 1, 2), seats(102, 1)...), 0)
		mustLock(t, e, "tokB", seats(101, 3), 0)

		n, err := e.m.ReleaseByToken(ctx, []int64{101, 101, -1}, "tokA")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("released = %d, want 2", n)
		}
		if err := e.m.AssertLockedByToken(ctx, 102, []int64{1}, "tokA"); err != nil {
			t.Errorf("trip 102 lock lost: %v", err)
		}
		if err := e.m.AssertLockedByToken(ctx, 101, []int64{3}, "tokB"); err != nil {
			t.Errorf("tokB lock lost: %v", err)
		}
		if _, err := e.m.ReleaseByToken(ctx, []int64{101}, ""); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("empty token: %v", err)
		}
	})
}

func TestAssertFailsAfterExpiryAndBlocksBooking(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 5, 6), 10*time.Second)

		// payment took too long
		e.advance(11 * time.Second)

		confirm := func() error {
			if err := e.m.AssertLockedByToken(ctx, 101, []int64{6, 5}, "tokA"); err != nil {
				return err
			}
			e.bookings.book(model.SeatRef{TripID: 101, SeatID: 5}, model.SeatRef{TripID: 101, SeatID: 6})
			return nil
		}
		err := confirm()
		if !errors.Is(err, ErrLockVerificationFailed) {
			t.Fatalf("confirm err = %v, want ErrLockVerificationFailed", err)
		}
		var verr *LockVerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("err %T is not *LockVerificationError", err)
		}
		want := &LockVerificationError{TripID: 101, SeatID: 5, Reason: ReasonExpired}
		if diff := cmp.Diff(want, verr); diff != "" {
			t.Errorf("verification error (-want +got):\n%s", diff)
		}
		if got, _ := e.bookings.BookedSeatIDs(ctx, 101, nil); len(got) != 0 {
			t.Errorf("booking written despite failed verification: %v", got)
		}
	})
}

func TestAssertMultiReportsForeignOwner(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", append(seats(101, 1), seats(102, 4)...), 0)
		mustLock(t, e, "tokB", seats(102, 2), 0)

		err := e.m.AssertMultiLockedByToken(ctx, map[int64][]int64{102: {4, 2}, 101: {1}}, "tokA")
		var verr *LockVerificationError
		if !errors.As(err, &verr) {
			t.Fatalf("err = %v, want *LockVerificationError", err)
		}
		want := &LockVerificationError{TripID: 102, SeatID: 2, Reason: ReasonHeldByPeer}
		if diff := cmp.Diff(want, verr); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}

		if err := e.m.AssertMultiLockedByToken(ctx, map[int64][]int64{101: {1}, 102: {4}}, "tokA"); err != nil {
			t.Errorf("owned seats: %v", err)
		}
		if err := e.m.AssertMultiLockedByToken(ctx, map[int64][]int64{101: {0}}, "tokA"); !errors.Is(err, ErrNoValidSeats) {
			t.Errorf("no seats: %v", err)
		}
	})
}

func TestEndToEndHoldAndRelease(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		e.bookings.labels[5] = "A5"
		e.bookings.labels[6] = "A6"

		if res := mustLock(t, e, "tokA", seats(101, 5, 6), 0); !res.OK {
			t.Fatalf("tokA: %+v", res)
		}

		res := mustLock(t, e, "tokB", seats(101, 6), 0)
		wantConflicts := []SeatConflict{{TripID: 101, SeatID: 6, Reason: ReasonLocked}}
		if res.OK {
			t.Fatal("tokB locked seat 6")
		}
		if diff := cmp.Diff(wantConflicts, res.Conflicts); diff != "" {
			t.Errorf("conflicts (-want +got):\n%s", diff)
		}

		st, err := e.m.LoadStatus(ctx, 101, []int64{5, 6, 7})
		if err != nil {
			t.Fatal(err)
		}
		want := []LockedSeat{{SeatID: 5, SeatLabel: "A5"}, {SeatID: 6, SeatLabel: "A6"}}
		if diff := cmp.Diff(want, st.Locked, cmpopts.IgnoreFields(LockedSeat{}, "TTL")); diff != "" {
			t.Errorf("locked (-want +got):\n%s", diff)
		}
		for _, l := range st.Locked {
			if l.TTL <= 0 || l.TTL > 180*time.Second {
				t.Errorf("seat %d ttl = %v", l.SeatID, l.TTL)
			}
		}

		n, err := e.m.ReleaseByToken(ctx, []int64{101}, "tokA")
		if err != nil {
			t.Fatal(err)
		}
		if n != 2 {
			t.Errorf("released = %d, want 2", n)
		}
		st, err = e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int64{}, lockedIDs(st)); diff != "" {
			t.Errorf("locked after release (-want +got):\n%s", diff)
		}
	})
}

func TestLoadStatusHidesBookedAndToleratesLabelErrors(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 1, 2), 0)
		// sold through another channel while still soft-locked
		e.bookings.book(model.SeatRef{TripID: 101, SeatID: 2}, model.SeatRef{TripID: 101, SeatID: 9})
		e.bookings.labelErr = errors.New("labels offline")

		st, err := e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff([]int64{2, 9}, st.Booked); diff != "" {
			t.Errorf("booked (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff([]int64{1}, lockedIDs(st)); diff != "" {
			t.Errorf("locked (-want +got):\n%s", diff)
		}
		if st.Locked[0].SeatLabel != "" {
			t.Errorf("label = %q", st.Locked[0].SeatLabel)
		}

		if _, err := e.m.LoadStatus(ctx, 0, nil); !errors.Is(err, ErrInvalidTrip) {
			t.Errorf("trip 0: %v", err)
		}
	})
}

func TestCountersForTrips(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		e.bookings.totals[101] = 40
		e.bookings.totals[102] = 30
		e.bookings.book(model.SeatRef{TripID: 101, SeatID: 10}, model.SeatRef{TripID: 101, SeatID: 11})
		mustLock(t, e, "tokA", seats(101, 1, 2, 3), 0)
		mustLock(t, e, "tokB", seats(102, 1), 5*time.Second)
		e.advance(10 * time.Second)

		got, err := e.m.CountersForTrips(ctx, []int64{102, 101, 103}, e.now())
		if err != nil {
			t.Fatal(err)
		}
		want := map[int64]model.TripCounters{
			101: {Total: 40, Booked: 2, Locked: 3},
			102: {Total: 30, Booked: 0, Locked: 0},
			103: {},
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("counters (-want +got):\n%s", diff)
		}

		empty, err := e.m.CountersForTrips(ctx, nil, time.Time{})
		if err != nil || len(empty) != 0 {
			t.Errorf("empty input = %v, %v", empty, err)
		}
	})
}

func TestLoadStatusLabels(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		e.bookings.labels[1] = "A1"
		e.bookings.labels[2] = "A2"
		mustLock(t, e, "tokA", seats(101, 1), 0)

		st, err := e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Locked) != 1 || st.Locked[0].SeatLabel != "A1" {
			t.Fatalf("single locked seat: %+v", st.Locked)
		}
		if got := e.bookings.called("SeatLabel"); got != 1 {
			t.Errorf("SeatLabel calls = %d, want 1", got)
		}

		mustLock(t, e, "tokB", seats(101, 2), 0)
		st, err = e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		var labels []string
		for _, l := range st.Locked {
			labels = append(labels, l.SeatLabel)
		}
		if diff := cmp.Diff([]string{"A1", "A2"}, labels); diff != "" {
			t.Errorf("labels (-want +got):\n%s", diff)
		}
		if got := e.bookings.called("SeatLabels"); got != 1 {
			t.Errorf("SeatLabels calls = %d, want 1", got)
		}
	})
}

func TestCountersSkipSoldLocks(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		e.bookings.totals[101] = 10
		mustLock(t, e, "tokA", seats(101, 1, 2, 3), 0)
		// committed but not yet released
		e.bookings.book(model.SeatRef{TripID: 101, SeatID: 1}, model.SeatRef{TripID: 101, SeatID: 2})

		got, err := e.m.CountersForTrips(ctx, []int64{101}, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		want := map[int64]model.TripCounters{101: {Total: 10, Booked: 2, Locked: 1}}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Errorf("counters (-want +got):\n%s", diff)
		}

		st, err := e.m.LoadStatus(ctx, 101, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(st.Locked) != got[101].Locked {
			t.Errorf("LoadStatus locked %d seats, counters say %d", len(st.Locked), got[101].Locked)
		}
	})
}

func TestPromoteSessionTTL(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 1, 2, 3), 20*time.Second)
		mustLock(t, e, "tokA", seats(102, 1), 5*time.Second)
		e.advance(6 * time.Second)
		mustLock(t, e, "tokB", seats(102, 1), 0)

		e.bookings.drafts["tokA"] = &model.DraftCheckout{
			ID:           7,
			SessionToken: "tokA",
			Status:       model.DraftPending,
			Items: []model.SeatRef{
				{TripID: 102, SeatID: 1},
				{TripID: 101, SeatID: 2},
				{TripID: 101, SeatID: 1},
			},
		}

		report, err := e.m.PromoteSessionTTL(ctx, "tokA", 0)
		if err != nil {
			t.Fatal(err)
		}
		want := PromotionReport{
			SessionExtended: true,
			Extended:        []model.SeatRef{{TripID: 101, SeatID: 1}, {TripID: 101, SeatID: 2}},
			Missing:         []model.SeatRef{{TripID: 102, SeatID: 1}},
		}
		if diff := cmp.Diff(want, report); diff != "" {
			t.Errorf("report (-want +got):\n%s", diff)
		}

		ttl, err := e.m.SessionTTL(ctx, "tokA")
		if err != nil {
			t.Fatal(err)
		}
		if ttl != 15*time.Minute {
			t.Errorf("session ttl = %v, want 15m", ttl)
		}

		// seat 3 was not in the draft and lapses on its original schedule
		e.advance(time.Minute)
		if err := e.m.AssertLockedByToken(ctx, 101, []int64{1, 2}, "tokA"); err != nil {
			t.Errorf("promoted locks: %v", err)
		}
		if err := e.m.AssertLockedByToken(ctx, 101, []int64{3}, "tokA"); !errors.Is(err, ErrLockVerificationFailed) {
			t.Errorf("unpromoted seat: %v", err)
		}
	})
}

func TestPromoteWithoutDraftOrSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		report, err := e.m.PromoteSessionTTL(context.Background(), "ghost", time.Minute)
		if err != nil {
			t.Fatal(err)
		}
		if diff := cmp.Diff(PromotionReport{}, report); diff != "" {
			t.Errorf("report (-want +got):\n%s", diff)
		}
	})
}

func TestEndSession(t *testing.T) {
	eachBackend(t, func(t *testing.T, e *env) {
		ctx := context.Background()
		mustLock(t, e, "tokA", seats(101, 1), 0)
		if alive, err := e.m.IsSessionHoldAlive(ctx, "tokA"); err != nil || !alive {
			t.Fatalf("alive = %v, %v", alive, err)
		}
		if err := e.m.EndSession(ctx, "tokA"); err != nil {
			t.Fatal(err)
		}
		if alive, _ := e.m.IsSessionHoldAlive(ctx, "tokA"); alive {
			t.Error("session alive after EndSession")
		}
		// locks survive until released
		if err := e.m.AssertLockedByToken(ctx, 101, []int64{1}, "tokA"); err != nil {
			t.Errorf("lock after EndSession: %v", err)
		}
	})
}

var errBroken = errors.New("connection refused")

type brokenStore struct{ lockstore.Store }

func (brokenStore) Acquire(context.Context, lockstore.AcquireRequest) (lockstore.AcquireResult, error) {
	return lockstore.AcquireResult{}, errBroken
}

func (brokenStore) Owners(context.Context, []model.SeatRef) (map[model.SeatRef]string, error) {
	return nil, errBroken
}

func (brokenStore) Release(context.Context, []int64, string) (int, error) { return 0, errBroken }

func (brokenStore) CountLocked(context.Context, []int64, time.Time) (map[int64]int, error) {
	return nil, errBroken
}

func TestStoreFailuresFailClosed(t *testing.T) {
	m := NewManager(brokenStore{}, newFakeBookings(), Config{})
	ctx := context.Background()

	res, err := m.TryLock(ctx, seats(1, 1), "tok", 0, 0)
	if !errors.Is(err, ErrStoreUnavailable) || !errors.Is(err, errBroken) {
		t.Errorf("TryLock err = %v", err)
	}
	if res.OK {
		t.Error("TryLock OK on store failure")
	}

	err = m.AssertLockedByToken(ctx, 1, []int64{1}, "tok")
	if !errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrLockVerificationFailed) {
		t.Errorf("Assert err = %v", err)
	}
	if _, err := m.ReleaseByToken(ctx, []int64{1}, "tok"); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Release err = %v", err)
	}
	if _, err := m.CountersForTrips(ctx, []int64{1}, time.Time{}); !errors.Is(err, ErrStoreUnavailable) {
		t.Errorf("Counters err = %v", err)
	}
}
