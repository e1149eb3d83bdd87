package repository

import (
	"context"
	"database/sql"

	"github.com/doug-martin/goqu/v8"
)

// SeatRepo reads the physical seat map of buses.  Seats are shared by every
// trip the bus runs.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo returns a new SeatRepo bound to the given database.
func NewSeatRepo(db *sql.DB) *SeatRepo { return &SeatRepo{db: db} }

// SeatLabel returns the display label of a seat, e.g. "12B".
func (r *SeatRepo) SeatLabel(ctx context.Context, seatID int64) (string, error) {
	q, args, err := dialect.From("seats").
		Select("label").
		Where(goqu.C("id").Eq(seatID)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return "", err
	}
	var label string
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&label); err != nil {
		if err == sql.ErrNoRows {
			return "", ErrNotFound
		}
		return "", err
	}
	return label, nil
}

// SeatLabels returns labels for the given seats.  Unknown seats are absent.
func (r *SeatRepo) SeatLabels(ctx context.Context, seatIDs []int64) (map[int64]string, error) {
	out := make(map[int64]string, len(seatIDs))
	if len(seatIDs) == 0 {
		return out, nil
	}
	q, args, err := dialect.From("seats").
		Select("id", "label").
		Where(goqu.C("id").In(int64sToAny(seatIDs)...)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id    int64
			label string
		)
		if err := rows.Scan(&id, &label); err != nil {
			return nil, err
		}
		out[id] = label
	}
	return out, rows.Err()
}

// SeatsBelongToTrip reports whether every seat belongs to the bus that runs the
// trip.  seatIDs must be distinct.
func (r *SeatRepo) SeatsBelongToTrip(ctx context.Context, tripID int64, seatIDs []int64) (bool, error) {
	if len(seatIDs) == 0 {
		return true, nil
	}
	q, args, err := dialect.From(goqu.T("seats").As("s")).
		Join(goqu.T("trips").As("t"), goqu.On(goqu.I("t.bus_id").Eq(goqu.I("s.bus_id")))).
		Select(goqu.COUNT(goqu.I("s.id"))).
		Where(goqu.I("t.id").Eq(tripID), goqu.I("s.id").In(int64sToAny(seatIDs)...)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, err
	}
	var n int
	if err := r.db.QueryRowContext(ctx, q, args...).Scan(&n); err != nil {
		return false, err
	}
	return n == len(seatIDs), nil
}
