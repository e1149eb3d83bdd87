package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// BookingConfirmed is the status of every booking this service writes.
const BookingConfirmed = "CONFIRMED"


// BookingRepo reads and writes confirmed sales.  A seat is sold when a
// booking_seats row exists for its (trip_id, seat_id); the table's unique key
// on that pair is the last line of defence against double selling.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo returns a new BookingRepo bound to the given database.
func NewBookingRepo(db *sql.DB) *BookingRepo { return &BookingRepo{db: db} }

// IsSeatPermanentlyBooked reports whether the seat is sold on the trip.
func (r *BookingRepo) IsSeatPermanentlyBooked(ctx context.Context, tripID, seatID int64) (bool, error) {
	q, args, err := dialect.From("booking_seats").
		Select(goqu.L("1")).
		Where(goqu.Ex{"trip_id": tripID, "seat_id": seatID}).
		Limit(1).
		Prepared(true).
		ToSQL()
	if err != nil {
		return false, err
	}
	var one int
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// BookedSeatIDs returns the sold seats among seatIDs on a trip, or every
// sold seat of the trip when seatIDs is empty.
func (r *BookingRepo) BookedSeatIDs(ctx context.Context, tripID int64, seatIDs []int64) (map[int64]struct{}, error) {
	where := []goqu.Expression{goqu.C("trip_id").Eq(tripID)}
	if len(seatIDs) > 0 {
		where = append(where, goqu.C("seat_id").In(int64sToAny(seatIDs)...))
	}
	q, args, err := dialect.From("booking_seats").
		Select("seat_id").
		Where(where...).
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
	out := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

// TotalSeatsAndBookedCounts returns capacity and sold counts per trip in one
// grouped query.  Unknown trips are absent from the result.
func (r *BookingRepo) TotalSeatsAndBookedCounts(ctx context.Context, tripIDs []int64) (map[int64]model.TripCounters, error) {
	out := make(map[int64]model.TripCounters, len(tripIDs))
	if len(tripIDs) == 0 {
		return out, nil
	}
	q, args, err := dialect.From(goqu.T("trips").As("t")).
		LeftJoin(goqu.T("booking_seats").As("bs"), goqu.On(goqu.I("bs.trip_id").Eq(goqu.I("t.id")))).
		Select(goqu.I("t.id"), goqu.I("t.total_seats"), goqu.COUNT(goqu.I("bs.id"))).
		Where(goqu.I("t.id").In(int64sToAny(tripIDs)...)).
		GroupBy(goqu.I("t.id"), goqu.I("t.total_seats")).
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
			id int64
			c  model.TripCounters
		)
		if err := rows.Scan(&id, &c.Total, &c.Booked); err != nil {
			return nil, err
		}
		out[id] = c
	}
	return out, rows.Err()
}

// CreateTx inserts a confirmed booking and its seats inside tx and fills in
// b.ID.  A seat that is already sold yields ErrConflict; the caller must roll
// back.
func (r *BookingRepo) CreateTx(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	if b.Status == "" {
		b.Status = BookingConfirmed
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	q, args, err := dialect.Insert("bookings").
		Rows(goqu.Record{"session_token": b.SessionToken, "customer_id": b.CustomerID, "status": b.Status, "created_at": b.CreatedAt}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = id

	if len(b.Seats) == 0 {
		return nil
	}
	rows := make([]interface{}, len(b.Seats))
	for i, s := range b.Seats {
		rows[i] = goqu.Record{"booking_id": b.ID, "trip_id": s.TripID, "seat_id": s.SeatID}
	}
	q, args, err = dialect.Insert("booking_seats").Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, q, args...); err != nil {
		if isDuplicateKey(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}
