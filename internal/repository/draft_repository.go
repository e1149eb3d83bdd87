package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/doug-martin/goqu/v8"

	"github.com/iliyamo/bus-seat-reservation/internal/model"
)

// DraftRepo persists checkout drafts: the seats a session intends to buy
// while it holds their locks.  At most one PENDING draft exists per session
// token: the unique pending_token column carries the token while the draft
// is pending and is cleared when it leaves that state.
type DraftRepo struct {
	db *sql.DB
}

// NewDraftRepo returns a new DraftRepo bound to the given database.
func NewDraftRepo(db *sql.DB) *DraftRepo { return &DraftRepo{db: db} }

// FindPendingDraftBySessionToken returns the session's pending draft with its
// items sorted by (trip, seat), or nil, nil when there is none.
func (r *DraftRepo) FindPendingDraftBySessionToken(ctx context.Context, token string) (*model.DraftCheckout, error) {
	q, args, err := dialect.From("checkout_drafts").
		Select("id", "session_token", "customer_id", "status", "created_at").
		Where(goqu.Ex{"pending_token": token}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	var d model.DraftCheckout
	err = r.db.QueryRowContext(ctx, q, args...).Scan(&d.ID, &d.SessionToken, &d.CustomerID, &d.Status, &d.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if d.Items, err = r.items(ctx, r.db, d.ID); err != nil {
		return nil, err
	}
	return &d, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func (r *DraftRepo) items(ctx context.Context, db queryer, draftID int64) ([]model.SeatRef, error) {
	q, args, err := dialect.From("checkout_draft_items").
		Select("trip_id", "seat_id").
		Where(goqu.C("draft_id").Eq(draftID)).
		Order(goqu.C("trip_id").Asc(), goqu.C("seat_id").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []model.SeatRef{}
	for rows.Next() {
		var ref model.SeatRef
		if err := rows.Scan(&ref.TripID, &ref.SeatID); err != nil {
			return nil, err
		}
		items = append(items, ref)
	}
	return items, rows.Err()
}

// EnsurePending returns the session's pending draft, creating an empty one
// owned by customerID when none exists.  Concurrent callers for one token
// all get the same draft.  An existing draft is returned as is, whoever
// owns it; callers check CustomerID.
func (r *DraftRepo) EnsurePending(ctx context.Context, token, customerID string) (*model.DraftCheckout, error) {
	d, err := r.FindPendingDraftBySessionToken(ctx, token)
	if err != nil || d != nil {
		return d, err
	}
	d = &model.DraftCheckout{
		SessionToken: token,
		CustomerID:   customerID,
		Status:       model.DraftPending,
		Items:        []model.SeatRef{},
		CreatedAt:    time.Now().UTC(),
	}
	q, args, err := dialect.Insert("checkout_drafts").
		Rows(goqu.Record{
			"session_token": d.SessionToken,
			"customer_id":   d.CustomerID,
			"status":        d.Status,
			"pending_token": d.SessionToken,
			"created_at":    d.CreatedAt,
		}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if isDuplicateKey(err) {
		// lost the race; the winner's row is committed
		d, err = r.FindPendingDraftBySessionToken(ctx, token)
		if err == nil && d == nil {
			err = ErrConflict
		}
		return d, err
	}
	if err != nil {
		return nil, err
	}
	if d.ID, err = res.LastInsertId(); err != nil {
		return nil, err
	}
	return d, nil
}

// AddItems records seats on a draft, skipping ones already present.  A
// concurrent AddItems that inserts an overlapping seat first costs one
// retry.
func (r *DraftRepo) AddItems(ctx context.Context, draftID int64, refs []model.SeatRef) error {
	if len(refs) == 0 {
		return nil
	}
	err := r.addMissing(ctx, draftID, refs)
	if isDuplicateKey(err) {
		err = r.addMissing(ctx, draftID, refs)
	}
	return err
}

func (r *DraftRepo) addMissing(ctx context.Context, draftID int64, refs []model.SeatRef) error {
	existing, err := r.items(ctx, r.db, draftID)
	if err != nil {
		return err
	}
	have := make(map[model.SeatRef]struct{}, len(existing))
	for _, ref := range existing {
		have[ref] = struct{}{}
	}
	var rows []interface{}
	for _, ref := range refs {
		if _, ok := have[ref]; ok {
			continue
		}
		have[ref] = struct{}{}
		rows = append(rows, goqu.Record{"draft_id": draftID, "trip_id": ref.TripID, "seat_id": ref.SeatID})
	}
	if len(rows) == 0 {
		return nil
	}
	q, args, err := dialect.Insert("checkout_draft_items").Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// RemoveTrips drops every item of the given trips from a draft.
func (r *DraftRepo) RemoveTrips(ctx context.Context, draftID int64, tripIDs []int64) error {
	if len(tripIDs) == 0 {
		return nil
	}
	q, args, err := dialect.Delete("checkout_draft_items").
		Where(goqu.C("draft_id").Eq(draftID), goqu.C("trip_id").In(int64sToAny(tripIDs)...)).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, q, args...)
	return err
}

// MarkTx moves a pending draft to status inside tx and frees its session
// token for a new draft.  It returns ErrNotFound when the draft is missing or
// no longer pending.
func (r *DraftRepo) MarkTx(ctx context.Context, tx *sql.Tx, draftID int64, status string) error {
	q, args, err := dialect.Update("checkout_drafts").
		Set(goqu.Record{"status": status, "pending_token": nil}).
		Where(goqu.Ex{"id": draftID, "status": model.DraftPending}).
		Prepared(true).
		ToSQL()
	if err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, q, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
