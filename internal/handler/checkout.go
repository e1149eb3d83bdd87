package handler

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/bus-seat-reservation/internal/middleware"
	"github.com/iliyamo/bus-seat-reservation/internal/model"
	"github.com/iliyamo/bus-seat-reservation/internal/queue"
	"github.com/iliyamo/bus-seat-reservation/internal/repository"
	"github.com/iliyamo/bus-seat-reservation/internal/seatlock"
)

// EventPublisher sends booking events.  queue.Publisher and queue.Nop
// implement it.
type EventPublisher interface {
	PublishBookingConfirmed(ctx context.Context, ev queue.BookingConfirmedEvent) error
	PublishHoldReleased(ctx context.Context, ev queue.HoldReleasedEvent) error
}

// CheckoutHandler drives a checkout session: seat holds in the lock store,
// the pending draft in MySQL and the final booking.  All routes run behind
// JWTAuth; the session token in the path is the lock owner and the draft
// binds it to the customer who created it.
type CheckoutHandler struct {
	Locks     *seatlock.Manager
	Drafts    *repository.DraftRepo
	Bookings  *repository.BookingRepo
	Seats     *repository.SeatRepo
	DB        *sql.DB
	Events    EventPublisher
	OpTimeout time.Duration // bounds each lock store call; zero means none
	logger    zerolog.Logger
}

// NewCheckoutHandler wires a CheckoutHandler.  A nil events publisher drops
// events.
func NewCheckoutHandler(locks *seatlock.Manager, durable *repository.Durable, db *sql.DB, events EventPublisher, opTimeout time.Duration) *CheckoutHandler {
	if locks == nil || durable == nil || db == nil {
		panic("nil dependency passed to NewCheckoutHandler")
	}
	if events == nil {
		events = queue.Nop{}
	}
	return &CheckoutHandler{
		Locks:     locks,
		Drafts:    durable.DraftRepo,
		Bookings:  durable.BookingRepo,
		Seats:     durable.SeatRepo,
		DB:        db,
		Events:    events,
		OpTimeout: opTimeout,
		logger:    log.With().Str("component", "checkout").Logger(),
	}
}

func (h *CheckoutHandler) lockCtx(c echo.Context) (context.Context, context.CancelFunc) {
	if h.OpTimeout <= 0 {
		return context.WithCancel(c.Request().Context())
	}
	return context.WithTimeout(c.Request().Context(), h.OpTimeout)
}

// sessionToken returns the :token path parameter when it is a UUID.
func sessionToken(c echo.Context) (string, bool) {
	tok := c.Param("token")
	if _, err := uuid.Parse(tok); err != nil {
		return "", false
	}
	return tok, true
}

// lockError maps a seat lock failure onto a response.
func lockError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, seatlock.ErrNoValidSeats):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no valid seats provided"})
	case errors.Is(err, seatlock.ErrInvalidToken):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	case errors.Is(err, seatlock.ErrInvalidTrip):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip id"})
	case errors.Is(err, seatlock.ErrStoreUnavailable), errors.Is(err, context.DeadlineExceeded):
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "seat locks unavailable, try again"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
}

var (
	errNoSession = errors.New("no pending checkout for session")
	errNotOwner  = errors.New("session belongs to another customer")
)

// ownedDraft loads the session's pending draft and checks that the caller
// created it.
func (h *CheckoutHandler) ownedDraft(c echo.Context, token string) (*model.DraftCheckout, error) {
	draft, err := h.Drafts.FindPendingDraftBySessionToken(c.Request().Context(), token)
	if err != nil {
		return nil, err
	}
	if draft == nil {
		return nil, errNoSession
	}
	if draft.CustomerID != middleware.CustomerID(c) {
		h.logger.Warn().Str("session", token).Str("customer_id", middleware.CustomerID(c)).Msg("session used by another customer")
		return nil, errNotOwner
	}
	return draft, nil
}

// draftError maps an ownedDraft failure onto a response.
func draftError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, errNoSession):
		return c.JSON(http.StatusNotFound, echo.Map{"error": err.Error()})
	case errors.Is(err, errNotOwner):
		return c.JSON(http.StatusForbidden, echo.Map{"error": err.Error()})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
}

// CreateSession handles POST /v1/checkout/sessions.  It mints the owner token
// and opens an empty draft bound to the caller; the session key appears in
// the lock store with the first hold.
func (h *CheckoutHandler) CreateSession(c echo.Context) error {
	token := uuid.NewString()
	if _, err := h.Drafts.EnsurePending(c.Request().Context(), token, middleware.CustomerID(c)); err != nil {
		h.logger.Error().Err(err).Msg("create draft failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create session"})
	}
	return c.JSON(http.StatusCreated, echo.Map{"session_token": token})
}

type holdRequest struct {
	Seats []seatlock.SeatRequest `json:"seats"`
}

// Hold handles POST /v1/checkout/sessions/:token/holds.  Every requested
// seat is locked or none is.  On success the seats are added to the
// session's pending draft and 201 is returned with the lock expiry.
// Conflicts and quota violations return 409 with the full lock result.
func (h *CheckoutHandler) Hold(c echo.Context) error {
	token, ok := sessionToken(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	}
	var body holdRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if len(body.Seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "seats is required"})
	}
	ctx := c.Request().Context()
	draft, err := h.ownedDraft(c, token)
	if err != nil {
		return draftError(c, err)
	}

	// seat ids are global, make sure each one is on the bus of its trip
	byTrip := make(map[int64][]int64)
	seen := make(map[model.SeatRef]struct{})
	for _, s := range body.Seats {
		if s.TripID <= 0 || s.SeatID <= 0 {
			continue
		}
		ref := model.SeatRef{TripID: s.TripID, SeatID: s.SeatID}
		if _, dup := seen[ref]; dup {
			continue
		}
		seen[ref] = struct{}{}
		byTrip[s.TripID] = append(byTrip[s.TripID], s.SeatID)
	}
	for tripID, seatIDs := range byTrip {
		ok, err := h.Seats.SeatsBelongToTrip(ctx, tripID, seatIDs)
		if err != nil {
			h.logger.Error().Err(err).Int64("trip_id", tripID).Msg("seat validation failed")
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
		}
		if !ok {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "unknown seat for trip", "trip_id": tripID})
		}
	}

	lctx, cancel := h.lockCtx(c)
	res, err := h.Locks.TryLock(lctx, body.Seats, token, 0, 0)
	cancel()
	if err != nil {
		return lockError(c, err)
	}
	if !res.OK {
		return c.JSON(http.StatusConflict, res)
	}

	refs := make([]model.SeatRef, 0, len(seen))
	for ref := range seen {
		refs = append(refs, ref)
	}
	if err := h.Drafts.AddItems(ctx, draft.ID, refs); err != nil {
		// the locks stay until they expire; a retry of the same hold is
		// idempotent for this token
		h.logger.Error().Err(err).Str("session", token).Msg("draft update failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to record draft"})
	}
	return c.JSON(http.StatusCreated, echo.Map{
		"expires_at": res.ExpiresAt.UTC().Format(time.RFC3339),
		"seats":      len(refs),
	})
}

type releaseRequest struct {
	TripIDs []int64 `json:"trip_ids" query:"trip_ids"`
}

// Release handles DELETE /v1/checkout/sessions/:token/holds.  It frees the
// session's locks on the given trips and drops them from the draft.  Seats
// the session no longer owns are left alone.
func (h *CheckoutHandler) Release(c echo.Context) error {
	token, ok := sessionToken(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	}
	tripIDs, err := parseIDList(c.QueryParam("trip_ids"))
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid trip_ids"})
	}
	if len(tripIDs) == 0 && c.Request().ContentLength != 0 {
		var body releaseRequest
		if err := c.Bind(&body); err != nil {
			return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
		}
		tripIDs = body.TripIDs
	}
	if len(tripIDs) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "trip_ids is required"})
	}
	ctx := c.Request().Context()
	draft, err := h.ownedDraft(c, token)
	if err != nil {
		return draftError(c, err)
	}

	lctx, cancel := h.lockCtx(c)
	released, err := h.Locks.ReleaseByToken(lctx, tripIDs, token)
	cancel()
	if err != nil {
		return lockError(c, err)
	}

	if err := h.Drafts.RemoveTrips(ctx, draft.ID, tripIDs); err != nil {
		h.logger.Warn().Err(err).Str("session", token).Msg("draft cleanup after release failed")
	}

	if released > 0 {
		ev := queue.HoldReleasedEvent{
			SessionToken: token,
			CustomerID:   middleware.CustomerID(c),
			TripIDs:      tripIDs,
			Released:     released,
			ReleasedAt:   time.Now().UTC(),
		}
		if err := h.Events.PublishHoldReleased(ctx, ev); err != nil {
			h.logger.Warn().Err(err).Str("session", token).Msg("publish hold released failed")
		}
	}
	return c.JSON(http.StatusOK, echo.Map{"released": released})
}

// GetSession handles GET /v1/checkout/sessions/:token.  It reports whether
// the session is alive, its remaining lifetime and the pending draft.
func (h *CheckoutHandler) GetSession(c echo.Context) error {
	token, ok := sessionToken(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	}
	draft, err := h.ownedDraft(c, token)
	if err != nil {
		return draftError(c, err)
	}
	lctx, cancel := h.lockCtx(c)
	ttl, err := h.Locks.SessionTTL(lctx, token)
	cancel()
	if err != nil {
		return lockError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"alive":  ttl > 0,
		"ttl_ms": ttl.Milliseconds(),
		"items":  draft.Items,
	})
}

// Promote handles POST /v1/checkout/sessions/:token/promote, called when the
// customer moves on to payment.  The session and its draft seats are
// stretched to the payment window.
func (h *CheckoutHandler) Promote(c echo.Context) error {
	token, ok := sessionToken(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	}
	if _, err := h.ownedDraft(c, token); err != nil {
		return draftError(c, err)
	}
	lctx, cancel := h.lockCtx(c)
	report, err := h.Locks.PromoteSessionTTL(lctx, token, 0)
	cancel()
	if err != nil {
		return lockError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// Confirm handles POST /v1/checkout/sessions/:token/confirm.  It verifies
// that the session still owns every seat on its draft, then writes the
// booking and completes the draft in one transaction.  Locks and the
// session key are dropped after commit; failures there only shorten the
// time until the seats show as booked instead of locked.
func (h *CheckoutHandler) Confirm(c echo.Context) error {
	token, ok := sessionToken(c)
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid session token"})
	}
	customerID := middleware.CustomerID(c)
	ctx := c.Request().Context()

	draft, err := h.ownedDraft(c, token)
	if err != nil {
		return draftError(c, err)
	}
	if len(draft.Items) == 0 {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "no seats held in session"})
	}

	tx, err := h.DB.BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	seats := make(map[int64][]int64)
	for _, it := range draft.Items {
		seats[it.TripID] = append(seats[it.TripID], it.SeatID)
	}
	lctx, cancel := h.lockCtx(c)
	err = h.Locks.AssertMultiLockedByToken(lctx, seats, token)
	cancel()
	var verr *seatlock.LockVerificationError
	switch {
	case errors.As(err, &verr):
		return c.JSON(http.StatusConflict, echo.Map{
			"error":   "seat hold lost",
			"trip_id": verr.TripID,
			"seat_id": verr.SeatID,
			"reason":  verr.Reason,
		})
	case err != nil:
		return lockError(c, err)
	}

	booking := &model.Booking{
		SessionToken: token,
		CustomerID:   customerID,
		Seats:        draft.Items,
	}
	if err := h.Bookings.CreateTx(ctx, tx, booking); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "seat already sold"})
		}
		h.logger.Error().Err(err).Str("session", token).Msg("create booking failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to create booking"})
	}
	if err := h.Drafts.MarkTx(ctx, tx, draft.ID, model.DraftCompleted); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "checkout already completed"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to complete draft"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	logger := h.logger.With().Str("session", token).Int64("booking_id", booking.ID).Logger()
	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	trips := make([]int64, 0, len(seats))
	for tripID := range seats {
		trips = append(trips, tripID)
	}
	if _, err := h.Locks.ReleaseByToken(cleanup, trips, token); err != nil {
		logger.Warn().Err(err).Msg("release after booking failed")
	}
	if err := h.Locks.EndSession(cleanup, token); err != nil {
		logger.Warn().Err(err).Msg("end session after booking failed")
	}

	ev := queue.BookingConfirmedEvent{
		BookingID:    booking.ID,
		SessionToken: token,
		CustomerID:   customerID,
		ConfirmedAt:  booking.CreatedAt,
	}
	labels, err := h.Seats.SeatLabels(cleanup, seatIDsOf(draft.Items))
	if err != nil {
		logger.Warn().Err(err).Msg("seat labels for event")
	}
	for _, it := range draft.Items {
		ev.Seats = append(ev.Seats, queue.BookedSeat{TripID: it.TripID, SeatID: it.SeatID, Label: labels[it.SeatID]})
	}
	if err := h.Events.PublishBookingConfirmed(cleanup, ev); err != nil {
		logger.Warn().Err(err).Msg("publish booking confirmed failed")
	}
	logger.Info().Int("seats", len(draft.Items)).Msg("booking confirmed")

	return c.JSON(http.StatusCreated, echo.Map{
		"booking_id": booking.ID,
		"seats":      draft.Items,
	})
}

func seatIDsOf(refs []model.SeatRef) []int64 {
	ids := make([]int64, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.SeatID)
	}
	return ids
}
