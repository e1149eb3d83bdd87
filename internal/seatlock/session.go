package seatlock

import (
	"context"
	"fmt"
	"time"
)

// IsSessionHoldAlive reports whether the checkout session still has time
// left.
func (m *Manager) IsSessionHoldAlive(ctx context.Context, token string) (bool, error) {
	ttl, err := m.SessionTTL(ctx, token)
	if err != nil {
		return false, err
	}
	return ttl > 0, nil
}

// SessionTTL returns the remaining lifetime of the session, zero when it is
// gone.
func (m *Manager) SessionTTL(ctx context.Context, token string) (time.Duration, error) {
	if token == "" {
		return 0, ErrInvalidToken
	}
	ttl, err := m.store.SessionTTL(ctx, token)
	if err != nil {
		return 0, storeError("session_ttl", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	return ttl, nil
}

// PromoteSessionTTL stretches a session and the seat locks of its pending
// draft to ttl, typically when the customer is handed to the payment page.
// A zero ttl uses the configured payment TTL.
//
// Promotion is best effort: a missing session key or draft seats whose lock
// is gone or foreign are logged and reported, not returned as errors.
func (m *Manager) PromoteSessionTTL(ctx context.Context, token string, ttl time.Duration) (PromotionReport, error) {
	if token == "" {
		return PromotionReport{}, ErrInvalidToken
	}
	if ttl <= 0 {
		ttl = m.cfg.PaymentTTL
	}
	logger := m.logger.With().Str("session", token).Logger()

	var report PromotionReport
	ok, err := m.store.ExtendSession(ctx, token, ttl)
	if err != nil {
		return report, storeError("extend_session", err)
	}
	report.SessionExtended = ok
	if !ok {
		logger.Warn().Msg("session key missing at promotion")
	}

	draft, err := m.bookings.FindPendingDraftBySessionToken(ctx, token)
	if err != nil {
		return report, fmt.Errorf("seatlock: pending draft: %w", err)
	}
	if draft == nil {
		logger.Debug().Msg("no pending draft; nothing to promote")
		return report, nil
	}
	items := normalizeRefs(draft.Items)
	if len(items) == 0 {
		return report, nil
	}

	extended, missing, err := m.store.Extend(ctx, token, items, ttl, m.cfg.Now())
	if err != nil {
		return report, storeError("extend", err)
	}
	report.Extended = extended
	report.Missing = missing
	for _, ref := range missing {
		promotionMissing.Inc()
		logger.Warn().
			Int64("draft_id", draft.ID).
			Int64("trip_id", ref.TripID).
			Int64("seat_id", ref.SeatID).
			Msg("seat lock not extended: no longer held by session")
	}
	logger.Info().Int("extended", len(extended)).Int("missing", len(missing)).Dur("ttl", ttl).Msg("session promoted")
	return report, nil
}

// EndSession removes the session key.  Seat locks are released separately
// with ReleaseByToken.
func (m *Manager) EndSession(ctx context.Context, token string) error {
	if token == "" {
		return ErrInvalidToken
	}
	if err := m.store.DeleteSession(ctx, token); err != nil {
		return storeError("delete_session", err)
	}
	return nil
}
