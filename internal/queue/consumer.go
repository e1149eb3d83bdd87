package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// AuditConsumer appends one line per booking event to a log file.
type AuditConsumer struct {
	url    string
	path   string
	logger zerolog.Logger
}

// NewAuditConsumer returns a consumer for the broker at url writing to path.
func NewAuditConsumer(url, path string) *AuditConsumer {
	return &AuditConsumer{
		url:    url,
		path:   path,
		logger: log.With().Str("component", "audit-consumer").Logger(),
	}
}

// Run consumes both event queues until ctx is done, reconnecting with
// exponential backoff capped at 30s.  A message that cannot be recorded is
// rejected without requeue so it cannot wedge the queue.
func (a *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		conn, err := amqp.Dial(a.url)
		if err != nil {
			a.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("dial broker failed")
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = a.consume(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		a.logger.Warn().Err(err).Msg("consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func (a *AuditConsumer) consume(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("open channel: %w", err)
	}
	defer func() { _ = ch.Close() }()
	if err := ch.Qos(50, 0, false); err != nil {
		a.logger.Warn().Err(err).Msg("set QoS failed")
	}

	type delivery struct {
		queue string
		d     amqp.Delivery
	}
	merged := make(chan delivery)
	done := make(chan struct{})
	defer close(done)
	for _, q := range []string{BookingConfirmedQueue, HoldReleasedQueue} {
		if _, err := ch.QueueDeclare(q, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare %s: %w", q, err)
		}
		msgs, err := ch.Consume(q, "", false, false, false, false, nil)
		if err != nil {
			return fmt.Errorf("consume %s: %w", q, err)
		}
		go func(q string, msgs <-chan amqp.Delivery) {
			for d := range msgs {
				select {
				case merged <- delivery{q, d}:
				case <-done:
					return
				}
			}
		}(q, msgs)
	}

	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-closed:
			if err == nil {
				return errors.New("channel closed")
			}
			return err
		case m := <-merged:
			if err := a.record(m.queue, m.d.Body); err != nil {
				a.logger.Error().Err(err).Str("queue", m.queue).Msg("record event failed")
				_ = m.d.Nack(false, false)
				continue
			}
			_ = m.d.Ack(false)
		}
	}
}

func (a *AuditConsumer) record(queue string, body []byte) error {
	line, err := FormatAuditLine(queue, body)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(a.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	f, err := os.OpenFile(a.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}

// FormatAuditLine renders an event body from queue as a single log line.
func FormatAuditLine(queue string, body []byte) (string, error) {
	switch queue {
	case BookingConfirmedQueue:
		var ev BookingConfirmedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		seats := make([]string, len(ev.Seats))
		for i, s := range ev.Seats {
			seats[i] = fmt.Sprintf("%d/%d", s.TripID, s.SeatID)
			if s.Label != "" {
				seats[i] += "(" + s.Label + ")"
			}
		}
		return fmt.Sprintf("[%s] Booking confirmed | booking_id=%d | customer=%q | session=%s | seats=[%s]\n",
			ev.ConfirmedAt.UTC().Format(time.RFC3339), ev.BookingID, ev.CustomerID, ev.SessionToken, strings.Join(seats, ",")), nil
	case HoldReleasedQueue:
		var ev HoldReleasedEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return "", fmt.Errorf("unmarshal: %w", err)
		}
		trips := make([]string, len(ev.TripIDs))
		for i, id := range ev.TripIDs {
			trips[i] = fmt.Sprint(id)
		}
		return fmt.Sprintf("[%s] Hold released | customer=%q | session=%s | trips=[%s] | released=%d\n",
			ev.ReleasedAt.UTC().Format(time.RFC3339), ev.CustomerID, ev.SessionToken, strings.Join(trips, ","), ev.Released), nil
	}
	return "", fmt.Errorf("unknown queue %q", queue)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
