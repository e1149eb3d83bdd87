package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher sends persistent JSON messages to durable queues on the default
// exchange.  It dials lazily and redials after a failed publish.  Safe for
// concurrent use.
type Publisher struct {
	url    string
	logger zerolog.Logger

	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]bool
}

// NewPublisher returns a Publisher for the broker at url.  No connection is
// made until the first publish.
func NewPublisher(url string) *Publisher {
	return &Publisher{
		url:    url,
		logger: log.With().Str("component", "publisher").Logger(),
	}
}

// PublishBookingConfirmed publishes ev to BookingConfirmedQueue.
func (p *Publisher) PublishBookingConfirmed(ctx context.Context, ev BookingConfirmedEvent) error {
	return p.publish(ctx, BookingConfirmedQueue, ev)
}

// PublishHoldReleased publishes ev to HoldReleasedQueue.
func (p *Publisher) PublishHoldReleased(ctx context.Context, ev HoldReleasedEvent) error {
	return p.publish(ctx, HoldReleasedQueue, ev)
}

func (p *Publisher) publish(ctx context.Context, queue string, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", queue, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	ch, err := p.channel(queue)
	if err != nil {
		p.logger.Warn().Err(err).Str("queue", queue).Msg("broker unavailable")
		return err
	}
	err = ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	})
	if err != nil {
		p.logger.Warn().Err(err).Str("queue", queue).Msg("publish failed")
		p.reset()
		return fmt.Errorf("publish %s: %w", queue, err)
	}
	return nil
}

// channel returns an open channel on which queue is declared.  Callers hold mu.
func (p *Publisher) channel(queue string) (*amqp.Channel, error) {
	if p.ch == nil || p.ch.IsClosed() {
		p.reset()
		conn, err := amqp.Dial(p.url)
		if err != nil {
			return nil, fmt.Errorf("dial broker: %w", err)
		}
		ch, err := conn.Channel()
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("open channel: %w", err)
		}
		p.conn, p.ch, p.declared = conn, ch, make(map[string]bool)
	}
	if !p.declared[queue] {
		if _, err := p.ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			p.reset()
			return nil, fmt.Errorf("declare %s: %w", queue, err)
		}
		p.declared[queue] = true
	}
	return p.ch, nil
}

func (p *Publisher) reset() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
	p.conn, p.ch, p.declared = nil, nil, nil
}

// Close closes the broker connection, if any.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reset()
	return nil
}

// Nop discards events.  It is used when events are disabled.
type Nop struct{}

func (Nop) PublishBookingConfirmed(context.Context, BookingConfirmedEvent) error { return nil }
func (Nop) PublishHoldReleased(context.Context, HoldReleasedEvent) error         { return nil }
