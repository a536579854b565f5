// Package broker owns the RabbitMQ topology and the bid delivery
// pipeline: producer, processing consumer and dead-letter observer.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

// Exchanges, queues and routing keys. The processing queue dead-letters
// into bids.dlq through bids.dlx.
const (
	ExchangeBids   = "bids"     // direct, bid processing
	ExchangeDLX    = "bids.dlx" // direct, dead letters
	ExchangeNotify = "notify"   // fanout, notifications
	ExchangeAudit  = "audit"    // fanout, audit trail

	QueueProcess = "bids.process"
	QueueDLQ     = "bids.dlq"
	QueueNotify  = "notify.user"
	QueueAudit   = "audit.log"

	KeyBidPlace = "bid.place"
	KeyBidDead  = "bid.dead"

	// HeaderRetry carries the application-level retry count. A requeued
	// message is always a fresh copy with this header bumped.
	HeaderRetry = "x-retry"
)

// Broker wraps the long-lived connection and channel shared by all
// workers in the process.
type Broker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// Connect dials RabbitMQ, sets the per-consumer prefetch and declares the
// full topology.
func Connect(url string, prefetch int) (*Broker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to set prefetch: %w", err)
	}

	if err := declareTopology(ch); err != nil {
		conn.Close()
		return nil, err
	}

	log.Info().Int("prefetch", prefetch).Msg("RabbitMQ topology ready")
	return &Broker{conn: conn, ch: ch}, nil
}

func declareTopology(ch *amqp.Channel) error {
	exchanges := []struct {
		name, kind string
	}{
		{ExchangeBids, "direct"},
		{ExchangeDLX, "direct"},
		{ExchangeNotify, "fanout"},
		{ExchangeAudit, "fanout"},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare exchange %s: %w", ex.name, err)
		}
	}

	// DLQ first so the processing queue can point at it
	if _, err := ch.QueueDeclare(QueueDLQ, true, false, false, false, nil); err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueDLQ, err)
	}
	if err := ch.QueueBind(QueueDLQ, KeyBidDead, ExchangeDLX, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueDLQ, err)
	}

	_, err := ch.QueueDeclare(QueueProcess, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    ExchangeDLX,
		"x-dead-letter-routing-key": KeyBidDead,
	})
	if err != nil {
		return fmt.Errorf("failed to declare queue %s: %w", QueueProcess, err)
	}
	if err := ch.QueueBind(QueueProcess, KeyBidPlace, ExchangeBids, false, nil); err != nil {
		return fmt.Errorf("failed to bind queue %s: %w", QueueProcess, err)
	}

	// notify/audit fanout targets
	for _, q := range []struct {
		queue, exchange string
	}{
		{QueueNotify, ExchangeNotify},
		{QueueAudit, ExchangeAudit},
	} {
		if _, err := ch.QueueDeclare(q.queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("failed to declare queue %s: %w", q.queue, err)
		}
		if err := ch.QueueBind(q.queue, "", q.exchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue %s: %w", q.queue, err)
		}
	}

	return nil
}

// Publish marshals body and publishes it persistently.
func (b *Broker) Publish(ctx context.Context, exchange, key string, body any, headers amqp.Table) error {
	data, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = b.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    uuid.NewString(),
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         data,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", exchange, err)
	}
	return nil
}

// Consume opens a manual-ack delivery stream for the queue.
func (b *Broker) Consume(queue string) (<-chan amqp.Delivery, error) {
	deliveries, err := b.ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to consume %s: %w", queue, err)
	}
	return deliveries, nil
}

// Close shuts the channel and connection down.
func (b *Broker) Close() error {
	if err := b.ch.Close(); err != nil {
		log.Warn().Err(err).Msg("failed to close channel")
	}
	return b.conn.Close()
}
