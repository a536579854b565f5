package broker

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
)

// MaxRetries bounds application-level retries for transient failures.
const MaxRetries = 3

// BidPlacer is the slice of the bid transaction engine the consumer
// invokes for each message.
type BidPlacer interface {
	PlaceBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error)
}

type auditEvent struct {
	Type        string `json:"type"`
	AuctionID   int64  `json:"auctionId"`
	UserID      int64  `json:"userId"`
	Amount      int64  `json:"amount"`
	TS          int64  `json:"ts"`
	Reason      string `json:"reason,omitempty"`
	ProcessedAt int64  `json:"processedAt"`
}

// Consumer drains the processing queue, runs the bid transaction and
// resolves every delivery to exactly one terminal outcome: ack, requeued
// copy with a bumped retry header, or reject-without-requeue into the DLQ.
type Consumer struct {
	pub     Publisher
	engine  BidPlacer
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewConsumer creates a bid consumer. metrics may be nil.
func NewConsumer(pub Publisher, engine BidPlacer, m *metrics.Metrics) *Consumer {
	return &Consumer{pub: pub, engine: engine, metrics: m, now: time.Now}
}

// Run processes deliveries until ctx is cancelled or the stream closes.
// In-flight handling completes before Run returns.
func (c *Consumer) Run(ctx context.Context, deliveries <-chan amqp.Delivery) {
	log.Info().Str("queue", QueueProcess).Msg("bid consumer listening")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			c.Handle(ctx, d)
		}
	}
}

// Handle resolves one delivery.
func (c *Consumer) Handle(ctx context.Context, d amqp.Delivery) {
	var msg domain.BidMessage
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		// malformed payloads cannot succeed on retry
		log.Error().Err(err).Str("body", string(d.Body)).Msg("unparseable bid message")
		c.deadLetter(d)
		return
	}

	retry := retryCount(d.Headers)
	_, err := c.engine.PlaceBid(ctx, msg.AuctionID, msg.UserID, msg.Amount)

	switch {
	case err == nil:
		c.publishOutcomes(ctx, msg)
		c.ack(d)

	case domain.IsRejection(err):
		// deterministic rejection: retrying cannot change the outcome
		log.Info().
			Int64("auctionId", msg.AuctionID).
			Int64("userId", msg.UserID).
			Str("reason", err.Error()).
			Msg("bid rejected")
		if perr := c.pub.Publish(ctx, ExchangeAudit, "", auditEvent{
			Type:        "bid.rejected",
			AuctionID:   msg.AuctionID,
			UserID:      msg.UserID,
			Amount:      msg.Amount,
			TS:          msg.TS,
			Reason:      err.Error(),
			ProcessedAt: c.now().UnixMilli(),
		}, nil); perr != nil {
			log.Warn().Err(perr).Msg("bid.rejected audit publish failed")
		}
		c.ack(d)

	case retry < MaxRetries:
		log.Warn().Err(err).
			Int64("auctionId", msg.AuctionID).
			Int("retry", retry).
			Msg("bid failed, requeueing")
		// fresh copy with the bumped counter, then ack the original so the
		// broker's own redelivery cannot race the application retry
		perr := c.pub.Publish(ctx, ExchangeBids, KeyBidPlace, msg, amqp.Table{
			HeaderRetry: int32(retry + 1),
		})
		if perr != nil {
			log.Error().Err(perr).Int64("auctionId", msg.AuctionID).Msg("requeue publish failed, dead-lettering")
			c.deadLetter(d)
			return
		}
		if c.metrics != nil {
			c.metrics.ConsumerRetries.Inc()
		}
		c.ack(d)

	default:
		log.Error().Err(err).
			Int64("auctionId", msg.AuctionID).
			Int("retry", retry).
			Msg("bid failed after max retries, dead-lettering")
		c.deadLetter(d)
	}
}

// RunDLQ observes the dead-letter queue purely for logging and alerting.
func (c *Consumer) RunDLQ(ctx context.Context, deliveries <-chan amqp.Delivery) {
	log.Info().Str("queue", QueueDLQ).Msg("dead-letter observer listening")
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			log.Error().
				Int("retry", retryCount(d.Headers)).
				Str("payload", string(d.Body)).
				Msg("bid dead-lettered")
			c.ack(d)
		}
	}
}

func (c *Consumer) publishOutcomes(ctx context.Context, msg domain.BidMessage) {
	// notify and audit are independent fan-outs; one failing must not
	// stop the other
	notify := domain.BidUpdateEvent{
		Type:      domain.EventBidUpdate,
		AuctionID: msg.AuctionID,
		Amount:    msg.Amount,
		UserID:    msg.UserID,
		Timestamp: c.now().UnixMilli(),
	}
	if err := c.pub.Publish(ctx, ExchangeNotify, "", notify, nil); err != nil {
		log.Warn().Err(err).Int64("auctionId", msg.AuctionID).Msg("notify publish failed")
	}

	audit := auditEvent{
		Type:        "bid.processed",
		AuctionID:   msg.AuctionID,
		UserID:      msg.UserID,
		Amount:      msg.Amount,
		TS:          msg.TS,
		ProcessedAt: c.now().UnixMilli(),
	}
	if err := c.pub.Publish(ctx, ExchangeAudit, "", audit, nil); err != nil {
		log.Warn().Err(err).Int64("auctionId", msg.AuctionID).Msg("audit publish failed")
	}
}

func (c *Consumer) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		log.Error().Err(err).Msg("ack failed")
	}
}

func (c *Consumer) deadLetter(d amqp.Delivery) {
	if err := d.Reject(false); err != nil {
		log.Error().Err(err).Msg("reject failed")
		return
	}
	if c.metrics != nil {
		c.metrics.DeadLettered.Inc()
	}
}

func retryCount(headers amqp.Table) int {
	v, ok := headers[HeaderRetry]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
