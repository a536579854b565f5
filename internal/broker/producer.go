package broker

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
)

// Publisher is the broker surface the producer and consumer publish on.
type Publisher interface {
	Publish(ctx context.Context, exchange, key string, body any, headers amqp.Table) error
}

// Producer enqueues raw bid requests onto the intake route. Messages go
// out without retry metadata; the consumer owns the retry counter.
type Producer struct {
	pub Publisher
}

// NewProducer creates a bid producer.
func NewProducer(pub Publisher) *Producer {
	return &Producer{pub: pub}
}

// PublishBid enqueues one bid request for asynchronous processing.
func (p *Producer) PublishBid(ctx context.Context, auctionID, userID, amount int64) error {
	msg := domain.BidMessage{
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		TS:        time.Now().UnixMilli(),
	}
	return p.pub.Publish(ctx, ExchangeBids, KeyBidPlace, msg, nil)
}
