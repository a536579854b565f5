// Package cache wraps the shared Redis fabric: the per-auction price key
// and the per-auction pub/sub channels every server instance listens on.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
)

// Client wraps one Redis connection pool used for the price cache, for
// publishing and for the process-wide subscriber.
type Client struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	msgs   chan Message
}

// Message is one pub/sub message received from the fabric.
type Message struct {
	Channel string
	Payload string
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:  rdb,
		msgs: make(chan Message, 256),
	}, nil
}

// Key is the cache key holding an auction's current highest amount.
func Key(auctionID int64) string {
	return fmt.Sprintf("auction:%d:currentHighestBid", auctionID)
}

// Channel is the pub/sub channel carrying an auction's live events.
func Channel(auctionID int64) string {
	return fmt.Sprintf("auction:%d:updates", auctionID)
}

// AuctionIDFromChannel parses the auction id back out of a channel name.
func AuctionIDFromChannel(channel string) (int64, bool) {
	rest, ok := strings.CutPrefix(channel, "auction:")
	if !ok {
		return 0, false
	}
	idStr, ok := strings.CutSuffix(rest, ":updates")
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// GetCurrentHighest reads the cached price. The second return value is
// false on a cache miss.
func (c *Client) GetCurrentHighest(ctx context.Context, auctionID int64) (int64, bool, error) {
	val, err := c.rdb.Get(ctx, Key(auctionID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read price cache: %w", err)
	}
	amount, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt price cache entry %q: %w", val, err)
	}
	return amount, true, nil
}

// SetCurrentHighest writes the committed price for low-latency reads.
func (c *Client) SetCurrentHighest(ctx context.Context, auctionID, amount int64) error {
	if err := c.rdb.Set(ctx, Key(auctionID), strconv.FormatInt(amount, 10), 0).Err(); err != nil {
		return fmt.Errorf("failed to write price cache: %w", err)
	}
	return nil
}

// PublishBidUpdate publishes a bidUpdate event on the auction's channel.
func (c *Client) PublishBidUpdate(ctx context.Context, evt domain.BidUpdateEvent) error {
	return c.publish(ctx, evt.AuctionID, evt)
}

// PublishAuctionEnd publishes an auctionEnd event on the auction's channel.
func (c *Client) PublishAuctionEnd(ctx context.Context, evt domain.AuctionEndEvent) error {
	return c.publish(ctx, evt.AuctionID, evt)
}

func (c *Client) publish(ctx context.Context, auctionID int64, evt any) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := c.rdb.Publish(ctx, Channel(auctionID), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// StartSubscriber opens the process-wide subscription and starts the loop
// forwarding fabric messages into Messages. Channels are added later via
// Subscribe. The loop stops when ctx is cancelled.
func (c *Client) StartSubscriber(ctx context.Context) {
	c.pubsub = c.rdb.Subscribe(ctx)

	go func() {
		defer close(c.msgs)
		ch := c.pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				select {
				case c.msgs <- Message{Channel: msg.Channel, Payload: msg.Payload}:
				default:
					log.Warn().Str("channel", msg.Channel).Msg("fabric message buffer full, dropping")
				}
			}
		}
	}()
}

// Subscribe adds an auction's channel to the process-wide subscription.
func (c *Client) Subscribe(ctx context.Context, auctionID int64) error {
	if c.pubsub == nil {
		return fmt.Errorf("subscriber not started")
	}
	if err := c.pubsub.Subscribe(ctx, Channel(auctionID)); err != nil {
		return fmt.Errorf("failed to subscribe to auction channel: %w", err)
	}
	return nil
}

// Messages returns the stream of fabric messages for all subscribed
// channels. The channel closes on shutdown.
func (c *Client) Messages() <-chan Message {
	return c.msgs
}

// Close tears down the subscription and the connection pool.
func (c *Client) Close() error {
	if c.pubsub != nil {
		_ = c.pubsub.Close()
	}
	return c.rdb.Close()
}
