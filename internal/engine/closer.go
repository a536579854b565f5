package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
)

// CloserStore is the store surface the lifecycle manager needs.
type CloserStore interface {
	ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]int64, error)
	StaleClosing(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	ClaimAuction(ctx context.Context, id int64) (bool, error)
	ReclaimClosing(ctx context.Context, id int64, cutoff time.Time) (bool, error)
	TopBid(ctx context.Context, auctionID int64) (*domain.Bid, error)
	CompleteAuction(ctx context.Context, id int64, winnerID, amount *int64) (*domain.Auction, error)
	GetAuction(ctx context.Context, id int64) (*domain.Auction, error)
}

// Closer drives the auction lifecycle: active -> closing -> completed.
// Multiple instances may tick concurrently; the conditional claim update
// makes sure at most one of them closes a given auction.
type Closer struct {
	store      CloserStore
	fabric     Fabric
	metrics    *metrics.Metrics
	interval   time.Duration
	batch      int
	staleAfter time.Duration
	now        func() time.Time
}

// NewCloser creates a lifecycle manager. metrics may be nil.
func NewCloser(s CloserStore, f Fabric, m *metrics.Metrics, interval time.Duration, batch int, staleAfter time.Duration) *Closer {
	return &Closer{
		store:      s,
		fabric:     f,
		metrics:    m,
		interval:   interval,
		batch:      batch,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Run ticks until ctx is cancelled.
func (c *Closer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", c.interval).Int("batch", c.batch).Msg("auction closer started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("auction closer stopped")
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// Tick closes one batch of expired auctions and recovers auctions stuck
// in closing. Per-auction failures are logged and do not abort the batch;
// the next tick retries naturally.
func (c *Closer) Tick(ctx context.Context) {
	now := c.now()

	ids, err := c.store.ExpiredAuctions(ctx, now, c.batch)
	if err != nil {
		log.Error().Err(err).Msg("failed to list expired auctions")
	}
	for _, id := range ids {
		claimed, err := c.store.ClaimAuction(ctx, id)
		if err != nil {
			log.Warn().Err(err).Int64("auctionId", id).Msg("failed to claim auction")
			continue
		}
		if !claimed {
			// another instance got there first
			continue
		}
		if _, err := c.complete(ctx, id); err != nil {
			log.Warn().Err(err).Int64("auctionId", id).Msg("failed to close auction")
		}
	}

	// Recovery: a claim that succeeded but whose close step failed leaves
	// the auction in closing with no active-only query ever seeing it
	// again. Re-claim anything stuck there past the staleness cutoff.
	cutoff := now.Add(-c.staleAfter)
	stale, err := c.store.StaleClosing(ctx, cutoff, c.batch)
	if err != nil {
		log.Error().Err(err).Msg("failed to list stale closing auctions")
	}
	for _, id := range stale {
		claimed, err := c.store.ReclaimClosing(ctx, id, cutoff)
		if err != nil {
			log.Warn().Err(err).Int64("auctionId", id).Msg("failed to reclaim auction")
			continue
		}
		if !claimed {
			continue
		}
		if _, err := c.complete(ctx, id); err != nil {
			log.Warn().Err(err).Int64("auctionId", id).Msg("failed to close reclaimed auction")
		}
	}
}

// CloseOne is the administrative path: it closes a single auction outside
// the scheduled batch, going through the same claim so a racing scheduler
// instance still results in exactly one completed transition.
func (c *Closer) CloseOne(ctx context.Context, id int64) (*domain.Auction, error) {
	claimed, err := c.store.ClaimAuction(ctx, id)
	if err != nil {
		return nil, err
	}
	if !claimed {
		auction, err := c.store.GetAuction(ctx, id)
		if err != nil {
			return nil, err
		}
		if auction == nil {
			return nil, domain.ErrNotFound
		}
		// already completed, or mid-close elsewhere
		return auction, nil
	}
	return c.complete(ctx, id)
}

func (c *Closer) complete(ctx context.Context, id int64) (*domain.Auction, error) {
	top, err := c.store.TopBid(ctx, id)
	if err != nil {
		return nil, err
	}

	var winnerID, amount *int64
	if top != nil {
		winnerID = &top.UserID
		amount = &top.Amount
	}

	auction, err := c.store.CompleteAuction(ctx, id, winnerID, amount)
	if err != nil {
		return nil, err
	}

	if c.metrics != nil {
		c.metrics.AuctionsClosed.Inc()
	}
	log.Info().
		Int64("auctionId", auction.ID).
		Interface("winnerId", auction.WinnerID).
		Interface("amount", auction.CurrentHighestBid).
		Msg("auction closed")

	evt := domain.AuctionEndEvent{
		Type:      domain.EventAuctionEnd,
		AuctionID: auction.ID,
		WinnerID:  auction.WinnerID,
		Amount:    auction.CurrentHighestBid,
		Timestamp: c.now().UnixMilli(),
	}
	if err := c.fabric.PublishAuctionEnd(ctx, evt); err != nil {
		log.Warn().Err(err).Int64("auctionId", auction.ID).Msg("auctionEnd publish failed")
	}

	return auction, nil
}
