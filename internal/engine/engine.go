// Package engine holds the bid transaction engine and the auction
// lifecycle manager.
package engine

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
	"github.com/Taha-Seddik/car-auction-backend/internal/store"
)

// Store is the slice of the persistent store the engine needs.
type Store interface {
	Transact(ctx context.Context, fn func(tx store.Tx) error) error
	GetAuction(ctx context.Context, id int64) (*domain.Auction, error)
}

// Fabric is the shared cache / pub-sub surface committed changes are
// announced on. Everything here is best effort: the committed bid is
// authoritative, the fabric is a convenience path for live reads.
type Fabric interface {
	GetCurrentHighest(ctx context.Context, auctionID int64) (int64, bool, error)
	SetCurrentHighest(ctx context.Context, auctionID, amount int64) error
	PublishBidUpdate(ctx context.Context, evt domain.BidUpdateEvent) error
	PublishAuctionEnd(ctx context.Context, evt domain.AuctionEndEvent) error
}

// Engine validates and commits single bids.
type Engine struct {
	store   Store
	fabric  Fabric
	metrics *metrics.Metrics
	now     func() time.Time
}

// New creates a bid transaction engine. metrics may be nil.
func New(s Store, f Fabric, m *metrics.Metrics) *Engine {
	return &Engine{store: s, fabric: f, metrics: m, now: time.Now}
}

// PlaceBid validates and commits one bid against one auction. The auction
// row lock serializes concurrent bidders on the same auction; validation
// order is exists, active, not ended, amount at least the minimum.
// Rejections implement domain.Rejection and are never worth retrying.
func (e *Engine) PlaceBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error) {
	var bid *domain.Bid

	err := e.store.Transact(ctx, func(tx store.Tx) error {
		auction, err := tx.LockAuction(ctx, auctionID)
		if err != nil {
			return err
		}
		if auction == nil {
			return domain.ErrNotFound
		}
		if auction.Status != domain.AuctionStatusActive {
			return domain.ErrNotActive
		}
		if !auction.EndTime.After(e.now()) {
			return domain.ErrAuctionEnded
		}
		if min := auction.MinNextBid(); amount < min {
			return &domain.BidTooLowError{Min: min}
		}

		bid, err = tx.InsertBid(ctx, auctionID, userID, amount)
		if err != nil {
			return err
		}
		return tx.SetHighestBid(ctx, auctionID, amount)
	})
	if err != nil {
		if e.metrics != nil && domain.IsRejection(err) {
			e.metrics.BidsRejected.WithLabelValues(rejectionReason(err)).Inc()
		}
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.BidsAccepted.Inc()
	}
	log.Info().
		Int64("auctionId", auctionID).
		Int64("userId", userID).
		Int64("amount", amount).
		Msg("bid committed")

	// Post-commit, best effort: a cache or publish failure never rolls
	// back the committed bid.
	if err := e.fabric.SetCurrentHighest(ctx, auctionID, amount); err != nil {
		log.Warn().Err(err).Int64("auctionId", auctionID).Msg("price cache update failed")
	}
	evt := domain.BidUpdateEvent{
		Type:      domain.EventBidUpdate,
		AuctionID: auctionID,
		Amount:    amount,
		UserID:    userID,
		Timestamp: e.now().UnixMilli(),
	}
	if err := e.fabric.PublishBidUpdate(ctx, evt); err != nil {
		log.Warn().Err(err).Int64("auctionId", auctionID).Msg("bidUpdate publish failed")
	}

	return bid, nil
}

// CurrentHighest returns the auction's current highest amount, reading the
// cache first and falling back to the store (starting bid before the first
// bid). Returns domain.ErrNotFound for unknown auctions.
func (e *Engine) CurrentHighest(ctx context.Context, auctionID int64) (int64, error) {
	amount, ok, err := e.fabric.GetCurrentHighest(ctx, auctionID)
	if err != nil {
		log.Warn().Err(err).Int64("auctionId", auctionID).Msg("price cache read failed")
	} else if ok {
		return amount, nil
	}

	auction, err := e.store.GetAuction(ctx, auctionID)
	if err != nil {
		return 0, err
	}
	if auction == nil {
		return 0, domain.ErrNotFound
	}
	if auction.CurrentHighestBid != nil {
		return *auction.CurrentHighestBid, nil
	}
	return auction.StartingBid, nil
}

func rejectionReason(err error) string {
	switch {
	case err == domain.ErrNotFound:
		return "not_found"
	case err == domain.ErrNotActive:
		return "not_active"
	case err == domain.ErrAuctionEnded:
		return "ended"
	default:
		return "too_low"
	}
}
