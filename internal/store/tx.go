package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
)

// Tx is the transaction-scoped store surface handed to Transact callbacks.
// LockAuction blocks concurrent callers on the same auction row until the
// holder commits or rolls back, which serializes bids per auction without
// serializing across auctions.
type Tx interface {
	LockAuction(ctx context.Context, id int64) (*domain.Auction, error)
	InsertBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error)
	SetHighestBid(ctx context.Context, auctionID, amount int64) error
}

type pgTx struct {
	tx *sql.Tx
}

func (t *pgTx) LockAuction(ctx context.Context, id int64) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1 FOR UPDATE`

	a, err := scanAuction(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock auction: %w", err)
	}
	return a, nil
}

func (t *pgTx) InsertBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error) {
	query := `
		INSERT INTO bids (auction_id, user_id, amount)
		VALUES ($1, $2, $3)
		RETURNING id, auction_id, user_id, amount, created_at`

	b := &domain.Bid{}
	err := t.tx.QueryRowContext(ctx, query, auctionID, userID, amount).
		Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert bid: %w", err)
	}
	return b, nil
}

func (t *pgTx) SetHighestBid(ctx context.Context, auctionID, amount int64) error {
	query := `UPDATE auctions SET current_highest_bid = $2, updated_at = now() WHERE id = $1`

	if _, err := t.tx.ExecContext(ctx, query, auctionID, amount); err != nil {
		return fmt.Errorf("failed to update highest bid: %w", err)
	}
	return nil
}
