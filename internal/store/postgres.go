// Package store provides PostgreSQL access for auctions, bids and users.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
)

// Postgres wraps the database connection pool.
type Postgres struct {
	db *sql.DB
}

// Connect opens a connection pool and verifies it.
func Connect(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &Postgres{db: db}, nil
}

// InitSchema creates the tables if they do not exist.
func (p *Postgres) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id BIGSERIAL PRIMARY KEY,
		username VARCHAR(255) NOT NULL,
		email VARCHAR(255) UNIQUE NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS auctions (
		id BIGSERIAL PRIMARY KEY,
		car_id VARCHAR(255) NOT NULL,
		start_time TIMESTAMPTZ NOT NULL,
		end_time TIMESTAMPTZ NOT NULL,
		starting_bid BIGINT NOT NULL,
		current_highest_bid BIGINT,
		status VARCHAR(50) NOT NULL DEFAULT 'active',
		winner_id BIGINT REFERENCES users(id),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE TABLE IF NOT EXISTS bids (
		id BIGSERIAL PRIMARY KEY,
		auction_id BIGINT NOT NULL REFERENCES auctions(id) ON DELETE CASCADE,
		user_id BIGINT NOT NULL REFERENCES users(id),
		amount BIGINT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	);

	CREATE INDEX IF NOT EXISTS idx_auctions_status_end_time ON auctions(status, end_time);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_id ON bids(auction_id);
	CREATE INDEX IF NOT EXISTS idx_bids_auction_amount ON bids(auction_id, amount DESC);
	CREATE INDEX IF NOT EXISTS idx_bids_user_id ON bids(user_id);
	`

	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

const auctionColumns = `id, car_id, start_time, end_time, starting_bid, current_highest_bid, status, winner_id, created_at, updated_at`

func scanAuction(row interface{ Scan(dest ...any) error }) (*domain.Auction, error) {
	a := &domain.Auction{}
	err := row.Scan(
		&a.ID, &a.CarID, &a.StartTime, &a.EndTime, &a.StartingBid,
		&a.CurrentHighestBid, &a.Status, &a.WinnerID, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Transact runs fn inside a read-committed transaction, committing when fn
// returns nil and rolling back otherwise. Read-committed is enough: the
// row lock taken inside fn is the serialization mechanism.
func (p *Postgres) Transact(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&pgTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// CreateAuction inserts a new active auction.
func (p *Postgres) CreateAuction(ctx context.Context, carID string, start, end time.Time, startingBid int64) (*domain.Auction, error) {
	query := `
		INSERT INTO auctions (car_id, start_time, end_time, starting_bid, status)
		VALUES ($1, $2, $3, $4, 'active')
		RETURNING ` + auctionColumns

	a, err := scanAuction(p.db.QueryRowContext(ctx, query, carID, start, end, startingBid))
	if err != nil {
		return nil, fmt.Errorf("failed to create auction: %w", err)
	}
	return a, nil
}

// GetAuction returns the auction or nil when it does not exist.
func (p *Postgres) GetAuction(ctx context.Context, id int64) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = $1`

	a, err := scanAuction(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get auction: %w", err)
	}
	return a, nil
}

// ListAuctions returns all auctions, newest first.
func (p *Postgres) ListAuctions(ctx context.Context) ([]*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions ORDER BY created_at DESC`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan auction: %w", err)
		}
		auctions = append(auctions, a)
	}
	return auctions, rows.Err()
}

// ExpiredAuctions returns ids of active auctions whose end time has
// passed, soonest-expired first, up to limit.
func (p *Postgres) ExpiredAuctions(ctx context.Context, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM auctions
		WHERE status = 'active' AND end_time <= $1
		ORDER BY end_time ASC
		LIMIT $2`

	return p.queryIDs(ctx, query, now, limit)
}

// StaleClosing returns ids of auctions stuck in closing since before
// cutoff. These had a successful claim whose close step failed.
func (p *Postgres) StaleClosing(ctx context.Context, cutoff time.Time, limit int) ([]int64, error) {
	query := `
		SELECT id FROM auctions
		WHERE status = 'closing' AND updated_at <= $1
		ORDER BY updated_at ASC
		LIMIT $2`

	return p.queryIDs(ctx, query, cutoff, limit)
}

func (p *Postgres) queryIDs(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query auction ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan auction id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ClaimAuction flips the auction from active to closing. It reports false
// when another instance already claimed it: the conditional update is what
// guarantees at most one closer per auction.
func (p *Postgres) ClaimAuction(ctx context.Context, id int64) (bool, error) {
	query := `UPDATE auctions SET status = 'closing', updated_at = now() WHERE id = $1 AND status = 'active'`

	res, err := p.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim auction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// ReclaimClosing picks up an auction stuck in closing since before cutoff.
// The conditional update keeps the at-most-one-closer property for the
// recovery path too.
func (p *Postgres) ReclaimClosing(ctx context.Context, id int64, cutoff time.Time) (bool, error) {
	query := `UPDATE auctions SET updated_at = now() WHERE id = $1 AND status = 'closing' AND updated_at <= $2`

	res, err := p.db.ExecContext(ctx, query, id, cutoff)
	if err != nil {
		return false, fmt.Errorf("failed to reclaim auction: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

// TopBid returns the highest bid for the auction, or nil when none exist.
func (p *Postgres) TopBid(ctx context.Context, auctionID int64) (*domain.Bid, error) {
	query := `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids WHERE auction_id = $1
		ORDER BY amount DESC
		LIMIT 1`

	b := &domain.Bid{}
	err := p.db.QueryRowContext(ctx, query, auctionID).
		Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get top bid: %w", err)
	}
	return b, nil
}

// CompleteAuction moves the auction to completed, recording the winner and
// final amount. A nil amount leaves current_highest_bid untouched.
func (p *Postgres) CompleteAuction(ctx context.Context, id int64, winnerID, amount *int64) (*domain.Auction, error) {
	query := `
		UPDATE auctions
		SET status = 'completed',
		    winner_id = $2,
		    current_highest_bid = COALESCE($3, current_highest_bid),
		    updated_at = now()
		WHERE id = $1
		RETURNING ` + auctionColumns

	a, err := scanAuction(p.db.QueryRowContext(ctx, query, id, winnerID, amount))
	if err != nil {
		return nil, fmt.Errorf("failed to complete auction: %w", err)
	}
	return a, nil
}

// CreateUser inserts a new user.
func (p *Postgres) CreateUser(ctx context.Context, username, email string) (*domain.User, error) {
	query := `
		INSERT INTO users (username, email)
		VALUES ($1, $2)
		RETURNING id, username, email, created_at`

	u := &domain.User{}
	err := p.db.QueryRowContext(ctx, query, username, email).
		Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users.
func (p *Postgres) ListUsers(ctx context.Context) ([]*domain.User, error) {
	query := `SELECT id, username, email, created_at FROM users ORDER BY id`

	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*domain.User
	for rows.Next() {
		u := &domain.User{}
		if err := rows.Scan(&u.ID, &u.Username, &u.Email, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// BidsByAuction returns the auction's bids, newest first.
func (p *Postgres) BidsByAuction(ctx context.Context, auctionID int64) ([]*domain.Bid, error) {
	return p.queryBids(ctx, `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids WHERE auction_id = $1
		ORDER BY created_at DESC`, auctionID)
}

// BidsByUser returns the user's bids, newest first.
func (p *Postgres) BidsByUser(ctx context.Context, userID int64) ([]*domain.Bid, error) {
	return p.queryBids(ctx, `
		SELECT id, auction_id, user_id, amount, created_at
		FROM bids WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
}

func (p *Postgres) queryBids(ctx context.Context, query string, arg any) ([]*domain.Bid, error) {
	rows, err := p.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query bids: %w", err)
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		b := &domain.Bid{}
		if err := rows.Scan(&b.ID, &b.AuctionID, &b.UserID, &b.Amount, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bid: %w", err)
		}
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// Close closes the connection pool.
func (p *Postgres) Close() error {
	return p.db.Close()
}
