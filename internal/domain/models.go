package domain

import "time"

// Auction statuses. Transitions only move forward:
// active -> closing -> completed.
const (
	AuctionStatusActive    = "active"
	AuctionStatusClosing   = "closing"
	AuctionStatusCompleted = "completed"
)

// Auction represents one car auction. Amounts are integral currency units.
type Auction struct {
	ID                int64     `json:"id"`
	CarID             string    `json:"carId"`
	StartTime         time.Time `json:"startTime"`
	EndTime           time.Time `json:"endTime"`
	StartingBid       int64     `json:"startingBid"`
	CurrentHighestBid *int64    `json:"currentHighestBid"`
	Status            string    `json:"status"`
	WinnerID          *int64    `json:"winnerId"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// MinNextBid returns the lowest amount the next bid may carry: one unit
// above the current highest bid, or above the starting bid before the
// first bid lands.
func (a *Auction) MinNextBid() int64 {
	if a.CurrentHighestBid != nil {
		return *a.CurrentHighestBid + 1
	}
	return a.StartingBid + 1
}

// Bid is an accepted bid. Bids are immutable once written.
type Bid struct {
	ID        int64     `json:"id"`
	AuctionID int64     `json:"auctionId"`
	UserID    int64     `json:"userId"`
	Amount    int64     `json:"amount"`
	CreatedAt time.Time `json:"createdAt"`
}

// User is a registered bidder.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// BidMessage is the envelope a bid submission travels in between enqueue
// and its terminal outcome (committed, requeued copy, or dead-lettered).
// It is never persisted; the retry count rides in the x-retry message
// header, not in the body, and every requeue is a fresh copy.
type BidMessage struct {
	AuctionID int64 `json:"auctionId"`
	UserID    int64 `json:"userId"`
	Amount    int64 `json:"amount"`
	TS        int64 `json:"ts"`
}
