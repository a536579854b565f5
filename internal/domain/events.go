package domain

// Event types carried on the per-auction pub/sub channel.
const (
	EventBidUpdate  = "bidUpdate"
	EventAuctionEnd = "auctionEnd"
)

// EventHead is decoded first to dispatch on the event type.
type EventHead struct {
	Type string `json:"type"`
}

// BidUpdateEvent announces a committed price change to everyone watching
// the auction, regardless of which process accepted the bid.
type BidUpdateEvent struct {
	Type      string `json:"type"`
	AuctionID int64  `json:"auctionId"`
	Amount    int64  `json:"amount"`
	UserID    int64  `json:"userId"`
	Timestamp int64  `json:"timestamp"`
}

// AuctionEndEvent announces a completed auction. WinnerID and Amount are
// null when the auction closed without a single bid.
type AuctionEndEvent struct {
	Type      string `json:"type"`
	AuctionID int64  `json:"auctionId"`
	WinnerID  *int64 `json:"winnerId"`
	Amount    *int64 `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}
