package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taha-Seddik/car-auction-backend/internal/domain"
	"github.com/Taha-Seddik/car-auction-backend/internal/store"
)

// memStore emulates the row-locked transaction path: the store mutex is
// held for the whole transaction, so bids on the same store serialize the
// way FOR UPDATE serializes them per auction row.
type memStore struct {
	mu       sync.Mutex
	auctions map[int64]*domain.Auction
	bids     []domain.Bid
	nextBid  int64
}

func newMemStore(auctions ...*domain.Auction) *memStore {
	s := &memStore{auctions: make(map[int64]*domain.Auction)}
	for _, a := range auctions {
		s.auctions[a.ID] = a
	}
	return s
}

func (s *memStore) Transact(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if err := fn(tx); err != nil {
		return err
	}
	// commit staged writes
	if tx.bid != nil {
		s.bids = append(s.bids, *tx.bid)
	}
	if tx.highest != nil {
		s.auctions[tx.highestFor].CurrentHighestBid = tx.highest
	}
	return nil
}

func (s *memStore) GetAuction(ctx context.Context, id int64) (*domain.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

type memTx struct {
	s          *memStore
	bid        *domain.Bid
	highest    *int64
	highestFor int64
}

func (t *memTx) LockAuction(ctx context.Context, id int64) (*domain.Auction, error) {
	a, ok := t.s.auctions[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (t *memTx) InsertBid(ctx context.Context, auctionID, userID, amount int64) (*domain.Bid, error) {
	t.s.nextBid++
	t.bid = &domain.Bid{
		ID:        t.s.nextBid,
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		CreatedAt: time.Now(),
	}
	return t.bid, nil
}

func (t *memTx) SetHighestBid(ctx context.Context, auctionID, amount int64) error {
	a := amount
	t.highest = &a
	t.highestFor = auctionID
	return nil
}

type fakeFabric struct {
	mu sync.Mutex

	cached   map[int64]int64
	setCalls []int64
	updates  []domain.BidUpdateEvent
	ends     []domain.AuctionEndEvent

	setErr     error
	publishErr error
}

func newFakeFabric() *fakeFabric {
	return &fakeFabric{cached: make(map[int64]int64)}
}

func (f *fakeFabric) GetCurrentHighest(ctx context.Context, auctionID int64) (int64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.cached[auctionID]
	return v, ok, nil
}

func (f *fakeFabric) SetCurrentHighest(ctx context.Context, auctionID, amount int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.cached[auctionID] = amount
	f.setCalls = append(f.setCalls, amount)
	return nil
}

func (f *fakeFabric) PublishBidUpdate(ctx context.Context, evt domain.BidUpdateEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.updates = append(f.updates, evt)
	return nil
}

func (f *fakeFabric) PublishAuctionEnd(ctx context.Context, evt domain.AuctionEndEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.ends = append(f.ends, evt)
	return nil
}

func activeAuction(id, startingBid int64) *domain.Auction {
	return &domain.Auction{
		ID:          id,
		CarID:       "car-1",
		StartTime:   time.Now().Add(-time.Hour),
		EndTime:     time.Now().Add(time.Hour),
		StartingBid: startingBid,
		Status:      domain.AuctionStatusActive,
	}
}

func TestPlaceBidFirstBid(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	f := newFakeFabric()
	e := New(s, f, nil)

	bid, err := e.PlaceBid(context.Background(), 1, 7, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), bid.Amount)
	assert.Equal(t, int64(7), bid.UserID)

	require.NotNil(t, s.auctions[1].CurrentHighestBid)
	assert.Equal(t, int64(1001), *s.auctions[1].CurrentHighestBid)

	require.Len(t, f.updates, 1)
	assert.Equal(t, domain.EventBidUpdate, f.updates[0].Type)
	assert.Equal(t, int64(1001), f.updates[0].Amount)
}

func TestPlaceBidMinimumIncrement(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	f := newFakeFabric()
	e := New(s, f, nil)
	ctx := context.Background()

	_, err := e.PlaceBid(ctx, 1, 7, 1100)
	require.NoError(t, err)

	// below the new minimum of 1101
	_, err = e.PlaceBid(ctx, 1, 8, 1050)
	var tooLow *domain.BidTooLowError
	require.True(t, errors.As(err, &tooLow))
	assert.Equal(t, int64(1101), tooLow.Min)
	assert.True(t, domain.IsRejection(err))

	_, err = e.PlaceBid(ctx, 1, 8, 1101)
	require.NoError(t, err)
	_, err = e.PlaceBid(ctx, 1, 9, 1200)
	require.NoError(t, err)

	assert.Equal(t, int64(1200), *s.auctions[1].CurrentHighestBid)
}

func TestPlaceBidEqualToHighestRejected(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	e := New(s, newFakeFabric(), nil)
	ctx := context.Background()

	_, err := e.PlaceBid(ctx, 1, 7, 1100)
	require.NoError(t, err)

	_, err = e.PlaceBid(ctx, 1, 8, 1100)
	var tooLow *domain.BidTooLowError
	require.True(t, errors.As(err, &tooLow))
}

func TestPlaceBidUnknownAuction(t *testing.T) {
	e := New(newMemStore(), newFakeFabric(), nil)

	_, err := e.PlaceBid(context.Background(), 99, 7, 500)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.True(t, domain.IsRejection(err))
}

func TestPlaceBidNotActive(t *testing.T) {
	a := activeAuction(1, 1000)
	a.Status = domain.AuctionStatusClosing
	e := New(newMemStore(a), newFakeFabric(), nil)

	_, err := e.PlaceBid(context.Background(), 1, 7, 1001)
	assert.ErrorIs(t, err, domain.ErrNotActive)
}

func TestPlaceBidAfterEndTime(t *testing.T) {
	a := activeAuction(1, 1000)
	e := New(newMemStore(a), newFakeFabric(), nil)
	e.now = func() time.Time { return a.EndTime.Add(time.Minute) }

	_, err := e.PlaceBid(context.Background(), 1, 7, 1001)
	assert.ErrorIs(t, err, domain.ErrAuctionEnded)
}

func TestPlaceBidRejectionWritesNothing(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	e := New(s, newFakeFabric(), nil)

	_, err := e.PlaceBid(context.Background(), 1, 7, 500)
	require.Error(t, err)
	assert.Empty(t, s.bids)
	assert.Nil(t, s.auctions[1].CurrentHighestBid)
}

func TestPlaceBidFabricFailureDoesNotFailBid(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	f := newFakeFabric()
	f.setErr = errors.New("redis down")
	f.publishErr = errors.New("redis down")
	e := New(s, f, nil)

	bid, err := e.PlaceBid(context.Background(), 1, 7, 1001)
	require.NoError(t, err)
	assert.Equal(t, int64(1001), bid.Amount)
	require.Len(t, s.bids, 1)
}

func TestPlaceBidConcurrentStrictlyIncreasing(t *testing.T) {
	s := newMemStore(activeAuction(1, 100))
	e := New(s, newFakeFabric(), nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(amount int64) {
			defer wg.Done()
			// losers get a rejection; that is fine, only committed
			// order matters
			e.PlaceBid(ctx, 1, amount, 100+amount)
		}(int64(i + 1))
	}
	wg.Wait()

	require.NotEmpty(t, s.bids)
	for i := 1; i < len(s.bids); i++ {
		assert.Greater(t, s.bids[i].Amount, s.bids[i-1].Amount,
			"committed amounts must be strictly increasing")
	}
	assert.Equal(t, s.bids[len(s.bids)-1].Amount, *s.auctions[1].CurrentHighestBid)
}

func TestCurrentHighestPrefersCache(t *testing.T) {
	s := newMemStore(activeAuction(1, 1000))
	f := newFakeFabric()
	f.cached[1] = 1500
	e := New(s, f, nil)

	amount, err := e.CurrentHighest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), amount)
}

func TestCurrentHighestFallsBackToStore(t *testing.T) {
	a := activeAuction(1, 1000)
	highest := int64(1200)
	a.CurrentHighestBid = &highest
	e := New(newMemStore(a), newFakeFabric(), nil)

	amount, err := e.CurrentHighest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1200), amount)
}

func TestCurrentHighestStartingBidBeforeFirstBid(t *testing.T) {
	e := New(newMemStore(activeAuction(1, 1000)), newFakeFabric(), nil)

	amount, err := e.CurrentHighest(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), amount)
}

func TestCurrentHighestUnknownAuction(t *testing.T) {
	e := New(newMemStore(), newFakeFabric(), nil)

	_, err := e.CurrentHighest(context.Background(), 42)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
