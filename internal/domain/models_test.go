package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMinNextBid(t *testing.T) {
	a := &Auction{StartingBid: 1000}
	assert.Equal(t, int64(1001), a.MinNextBid())

	highest := int64(1500)
	a.CurrentHighestBid = &highest
	assert.Equal(t, int64(1501), a.MinNextBid())
}

func TestIsRejection(t *testing.T) {
	assert.True(t, IsRejection(ErrNotFound))
	assert.True(t, IsRejection(ErrNotActive))
	assert.True(t, IsRejection(ErrAuctionEnded))
	assert.True(t, IsRejection(&BidTooLowError{Min: 100}))

	assert.False(t, IsRejection(nil))
	assert.False(t, IsRejection(errors.New("connection refused")))
}

func TestBidTooLowErrorMessage(t *testing.T) {
	err := &BidTooLowError{Min: 1501}
	assert.Equal(t, "bid must be >= 1501", err.Error())
}
