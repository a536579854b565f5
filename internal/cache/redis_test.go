package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyAndChannelFormats(t *testing.T) {
	assert.Equal(t, "auction:42:currentHighestBid", Key(42))
	assert.Equal(t, "auction:42:updates", Channel(42))
}

func TestAuctionIDFromChannel(t *testing.T) {
	id, ok := AuctionIDFromChannel(Channel(42))
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{
		"",
		"auction:42",
		"auction::updates",
		"auction:abc:updates",
		"other:42:updates",
		"42:updates",
	} {
		_, ok := AuctionIDFromChannel(bad)
		assert.False(t, ok, "channel %q should not parse", bad)
	}
}
