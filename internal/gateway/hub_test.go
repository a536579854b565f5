package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Taha-Seddik/car-auction-backend/internal/metrics"
)

type fakeSubscriber struct {
	mu    sync.Mutex
	calls []int64
	err   error
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, auctionID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, auctionID)
	return nil
}

func testClient() *Client {
	return newClient(nil, "1.2.3.4", 7)
}

func TestJoinSubscribesOncePerAuction(t *testing.T) {
	sub := &fakeSubscriber{}
	h := NewHub(sub, metrics.New("test"))
	ctx := context.Background()

	c1, c2 := testClient(), testClient()
	require.NoError(t, h.Join(ctx, c1, 1))
	require.NoError(t, h.Join(ctx, c2, 1))
	require.NoError(t, h.Join(ctx, c1, 2))

	assert.Equal(t, []int64{1, 2}, sub.calls)
	assert.Equal(t, 2, h.Count(1))
	assert.Equal(t, 1, h.Count(2))
}

func TestJoinSubscribeFailureAdmitsNobody(t *testing.T) {
	sub := &fakeSubscriber{err: errors.New("redis down")}
	h := NewHub(sub, metrics.New("test"))
	ctx := context.Background()

	require.Error(t, h.Join(ctx, testClient(), 1))
	assert.Zero(t, h.Count(1), "failed join must not leave the client in the room")

	// a later join retries the subscribe and succeeds
	sub.err = nil
	require.NoError(t, h.Join(ctx, testClient(), 1))
	assert.Equal(t, []int64{1}, sub.calls)
	assert.Equal(t, 1, h.Count(1))
}

func TestLeaveEmptiesRooms(t *testing.T) {
	h := NewHub(&fakeSubscriber{}, metrics.New("test"))
	ctx := context.Background()

	c := testClient()
	require.NoError(t, h.Join(ctx, c, 1))
	require.NoError(t, h.Join(ctx, c, 2))

	h.Leave(c)
	assert.Zero(t, h.Count(1))
	assert.Zero(t, h.Count(2))

	// leaving twice is harmless
	h.Leave(c)
}

func TestBroadcastReachesRoomOnly(t *testing.T) {
	h := NewHub(&fakeSubscriber{}, metrics.New("test"))
	ctx := context.Background()

	in, out := testClient(), testClient()
	require.NoError(t, h.Join(ctx, in, 1))
	require.NoError(t, h.Join(ctx, out, 2))

	h.Broadcast(1, []byte("hello"))

	select {
	case got := <-in.send:
		assert.Equal(t, "hello", string(got))
	default:
		t.Fatal("room member got nothing")
	}
	select {
	case <-out.send:
		t.Fatal("other room leaked a message")
	default:
	}
}

func TestBroadcastEvictsSlowClient(t *testing.T) {
	h := NewHub(&fakeSubscriber{}, metrics.New("test"))
	ctx := context.Background()

	slow := testClient()
	healthy := testClient()
	require.NoError(t, h.Join(ctx, slow, 1))
	require.NoError(t, h.Join(ctx, slow, 2))
	require.NoError(t, h.Join(ctx, healthy, 1))

	// fill the send buffer completely
	for i := 0; i < cap(slow.send); i++ {
		slow.send <- []byte("x")
	}

	h.Broadcast(1, []byte("overflow"))

	// the evicted client is out of every room, not just the one that
	// was broadcast to
	assert.Equal(t, 1, h.Count(1))
	assert.Zero(t, h.Count(2))

	// a second broadcast must neither panic on the closed channel nor
	// skip the healthy client
	h.Broadcast(1, []byte("again"))
	assert.Equal(t, 2, len(healthy.send))

	// eviction closed the send channel; drain to observe it
	for range slow.send {
	}
}

func TestBroadcastAfterClientClosed(t *testing.T) {
	h := NewHub(&fakeSubscriber{}, metrics.New("test"))
	ctx := context.Background()

	c := testClient()
	require.NoError(t, h.Join(ctx, c, 1))

	// a broadcast racing a teardown must not panic on the closed channel
	c.close()
	h.Broadcast(1, []byte("late"))
	assert.False(t, c.enqueue(bidErrorMsg{Type: "bidError", Message: "late"}))

	h.Leave(c)
	assert.Zero(t, h.Count(1))
}

func TestBroadcastNilMetrics(t *testing.T) {
	h := NewHub(&fakeSubscriber{}, nil)
	ctx := context.Background()

	c := testClient()
	require.NoError(t, h.Join(ctx, c, 1))
	h.Broadcast(1, []byte("hello"))

	select {
	case got := <-c.send:
		assert.Equal(t, "hello", string(got))
	default:
		t.Fatal("room member got nothing")
	}
}
