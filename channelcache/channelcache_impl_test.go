package channelcache_test

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

// These tests exercise the real PostgreSQL-backed cache and its
// SELECT ... FOR UPDATE SKIP LOCKED lease; they require a reachable
// database and are skipped unless CHANNEL_CACHE_TEST_DSN is set.
func newTestCache(t *testing.T) (*channelcache.ChannelCacheImpl, *clock.Mock) {
	dsn := os.Getenv("CHANNEL_CACHE_TEST_DSN")
	if dsn == "" {
		t.Skip("CHANNEL_CACHE_TEST_DSN not set, skipping postgres-backed test")
	}
	mock := clock.NewMock()
	mock.Set(time.Now())
	cache, err := channelcache.NewChannelCache(channelcache.Opts{DSN: dsn, Clock: mock})
	require.NoError(t, err)
	require.NoError(t, cache.Initialize(context.Background()))
	require.NoError(t, cache.ClearCache(context.Background()))
	t.Cleanup(cache.Destroy)
	return cache, mock
}

func TestInsertChannelsPromotesZeroToNonZero(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	ch := paych.ChannelResult{ChannelID: "c1", TurnNum: 0, PayerBal: big.NewInt(100), ReceiverBal: big.NewInt(0)}
	ids, err := cache.InsertChannels(ctx, "alloc-1", []paych.ChannelResult{ch})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	promoted := paych.ChannelResult{ChannelID: "c1", TurnNum: 3, PayerBal: big.NewInt(90), ReceiverBal: big.NewInt(10)}
	ids, err = cache.InsertChannels(ctx, "alloc-1", []paych.ChannelResult{promoted})
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, ids)

	active, err := cache.ActiveChannels(ctx, "alloc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, active)

	// A conflict that is not a 0 -> non-zero promotion is a no-op.
	stale := paych.ChannelResult{ChannelID: "c1", TurnNum: 9, PayerBal: big.NewInt(0), ReceiverBal: big.NewInt(100)}
	ids, err = cache.InsertChannels(ctx, "alloc-1", []paych.ChannelResult{stale})
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAcquireChannelLeasesExactlyOne(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	_, err := cache.InsertChannels(ctx, "alloc-2", []paych.ChannelResult{
		{ChannelID: "a", TurnNum: 3, PayerBal: big.NewInt(100), ReceiverBal: big.NewInt(0)},
	})
	require.NoError(t, err)

	result, err := cache.AcquireChannel(ctx, "alloc-2", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		snap.TurnNum++
		snap.PayerBal = big.NewInt(90)
		snap.ReceiverBal = big.NewInt(10)
		return snap, "paid", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "paid", result)

	_, err = cache.AcquireChannel(ctx, "alloc-2", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		t.Fatal("no free channel should have been available")
		return snap, nil, nil
	})
	var noFree *walletapi.NoFreeChannelsError
	assert.ErrorAs(t, err, &noFree)
}

func TestStalledChannels(t *testing.T) {
	cache, mock := newTestCache(t)
	ctx := context.Background()
	_, err := cache.InsertChannels(ctx, "alloc-3", []paych.ChannelResult{
		{ChannelID: "s1", TurnNum: 4, PayerBal: big.NewInt(80), ReceiverBal: big.NewInt(20)},
	})
	require.NoError(t, err)

	ids, err := cache.StalledChannels(ctx, time.Minute, 0, "alloc-3")
	require.NoError(t, err)
	assert.Empty(t, ids, "channel just inserted should not be stalled yet")

	mock.Add(2 * time.Minute)
	ids, err = cache.StalledChannels(ctx, time.Minute, 0, "alloc-3")
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, ids)
}

func TestRetireChannels(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()
	_, err := cache.InsertChannels(ctx, "alloc-4", []paych.ChannelResult{
		{ChannelID: "r1", TurnNum: 3, PayerBal: big.NewInt(70), ReceiverBal: big.NewInt(30)},
		{ChannelID: "r2", TurnNum: 3, PayerBal: big.NewInt(60), ReceiverBal: big.NewInt(40)},
	})
	require.NoError(t, err)

	report, err := cache.RetireChannels(ctx, "alloc-4")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"r1", "r2"}, report.ChannelIDs)
	assert.Equal(t, big.NewInt(70), report.Amount)

	active, err := cache.ActiveChannels(ctx, "alloc-4")
	require.NoError(t, err)
	assert.Empty(t, active)
}
