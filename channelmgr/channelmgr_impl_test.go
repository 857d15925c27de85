package channelmgr_test

import (
	"context"
	"math/big"
	"os"
	"testing"
	"time"

	bclock "github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/channelmgr"
	"github.com/edgeandnode/gateway-channels/insights"
	"github.com/edgeandnode/gateway-channels/locking"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/paymgr"
	"github.com/edgeandnode/gateway-channels/walletapi"
	"github.com/edgeandnode/gateway-channels/walletapi/fakewallet"
)

func newTestCache(t *testing.T) *channelcache.ChannelCacheImpl {
	cache, _ := newTestCacheWithClock(t, bclock.New())
	return cache
}

func newTestCacheWithClock(t *testing.T, mock bclock.Clock) (*channelcache.ChannelCacheImpl, bclock.Clock) {
	dsn := os.Getenv("CHANNEL_CACHE_TEST_DSN")
	if dsn == "" {
		t.Skip("CHANNEL_CACHE_TEST_DSN not set, skipping postgres-backed test")
	}
	cache, err := channelcache.NewChannelCache(channelcache.Opts{DSN: dsn, Clock: mock})
	require.NoError(t, err)
	require.NoError(t, cache.Initialize(context.Background()))
	require.NoError(t, cache.ClearCache(context.Background()))
	t.Cleanup(cache.Destroy)
	return cache, mock
}

func TestEnsureAllocationsOpensChannelsUpToCapacity(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	bus := insights.NewBus()
	ready := make(chan insights.ChannelsReady, 1)
	unsub := bus.ChannelsReady(func(e insights.ChannelsReady) { ready <- e })
	defer unsub()

	mgr, err := channelmgr.NewChannelManager(ctx, gateway, &fakewallet.DirectSender{Peer: indexer}, cache, bus, locking.NewRegistry(), channelmgr.Opts{
		FundsPerAllocation:          big.NewInt(300),
		PaymentChannelFundingAmount: big.NewInt(100),
		AssetHolderAddress:          "asset-holder",
		AppAddress:                  "attestation-app",
	})
	require.NoError(t, err)

	allocation := paych.Allocation{ID: "alloc-1", Indexer: "indexer-addr"}
	err = mgr.EnsureAllocations(ctx, []paych.CapacityRequest{{Allocation: allocation, Op: paych.SetTo, Num: 3}})
	require.NoError(t, err)

	counts, err := mgr.ChannelCount(ctx, []string{"alloc-1"})
	require.NoError(t, err)
	assert.Equal(t, 3, counts["alloc-1"])

	select {
	case e := <-ready:
		assert.Equal(t, "alloc-1", e.AllocationID)
	case <-time.After(time.Second):
		t.Fatal("expected a ChannelsReady insight")
	}
}

func TestEnsureAllocationsClampsToMaxCapacity(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	mgr, err := channelmgr.NewChannelManager(ctx, gateway, &fakewallet.DirectSender{Peer: indexer}, cache, insights.NewBus(), locking.NewRegistry(), channelmgr.Opts{
		FundsPerAllocation:          big.NewInt(200),
		PaymentChannelFundingAmount: big.NewInt(100),
		AssetHolderAddress:          "asset-holder",
		AppAddress:                  "attestation-app",
	})
	require.NoError(t, err)

	allocation := paych.Allocation{ID: "alloc-2", Indexer: "indexer-addr"}
	err = mgr.EnsureAllocations(ctx, []paych.CapacityRequest{{Allocation: allocation, Op: paych.SetTo, Num: 10}})
	require.NoError(t, err)

	counts, err := mgr.ChannelCount(ctx, []string{"alloc-2"})
	require.NoError(t, err)
	assert.Equal(t, 2, counts["alloc-2"], "capacity must be clamped to maxCapacity = 200/100")
}

func TestEnsureObjectivesSucceedsAfterBackoffRetries(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	mockClock := bclock.NewMock()
	mgr, err := channelmgr.NewChannelManager(ctx, gateway, &fakewallet.DirectSender{Peer: indexer}, cache, insights.NewBus(), locking.NewRegistry(), channelmgr.Opts{
		FundsPerAllocation:          big.NewInt(100),
		PaymentChannelFundingAmount: big.NewInt(100),
		AssetHolderAddress:          "asset-holder",
		AppAddress:                  "attestation-app",
		BackoffInitialDelay:         50 * time.Millisecond,
		BackoffNumAttempts:          3,
		Clock:                       mockClock,
	})
	require.NoError(t, err)

	allocation := paych.Allocation{ID: "alloc-3", Indexer: "indexer-addr"}
	done := make(chan error, 1)
	go func() {
		done <- mgr.EnsureAllocations(ctx, []paych.CapacityRequest{{Allocation: allocation, Op: paych.SetTo, Num: 1}})
	}()

	// Advance the mock clock a few times so any pending backoff timers fire;
	// the fake wallet resolves its objective on the very first exchange, so
	// this mainly exercises that advancing the clock while idle is harmless.
	for i := 0; i < 3; i++ {
		time.Sleep(10 * time.Millisecond)
		mockClock.Add(100 * time.Millisecond)
	}

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("EnsureAllocations did not complete")
	}

	counts, err := mgr.ChannelCount(ctx, []string{"alloc-3"})
	require.NoError(t, err)
	assert.Equal(t, 1, counts["alloc-3"])
}

func TestSyncChannelsHealsAChannelStuckOnADroppedReceipt(t *testing.T) {
	mock := bclock.NewMock()
	mock.Set(time.Now())
	cache, _ := newTestCacheWithClock(t, mock)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	bus := insights.NewBus()
	mgr, err := channelmgr.NewChannelManager(ctx, gateway, &fakewallet.DirectSender{Peer: indexer}, cache, bus, locking.NewRegistry(), channelmgr.Opts{
		FundsPerAllocation:          big.NewInt(100),
		PaymentChannelFundingAmount: big.NewInt(100),
		AssetHolderAddress:          "asset-holder",
		AppAddress:                  "attestation-app",
		Clock:                       mock,
	})
	require.NoError(t, err)

	allocation := paych.Allocation{ID: "alloc-4", Indexer: "indexer-addr"}
	require.NoError(t, mgr.EnsureAllocations(ctx, []paych.CapacityRequest{{Allocation: allocation, Op: paych.SetTo, Num: 1}}))

	channelIDs, err := cache.ActiveChannels(ctx, "alloc-4")
	require.NoError(t, err)
	require.Len(t, channelIDs, 1)
	channelID := channelIDs[0]

	// Construct a payment but never deliver its payload to the indexer,
	// simulating a dropped receipt: the channel is left at an even turnNum in
	// both the cache and the gateway's own wallet, with the indexer never
	// having seen the proposal at all.
	paymentMgr := paymgr.NewPaymentManager(gateway, cache)
	_, err = paymentMgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-4", Amount: big.NewInt(10), RequestCID: "req-1", SubgraphID: "sg-1"})
	require.NoError(t, err)

	_, err = cache.AcquireChannel(ctx, "alloc-4", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		t.Fatal("channel should still be stalled, not free")
		return snap, nil, nil
	})
	var noFree *walletapi.NoFreeChannelsError
	require.ErrorAs(t, err, &noFree)

	mock.Add(time.Hour)
	resumed, err := mgr.SyncChannels(ctx, time.Minute, 0, []string{"alloc-4"})
	require.NoError(t, err)
	assert.Equal(t, []string{channelID}, resumed)

	result, err := cache.AcquireChannel(ctx, "alloc-4", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		assert.True(t, paych.IsOurTurn(snap.TurnNum))
		return snap, "healed", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "healed", result)
}
