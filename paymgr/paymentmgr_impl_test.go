package paymgr_test

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/msgexchange"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/paymgr"
	"github.com/edgeandnode/gateway-channels/walletapi"
	"github.com/edgeandnode/gateway-channels/walletapi/fakewallet"
)

// These tests exercise the payment path against the real PostgreSQL-backed
// cache and a pair of connected fake wallets; they require a reachable
// database and are skipped unless CHANNEL_CACHE_TEST_DSN is set.
func newTestCache(t *testing.T) *channelcache.ChannelCacheImpl {
	dsn := os.Getenv("CHANNEL_CACHE_TEST_DSN")
	if dsn == "" {
		t.Skip("CHANNEL_CACHE_TEST_DSN not set, skipping postgres-backed test")
	}
	cache, err := channelcache.NewChannelCache(channelcache.Opts{DSN: dsn})
	require.NoError(t, err)
	require.NoError(t, cache.Initialize(context.Background()))
	require.NoError(t, cache.ClearCache(context.Background()))
	t.Cleanup(cache.Destroy)
	return cache
}

// seedRunningChannel opens one channel between gateway and indexer through
// the fake wallets' own handshake and records its running state in the
// cache, so wallet and cache hold the same channel. It returns the channel id.
func seedRunningChannel(t *testing.T, cache *channelcache.ChannelCacheImpl, gateway, indexer *fakewallet.FakeWallet, allocID string, funding int64) string {
	ctx := context.Background()
	_, outbox, _, err := gateway.CreateChannels(ctx, paych.StartState{ContextID: allocID, Amount: big.NewInt(funding)}, 1)
	require.NoError(t, err)
	results, err := msgexchange.Run(ctx, &fakewallet.DirectSender{Peer: indexer}, gateway, outbox[0])
	require.NoError(t, err)
	running := make([]paych.ChannelResult, 0, len(results))
	for _, r := range results {
		running = append(running, r)
	}
	require.Len(t, running, 1)
	_, err = cache.InsertChannels(ctx, allocID, running)
	require.NoError(t, err)
	return running[0].ChannelID
}

func TestCreatePaymentThenSubmitReceiptFreesTheChannel(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	channelID := seedRunningChannel(t, cache, gateway, indexer, "alloc-1", 100)

	mgr := paymgr.NewPaymentManager(gateway, cache)
	payload, err := mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-1", Amount: big.NewInt(10), RequestCID: "req-1", SubgraphID: "sg-1"})
	require.NoError(t, err)
	require.NotEmpty(t, payload)

	// The channel is in flight: a second attempt to acquire it now must fail.
	_, err = cache.AcquireChannel(ctx, "alloc-1", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		t.Fatal("channel should be in flight, not free")
		return snap, nil, nil
	})
	var noFree *walletapi.NoFreeChannelsError
	require.ErrorAs(t, err, &noFree)

	// The indexer countersigns the proposal, completing the handshake.
	_, outbox, err := indexer.PushMessage(ctx, payload)
	require.NoError(t, err)
	require.Len(t, outbox, 1)

	outcome, err := mgr.SubmitReceipt(ctx, outbox[0].Payload)
	require.NoError(t, err)
	assert.Equal(t, channelID, outcome.ChannelID)

	// The channel is free again, its balances reflect the payment, and it is
	// eligible to fund another payment.
	result, err := cache.AcquireChannel(ctx, "alloc-1", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		assert.True(t, paych.IsOurTurn(snap.TurnNum))
		assert.Equal(t, 0, big.NewInt(90).Cmp(snap.PayerBal))
		assert.Equal(t, 0, big.NewInt(10).Cmp(snap.ReceiverBal))
		return snap, "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCreatePaymentFailsWithNoFreeChannelsUnderContention(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	seedRunningChannel(t, cache, gateway, indexer, "alloc-2", 100)
	seedRunningChannel(t, cache, gateway, indexer, "alloc-2", 100)

	mgr := paymgr.NewPaymentManager(gateway, cache)

	payload1, err := mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-2", Amount: big.NewInt(5), RequestCID: "req-1", SubgraphID: "sg-1"})
	require.NoError(t, err)
	payload2, err := mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-2", Amount: big.NewInt(5), RequestCID: "req-2", SubgraphID: "sg-1"})
	require.NoError(t, err)

	// Both channels of this allocation are now in flight (even turnNum); a
	// third payment must fail fast rather than block or reuse one of them.
	_, err = mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-2", Amount: big.NewInt(5), RequestCID: "req-3", SubgraphID: "sg-1"})
	var noFree *walletapi.NoFreeChannelsError
	require.ErrorAs(t, err, &noFree)

	// Unblock both outstanding payments by delivering their receipts.
	for _, payload := range [][]byte{payload1, payload2} {
		_, outbox, err := indexer.PushMessage(ctx, payload)
		require.NoError(t, err)
		require.Len(t, outbox, 1)
		_, err = mgr.SubmitReceipt(ctx, outbox[0].Payload)
		require.NoError(t, err)
	}

	// A fourth payment now succeeds since both channels are free again.
	_, err = mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-2", Amount: big.NewInt(5), RequestCID: "req-4", SubgraphID: "sg-1"})
	require.NoError(t, err)
}

func TestCreatePaymentRejectsAmountExceedingBalance(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	gateway := fakewallet.New("gateway-addr")
	indexer := fakewallet.New("indexer-addr")
	fakewallet.Connect(gateway, indexer)

	seedRunningChannel(t, cache, gateway, indexer, "alloc-3", 10)

	mgr := paymgr.NewPaymentManager(gateway, cache)
	_, err := mgr.CreatePayment(ctx, paymgr.Payment{AllocationID: "alloc-3", Amount: big.NewInt(100), RequestCID: "req-1", SubgraphID: "sg-1"})
	var valErr *walletapi.ValidationError
	require.ErrorAs(t, err, &valErr)

	// A rejected critical section releases the lease without mutating the row.
	result, err := cache.AcquireChannel(ctx, "alloc-3", func(snap paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		assert.EqualValues(t, 3, snap.TurnNum)
		return snap, "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}
