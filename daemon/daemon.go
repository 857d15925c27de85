// Package daemon wires the channel gateway core into a runnable process:
// the channel cache, the wallet, the channel manager, the payment manager
// and the insights bus, plus graceful shutdown on signal.
package daemon

/*
 * Dual-licensed under Apache-2.0 and MIT.
 *
 * You can get a copy of the Apache License at
 *
 * http://www.apache.org/licenses/LICENSE-2.0
 *
 * You can also get a copy of the MIT License at
 *
 * http://opensource.org/licenses/MIT
 *
 * @wcgcyx - https://github.com/wcgcyx
 */

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/channelmgr"
	"github.com/edgeandnode/gateway-channels/config"
	"github.com/edgeandnode/gateway-channels/insights"
	"github.com/edgeandnode/gateway-channels/locking"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/paymgr"
	"github.com/edgeandnode/gateway-channels/walletapi"
	"github.com/edgeandnode/gateway-channels/walletapi/fakewallet"
)

var log = logging.Logger("daemon")

// Node holds every wired component of a running channel gateway process.
type Node struct {
	Cache  channelcache.ChannelCache
	Wallet walletapi.Wallet
	Bus    *insights.Bus
	Locks  *locking.Registry
	ChMgr  channelmgr.ChannelManager
	PayMgr paymgr.PaymentManager

	shutdown func()
}

// NewNode wires a Node from conf. The wallet is the in-memory fakewallet:
// the cryptographic state-channel wallet is an out-of-scope external
// collaborator (see the core's walletapi contract), so this entrypoint runs
// against the fake, self-paired with an indexer-side fake wallet reachable
// through a DirectSender, matching how the rest of this core's tests are
// exercised.
//
// @input - context, config.
//
// @output - node, error.
func NewNode(ctx context.Context, conf config.Config) (*Node, error) {
	setLogLevel("channelcache", conf.ChannelCacheLoggingLevel)
	setLogLevel("channelmgr", conf.ChannelMgrLoggingLevel)
	setLogLevel("paymgr", conf.PayMgrLoggingLevel)
	setLogLevel("insights", conf.InsightsLoggingLevel)

	cache, err := channelcache.NewChannelCache(channelcache.Opts{
		DSN:        conf.ChannelCacheDSN,
		TxnTimeout: conf.ChannelCacheTxnTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := cache.Initialize(ctx); err != nil {
		cache.Destroy()
		return nil, err
	}

	gateway := fakewallet.New("gateway")
	indexerSide := fakewallet.New("indexer")
	fakewallet.Connect(gateway, indexerSide)
	sender := &fakewallet.DirectSender{Peer: indexerSide}

	bus := insights.NewBus()
	locks := locking.NewRegistry()

	strategy := paych.FundingDirect
	if conf.ChannelMgrFundingStrategy == "fake" {
		strategy = paych.FundingFake
	}

	chMgr, err := channelmgr.NewChannelManager(ctx, gateway, sender, cache, bus, locks, channelmgr.Opts{
		FundsPerAllocation:              conf.ChannelMgrFundsPerAllocation,
		PaymentChannelFundingAmount:     conf.ChannelMgrPaymentChannelFundingAmount,
		FundingStrategy:                 strategy,
		UseLedger:                       conf.ChannelMgrUseLedger,
		EnsureAllocationsConcurrency:    conf.ChannelMgrEnsureAllocationsConcurrency,
		SyncOpeningChannelsPollInterval: conf.ChannelMgrSyncOpeningChannelsPollInterval,
		SyncOpeningChannelsMaxAttempts:  conf.ChannelMgrSyncOpeningChannelsMaxAttempts,
		ChallengeDurationLedger:         conf.ChannelMgrChallengeDurationLedger,
		ChallengeDurationPayment:        conf.ChannelMgrChallengeDurationPayment,
		BackoffInitialDelay:             conf.ChannelMgrBackoffInitialDelay,
		BackoffNumAttempts:              conf.ChannelMgrBackoffNumAttempts,
		CreateChunkSize:                 conf.ChannelMgrCreateChunkSize,
		SyncConcurrencyPerPeer:          conf.ChannelMgrSyncConcurrencyPerPeer,
		SyncConcurrencyGroups:           conf.ChannelMgrSyncConcurrencyGroups,
		CloseChunkSize:                  conf.ChannelMgrCloseChunkSize,
		CloseConcurrency:                conf.ChannelMgrCloseConcurrency,
		ChainID:                         conf.ChannelMgrChainID,
		AssetHolderAddress:              conf.ChannelMgrAssetHolderAddress,
		AppAddress:                      conf.ChannelMgrAppAddress,
	})
	if err != nil {
		cache.Destroy()
		return nil, err
	}

	if err := chMgr.PopulateCache(ctx); err != nil {
		cache.Destroy()
		return nil, err
	}

	payMgr := paymgr.NewPaymentManager(gateway, cache)

	return &Node{
		Cache:    cache,
		Wallet:   gateway,
		Bus:      bus,
		Locks:    locks,
		ChMgr:    chMgr,
		PayMgr:   payMgr,
		shutdown: cache.Destroy,
	}, nil
}

// Shutdown tears down the node's resources. Safe to call once.
func (n *Node) Shutdown() {
	if n.shutdown != nil {
		n.shutdown()
	}
}

// Run loads conf, wires a Node and blocks until SIGINT/SIGTERM/SIGHUP/SIGQUIT,
// then shuts the node down gracefully.
//
// @input - context, config file path.
//
// @output - error.
func Run(ctx context.Context, configFile string) error {
	logging.SetLogLevel("daemon", "INFO")
	log.Info("loading configuration")
	conf, err := config.NewConfig(configFile)
	if err != nil {
		return err
	}

	log.Info("starting channel gateway node")
	node, err := NewNode(ctx, conf)
	if err != nil {
		return err
	}
	defer node.Shutdown()

	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	log.Info("channel gateway node started")
	<-c
	log.Info("graceful shutdown")
	return nil
}

// Migrate loads conf, opens the channel cache and runs its idempotent
// schema migration without starting the rest of the node.
//
// @input - context, config file path.
//
// @output - error.
func Migrate(ctx context.Context, configFile string) error {
	conf, err := config.NewConfig(configFile)
	if err != nil {
		return err
	}
	cache, err := channelcache.NewChannelCache(channelcache.Opts{
		DSN:        conf.ChannelCacheDSN,
		TxnTimeout: conf.ChannelCacheTxnTimeout,
	})
	if err != nil {
		return err
	}
	defer cache.Destroy()
	return cache.Initialize(ctx)
}

func setLogLevel(subsystem, level string) {
	if level == "" {
		return
	}
	if err := logging.SetLogLevel(subsystem, level); err != nil {
		log.Warnw("invalid log level", "subsystem", subsystem, "level", level, "error", err)
	}
}
