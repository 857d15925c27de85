package channelmgr

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
	"fmt"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/insights"
	"github.com/edgeandnode/gateway-channels/locking"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

var log = logging.Logger("channelmgr")

const syncAllocationsLock = "syncAllocations"

// ChannelManagerImpl is the default ChannelManager.
type ChannelManagerImpl struct {
	wallet  walletapi.Wallet
	sender  walletapi.MessageSender
	cache   channelcache.ChannelCache
	bus     *insights.Bus
	locks   *locking.Registry
	opts    Opts
	selfAddr string
}

// NewChannelManager wires a ChannelManager over the given collaborators.
//
// @input - context, wallet, message sender, channel cache, insights bus,
// named lock registry, options.
//
// @output - channel manager, error.
func NewChannelManager(ctx context.Context, wallet walletapi.Wallet, sender walletapi.MessageSender, cache channelcache.ChannelCache, bus *insights.Bus, locks *locking.Registry, opts Opts) (*ChannelManagerImpl, error) {
	opts = opts.withDefaults()
	addr, err := wallet.GetSigningAddress(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get signing address: %w", err)
	}
	return &ChannelManagerImpl{
		wallet:   wallet,
		sender:   sender,
		cache:    cache,
		bus:      bus,
		locks:    locks,
		opts:     opts,
		selfAddr: addr,
	}, nil
}

func (m *ChannelManagerImpl) EnsureAllocations(ctx context.Context, requests []paych.CapacityRequest) error {
	if m.opts.EnsureAllocationsConcurrency <= 0 {
		group, gctx := errgroup.WithContext(ctx)
		for _, req := range requests {
			req := req
			group.Go(func() error { return m.ensureAllocation(gctx, req) })
		}
		return group.Wait()
	}
	sem := semaphore.NewWeighted(int64(m.opts.EnsureAllocationsConcurrency))
	group, gctx := errgroup.WithContext(ctx)
	for _, req := range requests {
		req := req
		if err := sem.Acquire(gctx, 1); err != nil {
			return err
		}
		group.Go(func() error {
			defer sem.Release(1)
			return m.ensureAllocation(gctx, req)
		})
	}
	return group.Wait()
}

func (m *ChannelManagerImpl) ensureAllocation(ctx context.Context, req paych.CapacityRequest) error {
	allocation := req.Allocation
	activeChannels, err := m.cache.ActiveChannels(ctx, allocation.ID)
	if err != nil {
		return err
	}
	target, err := targetCapacity(req.Op, req.Num, len(activeChannels))
	if err != nil {
		return err
	}
	max := m.opts.maxCapacity()
	if max > 0 && target > max {
		log.Warnw("requested capacity clamped to maxCapacity", "allocation", allocation.ID, "requested", target, "max", max)
		target = max
	}

	readying, err := m.cache.ReadyingChannels(ctx, allocation.ID)
	if err != nil {
		return err
	}
	if len(readying) > 0 {
		if _, err := m.syncChannelsForAllocation(ctx, allocation.ID, 0, 0); err != nil {
			log.Warnw("failed to resume readying channels", "allocation", allocation.ID, "error", err)
		}
		activeChannels, err = m.cache.ActiveChannels(ctx, allocation.ID)
		if err != nil {
			return err
		}
	}

	required := target - len(activeChannels)
	if required <= 0 {
		return nil
	}

	start := paych.StartState{
		ContextID:          allocation.ID,
		Participants:       []string{m.selfAddr, allocation.Indexer},
		AssetHolderAddress: m.opts.AssetHolderAddress,
		AppAddress:         m.opts.AppAddress,
		ChainID:            m.opts.ChainID,
		Amount:             m.opts.PaymentChannelFundingAmount,
		ChallengeDuration:  uint64(m.opts.ChallengeDurationPayment.Seconds()),
	}

	if m.opts.UseLedger {
		ledgerID, err := m.ensureLedger(ctx, allocation)
		if err != nil {
			return err
		}
		start.LedgerChannelID = ledgerID
	}

	for _, n := range chunkSizes(required, m.opts.CreateChunkSize) {
		created, outbox, objectives, err := m.wallet.CreateChannels(ctx, start, n)
		if err != nil {
			return err
		}
		if len(outbox) != 1 {
			return &walletapi.ProtocolViolation{Detail: fmt.Sprintf("expected exactly one outbox entry creating channels, got %v", len(outbox))}
		}
		m.bus.Publish(insights.Event{Kind: insights.KindChannelsCreated, Created: &insights.ChannelsCreated{
			AllocationID: allocation.ID,
			Channels:     created,
		}})

		results, err := m.ensureObjectives(ctx, objectives, outbox[0])
		if err != nil {
			return err
		}
		ready := make([]paych.ChannelResult, 0, len(results))
		for _, r := range results {
			ready = append(ready, r)
		}
		if _, err := m.cache.InsertChannels(ctx, allocation.ID, ready); err != nil {
			return err
		}
		m.bus.Publish(insights.Event{Kind: insights.KindChannelsReady, Ready: &insights.ChannelsReady{
			AllocationID: allocation.ID,
			Channels:     ready,
		}})
	}
	return nil
}

func (m *ChannelManagerImpl) SyncAllocations(ctx context.Context, requests []paych.CapacityRequest) error {
	release, err := m.locks.Lock(ctx, syncAllocationsLock)
	if err != nil {
		return err
	}
	defer release()

	requested := make(map[string]bool, len(requests))
	for _, r := range requests {
		requested[r.Allocation.ID] = true
	}

	active, err := m.cache.ActiveAllocations(ctx, nil)
	if err != nil {
		return err
	}
	var toRemove []string
	for id := range active {
		if !requested[id] {
			toRemove = append(toRemove, id)
		}
	}

	if err := m.EnsureAllocations(ctx, requests); err != nil {
		return err
	}
	if len(toRemove) > 0 {
		if err := m.RemoveAllocations(ctx, toRemove); err != nil {
			return err
		}
	}
	return nil
}

func (m *ChannelManagerImpl) RemoveAllocations(ctx context.Context, ids []string) error {
	for _, id := range ids {
		report, err := m.cache.RetireChannels(ctx, id)
		if err != nil {
			return err
		}
		if len(report.ChannelIDs) > 0 {
			m.bus.Publish(insights.Event{Kind: insights.KindChannelsRetired, Retired: &insights.ChannelsRetired{Report: report}})
		}
	}
	if err := m.closeRetired(ctx); err != nil {
		return err
	}
	if m.opts.UseLedger {
		for _, id := range ids {
			ledgers, err := m.cache.GetLedgerChannels(ctx, id)
			if err != nil {
				return err
			}
			if len(ledgers) == 0 {
				continue
			}
			ledgerIDs := make([]string, len(ledgers))
			for i, l := range ledgers {
				ledgerIDs[i] = l.ChannelID
			}
			outbox, err := m.wallet.CloseChannels(ctx, ledgerIDs)
			if err != nil {
				return err
			}
			for _, o := range outbox {
				if _, err := m.exchange(ctx, o); err != nil {
					return err
				}
			}
			if err := m.cache.RemoveLedgerChannels(ctx, ledgerIDs); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *ChannelManagerImpl) ChannelCount(ctx context.Context, ids []string) (map[string]int, error) {
	return m.cache.ActiveAllocations(ctx, ids)
}

func (m *ChannelManagerImpl) exchange(ctx context.Context, out paych.Outbox) (map[string]paych.ChannelResult, error) {
	return runExchange(ctx, m.sender, m.wallet, out)
}

// now reads the manager's injected clock, used so tests can control
// stall-age comparisons deterministically.
func (m *ChannelManagerImpl) now() time.Time {
	return m.opts.Clock.Now()
}
