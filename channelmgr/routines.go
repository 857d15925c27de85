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
	"sync"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/edgeandnode/gateway-channels/insights"
	"github.com/edgeandnode/gateway-channels/msgexchange"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

// runExchange drives one message exchange with the wallet, returning the
// latest channel results observed.
func runExchange(ctx context.Context, sender walletapi.MessageSender, wallet walletapi.Wallet, out paych.Outbox) (map[string]paych.ChannelResult, error) {
	return msgexchange.Run(ctx, sender, wallet, out)
}

// ensureObjectives drives initial to quiescence, then retries any objective
// that has not yet reached terminal success on the configured backoff
// schedule, re-syncing the affected channels between attempts.
func (m *ChannelManagerImpl) ensureObjectives(ctx context.Context, objectives []paych.Objective, initial paych.Outbox) (map[string]paych.ChannelResult, error) {
	pending := make(map[string]string, len(objectives)) // objective id -> channel id
	for _, o := range objectives {
		pending[o.ID] = o.ChannelID
	}

	var mu sync.Mutex
	unsubscribe := m.wallet.SubscribeObjectiveSuccess(func(o paych.Objective) {
		mu.Lock()
		delete(pending, o.ID)
		mu.Unlock()
	})
	defer unsubscribe()

	acc, err := runExchange(ctx, m.sender, m.wallet, initial)
	if err != nil {
		return nil, err
	}

	b := &backoff.Backoff{Min: m.opts.BackoffInitialDelay, Factor: 2, Jitter: false}
	for attempt := 0; attempt < m.opts.BackoffNumAttempts; attempt++ {
		mu.Lock()
		remaining := len(pending)
		mu.Unlock()
		if remaining == 0 {
			return acc, nil
		}

		delay := b.Duration()
		timer := m.opts.Clock.Timer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return acc, ctx.Err()
		}

		mu.Lock()
		channelIDs := make([]string, 0, len(pending))
		for _, cid := range pending {
			channelIDs = append(channelIDs, cid)
		}
		mu.Unlock()

		for _, cid := range channelIDs {
			_, outbox, err := m.wallet.SyncChannel(ctx, cid)
			if err != nil {
				log.Warnw("failed to sync objective channel", "channel", cid, "error", err)
				continue
			}
			if len(outbox) == 0 {
				continue
			}
			results, err := runExchange(ctx, m.sender, m.wallet, outbox[0])
			if err != nil {
				log.Warnw("failed to exchange objective sync", "channel", cid, "error", err)
				continue
			}
			for k, v := range results {
				acc[k] = v
			}
		}
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pending) == 0 {
		return acc, nil
	}
	ids := make([]string, 0, len(pending))
	for oid := range pending {
		ids = append(ids, oid)
	}
	return acc, &walletapi.ObjectivesNotCompleted{IDs: ids}
}

// ensureLedger returns a running ledger channel id for allocation, creating
// and driving one to completion if none exists yet.
func (m *ChannelManagerImpl) ensureLedger(ctx context.Context, allocation paych.Allocation) (string, error) {
	existing, err := m.cache.GetLedgerChannels(ctx, allocation.ID)
	if err != nil {
		return "", err
	}
	if len(existing) > 0 {
		return existing[0].ChannelID, nil
	}

	start := paych.StartState{
		ContextID:          allocation.ID,
		Participants:       []string{m.selfAddr, allocation.Indexer},
		AssetHolderAddress: m.opts.AssetHolderAddress,
		ChainID:            m.opts.ChainID,
		Amount:             m.opts.FundsPerAllocation,
		ChallengeDuration:  uint64(m.opts.ChallengeDurationLedger.Seconds()),
	}
	result, outbox, err := m.wallet.CreateLedgerChannel(ctx, start, m.opts.FundingStrategy)
	if err != nil {
		return "", err
	}
	if err := m.cache.InsertLedgerChannel(ctx, allocation.ID, result.ChannelID, result.Outcome); err != nil {
		return "", err
	}
	if len(outbox) == 1 {
		if m.opts.FundingStrategy == paych.FundingDirect {
			if err := m.pollLedgerOpen(ctx, result.ChannelID); err != nil {
				return "", err
			}
		}
		if _, err := m.exchange(ctx, outbox[0]); err != nil {
			return "", err
		}
	}
	return result.ChannelID, nil
}

func (m *ChannelManagerImpl) pollLedgerOpen(ctx context.Context, channelID string) error {
	for i := 0; i < m.opts.SyncOpeningChannelsMaxAttempts; i++ {
		timer := m.opts.Clock.Timer(m.opts.SyncOpeningChannelsPollInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return nil
}

func (m *ChannelManagerImpl) SyncChannels(ctx context.Context, stalledFor time.Duration, limit int, allocationIDs []string) ([]string, error) {
	if len(allocationIDs) == 0 {
		active, err := m.cache.ActiveAllocations(ctx, nil)
		if err != nil {
			return nil, err
		}
		for id := range active {
			allocationIDs = append(allocationIDs, id)
		}
	}

	var mu sync.Mutex
	var resumed []string
	resumedByAlloc := make(map[string][]string)
	var errs error

	// Every channel of an allocation shares the same counterparty indexer,
	// so grouping by allocation id is grouping by recipient: groupSem bounds
	// how many peers are being healed at once, peerSem bounds how many
	// channels of one peer are in flight at once.
	groupSem := semaphore.NewWeighted(int64(m.opts.SyncConcurrencyGroups))
	var groupWg sync.WaitGroup

	for _, allocID := range allocationIDs {
		allocID := allocID
		ids, err := m.syncChannelsForAllocationIDs(ctx, allocID, stalledFor, limit)
		if err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			continue
		}
		if len(ids) == 0 {
			continue
		}
		if err := groupSem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			errs = multierr.Append(errs, err)
			mu.Unlock()
			continue
		}
		groupWg.Add(1)
		go func() {
			defer groupWg.Done()
			defer groupSem.Release(1)

			peerSem := semaphore.NewWeighted(int64(m.opts.SyncConcurrencyPerPeer))
			var peerWg sync.WaitGroup
			for _, id := range ids {
				id := id
				if err := peerSem.Acquire(ctx, 1); err != nil {
					mu.Lock()
					errs = multierr.Append(errs, err)
					mu.Unlock()
					continue
				}
				peerWg.Add(1)
				go func() {
					defer peerWg.Done()
					defer peerSem.Release(1)
					result, err := m.syncChannel(ctx, allocID, id)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						errs = multierr.Append(errs, err)
						return
					}
					if result != nil {
						resumed = append(resumed, id)
						resumedByAlloc[allocID] = append(resumedByAlloc[allocID], id)
					}
				}()
			}
			peerWg.Wait()
		}()
	}
	groupWg.Wait()

	for allocID, ids := range resumedByAlloc {
		m.bus.Publish(insights.Event{Kind: insights.KindChannelsSynced, Synced: &insights.ChannelsSynced{
			AllocationID: allocID,
			ChannelIDs:   ids,
		}})
	}
	return resumed, errs
}

func (m *ChannelManagerImpl) syncChannelsForAllocationIDs(ctx context.Context, allocID string, stalledFor time.Duration, limit int) ([]string, error) {
	return m.cache.StalledChannels(ctx, stalledFor, limit, allocID)
}

// syncChannelsForAllocation is used by ensureAllocation to resume channels
// still stuck at turnNum 0, bypassing the stall-age threshold entirely.
func (m *ChannelManagerImpl) syncChannelsForAllocation(ctx context.Context, allocID string, stalledFor time.Duration, limit int) ([]string, error) {
	readying, err := m.cache.ReadyingChannels(ctx, allocID)
	if err != nil {
		return nil, err
	}
	var resumed []string
	for _, id := range readying {
		if r, err := m.syncChannel(ctx, allocID, id); err == nil && r != nil {
			resumed = append(resumed, id)
		}
	}
	return resumed, nil
}

func (m *ChannelManagerImpl) syncChannel(ctx context.Context, allocID string, channelID string) (*paych.ChannelResult, error) {
	_, outbox, err := m.wallet.SyncChannel(ctx, channelID)
	if err != nil {
		if rerr := m.retireAllocationOnFailure(ctx, allocID); rerr != nil {
			log.Warnw("failed to retire allocation after sync failure", "allocation", allocID, "error", rerr)
		}
		return nil, err
	}
	if len(outbox) == 0 {
		return nil, nil
	}
	results, err := m.exchange(ctx, outbox[0])
	if err != nil {
		if rerr := m.retireAllocationOnFailure(ctx, allocID); rerr != nil {
			log.Warnw("failed to retire allocation after sync failure", "allocation", allocID, "error", rerr)
		}
		return nil, err
	}
	result, ok := results[channelID]
	if !ok {
		return nil, nil
	}
	if paych.IsOurTurn(result.TurnNum) && result.TurnNum >= 3 {
		if err := m.cache.SubmitReceipt(ctx, result); err != nil {
			return nil, err
		}
		return &result, nil
	}
	return nil, nil
}

func (m *ChannelManagerImpl) retireAllocationOnFailure(ctx context.Context, allocID string) error {
	report, err := m.cache.RetireChannels(ctx, allocID)
	if err != nil {
		return err
	}
	if len(report.ChannelIDs) > 0 {
		m.bus.Publish(insights.Event{Kind: insights.KindChannelsRetired, Retired: &insights.ChannelsRetired{Report: report}})
	}
	return nil
}

// closeRetired finalises the on-chain close of every retired, not-yet-closed
// channel, grouped by allocation and chunked to bound wallet fan-out.
func (m *ChannelManagerImpl) closeRetired(ctx context.Context) error {
	closable, err := m.cache.ClosableChannels(ctx)
	if err != nil {
		return err
	}
	group, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(m.opts.CloseConcurrency))
	for allocID, ids := range closable {
		allocID := allocID
		for _, part := range chunk(ids, m.opts.CloseChunkSize) {
			part := part
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			group.Go(func() error {
				defer sem.Release(1)
				outbox, err := m.wallet.CloseChannels(gctx, part)
				if err != nil {
					return err
				}
				for _, o := range outbox {
					if _, err := m.exchange(gctx, o); err != nil {
						return err
					}
				}
				if err := m.cache.RemoveChannels(gctx, part); err != nil {
					return err
				}
				m.bus.Publish(insights.Event{Kind: insights.KindChannelsClosed, Closed: &insights.ChannelsClosed{
					AllocationID: allocID,
					ChannelIDs:   part,
				}})
				return nil
			})
		}
	}
	return group.Wait()
}
