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

	"github.com/edgeandnode/gateway-channels/paych"
)

// PopulateCache reconciles the cache against the wallet's own persisted
// state. A channel row exists iff the wallet holds persistent state for it,
// so on process start (or after a crash) this reads every channel and
// ledger channel the wallet knows about and upserts them into the cache,
// grouped by the allocation (contextId) each channel result already
// carries.
//
// @input - context.
//
// @output - error.
func (m *ChannelManagerImpl) PopulateCache(ctx context.Context) error {
	channels, err := m.wallet.GetChannels(ctx)
	if err != nil {
		return err
	}
	byContext := make(map[string][]paych.ChannelResult)
	for _, ch := range channels {
		byContext[ch.ContextID] = append(byContext[ch.ContextID], ch)
	}
	for ctxID, chs := range byContext {
		if _, err := m.cache.InsertChannels(ctx, ctxID, chs); err != nil {
			return err
		}
	}

	ledgers, err := m.wallet.GetLedgerChannels(ctx)
	if err != nil {
		return err
	}
	for _, lc := range ledgers {
		if err := m.cache.InsertLedgerChannel(ctx, lc.ContextID, lc.ChannelID, lc.InitialOutcome); err != nil {
			return err
		}
	}
	log.Infow("populated cache from wallet", "channels", len(channels), "ledgers", len(ledgers))
	return nil
}
