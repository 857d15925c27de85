// Package channelmgr is the capacity controller: it keeps the number of
// active channels per allocation equal to the requested capacity, driving
// the wallet and message exchange to open, heal, retire and close channels,
// and it reports every transition on an insights bus.
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
	"time"

	"github.com/edgeandnode/gateway-channels/paych"
)

// ChannelManager is the capacity controller.
type ChannelManager interface {
	// EnsureAllocations provisions or grows channels for each request,
	// never reducing existing capacity. Capacity is clamped, with a logged
	// warning, to maxCapacity = floor(FundsPerAllocation / PaymentChannelFundingAmount).
	//
	// @input - context, capacity requests.
	//
	// @output - error.
	EnsureAllocations(ctx context.Context, requests []paych.CapacityRequest) error

	// SyncAllocations computes the diff between requests and the current
	// state, ensuring the requested allocations and removing the rest. The
	// whole operation is serialised process-wide by a "syncAllocations"
	// named lock.
	//
	// @input - context, capacity requests describing the target state.
	//
	// @output - error.
	SyncAllocations(ctx context.Context, requests []paych.CapacityRequest) error

	// RemoveAllocations retires and closes every channel (and ledger, if
	// used) of the given allocations.
	//
	// @input - context, allocation ids.
	//
	// @output - error.
	RemoveAllocations(ctx context.Context, ids []string) error

	// ChannelCount reports, for each given allocation id (or every known
	// allocation when ids is empty), its active channel count.
	//
	// @input - context, allocation ids filter.
	//
	// @output - allocation id to count, error.
	ChannelCount(ctx context.Context, ids []string) (map[string]int, error)

	// SyncChannels heals channels stalled for at least stalledFor,
	// optionally scoped to allocationIDs and bounded by limit.
	//
	// @input - context, stall threshold, result limit, allocation id
	// filter.
	//
	// @output - ids of channels that resumed, error.
	SyncChannels(ctx context.Context, stalledFor time.Duration, limit int, allocationIDs []string) ([]string, error)

	// PopulateCache reconciles the cache against the wallet's own persisted
	// channel and ledger channel state. Call once on daemon start (or after
	// recovering from a crash) before serving any capacity or payment
	// requests.
	//
	// @input - context.
	//
	// @output - error.
	PopulateCache(ctx context.Context) error
}
