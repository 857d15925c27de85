// Package channelcache is the durable map of payment and ledger channels
// this core leases from. It is backed by PostgreSQL and uses
// SELECT ... FOR UPDATE SKIP LOCKED to let many goroutines (and many
// processes sharing the same database) acquire distinct channels without
// blocking one another.
package channelcache

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

// Critical is the body of work run while a channel is leased. It receives
// the current snapshot and returns the snapshot to persist plus a caller
// result. Returning an error rolls back the lease without mutating the row.
type Critical func(snapshot paych.ChannelResult) (paych.ChannelResult, interface{}, error)

// ChannelCache is the persistence and leasing layer for payment and ledger
// channels.
type ChannelCache interface {
	// Initialize runs the idempotent schema migration.
	//
	// @input - context.
	//
	// @output - error.
	Initialize(ctx context.Context) error

	// InsertChannels inserts or upserts channels belonging to ctxID.
	// An existing row is only updated when it transitions from turnNum 0
	// to a non-zero turnNum (proposed -> ready); any other conflict on an
	// existing channel id is a no-op.
	//
	// @input - context, allocation id, channel results.
	//
	// @output - channel ids actually inserted or promoted, error.
	InsertChannels(ctx context.Context, ctxID string, channels []paych.ChannelResult) ([]string, error)

	// RemoveChannels deletes the given channels from the cache.
	//
	// @input - context, channel ids.
	//
	// @output - error.
	RemoveChannels(ctx context.Context, channelIDs []string) error

	// RetireChannels flips retired=true on every non-retired channel of
	// ctxID and reports the indexer balance retired.
	//
	// @input - context, allocation id.
	//
	// @output - retire report, error.
	RetireChannels(ctx context.Context, ctxID string) (paych.RetireReport, error)

	// ActiveAllocations returns, for every allocation in ids (or every known
	// allocation if ids is empty), the count of its non-retired channels.
	//
	// @input - context, allocation ids filter.
	//
	// @output - allocation id to active channel count, error.
	ActiveAllocations(ctx context.Context, ids []string) (map[string]int, error)

	// ActiveChannels lists the non-retired channel ids of ctxID.
	//
	// @input - context, allocation id.
	//
	// @output - channel ids, error.
	ActiveChannels(ctx context.Context, ctxID string) ([]string, error)

	// ClosableChannels returns, per allocation, the retired channel ids
	// that have not yet been removed (pending wallet close).
	//
	// @input - context.
	//
	// @output - allocation id to channel ids, error.
	ClosableChannels(ctx context.Context) (map[string][]string, error)

	// ReadyingChannels lists the channel ids of ctxID still at turnNum 0.
	//
	// @input - context, allocation id.
	//
	// @output - channel ids, error.
	ReadyingChannels(ctx context.Context, ctxID string) ([]string, error)

	// StalledChannels lists non-retired channel ids with an even turnNum
	// last updated at least minAge ago.
	//
	// @input - context, stall threshold, optional result limit, optional
	// allocation id filter.
	//
	// @output - channel ids, error.
	StalledChannels(ctx context.Context, minAge time.Duration, limit int, ctxID string) ([]string, error)

	// InsertLedgerChannel records a newly created ledger channel.
	//
	// @input - context, allocation id, channel id, initial outcome.
	//
	// @output - error.
	InsertLedgerChannel(ctx context.Context, ctxID string, channelID string, initialOutcome []byte) error

	// GetLedgerChannels lists the ledger channels of ctxID.
	//
	// @input - context, allocation id.
	//
	// @output - ledger channels, error.
	GetLedgerChannels(ctx context.Context, ctxID string) ([]paych.LedgerChannel, error)

	// RemoveLedgerChannels deletes the given ledger channels.
	//
	// @input - context, channel ids.
	//
	// @output - error.
	RemoveLedgerChannels(ctx context.Context, channelIDs []string) error

	// AcquireChannel leases one non-retired, odd-turnNum channel of ctxID,
	// runs critical against its snapshot, and writes the returned snapshot
	// back before releasing the lease. Fails with a *walletapi.NoFreeChannelsError
	// if no eligible channel exists.
	//
	// @input - context, allocation id, critical section.
	//
	// @output - critical's caller result, error.
	AcquireChannel(ctx context.Context, ctxID string, critical Critical) (interface{}, error)

	// SubmitReceipt writes result into the cache outside of a lease, used
	// when a confirmation arrives for a channel this process already holds
	// the only reference to (e.g. a receipt pushed back from a payment).
	//
	// @input - context, channel result.
	//
	// @output - error.
	SubmitReceipt(ctx context.Context, result paych.ChannelResult) error

	// ClearCache removes every row; used by tests.
	//
	// @input - context.
	//
	// @output - error.
	ClearCache(ctx context.Context) error

	// Destroy closes the underlying connection pool.
	Destroy()
}
