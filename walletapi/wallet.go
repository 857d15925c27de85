package walletapi

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

// Wallet is the cryptographic state-channel wallet this core consumes. It
// signs and persists state transitions and never hands out private key
// material. Every method is safe for concurrent use by multiple goroutines.
type Wallet interface {
	// CreateChannels proposes n new payment channels sharing startState.
	//
	// @input - context, start state, number of channels.
	//
	// @output - created channel results, outbox (exactly one entry),
	// objectives tracking each channel's handshake, error.
	CreateChannels(ctx context.Context, startState paych.StartState, n int) ([]paych.ChannelResult, []paych.Outbox, []paych.Objective, error)

	// CreateLedgerChannel proposes a ledger channel funding an allocation.
	//
	// @input - context, start state, funding strategy.
	//
	// @output - created channel result, outbox (exactly one entry), error.
	CreateLedgerChannel(ctx context.Context, startState paych.StartState, strategy paych.FundingStrategy) (paych.ChannelResult, []paych.Outbox, error)

	// UpdateChannel advances a running channel by one state, e.g. to record
	// a payment.
	//
	// @input - context, channel id, new outcome, new app data.
	//
	// @output - updated channel result, outbox (zero or one entry), error.
	UpdateChannel(ctx context.Context, channelID string, outcome []byte, appData []byte) (paych.ChannelResult, []paych.Outbox, error)

	// PushMessage feeds a peer-originated payload into the wallet's protocol
	// engine. Re-submitting the same payload is idempotent.
	//
	// @input - context, payload received from a peer.
	//
	// @output - channel results touched by this message, outbox (zero or
	// one entry) to continue the exchange, error.
	PushMessage(ctx context.Context, payload []byte) ([]paych.ChannelResult, []paych.Outbox, error)

	// SyncChannel produces a payload that re-sends a channel's latest known
	// state to its counterparty, used to recover a stalled channel.
	//
	// @input - context, channel id.
	//
	// @output - current channel result, outbox (zero or one entry), error.
	SyncChannel(ctx context.Context, channelID string) (paych.ChannelResult, []paych.Outbox, error)

	// CloseChannels requests a cooperative close of the given channels.
	//
	// @input - context, channel ids.
	//
	// @output - outbox entries to complete the close, error.
	CloseChannels(ctx context.Context, channelIDs []string) ([]paych.Outbox, error)

	// GetChannels returns every payment channel the wallet currently holds
	// state for, used to reconcile the cache on startup.
	//
	// @input - context.
	//
	// @output - channel results, error.
	GetChannels(ctx context.Context) ([]paych.ChannelResult, error)

	// GetLedgerChannels returns every ledger channel the wallet currently
	// holds state for, used to reconcile the cache on startup.
	//
	// @input - context.
	//
	// @output - ledger channel results, error.
	GetLedgerChannels(ctx context.Context) ([]paych.LedgerChannel, error)

	// SubscribeObjectiveSuccess registers fn to be called exactly once per
	// objective reaching terminal success.
	//
	// @input - callback.
	//
	// @output - unsubscribe function.
	SubscribeObjectiveSuccess(fn func(paych.Objective)) func()

	// RegisterAppBytecode registers the attestation application bytecode at
	// address. Idempotent by address.
	//
	// @input - context, app address, bytecode.
	//
	// @output - error.
	RegisterAppBytecode(ctx context.Context, address string, bytecode []byte) error

	// GetSigningAddress returns this wallet's own signing address.
	//
	// @input - context.
	//
	// @output - signing address, error.
	GetSigningAddress(ctx context.Context) (string, error)
}

// MessageSender delivers a state channel payload to a remote peer and
// returns its response, if any. Implementations are not expected to retry;
// a transport failure is treated by this core as "no response".
type MessageSender interface {
	// Send delivers payload to recipient and returns the counterparty's
	// response payload, if one is returned synchronously.
	//
	// @input - context, recipient address, payload.
	//
	// @output - response payload (nil if none), error.
	Send(ctx context.Context, recipient string, payload []byte) ([]byte, error)
}
