// Package paymgr is the payment path: it acquires a leased channel from the
// cache, advances it by exactly one payment, and later reconciles the
// indexer's signed receipt back into the cache.
package paymgr

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
	"math/big"

	logging "github.com/ipfs/go-log/v2"
)

var log = logging.Logger("paymgr")

// Payment describes one micropayment to construct against a leased channel.
type Payment struct {
	AllocationID string
	Amount       *big.Int
	RequestCID   string
	SubgraphID   string
}

// ReceiptOutcome is the accept/decline flag this core decodes out of the
// wallet's app data on a submitted receipt. The attestation semantics
// themselves are an external concern; this core only surfaces the flag.
type ReceiptOutcome struct {
	ChannelID string
	Accepted  bool
}

// PaymentManager is the payment path.
type PaymentManager interface {
	// CreatePayment leases a channel for allocationID, advances it by
	// payment.Amount, and returns the outgoing payload to deliver to the
	// indexer. The channel remains leased in the cache under its new,
	// unconfirmed state; SubmitReceipt must be called with the indexer's
	// reply to confirm it.
	//
	// @input - context, payment.
	//
	// @output - outgoing payload, error (*walletapi.NoFreeChannelsError if
	// no channel is currently free).
	CreatePayment(ctx context.Context, payment Payment) ([]byte, error)

	// SubmitReceipt pushes the indexer's reply into the wallet and
	// reconciles the resulting channel state into the cache.
	//
	// @input - context, indexer reply payload.
	//
	// @output - receipt outcome, error.
	SubmitReceipt(ctx context.Context, payload []byte) (ReceiptOutcome, error)
}

// appData is the opaque per-payment state this core writes into a channel's
// app data field; the attestation layer above interprets RequestCID and
// SubgraphID, this core only threads them through.
type appData struct {
	RequestCID string `json:"requestCid"`
	SubgraphID string `json:"subgraphId"`
	Accepted   bool   `json:"accepted"`
}
