package paych

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

import "math/big"

// Allocation identifies the collaboration context a channel belongs to:
// one indexer serving one subgraph deployment.
type Allocation struct {
	ID         string // Allocation id, as assigned by the network subgraph.
	Indexer    string // Indexer signing address.
	PeerURL    string // Peer URL the message sender dials to reach this indexer.
	Deployment string // Subgraph deployment id.
}

// ChannelResult is the wallet's view of a channel after some operation.
// It is the unit of state this core persists in the cache.
type ChannelResult struct {
	ChannelID   string
	ContextID   string // Allocation id this channel serves.
	TurnNum     uint64
	PayerBal    *big.Int
	ReceiverBal *big.Int
	AppData     []byte
	Outcome     []byte
	Retired     bool
}

// LedgerChannel is a funding channel shared by many payment channels of one
// allocation.
type LedgerChannel struct {
	ChannelID      string
	ContextID      string
	InitialOutcome []byte
}

// Outbox is a single peer-addressed payload produced by a wallet operation.
type Outbox struct {
	Recipient string
	Payload   []byte
}

// Objective is a wallet-tracked asynchronous goal, e.g. "open channel X".
type Objective struct {
	ID        string
	ChannelID string
}

// StartState describes the initial on-chain/off-chain parameters used to
// create a batch of payment channels, or a single ledger channel.
type StartState struct {
	ContextID            string // Allocation id the resulting channel(s) will serve.
	Participants         []string
	AssetHolderAddress   string
	AppAddress           string // Attestation app bytecode address.
	ChainID              uint64
	Amount               *big.Int
	ChallengeDuration    uint64
	LedgerChannelID      string // Set when the payment channels are funded via a ledger.
}

// RetireReport summarises the effect of retiring every active channel of one
// allocation.
type RetireReport struct {
	ContextID  string
	Amount     *big.Int
	ChannelIDs []string
}

// FundingStrategy selects how a ledger channel acquires its on-chain capital.
type FundingStrategy int

const (
	// FundingDirect requires the ledger to be confirmed on-chain before use.
	FundingDirect FundingStrategy = iota
	// FundingFake bypasses on-chain confirmation; used in tests and local runs.
	FundingFake
)

// CapacityOp names how a requested capacity combines with the current one.
type CapacityOp int

const (
	// SetTo sets capacity to Num, never reducing the current count.
	SetTo CapacityOp = iota
	// IncreaseBy adds Num to the current count.
	IncreaseBy
	// ScaleBy multiplies the current count by Num; current must be > 0.
	ScaleBy
)

// CapacityRequest is one entry of an EnsureAllocations call.
type CapacityRequest struct {
	Allocation Allocation
	Op         CapacityOp
	Num        float64
}

// IsOurTurn reports whether the local participant is expected to move next.
func IsOurTurn(turnNum uint64) bool {
	return turnNum%2 == 1
}

// IsReadying reports whether a channel has been proposed but never run.
func IsReadying(turnNum uint64) bool {
	return turnNum == 0
}
