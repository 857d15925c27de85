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
	"math/big"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/edgeandnode/gateway-channels/paych"
)

const (
	defaultChallengeDurationLedger  = time.Hour
	defaultChallengeDurationPayment = 10 * time.Minute
	defaultBackoffInitialDelay      = time.Second
	defaultBackoffNumAttempts       = 5
	defaultCreateChunkSize          = 50
	defaultSyncConcurrencyPerPeer   = 4
	defaultSyncConcurrencyGroups    = 10
	defaultCloseChunkSize           = 6
	defaultCloseConcurrency         = 6
	defaultSyncOpeningPollInterval  = 2 * time.Second
	defaultSyncOpeningMaxAttempts   = 30
)

// Opts configures a ChannelManager.
type Opts struct {
	FundsPerAllocation          *big.Int
	PaymentChannelFundingAmount *big.Int
	FundingStrategy             paych.FundingStrategy
	UseLedger                   bool

	EnsureAllocationsConcurrency int // 0 = unbounded.

	SyncOpeningChannelsPollInterval time.Duration
	SyncOpeningChannelsMaxAttempts  int

	ChallengeDurationLedger  time.Duration
	ChallengeDurationPayment time.Duration

	BackoffInitialDelay time.Duration
	BackoffNumAttempts  int

	CreateChunkSize        int
	SyncConcurrencyPerPeer int
	SyncConcurrencyGroups  int
	CloseChunkSize         int
	CloseConcurrency       int

	ChainID            uint64
	AssetHolderAddress string
	AppAddress         string

	Clock clock.Clock
}

func (o Opts) withDefaults() Opts {
	if o.ChallengeDurationLedger == 0 {
		o.ChallengeDurationLedger = defaultChallengeDurationLedger
	}
	if o.ChallengeDurationPayment == 0 {
		o.ChallengeDurationPayment = defaultChallengeDurationPayment
	}
	if o.BackoffInitialDelay == 0 {
		o.BackoffInitialDelay = defaultBackoffInitialDelay
	}
	if o.BackoffNumAttempts == 0 {
		o.BackoffNumAttempts = defaultBackoffNumAttempts
	}
	if o.CreateChunkSize == 0 {
		o.CreateChunkSize = defaultCreateChunkSize
	}
	if o.SyncConcurrencyPerPeer == 0 {
		o.SyncConcurrencyPerPeer = defaultSyncConcurrencyPerPeer
	}
	if o.SyncConcurrencyGroups == 0 {
		o.SyncConcurrencyGroups = defaultSyncConcurrencyGroups
	}
	if o.CloseChunkSize == 0 {
		o.CloseChunkSize = defaultCloseChunkSize
	}
	if o.CloseConcurrency == 0 {
		o.CloseConcurrency = defaultCloseConcurrency
	}
	if o.SyncOpeningChannelsPollInterval == 0 {
		o.SyncOpeningChannelsPollInterval = defaultSyncOpeningPollInterval
	}
	if o.SyncOpeningChannelsMaxAttempts == 0 {
		o.SyncOpeningChannelsMaxAttempts = defaultSyncOpeningMaxAttempts
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// maxCapacity is the largest number of payment channels one allocation's
// funds can support.
func (o Opts) maxCapacity() int {
	if o.PaymentChannelFundingAmount == nil || o.PaymentChannelFundingAmount.Sign() == 0 {
		return 0
	}
	max := new(big.Int).Div(o.FundsPerAllocation, o.PaymentChannelFundingAmount)
	return int(max.Int64())
}
