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
	"time"

	"github.com/benbjohnson/clock"
)

const (
	defaultTxnTimeout = 5 * time.Second
)

// Opts configures a ChannelCache.
type Opts struct {
	DSN string // PostgreSQL connection string.

	TxnTimeout time.Duration // Per-lease transaction timeout.

	Clock clock.Clock // Substituted with a mock clock in tests.
}

func (o Opts) withDefaults() Opts {
	if o.TxnTimeout == 0 {
		o.TxnTimeout = defaultTxnTimeout
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}
