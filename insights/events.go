package insights

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

import "github.com/edgeandnode/gateway-channels/paych"

// Event is the common envelope for every channel lifecycle insight. Exactly
// one of the typed fields is populated, matching which Kind it carries.
type Event struct {
	Kind Kind

	Created *ChannelsCreated
	Ready   *ChannelsReady
	Synced  *ChannelsSynced
	Retired *ChannelsRetired
	Closed  *ChannelsClosed
}

// Kind identifies which lifecycle transition an Event carries.
type Kind int

const (
	KindChannelsCreated Kind = iota
	KindChannelsReady
	KindChannelsSynced
	KindChannelsRetired
	KindChannelsClosed
)

// ChannelsCreated reports newly proposed channels for an allocation.
type ChannelsCreated struct {
	AllocationID string
	Channels     []paych.ChannelResult
}

// ChannelsReady reports channels that completed their opening handshake and
// became acquirable.
type ChannelsReady struct {
	AllocationID string
	Channels     []paych.ChannelResult
}

// ChannelsSynced reports channels recovered by SyncChannels.
type ChannelsSynced struct {
	AllocationID string
	ChannelIDs   []string
}

// ChannelsRetired reports an allocation's channels being marked retired.
type ChannelsRetired struct {
	Report paych.RetireReport
}

// ChannelsClosed reports channels that finished an on-chain close.
type ChannelsClosed struct {
	AllocationID string
	ChannelIDs   []string
}
