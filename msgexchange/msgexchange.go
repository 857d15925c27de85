// Package msgexchange drives a state-channel handshake between this gateway
// and a single remote peer to quiescence: send, feed the reply back into the
// wallet, and repeat until the wallet's outbox is empty.
package msgexchange

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
	"fmt"

	logging "github.com/ipfs/go-log/v2"

	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

var log = logging.Logger("msgexchange")

// Wallet is the subset of walletapi.Wallet the exchange loop needs.
type Wallet interface {
	PushMessage(ctx context.Context, payload []byte) ([]paych.ChannelResult, []paych.Outbox, error)
}

// Run drives initial against sender/wallet until the outbox is drained,
// returning the latest channel result observed per channel id. A transport
// failure ends the loop early with whatever has accumulated so far; it is
// never returned as an error, since a peer that stops responding simply
// leaves its channels stalled for later healing.
func Run(ctx context.Context, sender walletapi.MessageSender, wallet Wallet, initial paych.Outbox) (map[string]paych.ChannelResult, error) {
	acc := make(map[string]paych.ChannelResult)
	out := initial
	for {
		resp, err := sender.Send(ctx, out.Recipient, out.Payload)
		if err != nil {
			log.Warnw("transport failure, ending exchange", "recipient", out.Recipient, "error", err)
			return acc, nil
		}
		if resp == nil {
			return acc, nil
		}
		results, outbox, err := wallet.PushMessage(ctx, resp)
		if err != nil {
			return acc, err
		}
		for _, r := range results {
			acc[r.ChannelID] = r
		}
		if len(outbox) == 0 {
			return acc, nil
		}
		if len(outbox) > 1 {
			return acc, &walletapi.ProtocolViolation{Detail: fmt.Sprintf("expected at most one outbox entry, got %v", len(outbox))}
		}
		out = outbox[0]
	}
}
