// Package fakewallet provides an in-memory walletapi.Wallet used by tests
// and local, non-production runs of the daemon. It simulates just enough of
// a two-party state channel handshake to exercise this core's pooling and
// messaging logic; it makes no cryptographic guarantee whatsoever.
package fakewallet

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
	"encoding/json"
	"fmt"
	"math/big"
	"sync"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

var log = logging.Logger("fakewallet")

// wireMsg is the JSON envelope exchanged between two FakeWallets.
type wireMsg struct {
	Kind       string               `json:"kind"`
	Channels   []paych.ChannelResult `json:"channels,omitempty"`
	Ledger     *paych.LedgerChannel `json:"ledger,omitempty"`
	Objectives []string             `json:"objectives,omitempty"`
}

// FakeWallet is a bidirectional, in-memory wallet. Two instances are wired
// together with Connect so each can address the other as its sole peer.
type FakeWallet struct {
	mu      sync.Mutex
	addr    string
	peer    *FakeWallet
	channels map[string]*paych.ChannelResult
	ledgers  map[string]*paych.LedgerChannel
	closed   map[string]bool
	pending  map[string]paych.Objective
	subs     []func(paych.Objective)
	bytecode map[string][]byte
}

// New creates a FakeWallet with the given signing address.
func New(signingAddress string) *FakeWallet {
	return &FakeWallet{
		addr:     signingAddress,
		channels: make(map[string]*paych.ChannelResult),
		ledgers:  make(map[string]*paych.LedgerChannel),
		closed:   make(map[string]bool),
		pending:  make(map[string]paych.Objective),
		bytecode: make(map[string][]byte),
	}
}

// Connect wires two fake wallets together as each other's sole peer.
func Connect(a, b *FakeWallet) {
	a.mu.Lock()
	a.peer = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peer = a
	b.mu.Unlock()
}

func (w *FakeWallet) peerAddr() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.peer == nil {
		return ""
	}
	return w.peer.addr
}

func (w *FakeWallet) CreateChannels(ctx context.Context, startState paych.StartState, n int) ([]paych.ChannelResult, []paych.Outbox, []paych.Objective, error) {
	if n <= 0 {
		return nil, nil, nil, &walletapi.ValidationError{Reason: "n must be positive"}
	}
	w.mu.Lock()
	channels := make([]paych.ChannelResult, 0, n)
	objectives := make([]paych.Objective, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New().String()
		payer := new(big.Int).Set(startState.Amount)
		ch := paych.ChannelResult{
			ChannelID:   id,
			ContextID:   startState.ContextID,
			TurnNum:     0,
			PayerBal:    payer,
			ReceiverBal: big.NewInt(0),
			AppData:     []byte{},
			Outcome:     []byte{},
		}
		w.channels[id] = &ch
		obj := paych.Objective{ID: uuid.New().String(), ChannelID: id}
		w.pending[obj.ID] = obj
		channels = append(channels, ch)
		objectives = append(objectives, obj)
	}
	w.mu.Unlock()

	ids := make([]string, len(objectives))
	for i, o := range objectives {
		ids[i] = o.ID
	}
	payload, err := json.Marshal(wireMsg{Kind: "propose", Channels: channels, Objectives: ids})
	if err != nil {
		return nil, nil, nil, &walletapi.StorageError{Cause: err}
	}
	outbox := []paych.Outbox{{Recipient: w.peerAddr(), Payload: payload}}
	log.Debugw("created channels", "n", n, "first", channels[0].ChannelID)
	return channels, outbox, objectives, nil
}

func (w *FakeWallet) CreateLedgerChannel(ctx context.Context, startState paych.StartState, strategy paych.FundingStrategy) (paych.ChannelResult, []paych.Outbox, error) {
	id := uuid.New().String()
	ch := paych.ChannelResult{
		ChannelID:   id,
		ContextID:   startState.ContextID,
		TurnNum:     0,
		PayerBal:    new(big.Int).Set(startState.Amount),
		ReceiverBal: big.NewInt(0),
	}
	w.mu.Lock()
	w.channels[id] = &ch
	w.mu.Unlock()

	payload, err := json.Marshal(wireMsg{Kind: "ledger-propose", Ledger: &paych.LedgerChannel{ChannelID: id, ContextID: startState.ContextID}})
	if err != nil {
		return paych.ChannelResult{}, nil, &walletapi.StorageError{Cause: err}
	}
	outbox := []paych.Outbox{{Recipient: w.peerAddr(), Payload: payload}}
	return ch, outbox, nil
}

func (w *FakeWallet) UpdateChannel(ctx context.Context, channelID string, outcome []byte, appData []byte) (paych.ChannelResult, []paych.Outbox, error) {
	w.mu.Lock()
	ch, ok := w.channels[channelID]
	if !ok {
		w.mu.Unlock()
		return paych.ChannelResult{}, nil, &walletapi.ValidationError{Reason: fmt.Sprintf("unknown channel %v", channelID)}
	}
	updated := *ch
	updated.TurnNum++ // propose: odd -> even, channel is in flight until countersigned
	updated.Outcome = outcome
	updated.AppData = appData
	// An outcome carrying payer/receiver amounts (as paymgr encodes it) sets
	// the new balances; any other outcome leaves them unchanged.
	var bals struct{ Payer, Receiver string }
	if json.Unmarshal(outcome, &bals) == nil {
		if p, ok := new(big.Int).SetString(bals.Payer, 10); ok {
			updated.PayerBal = p
		}
		if r, ok := new(big.Int).SetString(bals.Receiver, 10); ok {
			updated.ReceiverBal = r
		}
	}
	w.channels[channelID] = &updated
	w.mu.Unlock()

	payload, err := json.Marshal(wireMsg{Kind: "update", Channels: []paych.ChannelResult{updated}})
	if err != nil {
		return paych.ChannelResult{}, nil, &walletapi.StorageError{Cause: err}
	}
	return updated, []paych.Outbox{{Recipient: w.peerAddr(), Payload: payload}}, nil
}

func (w *FakeWallet) PushMessage(ctx context.Context, payload []byte) ([]paych.ChannelResult, []paych.Outbox, error) {
	var msg wireMsg
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, nil, &walletapi.ProtocolViolation{Detail: "malformed payload: " + err.Error()}
	}
	switch msg.Kind {
	case "propose":
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ready := ch
			ready.TurnNum = 3
			w.channels[ch.ChannelID] = &ready
			results = append(results, ready)
		}
		w.mu.Unlock()
		reply, err := json.Marshal(wireMsg{Kind: "accept", Channels: results})
		if err != nil {
			return nil, nil, &walletapi.StorageError{Cause: err}
		}
		return results, []paych.Outbox{{Recipient: w.peerAddr(), Payload: reply}}, nil
	case "accept":
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ch := ch
			w.channels[ch.ChannelID] = &ch
			results = append(results, ch)
			for oid, obj := range w.pending {
				if obj.ChannelID == ch.ChannelID {
					delete(w.pending, oid)
					subs := append([]func(paych.Objective){}, w.subs...)
					go func(o paych.Objective) {
						for _, f := range subs {
							f(o)
						}
					}(obj)
				}
			}
		}
		w.mu.Unlock()
		return results, nil, nil
	case "ledger-propose":
		w.mu.Lock()
		lc := paych.LedgerChannel{ChannelID: msg.Ledger.ChannelID, ContextID: msg.Ledger.ContextID}
		w.ledgers[lc.ChannelID] = &lc
		w.mu.Unlock()
		reply, err := json.Marshal(wireMsg{Kind: "ledger-accept", Ledger: &lc})
		if err != nil {
			return nil, nil, &walletapi.StorageError{Cause: err}
		}
		return nil, []paych.Outbox{{Recipient: w.peerAddr(), Payload: reply}}, nil
	case "ledger-accept":
		w.mu.Lock()
		w.ledgers[msg.Ledger.ChannelID] = msg.Ledger
		w.mu.Unlock()
		return nil, nil, nil
	case "update":
		// Counter-sign: the proposal arrives on an even turnNum (in flight,
		// awaiting our signature); signing advances it to odd again, handing
		// the move back to the proposer as a confirmed receipt. A re-sent
		// proposal we already signed returns the same countersigned result
		// rather than signing twice, so PushMessage stays idempotent.
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ch := ch
			if known, ok := w.channels[ch.ChannelID]; ok && known.TurnNum == ch.TurnNum+1 {
				results = append(results, *known)
				continue
			}
			ch.TurnNum++
			w.channels[ch.ChannelID] = &ch
			results = append(results, ch)
		}
		w.mu.Unlock()
		reply, err := json.Marshal(wireMsg{Kind: "receipt", Channels: results})
		if err != nil {
			return nil, nil, &walletapi.StorageError{Cause: err}
		}
		return results, []paych.Outbox{{Recipient: w.peerAddr(), Payload: reply}}, nil
	case "receipt":
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ch := ch
			w.channels[ch.ChannelID] = &ch
			results = append(results, ch)
		}
		w.mu.Unlock()
		return results, nil, nil
	case "resync":
		// The resent state may be behind what we already hold (we signed a
		// receipt that never made it back to the stalled peer) or still
		// awaiting our countersignature (we never received the original
		// proposal at all). Either way, reply with the newest valid state
		// instead of silently regressing turnNum.
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ch := ch
			known, ok := w.channels[ch.ChannelID]
			switch {
			case ok && known.TurnNum > ch.TurnNum:
				results = append(results, *known)
			case ch.TurnNum%2 == 0:
				ch.TurnNum++
				w.channels[ch.ChannelID] = &ch
				results = append(results, ch)
			default:
				w.channels[ch.ChannelID] = &ch
				results = append(results, ch)
			}
		}
		w.mu.Unlock()
		reply, err := json.Marshal(wireMsg{Kind: "resync-ack", Channels: results})
		if err != nil {
			return nil, nil, &walletapi.StorageError{Cause: err}
		}
		return results, []paych.Outbox{{Recipient: w.peerAddr(), Payload: reply}}, nil
	case "resync-ack":
		w.mu.Lock()
		results := make([]paych.ChannelResult, 0, len(msg.Channels))
		for _, ch := range msg.Channels {
			ch := ch
			w.channels[ch.ChannelID] = &ch
			results = append(results, ch)
		}
		w.mu.Unlock()
		return results, nil, nil
	case "close":
		w.mu.Lock()
		for _, ch := range msg.Channels {
			w.closed[ch.ChannelID] = true
			delete(w.channels, ch.ChannelID)
		}
		w.mu.Unlock()
		return nil, nil, nil
	default:
		return nil, nil, &walletapi.ProtocolViolation{Detail: "unknown message kind " + msg.Kind}
	}
}

func (w *FakeWallet) SyncChannel(ctx context.Context, channelID string) (paych.ChannelResult, []paych.Outbox, error) {
	w.mu.Lock()
	ch, ok := w.channels[channelID]
	if !ok {
		w.mu.Unlock()
		return paych.ChannelResult{}, nil, &walletapi.ValidationError{Reason: fmt.Sprintf("unknown channel %v", channelID)}
	}
	snapshot := *ch
	w.mu.Unlock()
	payload, err := json.Marshal(wireMsg{Kind: "resync", Channels: []paych.ChannelResult{snapshot}})
	if err != nil {
		return paych.ChannelResult{}, nil, &walletapi.StorageError{Cause: err}
	}
	return snapshot, []paych.Outbox{{Recipient: w.peerAddr(), Payload: payload}}, nil
}

func (w *FakeWallet) CloseChannels(ctx context.Context, channelIDs []string) ([]paych.Outbox, error) {
	w.mu.Lock()
	channels := make([]paych.ChannelResult, 0, len(channelIDs))
	for _, id := range channelIDs {
		if ch, ok := w.channels[id]; ok {
			channels = append(channels, *ch)
			w.closed[id] = true
			delete(w.channels, id)
		}
	}
	w.mu.Unlock()
	if len(channels) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(wireMsg{Kind: "close", Channels: channels})
	if err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	return []paych.Outbox{{Recipient: w.peerAddr(), Payload: payload}}, nil
}

func (w *FakeWallet) GetChannels(ctx context.Context) ([]paych.ChannelResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]paych.ChannelResult, 0, len(w.channels))
	for id, ch := range w.channels {
		if _, isLedger := w.ledgers[id]; isLedger {
			continue
		}
		out = append(out, *ch)
	}
	return out, nil
}

func (w *FakeWallet) GetLedgerChannels(ctx context.Context) ([]paych.LedgerChannel, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]paych.LedgerChannel, 0, len(w.ledgers))
	for _, lc := range w.ledgers {
		out = append(out, *lc)
	}
	return out, nil
}

func (w *FakeWallet) SubscribeObjectiveSuccess(fn func(paych.Objective)) func() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
	idx := len(w.subs) - 1
	return func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		w.subs[idx] = func(paych.Objective) {}
	}
}

func (w *FakeWallet) RegisterAppBytecode(ctx context.Context, address string, bytecode []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bytecode[address] = bytecode
	return nil
}

func (w *FakeWallet) GetSigningAddress(ctx context.Context) (string, error) {
	return w.addr, nil
}

// DirectSender is a walletapi.MessageSender that delivers straight into a
// FakeWallet's PushMessage, bypassing any real transport. It is the fake
// counterpart of the out-of-scope HTTP message sender.
type DirectSender struct {
	Peer *FakeWallet
}

func (s *DirectSender) Send(ctx context.Context, recipient string, payload []byte) ([]byte, error) {
	_, outbox, err := s.Peer.PushMessage(ctx, payload)
	if err != nil {
		return nil, err
	}
	if len(outbox) == 0 {
		return nil, nil
	}
	return outbox[0].Payload, nil
}
