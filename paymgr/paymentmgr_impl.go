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
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/edgeandnode/gateway-channels/channelcache"
	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

// PaymentManagerImpl is the default PaymentManager.
type PaymentManagerImpl struct {
	wallet walletapi.Wallet
	cache  channelcache.ChannelCache
}

// NewPaymentManager wires a PaymentManager over the given wallet and cache.
func NewPaymentManager(wallet walletapi.Wallet, cache channelcache.ChannelCache) *PaymentManagerImpl {
	return &PaymentManagerImpl{wallet: wallet, cache: cache}
}

func (p *PaymentManagerImpl) CreatePayment(ctx context.Context, payment Payment) ([]byte, error) {
	if payment.Amount == nil || payment.Amount.Sign() <= 0 {
		return nil, &walletapi.ValidationError{Reason: "payment amount must be positive"}
	}

	var payload []byte
	_, err := p.cache.AcquireChannel(ctx, payment.AllocationID, func(snapshot paych.ChannelResult) (paych.ChannelResult, interface{}, error) {
		if payment.Amount.Cmp(snapshot.PayerBal) > 0 {
			return snapshot, nil, &walletapi.ValidationError{Reason: fmt.Sprintf("amount %v exceeds payer balance %v", payment.Amount, snapshot.PayerBal)}
		}
		data, err := json.Marshal(appData{RequestCID: payment.RequestCID, SubgraphID: payment.SubgraphID})
		if err != nil {
			return snapshot, nil, &walletapi.StorageError{Cause: err}
		}
		newPayer := new(big.Int).Sub(snapshot.PayerBal, payment.Amount)
		newReceiver := new(big.Int).Add(snapshot.ReceiverBal, payment.Amount)
		outcome := encodeOutcome(newPayer, newReceiver)

		updated, outbox, err := p.wallet.UpdateChannel(ctx, snapshot.ChannelID, outcome, data)
		if err != nil {
			return snapshot, nil, err
		}
		if len(outbox) != 1 {
			return snapshot, nil, &walletapi.ProtocolViolation{Detail: fmt.Sprintf("expected exactly one outbox entry for a payment, got %v", len(outbox))}
		}
		payload = outbox[0].Payload
		return updated, nil, nil
	})
	if err != nil {
		return nil, err
	}
	log.Debugw("created payment", "allocation", payment.AllocationID, "amount", payment.Amount)
	return payload, nil
}

func (p *PaymentManagerImpl) SubmitReceipt(ctx context.Context, payload []byte) (ReceiptOutcome, error) {
	results, outbox, err := p.wallet.PushMessage(ctx, payload)
	if err != nil {
		return ReceiptOutcome{}, err
	}
	if len(results) != 1 || len(outbox) != 0 {
		return ReceiptOutcome{}, &walletapi.ProtocolViolation{Detail: fmt.Sprintf("expected exactly one channel result and no outbox, got %v results and %v outbox entries", len(results), len(outbox))}
	}
	result := results[0]
	if err := p.cache.SubmitReceipt(ctx, result); err != nil {
		return ReceiptOutcome{}, err
	}

	var data appData
	if err := json.Unmarshal(result.AppData, &data); err != nil {
		return ReceiptOutcome{}, &walletapi.ProtocolViolation{Detail: "malformed app data in receipt: " + err.Error()}
	}
	return ReceiptOutcome{ChannelID: result.ChannelID, Accepted: data.Accepted}, nil
}

func encodeOutcome(payer, receiver *big.Int) []byte {
	b, _ := json.Marshal(struct {
		Payer    string `json:"payer"`
		Receiver string `json:"receiver"`
	}{Payer: payer.String(), Receiver: receiver.String()})
	return b
}
