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

	"github.com/shopspring/decimal"

	"github.com/edgeandnode/gateway-channels/paych"
)

// paymentChannelRow is the gorm-mapped row backing one payment channel.
type paymentChannelRow struct {
	ChannelID   string          `gorm:"column:channel_id;primaryKey"`
	ContextID   string          `gorm:"column:context_id;index:idx_payment_channels_context_turn"`
	TurnNum     uint64          `gorm:"column:turn_num;index:idx_payment_channels_context_turn"`
	PayerBal    decimal.Decimal `gorm:"column:payer_bal;type:DECIMAL(38,0)"`
	ReceiverBal decimal.Decimal `gorm:"column:receiver_bal;type:DECIMAL(38,0)"`
	AppData     []byte          `gorm:"column:app_data"`
	Outcome     []byte          `gorm:"column:outcome"`
	Retired     bool            `gorm:"column:retired;index:idx_payment_channels_retired_updated"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;index:idx_payment_channels_retired_updated"`
}

func (paymentChannelRow) TableName() string {
	return "payment_channels"
}

func rowFromResult(ctxID string, r paych.ChannelResult, now time.Time) paymentChannelRow {
	return paymentChannelRow{
		ChannelID:   r.ChannelID,
		ContextID:   ctxID,
		TurnNum:     r.TurnNum,
		PayerBal:    decimal.NewFromBigInt(r.PayerBal, 0),
		ReceiverBal: decimal.NewFromBigInt(r.ReceiverBal, 0),
		AppData:     r.AppData,
		Outcome:     r.Outcome,
		Retired:     r.Retired,
		UpdatedAt:   now,
	}
}

func (row paymentChannelRow) toResult() paych.ChannelResult {
	return paych.ChannelResult{
		ChannelID:   row.ChannelID,
		ContextID:   row.ContextID,
		TurnNum:     row.TurnNum,
		PayerBal:    row.PayerBal.BigInt(),
		ReceiverBal: row.ReceiverBal.BigInt(),
		AppData:     row.AppData,
		Outcome:     row.Outcome,
		Retired:     row.Retired,
	}
}

// ledgerChannelRow is the gorm-mapped row backing one ledger channel.
type ledgerChannelRow struct {
	ChannelID      string `gorm:"column:channel_id;primaryKey"`
	ContextID      string `gorm:"column:context_id;index:idx_ledger_channels_context"`
	InitialOutcome []byte `gorm:"column:initial_outcome"`
}

func (ledgerChannelRow) TableName() string {
	return "ledger_channels"
}

func (row ledgerChannelRow) toResult() paych.LedgerChannel {
	return paych.LedgerChannel{
		ChannelID:      row.ChannelID,
		ContextID:      row.ContextID,
		InitialOutcome: row.InitialOutcome,
	}
}
