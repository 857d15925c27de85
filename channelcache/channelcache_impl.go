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
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	logging "github.com/ipfs/go-log/v2"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/edgeandnode/gateway-channels/paych"
	"github.com/edgeandnode/gateway-channels/walletapi"
)

var log = logging.Logger("channelcache")

// ChannelCacheImpl is the PostgreSQL-backed ChannelCache.
type ChannelCacheImpl struct {
	db         *gorm.DB
	clock      clock.Clock
	txnTimeout time.Duration
}

// NewChannelCache opens a connection pool to opts.DSN and returns a ready
// ChannelCache. Callers must still invoke Initialize before first use.
//
// @input - options.
//
// @output - channel cache, error.
func NewChannelCache(opts Opts) (*ChannelCacheImpl, error) {
	opts = opts.withDefaults()
	db, err := gorm.Open(postgres.Open(opts.DSN), &gorm.Config{})
	if err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	return &ChannelCacheImpl{db: db, clock: opts.Clock, txnTimeout: opts.TxnTimeout}, nil
}

func (c *ChannelCacheImpl) Initialize(ctx context.Context) error {
	if err := c.db.WithContext(ctx).AutoMigrate(&paymentChannelRow{}, &ledgerChannelRow{}); err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	log.Info("channel cache schema ready")
	return nil
}

func (c *ChannelCacheImpl) InsertChannels(ctx context.Context, ctxID string, channels []paych.ChannelResult) ([]string, error) {
	if len(channels) == 0 {
		return nil, nil
	}
	now := c.clock.Now()
	inserted := make([]string, 0, len(channels))
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, ch := range channels {
			row := rowFromResult(ctxID, ch, now)
			var existing paymentChannelRow
			err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("channel_id = ?", ch.ChannelID).First(&existing).Error
			switch {
			case err == gorm.ErrRecordNotFound:
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
				inserted = append(inserted, ch.ChannelID)
			case err != nil:
				return err
			default:
				if existing.TurnNum == 0 && row.TurnNum != 0 {
					if err := tx.Model(&paymentChannelRow{}).
						Where("channel_id = ?", ch.ChannelID).
						Updates(map[string]interface{}{
							"turn_num":     row.TurnNum,
							"payer_bal":    row.PayerBal,
							"receiver_bal": row.ReceiverBal,
							"app_data":     row.AppData,
							"outcome":      row.Outcome,
							"updated_at":   now,
						}).Error; err != nil {
						return err
					}
					inserted = append(inserted, ch.ChannelID)
				}
				// Any other conflict is a no-op: the existing row wins.
			}
		}
		return nil
	})
	if err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	return inserted, nil
}

func (c *ChannelCacheImpl) RemoveChannels(ctx context.Context, channelIDs []string) error {
	if len(channelIDs) == 0 {
		return nil
	}
	if err := c.db.WithContext(ctx).Where("channel_id IN ?", channelIDs).Delete(&paymentChannelRow{}).Error; err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	return nil
}

func (c *ChannelCacheImpl) RetireChannels(ctx context.Context, ctxID string) (paych.RetireReport, error) {
	report := paych.RetireReport{ContextID: ctxID, Amount: big.NewInt(0)}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []paymentChannelRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("context_id = ? AND retired = ?", ctxID, false).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]string, len(rows))
		total := decimal.Zero
		for i, r := range rows {
			ids[i] = r.ChannelID
			total = total.Add(r.ReceiverBal)
		}
		if err := tx.Model(&paymentChannelRow{}).
			Where("channel_id IN ?", ids).
			Updates(map[string]interface{}{"retired": true, "updated_at": c.clock.Now()}).Error; err != nil {
			return err
		}
		report.ChannelIDs = ids
		report.Amount = total.BigInt()
		return nil
	})
	if err != nil {
		return paych.RetireReport{}, &walletapi.StorageError{Cause: err}
	}
	return report, nil
}

func (c *ChannelCacheImpl) ActiveAllocations(ctx context.Context, ids []string) (map[string]int, error) {
	type row struct {
		ContextID string
		Count     int
	}
	q := c.db.WithContext(ctx).Model(&paymentChannelRow{}).
		Select("context_id, count(*) as count").
		Where("retired = ?", false).
		Group("context_id")
	if len(ids) > 0 {
		q = q.Where("context_id IN ?", ids)
	}
	var rows []row
	if err := q.Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.ContextID] = r.Count
	}
	return out, nil
}

func (c *ChannelCacheImpl) ActiveChannels(ctx context.Context, ctxID string) ([]string, error) {
	var rows []paymentChannelRow
	if err := c.db.WithContext(ctx).Select("channel_id").
		Where("context_id = ? AND retired = ?", ctxID, false).Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	return toIDs(rows), nil
}

func (c *ChannelCacheImpl) ClosableChannels(ctx context.Context) (map[string][]string, error) {
	var rows []paymentChannelRow
	if err := c.db.WithContext(ctx).Select("channel_id, context_id").
		Where("retired = ?", true).Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	out := make(map[string][]string)
	for _, r := range rows {
		out[r.ContextID] = append(out[r.ContextID], r.ChannelID)
	}
	return out, nil
}

func (c *ChannelCacheImpl) ReadyingChannels(ctx context.Context, ctxID string) ([]string, error) {
	var rows []paymentChannelRow
	if err := c.db.WithContext(ctx).Select("channel_id").
		Where("context_id = ? AND turn_num = 0 AND retired = ?", ctxID, false).Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	return toIDs(rows), nil
}

func (c *ChannelCacheImpl) StalledChannels(ctx context.Context, minAge time.Duration, limit int, ctxID string) ([]string, error) {
	cutoff := c.clock.Now().Add(-minAge)
	q := c.db.WithContext(ctx).Select("channel_id").
		Where("retired = ? AND turn_num % 2 = 0 AND updated_at <= ?", false, cutoff)
	if ctxID != "" {
		q = q.Where("context_id = ?", ctxID)
	}
	var rows []paymentChannelRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	ids := toIDs(rows)
	if limit > 0 && len(ids) > limit {
		rand.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })
		ids = ids[:limit]
	}
	return ids, nil
}

func (c *ChannelCacheImpl) InsertLedgerChannel(ctx context.Context, ctxID string, channelID string, initialOutcome []byte) error {
	row := ledgerChannelRow{ChannelID: channelID, ContextID: ctxID, InitialOutcome: initialOutcome}
	if err := c.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	return nil
}

func (c *ChannelCacheImpl) GetLedgerChannels(ctx context.Context, ctxID string) ([]paych.LedgerChannel, error) {
	var rows []ledgerChannelRow
	if err := c.db.WithContext(ctx).Where("context_id = ?", ctxID).Find(&rows).Error; err != nil {
		return nil, &walletapi.StorageError{Cause: err}
	}
	out := make([]paych.LedgerChannel, len(rows))
	for i, r := range rows {
		out[i] = r.toResult()
	}
	return out, nil
}

func (c *ChannelCacheImpl) RemoveLedgerChannels(ctx context.Context, channelIDs []string) error {
	if len(channelIDs) == 0 {
		return nil
	}
	if err := c.db.WithContext(ctx).Where("channel_id IN ?", channelIDs).Delete(&ledgerChannelRow{}).Error; err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	return nil
}

func (c *ChannelCacheImpl) AcquireChannel(ctx context.Context, ctxID string, critical Critical) (interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, c.txnTimeout)
	defer cancel()
	var result interface{}
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row paymentChannelRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("context_id = ? AND turn_num % 2 = 1 AND retired = ?", ctxID, false).
			Order("channel_id").
			Limit(1).
			First(&row).Error
		if err == gorm.ErrRecordNotFound {
			return &walletapi.NoFreeChannelsError{AllocationID: ctxID}
		}
		if err != nil {
			return err
		}
		snapshot := row.toResult()
		newSnapshot, callerResult, cerr := critical(snapshot)
		if cerr != nil {
			return cerr
		}
		result = callerResult
		if row.Retired {
			return nil
		}
		newRow := rowFromResult(ctxID, newSnapshot, c.clock.Now())
		return tx.Model(&paymentChannelRow{}).Where("channel_id = ?", row.ChannelID).
			Updates(map[string]interface{}{
				"turn_num":     newRow.TurnNum,
				"payer_bal":    newRow.PayerBal,
				"receiver_bal": newRow.ReceiverBal,
				"app_data":     newRow.AppData,
				"outcome":      newRow.Outcome,
				"updated_at":   newRow.UpdatedAt,
			}).Error
	})
	if err != nil {
		switch err.(type) {
		case *walletapi.NoFreeChannelsError, *walletapi.ValidationError, *walletapi.ProtocolViolation:
			return nil, err
		default:
			return nil, &walletapi.StorageError{Cause: err}
		}
	}
	return result, nil
}

func (c *ChannelCacheImpl) SubmitReceipt(ctx context.Context, result paych.ChannelResult) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row paymentChannelRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("channel_id = ?", result.ChannelID).First(&row).Error
		if err != nil {
			return err
		}
		if paych.IsOurTurn(row.TurnNum) && row.TurnNum != 0 {
			return &walletapi.ProtocolViolation{Detail: "receipt submitted while it is our turn"}
		}
		newRow := rowFromResult(row.ContextID, result, c.clock.Now())
		return tx.Model(&paymentChannelRow{}).Where("channel_id = ?", row.ChannelID).
			Updates(map[string]interface{}{
				"turn_num":     newRow.TurnNum,
				"payer_bal":    newRow.PayerBal,
				"receiver_bal": newRow.ReceiverBal,
				"app_data":     newRow.AppData,
				"outcome":      newRow.Outcome,
				"updated_at":   newRow.UpdatedAt,
			}).Error
	})
}

func (c *ChannelCacheImpl) ClearCache(ctx context.Context) error {
	if err := c.db.WithContext(ctx).Exec("DELETE FROM payment_channels").Error; err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	if err := c.db.WithContext(ctx).Exec("DELETE FROM ledger_channels").Error; err != nil {
		return &walletapi.StorageError{Cause: err}
	}
	return nil
}

func (c *ChannelCacheImpl) Destroy() {
	if sqlDB, err := c.db.DB(); err == nil {
		sqlDB.Close()
	}
}

func toIDs(rows []paymentChannelRow) []string {
	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.ChannelID
	}
	return ids
}
