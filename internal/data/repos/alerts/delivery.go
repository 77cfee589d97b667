package alerts

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type DeliveryRepo interface {
	// InsertIgnoreDuplicate relies on the (user, event, channel) unique
	// index: a concurrent fanout pass losing the insert race is reported as
	// created=false, not an error.
	InsertIgnoreDuplicate(dbc dbctx.Context, d *types.Delivery) (bool, error)
	Exists(dbc dbctx.Context, userID, eventID uuid.UUID, channel types.Channel) (bool, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Delivery, error)

	// CountActiveInstantSince counts sent/sending/queued instant deliveries
	// for a user+channel created at or after the cutoff. Used by the quota
	// gate, so skipped and failed rows do not consume quota.
	CountActiveInstantSince(dbc dbctx.Context, userID uuid.UUID, channel types.Channel, cutoff time.Time) (int64, error)

	// LeaseQueuedInstant claims up to limit due instant rows oldest-first
	// under FOR UPDATE SKIP LOCKED, flipping them to sending and bumping
	// attempts in the same transaction. Rows stuck in sending longer than
	// staleSending are claimable again.
	LeaseQueuedInstant(dbc dbctx.Context, limit int, staleSending time.Duration) ([]*types.Delivery, error)

	MarkSent(dbc dbctx.Context, id uuid.UUID, providerMessageID string) error
	MarkSkipped(dbc dbctx.Context, id uuid.UUID, reason string) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error
	Requeue(dbc dbctx.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error

	// ListQueuedDigestKind returns queued digest-kind deliveries created in
	// [windowStart, windowEnd) that are not attached to any digest.
	ListQueuedDigestKind(dbc dbctx.Context, windowStart, windowEnd time.Time, limit int) ([]*types.Delivery, error)
	MarkBatched(dbc dbctx.Context, ids []uuid.UUID) error
}

type deliveryRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDeliveryRepo(db *gorm.DB, baseLog *logger.Logger) DeliveryRepo {
	return &deliveryRepo{
		db:  db,
		log: baseLog.With("repo", "DeliveryRepo"),
	}
}

func (r *deliveryRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *deliveryRepo) InsertIgnoreDuplicate(dbc dbctx.Context, d *types.Delivery) (bool, error) {
	if d == nil {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "user_id"}, {Name: "notification_event_id"}, {Name: "channel"},
			},
			DoNothing: true,
		}).
		Create(d)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		d.ID = uuid.Nil
		return false, nil
	}
	return true, nil
}

func (r *deliveryRepo) Exists(dbc dbctx.Context, userID, eventID uuid.UUID, channel types.Channel) (bool, error) {
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Delivery{}).
		Where("user_id = ? AND notification_event_id = ? AND channel = ?", userID, eventID, channel).
		Count(&count).Error
	return count > 0, err
}

func (r *deliveryRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Delivery, error) {
	var out []*types.Delivery
	if len(ids) == 0 {
		return out, nil
	}
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("id IN ?", ids).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deliveryRepo) CountActiveInstantSince(dbc dbctx.Context, userID uuid.UUID, channel types.Channel, cutoff time.Time) (int64, error) {
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Delivery{}).
		Where("user_id = ? AND channel = ? AND delivery_kind = ? AND created_at >= ?",
			userID, channel, types.DeliveryKindInstant, cutoff).
		Where("status IN ?", []types.DeliveryStatus{
			types.DeliveryStatusSent, types.DeliveryStatusSending, types.DeliveryStatusQueued,
		}).
		Count(&count).Error
	return count, err
}

func (r *deliveryRepo) LeaseQueuedInstant(dbc dbctx.Context, limit int, staleSending time.Duration) ([]*types.Delivery, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	staleCutoff := now.Add(-staleSending)
	var leased []*types.Delivery
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var rows []*types.Delivery
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("delivery_kind = ?", types.DeliveryKindInstant).
			Where(`
        (
          status = ?
          AND (next_retry_at IS NULL OR next_retry_at <= ?)
        )
        OR (
          status = ?
          AND updated_at < ?
        )
      `, types.DeliveryStatusQueued, now, types.DeliveryStatusSending, staleCutoff).
			Order("created_at ASC").
			Limit(limit)
		if err := q.Find(&rows).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, d := range rows {
			ids = append(ids, d.ID)
		}
		if err := tx.Model(&types.Delivery{}).
			Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":     types.DeliveryStatusSending,
				"attempts":   gorm.Expr("attempts + 1"),
				"updated_at": now,
			}).Error; err != nil {
			return err
		}
		for _, d := range rows {
			d.Status = types.DeliveryStatusSending
			d.Attempts++
		}
		leased = rows
		return nil
	})
	if err != nil {
		return nil, err
	}
	return leased, nil
}

func (r *deliveryRepo) MarkSent(dbc dbctx.Context, id uuid.UUID, providerMessageID string) error {
	now := time.Now()
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":              types.DeliveryStatusSent,
		"sent_at":             now,
		"provider_message_id": providerMessageID,
		"last_error":          "",
		"next_retry_at":       nil,
		"updated_at":          now,
	})
}

func (r *deliveryRepo) MarkSkipped(dbc dbctx.Context, id uuid.UUID, reason string) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusSkipped,
		"skip_reason":   reason,
		"next_retry_at": nil,
		"updated_at":    time.Now(),
	})
}

func (r *deliveryRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusFailed,
		"last_error":    lastError,
		"next_retry_at": nil,
		"updated_at":    time.Now(),
	})
}

func (r *deliveryRepo) Requeue(dbc dbctx.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusQueued,
		"last_error":    lastError,
		"next_retry_at": nextRetryAt,
		"updated_at":    time.Now(),
	})
}

func (r *deliveryRepo) updateByID(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Delivery{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *deliveryRepo) ListQueuedDigestKind(dbc dbctx.Context, windowStart, windowEnd time.Time, limit int) ([]*types.Delivery, error) {
	var out []*types.Delivery
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("delivery_kind = ? AND status = ?", types.DeliveryKindDigest, types.DeliveryStatusQueued).
		Where("created_at >= ? AND created_at < ?", windowStart, windowEnd).
		Where("id NOT IN (?)", r.handle(dbc).
			Model(&types.DigestItem{}).
			Select("delivery_id")).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *deliveryRepo) MarkBatched(dbc dbctx.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Delivery{}).
		Where("id IN ?", ids).
		Updates(map[string]interface{}{
			"status":      types.DeliveryStatusSkipped,
			"skip_reason": types.SkipReasonBatched,
			"updated_at":  time.Now(),
		}).Error
}
