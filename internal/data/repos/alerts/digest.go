package alerts

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type DigestRepo interface {
	// GetOrCreate inserts the digest keyed on digest_key, returning the
	// persisted row either way. created=false means an earlier batcher run
	// already made it.
	GetOrCreate(dbc dbctx.Context, d *types.Digest) (*types.Digest, bool, error)
	// AttachItem links a delivery into a digest; duplicate links are
	// ignored via the (digest, delivery) unique index.
	AttachItem(dbc dbctx.Context, digestID, deliveryID uuid.UUID) (bool, error)
	ListItemDeliveryIDs(dbc dbctx.Context, digestID uuid.UUID) ([]uuid.UUID, error)

	// CountCreatedSince counts digests created for a user+channel at or
	// after the cutoff, for the digest-per-day quota gate.
	CountCreatedSince(dbc dbctx.Context, userID uuid.UUID, channel types.Channel, cutoff time.Time) (int64, error)

	// LeaseQueued mirrors the delivery lease: SKIP LOCKED, oldest first,
	// flip to sending and bump attempts in one transaction.
	LeaseQueued(dbc dbctx.Context, limit int, staleSending time.Duration) ([]*types.Digest, error)

	MarkSent(dbc dbctx.Context, id uuid.UUID) error
	MarkSkipped(dbc dbctx.Context, id uuid.UUID, reason string) error
	MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error
	Requeue(dbc dbctx.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error
}

type digestRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDigestRepo(db *gorm.DB, baseLog *logger.Logger) DigestRepo {
	return &digestRepo{
		db:  db,
		log: baseLog.With("repo", "DigestRepo"),
	}
}

func (r *digestRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *digestRepo) GetOrCreate(dbc dbctx.Context, d *types.Digest) (*types.Digest, bool, error) {
	if d == nil {
		return nil, false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest_key"}},
			DoNothing: true,
		}).
		Create(d)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return d, true, nil
	}
	var existing types.Digest
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("digest_key = ?", d.DigestKey).
		First(&existing).Error
	if err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (r *digestRepo) AttachItem(dbc dbctx.Context, digestID, deliveryID uuid.UUID) (bool, error) {
	if digestID == uuid.Nil || deliveryID == uuid.Nil {
		return false, nil
	}
	item := &types.DigestItem{DigestID: digestID, DeliveryID: deliveryID}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "digest_id"}, {Name: "delivery_id"}},
			DoNothing: true,
		}).
		Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *digestRepo) ListItemDeliveryIDs(dbc dbctx.Context, digestID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	if digestID == uuid.Nil {
		return ids, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.DigestItem{}).
		Where("digest_id = ?", digestID).
		Order("created_at ASC").
		Pluck("delivery_id", &ids).Error
	return ids, err
}

func (r *digestRepo) CountCreatedSince(dbc dbctx.Context, userID uuid.UUID, channel types.Channel, cutoff time.Time) (int64, error) {
	var count int64
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Digest{}).
		Where("user_id = ? AND channel = ? AND created_at >= ?", userID, channel, cutoff).
		Count(&count).Error
	return count, err
}

func (r *digestRepo) LeaseQueued(dbc dbctx.Context, limit int, staleSending time.Duration) ([]*types.Digest, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now()
	staleCutoff := now.Add(-staleSending)
	var leased []*types.Digest
	err := r.handle(dbc).WithContext(dbc.Ctx).Transaction(func(tx *gorm.DB) error {
		var rows []*types.Digest
		q := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
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
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, d := range rows {
			ids = append(ids, d.ID)
		}
		if err := tx.Model(&types.Digest{}).
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

func (r *digestRepo) MarkSent(dbc dbctx.Context, id uuid.UUID) error {
	now := time.Now()
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusSent,
		"sent_at":       now,
		"last_error":    "",
		"next_retry_at": nil,
		"updated_at":    now,
	})
}

func (r *digestRepo) MarkSkipped(dbc dbctx.Context, id uuid.UUID, reason string) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusSkipped,
		"skip_reason":   reason,
		"next_retry_at": nil,
		"updated_at":    time.Now(),
	})
}

func (r *digestRepo) MarkFailed(dbc dbctx.Context, id uuid.UUID, lastError string) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusFailed,
		"last_error":    lastError,
		"next_retry_at": nil,
		"updated_at":    time.Now(),
	})
}

func (r *digestRepo) Requeue(dbc dbctx.Context, id uuid.UUID, lastError string, nextRetryAt time.Time) error {
	return r.updateByID(dbc, id, map[string]interface{}{
		"status":        types.DeliveryStatusQueued,
		"last_error":    lastError,
		"next_retry_at": nextRetryAt,
		"updated_at":    time.Now(),
	})
}

func (r *digestRepo) updateByID(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.Digest{}).
		Where("id = ?", id).
		Updates(updates).Error
}
