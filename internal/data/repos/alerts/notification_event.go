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

type NotificationEventRepo interface {
	// InsertIgnoreDuplicate inserts keyed on fingerprint. When the
	// fingerprint already exists it reports created=false, merges the
	// event's metadata into null columns of the existing row, and does not
	// populate ev.ID.
	InsertIgnoreDuplicate(dbc dbctx.Context, ev *types.NotificationEvent) (bool, error)
	GetByFingerprint(dbc dbctx.Context, fingerprint string) (*types.NotificationEvent, error)
	GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.NotificationEvent, error)
	ListPendingFanout(dbc dbctx.Context, since time.Time, limit int) ([]*types.NotificationEvent, error)
	MarkFanoutCompleted(dbc dbctx.Context, id uuid.UUID) error
}

type notificationEventRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationEventRepo(db *gorm.DB, baseLog *logger.Logger) NotificationEventRepo {
	return &notificationEventRepo{
		db:  db,
		log: baseLog.With("repo", "NotificationEventRepo"),
	}
}

func (r *notificationEventRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *notificationEventRepo) InsertIgnoreDuplicate(dbc dbctx.Context, ev *types.NotificationEvent) (bool, error) {
	if ev == nil {
		return false, nil
	}
	res := r.handle(dbc).WithContext(dbc.Ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(ev)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected > 0 {
		return true, nil
	}

	// Conflict path: the condition re-fired inside its dedup window. Fill in
	// metadata the earlier insert did not have, never overwriting what is
	// already classified.
	ev.ID = uuid.Nil
	updates := map[string]interface{}{"updated_at": time.Now()}
	if len(ev.Classification) > 0 {
		updates["classification"] = gorm.Expr("COALESCE(classification, ?)", ev.Classification)
	}
	if ev.Category != "" {
		updates["category"] = gorm.Expr("COALESCE(NULLIF(category, ''), ?)", ev.Category)
	}
	if len(updates) == 1 {
		return false, nil
	}
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.NotificationEvent{}).
		Where("fingerprint = ?", ev.Fingerprint).
		Updates(updates).Error
	return false, err
}

func (r *notificationEventRepo) GetByFingerprint(dbc dbctx.Context, fingerprint string) (*types.NotificationEvent, error) {
	if fingerprint == "" {
		return nil, nil
	}
	var ev types.NotificationEvent
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("fingerprint = ?", fingerprint).
		Limit(1).
		Find(&ev).Error
	if err != nil {
		return nil, err
	}
	if ev.ID == uuid.Nil {
		return nil, nil
	}
	return &ev, nil
}

func (r *notificationEventRepo) GetByIDs(dbc dbctx.Context, ids []uuid.UUID) ([]*types.NotificationEvent, error) {
	var out []*types.NotificationEvent
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

func (r *notificationEventRepo) ListPendingFanout(dbc dbctx.Context, since time.Time, limit int) ([]*types.NotificationEvent, error) {
	var out []*types.NotificationEvent
	q := r.handle(dbc).WithContext(dbc.Ctx).
		Where("fanout_completed_at IS NULL AND created_at >= ?", since).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *notificationEventRepo) MarkFanoutCompleted(dbc dbctx.Context, id uuid.UUID) error {
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return r.handle(dbc).WithContext(dbc.Ctx).
		Model(&types.NotificationEvent{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"fanout_completed_at": now,
			"updated_at":          now,
		}).Error
}
