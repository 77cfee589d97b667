package users

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/dbctx"
	"github.com/riskwatch/riskwatch-backend/internal/pkg/logger"
)

type NotificationPrefsRepo interface {
	GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.NotificationPrefs, error)
	// MapByUserIDs returns prefs keyed by user id; users without a prefs
	// row are simply absent from the map.
	MapByUserIDs(dbc dbctx.Context, userIDs []uuid.UUID) (map[uuid.UUID]*types.NotificationPrefs, error)
}

type notificationPrefsRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewNotificationPrefsRepo(db *gorm.DB, baseLog *logger.Logger) NotificationPrefsRepo {
	return &notificationPrefsRepo{
		db:  db,
		log: baseLog.With("repo", "NotificationPrefsRepo"),
	}
}

func (r *notificationPrefsRepo) handle(dbc dbctx.Context) *gorm.DB {
	if dbc.Tx != nil {
		return dbc.Tx
	}
	return r.db
}

func (r *notificationPrefsRepo) GetByUserID(dbc dbctx.Context, userID uuid.UUID) (*types.NotificationPrefs, error) {
	if userID == uuid.Nil {
		return nil, nil
	}
	var p types.NotificationPrefs
	err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id = ?", userID).
		Limit(1).
		Find(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == uuid.Nil {
		return nil, nil
	}
	return &p, nil
}

func (r *notificationPrefsRepo) MapByUserIDs(dbc dbctx.Context, userIDs []uuid.UUID) (map[uuid.UUID]*types.NotificationPrefs, error) {
	out := make(map[uuid.UUID]*types.NotificationPrefs, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}
	var rows []*types.NotificationPrefs
	if err := r.handle(dbc).WithContext(dbc.Ctx).
		Where("user_id IN ?", userIDs).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, p := range rows {
		out[p.UserID] = p
	}
	return out, nil
}
