package db

import (
	types "github.com/riskwatch/riskwatch-backend/internal/domain"
	"gorm.io/gorm"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(

		// Identity + per-user alert settings
		&types.User{},
		&types.NotificationPrefs{},

		// Alert pipeline
		&types.NotificationEvent{},
		&types.Delivery{},
		&types.Digest{},
		&types.DigestItem{},
	)
}
