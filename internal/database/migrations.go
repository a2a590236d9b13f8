package database

import (
	"errors"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/backend"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationNormalizeNotificationEnums = "2024-06-01_normalize_notification_enums"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationNormalizeNotificationEnums, apply: normalizeNotificationEnums},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// normalizeNotificationEnums upper-cases severity and category values written
// before the service normalised them.
func normalizeNotificationEnums(db *gorm.DB) error {
	return db.Model(&backend.NotificationRecord{}).
		Where("severity <> upper(severity) OR category <> upper(category)").
		Updates(map[string]interface{}{
			"severity": gorm.Expr("upper(severity)"),
			"category": gorm.Expr("upper(category)"),
		}).Error
}
