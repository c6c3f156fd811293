package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"gorm.io/gorm"
)

func createEventTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000005_create_events",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.EventModel{}, &repository.DeliveryAttemptModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_events_due ON events (next_attempt_at, created_at) WHERE status = 'PENDING'`,
				`CREATE INDEX IF NOT EXISTS idx_events_in_flight ON events (updated_at) WHERE status IN ('PUBLISHED', 'DELIVERING')`,
				`CREATE INDEX IF NOT EXISTS idx_events_aggregate ON events (aggregate_type, aggregate_id, created_at)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS ux_delivery_attempts_event_number ON delivery_attempts (event_id, attempt_number)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.DeliveryAttemptModel{}, &repository.EventModel{})
		},
	}
}
