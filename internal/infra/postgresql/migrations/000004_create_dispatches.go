package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"gorm.io/gorm"
)

func createDispatchTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000004_create_dispatches",
		Migrate: func(tx *gorm.DB) error {
			err := tx.AutoMigrate(
				&repository.DispatchModel{},
				&repository.DispatchItemModel{},
				&repository.DispatchScanModel{},
			)
			if err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.IndexActiveDispatchItem + ` ON dispatch_items (bottle_id) WHERE active`,
				`CREATE UNIQUE INDEX IF NOT EXISTS ux_dispatch_items_dispatch_bottle ON dispatch_items (dispatch_id, bottle_id)`,
				`CREATE INDEX IF NOT EXISTS idx_dispatches_hospital_status ON dispatches (hospital_id, status)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.DispatchScanModel{},
				&repository.DispatchItemModel{},
				&repository.DispatchModel{},
			)
		},
	}
}
