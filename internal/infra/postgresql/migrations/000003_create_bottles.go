package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"gorm.io/gorm"
)

func createBottlesTable() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000003_create_bottles",
		Migrate: func(tx *gorm.DB) error {
			if err := tx.AutoMigrate(&repository.BottleModel{}); err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE INDEX IF NOT EXISTS idx_bottles_status ON bottles (status)`,
				`CREATE INDEX IF NOT EXISTS idx_bottles_patient_id ON bottles (patient_id) WHERE patient_id IS NOT NULL`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(&repository.BottleModel{})
		},
	}
}
