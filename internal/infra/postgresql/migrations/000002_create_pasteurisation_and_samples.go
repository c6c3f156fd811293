package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/kursadbilgin/milkbank/internal/repository"
	"gorm.io/gorm"
)

func createPasteurisationAndSampleTables() *gormigrate.Migration {
	return &gormigrate.Migration{
		ID: "000002_create_pasteurisation_and_samples",
		Migrate: func(tx *gorm.DB) error {
			err := tx.AutoMigrate(
				&repository.PasteurisationRecordModel{},
				&repository.SampleModel{},
				&repository.SampleResultModel{},
			)
			if err != nil {
				return err
			}
			return execAll(tx, []string{
				`CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.IndexOpenRecordPerBatch + ` ON pasteurisation_records (batch_id) WHERE ended_at IS NULL`,
				`CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.IndexSampleSlot + ` ON samples (batch_id, kind, slot)`,
				`CREATE UNIQUE INDEX IF NOT EXISTS ` + repository.IndexSampleCode + ` ON samples (batch_id, sample_code)`,
				`ALTER TABLE samples ADD CONSTRAINT chk_samples_slot CHECK (slot BETWEEN 1 AND 2)`,
			})
		},
		Rollback: func(tx *gorm.DB) error {
			return tx.Migrator().DropTable(
				&repository.SampleResultModel{},
				&repository.SampleModel{},
				&repository.PasteurisationRecordModel{},
			)
		},
	}
}
