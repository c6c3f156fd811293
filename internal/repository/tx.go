package repository

import (
	"context"

	"gorm.io/gorm"
)

// Repositories groups the repositories that share one unit of work.
type Repositories struct {
	Batches         BatchRepository
	Pasteurisations PasteurisationRepository
	Samples         SampleRepository
	Bottles         BottleRepository
	Dispatches      DispatchRepository
	Events          EventRepository
	Attempts        AttemptRepository
	Audit           AuditRepository
}

// Transactor runs fn inside a database transaction. Repositories handed to
// fn are bound to that transaction; returning an error rolls it back.
type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}

// NewGormRepositories binds every repository to db.
func NewGormRepositories(db *gorm.DB) Repositories {
	return Repositories{
		Batches:         NewGormBatchRepo(db),
		Pasteurisations: NewGormPasteurisationRepo(db),
		Samples:         NewGormSampleRepo(db),
		Bottles:         NewGormBottleRepo(db),
		Dispatches:      NewGormDispatchRepo(db),
		Events:          NewGormEventRepo(db),
		Attempts:        NewGormAttemptRepo(db),
		Audit:           NewGormAuditRepo(db),
	}
}

type GormTransactor struct {
	db *gorm.DB
}

func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

func (t *GormTransactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, NewGormRepositories(tx))
	})
}
