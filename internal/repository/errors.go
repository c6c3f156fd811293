package repository

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Index names referenced by the unique-violation mapping.
const (
	IndexBatchCode          = "idx_batches_batch_code"
	IndexBottleBarcode      = "idx_bottles_barcode"
	IndexDispatchCode       = "idx_dispatches_dispatch_code"
	IndexOpenRecordPerBatch = "ux_pasteurisation_records_open"
	IndexSampleSlot         = "ux_samples_batch_kind_slot"
	IndexSampleCode         = "ux_samples_batch_code"
	IndexActiveDispatchItem = "ux_dispatch_items_active_bottle"
)

const pgUniqueViolation = "23505"

// uniqueViolation reports whether err is a unique-key clash and, when the
// driver error is still attached, the name of the violated constraint.
func uniqueViolation(err error) (constraint string, ok bool) {
	if err == nil {
		return "", false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code != pgUniqueViolation {
			return "", false
		}
		return pgErr.ConstraintName, true
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return "", true
	}

	msg := strings.ToLower(err.Error())
	return "", strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

func isUniqueViolationError(err error) bool {
	_, ok := uniqueViolation(err)
	return ok
}

// violatesIndex reports whether err is a unique violation of index.
func violatesIndex(err error, index string) bool {
	constraint, ok := uniqueViolation(err)
	if !ok {
		return false
	}
	if constraint != "" {
		return constraint == index
	}
	return strings.Contains(err.Error(), index)
}
