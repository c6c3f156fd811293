package domain

import "errors"

// Sentinel errors shared by services and handlers. Callers wrap them with
// fmt.Errorf("%w: ...") and match with errors.Is.
var (
	ErrValidation = errors.New("validation error")
	ErrNotFound   = errors.New("not found")
	ErrConflict   = errors.New("conflict")
	ErrRetryable  = errors.New("temporary failure, retry the operation")

	ErrInvalidTransition     = errors.New("invalid transition")
	ErrInvalidBottleState    = errors.New("invalid bottle state")
	ErrNoOpenRecord          = errors.New("no open pasteurisation record")
	ErrRecordAlreadyOpen     = errors.New("pasteurisation record already open")
	ErrIncompleteResults     = errors.New("incomplete post-pasteurisation results")
	ErrIncompleteScanOut     = errors.New("dispatch items not fully scanned out")
	ErrUnknownBarcode        = errors.New("barcode not part of dispatch")
	ErrDuplicateScan         = errors.New("duplicate scan")
	ErrTooManySamples        = errors.New("too many samples")
	ErrConcurrencyConflict   = errors.New("concurrent modification")
	ErrDefrostWindowExceeded = errors.New("defrost window exceeded")
)
