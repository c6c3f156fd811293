package domain

import (
	"fmt"
	"strings"
	"time"
)

// DispatchStatus follows the custody cycle of a shipment.
type DispatchStatus string

const (
	DispatchStatusCreated   DispatchStatus = "Created"
	DispatchStatusInTransit DispatchStatus = "InTransit"
	DispatchStatusReceived  DispatchStatus = "Received"
	DispatchStatusDelivered DispatchStatus = "Delivered"
)

func (s DispatchStatus) String() string { return string(s) }

func (s DispatchStatus) IsValid() bool {
	switch s {
	case DispatchStatusCreated, DispatchStatusInTransit, DispatchStatusReceived, DispatchStatusDelivered:
		return true
	}
	return false
}

// IsActive reports whether the dispatch still holds custody of its bottles.
func (s DispatchStatus) IsActive() bool {
	switch s {
	case DispatchStatusCreated, DispatchStatusInTransit, DispatchStatusReceived:
		return true
	case DispatchStatusDelivered:
		return false
	}
	return false
}

// ScanType distinguishes scan-out at the bank from scan-in at the hospital.
type ScanType string

const (
	ScanTypeOut ScanType = "out"
	ScanTypeIn  ScanType = "in"
)

func (t ScanType) String() string { return string(t) }

func ParseScanTypeFromString(s string) (ScanType, error) {
	st := ScanType(strings.ToLower(strings.TrimSpace(s)))
	switch st {
	case ScanTypeOut, ScanTypeIn:
		return st, nil
	}
	return "", fmt.Errorf("%w: invalid scan_type %q", ErrValidation, s)
}

// Dispatch is a shipment of bottles to a hospital.
type Dispatch struct {
	ID           string
	DispatchCode string
	HospitalID   string
	CreatedBy    string
	Shipper      *string
	Status       DispatchStatus
	ReceivedBy   *string
	ReceivedAt   *time.Time
	ReceiveNotes *string
	DeliveredAt  *time.Time
	Items        []DispatchItem
	Version      int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DispatchItem is one bottle inside a dispatch. Active items count toward
// the single-active-dispatch rule.
type DispatchItem struct {
	ID           string
	DispatchID   string
	BottleID     string
	Barcode      string
	ScannedOutAt *time.Time
	ScannedOutBy *string
	ScannedInAt  *time.Time
	ScannedInBy  *string
	Active       bool
}

// DispatchScan is the append-only scan log.
type DispatchScan struct {
	ID         string
	DispatchID string
	BottleID   string
	ScanType   ScanType
	ScannedBy  string
	ScannedAt  time.Time
}

func (d *Dispatch) Validate() error {
	if strings.TrimSpace(d.DispatchCode) == "" {
		return fmt.Errorf("%w: dispatch_code is required", ErrValidation)
	}
	if strings.TrimSpace(d.HospitalID) == "" {
		return fmt.Errorf("%w: hospital_id is required", ErrValidation)
	}
	if strings.TrimSpace(d.CreatedBy) == "" {
		return fmt.Errorf("%w: created_by is required", ErrValidation)
	}
	if len(d.Items) == 0 {
		return fmt.Errorf("%w: bottle_ids is required", ErrValidation)
	}
	return nil
}

func (d *Dispatch) itemByBarcode(barcode string) *DispatchItem {
	for i := range d.Items {
		if d.Items[i].Barcode == barcode {
			return &d.Items[i]
		}
	}
	return nil
}

func (d *Dispatch) allScannedOut() bool {
	for _, it := range d.Items {
		if it.ScannedOutAt == nil {
			return false
		}
	}
	return true
}

func (d *Dispatch) allScannedIn() bool {
	for _, it := range d.Items {
		if it.ScannedInAt == nil {
			return false
		}
	}
	return true
}

// Scan records a custody scan and advances the dispatch: the last scan-out
// puts it InTransit, the last scan-in delivers it and frees its items.
func (d *Dispatch) Scan(barcode, userID string, scanType ScanType, now time.Time) (*DispatchItem, error) {
	barcode = strings.TrimSpace(barcode)
	userID = strings.TrimSpace(userID)
	if barcode == "" {
		return nil, fmt.Errorf("%w: barcode is required", ErrValidation)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}

	item := d.itemByBarcode(barcode)
	if item == nil {
		return nil, fmt.Errorf("%w: %s is not in dispatch %s", ErrUnknownBarcode, barcode, d.DispatchCode)
	}

	at := now
	switch scanType {
	case ScanTypeOut:
		if d.Status != DispatchStatusCreated {
			return nil, fmt.Errorf("%w: scan-out requires dispatch in %s, dispatch %s is %s",
				ErrInvalidTransition, DispatchStatusCreated, d.DispatchCode, d.Status)
		}
		if item.ScannedOutAt != nil {
			return nil, fmt.Errorf("%w: %s already scanned out", ErrDuplicateScan, barcode)
		}
		item.ScannedOutAt = &at
		item.ScannedOutBy = &userID
		if d.allScannedOut() {
			d.Status = DispatchStatusInTransit
		}
	case ScanTypeIn:
		if d.Status != DispatchStatusReceived {
			return nil, fmt.Errorf("%w: scan-in requires dispatch in %s, dispatch %s is %s",
				ErrInvalidTransition, DispatchStatusReceived, d.DispatchCode, d.Status)
		}
		if item.ScannedInAt != nil {
			return nil, fmt.Errorf("%w: %s already scanned in", ErrDuplicateScan, barcode)
		}
		item.ScannedInAt = &at
		item.ScannedInBy = &userID
		if d.allScannedIn() {
			d.Status = DispatchStatusDelivered
			d.DeliveredAt = &at
			for i := range d.Items {
				d.Items[i].Active = false
			}
		}
	default:
		return nil, fmt.Errorf("%w: invalid scan_type %q", ErrValidation, scanType)
	}

	return item, nil
}

// Receive marks hospital receipt. Every item must have been scanned out.
func (d *Dispatch) Receive(receiverID string, notes *string, now time.Time) error {
	receiverID = strings.TrimSpace(receiverID)
	if receiverID == "" {
		return fmt.Errorf("%w: receiver_id is required", ErrValidation)
	}

	switch d.Status {
	case DispatchStatusCreated, DispatchStatusInTransit:
	case DispatchStatusReceived, DispatchStatusDelivered:
		return fmt.Errorf("%w: dispatch %s is already %s", ErrInvalidTransition, d.DispatchCode, d.Status)
	default:
		return fmt.Errorf("%w: dispatch %s has unknown status %q", ErrInvalidTransition, d.DispatchCode, d.Status)
	}

	if !d.allScannedOut() {
		pending := 0
		for _, it := range d.Items {
			if it.ScannedOutAt == nil {
				pending++
			}
		}
		return fmt.Errorf("%w: %d of %d items not scanned out", ErrIncompleteScanOut, pending, len(d.Items))
	}

	at := now
	d.Status = DispatchStatusReceived
	d.ReceivedBy = &receiverID
	d.ReceivedAt = &at
	if notes != nil {
		if trimmed := strings.TrimSpace(*notes); trimmed != "" {
			d.ReceiveNotes = &trimmed
		}
	}
	return nil
}
