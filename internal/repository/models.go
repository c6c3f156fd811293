package repository

import (
	"encoding/json"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// BatchModel is the persistence model for batches.
type BatchModel struct {
	ID            string                               `gorm:"type:uuid;primaryKey"`
	BatchCode     string                               `gorm:"type:varchar(64);not null;uniqueIndex"`
	Status        domain.BatchStatus                   `gorm:"type:varchar(20);not null"`
	DonationIDs   datatypes.JSONSlice[string]          `gorm:"type:jsonb;not null"`
	BatchDate     *time.Time                           `gorm:"type:date"`
	BottleVolumes datatypes.JSONSlice[decimal.Decimal] `gorm:"type:jsonb;not null"`
	TotalVolumeML decimal.Decimal                      `gorm:"type:numeric(12,2);not null"`
	Version       int                                  `gorm:"not null;default:1"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (BatchModel) TableName() string {
	return "batches"
}

// PasteurisationRecordModel is the persistence model for pasteurisation_records.
type PasteurisationRecordModel struct {
	ID          string     `gorm:"type:uuid;primaryKey"`
	BatchID     string     `gorm:"type:uuid;not null;index"`
	OperatorID  string     `gorm:"type:varchar(64);not null"`
	DeviceID    string     `gorm:"type:varchar(64);not null"`
	StartedAt   time.Time  `gorm:"type:timestamptz;not null"`
	EndedAt     *time.Time `gorm:"type:timestamptz"`
	CompletedBy *string    `gorm:"type:varchar(64)"`
	ResultNotes *string    `gorm:"type:text"`
	CreatedAt   time.Time
}

func (PasteurisationRecordModel) TableName() string {
	return "pasteurisation_records"
}

// SampleModel is the persistence model for samples.
type SampleModel struct {
	ID         string              `gorm:"type:uuid;primaryKey"`
	BatchID    string              `gorm:"type:uuid;not null;index"`
	SampleCode string              `gorm:"type:varchar(64);not null"`
	Kind       domain.SampleKind   `gorm:"type:varchar(8);not null"`
	Slot       int                 `gorm:"not null"`
	Results    []SampleResultModel `gorm:"foreignKey:SampleID"`
	CreatedAt  time.Time
}

func (SampleModel) TableName() string {
	return "samples"
}

// SampleResultModel is the persistence model for sample_results.
type SampleResultModel struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	SampleID      string    `gorm:"type:uuid;not null;index"`
	TestType      string    `gorm:"type:varchar(64);not null"`
	Organism      *string   `gorm:"type:varchar(128)"`
	ThresholdFlag bool      `gorm:"not null"`
	Notes         *string   `gorm:"type:text"`
	PostedBy      string    `gorm:"type:varchar(64);not null"`
	PostedAt      time.Time `gorm:"type:timestamptz;not null"`
}

func (SampleResultModel) TableName() string {
	return "sample_results"
}

// BottleModel is the persistence model for bottles.
type BottleModel struct {
	ID               string              `gorm:"type:uuid;primaryKey"`
	Barcode          string              `gorm:"type:varchar(80);not null;uniqueIndex"`
	BatchID          string              `gorm:"type:uuid;not null;index"`
	VolumeML         decimal.Decimal     `gorm:"type:numeric(10,2);not null"`
	Status           domain.BottleStatus `gorm:"type:varchar(20);not null"`
	PatientID        *string             `gorm:"type:varchar(64)"`
	AllocatedBy      *string             `gorm:"type:varchar(64)"`
	AllocatedAt      *time.Time          `gorm:"type:timestamptz"`
	DefrostStartedAt *time.Time          `gorm:"type:timestamptz"`
	AdministeredBy   *string             `gorm:"type:varchar(64)"`
	WitnessedBy      *string             `gorm:"type:varchar(64)"`
	AdministeredAt   *time.Time          `gorm:"type:timestamptz"`
	DiscardReason    *string             `gorm:"type:text"`
	DiscardedBy      *string             `gorm:"type:varchar(64)"`
	DiscardedAt      *time.Time          `gorm:"type:timestamptz"`
	Version          int                 `gorm:"not null;default:1"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

func (BottleModel) TableName() string {
	return "bottles"
}

// DispatchModel is the persistence model for dispatches.
type DispatchModel struct {
	ID           string                `gorm:"type:uuid;primaryKey"`
	DispatchCode string                `gorm:"type:varchar(64);not null;uniqueIndex"`
	HospitalID   string                `gorm:"type:varchar(64);not null"`
	CreatedBy    string                `gorm:"type:varchar(64);not null"`
	Shipper      *string               `gorm:"type:varchar(128)"`
	Status       domain.DispatchStatus `gorm:"type:varchar(20);not null"`
	ReceivedBy   *string               `gorm:"type:varchar(64)"`
	ReceivedAt   *time.Time            `gorm:"type:timestamptz"`
	ReceiveNotes *string               `gorm:"type:text"`
	DeliveredAt  *time.Time            `gorm:"type:timestamptz"`
	Items        []DispatchItemModel   `gorm:"foreignKey:DispatchID"`
	Version      int                   `gorm:"not null;default:1"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (DispatchModel) TableName() string {
	return "dispatches"
}

// DispatchItemModel is the persistence model for dispatch_items.
type DispatchItemModel struct {
	ID           string     `gorm:"type:uuid;primaryKey"`
	DispatchID   string     `gorm:"type:uuid;not null;index"`
	BottleID     string     `gorm:"type:uuid;not null"`
	Barcode      string     `gorm:"type:varchar(80);not null"`
	ScannedOutAt *time.Time `gorm:"type:timestamptz"`
	ScannedOutBy *string    `gorm:"type:varchar(64)"`
	ScannedInAt  *time.Time `gorm:"type:timestamptz"`
	ScannedInBy  *string    `gorm:"type:varchar(64)"`
	Active       bool       `gorm:"not null;default:true"`
}

func (DispatchItemModel) TableName() string {
	return "dispatch_items"
}

// DispatchScanModel is the persistence model for dispatch_scans.
type DispatchScanModel struct {
	ID         string          `gorm:"type:uuid;primaryKey"`
	DispatchID string          `gorm:"type:uuid;not null;index"`
	BottleID   string          `gorm:"type:uuid;not null"`
	ScanType   domain.ScanType `gorm:"type:varchar(4);not null"`
	ScannedBy  string          `gorm:"type:varchar(64);not null"`
	ScannedAt  time.Time       `gorm:"type:timestamptz;not null"`
}

func (DispatchScanModel) TableName() string {
	return "dispatch_scans"
}

// EventModel is the persistence model for the events outbox.
type EventModel struct {
	ID            string               `gorm:"type:uuid;primaryKey"`
	Type          domain.EventType     `gorm:"type:varchar(40);not null"`
	AggregateType domain.AggregateType `gorm:"type:varchar(30);not null"`
	AggregateID   string               `gorm:"type:uuid;not null"`
	Priority      domain.Priority      `gorm:"type:varchar(10);not null"`
	Payload       datatypes.JSON       `gorm:"type:jsonb;not null"`
	Status        domain.EventStatus   `gorm:"type:varchar(20);not null"`
	Attempts      int                  `gorm:"not null;default:0"`
	MaxAttempts   int                  `gorm:"not null;default:5"`
	NextAttemptAt *time.Time           `gorm:"type:timestamptz"`
	LastError     *string              `gorm:"type:text"`
	PublishedAt   *time.Time           `gorm:"type:timestamptz"`
	DeliveredAt   *time.Time           `gorm:"type:timestamptz"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (EventModel) TableName() string {
	return "events"
}

// DeliveryAttemptModel is the persistence model for delivery_attempts.
type DeliveryAttemptModel struct {
	ID            string  `gorm:"type:uuid;primaryKey"`
	EventID       string  `gorm:"type:uuid;not null"`
	AttemptNumber int     `gorm:"not null"`
	StatusCode    *int    `gorm:"type:int"`
	ResponseBody  *string `gorm:"type:text"`
	Error         *string `gorm:"type:text"`
	CreatedAt     time.Time
}

func (DeliveryAttemptModel) TableName() string {
	return "delivery_attempts"
}

// AuditEventModel is the persistence model for audit_events.
type AuditEventModel struct {
	ID         string               `gorm:"type:uuid;primaryKey"`
	UserID     string               `gorm:"type:varchar(64);not null"`
	Operation  string               `gorm:"type:varchar(40);not null"`
	EntityType domain.AggregateType `gorm:"type:varchar(30);not null"`
	EntityID   string               `gorm:"type:uuid;not null"`
	Before     datatypes.JSON       `gorm:"type:jsonb"`
	After      datatypes.JSON       `gorm:"type:jsonb"`
	Reason     *string              `gorm:"type:text"`
	CreatedAt  time.Time
}

func (AuditEventModel) TableName() string {
	return "audit_events"
}

func batchModelFromDomain(b *domain.Batch) *BatchModel {
	if b == nil {
		return nil
	}

	return &BatchModel{
		ID:            b.ID,
		BatchCode:     b.BatchCode,
		Status:        b.Status,
		DonationIDs:   datatypes.NewJSONSlice(b.DonationIDs),
		BatchDate:     b.BatchDate,
		BottleVolumes: datatypes.NewJSONSlice(b.BottleVolumes),
		TotalVolumeML: b.TotalVolumeML,
		Version:       b.Version,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func batchModelToDomain(m *BatchModel) *domain.Batch {
	if m == nil {
		return nil
	}

	return &domain.Batch{
		ID:            m.ID,
		BatchCode:     m.BatchCode,
		Status:        m.Status,
		DonationIDs:   []string(m.DonationIDs),
		BatchDate:     m.BatchDate,
		BottleVolumes: []decimal.Decimal(m.BottleVolumes),
		TotalVolumeML: m.TotalVolumeML,
		Version:       m.Version,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func recordModelFromDomain(r *domain.PasteurisationRecord) *PasteurisationRecordModel {
	if r == nil {
		return nil
	}

	return &PasteurisationRecordModel{
		ID:          r.ID,
		BatchID:     r.BatchID,
		OperatorID:  r.OperatorID,
		DeviceID:    r.DeviceID,
		StartedAt:   r.StartedAt,
		EndedAt:     r.EndedAt,
		CompletedBy: r.CompletedBy,
		ResultNotes: r.ResultNotes,
	}
}

func recordModelToDomain(m *PasteurisationRecordModel) *domain.PasteurisationRecord {
	if m == nil {
		return nil
	}

	return &domain.PasteurisationRecord{
		ID:          m.ID,
		BatchID:     m.BatchID,
		OperatorID:  m.OperatorID,
		DeviceID:    m.DeviceID,
		StartedAt:   m.StartedAt,
		EndedAt:     m.EndedAt,
		CompletedBy: m.CompletedBy,
		ResultNotes: m.ResultNotes,
	}
}

func sampleModelFromDomain(s *domain.Sample) *SampleModel {
	if s == nil {
		return nil
	}

	return &SampleModel{
		ID:         s.ID,
		BatchID:    s.BatchID,
		SampleCode: s.SampleCode,
		Kind:       s.Kind,
		Slot:       s.Slot,
		CreatedAt:  s.CreatedAt,
	}
}

func sampleModelToDomain(m *SampleModel) *domain.Sample {
	if m == nil {
		return nil
	}

	results := make([]domain.SampleResult, 0, len(m.Results))
	for i := range m.Results {
		results = append(results, *resultModelToDomain(&m.Results[i]))
	}

	return &domain.Sample{
		ID:         m.ID,
		BatchID:    m.BatchID,
		SampleCode: m.SampleCode,
		Kind:       m.Kind,
		Slot:       m.Slot,
		Results:    results,
		CreatedAt:  m.CreatedAt,
	}
}

func resultModelFromDomain(r *domain.SampleResult) *SampleResultModel {
	if r == nil {
		return nil
	}

	return &SampleResultModel{
		ID:            r.ID,
		SampleID:      r.SampleID,
		TestType:      r.TestType,
		Organism:      r.Organism,
		ThresholdFlag: r.ThresholdFlag,
		Notes:         r.Notes,
		PostedBy:      r.PostedBy,
		PostedAt:      r.PostedAt,
	}
}

func resultModelToDomain(m *SampleResultModel) *domain.SampleResult {
	if m == nil {
		return nil
	}

	return &domain.SampleResult{
		ID:            m.ID,
		SampleID:      m.SampleID,
		TestType:      m.TestType,
		Organism:      m.Organism,
		ThresholdFlag: m.ThresholdFlag,
		Notes:         m.Notes,
		PostedBy:      m.PostedBy,
		PostedAt:      m.PostedAt,
	}
}

func bottleModelFromDomain(b *domain.Bottle) *BottleModel {
	if b == nil {
		return nil
	}

	return &BottleModel{
		ID:               b.ID,
		Barcode:          b.Barcode,
		BatchID:          b.BatchID,
		VolumeML:         b.VolumeML,
		Status:           b.Status,
		PatientID:        b.PatientID,
		AllocatedBy:      b.AllocatedBy,
		AllocatedAt:      b.AllocatedAt,
		DefrostStartedAt: b.DefrostStartedAt,
		AdministeredBy:   b.AdministeredBy,
		WitnessedBy:      b.WitnessedBy,
		AdministeredAt:   b.AdministeredAt,
		DiscardReason:    b.DiscardReason,
		DiscardedBy:      b.DiscardedBy,
		DiscardedAt:      b.DiscardedAt,
		Version:          b.Version,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
	}
}

func bottleModelToDomain(m *BottleModel) *domain.Bottle {
	if m == nil {
		return nil
	}

	return &domain.Bottle{
		ID:               m.ID,
		Barcode:          m.Barcode,
		BatchID:          m.BatchID,
		VolumeML:         m.VolumeML,
		Status:           m.Status,
		PatientID:        m.PatientID,
		AllocatedBy:      m.AllocatedBy,
		AllocatedAt:      m.AllocatedAt,
		DefrostStartedAt: m.DefrostStartedAt,
		AdministeredBy:   m.AdministeredBy,
		WitnessedBy:      m.WitnessedBy,
		AdministeredAt:   m.AdministeredAt,
		DiscardReason:    m.DiscardReason,
		DiscardedBy:      m.DiscardedBy,
		DiscardedAt:      m.DiscardedAt,
		Version:          m.Version,
		CreatedAt:        m.CreatedAt,
		UpdatedAt:        m.UpdatedAt,
	}
}

func dispatchModelFromDomain(d *domain.Dispatch) *DispatchModel {
	if d == nil {
		return nil
	}

	items := make([]DispatchItemModel, 0, len(d.Items))
	for i := range d.Items {
		items = append(items, *dispatchItemModelFromDomain(&d.Items[i]))
	}

	return &DispatchModel{
		ID:           d.ID,
		DispatchCode: d.DispatchCode,
		HospitalID:   d.HospitalID,
		CreatedBy:    d.CreatedBy,
		Shipper:      d.Shipper,
		Status:       d.Status,
		ReceivedBy:   d.ReceivedBy,
		ReceivedAt:   d.ReceivedAt,
		ReceiveNotes: d.ReceiveNotes,
		DeliveredAt:  d.DeliveredAt,
		Items:        items,
		Version:      d.Version,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

func dispatchModelToDomain(m *DispatchModel) *domain.Dispatch {
	if m == nil {
		return nil
	}

	items := make([]domain.DispatchItem, 0, len(m.Items))
	for i := range m.Items {
		items = append(items, *dispatchItemModelToDomain(&m.Items[i]))
	}

	return &domain.Dispatch{
		ID:           m.ID,
		DispatchCode: m.DispatchCode,
		HospitalID:   m.HospitalID,
		CreatedBy:    m.CreatedBy,
		Shipper:      m.Shipper,
		Status:       m.Status,
		ReceivedBy:   m.ReceivedBy,
		ReceivedAt:   m.ReceivedAt,
		ReceiveNotes: m.ReceiveNotes,
		DeliveredAt:  m.DeliveredAt,
		Items:        items,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func dispatchItemModelFromDomain(it *domain.DispatchItem) *DispatchItemModel {
	return &DispatchItemModel{
		ID:           it.ID,
		DispatchID:   it.DispatchID,
		BottleID:     it.BottleID,
		Barcode:      it.Barcode,
		ScannedOutAt: it.ScannedOutAt,
		ScannedOutBy: it.ScannedOutBy,
		ScannedInAt:  it.ScannedInAt,
		ScannedInBy:  it.ScannedInBy,
		Active:       it.Active,
	}
}

func dispatchItemModelToDomain(m *DispatchItemModel) *domain.DispatchItem {
	return &domain.DispatchItem{
		ID:           m.ID,
		DispatchID:   m.DispatchID,
		BottleID:     m.BottleID,
		Barcode:      m.Barcode,
		ScannedOutAt: m.ScannedOutAt,
		ScannedOutBy: m.ScannedOutBy,
		ScannedInAt:  m.ScannedInAt,
		ScannedInBy:  m.ScannedInBy,
		Active:       m.Active,
	}
}

func scanModelFromDomain(s *domain.DispatchScan) *DispatchScanModel {
	return &DispatchScanModel{
		ID:         s.ID,
		DispatchID: s.DispatchID,
		BottleID:   s.BottleID,
		ScanType:   s.ScanType,
		ScannedBy:  s.ScannedBy,
		ScannedAt:  s.ScannedAt,
	}
}

func scanModelToDomain(m *DispatchScanModel) *domain.DispatchScan {
	return &domain.DispatchScan{
		ID:         m.ID,
		DispatchID: m.DispatchID,
		BottleID:   m.BottleID,
		ScanType:   m.ScanType,
		ScannedBy:  m.ScannedBy,
		ScannedAt:  m.ScannedAt,
	}
}

func eventModelFromDomain(e *domain.Event) *EventModel {
	if e == nil {
		return nil
	}

	return &EventModel{
		ID:            e.ID,
		Type:          e.Type,
		AggregateType: e.AggregateType,
		AggregateID:   e.AggregateID,
		Priority:      e.Priority,
		Payload:       datatypes.JSON(e.Payload),
		Status:        e.Status,
		Attempts:      e.Attempts,
		MaxAttempts:   e.MaxAttempts,
		NextAttemptAt: e.NextAttemptAt,
		LastError:     e.LastError,
		PublishedAt:   e.PublishedAt,
		DeliveredAt:   e.DeliveredAt,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}

func eventModelToDomain(m *EventModel) *domain.Event {
	if m == nil {
		return nil
	}

	return &domain.Event{
		ID:            m.ID,
		Type:          m.Type,
		AggregateType: m.AggregateType,
		AggregateID:   m.AggregateID,
		Priority:      m.Priority,
		Payload:       json.RawMessage(m.Payload),
		Status:        m.Status,
		Attempts:      m.Attempts,
		MaxAttempts:   m.MaxAttempts,
		NextAttemptAt: m.NextAttemptAt,
		LastError:     m.LastError,
		PublishedAt:   m.PublishedAt,
		DeliveredAt:   m.DeliveredAt,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func attemptModelFromDomain(a *domain.DeliveryAttempt) *DeliveryAttemptModel {
	if a == nil {
		return nil
	}

	return &DeliveryAttemptModel{
		ID:            a.ID,
		EventID:       a.EventID,
		AttemptNumber: a.AttemptNumber,
		StatusCode:    a.StatusCode,
		ResponseBody:  a.ResponseBody,
		Error:         a.Error,
		CreatedAt:     a.CreatedAt,
	}
}

func attemptModelToDomain(m *DeliveryAttemptModel) *domain.DeliveryAttempt {
	if m == nil {
		return nil
	}

	return &domain.DeliveryAttempt{
		ID:            m.ID,
		EventID:       m.EventID,
		AttemptNumber: m.AttemptNumber,
		StatusCode:    m.StatusCode,
		ResponseBody:  m.ResponseBody,
		Error:         m.Error,
		CreatedAt:     m.CreatedAt,
	}
}

func auditModelFromDomain(a *domain.AuditEvent) *AuditEventModel {
	if a == nil {
		return nil
	}

	return &AuditEventModel{
		ID:         a.ID,
		UserID:     a.UserID,
		Operation:  a.Operation,
		EntityType: a.EntityType,
		EntityID:   a.EntityID,
		Before:     datatypes.JSON(a.Before),
		After:      datatypes.JSON(a.After),
		Reason:     a.Reason,
		CreatedAt:  a.CreatedAt,
	}
}

func auditModelToDomain(m *AuditEventModel) *domain.AuditEvent {
	if m == nil {
		return nil
	}

	return &domain.AuditEvent{
		ID:         m.ID,
		UserID:     m.UserID,
		Operation:  m.Operation,
		EntityType: m.EntityType,
		EntityID:   m.EntityID,
		Before:     json.RawMessage(m.Before),
		After:      json.RawMessage(m.After),
		Reason:     m.Reason,
		CreatedAt:  m.CreatedAt,
	}
}
