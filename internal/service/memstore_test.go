package service

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/repository"
)

// memStore is an in-memory repository.Transactor. Each transaction works on
// a copy of the state that replaces the committed state only when fn
// succeeds, so a failing operation leaves nothing behind.
type memStore struct {
	mu    sync.Mutex
	state *memState

	failBottleCreate  error
	failMarkPublished map[string]error
}

type memState struct {
	batches    map[string]domain.Batch
	records    map[string]domain.PasteurisationRecord
	samples    map[string]domain.Sample
	bottles    map[string]domain.Bottle
	dispatches map[string]domain.Dispatch
	scans      []domain.DispatchScan
	events     map[string]domain.Event
	attempts   []domain.DeliveryAttempt
	audits     []domain.AuditEvent
}

func newMemStore() *memStore {
	return &memStore{state: &memState{
		batches:    map[string]domain.Batch{},
		records:    map[string]domain.PasteurisationRecord{},
		samples:    map[string]domain.Sample{},
		bottles:    map[string]domain.Bottle{},
		dispatches: map[string]domain.Dispatch{},
		events:     map[string]domain.Event{},
	}}
}

func cloneBatch(b domain.Batch) domain.Batch {
	b.DonationIDs = slices.Clone(b.DonationIDs)
	b.BottleVolumes = slices.Clone(b.BottleVolumes)
	return b
}

func cloneSample(s domain.Sample) domain.Sample {
	s.Results = slices.Clone(s.Results)
	return s
}

func cloneDispatch(d domain.Dispatch) domain.Dispatch {
	d.Items = slices.Clone(d.Items)
	return d
}

func cloneMap[V any](in map[string]V, clone func(V) V) map[string]V {
	out := make(map[string]V, len(in))
	for k, v := range in {
		if clone != nil {
			v = clone(v)
		}
		out[k] = v
	}
	return out
}

func (s *memState) clone() *memState {
	return &memState{
		batches:    cloneMap(s.batches, cloneBatch),
		records:    cloneMap(s.records, nil),
		samples:    cloneMap(s.samples, cloneSample),
		bottles:    cloneMap(s.bottles, nil),
		dispatches: cloneMap(s.dispatches, cloneDispatch),
		scans:      slices.Clone(s.scans),
		events:     cloneMap(s.events, nil),
		attempts:   slices.Clone(s.attempts),
		audits:     slices.Clone(s.audits),
	}
}

func (m *memStore) WithinTransaction(ctx context.Context, fn func(ctx context.Context, repos repository.Repositories) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	working := m.state.clone()
	if err := fn(ctx, m.repositories(&memView{store: m, tx: working})); err != nil {
		return err
	}
	m.state = working
	return nil
}

// reads returns repositories that see committed state only.
func (m *memStore) reads() repository.Repositories {
	return m.repositories(&memView{store: m})
}

func (m *memStore) repositories(v *memView) repository.Repositories {
	return repository.Repositories{
		Batches:         &memBatchRepo{v},
		Pasteurisations: &memRecordRepo{v},
		Samples:         &memSampleRepo{v},
		Bottles:         &memBottleRepo{v},
		Dispatches:      &memDispatchRepo{v},
		Events:          &memEventRepo{v},
		Attempts:        &memAttemptRepo{v},
		Audit:           &memAuditRepo{v},
	}
}

// snapshot returns a copy of the committed state for assertions.
func (m *memStore) snapshot() *memState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.clone()
}

type memView struct {
	store *memStore
	tx    *memState
}

func (v *memView) state() (*memState, func()) {
	if v.tx != nil {
		return v.tx, func() {}
	}
	v.store.mu.Lock()
	return v.store.state, v.store.mu.Unlock
}

func paginate[T any](items []T, page, pageSize int) []T {
	page = max(page, 1)
	if pageSize < 1 {
		pageSize = 50
	}
	pageSize = min(pageSize, 100)
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	return items[start:min(start+pageSize, len(items))]
}

type memBatchRepo struct{ *memView }

func (r *memBatchRepo) Create(_ context.Context, b *domain.Batch) error {
	st, done := r.state()
	defer done()
	for _, existing := range st.batches {
		if existing.BatchCode == b.BatchCode {
			return fmt.Errorf("%w: batch_code %q already exists", domain.ErrConflict, b.BatchCode)
		}
	}
	st.batches[b.ID] = cloneBatch(*b)
	return nil
}

func (r *memBatchRepo) GetByID(_ context.Context, id string) (*domain.Batch, error) {
	st, done := r.state()
	defer done()
	b, ok := st.batches[id]
	if !ok {
		return nil, fmt.Errorf("%w: batch %s", domain.ErrNotFound, id)
	}
	out := cloneBatch(b)
	return &out, nil
}

func (r *memBatchRepo) GetForUpdate(ctx context.Context, id string) (*domain.Batch, error) {
	return r.GetByID(ctx, id)
}

func (r *memBatchRepo) List(_ context.Context, params repository.BatchListParams) ([]domain.Batch, int64, error) {
	st, done := r.state()
	defer done()

	var out []domain.Batch
	for _, b := range st.batches {
		if params.Status != nil && b.Status != *params.Status {
			continue
		}
		if params.From != nil && b.CreatedAt.Before(*params.From) {
			continue
		}
		if params.To != nil && b.CreatedAt.After(*params.To) {
			continue
		}
		out = append(out, cloneBatch(b))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].BatchCode > out[j].BatchCode
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, params.Page, params.PageSize), int64(len(out)), nil
}

func (r *memBatchRepo) UpdateStatus(_ context.Context, id string, expectedVersion int, status domain.BatchStatus) error {
	st, done := r.state()
	defer done()
	b, ok := st.batches[id]
	if !ok || b.Version != expectedVersion {
		return fmt.Errorf("%w: batch %s changed since version %d", domain.ErrConcurrencyConflict, id, expectedVersion)
	}
	b.Status = status
	b.Version++
	st.batches[id] = b
	return nil
}

type memRecordRepo struct{ *memView }

func (r *memRecordRepo) Create(_ context.Context, rec *domain.PasteurisationRecord) error {
	st, done := r.state()
	defer done()
	for _, existing := range st.records {
		if existing.BatchID == rec.BatchID && existing.IsOpen() {
			return fmt.Errorf("%w: batch %s", domain.ErrRecordAlreadyOpen, rec.BatchID)
		}
	}
	st.records[rec.ID] = *rec
	return nil
}

func (r *memRecordRepo) GetOpenByBatchID(_ context.Context, batchID string) (*domain.PasteurisationRecord, error) {
	st, done := r.state()
	defer done()
	for _, rec := range st.records {
		if rec.BatchID == batchID && rec.IsOpen() {
			out := rec
			return &out, nil
		}
	}
	return nil, fmt.Errorf("%w: no open pasteurisation record for batch %s", domain.ErrNotFound, batchID)
}

func (r *memRecordRepo) ListByBatchID(_ context.Context, batchID string) ([]domain.PasteurisationRecord, error) {
	st, done := r.state()
	defer done()
	var out []domain.PasteurisationRecord
	for _, rec := range st.records {
		if rec.BatchID == batchID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (r *memRecordRepo) Complete(_ context.Context, rec *domain.PasteurisationRecord) error {
	st, done := r.state()
	defer done()
	existing, ok := st.records[rec.ID]
	if !ok || !existing.IsOpen() {
		return fmt.Errorf("%w: record %s", domain.ErrNoOpenRecord, rec.ID)
	}
	st.records[rec.ID] = *rec
	return nil
}

type memSampleRepo struct{ *memView }

func (r *memSampleRepo) Create(_ context.Context, s *domain.Sample) error {
	st, done := r.state()
	defer done()
	for _, existing := range st.samples {
		if existing.BatchID != s.BatchID {
			continue
		}
		if existing.Kind == s.Kind && existing.Slot == s.Slot {
			return fmt.Errorf("%w: %s slot %d already taken", domain.ErrTooManySamples, s.Kind, s.Slot)
		}
		if existing.SampleCode == s.SampleCode {
			return fmt.Errorf("%w: sample_code %q already registered", domain.ErrConflict, s.SampleCode)
		}
	}
	st.samples[s.ID] = cloneSample(*s)
	return nil
}

func (r *memSampleRepo) GetByID(_ context.Context, id string) (*domain.Sample, error) {
	st, done := r.state()
	defer done()
	s, ok := st.samples[id]
	if !ok {
		return nil, fmt.Errorf("%w: sample %s", domain.ErrNotFound, id)
	}
	out := cloneSample(s)
	return &out, nil
}

func (r *memSampleRepo) ListByBatchID(_ context.Context, batchID string) ([]domain.Sample, error) {
	st, done := r.state()
	defer done()
	var out []domain.Sample
	for _, s := range st.samples {
		if s.BatchID == batchID {
			out = append(out, cloneSample(s))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Kind != out[j].Kind {
			return out[i].Kind < out[j].Kind
		}
		return out[i].Slot < out[j].Slot
	})
	return out, nil
}

func (r *memSampleRepo) AddResult(_ context.Context, result *domain.SampleResult) error {
	st, done := r.state()
	defer done()
	s, ok := st.samples[result.SampleID]
	if !ok {
		return fmt.Errorf("%w: sample %s", domain.ErrNotFound, result.SampleID)
	}
	s.Results = append(s.Results, *result)
	st.samples[s.ID] = s
	return nil
}

type memBottleRepo struct{ *memView }

func (r *memBottleRepo) CreateBatch(_ context.Context, bottles []*domain.Bottle) error {
	if r.store.failBottleCreate != nil {
		return r.store.failBottleCreate
	}
	st, done := r.state()
	defer done()
	for _, b := range bottles {
		for _, existing := range st.bottles {
			if existing.Barcode == b.Barcode {
				return fmt.Errorf("%w: bottle barcode %s already minted", domain.ErrConflict, b.Barcode)
			}
		}
		st.bottles[b.ID] = *b
	}
	return nil
}

func (r *memBottleRepo) GetByID(_ context.Context, id string) (*domain.Bottle, error) {
	st, done := r.state()
	defer done()
	b, ok := st.bottles[id]
	if !ok {
		return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
	}
	return &b, nil
}

func (r *memBottleRepo) GetForUpdate(ctx context.Context, id string) (*domain.Bottle, error) {
	return r.GetByID(ctx, id)
}

func (r *memBottleRepo) GetManyForUpdate(_ context.Context, ids []string) ([]domain.Bottle, error) {
	st, done := r.state()
	defer done()
	sorted := slices.Clone(ids)
	slices.Sort(sorted)
	out := make([]domain.Bottle, 0, len(sorted))
	for _, id := range sorted {
		b, ok := st.bottles[id]
		if !ok {
			return nil, fmt.Errorf("%w: bottle %s", domain.ErrNotFound, id)
		}
		out = append(out, b)
	}
	return out, nil
}

func (r *memBottleRepo) ListByBatchID(_ context.Context, batchID string) ([]domain.Bottle, error) {
	st, done := r.state()
	defer done()
	var out []domain.Bottle
	for _, b := range st.bottles {
		if b.BatchID == batchID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Barcode < out[j].Barcode })
	return out, nil
}

func (r *memBottleRepo) Update(_ context.Context, b *domain.Bottle, expectedVersion int) error {
	st, done := r.state()
	defer done()
	existing, ok := st.bottles[b.ID]
	if !ok || existing.Version != expectedVersion {
		return fmt.Errorf("%w: bottle %s changed since version %d", domain.ErrConcurrencyConflict, b.ID, expectedVersion)
	}
	b.Version = expectedVersion + 1
	st.bottles[b.ID] = *b
	return nil
}

type memDispatchRepo struct{ *memView }

func (r *memDispatchRepo) Create(_ context.Context, d *domain.Dispatch) error {
	st, done := r.state()
	defer done()
	for _, existing := range st.dispatches {
		if existing.DispatchCode == d.DispatchCode {
			return fmt.Errorf("%w: dispatch_code %q already exists", domain.ErrConflict, d.DispatchCode)
		}
		for _, held := range existing.Items {
			if !held.Active {
				continue
			}
			for _, it := range d.Items {
				if it.BottleID == held.BottleID {
					return fmt.Errorf("%w: bottle already belongs to an active dispatch", domain.ErrConflict)
				}
			}
		}
	}
	st.dispatches[d.ID] = cloneDispatch(*d)
	return nil
}

func (r *memDispatchRepo) GetByID(_ context.Context, id string) (*domain.Dispatch, error) {
	st, done := r.state()
	defer done()
	d, ok := st.dispatches[id]
	if !ok {
		return nil, fmt.Errorf("%w: dispatch %s", domain.ErrNotFound, id)
	}
	out := cloneDispatch(d)
	return &out, nil
}

func (r *memDispatchRepo) GetForUpdate(ctx context.Context, id string) (*domain.Dispatch, error) {
	return r.GetByID(ctx, id)
}

func (r *memDispatchRepo) ActiveBottleIDs(_ context.Context, bottleIDs []string) ([]string, error) {
	st, done := r.state()
	defer done()
	var out []string
	for _, d := range st.dispatches {
		for _, it := range d.Items {
			if it.Active && slices.Contains(bottleIDs, it.BottleID) {
				out = append(out, it.BottleID)
			}
		}
	}
	slices.Sort(out)
	return out, nil
}

func (r *memDispatchRepo) Update(_ context.Context, d *domain.Dispatch, expectedVersion int) error {
	st, done := r.state()
	defer done()
	existing, ok := st.dispatches[d.ID]
	if !ok || existing.Version != expectedVersion {
		return fmt.Errorf("%w: dispatch %s changed since version %d", domain.ErrConcurrencyConflict, d.ID, expectedVersion)
	}
	d.Version = expectedVersion + 1
	st.dispatches[d.ID] = cloneDispatch(*d)
	return nil
}

func (r *memDispatchRepo) AddScan(_ context.Context, scan *domain.DispatchScan) error {
	st, done := r.state()
	defer done()
	st.scans = append(st.scans, *scan)
	return nil
}

func (r *memDispatchRepo) ListScans(_ context.Context, dispatchID string) ([]domain.DispatchScan, error) {
	st, done := r.state()
	defer done()
	var out []domain.DispatchScan
	for _, s := range st.scans {
		if s.DispatchID == dispatchID {
			out = append(out, s)
		}
	}
	return out, nil
}

type memEventRepo struct{ *memView }

func (r *memEventRepo) CreateBatch(_ context.Context, events []*domain.Event) error {
	st, done := r.state()
	defer done()
	for _, e := range events {
		st.events[e.ID] = *e
	}
	return nil
}

func (r *memEventRepo) GetByID(_ context.Context, id string) (*domain.Event, error) {
	st, done := r.state()
	defer done()
	e, ok := st.events[id]
	if !ok {
		return nil, fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	return &e, nil
}

func (r *memEventRepo) GetDueForPublish(_ context.Context, now time.Time, limit int) ([]domain.Event, error) {
	st, done := r.state()
	defer done()
	var out []domain.Event
	for _, e := range st.events {
		if e.Status == domain.EventStatusPending && (e.NextAttemptAt == nil || !e.NextAttemptAt.After(now)) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memEventRepo) update(id string, fn func(e *domain.Event) error) error {
	st, done := r.state()
	defer done()
	e, ok := st.events[id]
	if !ok {
		return fmt.Errorf("%w: event %s", domain.ErrNotFound, id)
	}
	if err := fn(&e); err != nil {
		return err
	}
	st.events[id] = e
	return nil
}

func (r *memEventRepo) MarkPublished(_ context.Context, id string, at time.Time) error {
	if err := r.store.failMarkPublished[id]; err != nil {
		return err
	}
	return r.update(id, func(e *domain.Event) error {
		if e.Status != domain.EventStatusPending {
			return fmt.Errorf("%w: event %s is no longer pending", domain.ErrConflict, id)
		}
		e.Status = domain.EventStatusPublished
		e.PublishedAt = &at
		e.NextAttemptAt = nil
		return nil
	})
}

func (r *memEventRepo) ClaimForDelivery(_ context.Context, id string) (*domain.Event, error) {
	var claimed *domain.Event
	err := r.update(id, func(e *domain.Event) error {
		switch e.Status {
		case domain.EventStatusDelivering, domain.EventStatusDelivered, domain.EventStatusFailed:
			return nil
		case domain.EventStatusPending, domain.EventStatusPublished:
		}
		e.Status = domain.EventStatusDelivering
		out := *e
		claimed = &out
		return nil
	})
	return claimed, err
}

func (r *memEventRepo) MarkDelivered(_ context.Context, id string, at time.Time) error {
	return r.update(id, func(e *domain.Event) error {
		e.Status = domain.EventStatusDelivered
		e.DeliveredAt = &at
		e.LastError = nil
		e.Attempts++
		return nil
	})
}

func (r *memEventRepo) ScheduleRetry(_ context.Context, id string, nextAttemptAt time.Time, lastErr string) error {
	return r.update(id, func(e *domain.Event) error {
		e.Status = domain.EventStatusPending
		e.NextAttemptAt = &nextAttemptAt
		e.LastError = &lastErr
		e.Attempts++
		return nil
	})
}

func (r *memEventRepo) MarkFailed(_ context.Context, id string, lastErr string) error {
	return r.update(id, func(e *domain.Event) error {
		e.Status = domain.EventStatusFailed
		e.LastError = &lastErr
		e.Attempts++
		return nil
	})
}

func (r *memEventRepo) RequeueStale(_ context.Context, olderThan time.Time, limit int) (int64, error) {
	st, done := r.state()
	defer done()
	var n int64
	for id, e := range st.events {
		if n >= int64(limit) {
			break
		}
		stale := e.Status == domain.EventStatusPublished || e.Status == domain.EventStatusDelivering
		if stale && e.UpdatedAt.Before(olderThan) {
			e.Status = domain.EventStatusPending
			e.NextAttemptAt = nil
			st.events[id] = e
			n++
		}
	}
	return n, nil
}

type memAttemptRepo struct{ *memView }

func (r *memAttemptRepo) Create(_ context.Context, a *domain.DeliveryAttempt) error {
	st, done := r.state()
	defer done()
	st.attempts = append(st.attempts, *a)
	return nil
}

func (r *memAttemptRepo) ListByEvent(_ context.Context, eventID string) ([]domain.DeliveryAttempt, error) {
	st, done := r.state()
	defer done()
	var out []domain.DeliveryAttempt
	for _, a := range st.attempts {
		if a.EventID == eventID {
			out = append(out, a)
		}
	}
	return out, nil
}

type memAuditRepo struct{ *memView }

func (r *memAuditRepo) Create(_ context.Context, a *domain.AuditEvent) error {
	st, done := r.state()
	defer done()
	st.audits = append(st.audits, *a)
	return nil
}

func (r *memAuditRepo) List(_ context.Context, params repository.AuditListParams) ([]domain.AuditEvent, int64, error) {
	st, done := r.state()
	defer done()
	var out []domain.AuditEvent
	for _, a := range st.audits {
		if params.EntityType != nil && a.EntityType != *params.EntityType {
			continue
		}
		if params.EntityID != nil && a.EntityID != *params.EntityID {
			continue
		}
		out = append(out, a)
	}
	return paginate(out, params.Page, params.PageSize), int64(len(out)), nil
}

var (
	_ repository.Transactor               = (*memStore)(nil)
	_ repository.BatchRepository          = (*memBatchRepo)(nil)
	_ repository.PasteurisationRepository = (*memRecordRepo)(nil)
	_ repository.SampleRepository         = (*memSampleRepo)(nil)
	_ repository.BottleRepository         = (*memBottleRepo)(nil)
	_ repository.DispatchRepository       = (*memDispatchRepo)(nil)
	_ repository.EventRepository          = (*memEventRepo)(nil)
	_ repository.AttemptRepository        = (*memAttemptRepo)(nil)
	_ repository.AuditRepository          = (*memAuditRepo)(nil)
)
