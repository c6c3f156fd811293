package service

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
)

type DispatchService struct {
	engine *Engine
}

func NewDispatchService(engine *Engine) (*DispatchService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	return &DispatchService{engine: engine}, nil
}

type CreateDispatchInput struct {
	DispatchCode string
	HospitalID   string
	CreatedBy    string
	Shipper      *string
	BottleIDs    []string
}

type dispatchSnapshot struct {
	Status string   `json:"status"`
	Items  []string `json:"bottleIds,omitempty"`
}

// Create builds a dispatch over available bottles that no active dispatch
// holds. Every bottle is locked in id order for the duration.
func (s *DispatchService) Create(ctx context.Context, in CreateDispatchInput) (*domain.Dispatch, error) {
	bottleIDs := make([]string, 0, len(in.BottleIDs))
	for _, id := range in.BottleIDs {
		if trimmed := strings.TrimSpace(id); trimmed != "" {
			bottleIDs = append(bottleIDs, trimmed)
		}
	}
	slices.Sort(bottleIDs)
	bottleIDs = slices.Compact(bottleIDs)

	dispatch := &domain.Dispatch{
		DispatchCode: strings.TrimSpace(in.DispatchCode),
		HospitalID:   strings.TrimSpace(in.HospitalID),
		CreatedBy:    strings.TrimSpace(in.CreatedBy),
		Shipper:      optionalString(in.Shipper),
		Status:       domain.DispatchStatusCreated,
	}
	for _, id := range bottleIDs {
		dispatch.Items = append(dispatch.Items, domain.DispatchItem{BottleID: id, Active: true})
	}
	if err := dispatch.Validate(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(bottleIDs))
	for _, id := range bottleIDs {
		keys = append(keys, lock.BottleKey(id))
	}

	err := s.engine.run(ctx, "dispatch", keys, func(ctx context.Context, u *unitOfWork) error {
		bottles, err := u.repos.Bottles.GetManyForUpdate(ctx, bottleIDs)
		if err != nil {
			return err
		}
		barcodes := make(map[string]string, len(bottles))
		for _, b := range bottles {
			if b.Status != domain.BottleStatusAvailable {
				return fmt.Errorf("%w: bottle %s is %s, only %s bottles can be dispatched",
					domain.ErrInvalidBottleState, b.Barcode, b.Status, domain.BottleStatusAvailable)
			}
			barcodes[b.ID] = b.Barcode
		}

		held, err := u.repos.Dispatches.ActiveBottleIDs(ctx, bottleIDs)
		if err != nil {
			return fmt.Errorf("failed to check active dispatches: %w", err)
		}
		if len(held) > 0 {
			return fmt.Errorf("%w: bottles %s already belong to an active dispatch",
				domain.ErrConflict, strings.Join(held, ", "))
		}

		dispatch.ID = u.newID()
		dispatch.Version = 1
		dispatch.CreatedAt = u.now
		dispatch.UpdatedAt = u.now
		for i := range dispatch.Items {
			it := &dispatch.Items[i]
			it.ID = u.newID()
			it.DispatchID = dispatch.ID
			it.Barcode = barcodes[it.BottleID]
		}
		if err := u.repos.Dispatches.Create(ctx, dispatch); err != nil {
			return err
		}

		after := dispatchSnapshot{Status: dispatch.Status.String(), Items: bottleIDs}
		if err := u.audit(dispatch.CreatedBy, domain.OpDispatchCreate, domain.AggregateDispatch, dispatch.ID, nil, after, nil); err != nil {
			return err
		}
		change := u.statusChange(dispatch.ID, dispatch.DispatchCode, "", dispatch.Status.String(), dispatch.CreatedBy)
		if err := u.emit(domain.EventDispatchStatusChanged, domain.AggregateDispatch, dispatch.ID, domain.PriorityNormal, change); err != nil {
			return err
		}
		u.transitioned("dispatch", dispatch.ID, "", dispatch.Status.String(), dispatch.CreatedBy)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispatch, nil
}

func (s *DispatchService) Get(ctx context.Context, id string) (*domain.Dispatch, error) {
	return s.engine.reads.Dispatches.GetByID(ctx, id)
}

func (s *DispatchService) ListScans(ctx context.Context, id string) ([]domain.DispatchScan, error) {
	if _, err := s.engine.reads.Dispatches.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.engine.reads.Dispatches.ListScans(ctx, id)
}

// Scan records a custody scan. A duplicate scan of the same direction fails
// with ErrDuplicateScan and records nothing.
func (s *DispatchService) Scan(ctx context.Context, id, barcode, userID string, scanType domain.ScanType) (*domain.Dispatch, error) {
	return s.mutate(ctx, id, userID, domain.OpDispatchScan, func(ctx context.Context, u *unitOfWork, d *domain.Dispatch) error {
		item, err := d.Scan(barcode, userID, scanType, u.now)
		if err != nil {
			return err
		}
		return u.repos.Dispatches.AddScan(ctx, &domain.DispatchScan{
			ID:         u.newID(),
			DispatchID: d.ID,
			BottleID:   item.BottleID,
			ScanType:   scanType,
			ScannedBy:  strings.TrimSpace(userID),
			ScannedAt:  u.now,
		})
	})
}

func (s *DispatchService) Receive(ctx context.Context, id, receiverID string, notes *string) (*domain.Dispatch, error) {
	return s.mutate(ctx, id, receiverID, domain.OpDispatchReceive, func(_ context.Context, u *unitOfWork, d *domain.Dispatch) error {
		return d.Receive(receiverID, notes, u.now)
	})
}

func (s *DispatchService) mutate(
	ctx context.Context,
	id, actor, op string,
	apply func(ctx context.Context, u *unitOfWork, d *domain.Dispatch) error,
) (*domain.Dispatch, error) {
	actor = strings.TrimSpace(actor)

	var dispatch *domain.Dispatch
	err := s.engine.run(ctx, "dispatch", []string{lock.DispatchKey(id)}, func(ctx context.Context, u *unitOfWork) error {
		d, err := u.repos.Dispatches.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := d.Version
		from := d.Status
		if err := apply(ctx, u, d); err != nil {
			return err
		}
		if err := u.repos.Dispatches.Update(ctx, d, expected); err != nil {
			return err
		}

		if err := u.audit(actor, op, domain.AggregateDispatch, d.ID,
			statusSnapshot{Status: from.String()}, statusSnapshot{Status: d.Status.String()}, nil); err != nil {
			return err
		}
		if from != d.Status {
			change := u.statusChange(d.ID, d.DispatchCode, from.String(), d.Status.String(), actor)
			if err := u.emit(domain.EventDispatchStatusChanged, domain.AggregateDispatch, d.ID, domain.PriorityNormal, change); err != nil {
				return err
			}
			u.transitioned("dispatch", d.ID, from.String(), d.Status.String(), actor)
		}

		dispatch = d
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dispatch, nil
}
