package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
	"github.com/kursadbilgin/milkbank/internal/lock"
)

type BottleService struct {
	engine        *Engine
	defrostWindow time.Duration
}

func NewBottleService(engine *Engine, defrostWindow time.Duration) (*BottleService, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine is required")
	}
	if defrostWindow <= 0 {
		defrostWindow = domain.DefaultDefrostWindow
	}
	return &BottleService{engine: engine, defrostWindow: defrostWindow}, nil
}

func (s *BottleService) Get(ctx context.Context, id string) (*domain.Bottle, error) {
	return s.engine.reads.Bottles.GetByID(ctx, id)
}

func (s *BottleService) Allocate(ctx context.Context, id, patientID, allocatedBy string) (*domain.Bottle, error) {
	return s.mutate(ctx, id, allocatedBy, domain.OpBottleAllocate, nil, func(b *domain.Bottle, now time.Time) error {
		return b.Allocate(patientID, allocatedBy, now)
	})
}

func (s *BottleService) StartDefrost(ctx context.Context, id, userID string) (*domain.Bottle, error) {
	return s.mutate(ctx, id, userID, domain.OpBottleDefrost, nil, func(b *domain.Bottle, now time.Time) error {
		return b.StartDefrost(now)
	})
}

// Administer is terminal. It must happen within the defrost window.
func (s *BottleService) Administer(ctx context.Context, id, administeredBy string, witnessedBy *string) (*domain.Bottle, error) {
	return s.mutate(ctx, id, administeredBy, domain.OpBottleAdminister, nil, func(b *domain.Bottle, now time.Time) error {
		return b.Administer(administeredBy, witnessedBy, now, s.defrostWindow)
	})
}

func (s *BottleService) Discard(ctx context.Context, id, reason, discardedBy string) (*domain.Bottle, error) {
	trimmed := strings.TrimSpace(reason)
	return s.mutate(ctx, id, discardedBy, domain.OpBottleDiscard, &trimmed, func(b *domain.Bottle, now time.Time) error {
		return b.Discard(reason, discardedBy, now)
	})
}

func (s *BottleService) mutate(
	ctx context.Context,
	id, actor, op string,
	reason *string,
	apply func(b *domain.Bottle, now time.Time) error,
) (*domain.Bottle, error) {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		actor = domain.SystemActor
	}

	var bottle *domain.Bottle
	err := s.engine.run(ctx, "bottle", []string{lock.BottleKey(id)}, func(ctx context.Context, u *unitOfWork) error {
		b, err := u.repos.Bottles.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}

		expected := b.Version
		from := b.Status
		if err := apply(b, u.now); err != nil {
			return err
		}
		if err := u.repos.Bottles.Update(ctx, b, expected); err != nil {
			return err
		}

		if err := u.audit(actor, op, domain.AggregateBottle, b.ID,
			statusSnapshot{Status: from.String()}, statusSnapshot{Status: b.Status.String()}, reason); err != nil {
			return err
		}
		priority := domain.PriorityNormal
		if b.Status == domain.BottleStatusAdministered {
			priority = domain.PriorityHigh
		}
		change := u.statusChange(b.ID, b.Barcode, from.String(), b.Status.String(), actor)
		if err := u.emit(domain.EventBottleStatusChanged, domain.AggregateBottle, b.ID, priority, change); err != nil {
			return err
		}
		u.transitioned("bottle", b.ID, from.String(), b.Status.String(), actor)

		bottle = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bottle, nil
}
