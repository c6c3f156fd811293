package lock

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

// Unlock releases a held lock.
type Unlock func(ctx context.Context) error

// Locker provides per-entity mutual exclusion. Lock blocks until the key is
// free or the implementation's wait budget runs out, in which case it returns
// domain.ErrConcurrencyConflict.
type Locker interface {
	Lock(ctx context.Context, key string) (Unlock, error)
}

func BatchKey(id string) string    { return "batch:" + id }
func BottleKey(id string) string   { return "bottle:" + id }
func DispatchKey(id string) string { return "dispatch:" + id }

// LockAll acquires every key in sorted order so that concurrent callers
// locking overlapping sets cannot deadlock. Duplicates are locked once.
func LockAll(ctx context.Context, locker Locker, keys ...string) (Unlock, error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	held := make([]Unlock, 0, len(sorted))
	releaseAll := func(ctx context.Context) error {
		var errs []error
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i](ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, key := range sorted {
		unlock, err := locker.Lock(ctx, key)
		if err != nil {
			_ = releaseAll(context.WithoutCancel(ctx))
			return nil, err
		}
		held = append(held, unlock)
	}

	return releaseAll, nil
}

const defaultLocalWait = 2 * time.Second

var _ Locker = (*LocalLocker)(nil)

// LocalLocker serialises keys inside one process.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*localSlot
	wait  time.Duration
}

type localSlot struct {
	sem  chan struct{}
	refs int
}

func NewLocalLocker(wait time.Duration) *LocalLocker {
	if wait <= 0 {
		wait = defaultLocalWait
	}
	return &LocalLocker{
		slots: make(map[string]*localSlot),
		wait:  wait,
	}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, fmt.Errorf("lock key is required")
	}

	l.mu.Lock()
	slot, ok := l.slots[key]
	if !ok {
		slot = &localSlot{sem: make(chan struct{}, 1)}
		l.slots[key] = slot
	}
	slot.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.wait)
	defer timer.Stop()

	select {
	case slot.sem <- struct{}{}:
	case <-timer.C:
		l.release(key, slot, false)
		return nil, fmt.Errorf("%w: %s is held by another operation", domain.ErrConcurrencyConflict, key)
	case <-ctx.Done():
		l.release(key, slot, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() { l.release(key, slot, true) })
		return nil
	}, nil
}

func (l *LocalLocker) release(key string, slot *localSlot, held bool) {
	if held {
		<-slot.sem
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	slot.refs--
	if slot.refs == 0 {
		delete(l.slots, key)
	}
}
