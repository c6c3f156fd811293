package lock

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

func TestLocalLockerSerialisesKey(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker(20 * time.Millisecond)

	unlock, err := locker.Lock(context.Background(), BatchKey("b1"))
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	_, err = locker.Lock(context.Background(), BatchKey("b1"))
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("second Lock() error = %v, want ErrConcurrencyConflict", err)
	}

	other, err := locker.Lock(context.Background(), BatchKey("b2"))
	if err != nil {
		t.Fatalf("Lock(other key) error = %v", err)
	}
	_ = other(context.Background())

	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	// Releasing twice is a no-op.
	_ = unlock(context.Background())

	again, err := locker.Lock(context.Background(), BatchKey("b1"))
	if err != nil {
		t.Fatalf("Lock() after release error = %v", err)
	}
	_ = again(context.Background())

	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.slots) != 0 {
		t.Fatalf("slots leaked: %d", len(locker.slots))
	}
}

func TestLocalLockerWaitsForRelease(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker(time.Second)
	unlock, err := locker.Lock(context.Background(), BottleKey("x"))
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = unlock(context.Background())
	}()

	next, err := locker.Lock(context.Background(), BottleKey("x"))
	if err != nil {
		t.Fatalf("waiting Lock() error = %v", err)
	}
	_ = next(context.Background())
}

func TestLocalLockerContextCancel(t *testing.T) {
	t.Parallel()

	locker := NewLocalLocker(time.Second)
	unlock, err := locker.Lock(context.Background(), DispatchKey("d1"))
	if err != nil {
		t.Fatalf("Lock() error = %v", err)
	}
	defer unlock(context.Background()) //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := locker.Lock(ctx, DispatchKey("d1")); !errors.Is(err, context.Canceled) {
		t.Fatalf("Lock() error = %v, want context.Canceled", err)
	}
}

type recordingLocker struct {
	mu       sync.Mutex
	locked   []string
	released []string
	failOn   string
}

func (l *recordingLocker) Lock(_ context.Context, key string) (Unlock, error) {
	if key == l.failOn {
		return nil, domain.ErrConcurrencyConflict
	}
	l.mu.Lock()
	l.locked = append(l.locked, key)
	l.mu.Unlock()
	return func(context.Context) error {
		l.mu.Lock()
		l.released = append(l.released, key)
		l.mu.Unlock()
		return nil
	}, nil
}

func TestLockAllSortsAndDeduplicates(t *testing.T) {
	t.Parallel()

	rec := &recordingLocker{}
	unlock, err := LockAll(context.Background(), rec, BottleKey("c"), BottleKey("a"), BottleKey("b"), BottleKey("a"))
	if err != nil {
		t.Fatalf("LockAll() error = %v", err)
	}

	want := []string{"bottle:a", "bottle:b", "bottle:c"}
	if !slices.Equal(rec.locked, want) {
		t.Fatalf("locked = %v, want %v", rec.locked, want)
	}

	if err := unlock(context.Background()); err != nil {
		t.Fatalf("unlock() error = %v", err)
	}
	if !slices.Equal(rec.released, []string{"bottle:c", "bottle:b", "bottle:a"}) {
		t.Fatalf("released = %v", rec.released)
	}
}

func TestLockAllReleasesOnFailure(t *testing.T) {
	t.Parallel()

	rec := &recordingLocker{failOn: "bottle:b"}
	_, err := LockAll(context.Background(), rec, "bottle:a", "bottle:b", "bottle:c")
	if !errors.Is(err, domain.ErrConcurrencyConflict) {
		t.Fatalf("LockAll() error = %v, want ErrConcurrencyConflict", err)
	}
	if !slices.Equal(rec.released, []string{"bottle:a"}) {
		t.Fatalf("released = %v, want [bottle:a]", rec.released)
	}
}
