package service

import (
	"context"
	"errors"
	"testing"

	"github.com/kursadbilgin/milkbank/internal/domain"
)

func bottleIDs(bottles []domain.Bottle) []string {
	ids := make([]string, 0, len(bottles))
	for _, b := range bottles {
		ids = append(ids, b.ID)
	}
	return ids
}

func (env *testEnv) createDispatch(t *testing.T, code string, ids ...string) *domain.Dispatch {
	t.Helper()
	d, err := env.dispatches.Create(context.Background(), CreateDispatchInput{
		DispatchCode: code,
		HospitalID:   "hosp-1",
		CreatedBy:    "tech1",
		BottleIDs:    ids,
	})
	if err != nil {
		t.Fatalf("Create(%s) error = %v", code, err)
	}
	return d
}

func TestDispatchCustodyCycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	bottles := env.releasedBottles(t, "B-DS", "d1", "d2")

	d := env.createDispatch(t, "DSP-1", bottleIDs(bottles)...)
	if d.Status != domain.DispatchStatusCreated || len(d.Items) != 2 {
		t.Fatalf("dispatch = %+v", d)
	}

	got, err := env.dispatches.Scan(ctx, d.ID, bottles[0].Barcode, "driver1", domain.ScanTypeOut)
	if err != nil {
		t.Fatalf("Scan(out 1) error = %v", err)
	}
	if got.Status != domain.DispatchStatusCreated {
		t.Fatalf("status after first scan-out = %s, want Created", got.Status)
	}
	if _, err := env.dispatches.Scan(ctx, d.ID, bottles[0].Barcode, "driver1", domain.ScanTypeOut); !errors.Is(err, domain.ErrDuplicateScan) {
		t.Fatalf("duplicate scan-out error = %v, want ErrDuplicateScan", err)
	}
	if _, err := env.dispatches.Receive(ctx, d.ID, "ward1", nil); !errors.Is(err, domain.ErrIncompleteScanOut) {
		t.Fatalf("Receive() before full scan-out error = %v, want ErrIncompleteScanOut", err)
	}

	got, err = env.dispatches.Scan(ctx, d.ID, bottles[1].Barcode, "driver1", domain.ScanTypeOut)
	if err != nil {
		t.Fatalf("Scan(out 2) error = %v", err)
	}
	if got.Status != domain.DispatchStatusInTransit {
		t.Fatalf("status = %s, want InTransit", got.Status)
	}

	if _, err := env.dispatches.Scan(ctx, d.ID, bottles[0].Barcode, "ward1", domain.ScanTypeIn); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("scan-in before receive error = %v, want ErrInvalidTransition", err)
	}

	got, err = env.dispatches.Receive(ctx, d.ID, "ward1", strPtr("cold chain intact"))
	if err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if got.Status != domain.DispatchStatusReceived || *got.ReceiveNotes != "cold chain intact" {
		t.Fatalf("received = %+v", got)
	}

	// Bottles stay held while the dispatch is active.
	if _, err := env.dispatches.Create(ctx, CreateDispatchInput{
		DispatchCode: "DSP-2", HospitalID: "hosp-2", CreatedBy: "tech1", BottleIDs: []string{bottles[0].ID},
	}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("Create() over held bottle error = %v, want ErrConflict", err)
	}

	for _, b := range bottles {
		got, err = env.dispatches.Scan(ctx, d.ID, b.Barcode, "ward1", domain.ScanTypeIn)
		if err != nil {
			t.Fatalf("Scan(in %s) error = %v", b.Barcode, err)
		}
	}
	if got.Status != domain.DispatchStatusDelivered || got.DeliveredAt == nil {
		t.Fatalf("status = %s, want Delivered", got.Status)
	}

	scans, err := env.dispatches.ListScans(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListScans() error = %v", err)
	}
	if len(scans) != 4 {
		t.Fatalf("scans = %d, want 4", len(scans))
	}

	// Delivery frees the bottles for a new dispatch.
	env.createDispatch(t, "DSP-3", bottles[0].ID)

	// Created, InTransit, Received, Delivered.
	if got := len(eventsOfType(env.store.snapshot(), domain.EventDispatchStatusChanged, d.ID)); got != 4 {
		t.Fatalf("dispatch events = %d, want 4", got)
	}
}

func TestDispatchScanErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	bottles := env.releasedBottles(t, "B-SE", "d1")
	d := env.createDispatch(t, "DSP-SE", bottles[0].ID)

	tests := []struct {
		name     string
		id       string
		barcode  string
		user     string
		scanType domain.ScanType
		want     error
	}{
		{name: "unknown barcode", id: d.ID, barcode: "OTHER-001", user: "driver1", scanType: domain.ScanTypeOut, want: domain.ErrUnknownBarcode},
		{name: "missing user", id: d.ID, barcode: bottles[0].Barcode, scanType: domain.ScanTypeOut, want: domain.ErrValidation},
		{name: "bad scan type", id: d.ID, barcode: bottles[0].Barcode, user: "driver1", scanType: "sideways", want: domain.ErrValidation},
		{name: "missing dispatch", id: "missing", barcode: bottles[0].Barcode, user: "driver1", scanType: domain.ScanTypeOut, want: domain.ErrNotFound},
	}

	for _, tt := range tests {
		if _, err := env.dispatches.Scan(ctx, tt.id, tt.barcode, tt.user, tt.scanType); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Scan() error = %v, want %v", tt.name, err, tt.want)
		}
	}

	scans, err := env.dispatches.ListScans(ctx, d.ID)
	if err != nil {
		t.Fatalf("ListScans() error = %v", err)
	}
	if len(scans) != 0 {
		t.Fatalf("rejected scans were recorded: %d", len(scans))
	}
}

func TestDispatchCreateErrors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	bottles := env.releasedBottles(t, "B-CE", "d1", "d2")

	if _, err := env.bottles.Allocate(ctx, bottles[1].ID, "p1", "nurse1"); err != nil {
		t.Fatalf("Allocate() error = %v", err)
	}
	env.createDispatch(t, "DSP-DUP", bottles[0].ID)

	tests := []struct {
		name string
		in   CreateDispatchInput
		want error
	}{
		{name: "no bottles", in: CreateDispatchInput{DispatchCode: "X1", HospitalID: "h", CreatedBy: "u"}, want: domain.ErrValidation},
		{name: "missing hospital", in: CreateDispatchInput{DispatchCode: "X2", CreatedBy: "u", BottleIDs: []string{bottles[0].ID}}, want: domain.ErrValidation},
		{name: "allocated bottle", in: CreateDispatchInput{DispatchCode: "X3", HospitalID: "h", CreatedBy: "u", BottleIDs: []string{bottles[1].ID}}, want: domain.ErrInvalidBottleState},
		{name: "missing bottle", in: CreateDispatchInput{DispatchCode: "X4", HospitalID: "h", CreatedBy: "u", BottleIDs: []string{"missing"}}, want: domain.ErrNotFound},
		{name: "already dispatched", in: CreateDispatchInput{DispatchCode: "X5", HospitalID: "h", CreatedBy: "u", BottleIDs: []string{bottles[0].ID}}, want: domain.ErrConflict},
	}

	for _, tt := range tests {
		if _, err := env.dispatches.Create(ctx, tt.in); !errors.Is(err, tt.want) {
			t.Fatalf("%s: Create() error = %v, want %v", tt.name, err, tt.want)
		}
	}
}

func TestDispatchCreateDeduplicatesBottles(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	bottles := env.releasedBottles(t, "B-DD", "d1")

	d := env.createDispatch(t, "DSP-DD", bottles[0].ID, " "+bottles[0].ID, "")
	if len(d.Items) != 1 || d.Items[0].Barcode != bottles[0].Barcode || !d.Items[0].Active {
		t.Fatalf("items = %+v", d.Items)
	}
}

func TestDispatchReceiveTwiceRejected(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	ctx := context.Background()
	bottles := env.releasedBottles(t, "B-RT", "d1")
	d := env.createDispatch(t, "DSP-RT", bottles[0].ID)

	if _, err := env.dispatches.Scan(ctx, d.ID, bottles[0].Barcode, "driver1", domain.ScanTypeOut); err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	if _, err := env.dispatches.Receive(ctx, d.ID, "", nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Receive() without receiver error = %v, want ErrValidation", err)
	}
	if _, err := env.dispatches.Receive(ctx, d.ID, "ward1", nil); err != nil {
		t.Fatalf("Receive() error = %v", err)
	}
	if _, err := env.dispatches.Receive(ctx, d.ID, "ward1", nil); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("second Receive() error = %v, want ErrInvalidTransition", err)
	}
}
