package correction

import (
	"math"
	"testing"

	"mapfusion/internal/transform"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestComputeIdentityWhenNothingChanged(t *testing.T) {
	anchor := transform.T{Tx: 1, Ty: 2, Tz: 3, Qw: 1}
	tMBOld := transform.T{Tx: 0.5, Qw: 1}
	tGBNew := anchor.Compose(tMBOld)

	got := Compute(anchor, tMBOld, tGBNew)
	const tol = 1e-9
	if !almostEqual(got.Tx, 0, tol) || !almostEqual(got.Ty, 0, tol) || !almostEqual(got.Tz, 0, tol) {
		t.Fatalf("expected identity-ish correction, got %+v", got)
	}
	if !almostEqual(math.Abs(got.Qw), 1, tol) {
		t.Fatalf("expected identity rotation, got qw=%v", got.Qw)
	}
}

func TestComputeReflectsGlobalShift(t *testing.T) {
	tGMOld := transform.Identity()
	tMBOld := transform.Identity()
	tGBNew := transform.T{Tx: 5, Qw: 1}

	got := Compute(tGMOld, tMBOld, tGBNew)
	const tol = 1e-9
	if !almostEqual(got.Tx, 5, tol) {
		t.Fatalf("expected correction translation 5, got %v", got.Tx)
	}
}

type fakePublisher struct {
	events []Event
}

func (f *fakePublisher) Publish(e Event) { f.events = append(f.events, e) }

func TestLogPublisherImplementsPublisher(t *testing.T) {
	var _ Publisher = NewLogPublisher(nil)
	var _ Publisher = &fakePublisher{}
}
