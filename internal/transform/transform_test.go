package transform

import (
	"math"
	"testing"
)

func almostEqual(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

func TestIdentityApply(t *testing.T) {
	p := [3]float64{1, 2, 3}
	got := Identity().Apply(p)
	if got != p {
		t.Fatalf("identity apply: got %v, want %v", got, p)
	}
}

func TestComposeInverseIsIdentity(t *testing.T) {
	a := T{Tx: 1, Ty: -2, Tz: 0.5, Qw: 0.7071, Qx: 0, Qy: 0, Qz: 0.7071}.Normalize()
	id := a.Compose(a.Inverse())

	const tol = 1e-6
	if !almostEqual(id.Tx, 0, tol) || !almostEqual(id.Ty, 0, tol) || !almostEqual(id.Tz, 0, tol) {
		t.Fatalf("compose-with-inverse translation: got (%v,%v,%v)", id.Tx, id.Ty, id.Tz)
	}
	if !almostEqual(math.Abs(id.Qw), 1, tol) {
		t.Fatalf("compose-with-inverse rotation: got qw=%v", id.Qw)
	}
}

func TestSlerpEndpoints(t *testing.T) {
	a := Identity()
	b := T{Tx: 10, Ty: 0, Tz: 0, Qw: 0, Qx: 0, Qy: 0, Qz: 1}

	gotA := Slerp(a, b, 0)
	if !almostEqual(gotA.Tx, 0, 1e-9) || !almostEqual(gotA.Qw, 1, 1e-9) {
		t.Fatalf("slerp at u=0: got %+v", gotA)
	}

	gotB := Slerp(a, b, 1)
	if !almostEqual(gotB.Tx, 10, 1e-9) || !almostEqual(gotB.Qz, 1, 1e-6) {
		t.Fatalf("slerp at u=1: got %+v", gotB)
	}
}

func TestSlerpMidpointTranslationIsLinear(t *testing.T) {
	a := T{Tx: 0, Qw: 1}
	b := T{Tx: 10, Qw: 1}
	mid := Slerp(a, b, 0.5)
	if !almostEqual(mid.Tx, 5, 1e-9) {
		t.Fatalf("slerp midpoint translation: got %v, want 5", mid.Tx)
	}
}

func TestRotateQuarterTurnAboutZ(t *testing.T) {
	// 90 degree rotation about Z: (1,0,0) -> (0,1,0)
	half := math.Pi / 4
	tr := T{Qw: math.Cos(half), Qz: math.Sin(half)}
	got := tr.Rotate([3]float64{1, 0, 0})
	if !almostEqual(got[0], 0, 1e-9) || !almostEqual(got[1], 1, 1e-9) {
		t.Fatalf("rotate 90deg about z: got %v", got)
	}
}
