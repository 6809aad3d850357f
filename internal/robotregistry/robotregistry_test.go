package robotregistry

import (
	"testing"

	"github.com/google/uuid"

	"mapfusion/internal/transform"
)

func TestEnsureMissionPrependsOnlyWhenNew(t *testing.T) {
	r := New()
	m1 := uuid.New()

	if !r.EnsureMission("A", m1) {
		t.Fatalf("expected first mission to be newly prepended")
	}
	if r.EnsureMission("A", m1) {
		t.Fatalf("expected repeat mission to report no change")
	}

	m2 := uuid.New()
	if !r.EnsureMission("A", m2) {
		t.Fatalf("expected new mission to be prepended")
	}

	ids := r.MissionIDsFor("A")
	if len(ids) != 2 || ids[0] != m2 || ids[1] != m1 {
		t.Fatalf("expected [m2, m1], got %v", ids)
	}
}

func TestRemoveMissionUpdatesBothMaps(t *testing.T) {
	r := New()
	m1 := uuid.New()
	r.EnsureMission("A", m1)

	if robot, ok := r.RobotForMission(m1); !ok || robot != "A" {
		t.Fatalf("expected reverse index to resolve A, got %q, %v", robot, ok)
	}

	r.RemoveMission(m1)

	if _, ok := r.RobotForMission(m1); ok {
		t.Fatalf("expected reverse index entry removed")
	}
	if ids := r.MissionIDsFor("A"); len(ids) != 0 {
		t.Fatalf("expected empty mission chain after removal, got %v", ids)
	}
}

func TestRecordInputAndInputAt(t *testing.T) {
	r := New()
	tmb := transform.T{Tx: 1, Qw: 1}
	tgm := transform.T{Tx: 2, Qw: 1}
	r.RecordInput("A", 100, tmb, tgm)

	gotTMB, gotTGM, ok := r.InputAt("A", 100)
	if !ok {
		t.Fatalf("expected input to be found at timestamp 100")
	}
	if gotTMB != tmb || gotTGM != tgm {
		t.Fatalf("input mismatch: got %+v %+v", gotTMB, gotTGM)
	}

	if _, _, ok := r.InputAt("A", 200); ok {
		t.Fatalf("expected no input at timestamp 200")
	}
}
