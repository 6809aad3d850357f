package lookup

import (
	"testing"

	"github.com/google/uuid"

	"mapfusion/internal/config"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/transform"
)

func newTestService(t *testing.T, cfg config.Config) (*Service, *mapstore.Store, *robotregistry.Registry, uuid.UUID) {
	t.Helper()
	store := mapstore.New()
	registry := robotregistry.New()
	missionID := uuid.New()
	registry.EnsureMission("robotA", missionID)

	m := store.GetOrCreate(mapstore.MergedMapKey)
	m.AppendMission(missionID, map[string]transform.T{"lidar": transform.Identity()}, []mapstore.Vertex{
		{TimestampNS: 100, TGB: transform.Identity()},
		{TimestampNS: 200, TGB: transform.T{Tx: 10, Qw: 1}},
	})

	return New(cfg, store, registry, nil), store, registry, missionID
}

func TestMapLookupSuccessAtExactVertex(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	res, status, err := svc.MapLookup("robotA", "lidar", 200, [3]float64{})
	if err != nil {
		t.Fatalf("MapLookup: %v", err)
	}
	if status != StatusSuccess {
		t.Fatalf("expected kSuccess, got %v", status)
	}
	if res.PG != [3]float64{10, 0, 0} {
		t.Fatalf("expected p_G (10,0,0), got %v", res.PG)
	}
}

func TestMapLookupNoSuchSensor(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	_, status, _ := svc.MapLookup("robotA", "stereo", 200, [3]float64{})
	if status != StatusNoSuchSensor {
		t.Fatalf("expected kNoSuchSensor, got %v", status)
	}
}

func TestMapLookupNoSuchMission(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	_, status, _ := svc.MapLookup("unknown-robot", "lidar", 200, [3]float64{})
	if status != StatusNoSuchMission {
		t.Fatalf("expected kNoSuchMission, got %v", status)
	}
}

func TestMapLookupPoseNotAvailableYet(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	_, status, _ := svc.MapLookup("robotA", "lidar", 10_000_000_000, [3]float64{})
	if status != StatusPoseNotAvailableYet {
		t.Fatalf("expected kPoseNotAvailableYet, got %v", status)
	}
}

func TestMapLookupPoseNeverAvailable(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	_, status, _ := svc.MapLookup("robotA", "lidar", -10_000_000_000, [3]float64{})
	if status != StatusPoseNeverAvailable {
		t.Fatalf("expected kPoseNeverAvailable, got %v", status)
	}
}

func TestMapLookupInterpolatesBetweenVertices(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{})
	res, status, _ := svc.MapLookup("robotA", "lidar", 150, [3]float64{})
	if status != StatusSuccess {
		t.Fatalf("expected kSuccess, got %v", status)
	}
	if res.PG[0] != 5 {
		t.Fatalf("expected midpoint translation 5, got %v", res.PG[0])
	}
}

func TestMapLookupWhitelistRejectsSensor(t *testing.T) {
	svc, _, _, _ := newTestService(t, config.Config{LookupSensorWhitelist: []string{"stereo"}})
	_, status, _ := svc.MapLookup("robotA", "lidar", 200, [3]float64{})
	if status != StatusNoSuchSensor {
		t.Fatalf("expected kNoSuchSensor from whitelist rejection, got %v", status)
	}
}
