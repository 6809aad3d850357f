// Package lookup implements mapLookup: the read-only query path that turns
// a point in a robot's sensor frame into the server's globally optimized
// frame. It reads the merged map through the same per-key RWMutex the
// merge loop writes through, so a lookup observes either the pre- or
// post-mutation state and never a value half-written mid-operation.
package lookup

import (
	"log/slog"
	"sort"

	"mapfusion/internal/config"
	"mapfusion/internal/logging"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/transform"
)

// Status is the outcome of a mapLookup call.
type Status int

const (
	StatusSuccess Status = iota
	StatusNoSuchMission
	StatusNoSuchSensor
	StatusPoseNotAvailableYet
	StatusPoseNeverAvailable
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "kSuccess"
	case StatusNoSuchMission:
		return "kNoSuchMission"
	case StatusNoSuchSensor:
		return "kNoSuchSensor"
	case StatusPoseNotAvailableYet:
		return "kPoseNotAvailableYet"
	case StatusPoseNeverAvailable:
		return "kPoseNeverAvailable"
	default:
		return "kUnknown"
	}
}

// Result is the successful output of a mapLookup call.
type Result struct {
	PG            [3]float64
	SensorOriginG [3]float64
}

// Service answers mapLookup queries against the merged map.
type Service struct {
	store    *mapstore.Store
	registry *robotregistry.Registry
	cfg      config.Config
	logger   *slog.Logger
}

// New returns a Service reading from store and registry.
func New(cfg config.Config, store *mapstore.Store, registry *robotregistry.Registry, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		registry: registry,
		cfg:      cfg,
		logger:   logging.Default(logger).With("component", "lookup"),
	}
}

// MapLookup implements spec's mapLookup operation.
func (s *Service) MapLookup(robotName, sensorType string, timestampNS int64, pS [3]float64) (Result, Status, error) {
	if !s.cfg.AllowsSensor(sensorType) {
		return Result{}, StatusNoSuchSensor, nil
	}

	missionID, ok := s.registry.LatestMission(robotName)
	if !ok {
		return Result{}, StatusNoSuchMission, nil
	}

	m, ok := s.store.Get(mapstore.MergedMapKey)
	if !ok {
		return Result{}, StatusNoSuchMission, nil
	}

	m.RLock()
	defer m.RUnlock()

	md, ok := m.Mission(missionID)
	if !ok {
		return Result{}, StatusNoSuchMission, nil
	}

	tBS, ok := md.Sensors[sensorType]
	if !ok {
		return Result{}, StatusNoSuchSensor, nil
	}

	if len(md.Vertices) == 0 {
		return Result{}, StatusPoseNotAvailableYet, nil
	}

	tolerance := s.cfg.LookupToleranceNS
	first, last := md.Vertices[0], md.Vertices[len(md.Vertices)-1]

	if timestampNS > last.TimestampNS+tolerance {
		return Result{}, StatusPoseNotAvailableYet, nil
	}
	if timestampNS < first.TimestampNS-tolerance {
		return Result{}, StatusPoseNeverAvailable, nil
	}

	tGB := interpolateBodyPose(md.Vertices, timestampNS)
	tGS := tGB.Compose(tBS)

	return Result{
		PG:            tGS.Apply(pS),
		SensorOriginG: tGS.Apply([3]float64{}),
	}, StatusSuccess, nil
}

// interpolateBodyPose finds the vertices bracketing timestampNS and
// interpolates the global body pose between them: linear on translation,
// SLERP on rotation (transform.Slerp implements both).
func interpolateBodyPose(vertices []mapstore.Vertex, timestampNS int64) transform.T {
	i := sort.Search(len(vertices), func(i int) bool {
		return vertices[i].TimestampNS >= timestampNS
	})

	if i == 0 {
		return vertices[0].TGB
	}
	if i == len(vertices) {
		return vertices[len(vertices)-1].TGB
	}
	if vertices[i].TimestampNS == timestampNS {
		return vertices[i].TGB
	}

	a, b := vertices[i-1], vertices[i]
	u := float64(timestampNS-a.TimestampNS) / float64(b.TimestampNS-a.TimestampNS)
	return transform.Slerp(a.TGB, b.TGB, u)
}
