// Package mapstore owns every map the server holds in memory: submaps
// freshly loaded by the ingest pool and the single running merged map.
// Maps are kept in a keyed registry; each map has its own reader-writer
// lock so the merge loop's single writer never blocks concurrent lookup
// readers of a map they are not touching.
package mapstore

import (
	"fmt"
	"sync"

	"github.com/google/uuid"

	"mapfusion/internal/transform"
)

// MergedMapKey is the well-known registry key for the one running merged map.
const MergedMapKey = "merged_map"

// SubmapKey returns the registry key a loaded submap is stored under.
func SubmapKey(mapHash string) string {
	return "submap-" + mapHash
}

// Vertex is one optimized pose sample belonging to a mission.
type Vertex struct {
	TimestampNS int64        `msgpack:"timestamp_ns"`
	TGB         transform.T  `msgpack:"t_g_b"`
	TMB         transform.T  `msgpack:"t_m_b"`
	TGM         transform.T  `msgpack:"t_g_m"`
}

// MissionData is everything the store knows about one mission within a map:
// its sensor extrinsics and its ordered (ascending timestamp) vertex list.
type MissionData struct {
	MissionID uuid.UUID              `msgpack:"mission_id"`
	Sensors   map[string]transform.T `msgpack:"sensors"`
	Vertices  []Vertex               `msgpack:"vertices"`
}

// insertVertex inserts v into the mission's vertex list, keeping ascending
// timestamp order. Submaps normally append in order already; this keeps the
// invariant even if a producer does not.
func (m *MissionData) insertVertex(v Vertex) {
	n := len(m.Vertices)
	if n == 0 || m.Vertices[n-1].TimestampNS <= v.TimestampNS {
		m.Vertices = append(m.Vertices, v)
		return
	}
	i := n
	for i > 0 && m.Vertices[i-1].TimestampNS > v.TimestampNS {
		i--
	}
	m.Vertices = append(m.Vertices, Vertex{})
	copy(m.Vertices[i+1:], m.Vertices[i:])
	m.Vertices[i] = v
}

// Map is one named map held by the Store: a set of missions, each with its
// own vertex history. The zero value is not usable; construct with newMap.
//
// Map embeds a RWMutex rather than hiding it behind accessor methods,
// matching the "read lock handle" contract named throughout the design:
// callers that only read (the lookup service, the status reporter) take
// RLock; the merge loop, the sole writer, takes Lock.
type Map struct {
	sync.RWMutex
	Missions map[uuid.UUID]*MissionData
}

func newMap() *Map {
	return &Map{Missions: make(map[uuid.UUID]*MissionData)}
}

// MissionIDs returns every mission id currently present. Callers must not
// hold the map's own lock when calling this; it takes RLock itself.
func (m *Map) MissionIDs() []uuid.UUID {
	m.RLock()
	defer m.RUnlock()
	ids := make([]uuid.UUID, 0, len(m.Missions))
	for id := range m.Missions {
		ids = append(ids, id)
	}
	return ids
}

// AppendMission merges sensors and vertices into the mission identified by
// missionID, creating it if absent. Sensor entries already present are kept;
// new ones are added. Vertices are merged keeping ascending timestamp order.
func (m *Map) AppendMission(missionID uuid.UUID, sensors map[string]transform.T, vertices []Vertex) {
	m.Lock()
	defer m.Unlock()

	md, ok := m.Missions[missionID]
	if !ok {
		md = &MissionData{MissionID: missionID, Sensors: make(map[string]transform.T)}
		m.Missions[missionID] = md
	}
	for sensorType, t := range sensors {
		if _, exists := md.Sensors[sensorType]; !exists {
			md.Sensors[sensorType] = t
		}
	}
	for _, v := range vertices {
		md.insertVertex(v)
	}
}

// DeleteMission removes a mission and all of its vertices/sensors. Reports
// whether the mission was present, and whether the map is now empty.
func (m *Map) DeleteMission(missionID uuid.UUID) (removed, empty bool) {
	m.Lock()
	defer m.Unlock()
	if _, ok := m.Missions[missionID]; !ok {
		return false, len(m.Missions) == 0
	}
	delete(m.Missions, missionID)
	return true, len(m.Missions) == 0
}

// SoleMission returns the only mission in the map, for the common case of a
// freshly loaded submap that carries exactly one mission. ok is false if the
// map holds zero or more than one mission.
func (m *Map) SoleMission() (*MissionData, bool) {
	m.RLock()
	defer m.RUnlock()
	if len(m.Missions) != 1 {
		return nil, false
	}
	for _, md := range m.Missions {
		return md, true
	}
	return nil, false
}

// Mission returns the mission data for id, under the caller's own RLock/Lock
// discipline; the returned pointer must only be read if the caller holds at
// least RLock on m, and only mutated while holding Lock.
func (m *Map) Mission(id uuid.UUID) (*MissionData, bool) {
	md, ok := m.Missions[id]
	return md, ok
}

// Store is the registry of maps held by key. Creating and deleting entries
// is guarded by a short-held registry mutex distinct from any individual
// map's RWMutex, so looking up one map's handle never contends with another
// map's readers or writer.
type Store struct {
	mu      sync.Mutex
	entries map[string]*Map
}

// New returns an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*Map)}
}

// Get returns the map at key, if present.
func (s *Store) Get(key string) (*Map, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[key]
	return m, ok
}

// GetOrCreate returns the map at key, creating an empty one if absent.
func (s *Store) GetOrCreate(key string) *Map {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.entries[key]
	if !ok {
		m = newMap()
		s.entries[key] = m
	}
	return m
}

// Put installs m at key, replacing any existing entry.
func (s *Store) Put(key string, m *Map) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = m
}

// Delete removes the map at key, if present.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

// Keys returns the set of currently registered map keys.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	return keys
}

// ErrNotFound is returned by operations that target a missing map key.
var ErrNotFound = fmt.Errorf("mapstore: key not found")
