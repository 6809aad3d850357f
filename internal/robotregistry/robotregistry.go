// Package robotregistry tracks per-robot mission identity and the odometry
// anchors each robot has reported, plus the reverse mission-to-robot index.
// Both directions are guarded by a single lock, because the invariant that
// matters — "keys in both maps agree" — is trivial to keep under one lock
// and easy to break under two.
//
// Anchors are stored only at the exact timestamps producers report. The
// merge loop looks them up at merged-map vertex timestamps with no
// interpolation, so a robot whose reported timestamps match no merged
// vertex gets no pose correction for that iteration.
package robotregistry

import (
	"sync"

	"github.com/google/uuid"

	"mapfusion/internal/transform"
)

// State is one robot's bookkeeping: its mission chain (most recent first)
// and the odometry-frame anchors it has reported, keyed by timestamp.
type State struct {
	MissionIDs []uuid.UUID
	TMBInput   map[int64]transform.T
	TGMInput   map[int64]transform.T
}

func newState() *State {
	return &State{
		TMBInput: make(map[int64]transform.T),
		TGMInput: make(map[int64]transform.T),
	}
}

// Registry is the forward robot->State map and the reverse mission->robot
// index, kept consistent under a single RWMutex.
type Registry struct {
	mu             sync.RWMutex
	robots         map[string]*State
	missionToRobot map[uuid.UUID]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		robots:         make(map[string]*State),
		missionToRobot: make(map[uuid.UUID]string),
	}
}

// EnsureMission records that robotName's most recently seen mission is
// missionID, prepending it to the robot's mission chain (and updating the
// reverse index) if it is not already at the front. Reports whether the
// mission was newly prepended.
func (r *Registry) EnsureMission(robotName string, missionID uuid.UUID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.robots[robotName]
	if !ok {
		st = newState()
		r.robots[robotName] = st
	}
	if len(st.MissionIDs) > 0 && st.MissionIDs[0] == missionID {
		return false
	}
	st.MissionIDs = append([]uuid.UUID{missionID}, st.MissionIDs...)
	r.missionToRobot[missionID] = robotName
	return true
}

// RecordInput stores the odometry-frame anchors reported at timestampNS for
// robotName, creating the robot's state if this is its first submap.
func (r *Registry) RecordInput(robotName string, timestampNS int64, tmb, tgm transform.T) {
	r.mu.Lock()
	defer r.mu.Unlock()

	st, ok := r.robots[robotName]
	if !ok {
		st = newState()
		r.robots[robotName] = st
	}
	st.TMBInput[timestampNS] = tmb
	st.TGMInput[timestampNS] = tgm
}

// LatestMission returns robotName's most recently seen mission id.
func (r *Registry) LatestMission(robotName string) (uuid.UUID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.robots[robotName]
	if !ok || len(st.MissionIDs) == 0 {
		return uuid.UUID{}, false
	}
	return st.MissionIDs[0], true
}

// RobotForMission resolves the reverse index.
func (r *Registry) RobotForMission(missionID uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	name, ok := r.missionToRobot[missionID]
	return name, ok
}

// InputAt returns the T_M_B/T_G_M anchors robotName reported at
// timestampNS, if present.
func (r *Registry) InputAt(robotName string, timestampNS int64) (tmb, tgm transform.T, ok bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, exists := r.robots[robotName]
	if !exists {
		return transform.T{}, transform.T{}, false
	}
	tmb, ok1 := st.TMBInput[timestampNS]
	tgm, ok2 := st.TGMInput[timestampNS]
	return tmb, tgm, ok1 && ok2
}

// MissionIDs returns every mission id known to the registry, across all
// robots. Satisfies the narrow MissionLister contract used by blacklist
// prefix resolution.
func (r *Registry) MissionIDs() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.missionToRobot))
	for id := range r.missionToRobot {
		ids = append(ids, id)
	}
	return ids
}

// RemoveMission clears missionID from the forward chain of whichever robot
// owns it and from the reverse index. Used by the merge loop's blacklist
// sweep (§4.3 step 1) once a mission has been evicted from the merged map.
func (r *Registry) RemoveMission(missionID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	robotName, ok := r.missionToRobot[missionID]
	if !ok {
		return
	}
	delete(r.missionToRobot, missionID)

	st, ok := r.robots[robotName]
	if !ok {
		return
	}
	for i, id := range st.MissionIDs {
		if id == missionID {
			st.MissionIDs = append(st.MissionIDs[:i:i], st.MissionIDs[i+1:]...)
			break
		}
	}
}

// MissionIDsFor returns robotName's mission chain, most recent first.
func (r *Registry) MissionIDsFor(robotName string) []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.robots[robotName]
	if !ok {
		return nil
	}
	out := make([]uuid.UUID, len(st.MissionIDs))
	copy(out, st.MissionIDs)
	return out
}

// RobotSnapshot is a point-in-time view of one robot's mission chain, for
// status reporting.
type RobotSnapshot struct {
	RobotName  string
	MissionIDs []uuid.UUID
}

// Snapshot returns a point-in-time view of every known robot.
func (r *Registry) Snapshot() []RobotSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RobotSnapshot, 0, len(r.robots))
	for name, st := range r.robots {
		ids := make([]uuid.UUID, len(st.MissionIDs))
		copy(ids, st.MissionIDs)
		out = append(out, RobotSnapshot{RobotName: name, MissionIDs: ids})
	}
	return out
}

// RobotNames returns every robot name the registry knows about.
func (r *Registry) RobotNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.robots))
	for name := range r.robots {
		names = append(names, name)
	}
	return names
}
