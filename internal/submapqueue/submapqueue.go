// Package submapqueue is the ordered backlog of submaps in flight between
// notification and merge. Each record tracks its own pipeline stage behind
// a per-record mutex so ingest-pool workers can update one record's flags
// while the merge loop scans the whole backlog without contending on a
// single lock.
package submapqueue

import (
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
)

// MapHash derives the stable, path-addressed tag used for dedup, per-submap
// command tagging, and status display.
func MapHash(submapPath string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(submapPath))
}

// Record is one submap in flight. Stage flags are monotonic: once set, a
// field is never cleared. All field access outside this package must go
// through the accessor/mutator methods below, which hold the record's own
// mutex — never the queue's spine mutex.
type Record struct {
	mu sync.Mutex

	RobotName string
	Path      string
	MapHash   string

	mapKey         string
	isLoaded       bool
	missionID      uuid.UUID
	hasMission     bool
	isProcessed    bool
	processErr     error
	currentCommand string
	isMerged       bool
}

// SetLoaded records that the submap has been loaded into the map store
// under mapKey.
func (r *Record) SetLoaded(mapKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mapKey = mapKey
	r.isLoaded = true
}

// MapKeyAndLoaded returns the assigned map store key and whether loading
// has completed.
func (r *Record) MapKeyAndLoaded() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mapKey, r.isLoaded
}

// SetMission records the mission id read from the loaded submap.
func (r *Record) SetMission(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.missionID = id
	r.hasMission = true
}

// Mission returns the record's mission id, if known yet.
func (r *Record) Mission() (uuid.UUID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.missionID, r.hasMission
}

// SetCurrentCommand records the name of the submap command presently
// running against this record, for status reporting.
func (r *Record) SetCurrentCommand(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentCommand = name
}

// SetProcessed marks the record processed, recording err if a command
// failed. A non-nil err does not by itself block the record from merging;
// callers decide the fail-fast policy.
func (r *Record) SetProcessed(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isProcessed = true
	r.processErr = err
	r.currentCommand = ""
}

// SetMerged marks the record merged into the merged map.
func (r *Record) SetMerged() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.isMerged = true
}

// View is a point-in-time, lock-free snapshot of a record's stage flags,
// for status reporting.
type View struct {
	RobotName      string
	Path           string
	MapHash        string
	MapKey         string
	IsLoaded       bool
	HasMission     bool
	MissionID      uuid.UUID
	IsProcessed    bool
	ProcessError   error
	CurrentCommand string
	IsMerged       bool
}

// Snapshot copies out the record's current state.
func (r *Record) Snapshot() View {
	r.mu.Lock()
	defer r.mu.Unlock()
	return View{
		RobotName:      r.RobotName,
		Path:           r.Path,
		MapHash:        r.MapHash,
		MapKey:         r.mapKey,
		IsLoaded:       r.isLoaded,
		HasMission:     r.hasMission,
		MissionID:      r.missionID,
		IsProcessed:    r.isProcessed,
		ProcessError:   r.processErr,
		CurrentCommand: r.currentCommand,
		IsMerged:       r.isMerged,
	}
}

func (r *Record) isProcessedLocked() bool {
	return r.isProcessed
}

// Queue is the ordered backlog of records. The spine mutex guards only the
// slice itself (membership and order) — never a record's fields, which are
// each behind the record's own mutex.
type Queue struct {
	mu      sync.Mutex
	records []*Record
	hashes  map[string]bool
}

// New returns an empty Queue.
func New() *Queue {
	return &Queue{hashes: make(map[string]bool)}
}

// TryEnqueue appends a new record for (robotName, path, mapHash) to the
// tail, unless a record with this mapHash is already present, in which case
// it returns ok=false (duplicate notification).
func (q *Queue) TryEnqueue(robotName, path, mapHash string) (rec *Record, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.hashes[mapHash] {
		return nil, false
	}
	r := &Record{RobotName: robotName, Path: path, MapHash: mapHash}
	q.hashes[mapHash] = true
	q.records = append(q.records, r)
	return r, true
}

// Remove deletes r from the queue, wherever it currently sits. Used when a
// submap fails to load or its mission turns out to be blacklisted.
func (q *Queue) Remove(r *Record) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, rec := range q.records {
		if rec == r {
			q.records = append(q.records[:i:i], q.records[i+1:]...)
			delete(q.hashes, r.MapHash)
			return true
		}
	}
	return false
}

// Len reports the number of records currently queued.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.records)
}

// Snapshot returns a point-in-time view of every queued record, head first.
func (q *Queue) Snapshot() []View {
	q.mu.Lock()
	recs := make([]*Record, len(q.records))
	copy(recs, q.records)
	q.mu.Unlock()

	views := make([]View, len(recs))
	for i, r := range recs {
		views[i] = r.Snapshot()
	}
	return views
}

// AdvanceProcessedPrefix pops the maximal head prefix of processed records.
// Records whose mission is blacklisted (per isBlacklisted) are returned as
// discarded rather than toMerge, but are popped all the same — they are
// never merged and never block the scan. The scan stops at the first
// record that is not yet processed; it and everything after it remain
// queued, preserving per-robot FIFO order through the bottleneck.
func (q *Queue) AdvanceProcessedPrefix(isBlacklisted func(uuid.UUID) bool) (toMerge, discarded []*Record) {
	q.mu.Lock()
	defer q.mu.Unlock()

	i := 0
	for i < len(q.records) {
		r := q.records[i]
		r.mu.Lock()
		processed := r.isProcessedLocked()
		missionID, hasMission := r.missionID, r.hasMission
		r.mu.Unlock()

		if !processed {
			break
		}
		if hasMission && isBlacklisted(missionID) {
			discarded = append(discarded, r)
		} else {
			toMerge = append(toMerge, r)
		}
		delete(q.hashes, r.MapHash)
		i++
	}
	q.records = q.records[i:]
	return toMerge, discarded
}
