// Package blacklist tracks missions scheduled for deletion from the merged
// map. Entries are monotonic: once inserted, an entry is never removed —
// it must keep filtering future submaps for that mission forever.
package blacklist

import (
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// MinPrefixLength is the shortest partial id accepted by Resolve/Delete.
const MinPrefixLength = 4

// Sentinel errors distinguishing the partial-id resolution outcomes a
// caller must branch on.
var (
	ErrPrefixTooShort = errors.New("blacklist: partial id shorter than minimum prefix length")
	ErrNotFound       = errors.New("blacklist: no mission matches partial id")
	ErrAmbiguous      = errors.New("blacklist: partial id matches more than one mission")
)

// MissionLister is the narrow read contract blacklist needs from any
// source of known mission ids (the robot registry, the merged map) to
// gather prefix-resolution candidates.
type MissionLister interface {
	MissionIDs() []uuid.UUID
}

// Canonical returns the canonical string form of a mission id used for all
// prefix comparisons: lowercase hex, hyphens stripped, so a short prefix is
// never accidentally split across a hyphen position.
func Canonical(id uuid.UUID) string {
	return strings.ReplaceAll(id.String(), "-", "")
}

// UnionMissionIDs gathers the de-duplicated set of mission ids known to any
// of the given listers.
func UnionMissionIDs(listers ...MissionLister) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var out []uuid.UUID
	for _, l := range listers {
		for _, id := range l.MissionIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	return out
}

// Registry is the set of blacklisted mission ids with a human reason.
type Registry struct {
	mu      sync.Mutex
	entries map[uuid.UUID]string
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[uuid.UUID]string)}
}

// IsBlacklisted reports whether id has been blacklisted.
func (b *Registry) IsBlacklisted(id uuid.UUID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.entries[id]
	return ok
}

// Insert adds id to the blacklist with reason, or overwrites the reason if
// already present. Idempotent.
func (b *Registry) Insert(id uuid.UUID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[id] = reason
}

// Snapshot returns a point-in-time copy of the blacklist, for status
// reporting.
func (b *Registry) Snapshot() map[uuid.UUID]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[uuid.UUID]string, len(b.entries))
	for id, reason := range b.entries {
		out[id] = reason
	}
	return out
}

// Resolve finds the unique mission among candidates whose canonical form
// has partialID as a prefix. Returns ErrPrefixTooShort if partialID is
// shorter than MinPrefixLength, ErrNotFound if no candidate matches, and
// ErrAmbiguous if more than one does.
func Resolve(partialID string, candidates []uuid.UUID) (uuid.UUID, error) {
	prefix := strings.ToLower(strings.ReplaceAll(partialID, "-", ""))
	if len(prefix) < MinPrefixLength {
		return uuid.UUID{}, ErrPrefixTooShort
	}

	var matches []uuid.UUID
	for _, id := range candidates {
		if strings.HasPrefix(Canonical(id), prefix) {
			matches = append(matches, id)
		}
	}

	switch len(matches) {
	case 0:
		return uuid.UUID{}, ErrNotFound
	case 1:
		return matches[0], nil
	default:
		return uuid.UUID{}, ErrAmbiguous
	}
}

// Delete resolves partialID against candidates and, on a unique match,
// inserts it into the blacklist with reason. Returns the resolved id and a
// human-readable status message.
func (b *Registry) Delete(partialID, reason string, candidates []uuid.UUID) (uuid.UUID, string, error) {
	id, err := Resolve(partialID, candidates)
	if err != nil {
		switch err {
		case ErrNotFound:
			return uuid.UUID{}, "not found: no mission matches " + partialID, err
		case ErrAmbiguous:
			return uuid.UUID{}, "ambiguous: more than one mission matches " + partialID, err
		default:
			return uuid.UUID{}, "invalid: partial id too short", err
		}
	}
	b.Insert(id, reason)
	return id, "deleted mission " + id.String(), nil
}

// DeleteAllRobotMissions blacklists every mission id passed in, each with
// reason. Idempotent: already-blacklisted ids are simply overwritten.
func (b *Registry) DeleteAllRobotMissions(missionIDs []uuid.UUID, reason string) {
	for _, id := range missionIDs {
		b.Insert(id, reason)
	}
}
