package blacklist

import (
	"errors"
	"testing"

	"github.com/google/uuid"
)

func TestResolveUniquePrefix(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	prefix := Canonical(a)[:4]
	// Ensure b does not collide with a's prefix for this test to be meaningful.
	for Canonical(b)[:4] == prefix {
		b = uuid.New()
	}

	got, err := Resolve(prefix, []uuid.UUID{a, b})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got != a {
		t.Fatalf("resolved wrong id: got %v, want %v", got, a)
	}
}

func TestResolveNotFound(t *testing.T) {
	_, err := Resolve("zzzz", []uuid.UUID{uuid.New()})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestResolveTooShort(t *testing.T) {
	_, err := Resolve("abc", []uuid.UUID{uuid.New()})
	if !errors.Is(err, ErrPrefixTooShort) {
		t.Fatalf("expected ErrPrefixTooShort, got %v", err)
	}
}

func TestResolveAmbiguous(t *testing.T) {
	a := uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000")
	b := uuid.MustParse("aaaaaaaa-1111-0000-0000-000000000000")
	_, err := Resolve("aaaa", []uuid.UUID{a, b})
	if !errors.Is(err, ErrAmbiguous) {
		t.Fatalf("expected ErrAmbiguous, got %v", err)
	}
}

func TestDeleteInsertsOnUniqueMatch(t *testing.T) {
	reg := New()
	a := uuid.MustParse("bbbbbbbb-0000-0000-0000-000000000000")
	id, _, err := reg.Delete("bbbb", "test deletion", []uuid.UUID{a})
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if id != a {
		t.Fatalf("resolved wrong id: %v", id)
	}
	if !reg.IsBlacklisted(a) {
		t.Fatalf("expected mission to be blacklisted")
	}
}

func TestDeleteAllRobotMissionsIsIdempotent(t *testing.T) {
	reg := New()
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	reg.DeleteAllRobotMissions(ids, "robot decommissioned")
	reg.DeleteAllRobotMissions(ids, "robot decommissioned")
	for _, id := range ids {
		if !reg.IsBlacklisted(id) {
			t.Fatalf("expected %v blacklisted", id)
		}
	}
}
