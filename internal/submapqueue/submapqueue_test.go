package submapqueue

import (
	"testing"

	"github.com/google/uuid"
)

func TestTryEnqueueRejectsDuplicateHash(t *testing.T) {
	q := New()
	if _, ok := q.TryEnqueue("robotA", "/s1", "hash1"); !ok {
		t.Fatalf("expected first enqueue to succeed")
	}
	if _, ok := q.TryEnqueue("robotA", "/s1", "hash1"); ok {
		t.Fatalf("expected duplicate hash to be rejected")
	}
	if q.Len() != 1 {
		t.Fatalf("expected queue length 1, got %d", q.Len())
	}
}

func TestAdvanceProcessedPrefixStopsAtUnprocessed(t *testing.T) {
	q := New()
	r1, _ := q.TryEnqueue("A", "/s1", "h1")
	r2, _ := q.TryEnqueue("A", "/s2", "h2")
	q.TryEnqueue("A", "/s3", "h3")

	r1.SetLoaded("submap-h1")
	r1.SetProcessed(nil)
	r2.SetLoaded("submap-h2")
	r2.SetProcessed(nil)
	// r3 left unprocessed.

	toMerge, discarded := q.AdvanceProcessedPrefix(func(uuid.UUID) bool { return false })
	if len(toMerge) != 2 || len(discarded) != 0 {
		t.Fatalf("expected 2 merged, 0 discarded; got %d, %d", len(toMerge), len(discarded))
	}
	if q.Len() != 1 {
		t.Fatalf("expected 1 record left in queue, got %d", q.Len())
	}
}

func TestAdvanceProcessedPrefixDiscardsBlacklisted(t *testing.T) {
	q := New()
	r1, _ := q.TryEnqueue("A", "/s1", "h1")
	missionID := uuid.New()
	r1.SetLoaded("submap-h1")
	r1.SetMission(missionID)
	r1.SetProcessed(nil)

	toMerge, discarded := q.AdvanceProcessedPrefix(func(id uuid.UUID) bool { return id == missionID })
	if len(toMerge) != 0 || len(discarded) != 1 {
		t.Fatalf("expected 0 merged, 1 discarded; got %d, %d", len(toMerge), len(discarded))
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue drained, got %d", q.Len())
	}
}

func TestRemoveDeletesRecordAndFreesHash(t *testing.T) {
	q := New()
	r, _ := q.TryEnqueue("A", "/s1", "h1")
	if !q.Remove(r) {
		t.Fatalf("expected Remove to report success")
	}
	if q.Len() != 0 {
		t.Fatalf("expected queue empty after remove")
	}
	if _, ok := q.TryEnqueue("A", "/s1", "h1"); !ok {
		t.Fatalf("expected hash to be free for reuse after Remove")
	}
}
