package status

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/submapqueue"
)

type fakeMergeLoop struct {
	busy     bool
	command  string
	duration time.Duration
}

func (f *fakeMergeLoop) Busy() bool                          { return f.busy }
func (f *fakeMergeLoop) CurrentMergeCommand() string         { return f.command }
func (f *fakeMergeLoop) LastIterationDuration() time.Duration { return f.duration }

type fakePublisher struct {
	texts []string
}

func (f *fakePublisher) Publish(text string) { f.texts = append(f.texts, text) }

func TestSnapshotIncludesQueueAndBlacklist(t *testing.T) {
	queue := submapqueue.New()
	queue.TryEnqueue("robotA", "/s1", "hash1")
	registry := robotregistry.New()
	bl := blacklist.New()
	bl.Insert(
		uuid.MustParse("aaaaaaaa-0000-0000-0000-000000000000"),
		"test reason",
	)
	loop := &fakeMergeLoop{busy: true, command: "optimize"}

	r, err := New(time.Hour, queue, registry, bl, loop, nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	text := r.Snapshot()
	if !strings.Contains(text, "hash1") {
		t.Fatalf("expected snapshot to mention queued submap hash, got: %s", text)
	}
	if !strings.Contains(text, "test reason") {
		t.Fatalf("expected snapshot to mention blacklist reason, got: %s", text)
	}
	if !strings.Contains(text, "optimize") {
		t.Fatalf("expected snapshot to mention current merge command, got: %s", text)
	}
}

func TestReportPublishesToRegisteredPublisher(t *testing.T) {
	queue := submapqueue.New()
	registry := robotregistry.New()
	bl := blacklist.New()
	loop := &fakeMergeLoop{}
	pub := &fakePublisher{}

	r, err := New(time.Hour, queue, registry, bl, loop, pub, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.report()

	if len(pub.texts) != 1 {
		t.Fatalf("expected exactly one published snapshot, got %d", len(pub.texts))
	}
}
