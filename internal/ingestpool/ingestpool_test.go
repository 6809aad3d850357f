package ingestpool

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/command"
	"mapfusion/internal/config"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/submapqueue"
)

func writeSubmapFile(t *testing.T, dir string, missionID uuid.UUID, timestamps ...int64) string {
	t.Helper()
	vertices := make([]mapstore.Vertex, len(timestamps))
	for i, ts := range timestamps {
		vertices[i] = mapstore.Vertex{TimestampNS: ts}
	}
	payload := struct {
		MissionID uuid.UUID          `msgpack:"mission_id"`
		Sensors   map[string]any     `msgpack:"sensors"`
		Vertices  []mapstore.Vertex  `msgpack:"vertices"`
	}{MissionID: missionID, Sensors: map[string]any{}, Vertices: vertices}

	raw, err := msgpack.Marshal(&payload)
	if err != nil {
		t.Fatalf("marshal fixture: %v", err)
	}
	path := filepath.Join(dir, "submap.bin")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func newTestPool(t *testing.T, cfg config.Config) (*Pool, *submapqueue.Queue, *mapstore.Store, *robotregistry.Registry, *blacklist.Registry) {
	t.Helper()
	queue := submapqueue.New()
	store := mapstore.New()
	registry := robotregistry.New()
	bl := blacklist.New()
	runner := command.NewRegistry(nil)
	pool := New(cfg, queue, store, registry, bl, runner, nil)
	return pool, queue, store, registry, bl
}

func TestSubmitProcessesSubmap(t *testing.T) {
	cfg := config.Config{IngestParallelism: 2, SubmapCommands: []string{"noop"}}
	pool, queue, _, registry, _ := newTestPool(t, cfg)

	missionID := uuid.New()
	path := writeSubmapFile(t, t.TempDir(), missionID, 100, 200)

	if err := pool.Submit(context.Background(), "robotA", path); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := pool.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	views := queue.Snapshot()
	if len(views) != 1 {
		t.Fatalf("expected 1 queued record, got %d", len(views))
	}
	v := views[0]
	if !v.IsLoaded || !v.IsProcessed {
		t.Fatalf("expected loaded+processed record, got %+v", v)
	}
	if v.MissionID != missionID {
		t.Fatalf("mission id mismatch: got %v, want %v", v.MissionID, missionID)
	}

	if latest, ok := registry.LatestMission("robotA"); !ok || latest != missionID {
		t.Fatalf("expected robot registry to record mission %v, got %v (ok=%v)", missionID, latest, ok)
	}
}

func TestSubmitRejectsDuplicate(t *testing.T) {
	cfg := config.Config{IngestParallelism: 2}
	pool, _, _, _, _ := newTestPool(t, cfg)

	path := writeSubmapFile(t, t.TempDir(), uuid.New(), 1)
	if err := pool.Submit(context.Background(), "robotA", path); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := pool.Submit(context.Background(), "robotA", path); err != ErrDuplicateSubmap {
		t.Fatalf("expected ErrDuplicateSubmap, got %v", err)
	}
	pool.Wait()
}

func TestSubmitDropsBlacklistedMission(t *testing.T) {
	cfg := config.Config{IngestParallelism: 2}
	pool, queue, store, _, bl := newTestPool(t, cfg)

	missionID := uuid.New()
	bl.Insert(missionID, "test")
	path := writeSubmapFile(t, t.TempDir(), missionID, 1)

	if err := pool.Submit(context.Background(), "robotA", path); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pool.Wait()

	if queue.Len() != 0 {
		t.Fatalf("expected blacklisted submap's record removed, queue len=%d", queue.Len())
	}
	if _, ok := store.Get(mapstore.SubmapKey(submapqueue.MapHash(path))); ok {
		t.Fatalf("expected blacklisted submap's loaded map to be erased")
	}
}

func TestSubmitFailFastBlacklistsOnCommandFailure(t *testing.T) {
	cfg := config.Config{IngestParallelism: 2, SubmapCommands: []string{"fail"}, IngestFailFast: true}
	pool, _, _, _, bl := newTestPool(t, cfg)

	missionID := uuid.New()
	path := writeSubmapFile(t, t.TempDir(), missionID, 1)

	if err := pool.Submit(context.Background(), "robotA", path); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	pool.Wait()

	if !bl.IsBlacklisted(missionID) {
		t.Fatalf("expected mission blacklisted after fail-fast command failure")
	}
}
