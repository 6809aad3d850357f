package mapstore

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"mapfusion/internal/transform"
)

// submapPayload is the on-disk shape of a single submap file: one mission,
// its sensor extrinsics, and its ordered vertices. Robots produce this
// format; it is opaque to the rest of the core beyond this decode step.
type submapPayload struct {
	MissionID uuid.UUID              `msgpack:"mission_id"`
	Sensors   map[string]transform.T `msgpack:"sensors"`
	Vertices  []Vertex               `msgpack:"vertices"`
}

// checkpointPayload is the on-disk shape of a full merged-map checkpoint:
// every mission the map currently holds.
type checkpointPayload struct {
	Missions map[uuid.UUID]*MissionData `msgpack:"missions"`
}

// LoadSubmapFile reads and decodes the submap file at path and installs it
// in the store under key as a single-mission map, returning the handle.
func (s *Store) LoadSubmapFile(key, path string) (*Map, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("mapstore: read submap %s: %w", path, err)
	}

	var payload submapPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("mapstore: decode submap %s: %w", path, err)
	}

	m := newMap()
	m.Missions[payload.MissionID] = &MissionData{
		MissionID: payload.MissionID,
		Sensors:   payload.Sensors,
		Vertices:  payload.Vertices,
	}
	s.Put(key, m)
	return m, nil
}

// SaveCheckpoint serializes the map at key (msgpack, zstd-framed) and writes
// it to path, replacing any previous file atomically via a temp-file-then-
// rename. Returns ErrNotFound if key is not registered.
func (s *Store) SaveCheckpoint(key, path string) error {
	m, ok := s.Get(key)
	if !ok {
		return ErrNotFound
	}

	m.RLock()
	payload := checkpointPayload{Missions: make(map[uuid.UUID]*MissionData, len(m.Missions))}
	for id, md := range m.Missions {
		payload.Missions[id] = md
	}
	m.RUnlock()

	raw, err := msgpack.Marshal(&payload)
	if err != nil {
		return fmt.Errorf("mapstore: encode checkpoint: %w", err)
	}

	var buf bytes.Buffer
	zw, err := zstd.NewWriter(&buf)
	if err != nil {
		return fmt.Errorf("mapstore: create zstd writer: %w", err)
	}
	if _, err := zw.Write(raw); err != nil {
		zw.Close()
		return fmt.Errorf("mapstore: compress checkpoint: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("mapstore: finalize checkpoint compression: %w", err)
	}

	return writeFileAtomic(path, buf.Bytes())
}

// LoadCheckpoint reads and decodes the checkpoint file at path and installs
// it in the store under key, returning the resulting map handle.
func (s *Store) LoadCheckpoint(key, path string) (*Map, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("mapstore: open checkpoint %s: %w", path, err)
	}
	defer f.Close()

	zr, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("mapstore: create zstd reader: %w", err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("mapstore: decompress checkpoint %s: %w", path, err)
	}

	var payload checkpointPayload
	if err := msgpack.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("mapstore: decode checkpoint %s: %w", path, err)
	}

	m := newMap()
	if payload.Missions != nil {
		m.Missions = payload.Missions
	}
	s.Put(key, m)
	return m, nil
}

// writeFileAtomic writes data to a temp file in the same directory as path
// and renames it over path, so a reader never observes a partial write and
// a crash mid-write leaves the previous file intact.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("mapstore: create temp checkpoint file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("mapstore: write temp checkpoint file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("mapstore: sync temp checkpoint file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("mapstore: close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("mapstore: rename checkpoint file into place: %w", err)
	}
	return nil
}
