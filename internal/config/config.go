// Package config describes the server's frozen configuration.
//
// Config is declarative: it defines what the server should do, not how it
// is built. It is loaded once at startup and handed to server.New; there is
// no hot-reload path and no persistence backend, matching the requirement
// that configuration is frozen for the lifetime of a running server.
package config

import (
	"fmt"
	"time"
)

// DefaultIngestParallelism is used when Config.IngestParallelism is unset.
const DefaultIngestParallelism = 4

// Config is the full set of options recognized by the server.
type Config struct {
	// SubmapCommands is the ordered list of named commands applied to each
	// submap as it is loaded into the map store.
	SubmapCommands []string

	// GlobalCommands is the ordered list of named commands applied to the
	// merged map on every merge iteration.
	GlobalCommands []string

	// IngestParallelism bounds the number of submaps loaded and processed
	// concurrently. DefaultIngestParallelism is used when <= 0.
	IngestParallelism int

	// CheckpointInterval is the minimum spacing between merged-map
	// checkpoints written by the merge loop.
	CheckpointInterval time.Duration

	// CheckpointPath is the file the merged map is periodically written to,
	// and read back from on startup if present.
	CheckpointPath string

	// StatusInterval is the period of the status reporter.
	StatusInterval time.Duration

	// LookupSensorWhitelist, if non-empty, restricts mapLookup to these
	// sensor types. An empty whitelist allows any sensor type known to a
	// mission.
	LookupSensorWhitelist []string

	// LookupToleranceNS is the slack, in nanoseconds, applied when deciding
	// whether a requested timestamp falls inside a mission's known pose
	// range. The distilled spec leaves this tolerance unstated; it is
	// promoted to a tunable here.
	LookupToleranceNS int64

	// IngestFailFast, if true, blacklists a submap's mission when one of
	// its SubmapCommands fails instead of merging the submap anyway.
	// Default (false) is "continue past the failure".
	IngestFailFast bool
}

// Parallelism returns the effective ingest pool size.
func (c Config) Parallelism() int {
	if c.IngestParallelism <= 0 {
		return DefaultIngestParallelism
	}
	return c.IngestParallelism
}

// AllowsSensor reports whether sensorType passes the lookup whitelist.
func (c Config) AllowsSensor(sensorType string) bool {
	if len(c.LookupSensorWhitelist) == 0 {
		return true
	}
	for _, s := range c.LookupSensorWhitelist {
		if s == sensorType {
			return true
		}
	}
	return false
}

// Validate checks the fields that must hold for the server to run at all.
// It does not validate command names against the command registry; that
// binding happens at server construction time, where the registry lives.
func (c Config) Validate() error {
	if c.CheckpointPath == "" {
		return fmt.Errorf("config: checkpoint_path must be set")
	}
	if c.CheckpointInterval <= 0 {
		return fmt.Errorf("config: checkpoint_interval_s must be positive")
	}
	if c.StatusInterval <= 0 {
		return fmt.Errorf("config: status_interval_s must be positive")
	}
	if c.IngestParallelism < 0 {
		return fmt.Errorf("config: ingest_parallelism must not be negative")
	}
	if c.LookupToleranceNS < 0 {
		return fmt.Errorf("config: lookup_tolerance_ns must not be negative")
	}
	return nil
}
