// Package ingestpool is the bounded worker pool that loads submap files and
// runs per-submap commands, implementing loadAndProcessSubmap. Admission is
// backpressured by golang.org/x/sync/errgroup's SetLimit: Submit blocks the
// caller once ingest_parallelism workers are already busy, rather than
// queuing unboundedly or rejecting for capacity.
package ingestpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/command"
	"mapfusion/internal/config"
	"mapfusion/internal/logging"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/submapqueue"
)

// ErrDuplicateSubmap is returned by Submit when a submap with the same
// map_hash is already present in the queue.
var ErrDuplicateSubmap = errors.New("ingestpool: duplicate submap notification")

// Pool is the bounded ingest worker pool.
type Pool struct {
	group errgroup.Group

	queue      *submapqueue.Queue
	store      *mapstore.Store
	registry   *robotregistry.Registry
	blacklist  *blacklist.Registry
	runner     command.Runner
	cfg        config.Config
	logger     *slog.Logger

	wake wakeNotifier
}

// wakeNotifier is satisfied by *mergeloop.WakeSignal. Kept narrow so this
// package doesn't need to import mergeloop just to poke it after a submap
// finishes processing.
type wakeNotifier interface {
	Notify()
}

// SetWakeSignal wires a notifier that gets poked every time a submap
// finishes processing, so a merge loop sleeping between iterations can wake
// immediately instead of waiting out its fixed cadence. Optional.
func (p *Pool) SetWakeSignal(w wakeNotifier) {
	p.wake = w
}

// New returns a Pool bounded to cfg.Parallelism() concurrent workers.
func New(cfg config.Config, queue *submapqueue.Queue, store *mapstore.Store, registry *robotregistry.Registry, blacklistReg *blacklist.Registry, runner command.Runner, logger *slog.Logger) *Pool {
	p := &Pool{
		queue:     queue,
		store:     store,
		registry:  registry,
		blacklist: blacklistReg,
		runner:    runner,
		cfg:       cfg,
		logger:    logging.Default(logger).With("component", "ingestpool"),
	}
	p.group.SetLimit(cfg.Parallelism())
	return p
}

// Submit implements loadAndProcessSubmap: it dedups on map_hash, enqueues a
// new record, and dispatches a worker task bound to it. Submit blocks while
// the pool already has Parallelism() tasks running; once a slot is free it
// returns, and the task runs asynchronously and is tracked by Wait.
func (p *Pool) Submit(ctx context.Context, robotName, submapPath string) error {
	if robotName == "" || submapPath == "" {
		return fmt.Errorf("ingestpool: robot_name and submap_path are required")
	}

	mapHash := submapqueue.MapHash(submapPath)
	rec, ok := p.queue.TryEnqueue(robotName, submapPath, mapHash)
	if !ok {
		return ErrDuplicateSubmap
	}

	p.group.Go(func() error {
		p.process(ctx, rec)
		return nil
	})
	return nil
}

// Wait blocks until every dispatched worker task has returned. Used at
// shutdown to drain in-flight submaps; queued-but-undispatched work has
// already been admitted as a running goroutine by the time Submit returns,
// so there is nothing left to abandon beyond what SetLimit is already
// throttling.
func (p *Pool) Wait() error {
	return p.group.Wait()
}

// process runs steps 4.2.a-d of the ingest admission pipeline for one
// queued record.
func (p *Pool) process(ctx context.Context, rec *submapqueue.Record) {
	mapKey := mapstore.SubmapKey(rec.MapHash)

	// a. Load the submap file. On failure, discard the record entirely.
	m, err := p.store.LoadSubmapFile(mapKey, rec.Path)
	if err != nil {
		p.logger.Warn("submap load failed", "path", rec.Path, "err", err)
		p.queue.Remove(rec)
		return
	}

	md, ok := m.SoleMission()
	if !ok {
		p.logger.Warn("submap does not carry exactly one mission", "path", rec.Path)
		p.store.Delete(mapKey)
		p.queue.Remove(rec)
		return
	}
	rec.SetLoaded(mapKey)

	// b. Blacklist check and robot registry update.
	missionID := md.MissionID
	if p.blacklist.IsBlacklisted(missionID) {
		p.logger.Info("dropping submap for blacklisted mission", "mission_id", missionID, "path", rec.Path)
		p.store.Delete(mapKey)
		p.queue.Remove(rec)
		return
	}
	rec.SetMission(missionID)
	p.registry.EnsureMission(rec.RobotName, missionID)

	// c. Extract the latest unoptimized body pose into the robot registry.
	if last, ok := latestVertex(md); ok {
		p.registry.RecordInput(rec.RobotName, last.TimestampNS, last.TMB, last.TGM)
	}

	// d. Run submap commands in order.
	var procErr error
	for _, cmdText := range p.cfg.SubmapCommands {
		select {
		case <-ctx.Done():
			procErr = ctx.Err()
		default:
		}
		if procErr != nil {
			break
		}

		rec.SetCurrentCommand(command.Name(cmdText))
		if err := p.runner.Run(ctx, p.store, mapKey, cmdText); err != nil {
			p.logger.Warn("submap command failed", "command", cmdText, "map_hash", rec.MapHash, "err", err)
			procErr = err
			break
		}
	}
	rec.SetCurrentCommand("")
	rec.SetProcessed(procErr)

	if procErr != nil && p.cfg.IngestFailFast && ctx.Err() == nil {
		reason := fmt.Sprintf("command failed: %v", procErr)
		p.logger.Warn("blacklisting mission after command failure", "mission_id", missionID, "reason", reason)
		p.blacklist.Insert(missionID, reason)
	}

	if p.wake != nil {
		p.wake.Notify()
	}
}

// latestVertex returns the most recently timestamped vertex in md, relying
// on the map store's invariant that a mission's vertices are kept in
// ascending timestamp order.
func latestVertex(md *mapstore.MissionData) (mapstore.Vertex, bool) {
	if len(md.Vertices) == 0 {
		return mapstore.Vertex{}, false
	}
	return md.Vertices[len(md.Vertices)-1], true
}
