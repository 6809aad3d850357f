// Package server wires every collaborator package into a single running
// instance: ingest pool, merge loop, status reporter, and (optionally) a
// filesystem notifier, plus the public operations a transport layer calls
// into (submap submission, map saving, pose lookup, mission deletion).
//
// Configuration is frozen at construction; Start/Shutdown only toggle
// whether the background goroutines are running.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/command"
	"mapfusion/internal/config"
	"mapfusion/internal/correction"
	"mapfusion/internal/ingestpool"
	"mapfusion/internal/logging"
	"mapfusion/internal/lookup"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/mergeloop"
	"mapfusion/internal/notifier"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/status"
	"mapfusion/internal/submapqueue"
)

// ErrAlreadyRunning is returned by Start when the server is already running.
var ErrAlreadyRunning = errors.New("server: already running")

// ErrNotRunning is returned by Shutdown when the server is not running.
var ErrNotRunning = errors.New("server: not running")

// Deps collects the optional collaborators a caller may substitute; any
// left nil get a sensible default.
type Deps struct {
	// Runner executes named submap/global commands against the map store.
	// Defaults to command.NewRegistry, which knows "noop", "fail", and
	// "count-vertices".
	Runner command.Runner

	// CorrectionPublisher receives a correction.Event for each robot that
	// gained merged data in a merge iteration. Defaults to a LogPublisher.
	CorrectionPublisher correction.Publisher

	// StatusPublisher receives the periodic textual status snapshot, in
	// addition to it always being logged locally. Defaults to nil (log
	// only).
	StatusPublisher status.Publisher

	// Notifier, if set, is watched for submap-ready events for as long as
	// the server is running; each delivered Notification is submitted the
	// same way an explicit LoadAndProcessSubmap call would be. Defaults to
	// nil (no filesystem watching; submaps must be submitted explicitly).
	Notifier notifier.SubmapNotifier

	Logger *slog.Logger
}

// Server is the top-level wiring of one running map-fusion instance.
type Server struct {
	cfg    config.Config
	logger *slog.Logger

	store        *mapstore.Store
	checkpointer *mapstore.Checkpointer
	queue        *submapqueue.Queue
	registry     *robotregistry.Registry
	blacklistReg *blacklist.Registry
	runner       command.Runner
	pool         *ingestpool.Pool
	loop         *mergeloop.Loop
	lookupSvc    *lookup.Service
	reporter     *status.Reporter
	notif        notifier.SubmapNotifier

	mu           sync.Mutex
	running      bool
	cancel       context.CancelFunc
	notifierDone chan struct{}
}

// New validates cfg and constructs every collaborator, reloading a prior
// checkpoint from cfg.CheckpointPath if one exists. It does not start any
// background goroutine; call Start for that.
func New(cfg config.Config, deps Deps) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	logger := logging.Default(deps.Logger).With("component", "server")

	store := mapstore.New()
	if _, err := os.Stat(cfg.CheckpointPath); err == nil {
		if _, loadErr := store.LoadCheckpoint(mapstore.MergedMapKey, cfg.CheckpointPath); loadErr != nil {
			logger.Warn("failed to reload checkpoint at startup", "path", cfg.CheckpointPath, "err", loadErr)
		} else {
			logger.Info("reloaded checkpoint", "path", cfg.CheckpointPath)
		}
	}

	checkpointer := mapstore.NewCheckpointer(store)
	queue := submapqueue.New()
	registry := robotregistry.New()
	blacklistReg := blacklist.New()

	runner := deps.Runner
	if runner == nil {
		runner = command.NewRegistry(logger)
	}

	correctionPub := deps.CorrectionPublisher
	if correctionPub == nil {
		correctionPub = correction.NewLogPublisher(logger)
	}

	pool := ingestpool.New(cfg, queue, store, registry, blacklistReg, runner, logger)
	loop := mergeloop.New(cfg, store, checkpointer, queue, registry, blacklistReg, runner, correctionPub, logger)
	lookupSvc := lookup.New(cfg, store, registry, logger)

	// Share a wake signal so the merge loop reacts to a freshly processed
	// submap immediately instead of waiting out its fixed sleep cadence.
	wake := mergeloop.NewWakeSignal()
	pool.SetWakeSignal(wake)
	loop.SetWakeSignal(wake)

	reporter, err := status.New(cfg.StatusInterval, queue, registry, blacklistReg, loop, deps.StatusPublisher, logger)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	return &Server{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		checkpointer: checkpointer,
		queue:        queue,
		registry:     registry,
		blacklistReg: blacklistReg,
		runner:       runner,
		pool:         pool,
		loop:         loop,
		lookupSvc:    lookupSvc,
		reporter:     reporter,
		notif:        deps.Notifier,
	}, nil
}

// Start spawns the merge loop, the status reporter, and (if configured) the
// submap notifier. Returns ErrAlreadyRunning if already started.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.loop.Start(runCtx)
	s.reporter.Start()

	if s.notif != nil {
		s.notifierDone = make(chan struct{})
		go s.runNotifier(runCtx)
	}

	s.running = true
	s.logger.Info("server started")
	return nil
}

func (s *Server) runNotifier(ctx context.Context) {
	defer close(s.notifierDone)

	out := make(chan notifier.Notification, 16)
	go func() {
		for {
			select {
			case n, ok := <-out:
				if !ok {
					return
				}
				if _, err := s.LoadAndProcessSubmap(ctx, n.RobotName, n.Path); err != nil {
					s.logger.Warn("failed to admit notified submap", "robot_name", n.RobotName, "path", n.Path, "err", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := s.notif.Watch(ctx, out); err != nil {
		s.logger.Error("notifier watch failed", "err", err)
	}
}

// Shutdown cancels the shared context, waits for the ingest pool to drain
// in-flight submaps, waits for the merge loop's current iteration to
// finish, and performs one last checkpoint if a merged map exists. Returns
// ErrNotRunning if not running.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	notifierDone := s.notifierDone
	s.mu.Unlock()

	cancel()

	if err := s.pool.Wait(); err != nil {
		s.logger.Warn("ingest pool reported an error while draining", "err", err)
	}

	s.loop.Stop()

	if err := s.reporter.Stop(); err != nil {
		s.logger.Warn("status reporter shutdown error", "err", err)
	}

	if notifierDone != nil {
		<-notifierDone
	}

	if _, ok := s.store.Get(mapstore.MergedMapKey); ok {
		if err := s.loop.CheckpointNow(); err != nil {
			s.logger.Error("final checkpoint failed", "err", err)
			return fmt.Errorf("server: final checkpoint: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return nil
}

func (s *Server) isRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// LoadAndProcessSubmap admits one submap file for a robot: it is enqueued,
// loaded, checked against the blacklist, and run through the configured
// submap commands, all inside the ingest pool's bounded worker set.
func (s *Server) LoadAndProcessSubmap(ctx context.Context, robotName, submapPath string) (Status, error) {
	if !s.isRunning() {
		return StatusShuttingDown, newError(StatusShuttingDown, "server is not accepting submaps", nil)
	}
	if robotName == "" || submapPath == "" {
		return StatusInvalidArgument, newError(StatusInvalidArgument, "robot_name and submap_path are required", nil)
	}

	if err := s.pool.Submit(ctx, robotName, submapPath); err != nil {
		if errors.Is(err, ingestpool.ErrDuplicateSubmap) {
			return StatusInvalidArgument, newError(StatusInvalidArgument, "submap already queued", err)
		}
		return StatusIOFailure, newError(StatusIOFailure, "failed to admit submap", err)
	}
	return StatusSuccess, nil
}

// SaveMap writes the merged map to path (or, if path is empty, to the
// configured checkpoint path), deduplicating concurrent saves to the same
// destination.
func (s *Server) SaveMap(path string) (Status, error) {
	if path == "" {
		path = s.cfg.CheckpointPath
	}
	if _, ok := s.store.Get(mapstore.MergedMapKey); !ok {
		return StatusNotFound, newError(StatusNotFound, "no merged map to save", mapstore.ErrNotFound)
	}
	if err := s.checkpointer.Save(mapstore.MergedMapKey, path); err != nil {
		return StatusIOFailure, newError(StatusIOFailure, "failed to save map", err)
	}
	return StatusSuccess, nil
}

// MapLookup transforms the sensor-frame point pS, observed by robotName's
// sensorType sensor at timestampNS, into the global frame, and also returns
// the sensor's origin in the global frame.
func (s *Server) MapLookup(robotName, sensorType string, timestampNS int64, pS [3]float64) (lookup.Result, Status, error) {
	res, st, err := s.lookupSvc.MapLookup(robotName, sensorType, timestampNS, pS)
	return res, lookupStatus(st), err
}

func lookupStatus(s lookup.Status) Status {
	switch s {
	case lookup.StatusSuccess:
		return StatusSuccess
	case lookup.StatusNoSuchMission, lookup.StatusNoSuchSensor:
		return StatusNotFound
	case lookup.StatusPoseNotAvailableYet:
		return StatusTransientUnavailable
	case lookup.StatusPoseNeverAvailable:
		return StatusTerminal
	default:
		return StatusInvalidArgument
	}
}

// missionListers returns every MissionLister the server currently knows
// about: the robot registry (in-flight, unmerged missions) and, if one
// exists, the merged map itself.
func (s *Server) missionListers() []blacklist.MissionLister {
	listers := []blacklist.MissionLister{s.registry}
	if m, ok := s.store.Get(mapstore.MergedMapKey); ok {
		listers = append(listers, m)
	}
	return listers
}

// DeleteMission resolves partialID against every known mission (blacklist.Resolve
// semantics: shortest unambiguous prefix, case-insensitive hex, no
// separators) and blacklists it under reason. Returns a human-readable
// status message naming the resolved mission id on success.
func (s *Server) DeleteMission(partialID, reason string) (string, Status, error) {
	candidates := blacklist.UnionMissionIDs(s.missionListers()...)
	id, message, err := s.blacklistReg.Delete(partialID, reason, candidates)
	if err != nil {
		st := deleteStatus(err)
		return "", st, newError(st, "failed to delete mission", err)
	}
	s.registry.RemoveMission(id)
	return message, StatusSuccess, nil
}

// DeleteAllRobotMissions blacklists every mission currently attributed to
// robotName, returning the count of missions affected.
func (s *Server) DeleteAllRobotMissions(robotName, reason string) (int, Status, error) {
	ids := s.registry.MissionIDsFor(robotName)
	s.blacklistReg.DeleteAllRobotMissions(ids, reason)
	for _, id := range ids {
		s.registry.RemoveMission(id)
	}
	return len(ids), StatusSuccess, nil
}

func deleteStatus(err error) Status {
	switch {
	case errors.Is(err, blacklist.ErrPrefixTooShort), errors.Is(err, blacklist.ErrAmbiguous):
		return StatusInvalidArgument
	case errors.Is(err, blacklist.ErrNotFound):
		return StatusNotFound
	default:
		return StatusInvalidArgument
	}
}

// VisualizeMap has no built-in implementation: rendering a visual
// representation of the merged map is out of scope for the core server.
// A transport layer wanting this should render client-side from the data
// mapLookup and the map store already expose.
func (s *Server) VisualizeMap() (Status, error) {
	return StatusInvalidArgument, newError(StatusInvalidArgument, "visualization is not implemented by the core server", nil)
}
