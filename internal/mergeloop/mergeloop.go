// Package mergeloop is the single-threaded engine that appends processed
// submaps into the merged map, runs global commands, publishes per-robot
// pose corrections, and checkpoints. It is the one place in the server
// allowed to mutate the merged map; everything else only reads it.
package mergeloop

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/command"
	"mapfusion/internal/config"
	"mapfusion/internal/correction"
	"mapfusion/internal/logging"
	"mapfusion/internal/mapstore"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/submapqueue"
	"mapfusion/internal/transform"
)

// kSecondsToSleepBetweenAttempts is the fixed spacing between merge
// iterations. Unlike checkpoint_interval_s and status_interval_s, this is
// an implementation constant, not a configuration field.
const kSecondsToSleepBetweenAttempts = 1 * time.Second

// Loop is the merge-loop engine.
type Loop struct {
	store        *mapstore.Store
	checkpointer *mapstore.Checkpointer
	queue        *submapqueue.Queue
	registry     *robotregistry.Registry
	blacklist    *blacklist.Registry
	runner       command.Runner
	correction   correction.Publisher
	cfg          config.Config
	logger       *slog.Logger

	busy atomic.Bool

	statusMu            sync.Mutex
	currentMergeCommand string
	lastCheckpoint       time.Time
	lastIterationDuration time.Duration

	wake   *WakeSignal
	doneCh chan struct{}
}

// WakeSignal lets the ingest pool nudge the merge loop out of its
// between-iteration sleep as soon as a submap has been processed, instead of
// it sitting out the full kSecondsToSleepBetweenAttempts. The loop owns the
// type since it's the one blocking on C(); the ingest pool only ever calls
// Notify() through the narrower ingestpool.wakeNotifier interface.
type WakeSignal struct {
	mu sync.Mutex
	ch chan struct{}
}

// NewWakeSignal returns a ready-to-use WakeSignal.
func NewWakeSignal() *WakeSignal { return &WakeSignal{ch: make(chan struct{})} }

// Notify wakes whatever is currently blocked on C() and arms the next wait.
func (w *WakeSignal) Notify() {
	w.mu.Lock()
	close(w.ch)
	w.ch = make(chan struct{})
	w.mu.Unlock()
}

// C returns the channel that closes on the next Notify() call. Callers must
// re-fetch C() after each wakeup.
func (w *WakeSignal) C() <-chan struct{} {
	w.mu.Lock()
	ch := w.ch
	w.mu.Unlock()
	return ch
}

// New returns a Loop wired to its collaborators.
func New(
	cfg config.Config,
	store *mapstore.Store,
	checkpointer *mapstore.Checkpointer,
	queue *submapqueue.Queue,
	registry *robotregistry.Registry,
	blacklistReg *blacklist.Registry,
	runner command.Runner,
	correctionPub correction.Publisher,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		store:        store,
		checkpointer: checkpointer,
		queue:        queue,
		registry:     registry,
		blacklist:    blacklistReg,
		runner:       runner,
		correction:   correctionPub,
		cfg:          cfg,
		logger:       logging.Default(logger).With("component", "mergeloop"),
		doneCh:       make(chan struct{}),
	}
}

// SetWakeSignal wires a shared WakeSignal that, when notified, wakes the
// loop immediately from its between-iteration sleep instead of waiting out
// kSecondsToSleepBetweenAttempts. Optional; must be called before Start.
func (l *Loop) SetWakeSignal(s *WakeSignal) {
	l.wake = s
}

// Start runs the loop in its own goroutine until ctx is canceled.
func (l *Loop) Start(ctx context.Context) {
	go l.run(ctx)
}

// Stop blocks until the loop goroutine has exited. The caller is
// responsible for canceling the context passed to Start first; Stop itself
// never cancels anything, matching "joins the merge loop after its current
// iteration completes."
func (l *Loop) Stop() {
	<-l.doneCh
}

// Busy reports whether the loop is presently inside a merge iteration.
// Read by the status reporter without blocking the loop itself.
func (l *Loop) Busy() bool {
	return l.busy.Load()
}

// CurrentMergeCommand returns the name of the global command presently
// running, or "" if none is.
func (l *Loop) CurrentMergeCommand() string {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.currentMergeCommand
}

// LastIterationDuration returns how long the most recently completed
// iteration took.
func (l *Loop) LastIterationDuration() time.Duration {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.lastIterationDuration
}

// CheckpointNow forces an unconditional checkpoint save, used by the
// server's saveMap public operation and by final shutdown. It bypasses the
// interval check but still goes through the deduplicating Checkpointer.
func (l *Loop) CheckpointNow() error {
	if _, ok := l.store.Get(mapstore.MergedMapKey); !ok {
		return nil
	}
	err := l.checkpointer.Save(mapstore.MergedMapKey, l.cfg.CheckpointPath)
	if err == nil {
		l.statusMu.Lock()
		l.lastCheckpoint = time.Now()
		l.statusMu.Unlock()
	}
	return err
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.busy.Store(true)
		l.runIteration(ctx)
		l.busy.Store(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(kSecondsToSleepBetweenAttempts):
		case <-l.wakeChan():
		}
	}
}

// wakeChan returns the shared wake signal's channel, or nil (a permanently
// blocking receive) if no signal is wired in.
func (l *Loop) wakeChan() <-chan struct{} {
	if l.wake == nil {
		return nil
	}
	return l.wake.C()
}

func (l *Loop) runIteration(ctx context.Context) {
	start := time.Now()

	l.sweepBlacklist()
	mergedRobots := l.appendAvailableSubmaps()
	l.runGlobalCommands(ctx)
	if len(mergedRobots) > 0 {
		l.publishCorrections(mergedRobots)
	}
	l.maybeCheckpoint()

	l.statusMu.Lock()
	l.lastIterationDuration = time.Since(start)
	l.statusMu.Unlock()
}

// sweepBlacklist implements step 1: evict every blacklisted mission
// present in the merged map, destroying the map if it becomes empty, and
// clear the corresponding robot registry entries. Never removes a
// blacklist entry itself — it must keep filtering future submaps.
func (l *Loop) sweepBlacklist() {
	entries := l.blacklist.Snapshot()
	if len(entries) == 0 {
		return
	}
	m, ok := l.store.Get(mapstore.MergedMapKey)
	if !ok {
		return
	}
	for missionID := range entries {
		removed, empty := m.DeleteMission(missionID)
		if removed {
			l.logger.Info("evicted blacklisted mission from merged map", "mission_id", missionID)
			l.registry.RemoveMission(missionID)
		}
		if empty {
			l.store.Delete(mapstore.MergedMapKey)
		}
	}
}

// appendAvailableSubmaps implements step 2: transfer the maximal processed,
// non-blacklisted prefix of the queue into the merged map in order, and
// discard (without merging) any processed-but-blacklisted entries that
// prefix covers. Returns the set of robot names that gained new merged
// data this iteration.
func (l *Loop) appendAvailableSubmaps() map[string]struct{} {
	toMerge, discarded := l.queue.AdvanceProcessedPrefix(l.blacklist.IsBlacklisted)

	for _, rec := range discarded {
		if mapKey, loaded := rec.MapKeyAndLoaded(); loaded {
			l.store.Delete(mapKey)
		}
		l.logger.Info("discarding submap for blacklisted mission at merge", "map_hash", rec.MapHash)
	}

	mergedRobots := make(map[string]struct{})
	for _, rec := range toMerge {
		mapKey, loaded := rec.MapKeyAndLoaded()
		if !loaded {
			rec.SetMerged()
			continue
		}
		submap, ok := l.store.Get(mapKey)
		if !ok {
			l.logger.Warn("submap map key missing at merge time", "map_hash", rec.MapHash)
			rec.SetMerged()
			continue
		}
		missionID, hasMission := rec.Mission()
		if !hasMission {
			rec.SetMerged()
			continue
		}

		submap.RLock()
		md, ok := submap.Mission(missionID)
		var sensors map[string]transform.T
		var vertices []mapstore.Vertex
		if ok {
			sensors = md.Sensors
			vertices = md.Vertices
		}
		submap.RUnlock()

		merged := l.store.GetOrCreate(mapstore.MergedMapKey)
		merged.AppendMission(missionID, sensors, vertices)
		l.store.Delete(mapKey)
		rec.SetMerged()
		mergedRobots[rec.RobotName] = struct{}{}
	}
	return mergedRobots
}

// runGlobalCommands implements step 3.
func (l *Loop) runGlobalCommands(ctx context.Context) {
	if _, ok := l.store.Get(mapstore.MergedMapKey); !ok {
		return
	}
	for _, cmdText := range l.cfg.GlobalCommands {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.statusMu.Lock()
		l.currentMergeCommand = command.Name(cmdText)
		l.statusMu.Unlock()

		if err := l.runner.Run(ctx, l.store, mapstore.MergedMapKey, cmdText); err != nil {
			l.logger.Warn("global command failed", "command", cmdText, "err", err)
		}
	}
	l.statusMu.Lock()
	l.currentMergeCommand = ""
	l.statusMu.Unlock()
}

// publishCorrections implements step 4: for each robot that just gained
// merged data, find the latest timestamp t* present both in the merged
// mission and in that robot's reported odometry inputs, compute the
// correction, and publish it.
//
// This assumes producers report T_M_B/T_G_M samples at timestamps the
// merged map will actually contain; if the timestamps have drifted, no
// interpolation is attempted here and the robot is simply skipped for this
// iteration (see the package doc on robotregistry for the same
// precondition).
func (l *Loop) publishCorrections(mergedRobots map[string]struct{}) {
	m, ok := l.store.Get(mapstore.MergedMapKey)
	if !ok {
		return
	}

	for robotName := range mergedRobots {
		missionID, ok := l.registry.LatestMission(robotName)
		if !ok {
			continue
		}

		// Copy the vertices out so the registry lock is never taken while
		// the merged map's lock is held.
		m.RLock()
		var vertices []mapstore.Vertex
		if md, ok := m.Mission(missionID); ok {
			vertices = append([]mapstore.Vertex(nil), md.Vertices...)
		}
		m.RUnlock()

		var tStar int64
		var tgbNew transform.T
		found := false
		for i := len(vertices) - 1; i >= 0; i-- {
			v := vertices[i]
			if _, _, ok := l.registry.InputAt(robotName, v.TimestampNS); ok {
				tStar = v.TimestampNS
				tgbNew = v.TGB
				found = true
				break
			}
		}

		if !found {
			continue
		}
		tmbOld, tgmOld, ok := l.registry.InputAt(robotName, tStar)
		if !ok {
			continue
		}

		corrected := correction.Compute(tgmOld, tmbOld, tgbNew)
		l.correction.Publish(correction.Event{
			TimestampNS: tStar,
			RobotName:   robotName,
			TMBOld:      tmbOld,
			TGMOld:      tgmOld,
			TGBNew:      tgbNew,
			TBOldBNew:   corrected,
		})
	}
}

// maybeCheckpoint implements step 5.
func (l *Loop) maybeCheckpoint() {
	if _, ok := l.store.Get(mapstore.MergedMapKey); !ok {
		return
	}

	l.statusMu.Lock()
	due := time.Since(l.lastCheckpoint) >= l.cfg.CheckpointInterval
	l.statusMu.Unlock()
	if !due {
		return
	}

	if err := l.checkpointer.Save(mapstore.MergedMapKey, l.cfg.CheckpointPath); err != nil {
		l.logger.Error("checkpoint save failed", "path", l.cfg.CheckpointPath, "err", err)
		return
	}
	l.statusMu.Lock()
	l.lastCheckpoint = time.Now()
	l.statusMu.Unlock()
}
