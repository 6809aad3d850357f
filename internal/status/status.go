// Package status periodically builds a textual snapshot of the server
// (queue contents, merge-loop state, blacklist, robot mission chains) and
// delivers it to a registered Publisher, logging it locally every time
// regardless of whether a publisher is registered.
package status

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-co-op/gocron/v2"

	"mapfusion/internal/blacklist"
	"mapfusion/internal/logging"
	"mapfusion/internal/robotregistry"
	"mapfusion/internal/submapqueue"
)

// Publisher delivers a status snapshot, e.g. to a message bus. A
// single-method interface per Design Notes, so tests can inject a fake.
type Publisher interface {
	Publish(text string)
}

// LogPublisher is a Publisher that writes the snapshot via slog. The
// Reporter already logs every snapshot locally, so a nil publisher is
// enough when no network transport is wired in.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher using logger, or a discard logger
// if logger is nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.Default(logger).With("component", "status")}
}

// Publish logs text at Info level.
func (p *LogPublisher) Publish(text string) {
	p.logger.Info("status snapshot", "text", text)
}

// MergeLoop is the narrow read contract status needs from the merge loop.
type MergeLoop interface {
	Busy() bool
	CurrentMergeCommand() string
	LastIterationDuration() time.Duration
}

// Reporter periodically builds and delivers a status snapshot.
type Reporter struct {
	queue     *submapqueue.Queue
	registry  *robotregistry.Registry
	blacklist *blacklist.Registry
	loop      MergeLoop
	publisher Publisher
	interval  time.Duration
	logger    *slog.Logger

	scheduler gocron.Scheduler
}

// New constructs a Reporter. If publisher is nil, snapshots are still
// always logged locally.
func New(interval time.Duration, queue *submapqueue.Queue, registry *robotregistry.Registry, blacklistReg *blacklist.Registry, loop MergeLoop, publisher Publisher, logger *slog.Logger) (*Reporter, error) {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("status: create scheduler: %w", err)
	}

	r := &Reporter{
		queue:     queue,
		registry:  registry,
		blacklist: blacklistReg,
		loop:      loop,
		publisher: publisher,
		interval:  interval,
		logger:    logging.Default(logger).With("component", "status"),
		scheduler: scheduler,
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.report),
	); err != nil {
		return nil, fmt.Errorf("status: schedule report job: %w", err)
	}
	return r, nil
}

// Start begins the periodic reporting schedule.
func (r *Reporter) Start() {
	r.scheduler.Start()
}

// Stop shuts the scheduler down, waiting for any in-flight report to
// finish.
func (r *Reporter) Stop() error {
	return r.scheduler.Shutdown()
}

// Snapshot builds the current textual status without waiting for the next
// scheduled tick; exposed so Start/Stop tests and manual status requests
// don't have to wait out the interval.
func (r *Reporter) Snapshot() string {
	var b strings.Builder

	fmt.Fprintf(&b, "queue_length=%d merge_busy=%v current_merge_command=%q last_merge_duration=%s\n",
		r.queue.Len(), r.loop.Busy(), r.loop.CurrentMergeCommand(), r.loop.LastIterationDuration())

	for _, v := range r.queue.Snapshot() {
		fmt.Fprintf(&b, "  submap map_hash=%s robot=%s loaded=%v processed=%v merged=%v command=%q\n",
			v.MapHash, v.RobotName, v.IsLoaded, v.IsProcessed, v.IsMerged, v.CurrentCommand)
	}

	for id, reason := range r.blacklist.Snapshot() {
		fmt.Fprintf(&b, "  blacklisted mission=%s reason=%q\n", id, reason)
	}

	for _, rs := range r.registry.Snapshot() {
		fmt.Fprintf(&b, "  robot=%s missions=%v\n", rs.RobotName, rs.MissionIDs)
	}

	return b.String()
}

func (r *Reporter) report() {
	text := r.Snapshot()
	r.logger.Info("status snapshot", "text", text)
	if r.publisher != nil {
		r.publisher.Publish(text)
	}
}
