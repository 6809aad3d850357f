// Package correction computes the per-robot pose correction the merge loop
// emits on each iteration: the rigid transform a robot must apply to
// re-reference its live odometry trajectory into the server's optimized
// global frame.
package correction

import (
	"log/slog"

	"mapfusion/internal/logging"
	"mapfusion/internal/transform"
)

// Event is one emitted correction, matching the pose-correction callback
// contract: timestamp, robot, the anchors it was computed from, and the
// resulting transform.
type Event struct {
	TimestampNS int64
	RobotName   string
	TMBOld      transform.T
	TGMOld      transform.T
	TGBNew      transform.T
	TBOldBNew   transform.T
}

// Compute returns T_B_old_B_new = (T_G_M_old . T_M_B_old)^-1 . T_G_B_new:
// the transform from the robot's pre-optimization body frame to its
// post-optimization body frame at the same instant.
func Compute(tGMOld, tMBOld, tGBNew transform.T) transform.T {
	tGBOld := tGMOld.Compose(tMBOld)
	return tGBOld.Inverse().Compose(tGBNew)
}

// Publisher delivers correction events, e.g. over a message bus. Modeled as
// a single-method interface so tests can inject a fake without capturing
// state in a function closure.
type Publisher interface {
	Publish(e Event)
}

// LogPublisher is the default Publisher: it writes every correction via
// slog. Used when no network transport is wired in.
type LogPublisher struct {
	logger *slog.Logger
}

// NewLogPublisher returns a LogPublisher using logger, or a discard logger
// if logger is nil.
func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logging.Default(logger).With("component", "correction")}
}

// Publish logs e at Info level.
func (p *LogPublisher) Publish(e Event) {
	p.logger.Info("pose correction",
		"robot_name", e.RobotName,
		"timestamp_ns", e.TimestampNS,
	)
}
