package peerpool

import (
	"go.uber.org/zap/zapcore"

	"github.com/peerpull/go-peerpull/metrics"
)

const subsystem = "pool"

var (
	actionsEnqueued = metrics.NewCounter(
		"actions_enqueued_total",
		subsystem,
		"actions accepted by the pool",
		[]string{"type", "connection_type"},
	)
	actionsStarted = metrics.NewCounter(
		"actions_started_total",
		subsystem,
		"actions started by the pool",
		[]string{"type", "connection_type"},
	)
	actionsExpired = metrics.NewCounter(
		"actions_expired_total",
		subsystem,
		"running actions killed after their lifespan",
		[]string{"type", "connection_type"},
	)
	actionsResolved = metrics.NewCounter(
		"actions_resolved_total",
		subsystem,
		"resolved actions by result",
		[]string{"type", "connection_type", "result"},
	)
	queuedActions = metrics.NewGauge(
		"queued",
		subsystem,
		"actions waiting for a slot",
		[]string{"connection_type"},
	)
	runningActions = metrics.NewGauge(
		"running",
		subsystem,
		"actions currently running",
		[]string{"connection_type"},
	)
)

// loggable logs any Action without its peer identifier.
type loggable struct {
	action Action
}

func (l loggable) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("id", l.action.ID().String())
	encoder.AddString("type", l.action.ActionType())
	encoder.AddString("connection_type", l.action.ConnectionType().String())
	encoder.AddString("state", l.action.State().String())
	return nil
}
