package replication

import "github.com/peerpull/go-peerpull/metrics"

const subsystem = "replication"

var (
	beaconFetches = metrics.NewCounter(
		"beacon_fetches_total",
		subsystem,
		"beacon fetches by outcome",
		[]string{"outcome"},
	)
	notifications = metrics.NewCounter(
		"notifications_total",
		subsystem,
		"decoded notifications by outcome",
		[]string{"outcome"},
	)
	databases = metrics.NewCounter(
		"databases_total",
		subsystem,
		"replicated databases by outcome",
		[]string{"outcome"},
	)
	replicationDuration = metrics.NewHistogramWithBuckets(
		"duration_seconds",
		subsystem,
		"duration of a single database replication",
		[]string{"outcome"},
		[]float64{0.1, 0.5, 1, 5, 10, 30, 60, 300},
	)
)

const (
	outcomeMatched      = "matched"
	outcomeNoMatch      = "no_match"
	outcomeEmpty        = "empty"
	outcomeFailed       = "failed"
	outcomeQueued       = "queued"
	outcomeDropped      = "dropped"
	outcomeRejected     = "rejected"
	outcomeUnsubscribed = "unsubscribed"
	outcomeOk           = "ok"
	outcomeNotFound     = "not_found"
	outcomeIdle         = "idle"
)
