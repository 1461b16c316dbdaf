package peerdict

import "github.com/peerpull/go-peerpull/metrics"

const subsystem = "peerdict"

var (
	evictions = metrics.NewCounter(
		"evictions_total",
		subsystem,
		"peers evicted by state",
		[]string{"state"},
	)
	entriesGauge = metrics.NewGauge(
		"entries",
		subsystem,
		"peers in the dictionary",
		[]string{},
	).WithLabelValues()
)
