package mux

import "github.com/peerpull/go-peerpull/metrics"

const subsystem = "mux"

var (
	multiplexers = metrics.NewGauge(
		"multiplexers",
		subsystem,
		"number of live multiplexed physical links",
		[]string{},
	).WithLabelValues()
	activeFlows = metrics.NewGauge(
		"flows",
		subsystem,
		"number of logical flows piped to local sockets",
		[]string{"direction"},
	)
	streamErrors = metrics.NewCounter(
		"stream_errors_total",
		subsystem,
		"logical flows that failed to open or were reset",
		[]string{"direction"},
	)
	physicalLinks = metrics.NewCounter(
		"physical_links_total",
		subsystem,
		"physical links accepted or dialed",
		[]string{"direction"},
	)
)
