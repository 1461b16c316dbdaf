package discovery

import "github.com/peerpull/go-peerpull/metrics"

var zombies = metrics.NewCounter(
	"zombie_events_total",
	"discovery",
	"delayed unavailable events by outcome",
	[]string{"outcome"},
)
