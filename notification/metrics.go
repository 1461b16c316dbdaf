package notification

import "github.com/peerpull/go-peerpull/metrics"

const (
	subsystem = "notification"

	resultServed    = "served"
	resultNoContent = "no_content"
	resultRejected  = "rejected"
	resultFailed    = "failed"
	resultAccepted  = "accepted"
	resultDenied    = "denied"
)

var beaconRequests = metrics.NewCounter(
	"beacon_requests_total",
	subsystem,
	"beacon endpoint requests by result",
	[]string{"result"},
)

var pskRequests = metrics.NewCounter(
	"psk_requests_total",
	subsystem,
	"requests authenticated against handed out pre-shared keys",
	[]string{"result"},
)
