package presets

import (
	"time"

	"github.com/peerpull/go-peerpull/config"
)

func init() {
	register("fastnet", fastnet())
}

// fastnet shortens every timer so that retries and contention are easy to
// observe on a bench of devices.
func fastnet() config.Config {
	conf := config.DefaultConfig()
	conf.Replication.RetryInterval = 5 * time.Second
	conf.Replication.IdleTimeout = 10 * time.Second
	for ct, span := range conf.Replication.Lifespans {
		span.NonContention /= 10
		span.Contention /= 10
		conf.Replication.Lifespans[ct] = span
	}
	conf.Beacon.BeaconTTL = time.Minute
	conf.Psk.Expiry = time.Hour
	conf.Discovery.ZombieThreshold = 2 * time.Second
	return conf
}
