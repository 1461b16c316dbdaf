package presets

import (
	"os"
	"path/filepath"
	"time"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/replication"
)

func init() {
	register("standalone", standalone())
}

// standalone runs a single node against loopback peers only.
func standalone() config.Config {
	conf := config.DefaultConfig()
	conf.DataDir = filepath.Join(os.TempDir(), "peerpull")
	conf.FileLock = filepath.Join(conf.DataDir, "LOCK")
	conf.Logging.Level = "debug"

	conf.Pool.Concurrency = map[types.ConnectionType]int{types.Loopback: 2}
	conf.Replication.Lifespans = map[types.ConnectionType]replication.Lifespan{
		types.Loopback: {NonContention: time.Minute, Contention: 10 * time.Second},
	}
	conf.Discovery.ZombieThreshold = 0
	return conf
}
