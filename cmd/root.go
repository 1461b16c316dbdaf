// Package cmd holds the command line flags shared by the peerpull executables.
package cmd

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/config/presets"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// AddFlags adds the node flags to flagSet, binding them to fields of cfg. It
// returns a pointer to the value of the config file flag.
func AddFlags(flagSet *pflag.FlagSet, cfg *config.Config) (configPath *string) {
	configPath = flagSet.StringP("config", "c", "", "load configuration from file")
	flagSet.StringVarP(&cfg.Preset, "preset", "p", cfg.Preset,
		fmt.Sprintf("preset overwrites default values of the config. options %+s", presets.Options()))

	/** ======================== BaseConfig Flags ========================== **/
	flagSet.StringVarP(&cfg.DataDir, "data-folder", "d",
		cfg.DataDir, "directory holding the identity key")
	flagSet.StringVar(&cfg.FileLock, "filelock",
		cfg.FileLock, "filesystem lock to prevent running more than one instance")
	flagSet.StringVar(&cfg.KeyFile, "key-file",
		cfg.KeyFile, "identity key file, relative to the data folder")
	flagSet.StringVar(&cfg.BeaconListen, "beacon-listen",
		cfg.BeaconListen, "address notification beacons are served on")
	flagSet.StringVar(&cfg.Router, "router",
		cfg.Router, "address flows arriving over multiplexed links are forwarded to")
	flagSet.StringVar(&cfg.BridgeListen, "bridge-listen",
		cfg.BridgeListen, "address physical links for multiplexed connection types are accepted on")
	flagSet.StringVar(&cfg.Events, "events",
		cfg.Events, "file with newline delimited availability events, - for stdin")
	flagSet.BoolVar(&cfg.CollectMetrics, "metrics",
		cfg.CollectMetrics, "collect node metrics")
	flagSet.StringVar(&cfg.MetricsListen, "metrics-listen",
		cfg.MetricsListen, "address the metrics server listens on")

	/** ======================== Logging Flags ========================== **/
	flagSet.StringVar(&cfg.Logging.Encoder, "log-encoder",
		cfg.Logging.Encoder, "log as JSON instead of plain text")
	flagSet.StringVar(&cfg.Logging.Level, "log-level",
		cfg.Logging.Level, "root log level")

	/** ======================== Scheduling Flags ========================== **/
	flagSet.IntVar(&cfg.Dictionary.Capacity, "dictionary-capacity",
		cfg.Dictionary.Capacity, "how many peers are remembered at most")
	flagSet.DurationVar(&cfg.Pool.Timeout, "request-timeout",
		cfg.Pool.Timeout, "bound for a single request issued to a peer")
	flagSet.DurationVar(&cfg.Discovery.ZombieThreshold, "zombie-threshold",
		cfg.Discovery.ZombieThreshold, "how long a peer may be gone before it is reported unavailable")

	/** ======================== Replication Flags ========================== **/
	flagSet.StringVar(&cfg.Couch.URL, "store-url",
		cfg.Couch.URL, "url of the local document store")
	flagSet.BoolVar(&cfg.Replication.Live, "live",
		cfg.Replication.Live, "keep replicating after catching up")
	flagSet.BoolVar(&cfg.Replication.Retry, "retry",
		cfg.Replication.Retry, "let the document store retry failed replications")
	flagSet.DurationVar(&cfg.Replication.RetryInterval, "retry-interval",
		cfg.Replication.RetryInterval, "wait before fetching beacons again from a peer that failed")

	/** ======================== Beacon Flags ========================== **/
	flagSet.DurationVar(&cfg.Beacon.BeaconTTL, "beacon-ttl",
		cfg.Beacon.BeaconTTL, "how long served beacons are valid")
	flagSet.DurationVar(&cfg.Psk.Expiry, "psk-expiry",
		cfg.Psk.Expiry, "how long a handed out pre-shared key is accepted")
	return configPath
}
