// Package config contains go-peerpull configuration definitions.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/log"
	"github.com/peerpull/go-peerpull/mux"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/replication"
)

const (
	defaultDataDirName = "peerpull"
	defaultKeyFile     = "identity.key"
)

// Config defines the top level configuration for a peerpull node.
type Config struct {
	BaseConfig    `mapstructure:"main"`
	Logging       LoggerConfig              `mapstructure:"logging"`
	Dictionary    DictionaryConfig          `mapstructure:"dictionary"`
	Pool          PoolConfig                `mapstructure:"pool"`
	Replication   replication.Config        `mapstructure:"replication"`
	Couch         replication.CouchConfig   `mapstructure:"couch"`
	Beacon        notification.ServerConfig `mapstructure:"beacon"`
	Psk           PskConfig                 `mapstructure:"psk"`
	Mux           mux.Config                `mapstructure:"mux"`
	Discovery     DiscoveryConfig           `mapstructure:"discovery"`
	Subscriptions []Subscription            `mapstructure:"subscriptions"`
}

// BaseConfig defines the process level options.
type BaseConfig struct {
	DataDir    string `mapstructure:"data-dir"`
	ConfigFile string `mapstructure:"config"`
	// Preset names the configuration the config file is applied on top of.
	Preset     string `mapstructure:"preset"`
	FileLock   string `mapstructure:"filelock"`
	// KeyFile is resolved relative to DataDir unless absolute.
	KeyFile string `mapstructure:"key-file"`

	// BeaconListen is where the notification beacon endpoint is served.
	BeaconListen string `mapstructure:"beacon-listen"`
	// Router receives logical flows arriving over multiplexed links.
	Router string `mapstructure:"router"`
	// BridgeListen accepts physical links for multiplexed connection types.
	BridgeListen string `mapstructure:"bridge-listen"`

	CollectMetrics bool   `mapstructure:"metrics"`
	MetricsListen  string `mapstructure:"metrics-listen"`

	// Events is a file with newline delimited availability events, "-" for stdin.
	Events string `mapstructure:"events"`
}

// KeyPath returns the absolute path of the identity key.
func (c *BaseConfig) KeyPath() string {
	if filepath.IsAbs(c.KeyFile) {
		return c.KeyFile
	}
	return filepath.Join(c.DataDir, c.KeyFile)
}

// DictionaryConfig bounds the peer dictionary.
type DictionaryConfig struct {
	Capacity int `mapstructure:"capacity"`
}

// PoolConfig sets how many actions may run at once per connection type.
type PoolConfig struct {
	Concurrency map[types.ConnectionType]int `mapstructure:"concurrency"`
	// Timeout bounds a single http request issued by a running action.
	Timeout time.Duration `mapstructure:"timeout"`
}

// PskConfig sizes the cache of pre-shared keys handed out in beacons.
type PskConfig struct {
	Size   int           `mapstructure:"size"`
	Expiry time.Duration `mapstructure:"expiry"`
}

// DiscoveryConfig configures availability event filtering.
type DiscoveryConfig struct {
	// ZombieThreshold delays unavailable events, 0 disables the delay.
	ZombieThreshold time.Duration `mapstructure:"zombie-threshold"`
}

// Subscription lists the databases replicated from the owner of PeerKey.
type Subscription struct {
	PeerKey   notification.PublicKey `mapstructure:"peer-key"`
	Databases []string               `mapstructure:"databases"`
}

// DefaultConfig returns the default configuration for a peerpull node.
func DefaultConfig() Config {
	dataDir := filepath.Join(os.TempDir(), defaultDataDirName)
	if home, err := os.UserHomeDir(); err == nil {
		dataDir = filepath.Join(home, "."+defaultDataDirName)
	}
	return Config{
		BaseConfig: BaseConfig{
			DataDir:       dataDir,
			FileLock:      filepath.Join(dataDir, "LOCK"),
			KeyFile:       defaultKeyFile,
			BeaconListen:  "127.0.0.1:5985",
			Router:        "127.0.0.1:5985",
			BridgeListen:  "127.0.0.1:0",
			MetricsListen: "127.0.0.1:9090",
			Events:        "-",
		},
		Logging: defaultLoggingConfig(),
		Dictionary: DictionaryConfig{
			Capacity: 100,
		},
		Pool: PoolConfig{
			Concurrency: map[types.ConnectionType]int{
				types.Loopback:  4,
				types.WiFi:      4,
				types.Bluetooth: 1,
			},
			Timeout: time.Minute,
		},
		Replication: replication.Config{
			RetryInterval: 30 * time.Second,
			IdleTimeout:   time.Minute,
			Lifespans: map[types.ConnectionType]replication.Lifespan{
				types.Loopback:  {NonContention: 5 * time.Minute, Contention: time.Minute},
				types.WiFi:      {NonContention: 5 * time.Minute, Contention: time.Minute},
				types.Bluetooth: {NonContention: 10 * time.Minute, Contention: 2 * time.Minute},
			},
		},
		Couch: replication.CouchConfig{
			URL:               "http://127.0.0.1:5984",
			MaxRequestRetries: 3,
			RequestRetryDelay: time.Second,
		},
		Beacon: notification.ServerConfig{
			BeaconTTL:         10 * time.Minute,
			RequestsPerSecond: 10,
			Burst:             20,
			ExcessLogInterval: time.Minute,
		},
		Psk: PskConfig{
			Size:   1000,
			Expiry: 24 * time.Hour,
		},
		Mux: mux.Config{
			KeepAliveInterval:      30 * time.Second,
			ConnectionWriteTimeout: 10 * time.Second,
			MaxIncomingStreams:     64,
			DialTimeout:            10 * time.Second,
		},
		Discovery: DiscoveryConfig{
			ZombieThreshold: 10 * time.Second,
		},
	}
}

// Validate reports every invalid section.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data dir must be set"))
	}
	if _, err := log.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	for module, level := range c.Logging.Modules {
		if _, err := log.ParseLevel(level); err != nil {
			errs = append(errs, fmt.Errorf("module %s: %w", module, err))
		}
	}
	if c.Logging.Encoder != log.ConsoleEncoder && c.Logging.Encoder != log.JSONEncoder {
		errs = append(errs, fmt.Errorf("unknown log encoder %q", c.Logging.Encoder))
	}
	if c.Dictionary.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("dictionary capacity must be positive, got %d", c.Dictionary.Capacity))
	}
	for ct, n := range c.Pool.Concurrency {
		if !ct.Valid() {
			errs = append(errs, fmt.Errorf("pool concurrency for unknown connection type %q", ct))
		} else if n <= 0 {
			errs = append(errs, fmt.Errorf("pool concurrency for %s must be positive, got %d", ct, n))
		}
		if _, ok := c.Replication.Lifespans[ct]; !ok {
			errs = append(errs, fmt.Errorf("no lifespan configured for %s", ct))
		}
	}
	if c.Pool.Timeout < 0 {
		errs = append(errs, errors.New("pool timeout must not be negative"))
	}
	if err := c.Replication.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("replication: %w", err))
	}
	if err := c.Beacon.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("beacon: %w", err))
	}
	if err := c.Mux.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("mux: %w", err))
	}
	if c.Psk.Size <= 0 || c.Psk.Expiry <= 0 {
		errs = append(errs, errors.New("psk cache size and expiry must be positive"))
	}
	if c.Discovery.ZombieThreshold < 0 {
		errs = append(errs, errors.New("zombie threshold must not be negative"))
	}
	for i, sub := range c.Subscriptions {
		if len(sub.Databases) == 0 {
			errs = append(errs, fmt.Errorf("subscription %d (%s) has no databases", i, sub.PeerKey))
		}
	}
	return errors.Join(errs...)
}

// NotificationSubscriptions converts configured subscriptions for the orchestrator.
func (c *Config) NotificationSubscriptions() []replication.NotificationSubscription {
	subs := make([]replication.NotificationSubscription, 0, len(c.Subscriptions))
	for _, sub := range c.Subscriptions {
		subs = append(subs, replication.NotificationSubscription{
			PeerKey: sub.PeerKey,
			DBNames: append([]string(nil), sub.Databases...),
		})
	}
	return subs
}

// LoadConfig reads the config file into vip. An empty path leaves vip untouched.
func LoadConfig(path string, vip *viper.Viper) error {
	if path == "" {
		return nil
	}
	vip.SetConfigFile(path)
	if err := vip.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return nil
}

// Decode unmarshals everything set in vip on top of cfg.
func Decode(vip *viper.Viper, cfg *Config) error {
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	)
	opts := []viper.DecoderConfigOption{
		viper.DecodeHook(hook),
		withErrorUnused(),
	}
	if err := vip.Unmarshal(cfg, opts...); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

func withErrorUnused() viper.DecoderConfigOption {
	return func(cfg *mapstructure.DecoderConfig) {
		cfg.ErrorUnused = true
	}
}
