// Package node wires the peerpull components into a runnable application.
package node

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/log"
	"github.com/peerpull/go-peerpull/metrics"
	"github.com/peerpull/go-peerpull/mux"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/peerdict"
	"github.com/peerpull/go-peerpull/peerpool"
	"github.com/peerpull/go-peerpull/replication"
)

// ErrNotStarted is returned by methods that need a started App.
var ErrNotStarted = errors.New("app not started")

// Option to modify an App instance.
type Option func(app *App)

// WithLogger sets the root logger.
func WithLogger(logger *zap.Logger) Option {
	return func(app *App) {
		app.logger = logger
	}
}

// WithConfig overwrites default App config.
func WithConfig(conf *config.Config) Option {
	return func(app *App) {
		app.Config = conf
	}
}

// WithClock sets the clock used for every timer.
func WithClock(clock clockwork.Clock) Option {
	return func(app *App) {
		app.clock = clock
	}
}

// WithFs sets the filesystem holding the identity key.
func WithFs(fsys afero.Fs) Option {
	return func(app *App) {
		app.fs = fsys
	}
}

// WithReplicator replaces the document store replicator.
func WithReplicator(r replication.Replicator) Option {
	return func(app *App) {
		app.replicator = r
	}
}

// WithPhysicalDialer sets how physical links for multiplexed connection
// types are opened.
func WithPhysicalDialer(dial mux.PhysicalDialer) Option {
	return func(app *App) {
		app.physicalDialer = dial
	}
}

// App is the peerpull node.
type App struct {
	Config *config.Config

	logger         *zap.Logger
	modules        *log.Modules
	clock          clockwork.Clock
	fs             afero.Fs
	replicator     replication.Replicator
	physicalDialer mux.PhysicalDialer

	key          notification.KeyPair
	pool         *peerpool.Pool
	dict         *peerdict.Dictionary
	orchestrator *replication.Orchestrator
	beacons      *notification.BeaconServer
	store        http.Handler
	bridge       *mux.Bridge
	bridgePort   int
	session      *Session
	server       *http.Server
	listener     net.Listener
	metrics      *metrics.Server
	fileLock     *flock.Flock

	eg      errgroup.Group
	started chan struct{}
}

// New creates an instance of the peerpull app.
func New(opts ...Option) *App {
	defaultConfig := config.DefaultConfig()
	app := &App{
		Config:         &defaultConfig,
		logger:         zap.NewNop(),
		clock:          clockwork.NewRealClock(),
		fs:             afero.NewOsFs(),
		physicalDialer: mux.TCPDialer,
		started:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(app)
	}
	app.modules = log.NewModules(app.logger, app.Config.Logging.Modules)
	return app
}

// Started is closed once Start has wired every component.
func (app *App) Started() <-chan struct{} {
	return app.started
}

// Lock locks the data directory for exclusive use.
func (app *App) Lock() error {
	lockDir := filepath.Dir(app.Config.FileLock)
	if _, err := os.Stat(lockDir); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(lockDir, 0o700); err != nil {
			return fmt.Errorf("creating dir %s for lock %s: %w", lockDir, app.Config.FileLock, err)
		}
	}
	fl := flock.New(app.Config.FileLock)
	locked, err := fl.TryLock()
	if err != nil {
		return fmt.Errorf("flock %s: %w", app.Config.FileLock, err)
	} else if !locked {
		return fmt.Errorf("only one peerpull instance should be running (locking file %s)", fl.Path())
	}
	app.fileLock = fl
	return nil
}

// Unlock unlocks the data directory. It is a no-op if the app is not locked.
func (app *App) Unlock() {
	if app.fileLock == nil {
		return
	}
	if err := app.fileLock.Unlock(); err != nil {
		app.logger.Error("failed to unlock file",
			zap.String("path", app.fileLock.Path()),
			zap.Error(err),
		)
	}
}

// Start wires and starts every component. It returns once the node is
// serving beacons; Stop releases everything Start acquired.
func (app *App) Start(ctx context.Context) error {
	if err := app.Config.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := app.fs.MkdirAll(app.Config.DataDir, 0o700); err != nil {
		return fmt.Errorf("data-dir %s not found or could not be created: %w", app.Config.DataDir, err)
	}
	key, err := notification.LoadOrCreateKeyPair(app.fs, app.Config.KeyPath())
	if err != nil {
		return fmt.Errorf("identity key: %w", err)
	}
	app.key = key
	app.logger.Info("starting peerpull",
		zap.String("data-dir", app.Config.DataDir),
		zap.Stringer("key_id", key.Public.KeyID()),
	)

	if err := app.initServices(); err != nil {
		return err
	}
	if err := app.startServices(); err != nil {
		app.Stop(ctx)
		return err
	}
	close(app.started)
	return nil
}

func (app *App) initServices() error {
	cfg := app.Config
	poolOpts := []peerpool.Opt{
		peerpool.WithLogger(app.modules.Logger("pool")),
		peerpool.WithClock(app.clock),
		// hooks run on their own goroutine, after the orchestrator exists
		peerpool.WithResolutionHook(func(a peerpool.Action) {
			app.orchestrator.ActionResolved(a)
		}),
	}
	httpLogger := app.modules.Logger("http")
	for ct := range cfg.Pool.Concurrency {
		client := replication.NewHTTPClient(
			httpLogger,
			cfg.Couch.MaxRequestRetries,
			cfg.Couch.RequestRetryDelay,
			cfg.Pool.Timeout,
		)
		poolOpts = append(poolOpts, peerpool.WithClient(ct, client))
	}
	pool, err := peerpool.New(cfg.Pool.Concurrency, poolOpts...)
	if err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	app.pool = pool

	dict, err := peerdict.New(cfg.Dictionary.Capacity, pool, peerdict.WithLogger(app.modules.Logger("dictionary")))
	if err != nil {
		return fmt.Errorf("dictionary: %w", err)
	}
	app.dict = dict

	if app.replicator == nil {
		replicator, err := replication.NewCouchReplicator(cfg.Couch,
			replication.WithCouchLogger(app.modules.Logger("couch")),
		)
		if err != nil {
			return fmt.Errorf("replicator: %w", err)
		}
		app.replicator = replicator
	}

	bridge, err := mux.NewBridge(cfg.Router, cfg.Mux,
		mux.WithLogger(app.modules.Logger("mux")),
		mux.WithListenAddress(cfg.BridgeListen),
	)
	if err != nil {
		return fmt.Errorf("bridge: %w", err)
	}
	app.bridge = bridge

	connectors := replication.Connectors{}
	for _, ct := range types.ConnectionTypes {
		if ct.Multiplexed() {
			connectors[ct] = mux.NewConnector(bridge, app.physicalDialer)
		} else {
			connectors[ct] = replication.DirectConnector{}
		}
	}

	orchestrator, err := replication.New(
		app.key,
		pool,
		dict,
		connectors,
		app.replicator,
		cfg.Replication,
		replication.WithLogger(app.modules.Logger("replication")),
		replication.WithClock(app.clock),
		replication.WithCodec(notification.NewCodec(notification.WithClock(app.clock))),
	)
	if err != nil {
		return fmt.Errorf("orchestrator: %w", err)
	}
	app.orchestrator = orchestrator

	session, err := NewSession(app.modules.Logger("discovery"), app.clock, SessionConfig{
		PskSize:         cfg.Psk.Size,
		PskExpiry:       cfg.Psk.Expiry,
		ZombieThreshold: cfg.Discovery.ZombieThreshold,
	}, orchestrator)
	if err != nil {
		return err
	}
	app.session = session

	beacons, err := notification.NewBeaconServer(app.key, session.Psks(), cfg.Beacon,
		notification.WithServerLogger(app.modules.Logger("notification")),
		notification.WithServerCodec(notification.NewCodec(notification.WithClock(app.clock))),
	)
	if err != nil {
		return fmt.Errorf("beacon server: %w", err)
	}
	app.beacons = beacons

	store, err := newStoreProxy(app.modules.Logger("store"), cfg.Couch.URL)
	if err != nil {
		return err
	}
	// only peers we handed a pre-shared key to may replicate from us
	app.store = session.Psks().Authenticate(store)

	subs := cfg.NotificationSubscriptions()
	orchestrator.SetSubscriptions(subs)
	targets := make([]notification.PublicKey, 0, len(subs))
	for _, sub := range subs {
		targets = append(targets, sub.PeerKey)
	}
	beacons.SetTargets(targets)
	return nil
}

func (app *App) startServices() error {
	port, err := app.bridge.Start()
	if err != nil {
		return fmt.Errorf("start bridge: %w", err)
	}
	app.bridgePort = port

	ln, err := net.Listen("tcp", app.Config.BeaconListen)
	if err != nil {
		return fmt.Errorf("listen beacons on %s: %w", app.Config.BeaconListen, err)
	}
	app.listener = ln
	handler := http.NewServeMux()
	app.beacons.Register(handler)
	handler.Handle("/", app.store)
	app.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	app.eg.Go(func() error {
		if err := app.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("beacon server stopped", zap.Error(err))
			return err
		}
		return nil
	})
	app.logger.Info("serving notification beacons and replication",
		zap.Stringer("address", ln.Addr()),
		zap.Int("bridge_port", port),
	)

	if app.Config.CollectMetrics {
		app.metrics = metrics.NewServer(app.Config.MetricsListen, app.modules.Logger("metrics"))
		if err := app.metrics.Start(); err != nil {
			return err
		}
	}
	return nil
}

// PeerAvailabilityChanged feeds an event from the native layer into the node.
func (app *App) PeerAvailabilityChanged(ev types.AvailabilityEvent) error {
	if app.session == nil {
		return ErrNotStarted
	}
	return app.session.PeerAvailabilityChanged(ev)
}

// SetSubscriptions replaces the databases pulled from each peer.
func (app *App) SetSubscriptions(subs []replication.NotificationSubscription) error {
	if app.orchestrator == nil {
		return ErrNotStarted
	}
	app.orchestrator.SetSubscriptions(subs)
	return nil
}

// SetTargets replaces the peers notified through beacons.
func (app *App) SetTargets(targets []notification.PublicKey) error {
	if app.beacons == nil {
		return ErrNotStarted
	}
	app.beacons.SetTargets(targets)
	return nil
}

// PublicKey of the node identity. Only valid after Start.
func (app *App) PublicKey() notification.PublicKey {
	return app.key.Public
}

// BeaconAddr returns the address beacons are served on. Only valid after Start.
func (app *App) BeaconAddr() string {
	return app.listener.Addr().String()
}

// BridgePort returns the port physical links are accepted on.
func (app *App) BridgePort() int {
	return app.bridgePort
}

// Stop shuts every component down in reverse order of dependency.
func (app *App) Stop(ctx context.Context) {
	if app.session != nil {
		app.session.Close()
	}
	if app.server != nil {
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("error stopping beacon server", zap.Error(err))
		}
	}
	if app.pool != nil {
		app.pool.Stop()
	}
	if app.bridge != nil {
		if err := app.bridge.Stop(); err != nil {
			app.logger.Error("error stopping bridge", zap.Error(err))
		}
	}
	if app.metrics != nil {
		if err := app.metrics.Stop(ctx); err != nil {
			app.logger.Error("error stopping metrics server", zap.Error(err))
		}
	}
	if err := app.eg.Wait(); err != nil {
		app.logger.Error("service exited with error", zap.Error(err))
	}
}
