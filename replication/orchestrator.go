// Package replication turns peer availability and decoded beacons into
// scheduled beacon fetches and replications.
package replication

import (
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/peerdict"
	"github.com/peerpull/go-peerpull/peerpool"
)

// Lifespan of actions over one connection type.
type Lifespan struct {
	NonContention time.Duration `mapstructure:"non-contention"`
	Contention    time.Duration `mapstructure:"contention"`
}

// Config for the orchestrator.
type Config struct {
	// RetryInterval is how long a peer waits after a failed beacon fetch.
	RetryInterval time.Duration `mapstructure:"retry-interval"`
	// IdleTimeout ends a live replication that has been quiet for that long.
	IdleTimeout time.Duration `mapstructure:"idle-timeout"`
	Live        bool          `mapstructure:"live"`
	Retry       bool          `mapstructure:"retry"`

	Lifespans map[types.ConnectionType]Lifespan `mapstructure:"lifespans"`
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	var errs []error
	if c.RetryInterval <= 0 {
		errs = append(errs, fmt.Errorf("retry interval must be positive, got %v", c.RetryInterval))
	}
	if c.IdleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("idle timeout must be positive, got %v", c.IdleTimeout))
	}
	for ct, l := range c.Lifespans {
		if !ct.Valid() {
			errs = append(errs, fmt.Errorf("lifespan for unknown connection type %q", ct))
		}
		if l.NonContention < peerpool.MinLifespan || l.Contention < peerpool.MinLifespan {
			errs = append(errs, fmt.Errorf("lifespans for %s must be at least %v", ct, peerpool.MinLifespan))
		}
	}
	return errors.Join(errs...)
}

// NotificationSubscription lists the databases to pull from a peer.
type NotificationSubscription struct {
	PeerKey notification.PublicKey
	DBNames []string
}

// Opt configures an Orchestrator.
type Opt func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// WithClock sets the clock for retries and idle timeouts.
func WithClock(clock clockwork.Clock) Opt {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithCodec sets the beacon codec.
func WithCodec(codec *notification.Codec) Opt {
	return func(o *Orchestrator) {
		o.codec = codec
	}
}

// Orchestrator is safe for concurrent use. Lock order is orchestrator,
// dictionary, pool.
type Orchestrator struct {
	logger     *zap.Logger
	clock      clockwork.Clock
	codec      *notification.Codec
	cfg        Config
	local      notification.KeyPair
	pool       actionPool
	dict       *peerdict.Dictionary
	connector  Connector
	replicator Replicator

	mu            sync.Mutex
	subscriptions map[notification.PublicKey][]string
	book          map[notification.KeyID]notification.PublicKey
	// queued holds the latest replication per peer key.
	queued map[notification.PublicKey]*ReplicationAction
}

// New creates an orchestrator. ActionResolved must be registered as a
// resolution hook of the pool.
func New(
	local notification.KeyPair,
	pool actionPool,
	dict *peerdict.Dictionary,
	connector Connector,
	replicator Replicator,
	cfg Config,
	opts ...Opt,
) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("orchestrator config: %w", err)
	}
	if pool == nil || dict == nil || connector == nil || replicator == nil {
		return nil, errors.New("pool, dictionary, connector and replicator are required")
	}
	o := &Orchestrator{
		logger:        zap.NewNop(),
		clock:         clockwork.NewRealClock(),
		codec:         notification.NewCodec(),
		cfg:           cfg,
		local:         local,
		pool:          pool,
		dict:          dict,
		connector:     connector,
		replicator:    replicator,
		subscriptions: make(map[notification.PublicKey][]string),
		book:          make(map[notification.KeyID]notification.PublicKey),
		queued:        make(map[notification.PublicKey]*ReplicationAction),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// SetSubscriptions replaces the subscriptions. Queued replications of peers
// that are no longer subscribed are killed, running ones finish with the
// databases they started with.
func (o *Orchestrator) SetSubscriptions(subs []NotificationSubscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	subscriptions := make(map[notification.PublicKey][]string, len(subs))
	book := make(map[notification.KeyID]notification.PublicKey, len(subs))
	for _, sub := range subs {
		subscriptions[sub.PeerKey] = slices.Clone(sub.DBNames)
		book[sub.PeerKey.KeyID()] = sub.PeerKey
	}
	o.subscriptions = subscriptions
	o.book = book
	for key, a := range o.queued {
		if _, ok := subscriptions[key]; ok {
			continue
		}
		// a running replication finishes with the databases it started with
		o.pool.KillQueued(a)
		delete(o.queued, key)
	}
}

// subscribed returns a copy of the current databases for the peer key.
func (o *Orchestrator) subscribed(key notification.PublicKey) []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return slices.Clone(o.subscriptions[key])
}

func (o *Orchestrator) lookupKey(id notification.KeyID) (notification.PublicKey, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key, ok := o.book[id]
	return key, ok
}

// PeerAvailabilityChanged consumes an availability event from the native layer.
func (o *Orchestrator) PeerAvailabilityChanged(ev types.AvailabilityEvent) error {
	if ev.PeerIdentifier == "" {
		return errors.New("empty peer identifier")
	}
	if !ev.Available {
		if !ev.ConnectionType.Valid() {
			return fmt.Errorf("unknown connection type %q", ev.ConnectionType)
		}
		o.mu.Lock()
		defer o.mu.Unlock()
		o.peerUnavailable(ev.PeerIdentifier, ev.ConnectionType)
		return nil
	}
	info, err := ev.ConnectionInfo()
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	peer := ev.PeerIdentifier
	entry := o.dict.Get(peer)
	if entry == nil {
		return o.fetch(peer, info, map[types.ConnectionType]types.PeerConnectionInfo{info.ConnectionType: info})
	}
	conns := entry.Connections()
	old, known := conns[info.ConnectionType]
	conns[info.ConnectionType] = info
	changed := !known || old != info
	switch entry.State() {
	case peerdict.ControlledByPool:
		return o.updateConnections(peer, entry, conns)
	case peerdict.Waiting:
		if !changed {
			// the retry timer is still pending
			return o.updateConnections(peer, entry, conns)
		}
		// new address, no need to wait for the timer
		return o.fetch(peer, info, conns)
	default:
		// announced again, it may hold new data for us
		return o.fetch(peer, info, conns)
	}
}

// updateConnections must be called with mu held.
func (o *Orchestrator) updateConnections(
	peer types.PeerIdentifier,
	entry *peerdict.Entry,
	conns map[types.ConnectionType]types.PeerConnectionInfo,
) error {
	updated, err := entry.WithConnections(conns)
	if err != nil {
		return err
	}
	return o.dict.AddOrUpdate(peer, updated)
}

// peerUnavailable must be called with mu held.
func (o *Orchestrator) peerUnavailable(peer types.PeerIdentifier, ct types.ConnectionType) {
	for key, a := range o.queued {
		if a.PeerIdentifier() == peer && a.ConnectionType() == ct && o.pool.KillQueued(a) {
			delete(o.queued, key)
		}
	}
	entry := o.dict.Get(peer)
	if entry == nil {
		return
	}
	conns := entry.Connections()
	delete(conns, ct)
	if a := entry.Action(); a != nil && a.ConnectionType() == ct {
		if err := o.pool.Kill(a); err != nil {
			o.logger.Warn("failed to kill beacon fetch", zap.Error(err))
		}
		if len(conns) > 0 {
			resolved, err := peerdict.NewEntry(peerdict.Resolved, conns, nil, nil)
			if err == nil {
				err = o.dict.AddOrUpdate(peer, resolved)
			}
			if err != nil {
				o.logger.Warn("failed to update peer", zap.Error(err))
			}
			return
		}
	}
	if len(conns) == 0 {
		o.dict.Remove(peer)
		return
	}
	updated, err := entry.WithConnections(conns)
	if err == nil {
		err = o.dict.AddOrUpdate(peer, updated)
	}
	if err != nil {
		o.logger.Warn("failed to update peer", zap.Error(err))
	}
}

// fetch schedules a beacon fetch and hands the peer to the pool.
// Must be called with mu held.
func (o *Orchestrator) fetch(
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
	conns map[types.ConnectionType]types.PeerConnectionInfo,
) error {
	a, err := newBeaconAction(o, peer, info)
	if err != nil {
		return fmt.Errorf("create beacon fetch: %w", err)
	}
	entry, err := peerdict.NewEntry(peerdict.ControlledByPool, conns, a, nil)
	if err != nil {
		return err
	}
	// the entry goes in first, a fetch may resolve as soon as it is enqueued
	if err := o.dict.AddOrUpdate(peer, entry); err != nil {
		return err
	}
	if err := o.pool.Enqueue(a); err != nil {
		o.dict.Remove(peer)
		return fmt.Errorf("enqueue beacon fetch: %w", err)
	}
	return nil
}

// BeaconDecoded schedules a replication for the peer that announced data for
// us, unless one is already queued.
func (o *Orchestrator) BeaconDecoded(
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
	result *notification.DecodeResult,
) {
	o.mu.Lock()
	defer o.mu.Unlock()
	key := result.SenderPublicKey
	if _, ok := o.subscriptions[key]; !ok {
		notifications.WithLabelValues(outcomeUnsubscribed).Inc()
		return
	}
	if queued, ok := o.queued[key]; ok && queued.State() == peerpool.Created {
		notifications.WithLabelValues(outcomeDropped).Inc()
		o.logger.Debug("replication already queued")
		return
	}
	// a running replication doesn't stop us from queueing another one
	a, err := newReplicationAction(o, peer, info, result)
	if err != nil {
		o.logger.Warn("failed to create replication", zap.Error(err))
		return
	}
	o.queued[key] = a
	if err := o.pool.Enqueue(a); err != nil {
		delete(o.queued, key)
		notifications.WithLabelValues(outcomeRejected).Inc()
		o.logger.Warn("failed to enqueue replication", zap.Error(err))
		return
	}
	notifications.WithLabelValues(outcomeQueued).Inc()
}

// ActionResolved is the pool resolution hook.
func (o *Orchestrator) ActionResolved(a peerpool.Action) {
	switch action := a.(type) {
	case *BeaconAction:
		o.beaconResolved(action)
	case *ReplicationAction:
		o.replicationResolved(action)
	}
}

func (o *Orchestrator) beaconResolved(a *BeaconAction) {
	o.mu.Lock()
	defer o.mu.Unlock()
	peer := a.PeerIdentifier()
	entry := o.dict.Get(peer)
	if entry == nil || entry.Action() != peerpool.Action(a) {
		return
	}
	var (
		next *peerdict.Entry
		err  error
	)
	if resErr := a.Result(); resErr != nil {
		o.logger.Debug("beacon fetch failed, will retry",
			zap.Stringer("connection_type", a.ConnectionType()),
			zap.Error(resErr),
		)
		ct := a.ConnectionType()
		timer := o.clock.AfterFunc(o.cfg.RetryInterval, func() { o.retry(peer, ct) })
		next, err = peerdict.NewEntry(peerdict.Waiting, entry.Connections(), nil, timer)
	} else {
		next, err = peerdict.NewEntry(peerdict.Resolved, entry.Connections(), nil, nil)
	}
	if err == nil {
		err = o.dict.AddOrUpdate(peer, next)
	}
	if err != nil {
		o.logger.Warn("failed to update peer", zap.Error(err))
	}
}

func (o *Orchestrator) retry(peer types.PeerIdentifier, ct types.ConnectionType) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry := o.dict.Get(peer)
	if entry == nil || entry.State() != peerdict.Waiting {
		return
	}
	conns := entry.Connections()
	info, ok := entry.Connection(ct)
	if !ok {
		// the failed link went away, any other link will do
		for _, other := range types.ConnectionTypes {
			if info, ok = conns[other]; ok {
				break
			}
		}
	}
	if !ok {
		return
	}
	if err := o.fetch(peer, info, conns); err != nil {
		o.logger.Warn("failed to retry beacon fetch", zap.Error(err))
	}
}

func (o *Orchestrator) replicationResolved(a *ReplicationAction) {
	if err := a.Result(); err != nil {
		o.logger.Debug("replication resolved with error", zap.Error(err))
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.queued[a.PeerKey()] == a {
		delete(o.queued, a.PeerKey())
	}
}

// Queued returns the number of peers with a replication waiting in the pool.
func (o *Orchestrator) Queued() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, a := range o.queued {
		if a.State() == peerpool.Created {
			n++
		}
	}
	return n
}
