// Package peerpool schedules actions against peers. At most one action runs
// per peer and connection type, every connection type has its own concurrency
// cap, and running actions are killed once they outlive their lifespan.
package peerpool

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
)

// ResolutionHook is called once for every action the pool accepted, after the
// action resolved and the pool dropped it. It runs on its own goroutine.
type ResolutionHook func(Action)

// Opt configures a Pool.
type Opt func(*Pool)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(p *Pool) {
		p.logger = logger
	}
}

// WithClock sets the clock used for lifespans.
func WithClock(clock clockwork.Clock) Opt {
	return func(p *Pool) {
		p.clock = clock
	}
}

// WithClient sets the http client passed to actions of the connection type.
func WithClient(ct types.ConnectionType, client *http.Client) Opt {
	return func(p *Pool) {
		p.clients[ct] = client
	}
}

// WithResolutionHook adds an observer for resolved actions.
func WithResolutionHook(hook ResolutionHook) Opt {
	return func(p *Pool) {
		p.hooks = append(p.hooks, hook)
	}
}

type slotKey struct {
	peer     types.PeerIdentifier
	connType types.ConnectionType
}

func keyOf(a Action) slotKey {
	return slotKey{peer: a.PeerIdentifier(), connType: a.ConnectionType()}
}

type entry struct {
	action    Action
	key       slotKey
	started   time.Time
	contended bool
	timer     clockwork.Timer
}

// Pool is safe for concurrent use.
type Pool struct {
	logger  *zap.Logger
	clock   clockwork.Clock
	limits  map[types.ConnectionType]int
	clients map[types.ConnectionType]*http.Client
	hooks   []ResolutionHook

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	stopped bool
	tracked map[Action]*entry
	// pending is FIFO per connection type.
	pending map[types.ConnectionType][]*entry
	running map[slotKey]*entry
	active  map[types.ConnectionType]int
}

// New creates a pool. limits holds the concurrency cap for every connection
// type the pool accepts actions for.
func New(limits map[types.ConnectionType]int, opts ...Opt) (*Pool, error) {
	for ct, limit := range limits {
		if !ct.Valid() {
			return nil, fmt.Errorf("unknown connection type %q", ct)
		}
		if limit <= 0 {
			return nil, fmt.Errorf("concurrency for %s must be positive, got %d", ct, limit)
		}
	}
	p := &Pool{
		logger:  zap.NewNop(),
		clock:   clockwork.NewRealClock(),
		limits:  make(map[types.ConnectionType]int, len(limits)),
		clients: make(map[types.ConnectionType]*http.Client),
		tracked: make(map[Action]*entry),
		pending: make(map[types.ConnectionType][]*entry),
		running: make(map[slotKey]*entry),
		active:  make(map[types.ConnectionType]int),
	}
	for ct, limit := range limits {
		p.limits[ct] = limit
	}
	for _, opt := range opts {
		opt(p)
	}
	p.ctx, p.cancel = context.WithCancel(context.Background())
	return p, nil
}

// Enqueue hands the action to the pool.
func (p *Pool) Enqueue(a Action) error {
	if a == nil {
		return ErrBadAction
	}
	if _, ok := p.limits[a.ConnectionType()]; !ok || a.PeerIdentifier() == "" {
		return ErrBadAction
	}
	if a.NonContentionLifespan() < MinLifespan || a.ContentionLifespan() < MinLifespan {
		return ErrBadAction
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrBadAction
	}
	if _, ok := p.tracked[a]; ok {
		return ErrObjectInUse
	}
	if a.State() != Created {
		return ErrBadAction
	}
	e := &entry{action: a, key: keyOf(a)}
	p.tracked[a] = e
	p.pending[e.key.connType] = append(p.pending[e.key.connType], e)
	actionsEnqueued.WithLabelValues(a.ActionType(), e.key.connType.String()).Inc()
	queuedActions.WithLabelValues(e.key.connType.String()).Inc()

	if running, ok := p.running[e.key]; ok {
		p.contend(running)
	}
	p.dispatch(e.key.connType)
	return nil
}

// Kill removes the action from the pool and kills it. Killing an action the
// pool doesn't track only kills the action.
func (p *Pool) Kill(a Action) error {
	if a == nil {
		return ErrBadAction
	}
	p.mu.Lock()
	e, ok := p.tracked[a]
	if !ok {
		p.mu.Unlock()
		a.Kill()
		return nil
	}
	a.Kill()
	wasRunning := p.remove(e)
	p.dispatch(e.key.connType)
	p.mu.Unlock()

	// started actions are reported by their watcher
	if !wasRunning {
		go p.resolved(a)
	}
	return nil
}

// KillQueued kills the action only while it waits for dispatch and reports
// whether it did. Running and untracked actions are left alone.
func (p *Pool) KillQueued(a Action) bool {
	if a == nil {
		return false
	}
	p.mu.Lock()
	e, ok := p.tracked[a]
	if !ok || p.running[e.key] == e {
		p.mu.Unlock()
		return false
	}
	a.Kill()
	p.remove(e)
	p.mu.Unlock()
	go p.resolved(a)
	return true
}

// Len returns the number of tracked actions.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.tracked)
}

// Stop kills every tracked action. The pool rejects actions afterwards.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	entries := make([]*entry, 0, len(p.tracked))
	for _, e := range p.tracked {
		entries = append(entries, e)
	}
	p.mu.Unlock()
	for _, e := range entries {
		_ = p.Kill(e.action)
	}
	p.cancel()
}

// remove drops e from bookkeeping and reports whether it was running.
// Must be called with mu held.
func (p *Pool) remove(e *entry) bool {
	delete(p.tracked, e.action)
	ct := e.key.connType
	if p.running[e.key] == e {
		delete(p.running, e.key)
		p.active[ct]--
		runningActions.WithLabelValues(ct.String()).Dec()
		if e.timer != nil {
			e.timer.Stop()
		}
		return true
	}
	pending := p.pending[ct]
	for i, candidate := range pending {
		if candidate == e {
			p.pending[ct] = append(pending[:i:i], pending[i+1:]...)
			queuedActions.WithLabelValues(ct.String()).Dec()
			break
		}
	}
	return false
}

// dispatch starts pending actions of the connection type in order while
// capacity allows. Must be called with mu held.
func (p *Pool) dispatch(ct types.ConnectionType) {
	if p.stopped {
		return
	}
	for i := 0; i < len(p.pending[ct]) && p.active[ct] < p.limits[ct]; {
		e := p.pending[ct][i]
		if _, busy := p.running[e.key]; busy {
			i++
			continue
		}
		pending := p.pending[ct]
		p.pending[ct] = append(pending[:i:i], pending[i+1:]...)
		queuedActions.WithLabelValues(ct.String()).Dec()
		p.start(e)
	}
}

// start must be called with mu held.
func (p *Pool) start(e *entry) {
	ct := e.key.connType
	if err := e.action.Start(p.ctx, p.clients[ct]); err != nil {
		// killed behind our back, drop it
		p.logger.Debug("failed to start action",
			zap.Inline(loggable{e.action}),
			zap.Error(err),
		)
		delete(p.tracked, e.action)
		go p.resolved(e.action)
		return
	}
	e.started = p.clock.Now()
	p.running[e.key] = e
	p.active[ct]++
	runningActions.WithLabelValues(ct.String()).Inc()
	actionsStarted.WithLabelValues(e.action.ActionType(), ct.String()).Inc()

	lifespan := e.action.NonContentionLifespan()
	if p.contendedBehind(e) {
		e.contended = true
		lifespan = e.action.ContentionLifespan()
	}
	e.timer = p.clock.AfterFunc(lifespan, func() { p.expire(e) })
	go p.watch(e)
}

func (p *Pool) contendedBehind(e *entry) bool {
	for _, candidate := range p.pending[e.key.connType] {
		if candidate.key == e.key {
			return true
		}
	}
	return false
}

// contend switches a running action to its contention lifespan.
// Must be called with mu held.
func (p *Pool) contend(e *entry) {
	if e.contended {
		return
	}
	e.contended = true
	remaining := e.started.Add(e.action.ContentionLifespan()).Sub(p.clock.Now())
	if e.timer != nil {
		e.timer.Stop()
	}
	if remaining <= 0 {
		p.kill(e)
		return
	}
	e.timer = p.clock.AfterFunc(remaining, func() { p.expire(e) })
}

func (p *Pool) expire(e *entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running[e.key] != e {
		return
	}
	p.kill(e)
}

// kill terminates a running action that exceeded its lifespan.
// Must be called with mu held.
func (p *Pool) kill(e *entry) {
	p.logger.Debug("action lifespan exceeded",
		zap.Inline(loggable{e.action}),
		zap.Bool("contended", e.contended),
	)
	actionsExpired.WithLabelValues(e.action.ActionType(), e.key.connType.String()).Inc()
	e.action.Kill()
	p.remove(e)
	p.dispatch(e.key.connType)
}

// watch waits for a started action to resolve.
func (p *Pool) watch(e *entry) {
	<-e.action.Done()
	p.mu.Lock()
	if p.running[e.key] == e {
		p.remove(e)
		p.dispatch(e.key.connType)
	}
	p.mu.Unlock()
	p.resolved(e.action)
}

func (p *Pool) resolved(a Action) {
	result := "ok"
	if a.Result() != nil {
		result = "error"
	}
	actionsResolved.WithLabelValues(a.ActionType(), a.ConnectionType().String(), result).Inc()
	for _, hook := range p.hooks {
		hook(a)
	}
}
