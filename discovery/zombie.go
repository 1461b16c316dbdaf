// Package discovery filters the availability events reported by the native layer.
package discovery

import (
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
)

// Sink consumes filtered availability events.
type Sink interface {
	PeerAvailabilityChanged(types.AvailabilityEvent) error
}

type Opt func(*ZombieFilter)

func WithLogger(logger *zap.Logger) Opt {
	return func(z *ZombieFilter) {
		z.logger = logger
	}
}

func WithClock(clock clockwork.Clock) Opt {
	return func(z *ZombieFilter) {
		z.clock = clock
	}
}

type key struct {
	peer types.PeerIdentifier
	ct   types.ConnectionType
}

type delayed struct {
	timer clockwork.Timer
	event types.AvailabilityEvent
}

// ZombieFilter holds back "unavailable" events for a threshold. Radios tend
// to report a peer as gone and back again within seconds, an unavailable
// event followed by an available one for the same peer and connection type
// inside the threshold is dropped.
type ZombieFilter struct {
	logger    *zap.Logger
	clock     clockwork.Clock
	threshold time.Duration
	sink      Sink

	mu      sync.Mutex
	stopped bool
	pending map[key]*delayed
}

// NewZombieFilter creates a filter forwarding to sink. A zero threshold
// forwards everything immediately.
func NewZombieFilter(threshold time.Duration, sink Sink, opts ...Opt) (*ZombieFilter, error) {
	if threshold < 0 {
		return nil, errors.New("negative zombie threshold")
	}
	if sink == nil {
		return nil, errors.New("nil sink")
	}
	z := &ZombieFilter{
		logger:    zap.NewNop(),
		clock:     clockwork.NewRealClock(),
		threshold: threshold,
		sink:      sink,
		pending:   make(map[key]*delayed),
	}
	for _, opt := range opts {
		opt(z)
	}
	return z, nil
}

// PeerAvailabilityChanged forwards or delays the event.
func (z *ZombieFilter) PeerAvailabilityChanged(ev types.AvailabilityEvent) error {
	k := key{peer: ev.PeerIdentifier, ct: ev.ConnectionType}
	z.mu.Lock()
	if z.stopped {
		z.mu.Unlock()
		return nil
	}
	if ev.Available {
		if d, ok := z.pending[k]; ok {
			d.timer.Stop()
			delete(z.pending, k)
			zombies.WithLabelValues("revived").Inc()
			z.logger.Debug("peer came back before unavailable was reported",
				zap.Stringer("connection_type", ev.ConnectionType),
			)
		}
		z.mu.Unlock()
		return z.sink.PeerAvailabilityChanged(ev)
	}
	if z.threshold == 0 {
		z.mu.Unlock()
		return z.sink.PeerAvailabilityChanged(ev)
	}
	if _, ok := z.pending[k]; !ok {
		d := &delayed{event: ev}
		d.timer = z.clock.AfterFunc(z.threshold, func() { z.expire(k, d) })
		z.pending[k] = d
	}
	z.mu.Unlock()
	return nil
}

func (z *ZombieFilter) expire(k key, d *delayed) {
	z.mu.Lock()
	if z.stopped || z.pending[k] != d {
		z.mu.Unlock()
		return
	}
	delete(z.pending, k)
	z.mu.Unlock()
	zombies.WithLabelValues("gone").Inc()
	if err := z.sink.PeerAvailabilityChanged(d.event); err != nil {
		z.logger.Warn("failed to report unavailable peer", zap.Error(err))
	}
}

// Pending returns the number of delayed unavailable events.
func (z *ZombieFilter) Pending() int {
	z.mu.Lock()
	defer z.mu.Unlock()
	return len(z.pending)
}

// Stop drops every delayed event.
func (z *ZombieFilter) Stop() {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.stopped = true
	for k, d := range z.pending {
		d.timer.Stop()
		delete(z.pending, k)
	}
}
