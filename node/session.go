package node

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/discovery"
	"github.com/peerpull/go-peerpull/notification"
)

// SessionConfig sizes the per run state.
type SessionConfig struct {
	PskSize         int
	PskExpiry       time.Duration
	ZombieThreshold time.Duration
}

// Session holds the state that lives exactly as long as one run of the
// node: the pre-shared keys handed out in beacons and the availability
// events that are still being held back.
type Session struct {
	psks   *notification.PskCache
	filter *discovery.ZombieFilter
}

// NewSession creates the session state and routes filtered availability
// events to sink.
func NewSession(
	logger *zap.Logger,
	clock clockwork.Clock,
	cfg SessionConfig,
	sink discovery.Sink,
) (*Session, error) {
	psks, err := notification.NewPskCache(cfg.PskSize, cfg.PskExpiry)
	if err != nil {
		return nil, fmt.Errorf("psk cache: %w", err)
	}
	filter, err := discovery.NewZombieFilter(
		cfg.ZombieThreshold,
		sink,
		discovery.WithLogger(logger),
		discovery.WithClock(clock),
	)
	if err != nil {
		return nil, fmt.Errorf("zombie filter: %w", err)
	}
	return &Session{psks: psks, filter: filter}, nil
}

// Psks returns the cache of keys handed out to beacon targets.
func (s *Session) Psks() *notification.PskCache {
	return s.psks
}

// PeerAvailabilityChanged passes the event through the zombie filter.
func (s *Session) PeerAvailabilityChanged(ev types.AvailabilityEvent) error {
	return s.filter.PeerAvailabilityChanged(ev)
}

// Close drops held back events and forgets every handed out key.
func (s *Session) Close() {
	s.filter.Stop()
	s.psks.Purge()
}
