// Package peerdict tracks the discovery state of peers in a bounded
// dictionary. When full, the least valuable entry is evicted first: resolved
// peers, then peers waiting for a retry, and only then peers with live work.
package peerdict

import (
	"errors"
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/peerpool"
)

// Killer kills actions owned by the pool.
type Killer interface {
	Kill(peerpool.Action) error
}

// Opt configures a Dictionary.
type Opt func(*Dictionary)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Opt {
	return func(d *Dictionary) {
		d.logger = logger
	}
}

// Dictionary is safe for concurrent use.
type Dictionary struct {
	logger   *zap.Logger
	killer   Killer
	capacity int

	mu sync.Mutex
	// entries are ordered by last insertion or update.
	entries *simplelru.LRU[types.PeerIdentifier, *Entry]
}

// New creates a dictionary holding at most capacity peers. Evicted pool
// controlled entries get their action killed through killer.
func New(capacity int, killer Killer, opts ...Opt) (*Dictionary, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("dictionary capacity must be positive, got %d", capacity)
	}
	if killer == nil {
		return nil, errors.New("killer is required")
	}
	entries, err := simplelru.NewLRU[types.PeerIdentifier, *Entry](capacity, nil)
	if err != nil {
		return nil, fmt.Errorf("create lru: %w", err)
	}
	d := &Dictionary{
		logger:   zap.NewNop(),
		killer:   killer,
		capacity: capacity,
		entries:  entries,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// AddOrUpdate stores the entry for the peer. Adding a new peer to a full
// dictionary evicts another one first. Replacing an entry stops the retry
// timer of the old one unless the new entry carries the same timer.
func (d *Dictionary) AddOrUpdate(id types.PeerIdentifier, entry *Entry) error {
	if id == "" {
		return errors.New("empty peer identifier")
	}
	if entry == nil {
		return errors.New("nil entry")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if old, ok := d.entries.Peek(id); ok {
		if old.timer != entry.timer {
			old.stopTimer()
		}
	} else if d.entries.Len() >= d.capacity {
		d.evict()
	}
	d.entries.Add(id, entry)
	entriesGauge.Set(float64(d.entries.Len()))
	return nil
}

// Get returns the entry for the peer or nil.
func (d *Dictionary) Get(id types.PeerIdentifier) *Entry {
	d.mu.Lock()
	defer d.mu.Unlock()
	entry, _ := d.entries.Peek(id)
	return entry
}

// Remove drops the peer and stops its retry timer. Unknown peers are ignored.
func (d *Dictionary) Remove(id types.PeerIdentifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.entries.Peek(id); ok {
		entry.stopTimer()
		d.entries.Remove(id)
		entriesGauge.Set(float64(d.entries.Len()))
	}
}

// Len returns the number of peers.
func (d *Dictionary) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.entries.Len()
}

// evict must be called with mu held.
func (d *Dictionary) evict() {
	keys := d.entries.Keys()
	for _, state := range []State{Resolved, Waiting, ControlledByPool} {
		for _, id := range keys {
			entry, _ := d.entries.Peek(id)
			if entry.state != state {
				continue
			}
			switch state {
			case Waiting:
				entry.stopTimer()
			case ControlledByPool:
				if err := d.killer.Kill(entry.action); err != nil {
					d.logger.Warn("failed to kill action of evicted peer", zap.Error(err))
				}
			}
			d.entries.Remove(id)
			evictions.WithLabelValues(state.String()).Inc()
			d.logger.Debug("evicted peer", zap.Stringer("state", state))
			return
		}
	}
}
