package peerdict

import (
	"errors"
	"fmt"
	"maps"

	"github.com/jonboulle/clockwork"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/peerpool"
)

// State of a peer in the dictionary.
type State uint8

const (
	// Resolved peers have nothing scheduled.
	Resolved State = iota + 1
	// ControlledByPool peers have an action owned by the pool.
	ControlledByPool
	// Waiting peers have a retry timer pending.
	Waiting
)

func (s State) String() string {
	switch s {
	case Resolved:
		return "resolved"
	case ControlledByPool:
		return "controlled_by_pool"
	case Waiting:
		return "waiting"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Entry is an immutable snapshot of what we know about a peer. Updates are
// expressed by building a new entry and storing it with AddOrUpdate.
type Entry struct {
	state       State
	connections map[types.ConnectionType]types.PeerConnectionInfo
	action      peerpool.Action
	timer       clockwork.Timer
}

// NewEntry validates and creates an entry. An action is required for and
// only allowed in the ControlledByPool state, a timer only in Waiting.
func NewEntry(
	state State,
	connections map[types.ConnectionType]types.PeerConnectionInfo,
	action peerpool.Action,
	timer clockwork.Timer,
) (*Entry, error) {
	switch state {
	case Resolved, Waiting:
		if action != nil {
			return nil, fmt.Errorf("%s entry can't have an action", state)
		}
	case ControlledByPool:
		if action == nil {
			return nil, errors.New("controlled_by_pool entry requires an action")
		}
	default:
		return nil, fmt.Errorf("invalid peer state %d", state)
	}
	if timer != nil && state != Waiting {
		return nil, fmt.Errorf("%s entry can't have a retry timer", state)
	}
	for ct, info := range connections {
		if ct != info.ConnectionType {
			return nil, fmt.Errorf("connection info for %s stored under %s", info.ConnectionType, ct)
		}
	}
	return &Entry{
		state:       state,
		connections: maps.Clone(connections),
		action:      action,
		timer:       timer,
	}, nil
}

func (e *Entry) State() State {
	return e.state
}

func (e *Entry) Action() peerpool.Action {
	return e.action
}

// Connection returns the connection info for the connection type.
func (e *Entry) Connection(ct types.ConnectionType) (types.PeerConnectionInfo, bool) {
	info, ok := e.connections[ct]
	return info, ok
}

// Connections returns a copy of all known connection info.
func (e *Entry) Connections() map[types.ConnectionType]types.PeerConnectionInfo {
	return maps.Clone(e.connections)
}

func (e *Entry) stopTimer() {
	if e.timer != nil {
		e.timer.Stop()
	}
}

// WithConnections returns a copy of the entry with the connection info replaced.
func (e *Entry) WithConnections(connections map[types.ConnectionType]types.PeerConnectionInfo) (*Entry, error) {
	return NewEntry(e.state, connections, e.action, e.timer)
}
