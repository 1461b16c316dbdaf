package peerpool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zapcore"

	"github.com/peerpull/go-peerpull/common/types"
)

// MinLifespan is the lowest lifespan an action can be constructed with.
const MinLifespan = 10 * time.Millisecond

var (
	// ErrObjectInUse is returned when the same action is enqueued twice.
	ErrObjectInUse = errors.New("object already in use")
	// ErrBadAction is returned for actions the pool can't schedule.
	ErrBadAction = errors.New("bad action")
	// ErrActionCompleted is returned when a killed or finished action is started.
	ErrActionCompleted = errors.New("action has completed")
)

// State of an action. Transitions are monotonic: Created, Started, Killed.
type State uint8

const (
	Created State = iota
	Started
	Killed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Started:
		return "started"
	case Killed:
		return "killed"
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Action is a unit of work against one peer over one connection type.
// Only the pool decides when Start is called.
type Action interface {
	ID() uuid.UUID
	PeerIdentifier() types.PeerIdentifier
	ConnectionType() types.ConnectionType
	ActionType() string
	State() State
	NonContentionLifespan() time.Duration
	ContentionLifespan() time.Duration

	// Start begins the work and returns immediately. Calling it again while
	// started is a no-op, calling it after the action was killed returns
	// ErrActionCompleted.
	Start(ctx context.Context, client *http.Client) error
	// Kill aborts the action. It is idempotent and the action is Killed when
	// it returns.
	Kill()
	// Done is closed once the action has resolved.
	Done() <-chan struct{}
	// Result is the resolution value. It is nil until Done is closed, and nil
	// after a kill.
	Result() error
}

// RunFunc is the body of an action. It must return when ctx is cancelled.
type RunFunc func(ctx context.Context, client *http.Client) error

type event uint8

const (
	eventStart event = iota
	eventFinish
	eventKill
)

type command uint8

const (
	cmdRun command = iota
	cmdCancel
	cmdResolve
)

// transition is the action state machine. It returns the next state and the
// side effects the caller must apply in order.
func transition(current State, ev event) (State, []command, error) {
	switch ev {
	case eventStart:
		switch current {
		case Created:
			return Started, []command{cmdRun}, nil
		case Started:
			return Started, nil, nil
		default:
			return current, nil, ErrActionCompleted
		}
	case eventFinish:
		if current == Started {
			return Killed, []command{cmdResolve}, nil
		}
		return current, nil, nil
	case eventKill:
		switch current {
		case Created:
			return Killed, []command{cmdResolve}, nil
		case Started:
			return Killed, []command{cmdCancel, cmdResolve}, nil
		default:
			return Killed, nil, nil
		}
	}
	return current, nil, fmt.Errorf("unknown event %d", ev)
}

// BaseAction implements the Action lifecycle around a RunFunc.
// Concrete actions embed it.
type BaseAction struct {
	id            uuid.UUID
	peer          types.PeerIdentifier
	connType      types.ConnectionType
	actionType    string
	nonContention time.Duration
	contention    time.Duration
	run           RunFunc

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc
	result error
	done   chan struct{}
}

// NewBaseAction validates the arguments and creates an action in the Created state.
func NewBaseAction(
	peer types.PeerIdentifier,
	connType types.ConnectionType,
	actionType string,
	nonContention, contention time.Duration,
	run RunFunc,
) (*BaseAction, error) {
	switch {
	case peer == "":
		return nil, errors.New("empty peer identifier")
	case !connType.Valid():
		return nil, fmt.Errorf("unknown connection type %q", connType)
	case actionType == "":
		return nil, errors.New("empty action type")
	case nonContention < MinLifespan:
		return nil, fmt.Errorf("non contention lifespan %v is below %v", nonContention, MinLifespan)
	case contention < MinLifespan:
		return nil, fmt.Errorf("contention lifespan %v is below %v", contention, MinLifespan)
	case run == nil:
		return nil, errors.New("nil run func")
	}
	return &BaseAction{
		id:            uuid.New(),
		peer:          peer,
		connType:      connType,
		actionType:    actionType,
		nonContention: nonContention,
		contention:    contention,
		run:           run,
		done:          make(chan struct{}),
	}, nil
}

func (a *BaseAction) ID() uuid.UUID                        { return a.id }
func (a *BaseAction) PeerIdentifier() types.PeerIdentifier { return a.peer }
func (a *BaseAction) ConnectionType() types.ConnectionType { return a.connType }
func (a *BaseAction) ActionType() string                   { return a.actionType }
func (a *BaseAction) NonContentionLifespan() time.Duration { return a.nonContention }
func (a *BaseAction) ContentionLifespan() time.Duration    { return a.contention }
func (a *BaseAction) Done() <-chan struct{}                { return a.done }

func (a *BaseAction) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *BaseAction) Result() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result
}

func (a *BaseAction) Start(ctx context.Context, client *http.Client) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	run, err := a.apply(eventStart, nil)
	if err != nil {
		return err
	}
	if run {
		ctx, a.cancel = context.WithCancel(ctx)
		go func() {
			a.finish(a.run(ctx, client))
		}()
	}
	return nil
}

func (a *BaseAction) Kill() {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.apply(eventKill, nil)
}

func (a *BaseAction) finish(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, _ = a.apply(eventFinish, err)
}

// apply must be called with mu held. It reports whether the caller has to
// launch the run func.
func (a *BaseAction) apply(ev event, result error) (bool, error) {
	next, cmds, err := transition(a.state, ev)
	if err != nil {
		return false, err
	}
	a.state = next
	run := false
	for _, cmd := range cmds {
		switch cmd {
		case cmdRun:
			run = true
		case cmdCancel:
			a.cancel()
		case cmdResolve:
			a.result = result
			close(a.done)
		}
	}
	return run, nil
}

// MarshalLogObject implements logging encoder for BaseAction.
// The peer identifier is left out.
func (a *BaseAction) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("id", a.id.String())
	encoder.AddString("type", a.actionType)
	encoder.AddString("connection_type", a.connType.String())
	encoder.AddString("state", a.State().String())
	return nil
}
