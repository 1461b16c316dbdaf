package mux

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/peerpull/go-peerpull/common/types"
)

var (
	// ErrStopped is returned by a bridge after Stop.
	ErrStopped = errors.New("bridge stopped")
	// ErrStarted is returned when Start is called twice.
	ErrStarted = errors.New("bridge already started")
)

// DialFunc opens the physical duplex link to a peer.
type DialFunc func(ctx context.Context) (net.Conn, error)

type Opt func(*Bridge)

func WithLogger(logger *zap.Logger) Opt {
	return func(b *Bridge) {
		b.logger = logger
	}
}

// WithListenAddress sets the address physical links are accepted on.
func WithListenAddress(addr string) Opt {
	return func(b *Bridge) {
		b.listenAddr = addr
	}
}

// Bridge terminates physical links and multiplexes logical flows over them.
//
// Physical links accepted by the bridge listener become server sessions whose
// flows are piped to the router. Links created by GetOrCreateMultiplexer are
// client sessions exposing a loopback listener for outbound flows.
type Bridge struct {
	logger     *zap.Logger
	cfg        Config
	router     string
	listenAddr string

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	accepted map[*Multiplexer]struct{}
	dialed   map[string]*Multiplexer

	creating singleflight.Group
	eg       errgroup.Group
}

// NewBridge creates a bridge that pipes inbound flows to router.
func NewBridge(router string, cfg Config, opts ...Opt) (*Bridge, error) {
	if _, _, err := net.SplitHostPort(router); err != nil {
		return nil, fmt.Errorf("invalid router address %q: %w", router, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bridge config: %w", err)
	}
	b := &Bridge{
		logger:     zap.NewNop(),
		cfg:        cfg,
		router:     router,
		listenAddr: "127.0.0.1:0",
		accepted:   make(map[*Multiplexer]struct{}),
		dialed:     make(map[string]*Multiplexer),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Start listens for physical links and returns the listener port.
func (b *Bridge) Start() (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return 0, ErrStopped
	}
	if b.listener != nil {
		return 0, ErrStarted
	}
	ln, err := net.Listen("tcp", b.listenAddr)
	if err != nil {
		return 0, fmt.Errorf("listen physical links on %s: %w", b.listenAddr, err)
	}
	b.listener = ln
	b.eg.Go(func() error {
		b.acceptPhysical(ln)
		return nil
	})
	port := ln.Addr().(*net.TCPAddr).Port
	b.logger.Info("bridge started", zap.Int("port", port))
	return port, nil
}

func (b *Bridge) acceptPhysical(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		physicalLinks.WithLabelValues(inbound).Inc()
		sess, err := newYamuxSession(conn, b.cfg, true)
		if err != nil {
			b.logger.Warn("failed to start session", zap.Error(err))
			_ = conn.Close()
			continue
		}
		b.mu.Lock()
		if b.stopped {
			b.mu.Unlock()
			_ = sess.Close()
			return
		}
		m := newMultiplexer(b.logger, "accepted-"+conn.RemoteAddr().String(), sess, nil, b.dialRouter)
		b.accepted[m] = struct{}{}
		b.mu.Unlock()
		b.eg.Go(func() error {
			<-m.Done()
			b.mu.Lock()
			delete(b.accepted, m)
			b.mu.Unlock()
			_ = m.Close()
			return nil
		})
	}
}

func (b *Bridge) dialRouter(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: b.cfg.DialTimeout}
	return d.DialContext(ctx, "tcp", b.router)
}

// GetOrCreateMultiplexer returns the live multiplexer for the physical link id,
// dialing a new link when there is none. Concurrent callers for the same id
// share a single dial.
func (b *Bridge) GetOrCreateMultiplexer(ctx context.Context, id string, dial DialFunc) (*Multiplexer, error) {
	if m, err := b.lookup(id); m != nil || err != nil {
		return m, err
	}
	v, err, _ := b.creating.Do(id, func() (any, error) {
		if m, err := b.lookup(id); m != nil || err != nil {
			return m, err
		}
		return b.create(ctx, id, dial)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Multiplexer), nil
}

func (b *Bridge) lookup(id string) (*Multiplexer, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil, ErrStopped
	}
	m, ok := b.dialed[id]
	if !ok {
		return nil, nil
	}
	select {
	case <-m.Done():
		return nil, nil
	default:
		return m, nil
	}
}

func (b *Bridge) create(ctx context.Context, id string, dial DialFunc) (*Multiplexer, error) {
	conn, err := dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial physical link %s: %w", id, err)
	}
	physicalLinks.WithLabelValues(outbound).Inc()
	sess, err := newYamuxSession(conn, b.cfg, false)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("listen local flows: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		_ = ln.Close()
		_ = sess.Close()
		return nil, ErrStopped
	}
	m := newMultiplexer(b.logger, id, sess, ln, b.dialRouter)
	b.dialed[id] = m
	b.eg.Go(func() error {
		<-m.Done()
		b.mu.Lock()
		if b.dialed[id] == m {
			delete(b.dialed, id)
		}
		b.mu.Unlock()
		_ = m.Close()
		return nil
	})
	b.logger.Debug("multiplexer created", zap.String("mux", id))
	return m, nil
}

// Stop closes the listener and every multiplexer, then waits for them to exit.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	if b.listener != nil {
		_ = b.listener.Close()
	}
	all := make([]*Multiplexer, 0, len(b.accepted)+len(b.dialed))
	for m := range b.accepted {
		all = append(all, m)
	}
	for _, m := range b.dialed {
		all = append(all, m)
	}
	b.mu.Unlock()

	for _, m := range all {
		_ = m.teardown()
	}
	return b.eg.Wait()
}

// PhysicalDialer opens the physical link to a peer over a multiplexed transport.
type PhysicalDialer func(ctx context.Context, peer types.PeerIdentifier, info types.PeerConnectionInfo) (net.Conn, error)

// TCPDialer reaches the remote bridge listener directly over tcp, honoring the
// peer's suggested timeout.
func TCPDialer(ctx context.Context, _ types.PeerIdentifier, info types.PeerConnectionInfo) (net.Conn, error) {
	d := net.Dialer{Timeout: info.SuggestedTCPTimeout}
	return d.DialContext(ctx, "tcp", info.Address())
}

// Connector resolves peers on multiplexed transports to the loopback address
// of their multiplexer.
type Connector struct {
	bridge *Bridge
	dial   PhysicalDialer
}

func NewConnector(bridge *Bridge, dial PhysicalDialer) *Connector {
	return &Connector{bridge: bridge, dial: dial}
}

func (c *Connector) Connect(
	ctx context.Context,
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
) (string, error) {
	id := fmt.Sprintf("%s/%s/%s", info.ConnectionType, peer, info.Address())
	m, err := c.bridge.GetOrCreateMultiplexer(ctx, id, func(ctx context.Context) (net.Conn, error) {
		return c.dial(ctx, peer, info)
	})
	if err != nil {
		return "", err
	}
	return m.Addr(), nil
}
