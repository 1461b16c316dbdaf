package mux

import (
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrClosed is returned when the multiplexer was already torn down.
var ErrClosed = errors.New("multiplexer closed")

type dialFunc func(ctx context.Context) (net.Conn, error)

const (
	inbound  = "inbound"
	outbound = "outbound"
)

// flow is a logical stream paired with the local tcp socket it is piped to.
type flow struct {
	direction string
	conn      net.Conn
	stream    Stream
	resetOnce sync.Once
}

func (f *flow) reset() {
	f.resetOnce.Do(func() {
		if tcp, ok := f.conn.(*net.TCPConn); ok {
			_ = tcp.SetLinger(0)
		}
		_ = f.conn.Close()
		_ = f.stream.Reset()
	})
}

// Multiplexer carries many logical flows over one physical link.
//
// Flows opened by the remote side are piped to the router address. When a
// local listener is present every connection accepted on it is piped to a
// newly opened flow, so upper layers can keep using ordinary sockets.
type Multiplexer struct {
	logger   *zap.Logger
	id       string
	session  session
	listener net.Listener
	dial     dialFunc

	ctx    context.Context
	cancel context.CancelFunc
	eg     errgroup.Group

	mu     sync.Mutex
	flows  map[*flow]struct{}
	closed bool

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

func newMultiplexer(
	logger *zap.Logger,
	id string,
	sess session,
	listener net.Listener,
	dial dialFunc,
) *Multiplexer {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Multiplexer{
		logger:   logger.With(zap.String("mux", id)),
		id:       id,
		session:  sess,
		listener: listener,
		dial:     dial,
		ctx:      ctx,
		cancel:   cancel,
		flows:    make(map[*flow]struct{}),
		done:     make(chan struct{}),
	}
	multiplexers.Inc()
	m.eg.Go(m.watch)
	m.eg.Go(m.acceptRemote)
	if listener != nil {
		m.eg.Go(m.acceptLocal)
	}
	return m
}

// ID of the physical connection the multiplexer wraps.
func (m *Multiplexer) ID() string {
	return m.id
}

// Addr returns the loopback address that upper layers dial to open a flow,
// empty if the multiplexer has no local listener.
func (m *Multiplexer) Addr() string {
	if m.listener == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Port of the local listener, 0 if there is none.
func (m *Multiplexer) Port() int {
	if m.listener == nil {
		return 0
	}
	_, port, err := net.SplitHostPort(m.listener.Addr().String())
	if err != nil {
		return 0
	}
	p, _ := strconv.Atoi(port)
	return p
}

// CreateStream opens a new logical flow to the remote side.
func (m *Multiplexer) CreateStream(ctx context.Context) (Stream, error) {
	select {
	case <-m.done:
		return nil, ErrClosed
	default:
	}
	stream, err := m.session.Open(ctx)
	if err != nil {
		streamErrors.WithLabelValues(outbound).Inc()
		return nil, err
	}
	return stream, nil
}

// Flows returns the number of logical flows being piped.
func (m *Multiplexer) Flows() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

// Done is closed once the multiplexer is torn down.
func (m *Multiplexer) Done() <-chan struct{} {
	return m.done
}

// Close tears the multiplexer down and waits for its goroutines to exit.
func (m *Multiplexer) Close() error {
	err := m.teardown()
	m.eg.Wait()
	return err
}

// teardown closes every local tcp socket first and only then the session,
// so sockets never observe session errors after they are considered closed.
func (m *Multiplexer) teardown() error {
	m.closeOnce.Do(func() {
		m.mu.Lock()
		m.closed = true
		flows := make([]*flow, 0, len(m.flows))
		for f := range m.flows {
			flows = append(flows, f)
		}
		m.mu.Unlock()

		m.cancel()
		if m.listener != nil {
			_ = m.listener.Close()
		}
		for _, f := range flows {
			_ = f.conn.Close()
		}
		m.closeErr = m.session.Close()
		multiplexers.Dec()
		m.logger.Debug("multiplexer closed", zap.Int("flows", len(flows)))
		close(m.done)
	})
	return m.closeErr
}

func (m *Multiplexer) watch() error {
	select {
	case <-m.session.CloseChan():
		m.logger.Debug("physical link lost")
		_ = m.teardown()
	case <-m.done:
	}
	return nil
}

func (m *Multiplexer) acceptRemote() error {
	for {
		stream, err := m.session.Accept()
		if err != nil {
			return nil
		}
		m.eg.Go(func() error {
			conn, err := m.dial(m.ctx)
			if err != nil {
				m.logger.Debug("failed to dial router", zap.Error(err))
				streamErrors.WithLabelValues(inbound).Inc()
				_ = stream.Reset()
				return nil
			}
			m.serve(inbound, conn, stream)
			return nil
		})
	}
}

func (m *Multiplexer) acceptLocal() error {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return nil
		}
		m.eg.Go(func() error {
			stream, err := m.CreateStream(m.ctx)
			if err != nil {
				m.logger.Debug("failed to open stream", zap.Error(err))
				_ = conn.Close()
				return nil
			}
			m.serve(outbound, conn, stream)
			return nil
		})
	}
}

func (m *Multiplexer) track(f *flow) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return false
	}
	m.flows[f] = struct{}{}
	activeFlows.WithLabelValues(f.direction).Inc()
	return true
}

func (m *Multiplexer) untrack(f *flow) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flows[f]; ok {
		delete(m.flows, f)
		activeFlows.WithLabelValues(f.direction).Dec()
	}
}

// serve pipes conn and stream in both directions until both are drained or
// either side fails. A clean EOF is forwarded as a half-close, any error
// resets both sides.
func (m *Multiplexer) serve(direction string, conn net.Conn, stream Stream) {
	f := &flow{direction: direction, conn: conn, stream: stream}
	if !m.track(f) {
		f.reset()
		return
	}
	defer m.untrack(f)

	var eg errgroup.Group
	eg.Go(func() error { return forward(f, stream, conn) })
	eg.Go(func() error { return forward(f, conn, stream) })
	if err := eg.Wait(); err != nil {
		streamErrors.WithLabelValues(direction).Inc()
		m.logger.Debug("flow reset", zap.String("direction", direction), zap.Error(err))
		return
	}
	_ = conn.Close()
	_ = stream.Close()
}

type closeWriter interface {
	CloseWrite() error
}

func forward(f *flow, dst, src net.Conn) error {
	if _, err := io.Copy(dst, src); err != nil {
		f.reset()
		return err
	}
	if cw, ok := dst.(closeWriter); ok {
		if err := cw.CloseWrite(); err != nil {
			f.reset()
			return err
		}
	}
	return nil
}
