package mux

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/log/logtest"
)

// recorder keeps the order in which sockets and sessions were closed.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

type recordedConn struct {
	net.Conn
	name string
	rec  *recorder
	once sync.Once
}

func (c *recordedConn) Close() error {
	c.once.Do(func() { c.rec.add(c.name) })
	return c.Conn.Close()
}

type pipeStream struct {
	net.Conn
}

func (s pipeStream) CloseWrite() error { return nil }

func (s pipeStream) Reset() error { return s.Conn.Close() }

type fakeSession struct {
	rec       *recorder
	streams   chan Stream
	lost      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
}

func newFakeSession(rec *recorder) *fakeSession {
	return &fakeSession{
		rec:     rec,
		streams: make(chan Stream, 8),
		lost:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSession) Open(context.Context) (Stream, error) {
	return nil, errors.New("not supported")
}

func (s *fakeSession) Accept() (Stream, error) {
	select {
	case st := <-s.streams:
		return st, nil
	case <-s.closed:
		return nil, net.ErrClosed
	}
}

func (s *fakeSession) Close() error {
	s.closeOnce.Do(func() {
		s.rec.add("session")
		close(s.closed)
	})
	return nil
}

func (s *fakeSession) CloseChan() <-chan struct{} {
	return s.lost
}

func TestMultiplexer_TeardownOrder(t *testing.T) {
	rec := &recorder{}
	sess := newFakeSession(rec)
	var (
		mu      sync.Mutex
		dialed  int
		remotes []net.Conn
	)
	dial := func(context.Context) (net.Conn, error) {
		local, remote := net.Pipe()
		mu.Lock()
		defer mu.Unlock()
		dialed++
		remotes = append(remotes, remote)
		return &recordedConn{Conn: local, name: "socket", rec: rec}, nil
	}
	m := newMultiplexer(logtest.New(t), "link", sess, nil, dial)

	for range 2 {
		local, _ := net.Pipe()
		sess.streams <- pipeStream{Conn: local}
	}
	require.Eventually(t, func() bool { return m.Flows() == 2 }, time.Second, time.Millisecond)

	// physical link goes away
	close(sess.lost)
	select {
	case <-m.Done():
	case <-time.After(time.Second):
		require.FailNow(t, "multiplexer not torn down")
	}
	require.Equal(t, []string{"socket", "socket", "session"}, rec.list())
	require.NoError(t, m.Close())
	require.Zero(t, m.Flows())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 2, dialed)
	for _, r := range remotes {
		r.Close()
	}
}

func TestMultiplexer_CreateStreamAfterClose(t *testing.T) {
	sess := newFakeSession(&recorder{})
	m := newMultiplexer(logtest.New(t), "link", sess, nil, nil)
	require.NoError(t, m.Close())
	_, err := m.CreateStream(context.Background())
	require.ErrorIs(t, err, ErrClosed)
	require.Empty(t, m.Addr())
	require.Zero(t, m.Port())
}

// echoServer writes back everything it reads and half-closes once the client
// stops sending.
func echoServer(tb testing.TB) string {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	tb.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					n, err := conn.Read(buf)
					if n > 0 {
						if _, werr := conn.Write(buf[:n]); werr != nil {
							return
						}
					}
					if errors.Is(err, io.EOF) {
						conn.(*net.TCPConn).CloseWrite()
						return
					}
					if err != nil {
						return
					}
				}
			}()
		}
	}()
	return ln.Addr().String()
}

func resetServer(tb testing.TB) string {
	tb.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(tb, err)
	tb.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.(*net.TCPConn).SetLinger(0)
			conn.Close()
		}
	}()
	return ln.Addr().String()
}

func startBridges(tb testing.TB, router string) (*Bridge, *Bridge, int) {
	tb.Helper()
	remote, err := NewBridge(router, Config{DialTimeout: time.Second}, WithLogger(logtest.New(tb).Named("remote")))
	require.NoError(tb, err)
	port, err := remote.Start()
	require.NoError(tb, err)
	tb.Cleanup(func() { remote.Stop() })

	local, err := NewBridge("127.0.0.1:1", Config{DialTimeout: time.Second}, WithLogger(logtest.New(tb).Named("local")))
	require.NoError(tb, err)
	tb.Cleanup(func() { local.Stop() })
	return remote, local, port
}

func physical(port int) DialFunc {
	return func(ctx context.Context) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	}
}

func TestBridge_HalfClose(t *testing.T) {
	_, local, port := startBridges(t, echoServer(t))

	m, err := local.GetOrCreateMultiplexer(context.Background(), "remote", physical(port))
	require.NoError(t, err)
	require.NotZero(t, m.Port())

	payload := bytes.Repeat([]byte("notify then replicate "), 1024)
	for range 3 {
		conn, err := net.Dial("tcp", m.Addr())
		require.NoError(t, err)
		_, err = conn.Write(payload)
		require.NoError(t, err)
		require.NoError(t, conn.(*net.TCPConn).CloseWrite())

		got, err := io.ReadAll(conn)
		require.NoError(t, err)
		require.Equal(t, payload, got)
		conn.Close()
	}
}

func TestBridge_ResetPropagates(t *testing.T) {
	_, local, port := startBridges(t, resetServer(t))

	m, err := local.GetOrCreateMultiplexer(context.Background(), "remote", physical(port))
	require.NoError(t, err)

	conn, err := net.Dial("tcp", m.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = io.ReadAll(conn)
	require.Error(t, err)
	var nerr net.Error
	if errors.As(err, &nerr) {
		require.False(t, nerr.Timeout(), "reset was not propagated")
	}
}

func TestBridge_GetOrCreate(t *testing.T) {
	_, local, port := startBridges(t, echoServer(t))

	var (
		wg   sync.WaitGroup
		muxs = make([]*Multiplexer, 4)
		errs = make([]error, 4)
	)
	for i := range muxs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			muxs[i], errs[i] = local.GetOrCreateMultiplexer(context.Background(), "remote", physical(port))
		}()
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	for _, m := range muxs[1:] {
		require.Same(t, muxs[0], m)
	}

	other, err := local.GetOrCreateMultiplexer(context.Background(), "other", physical(port))
	require.NoError(t, err)
	require.NotSame(t, muxs[0], other)

	// a torn down multiplexer is replaced
	require.NoError(t, muxs[0].Close())
	again, err := local.GetOrCreateMultiplexer(context.Background(), "remote", physical(port))
	require.NoError(t, err)
	require.NotSame(t, muxs[0], again)

	_, err = local.GetOrCreateMultiplexer(context.Background(), "failing", func(context.Context) (net.Conn, error) {
		return nil, errors.New("radio off")
	})
	require.ErrorContains(t, err, "radio off")
}

func TestBridge_RemoteLinkLoss(t *testing.T) {
	remote, local, port := startBridges(t, echoServer(t))

	m, err := local.GetOrCreateMultiplexer(context.Background(), "remote", physical(port))
	require.NoError(t, err)
	conn, err := net.Dial("tcp", m.Addr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)

	require.NoError(t, remote.Stop())
	select {
	case <-m.Done():
	case <-time.After(5 * time.Second):
		require.FailNow(t, "link loss not detected")
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err = conn.Read(buf)
	require.Error(t, err)
}

func TestBridge_Lifecycle(t *testing.T) {
	_, err := NewBridge("no-port", Config{DialTimeout: time.Second})
	require.Error(t, err)
	_, err = NewBridge("127.0.0.1:1", Config{})
	require.ErrorContains(t, err, "dial timeout must be positive")

	b, err := NewBridge("127.0.0.1:1", Config{DialTimeout: time.Second})
	require.NoError(t, err)
	port, err := b.Start()
	require.NoError(t, err)
	require.NotZero(t, port)
	_, err = b.Start()
	require.ErrorIs(t, err, ErrStarted)

	require.NoError(t, b.Stop())
	require.NoError(t, b.Stop())
	_, err = b.Start()
	require.ErrorIs(t, err, ErrStopped)
	_, err = b.GetOrCreateMultiplexer(context.Background(), "x", physical(port))
	require.ErrorIs(t, err, ErrStopped)
}

func TestConnector(t *testing.T) {
	_, local, port := startBridges(t, echoServer(t))
	connector := NewConnector(local, TCPDialer)

	info, err := types.NewPeerConnectionInfo(types.Bluetooth, "127.0.0.1", port, time.Second)
	require.NoError(t, err)
	addr, err := connector.Connect(context.Background(), "peer", info)
	require.NoError(t, err)
	again, err := connector.Connect(context.Background(), "peer", info)
	require.NoError(t, err)
	require.Equal(t, addr, again)

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)
	buf := make([]byte, 5)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}
