package mux

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/libp2p/go-yamux/v4"
)

// Stream is a logical flow over the physical link.
type Stream interface {
	net.Conn
	CloseWrite() error
	Reset() error
}

// session is the framed multiplexer over a physical link.
type session interface {
	Open(ctx context.Context) (Stream, error)
	Accept() (Stream, error)
	Close() error
	CloseChan() <-chan struct{}
}

// Config for yamux sessions.
type Config struct {
	KeepAliveInterval      time.Duration `mapstructure:"keep-alive-interval"`
	ConnectionWriteTimeout time.Duration `mapstructure:"connection-write-timeout"`
	MaxIncomingStreams     uint32        `mapstructure:"max-incoming-streams"`
	// DialTimeout bounds dialing the router for inbound flows.
	DialTimeout time.Duration `mapstructure:"dial-timeout"`
}

// Validate checks that the config is usable.
func (c Config) Validate() error {
	if c.DialTimeout <= 0 {
		return fmt.Errorf("dial timeout must be positive, got %v", c.DialTimeout)
	}
	return nil
}

func (c Config) yamux() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.LogOutput = io.Discard
	if c.KeepAliveInterval > 0 {
		cfg.EnableKeepAlive = true
		cfg.KeepAliveInterval = c.KeepAliveInterval
	} else {
		cfg.EnableKeepAlive = false
	}
	if c.ConnectionWriteTimeout > 0 {
		cfg.ConnectionWriteTimeout = c.ConnectionWriteTimeout
	}
	if c.MaxIncomingStreams > 0 {
		cfg.MaxIncomingStreams = c.MaxIncomingStreams
	}
	return cfg
}

type yamuxSession struct {
	*yamux.Session
}

func newYamuxSession(conn net.Conn, cfg Config, server bool) (*yamuxSession, error) {
	var (
		sess *yamux.Session
		err  error
	)
	if server {
		sess, err = yamux.Server(conn, cfg.yamux(), nil)
	} else {
		sess, err = yamux.Client(conn, cfg.yamux(), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("yamux session: %w", err)
	}
	return &yamuxSession{Session: sess}, nil
}

func (s *yamuxSession) Open(ctx context.Context) (Stream, error) {
	stream, err := s.OpenStream(ctx)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

func (s *yamuxSession) Accept() (Stream, error) {
	stream, err := s.AcceptStream()
	if err != nil {
		return nil, err
	}
	return stream, nil
}
