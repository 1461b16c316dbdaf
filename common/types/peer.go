package types

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap/zapcore"
)

// PeerIdentifier names a peer for the duration of one visibility window.
// It is not stable across sessions and must not be treated as an identity.
type PeerIdentifier string

// ConnectionType is the transport category a peer was discovered over.
type ConnectionType string

const (
	// Loopback is an in-process transport, used by tests and local tooling.
	Loopback ConnectionType = "loopback"
	// Bluetooth is a link derived from an RFCOMM-style session. At most one
	// physical session exists per pair of peers, so it is always multiplexed.
	Bluetooth ConnectionType = "bluetooth"
	// WiFi is a link derived from an ad-hoc WiFi network.
	WiFi ConnectionType = "wifi"
)

// ConnectionTypes lists all known connection types.
var ConnectionTypes = []ConnectionType{Loopback, Bluetooth, WiFi}

// Valid reports whether c is a known connection type.
func (c ConnectionType) Valid() bool {
	switch c {
	case Loopback, Bluetooth, WiFi:
		return true
	}
	return false
}

// Multiplexed reports whether all logical flows to a peer over this type
// share a single physical stream.
func (c ConnectionType) Multiplexed() bool {
	return c == Bluetooth
}

func (c ConnectionType) String() string {
	return string(c)
}

// PeerConnectionInfo is what the native layer tells us about how to reach
// a peer over one connection type.
type PeerConnectionInfo struct {
	ConnectionType      ConnectionType
	HostAddress         string
	PortNumber          int
	SuggestedTCPTimeout time.Duration
}

// NewPeerConnectionInfo validates and returns connection info.
func NewPeerConnectionInfo(
	ct ConnectionType,
	host string,
	port int,
	timeout time.Duration,
) (PeerConnectionInfo, error) {
	if !ct.Valid() {
		return PeerConnectionInfo{}, fmt.Errorf("unknown connection type %q", ct)
	}
	if host == "" {
		return PeerConnectionInfo{}, fmt.Errorf("empty host address")
	}
	if port <= 0 || port > 65535 {
		return PeerConnectionInfo{}, fmt.Errorf("invalid port number %d", port)
	}
	if timeout < 0 {
		return PeerConnectionInfo{}, fmt.Errorf("negative tcp timeout %v", timeout)
	}
	return PeerConnectionInfo{
		ConnectionType:      ct,
		HostAddress:         host,
		PortNumber:          port,
		SuggestedTCPTimeout: timeout,
	}, nil
}

// Address returns host:port.
func (i PeerConnectionInfo) Address() string {
	return net.JoinHostPort(i.HostAddress, strconv.Itoa(i.PortNumber))
}

// MarshalLogObject implements logging encoder for PeerConnectionInfo.
// Host and port are deliberately left out, they are enough to correlate a peer.
func (i PeerConnectionInfo) MarshalLogObject(encoder zapcore.ObjectEncoder) error {
	encoder.AddString("connection_type", i.ConnectionType.String())
	encoder.AddDuration("tcp_timeout", i.SuggestedTCPTimeout)
	return nil
}

// AvailabilityEvent is emitted by the native layer whenever a peer appears,
// changes its address or disappears on a given connection type.
type AvailabilityEvent struct {
	PeerIdentifier      PeerIdentifier `json:"peerIdentifier"`
	ConnectionType      ConnectionType `json:"connectionType"`
	HostAddress         string         `json:"hostAddress"`
	PortNumber          int            `json:"portNumber"`
	SuggestedTCPTimeout time.Duration  `json:"suggestedTCPTimeout"`
	Available           bool           `json:"peerAvailable"`
}

// ConnectionInfo converts an available event into connection info.
func (e AvailabilityEvent) ConnectionInfo() (PeerConnectionInfo, error) {
	return NewPeerConnectionInfo(e.ConnectionType, e.HostAddress, e.PortNumber, e.SuggestedTCPTimeout)
}
