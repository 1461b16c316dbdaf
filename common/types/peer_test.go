package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewPeerConnectionInfo(t *testing.T) {
	for _, tc := range []struct {
		desc string
		ct   ConnectionType
		host string
		port int
		err  bool
	}{
		{desc: "valid", ct: WiFi, host: "10.0.0.1", port: 9000},
		{desc: "unknown type", ct: "nfc", host: "10.0.0.1", port: 9000, err: true},
		{desc: "empty host", ct: WiFi, port: 9000, err: true},
		{desc: "zero port", ct: Bluetooth, host: "127.0.0.1", err: true},
		{desc: "port overflow", ct: Bluetooth, host: "127.0.0.1", port: 70000, err: true},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			info, err := NewPeerConnectionInfo(tc.ct, tc.host, tc.port, time.Second)
			if tc.err {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, "10.0.0.1:9000", info.Address())
		})
	}
}

func TestConnectionTypeMultiplexed(t *testing.T) {
	require.True(t, Bluetooth.Multiplexed())
	require.False(t, WiFi.Multiplexed())
	require.False(t, Loopback.Multiplexed())
}
