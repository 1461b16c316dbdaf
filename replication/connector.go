package replication

import (
	"context"
	"fmt"

	"github.com/peerpull/go-peerpull/common/types"
)

// DirectConnector reaches peers at the address they announced.
type DirectConnector struct{}

// Connect implements Connector.
func (DirectConnector) Connect(_ context.Context, _ types.PeerIdentifier, info types.PeerConnectionInfo) (string, error) {
	return info.Address(), nil
}

// Connectors picks a connector by connection type.
type Connectors map[types.ConnectionType]Connector

// Connect implements Connector.
func (c Connectors) Connect(ctx context.Context, peer types.PeerIdentifier, info types.PeerConnectionInfo) (string, error) {
	connector, ok := c[info.ConnectionType]
	if !ok {
		return "", fmt.Errorf("no connector for %s", info.ConnectionType)
	}
	return connector.Connect(ctx, peer, info)
}
