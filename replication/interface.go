package replication

import (
	"context"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/peerpool"
)

//go:generate mockgen -typed -package=replication -destination=./mocks.go -source=./interface.go

// Replicator drives the document store.
type Replicator interface {
	// ReplicateTo pulls the remote database into the local database of the
	// same name. The returned channel is closed after a terminal event.
	ReplicateTo(ctx context.Context, remoteURL string, opts Options) (<-chan Event, error)
}

// Connector returns the host:port an upper layer can reach the peer at over
// the connection type.
type Connector interface {
	Connect(ctx context.Context, peer types.PeerIdentifier, info types.PeerConnectionInfo) (string, error)
}

type actionPool interface {
	Enqueue(peerpool.Action) error
	Kill(peerpool.Action) error
	KillQueued(peerpool.Action) bool
}
