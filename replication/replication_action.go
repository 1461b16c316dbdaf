package replication

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/peerpool"
)

// ReplicationAction pulls every database subscribed for a peer, one at a time.
type ReplicationAction struct {
	*peerpool.BaseAction
	key notification.PublicKey
}

// PeerKey is the public key of the peer the action replicates from.
func (a *ReplicationAction) PeerKey() notification.PublicKey {
	return a.key
}

func newReplicationAction(
	o *Orchestrator,
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
	result *notification.DecodeResult,
) (*ReplicationAction, error) {
	lifespan := o.cfg.Lifespans[info.ConnectionType]
	key := result.SenderPublicKey
	auth := Auth{PskIdentity: result.PskIdentity, PskSecret: result.PskSecret}
	a := &ReplicationAction{key: key}
	base, err := peerpool.NewBaseAction(
		peer,
		info.ConnectionType,
		ActionTypeReplication,
		lifespan.NonContention,
		lifespan.Contention,
		func(ctx context.Context, _ *http.Client) error {
			// late bound, the list is read once the pool dispatches us
			return o.replicate(ctx, peer, info, o.subscribed(key), auth)
		},
	)
	if err != nil {
		return nil, err
	}
	a.BaseAction = base
	return a, nil
}

// replicate runs over dbs sequentially. Only a failure of the last database
// fails the whole replication. Peer identity is never logged here.
func (o *Orchestrator) replicate(
	ctx context.Context,
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
	dbs []string,
	auth Auth,
) error {
	if len(dbs) == 0 {
		return nil
	}
	addr, err := o.connector.Connect(ctx, peer, info)
	if err != nil {
		return ErrConnection
	}
	opts := Options{Live: o.cfg.Live, Retry: o.cfg.Retry, Auth: auth}
	for i, db := range dbs {
		start := o.clock.Now()
		err := o.replicateDB(ctx, "http://"+addr+"/"+db, opts)
		outcome := outcomeOk
		switch {
		case err == nil:
			o.logger.Debug("database replicated", zap.String("db", db))
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrDatabaseNotFound):
			outcome = outcomeNotFound
			o.logger.Debug("database not found on peer", zap.String("db", db))
		default:
			outcome = outcomeFailed
			o.logger.Warn("database replication failed", zap.String("db", db), zap.Error(err))
		}
		databases.WithLabelValues(outcome).Inc()
		replicationDuration.WithLabelValues(outcome).Observe(o.clock.Since(start).Seconds())
		if err != nil && i == len(dbs)-1 {
			return ErrReplication
		}
	}
	return nil
}

// replicateDB consumes the events of one replication. A live replication that
// sees no events for the idle timeout is considered caught up.
func (o *Orchestrator) replicateDB(ctx context.Context, remoteURL string, opts Options) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	events, err := o.replicator.ReplicateTo(ctx, remoteURL, opts)
	if err != nil {
		return err
	}
	var (
		idleTimer clockwork.Timer
		idle      <-chan time.Time
	)
	if opts.Live {
		idleTimer = o.clock.NewTimer(o.cfg.IdleTimeout)
		defer idleTimer.Stop()
		idle = idleTimer.Chan()
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-idle:
			databases.WithLabelValues(outcomeIdle).Inc()
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Type {
			case EventComplete:
				return nil
			case EventError:
				return ev.Err
			case EventDenied:
				if ev.Err != nil {
					return ev.Err
				}
				return ErrDenied
			case EventActive, EventPaused:
				if idleTimer != nil {
					idleTimer.Reset(o.cfg.IdleTimeout)
				}
			default:
				return fmt.Errorf("unexpected replication event %s", ev.Type)
			}
		}
	}
}
