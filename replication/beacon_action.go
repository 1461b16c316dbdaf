package replication

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/peerpool"
)

const (
	// ActionTypeBeaconFetch fetches the notification beacons of a peer.
	ActionTypeBeaconFetch = "beacon_fetch"
	// ActionTypeReplication replicates databases from a peer.
	ActionTypeReplication = "replication"

	// maxBeaconsResponse bounds the body of a beacon response.
	maxBeaconsResponse = 64 + notification.MaxBeacons*notification.BeaconSize
)

var (
	// ErrConnection is the resolution of actions that couldn't reach the peer.
	ErrConnection = errors.New("could not establish connection")
	// ErrBeacons is the resolution of beacon fetches that got no usable response.
	ErrBeacons = errors.New("could not get notification beacons")
	// ErrReplication is the resolution of replications whose last database failed.
	ErrReplication = errors.New("replication failed")
)

// BeaconAction fetches the beacons a peer advertises and reports a match to
// the orchestrator.
type BeaconAction struct {
	*peerpool.BaseAction
	info types.PeerConnectionInfo
}

func newBeaconAction(
	o *Orchestrator,
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
) (*BeaconAction, error) {
	lifespan := o.cfg.Lifespans[info.ConnectionType]
	a := &BeaconAction{info: info}
	base, err := peerpool.NewBaseAction(
		peer,
		info.ConnectionType,
		ActionTypeBeaconFetch,
		lifespan.NonContention,
		lifespan.Contention,
		func(ctx context.Context, client *http.Client) error {
			return o.fetchBeacons(ctx, client, peer, info)
		},
	)
	if err != nil {
		return nil, err
	}
	a.BaseAction = base
	return a, nil
}

func (o *Orchestrator) fetchBeacons(
	ctx context.Context,
	client *http.Client,
	peer types.PeerIdentifier,
	info types.PeerConnectionInfo,
) error {
	addr, err := o.connector.Connect(ctx, peer, info)
	if err != nil {
		beaconFetches.WithLabelValues(outcomeFailed).Inc()
		return ErrConnection
	}
	if client == nil {
		client = &http.Client{Timeout: info.SuggestedTCPTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+addr+notification.BeaconsPath, nil)
	if err != nil {
		return fmt.Errorf("create beacon request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		beaconFetches.WithLabelValues(outcomeFailed).Inc()
		return ErrConnection
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent:
		beaconFetches.WithLabelValues(outcomeEmpty).Inc()
		return nil
	case http.StatusOK:
	default:
		beaconFetches.WithLabelValues(outcomeFailed).Inc()
		return ErrBeacons
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBeaconsResponse+1))
	if err != nil || len(data) > maxBeaconsResponse {
		beaconFetches.WithLabelValues(outcomeFailed).Inc()
		return ErrBeacons
	}
	result, err := o.codec.Decode(data, o.local, o.lookupKey)
	if err != nil {
		beaconFetches.WithLabelValues(outcomeFailed).Inc()
		return ErrBeacons
	}
	if result == nil {
		beaconFetches.WithLabelValues(outcomeNoMatch).Inc()
		return nil
	}
	beaconFetches.WithLabelValues(outcomeMatched).Inc()
	o.BeaconDecoded(peer, info, result)
	return nil
}
