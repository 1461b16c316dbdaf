package node

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/peerpull/go-peerpull/common/types"
	"github.com/peerpull/go-peerpull/config"
	"github.com/peerpull/go-peerpull/log/logtest"
	"github.com/peerpull/go-peerpull/notification"
	"github.com/peerpull/go-peerpull/replication"
)

func testConfig(tb testing.TB) *config.Config {
	tb.Helper()
	conf := config.DefaultConfig()
	conf.DataDir = tb.TempDir()
	conf.FileLock = filepath.Join(conf.DataDir, "LOCK")
	conf.BeaconListen = "127.0.0.1:0"
	conf.BridgeListen = "127.0.0.1:0"
	conf.Router = "127.0.0.1:1"
	conf.Discovery.ZombieThreshold = 0
	conf.Couch.MaxRequestRetries = 0
	return &conf
}

// withKey stores a freshly generated identity where the app will look for it.
func withKey(tb testing.TB, fsys afero.Fs, conf *config.Config) notification.KeyPair {
	tb.Helper()
	kp, err := notification.GenerateKeyPair(nil)
	require.NoError(tb, err)
	require.NoError(tb, fsys.MkdirAll(conf.DataDir, 0o700))
	require.NoError(tb, afero.WriteFile(fsys, conf.KeyPath(), []byte(hex.EncodeToString(kp.Private[:])), 0o600))
	return kp
}

func startApp(tb testing.TB, conf *config.Config, fsys afero.Fs, opts ...Option) *App {
	tb.Helper()
	opts = append([]Option{
		WithConfig(conf),
		WithFs(fsys),
		WithLogger(logtest.New(tb)),
	}, opts...)
	app := New(opts...)
	require.NoError(tb, app.Start(context.Background()))
	tb.Cleanup(func() { app.Stop(context.Background()) })
	select {
	case <-app.Started():
	default:
		require.FailNow(tb, "started not closed")
	}
	return app
}

type replicated struct {
	url  string
	auth replication.Auth
}

func TestApp_NotifyThenReplicate(t *testing.T) {
	fsys := afero.NewMemMapFs()
	senderConf, receiverConf := testConfig(t), testConfig(t)
	senderKey := withKey(t, fsys, senderConf)
	receiverKey := withKey(t, fsys, receiverConf)

	senderConf.Subscriptions = []config.Subscription{{PeerKey: receiverKey.Public, Databases: []string{"inbox"}}}
	receiverConf.Subscriptions = []config.Subscription{{PeerKey: senderKey.Public, Databases: []string{"notes", "photos"}}}

	var (
		mu    sync.Mutex
		calls []replicated
	)
	replicator := replication.NewMockReplicator(gomock.NewController(t))
	replicator.EXPECT().ReplicateTo(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, url string, opts replication.Options) (<-chan replication.Event, error) {
			mu.Lock()
			calls = append(calls, replicated{url: url, auth: opts.Auth})
			mu.Unlock()
			events := make(chan replication.Event, 2)
			events <- replication.Event{Type: replication.EventActive}
			events <- replication.Event{Type: replication.EventComplete, DocsWritten: 3}
			close(events)
			return events, nil
		}).MinTimes(2)

	sender := startApp(t, senderConf, fsys)
	receiver := startApp(t, receiverConf, fsys, WithReplicator(replicator))
	require.Equal(t, senderKey.Public, sender.PublicKey())

	host, port, ok := strings.Cut(sender.BeaconAddr(), ":")
	require.True(t, ok)
	input := strings.Join([]string{
		`{"peerIdentifier": "broken"`,
		"",
		fmt.Sprintf(`{"peerIdentifier":"sender","connectionType":"loopback","hostAddress":%q,`+
			`"portNumber":%s,"suggestedTCPTimeout":1000000000,"peerAvailable":true}`, host, port),
	}, "\n")
	require.NoError(t, receiver.ReadEvents(context.Background(), strings.NewReader(input)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 2
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, "http://"+sender.BeaconAddr()+"/notes", calls[0].url)
	require.Equal(t, "http://"+sender.BeaconAddr()+"/photos", calls[1].url)
	psk, ok := sender.session.Psks().Lookup(calls[0].auth.PskIdentity)
	require.True(t, ok, "psk handed out by the sender")
	require.Equal(t, receiverKey.Public, psk.PublicKey)
	require.Equal(t, psk.Secret, calls[0].auth.PskSecret)
}

func TestApp_ReadEventsCancelled(t *testing.T) {
	fsys := afero.NewMemMapFs()
	conf := testConfig(t)
	withKey(t, fsys, conf)
	app := startApp(t, conf, fsys)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r, w := io.Pipe()
	defer w.Close()
	require.ErrorIs(t, app.ReadEvents(ctx, r), context.Canceled)
}

func TestApp_NotStarted(t *testing.T) {
	app := New()
	require.ErrorIs(t, app.SetTargets(nil), ErrNotStarted)
	require.ErrorIs(t, app.SetSubscriptions(nil), ErrNotStarted)
	require.ErrorIs(t, app.PeerAvailabilityChanged(types.AvailabilityEvent{
		PeerIdentifier: "peer",
		ConnectionType: types.Loopback,
	}), ErrNotStarted)
}

func TestApp_InvalidConfig(t *testing.T) {
	conf := testConfig(t)
	conf.Dictionary.Capacity = 0
	app := New(WithConfig(conf), WithFs(afero.NewMemMapFs()))
	require.ErrorContains(t, app.Start(context.Background()), "dictionary capacity")
}

func TestApp_CreatesKey(t *testing.T) {
	fsys := afero.NewMemMapFs()
	conf := testConfig(t)
	app := startApp(t, conf, fsys)

	kp, err := notification.LoadOrCreateKeyPair(fsys, conf.KeyPath())
	require.NoError(t, err)
	require.Equal(t, kp.Public, app.PublicKey())
	require.NotZero(t, app.BridgePort())
}

func TestApp_Lock(t *testing.T) {
	conf := testConfig(t)
	conf.FileLock = filepath.Join(t.TempDir(), "nested", "LOCK")
	first := New(WithConfig(conf))
	require.NoError(t, first.Lock())

	second := New(WithConfig(conf))
	require.ErrorContains(t, second.Lock(), "only one peerpull instance")

	first.Unlock()
	require.NoError(t, second.Lock())
	second.Unlock()
	// unlocking an app that never locked is a no-op
	New(WithConfig(conf)).Unlock()
}

func TestApp_ReadEventsLineTooLong(t *testing.T) {
	app := New(WithLogger(logtest.New(t)))
	long := `{"peerIdentifier":"` + strings.Repeat("x", maxEventLine) + `"}`
	require.ErrorContains(t, app.ReadEvents(context.Background(), strings.NewReader(long)), "read events")
}

func TestApp_ReadEventsNotStarted(t *testing.T) {
	app := New(WithLogger(logtest.New(t)))
	line := `{"peerIdentifier":"p","connectionType":"wifi","hostAddress":"10.0.0.1","portNumber":1,"peerAvailable":true}`
	// rejected events are logged and skipped
	require.NoError(t, app.ReadEvents(context.Background(), strings.NewReader(line+"\n"+line)))
}

func TestApp_StoreOnlyForPskHolders(t *testing.T) {
	type forwarded struct {
		path   string
		secret string
	}
	var (
		mu   sync.Mutex
		seen []forwarded
	)
	store := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		seen = append(seen, forwarded{path: r.URL.Path, secret: r.Header.Get(notification.PskSecretHeader)})
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer store.Close()

	fsys := afero.NewMemMapFs()
	conf := testConfig(t)
	conf.Couch.URL = store.URL
	withKey(t, fsys, conf)
	receiver, err := notification.GenerateKeyPair(nil)
	require.NoError(t, err)
	conf.Subscriptions = []config.Subscription{{PeerKey: receiver.Public, Databases: []string{"inbox"}}}
	app := startApp(t, conf, fsys)
	base := "http://" + app.BeaconAddr()

	resp, err := http.Get(base + notification.BeaconsPath)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	result, err := notification.Decode(data, receiver, func(id notification.KeyID) (notification.PublicKey, bool) {
		return app.PublicKey(), id == app.PublicKey().KeyID()
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	get := func(path string, withPsk bool) int {
		req, err := http.NewRequest(http.MethodGet, base+path, nil)
		require.NoError(t, err)
		if withPsk {
			req.Header.Set(notification.PskIdentityHeader, result.PskIdentity)
			req.Header.Set(notification.PskSecretHeader, hex.EncodeToString(result.PskSecret))
		}
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}
	require.Equal(t, http.StatusUnauthorized, get("/notes/_changes", false))
	require.Equal(t, http.StatusForbidden, get("/_all_dbs", true))
	require.Equal(t, http.StatusOK, get("/notes/_changes", true))

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []forwarded{{path: "/notes/_changes"}}, seen)
}

func TestNewStoreProxy_InvalidURL(t *testing.T) {
	for _, raw := range []string{"://broken", "localhost", ""} {
		_, err := newStoreProxy(logtest.New(t), raw)
		require.Error(t, err, raw)
	}
}
