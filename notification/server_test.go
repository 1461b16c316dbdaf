package notification

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/peerpull/go-peerpull/log/logtest"
)

func testServerConfig() ServerConfig {
	return ServerConfig{
		BeaconTTL:         time.Minute,
		RequestsPerSecond: 100,
		Burst:             100,
		ExcessLogInterval: time.Second,
	}
}

func newTestServer(tb testing.TB, cfg ServerConfig) (*BeaconServer, KeyPair, *PskCache, *httptest.Server) {
	tb.Helper()
	local := genKey(tb)
	psks, err := NewPskCache(16, time.Minute)
	require.NoError(tb, err)
	srv, err := NewBeaconServer(local, psks, cfg, WithServerLogger(logtest.New(tb)))
	require.NoError(tb, err)
	mux := http.NewServeMux()
	srv.Register(mux)
	ts := httptest.NewServer(mux)
	tb.Cleanup(ts.Close)
	return srv, local, psks, ts
}

func TestBeaconServer_NoTargets(t *testing.T) {
	_, _, _, ts := newTestServer(t, testServerConfig())

	resp, err := http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestBeaconServer_Serve(t *testing.T) {
	srv, local, psks, ts := newTestServer(t, testServerConfig())
	target := genKey(t)
	srv.SetTargets([]PublicKey{target.Public})

	resp, err := http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/octet-stream", resp.Header.Get("Content-Type"))
	require.Equal(t, "no-cache", resp.Header.Get("Cache-Control"))

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	result, err := Decode(data, target, bookOf(local))
	require.NoError(t, err)
	require.NotNil(t, result)

	entry, ok := psks.Lookup(result.PskIdentity)
	require.True(t, ok)
	require.Equal(t, target.Public, entry.PublicKey)
	require.Equal(t, result.PskSecret, entry.Secret)

	// every request is encoded fresh
	resp2, err := http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	defer resp2.Body.Close()
	data2, err := io.ReadAll(resp2.Body)
	require.NoError(t, err)
	require.NotEqual(t, data, data2)

	srv.SetTargets(nil)
	resp3, err := http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	defer resp3.Body.Close()
	require.Equal(t, http.StatusNoContent, resp3.StatusCode)
}

func TestBeaconServer_MethodNotAllowed(t *testing.T) {
	_, _, _, ts := newTestServer(t, testServerConfig())

	resp, err := http.Post(ts.URL+BeaconsPath, "application/octet-stream", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBeaconServer_RateLimited(t *testing.T) {
	cfg := testServerConfig()
	cfg.RequestsPerSecond = 0.001
	cfg.Burst = 1
	_, _, _, ts := newTestServer(t, cfg)

	resp, err := http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, err = http.Get(ts.URL + BeaconsPath)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestBeaconServer_InvalidConfig(t *testing.T) {
	psks, err := NewPskCache(1, time.Minute)
	require.NoError(t, err)
	_, err = NewBeaconServer(genKey(t), psks, ServerConfig{})
	require.Error(t, err)

	_, err = NewBeaconServer(genKey(t), nil, testServerConfig())
	require.Error(t, err)
}

func TestServerConfig_BeaconTTL(t *testing.T) {
	cfg := testServerConfig()
	cfg.BeaconTTL = MaxExpirationAhead
	require.NoError(t, cfg.Validate())

	// beacons expiring that far ahead are never accepted by a peer
	cfg.BeaconTTL = MaxExpirationAhead + time.Hour
	require.ErrorContains(t, cfg.Validate(), "beacon ttl must not exceed")

	cfg.BeaconTTL = -time.Second
	require.ErrorContains(t, cfg.Validate(), "beacon ttl must be positive")
}

func TestPskCache(t *testing.T) {
	_, err := NewPskCache(0, time.Minute)
	require.Error(t, err)
	_, err = NewPskCache(1, 0)
	require.Error(t, err)

	cache, err := NewPskCache(2, time.Minute)
	require.NoError(t, err)
	cache.Add(map[string]PskEntry{"a": {Secret: []byte{1}}})
	cache.Add(map[string]PskEntry{"b": {Secret: []byte{2}}})
	cache.Add(map[string]PskEntry{"c": {Secret: []byte{3}}})
	require.Equal(t, 2, cache.Len())

	_, ok := cache.Lookup("a")
	require.False(t, ok)
	entry, ok := cache.Lookup("c")
	require.True(t, ok)
	require.Equal(t, []byte{3}, entry.Secret)

	cache.Purge()
	require.Zero(t, cache.Len())
}

func TestPskCache_Authenticate(t *testing.T) {
	cache, err := NewPskCache(4, time.Minute)
	require.NoError(t, err)
	peer := genKey(t)
	cache.Add(map[string]PskEntry{"00ff": {PublicKey: peer.Public, Secret: []byte{1, 2, 3}}})

	handler := cache.Authenticate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := PskPeer(r.Context())
		require.True(t, ok)
		require.Equal(t, peer.Public, key)
		require.Empty(t, r.Header.Get(PskIdentityHeader))
		require.Empty(t, r.Header.Get(PskSecretHeader))
		w.WriteHeader(http.StatusNoContent)
	}))
	request := func(identity, secret string) int {
		req := httptest.NewRequest(http.MethodGet, "/notes/_changes", nil)
		if identity != "" {
			req.Header.Set(PskIdentityHeader, identity)
		}
		if secret != "" {
			req.Header.Set(PskSecretHeader, secret)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}
	for _, tc := range []struct {
		desc     string
		identity string
		secret   string
		status   int
	}{
		{"valid", "00ff", "010203", http.StatusNoContent},
		{"missing", "", "", http.StatusUnauthorized},
		{"no secret", "00ff", "", http.StatusUnauthorized},
		{"unknown identity", "ffff", "010203", http.StatusUnauthorized},
		{"wrong secret", "00ff", "010204", http.StatusUnauthorized},
		{"not hex", "00ff", "zz", http.StatusUnauthorized},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			require.Equal(t, tc.status, request(tc.identity, tc.secret))
		})
	}

	cache.Purge()
	require.Equal(t, http.StatusUnauthorized, request("00ff", "010203"))
}
