package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testCounter = NewCounter("test_total", "metrics", "counter used by tests", []string{"label"})

func TestServerExposesMetrics(t *testing.T) {
	testCounter.WithLabelValues("value").Inc()

	srv := NewServer("127.0.0.1:0", zaptest.NewLogger(t))
	require.NoError(t, srv.Start())
	t.Cleanup(func() { require.NoError(t, srv.Stop(context.Background())) })

	resp, err := http.Get("http://" + srv.Addr().String() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `peerpull_metrics_test_total{label="value"} 1`)
}
