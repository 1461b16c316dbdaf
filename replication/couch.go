package replication

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/peerpull/go-peerpull/notification"
)

const (
	// PskIdentityHeader and PskSecretHeader hand the pre-shared key to the
	// document store, which uses them to authenticate to the remote peer.
	PskIdentityHeader = notification.PskIdentityHeader
	PskSecretHeader   = notification.PskSecretHeader
)

// CouchConfig configures the CouchDB compatible replicator.
type CouchConfig struct {
	URL               string        `mapstructure:"url"`
	MaxRequestRetries int           `mapstructure:"max-request-retries"`
	RequestRetryDelay time.Duration `mapstructure:"request-retry-delay"`
}

// A wrapper around zap.Logger to make it compatible with
// retryablehttp.LeveledLogger interface.
type retryableHttpLogger struct {
	inner *zap.Logger
}

func (r retryableHttpLogger) Error(format string, args ...any) {
	r.inner.Sugar().Errorw(format, args...)
}

func (r retryableHttpLogger) Info(format string, args ...any) {
	r.inner.Sugar().Infow(format, args...)
}

func (r retryableHttpLogger) Warn(format string, args ...any) {
	r.inner.Sugar().Warnw(format, args...)
}

func (r retryableHttpLogger) Debug(format string, args ...any) {
	r.inner.Sugar().Debugw(format, args...)
}

// NewHTTPClient returns a client that retries idempotent failures with a
// linear jittered backoff. Actions use it to reach peers.
func NewHTTPClient(logger *zap.Logger, retries int, delay, timeout time.Duration) *http.Client {
	client := retryablehttp.NewClient()
	client.HTTPClient.Timeout = timeout
	client.RetryMax = retries
	client.RetryWaitMin = delay
	client.RetryWaitMax = 2 * delay
	client.Backoff = retryablehttp.LinearJitterBackoff
	client.Logger = &retryableHttpLogger{inner: logger}
	return client.StandardClient()
}

// CouchOpt configures a CouchReplicator.
type CouchOpt func(*CouchReplicator)

// WithCouchLogger sets the logger.
func WithCouchLogger(logger *zap.Logger) CouchOpt {
	return func(c *CouchReplicator) {
		c.logger = logger
		c.retrying.Logger = &retryableHttpLogger{inner: logger}
		c.once.Logger = &retryableHttpLogger{inner: logger}
	}
}

// WithCouchHTTPClient sets the underlying http client.
func WithCouchHTTPClient(client *http.Client) CouchOpt {
	return func(c *CouchReplicator) {
		c.retrying.HTTPClient = client
		c.once.HTTPClient = client
	}
}

// CouchReplicator replicates through the _replicate endpoint of a local
// CouchDB compatible store.
type CouchReplicator struct {
	logger  *zap.Logger
	baseURL *url.URL
	// retrying is used when Options.Retry is set.
	retrying *retryablehttp.Client
	once     *retryablehttp.Client
}

// NewCouchReplicator creates a replicator for the store at cfg.URL.
func NewCouchReplicator(cfg CouchConfig, opts ...CouchOpt) (*CouchReplicator, error) {
	baseURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing store url: %w", err)
	}
	if baseURL.Scheme == "" {
		baseURL.Scheme = "http"
	}
	c := &CouchReplicator{
		logger:  zap.NewNop(),
		baseURL: baseURL,
		retrying: &retryablehttp.Client{
			HTTPClient:   retryablehttp.NewClient().HTTPClient,
			RetryMax:     cfg.MaxRequestRetries,
			RetryWaitMin: cfg.RequestRetryDelay,
			RetryWaitMax: 2 * cfg.RequestRetryDelay,
			Backoff:      retryablehttp.LinearJitterBackoff,
			CheckRetry:   retryablehttp.DefaultRetryPolicy,
		},
		once: &retryablehttp.Client{
			HTTPClient: retryablehttp.NewClient().HTTPClient,
			RetryMax:   0,
			Backoff:    retryablehttp.DefaultBackoff,
			CheckRetry: retryablehttp.DefaultRetryPolicy,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type replicateSource struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
}

type replicateRequest struct {
	Source       replicateSource `json:"source"`
	Target       string          `json:"target"`
	Continuous   bool            `json:"continuous,omitempty"`
	CreateTarget bool            `json:"create_target"`
}

type cancelRequest struct {
	ReplicationID string `json:"replication_id"`
	Cancel        bool   `json:"cancel"`
}

type replicateResponse struct {
	Ok      bool   `json:"ok"`
	LocalID string `json:"_local_id"`
	Error   string `json:"error"`
	Reason  string `json:"reason"`
	History []struct {
		DocsWritten int `json:"docs_written"`
	} `json:"history"`
}

// ReplicateTo implements Replicator.
func (c *CouchReplicator) ReplicateTo(ctx context.Context, remoteURL string, opts Options) (<-chan Event, error) {
	remote, err := url.Parse(remoteURL)
	if err != nil {
		return nil, fmt.Errorf("parsing remote url: %w", err)
	}
	db := path.Base(remote.Path)
	if db == "" || db == "/" || db == "." {
		return nil, fmt.Errorf("remote url has no database")
	}
	req := replicateRequest{
		Source:       replicateSource{URL: remoteURL},
		Target:       db,
		Continuous:   opts.Live,
		CreateTarget: true,
	}
	if opts.Auth.PskIdentity != "" {
		req.Source.Headers = map[string]string{
			PskIdentityHeader: opts.Auth.PskIdentity,
			PskSecretHeader:   hex.EncodeToString(opts.Auth.PskSecret),
		}
	}
	client := c.once
	if opts.Retry {
		client = c.retrying
	}

	events := make(chan Event, 4)
	go func() {
		defer close(events)
		events <- Event{Type: EventActive}
		var resp replicateResponse
		status, err := c.post(ctx, client, &req, &resp)
		if err != nil {
			events <- Event{Type: EventError, Err: err}
			return
		}
		switch {
		case status == http.StatusNotFound:
			events <- Event{Type: EventError, Err: fmt.Errorf("%w: %s", ErrDatabaseNotFound, resp.Reason)}
			return
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			events <- Event{Type: EventDenied, Err: fmt.Errorf("%w: %s", ErrDenied, resp.Reason)}
			return
		case status >= http.StatusBadRequest || !resp.Ok:
			events <- Event{Type: EventError, Err: fmt.Errorf("replicate: status %d: %s %s", status, resp.Error, resp.Reason)}
			return
		}
		if !opts.Live {
			var written int
			for _, h := range resp.History {
				written += h.DocsWritten
			}
			events <- Event{Type: EventComplete, DocsWritten: written}
			return
		}
		events <- Event{Type: EventPaused}
		<-ctx.Done()
		c.cancel(resp.LocalID)
		events <- Event{Type: EventComplete}
	}()
	return events, nil
}

func (c *CouchReplicator) cancel(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var resp replicateResponse
	if _, err := c.post(ctx, c.once, &cancelRequest{ReplicationID: id, Cancel: true}, &resp); err != nil {
		c.logger.Debug("failed to cancel live replication", zap.Error(err))
	}
}

func (c *CouchReplicator) post(ctx context.Context, client *retryablehttp.Client, body, out any) (int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return 0, fmt.Errorf("marshaling request body: %w", err)
	}
	req, err := retryablehttp.NewRequestWithContext(
		ctx,
		http.MethodPost,
		c.baseURL.JoinPath("_replicate").String(),
		bytes.NewReader(data),
	)
	if err != nil {
		return 0, fmt.Errorf("creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("doing request: %w", err)
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, fmt.Errorf("reading response body: %w", err)
	}
	if len(resBody) > 0 {
		if err := json.Unmarshal(resBody, out); err != nil {
			return res.StatusCode, fmt.Errorf("decoding response body: %w", err)
		}
	}
	return res.StatusCode, nil
}
