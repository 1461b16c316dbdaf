package notification

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// BeaconsPath is the path the beacon endpoint is registered under.
const BeaconsPath = "/NotificationBeacons"

// ServerConfig holds the beacon endpoint parameters.
type ServerConfig struct {
	BeaconTTL time.Duration `mapstructure:"beacon-ttl"`
	// RequestsPerSecond is the sustained request rate above which requests are rejected.
	RequestsPerSecond float64 `mapstructure:"requests-per-second"`
	Burst             int     `mapstructure:"burst"`
	// ExcessLogInterval bounds how often rejected requests are logged.
	ExcessLogInterval time.Duration `mapstructure:"excess-log-interval"`
}

// Validate checks that the config is usable.
func (c ServerConfig) Validate() error {
	var errs []error
	if c.BeaconTTL <= 0 {
		errs = append(errs, fmt.Errorf("beacon ttl must be positive, got %v", c.BeaconTTL))
	} else if c.BeaconTTL > MaxExpirationAhead {
		// peers drop preambles expiring further ahead than that
		errs = append(errs, fmt.Errorf("beacon ttl must not exceed %v, got %v", MaxExpirationAhead, c.BeaconTTL))
	}
	if c.RequestsPerSecond <= 0 {
		errs = append(errs, fmt.Errorf("requests per second must be positive, got %v", c.RequestsPerSecond))
	}
	if c.Burst <= 0 {
		errs = append(errs, fmt.Errorf("burst must be positive, got %d", c.Burst))
	}
	if c.ExcessLogInterval <= 0 {
		errs = append(errs, fmt.Errorf("excess log interval must be positive, got %v", c.ExcessLogInterval))
	}
	return errors.Join(errs...)
}

// ServerOpt configures a BeaconServer.
type ServerOpt func(*BeaconServer)

// WithServerLogger sets the logger.
func WithServerLogger(logger *zap.Logger) ServerOpt {
	return func(s *BeaconServer) {
		s.logger = logger
	}
}

// WithServerCodec sets the codec used to encode beacons.
func WithServerCodec(codec *Codec) ServerOpt {
	return func(s *BeaconServer) {
		s.codec = codec
	}
}

// BeaconServer serves freshly encoded beacons for the current set of targets.
type BeaconServer struct {
	logger *zap.Logger
	codec  *Codec
	cfg    ServerConfig
	local  KeyPair
	psks   *PskCache

	limiter   *rate.Limiter
	excessLog rate.Sometimes

	mu      sync.RWMutex
	targets []PublicKey
}

// NewBeaconServer creates the endpoint. Beacons are signed by local and the
// pre-shared keys for every served response are recorded in psks.
func NewBeaconServer(local KeyPair, psks *PskCache, cfg ServerConfig, opts ...ServerOpt) (*BeaconServer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("beacon server config: %w", err)
	}
	if psks == nil {
		return nil, errors.New("psk cache is required")
	}
	s := &BeaconServer{
		logger:    zap.NewNop(),
		codec:     defaultCodec,
		cfg:       cfg,
		local:     local,
		psks:      psks,
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		excessLog: rate.Sometimes{Interval: cfg.ExcessLogInterval},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SetTargets replaces the peers we announce data for. An empty list stops
// announcements.
func (s *BeaconServer) SetTargets(targets []PublicKey) {
	cp := make([]PublicKey, len(targets))
	copy(cp, targets)
	s.mu.Lock()
	s.targets = cp
	s.mu.Unlock()
}

// Register installs the endpoint on mux.
func (s *BeaconServer) Register(mux *http.ServeMux) {
	mux.Handle(BeaconsPath, s)
}

// ServeHTTP implements http.Handler.
func (s *BeaconServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if !s.limiter.Allow() {
		beaconRequests.WithLabelValues(resultRejected).Inc()
		s.excessLog.Do(func() {
			s.logger.Warn("beacon request rate exceeded",
				zap.Float64("limit", s.cfg.RequestsPerSecond),
				zap.Int("burst", s.cfg.Burst),
			)
		})
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}

	s.mu.RLock()
	targets := s.targets
	s.mu.RUnlock()
	if len(targets) == 0 {
		beaconRequests.WithLabelValues(resultNoContent).Inc()
		w.WriteHeader(http.StatusNoContent)
		return
	}

	encoded, err := s.codec.EncodeBeacons(targets, s.local, s.cfg.BeaconTTL)
	if err != nil {
		beaconRequests.WithLabelValues(resultFailed).Inc()
		s.logger.Error("failed to encode beacons", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	s.psks.Add(encoded.Psks)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Length", strconv.Itoa(len(encoded.Data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(encoded.Data); err != nil {
		s.logger.Debug("failed to write beacons", zap.Error(err))
		return
	}
	beaconRequests.WithLabelValues(resultServed).Inc()
}
