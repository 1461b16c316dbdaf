package node

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"go.uber.org/zap"
)

// newStoreProxy forwards replication requests of peers to the local document
// store. Server wide endpoints stay private, peers only reach databases.
func newStoreProxy(logger *zap.Logger, storeURL string) (http.Handler, error) {
	target, err := url.Parse(storeURL)
	if err != nil {
		return nil, fmt.Errorf("parse store url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("store url %q needs a scheme and a host", storeURL)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		logger.Warn("document store unreachable", zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/_") {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		proxy.ServeHTTP(w, r)
	}), nil
}
