package notification

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// PskIdentityHeader and PskSecretHeader carry the pre-shared key of a
	// replication request. The secret is hex encoded.
	PskIdentityHeader = "X-Peerpull-Psk-Identity"
	PskSecretHeader   = "X-Peerpull-Psk-Secret"
)

// PskCache remembers the pre-shared keys handed out with recently served
// beacons so the transport layer can authenticate the replication that follows.
type PskCache struct {
	cache *expirable.LRU[string, PskEntry]
}

// NewPskCache creates a cache holding at most size entries for at most expiry each.
func NewPskCache(size int, expiry time.Duration) (*PskCache, error) {
	if size <= 0 {
		return nil, fmt.Errorf("psk cache size must be positive, got %d", size)
	}
	if expiry <= 0 {
		return nil, fmt.Errorf("psk cache expiry must be positive, got %v", expiry)
	}
	return &PskCache{cache: expirable.NewLRU[string, PskEntry](size, nil, expiry)}, nil
}

// Add records all entries.
func (c *PskCache) Add(psks map[string]PskEntry) {
	for identity, entry := range psks {
		c.cache.Add(identity, entry)
	}
}

// Lookup returns the entry for a psk identity.
func (c *PskCache) Lookup(identity string) (PskEntry, bool) {
	return c.cache.Get(identity)
}

// Len returns the number of live entries.
func (c *PskCache) Len() int {
	return c.cache.Len()
}

// Purge drops all entries.
func (c *PskCache) Purge() {
	c.cache.Purge()
}

type pskPeerKey struct{}

// PskPeer returns the public key an authenticated request was handed its
// pre-shared key for.
func PskPeer(ctx context.Context) (PublicKey, bool) {
	key, ok := ctx.Value(pskPeerKey{}).(PublicKey)
	return key, ok
}

// Authenticate only passes requests presenting a pre-shared key that is
// still in the cache. The key headers are stripped before next sees the
// request.
func (c *PskCache) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entry, ok := c.Lookup(r.Header.Get(PskIdentityHeader))
		secret, err := hex.DecodeString(r.Header.Get(PskSecretHeader))
		if !ok || err != nil || len(secret) == 0 || subtle.ConstantTimeCompare(secret, entry.Secret) != 1 {
			pskRequests.WithLabelValues(resultDenied).Inc()
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		pskRequests.WithLabelValues(resultAccepted).Inc()
		r.Header.Del(PskIdentityHeader)
		r.Header.Del(PskSecretHeader)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), pskPeerKey{}, entry.PublicKey)))
	})
}
