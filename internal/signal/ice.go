package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/pion/webrtc/v4"

	"github.com/sangam-app/callcore/internal/util"
)

const iceCacheKey = "ice-servers"

// fallbackIceServers is used whenever the config endpoint is unreachable or
// returns garbage. Call setup must never hard-fail solely because TURN
// credentials were unavailable.
var fallbackIceServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
	{URLs: []string{"stun:stun1.l.google.com:19302"}},
}

// iceServerEntry is the wire shape of one server in the config response.
type iceServerEntry struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// Resolver fetches transient TURN/STUN credentials from a remote config
// endpoint and caches them for their TTL. Credentials rotate server-side, so
// the cache must expire rather than pin the first answer forever.
type Resolver struct {
	mu       sync.RWMutex
	endpoint string

	client *http.Client
	cache  *ttlcache.Cache[string, []webrtc.ICEServer]
}

// NewResolver creates a resolver for the given endpoint. An empty endpoint is
// valid and yields the STUN fallback list.
func NewResolver(endpoint string, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []webrtc.ICEServer](ttl),
		ttlcache.WithDisableTouchOnHit[string, []webrtc.ICEServer](),
	)
	go cache.Start()

	return &Resolver{
		endpoint: endpoint,
		client:   &http.Client{Timeout: util.DefaultFetchTimeout},
		cache:    cache,
	}
}

// SetEndpoint swaps the config endpoint (config hot-reload) and invalidates
// the cached server list.
func (r *Resolver) SetEndpoint(endpoint string) {
	r.mu.Lock()
	changed := r.endpoint != endpoint
	r.endpoint = endpoint
	r.mu.Unlock()
	if changed {
		r.cache.Delete(iceCacheKey)
	}
}

// IceServers returns the current ICE server list. It never fails: any fetch
// or decode error falls back to the public STUN list.
func (r *Resolver) IceServers(ctx context.Context) []webrtc.ICEServer {
	if item := r.cache.Get(iceCacheKey); item != nil {
		return item.Value()
	}

	servers, err := r.fetch(ctx)
	if err != nil {
		log.Warnf("ICE config fetch failed, using STUN fallback: %v", err)
		return fallbackIceServers
	}
	r.cache.Set(iceCacheKey, servers, ttlcache.DefaultTTL)
	return servers
}

// Stop releases the cache's expiry goroutine.
func (r *Resolver) Stop() {
	r.cache.Stop()
}

func (r *Resolver) fetch(ctx context.Context) ([]webrtc.ICEServer, error) {
	r.mu.RLock()
	endpoint := r.endpoint
	r.mu.RUnlock()

	if endpoint == "" {
		return nil, fmt.Errorf("no ICE config endpoint configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ICE config endpoint returned %d", resp.StatusCode)
	}

	var entries []iceServerEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("decode ICE config: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(entries))
	for _, e := range entries {
		if len(e.URLs) == 0 {
			continue
		}
		s := webrtc.ICEServer{URLs: e.URLs}
		if e.Username != "" {
			s.Username = e.Username
			s.Credential = e.Credential
		}
		servers = append(servers, s)
	}
	if len(servers) == 0 {
		return nil, fmt.Errorf("ICE config endpoint returned no usable servers")
	}
	return servers, nil
}
