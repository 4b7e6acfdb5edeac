package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestResolverFetchAndCache(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"urls": ["turn:turn.example.com:3478"], "username": "u1", "credential": "s3cret"},
			{"urls": ["stun:stun.example.com:3478"]}
		]`))
	}))
	defer srv.Close()

	r := NewResolver(srv.URL, time.Minute)
	defer r.Stop()

	servers := r.IceServers(context.Background())
	if len(servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(servers))
	}
	if servers[0].URLs[0] != "turn:turn.example.com:3478" {
		t.Errorf("first server URL = %q", servers[0].URLs[0])
	}
	if servers[0].Username != "u1" || servers[0].Credential != "s3cret" {
		t.Errorf("TURN credentials not mapped: %+v", servers[0])
	}
	if servers[1].Username != "" {
		t.Errorf("STUN entry carries credentials: %+v", servers[1])
	}

	// Second call inside the TTL is served from cache.
	r.IceServers(context.Background())
	if n := hits.Load(); n != 1 {
		t.Fatalf("endpoint hit %d times, want 1", n)
	}
}

func TestResolverFallsBackToStun(t *testing.T) {
	t.Run("endpoint errors", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "boom", http.StatusInternalServerError)
		}))
		defer srv.Close()

		r := NewResolver(srv.URL, time.Minute)
		defer r.Stop()

		servers := r.IceServers(context.Background())
		if len(servers) == 0 {
			t.Fatal("fallback list is empty; calls could never start")
		}
	})

	t.Run("no endpoint configured", func(t *testing.T) {
		r := NewResolver("", time.Minute)
		defer r.Stop()

		servers := r.IceServers(context.Background())
		if len(servers) == 0 {
			t.Fatal("fallback list is empty; calls could never start")
		}
	})

	t.Run("endpoint returns garbage", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("not json"))
		}))
		defer srv.Close()

		r := NewResolver(srv.URL, time.Minute)
		defer r.Stop()

		if servers := r.IceServers(context.Background()); len(servers) == 0 {
			t.Fatal("fallback list is empty; calls could never start")
		}
	})

	// Failures are not cached: the endpoint recovering is picked up on the
	// next call.
	t.Run("recovers after failure", func(t *testing.T) {
		var fail atomic.Bool
		fail.Store(true)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if fail.Load() {
				http.Error(w, "boom", http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte(`[{"urls": ["turn:t.example.com:3478"], "username": "u", "credential": "c"}]`))
		}))
		defer srv.Close()

		r := NewResolver(srv.URL, time.Minute)
		defer r.Stop()

		r.IceServers(context.Background())
		fail.Store(false)
		servers := r.IceServers(context.Background())
		if len(servers) != 1 || servers[0].Username != "u" {
			t.Fatalf("recovered answer not used: %+v", servers)
		}
	})
}

func TestResolverSetEndpointInvalidatesCache(t *testing.T) {
	first := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"urls": ["stun:one.example.com:3478"]}]`))
	}))
	defer first.Close()
	second := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"urls": ["stun:two.example.com:3478"]}]`))
	}))
	defer second.Close()

	r := NewResolver(first.URL, time.Minute)
	defer r.Stop()

	if got := r.IceServers(context.Background()); got[0].URLs[0] != "stun:one.example.com:3478" {
		t.Fatalf("unexpected first answer: %+v", got)
	}

	r.SetEndpoint(second.URL)
	if got := r.IceServers(context.Background()); got[0].URLs[0] != "stun:two.example.com:3478" {
		t.Fatalf("stale answer after endpoint swap: %+v", got)
	}
}
