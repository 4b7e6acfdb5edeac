package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config does not validate: %v", err)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty key file", func(c *Config) { c.Identity.KeyFile = " " }},
		{"port out of range", func(c *Config) { c.P2P.ListenPort = 70000 }},
		{"zero ice ttl", func(c *Config) { c.Signal.IceTTLSec = 0 }},
		{"ice endpoint bad scheme", func(c *Config) { c.Signal.IceEndpoint = "ftp://x.example.com/ice" }},
		{"ice endpoint no host", func(c *Config) { c.Signal.IceEndpoint = "http://" }},
		{"zero video width", func(c *Config) { c.Call.VideoMaxWidth = 0 }},
		{"negative grace", func(c *Config) { c.Call.ConnectedGraceMs = -1 }},
		{"zero stability", func(c *Config) { c.Gesture.Stability = 0 }},
		{"zero cooldown", func(c *Config) { c.Gesture.CooldownMs = 0 }},
		{"empty http addr", func(c *Config) { c.Viewer.HTTPAddr = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected a validation error")
			}
		})
	}
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcore.json")
	raw := []byte(`{"signal": {"ice_endpoint": "https://cfg.example.com/ice"}}`)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Signal.IceEndpoint != "https://cfg.example.com/ice" {
		t.Errorf("ice_endpoint = %q", cfg.Signal.IceEndpoint)
	}
	// Fields absent from the file keep their defaults.
	if cfg.Gesture.Stability != Default().Gesture.Stability {
		t.Errorf("gesture.stability = %d, want default", cfg.Gesture.Stability)
	}
	if cfg.Viewer.HTTPAddr != Default().Viewer.HTTPAddr {
		t.Errorf("viewer.http_addr = %q, want default", cfg.Viewer.HTTPAddr)
	}
}

func TestLoadStripsBOM(t *testing.T) {
	path := filepath.Join(t.TempDir(), "callcore.json")
	raw := append([]byte{0xEF, 0xBB, 0xBF}, []byte(`{"p2p": {"mdns_tag": "bom-tag"}}`)...)
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.P2P.MdnsTag != "bom-tag" {
		t.Errorf("mdns_tag = %q", cfg.P2P.MdnsTag)
	}
}

func TestEnsureCreatesThenLoads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "callcore.json")

	cfg, created, err := Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (first): %v", err)
	}
	if !created {
		t.Fatal("first Ensure should create the file")
	}
	if cfg.P2P.MdnsTag != Default().P2P.MdnsTag {
		t.Errorf("created config is not the default: %+v", cfg)
	}

	_, created, err = Ensure(path)
	if err != nil {
		t.Fatalf("Ensure (second): %v", err)
	}
	if created {
		t.Fatal("second Ensure should load, not create")
	}
}
