package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/sangam-app/callcore/internal/util"
)

type Config struct {
	Identity Identity `json:"identity"`
	P2P      P2P      `json:"p2p"`
	Signal   Signal   `json:"signal"`
	Call     Call     `json:"call"`
	Gesture  Gesture  `json:"gesture"`
	Viewer   Viewer   `json:"viewer"`
}

type Identity struct {
	KeyFile string `json:"key_file"`
}

type P2P struct {
	ListenPort int    `json:"listen_port"`
	MdnsTag    string `json:"mdns_tag"`
}

type Signal struct {
	// Endpoint returning the current TURN/STUN server list. Empty means
	// STUN-only fallback.
	IceEndpoint string `json:"ice_endpoint"`

	// How long a fetched server list stays valid before a refetch.
	IceTTLSec int `json:"ice_ttl_seconds"`

	// Endpoint for display-name/avatar lookups. Empty disables lookups;
	// participants then show their raw peer ID.
	ProfileEndpoint string `json:"profile_endpoint"`

	// Directory holding the SQLite profile cache.
	ProfileCacheDir string `json:"profile_cache_dir"`
}

type Call struct {
	// Camera capture caps. Captured frames never exceed these dimensions.
	VideoMaxWidth  int `json:"video_max_width"`
	VideoMaxHeight int `json:"video_max_height"`

	// How long after ICE reports connected to wait for the first remote
	// media packet before declaring the call connected anyway.
	ConnectedGraceMs int `json:"connected_grace_ms"`
}

type Gesture struct {
	// Consecutive open-palm frames required to arm the detector.
	Stability int `json:"stability"`

	// Frames without a hand tolerated while armed.
	GraceFrames int `json:"grace_frames"`

	CooldownMs int `json:"cooldown_ms"`
}

type Viewer struct {
	HTTPAddr string `json:"http_addr"`
	Debug    bool   `json:"debug"`
}

func Default() Config {
	return Config{
		Identity: Identity{
			KeyFile: "data/identity.key",
		},
		P2P: P2P{
			ListenPort: 0,
			MdnsTag:    "callcore-mdns",
		},
		Signal: Signal{
			IceEndpoint:     "",
			IceTTLSec:       300,
			ProfileEndpoint: "",
			ProfileCacheDir: "data",
		},
		Call: Call{
			VideoMaxWidth:    1280,
			VideoMaxHeight:   720,
			ConnectedGraceMs: 500,
		},
		Gesture: Gesture{
			Stability:   6,
			GraceFrames: 10,
			CooldownMs:  2000,
		},
		Viewer: Viewer{
			HTTPAddr: "127.0.0.1:8410",
			Debug:    false,
		},
	}
}

func (c *Config) Validate() error {
	// Identity
	if strings.TrimSpace(c.Identity.KeyFile) == "" {
		return errors.New("identity.key_file is required")
	}

	// P2P
	if c.P2P.ListenPort < 0 || c.P2P.ListenPort > 65535 {
		return errors.New("p2p.listen_port must be 0..65535")
	}
	if strings.TrimSpace(c.P2P.MdnsTag) == "" {
		return errors.New("p2p.mdns_tag is required")
	}

	// Signal
	if c.Signal.IceTTLSec <= 0 {
		return errors.New("signal.ice_ttl_seconds must be > 0")
	}
	if ep := strings.TrimSpace(c.Signal.IceEndpoint); ep != "" {
		if err := validateHTTPURL(ep); err != nil {
			return fmt.Errorf("signal.ice_endpoint: %w", err)
		}
	}
	if ep := strings.TrimSpace(c.Signal.ProfileEndpoint); ep != "" {
		if err := validateHTTPURL(ep); err != nil {
			return fmt.Errorf("signal.profile_endpoint: %w", err)
		}
	}

	// Call
	if c.Call.VideoMaxWidth <= 0 || c.Call.VideoMaxHeight <= 0 {
		return errors.New("call.video_max_width and call.video_max_height must be > 0")
	}
	if c.Call.ConnectedGraceMs < 0 {
		return errors.New("call.connected_grace_ms must be >= 0")
	}

	// Gesture
	if c.Gesture.Stability <= 0 {
		return errors.New("gesture.stability must be > 0")
	}
	if c.Gesture.GraceFrames < 0 {
		return errors.New("gesture.grace_frames must be >= 0")
	}
	if c.Gesture.CooldownMs <= 0 {
		return errors.New("gesture.cooldown_ms must be > 0")
	}

	// Viewer
	if strings.TrimSpace(c.Viewer.HTTPAddr) == "" {
		return errors.New("viewer.http_addr is required")
	}

	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %v", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return errors.New("scheme must be http or https")
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	// Strip UTF-8 BOM if present (common when editing JSON on Windows).
	b = stripBOM(b)

	// Start from defaults so missing JSON fields remain initialized.
	cfg := Default()
	if err := json.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// stripBOM removes a UTF-8 byte order mark if present.
func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		return b[3:]
	}
	return b
}

func Save(path string, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	return util.WriteJSONFile(path, cfg)
}

// Ensure loads config if it exists; otherwise creates a default config file.
// Returns (cfg, createdNew, err).
func Ensure(path string) (Config, bool, error) {
	if _, err := os.Stat(path); err == nil {
		cfg, err := Load(path)
		return cfg, false, err
	} else if !os.IsNotExist(err) {
		return Config{}, false, err
	}

	cfg := Default()
	if err := Save(path, cfg); err != nil {
		return Config{}, false, fmt.Errorf("create default config: %w", err)
	}
	return cfg, true, nil
}
