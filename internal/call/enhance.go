package call

import (
	"os"
	"time"

	"github.com/pion/webrtc/v4"
)

// Capabilities is the optional enhancement layer: best-effort tuning probed
// at startup and applied as a decorator over the native connection setup.
// The zero value bypasses every enhancement with no change to core call
// behaviour — absence of an enhancement must never alter setup logic.
type Capabilities struct {
	// HardwareEncode prefers a platform encoder when the capture driver
	// exposes one. Advisory: the capturer decides what it can honour.
	HardwareEncode bool

	// LowLatency shortens ICE failure timeouts for networks known to be
	// stable (e.g. LAN demos). Off by default: relay paths can have short
	// outages during re-keying or failover, and the generous defaults let
	// ICE recover without the user noticing a freeze.
	LowLatency bool
}

// DetectCapabilities probes the environment. Probing is deliberately
// conservative; anything uncertain stays off.
func DetectCapabilities() Capabilities {
	var caps Capabilities
	caps.HardwareEncode = probeHardwareEncode()
	if os.Getenv("CALLCORE_LOW_LATENCY") == "1" {
		caps.LowLatency = true
	}
	return caps
}

// applySettings tunes the pion SettingEngine. Called for every connection,
// enhanced or not, so the defaults live in one place.
func (c Capabilities) applySettings(se *webrtc.SettingEngine) {
	if c.LowLatency {
		se.SetICETimeouts(10*time.Second, 60*time.Second, 1*time.Second)
		return
	}
	// Generous ICE timeouts so a brief relay/NAT hiccup does not
	// immediately terminate the call. The default disconnectedTimeout of
	// 5s is far too short for relay paths.
	se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)
}
