//go:build !linux

package call

import (
	"context"

	"github.com/pion/webrtc/v4"
)

func probeHardwareEncode() bool { return false }

// DeviceCapturer on non-Linux platforms yields no local tracks: camera/mic
// capture via pion/mediadevices needs platform drivers (V4L2/malgo) that are
// only wired up on Linux. Sessions proceed receive-only — the connection
// layer adds recvonly transceivers when no local track is attached.
type DeviceCapturer struct{}

func NewDeviceCapturer(_, _ int) (*DeviceCapturer, error) {
	return &DeviceCapturer{}, nil
}

func (c *DeviceCapturer) Populate(me *webrtc.MediaEngine) error {
	return me.RegisterDefaultCodecs()
}

func (c *DeviceCapturer) Acquire(_ context.Context, _ bool) (*LocalMedia, error) {
	log.Warnf("no native capture on this platform — proceeding receive-only")
	return NewLocalMedia(nil), nil
}
