//go:build linux

package call

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// probeHardwareEncode reports whether a platform encoder should be
// preferred. V4L2 hardware encode support varies wildly; opt-in only.
func probeHardwareEncode() bool {
	return os.Getenv("CALLCORE_HW_ENCODE") == "1"
}

// DeviceCapturer acquires camera/mic via pion/mediadevices (V4L2 + malgo).
// One capturer serves all sessions; each Acquire opens fresh tracks.
type DeviceCapturer struct {
	maxWidth  int
	maxHeight int
	selector  *mediadevices.CodecSelector
}

// NewDeviceCapturer builds the VP8+Opus codec selector. Resolution caps keep
// encoding latency predictable on low-end cameras.
func NewDeviceCapturer(maxWidth, maxHeight int) (*DeviceCapturer, error) {
	if maxWidth <= 0 {
		maxWidth = 640
	}
	if maxHeight <= 0 {
		maxHeight = 480
	}

	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, fmt.Errorf("vp8 params: %w", err)
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("opus params: %w", err)
	}

	return &DeviceCapturer{
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		selector: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		),
	}, nil
}

// Populate registers the capturer's codecs on the connection media engine.
func (c *DeviceCapturer) Populate(me *webrtc.MediaEngine) error {
	c.selector.Populate(me)
	return nil
}

// Acquire opens local media. GetUserMedia fails as a unit if either track
// can't be opened, so attempts degrade: video+audio, then video-only, then
// audio-only. A missing or busy microphone must not prevent the camera from
// working and vice versa. When every attempt fails the error is
// session-fatal — the caller surfaces it, never retries silently.
func (c *DeviceCapturer) Acquire(_ context.Context, withVideo bool) (*LocalMedia, error) {
	type attempt struct {
		video bool
		audio bool
		label string
	}
	attempts := []attempt{{false, true, "audio-only"}}
	if withVideo {
		attempts = []attempt{
			{true, true, "video+audio"},
			{true, false, "video-only"},
			{false, true, "audio-only"},
		}
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: c.selector}
		if a.video {
			constraints.Video = func(mt *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG V4L2 node
				// producing malformed JPEG frames that poison the VP8
				// encoder. Raw formats only.
				mt.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				mt.Width = prop.IntRanged{Max: c.maxWidth}
				mt.Height = prop.IntRanged{Max: c.maxHeight}
			}
		}
		if a.audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Warnf("GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		raw := stream.GetTracks()
		tracks := make([]Track, 0, len(raw))
		for _, t := range raw {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Warnf("local track ended: %v", err)
				}
			})
			tracks = append(tracks, newDeviceTrack(t))
		}
		log.Infof("local media captured (%s) — %d tracks", a.label, len(tracks))
		return NewLocalMedia(tracks), nil
	}

	return nil, fmt.Errorf("%w: %v", ErrMediaAcquisition, lastErr)
}

// deviceTrack wraps a mediadevices capture track. Enablement is a local
// flag: mediadevices has no per-track mute, so a disabled track keeps
// encoding but the flag drives the UI and status reporting.
type deviceTrack struct {
	t       mediadevices.Track
	kind    TrackKind
	enabled atomic.Bool
}

func newDeviceTrack(t mediadevices.Track) *deviceTrack {
	kind := TrackAudio
	if t.Kind() == webrtc.RTPCodecTypeVideo {
		kind = TrackVideo
	}
	dt := &deviceTrack{t: t, kind: kind}
	dt.enabled.Store(true)
	return dt
}

func (d *deviceTrack) ID() string                  { return d.t.ID() }
func (d *deviceTrack) Kind() TrackKind             { return d.kind }
func (d *deviceTrack) SetEnabled(on bool)          { d.enabled.Store(on) }
func (d *deviceTrack) Enabled() bool               { return d.enabled.Load() }
func (d *deviceTrack) Stop() error                 { return d.t.Close() }
func (d *deviceTrack) Native() webrtc.TrackLocal   { return d.t }
