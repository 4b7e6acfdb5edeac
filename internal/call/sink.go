package call

import (
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

// pliInterval is how often a keyframe is requested for remote video. Without
// periodic PLIs a receiver that missed the first keyframe shows nothing
// until the sender happens to produce one.
const pliInterval = 3 * time.Second

// remoteSink drains RTP from one remote track and keeps simple counters.
// The drain loop must run for the track's whole life: an unread track stalls
// the srtp session's internal buffers.
type remoteSink struct {
	track   *webrtc.TrackRemote
	packets atomic.Uint64
	bytes   atomic.Uint64
	done    chan struct{}
}

func newRemoteSink(pc *webrtc.PeerConnection, track *webrtc.TrackRemote) *remoteSink {
	s := &remoteSink{track: track, done: make(chan struct{})}
	go s.drain()
	if track.Kind() == webrtc.RTPCodecTypeVideo {
		go s.requestKeyframes(pc)
	}
	return s
}

func (s *remoteSink) ID() string { return s.track.ID() }

func (s *remoteSink) Kind() TrackKind {
	if s.track.Kind() == webrtc.RTPCodecTypeVideo {
		return TrackVideo
	}
	return TrackAudio
}

func (s *remoteSink) Stats() (packets, bytes uint64) {
	return s.packets.Load(), s.bytes.Load()
}

func (s *remoteSink) drain() {
	defer close(s.done)
	for {
		var pkt *rtp.Packet
		pkt, _, err := s.track.ReadRTP()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.Debugf("remote %s track %s closed: %v", s.Kind(), s.track.ID(), err)
			}
			return
		}
		s.packets.Add(1)
		s.bytes.Add(uint64(len(pkt.Payload)))
	}
}

// requestKeyframes sends a PLI for this track's SSRC until the track ends.
func (s *remoteSink) requestKeyframes(pc *webrtc.PeerConnection) {
	ticker := time.NewTicker(pliInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			err := pc.WriteRTCP([]rtcp.Packet{
				&rtcp.PictureLossIndication{MediaSSRC: uint32(s.track.SSRC())},
			})
			if err != nil {
				return
			}
		}
	}
}
