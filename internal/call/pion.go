package call

import (
	"fmt"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// EnginePopulator lets a capturer register the codecs its tracks produce.
// The linux mediadevices capturer populates VP8+Opus; without one the
// default codec set is registered.
type EnginePopulator interface {
	Populate(me *webrtc.MediaEngine) error
}

// NewPionFactory builds the production ConnFactory. caps is the optional
// enhancement layer; the zero value is a fully valid bypass.
func NewPionFactory(caps Capabilities, pop EnginePopulator) ConnFactory {
	return func(servers []webrtc.ICEServer) (Conn, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if pop != nil {
			if err := pop.Populate(mediaEngine); err != nil {
				return nil, fmt.Errorf("populate media engine: %w", err)
			}
		} else if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, fmt.Errorf("register codecs: %w", err)
		}

		registry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
			return nil, fmt.Errorf("register interceptors: %w", err)
		}

		se := webrtc.SettingEngine{}
		caps.applySettings(&se)

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		)

		pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, fmt.Errorf("new peer connection: %w", err)
		}
		return &pionConn{pc: pc}, nil
	}
}

// pionConn adapts *webrtc.PeerConnection to the Conn interface.
type pionConn struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	hasLocal  bool
	recvAdded bool
}

// nativeTrack is implemented by local tracks that can attach to pion.
type nativeTrack interface {
	Native() webrtc.TrackLocal
}

func (c *pionConn) AddTrack(t Track) error {
	nt, ok := t.(nativeTrack)
	if !ok {
		return fmt.Errorf("track %s cannot attach to a native connection", t.ID())
	}
	if _, err := c.pc.AddTrack(nt.Native()); err != nil {
		return err
	}
	c.mu.Lock()
	c.hasLocal = true
	c.mu.Unlock()
	return nil
}

// ensureRecvOnly adds recvonly transceivers when no local track was
// attached, so CreateOffer/CreateAnswer always produces valid m-lines with
// ICE credentials.
func (c *pionConn) ensureRecvOnly() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hasLocal || c.recvAdded {
		return
	}
	c.recvAdded = true
	for _, kind := range []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo} {
		if _, err := c.pc.AddTransceiverFromKind(kind, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Warnf("AddTransceiver(%s): %v", kind, err)
		}
	}
}

func (c *pionConn) CreateOffer() (webrtc.SessionDescription, error) {
	c.ensureRecvOnly()
	return c.pc.CreateOffer(nil)
}

func (c *pionConn) CreateAnswer() (webrtc.SessionDescription, error) {
	c.ensureRecvOnly()
	return c.pc.CreateAnswer(nil)
}

func (c *pionConn) SetLocalDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(desc)
}

func (c *pionConn) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(desc)
}

func (c *pionConn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(cand)
}

func (c *pionConn) OnICECandidate(fn func(cand *webrtc.ICECandidateInit)) {
	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			fn(nil)
			return
		}
		init := cand.ToJSON()
		fn(&init)
	})
}

func (c *pionConn) OnTrack(fn func(t RemoteTrack)) {
	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		fn(newRemoteSink(c.pc, track))
	})
}

func (c *pionConn) OnStateChange(fn func(s LinkState)) {
	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		fn(mapPeerState(s))
	})
}

func (c *pionConn) Close() error {
	return c.pc.Close()
}

func mapPeerState(s webrtc.PeerConnectionState) LinkState {
	switch s {
	case webrtc.PeerConnectionStateNew:
		return LinkNew
	case webrtc.PeerConnectionStateConnecting:
		return LinkConnecting
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return LinkFailed
	default:
		return LinkClosed
	}
}
