// Package app wires the whole engine together: p2p node, signaling
// transport, call service, gesture detector and the local control API.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"go.uber.org/zap/zapcore"

	"github.com/sangam-app/callcore/internal/call"
	"github.com/sangam-app/callcore/internal/config"
	"github.com/sangam-app/callcore/internal/gesture"
	"github.com/sangam-app/callcore/internal/p2p"
	"github.com/sangam-app/callcore/internal/profile"
	"github.com/sangam-app/callcore/internal/signal"
	"github.com/sangam-app/callcore/internal/util"
	"github.com/sangam-app/callcore/internal/viewer"
)

var log = logging.Logger("app")

type Options struct {
	// DataDir anchors all relative paths from the config.
	DataDir string
	CfgPath string
	Cfg     config.Config
}

// Run starts everything and blocks until ctx is cancelled or the control
// API fails.
func Run(ctx context.Context, opt Options) error {
	cfg := opt.Cfg

	logBuf := viewer.NewLogBuffer(800)
	setupLogging(cfg.Viewer.Debug, logBuf)

	// ── p2p node + signaling
	keyFile := util.ResolvePath(opt.DataDir, cfg.Identity.KeyFile)
	node, err := p2p.New(ctx, cfg.P2P.ListenPort, keyFile, cfg.P2P.MdnsTag)
	if err != nil {
		return fmt.Errorf("start p2p node: %w", err)
	}
	defer node.Close()
	log.Infof("peer ID: %s", node.ID())

	tran := signal.NewTransport(node, node.ID())
	ice := signal.NewResolver(cfg.Signal.IceEndpoint, time.Duration(cfg.Signal.IceTTLSec)*time.Second)
	defer ice.Stop()

	// ── media + peer connections
	caps := call.DetectCapabilities()
	log.Infof("capabilities: hardware_encode=%v low_latency=%v", caps.HardwareEncode, caps.LowLatency)

	capturer, err := call.NewDeviceCapturer(cfg.Call.VideoMaxWidth, cfg.Call.VideoMaxHeight)
	if err != nil {
		return fmt.Errorf("init capture: %w", err)
	}
	factory := call.NewPionFactory(caps, capturer)

	// ── profile directory (optional)
	var profiles profile.Source
	if cfg.Signal.ProfileEndpoint != "" {
		store, err := profile.OpenStore(
			util.ResolvePath(opt.DataDir, cfg.Signal.ProfileCacheDir),
			profile.NewHTTPSource(cfg.Signal.ProfileEndpoint),
			24*time.Hour,
		)
		if err != nil {
			return fmt.Errorf("open profile cache: %w", err)
		}
		defer store.Close()
		profiles = store
	}

	// ── event fan-out to the UI
	hub := viewer.NewHub()
	notify := call.Notify{
		State: func(callID string, s call.State) {
			hub.Broadcast(viewer.Event{Type: "call-state", CallID: callID, State: string(s)})
		},
		Participants: func(callID string, roster []call.Participant) {
			hub.Broadcast(viewer.Event{Type: "participants", CallID: callID, Participants: roster})
		},
		Error: func(callID string, kind call.ErrorKind, msg string) {
			hub.Broadcast(viewer.Event{Type: "call-error", CallID: callID, ErrorKind: string(kind), ErrorMsg: msg})
		},
	}

	svc := call.NewService(call.ServiceConfig{
		Transport:      tran,
		Factory:        factory,
		Ice:            ice,
		Capturer:       capturer,
		Profiles:       profiles,
		Notify:         notify,
		ConnectedGrace: time.Duration(cfg.Call.ConnectedGraceMs) * time.Millisecond,
	})
	defer svc.Close()

	// ── gesture capture
	fsm := gesture.New(gesture.Config{
		Stability:   cfg.Gesture.Stability,
		GraceFrames: cfg.Gesture.GraceFrames,
		Cooldown:    time.Duration(cfg.Gesture.CooldownMs) * time.Millisecond,
		OnState: func(s gesture.State) {
			hub.Broadcast(viewer.Event{Type: "gesture-state", State: string(s)})
		},
		OnCapture: func() {
			hub.Broadcast(viewer.Event{Type: "gesture-capture"})
		},
	})

	// ── config hot reload: only the ICE endpoint is live-swappable; the
	// rest applies on restart.
	if opt.CfgPath != "" {
		watcher, err := config.Watch(opt.CfgPath, func(ncfg config.Config) {
			ice.SetEndpoint(ncfg.Signal.IceEndpoint)
		})
		if err != nil {
			log.Warnf("config watch disabled: %v", err)
		} else {
			defer watcher.Close()
		}
	}

	v := &viewer.Viewer{
		Node:     node,
		Calls:    svc,
		Gestures: fsm,
		Hub:      hub,
		Logs:     logBuf,
		SelfID:   node.ID(),
		Debug:    cfg.Viewer.Debug,
	}
	return viewer.Start(ctx, cfg.Viewer.HTTPAddr, v)
}

// setupLogging tees log output to stderr and the in-memory buffer behind
// /api/logs.
func setupLogging(debug bool, buf *viewer.LogBuffer) {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}

	encCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	enc := zapcore.NewConsoleEncoder(encCfg)

	logging.SetPrimaryCore(zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.AddSync(os.Stderr), level),
		zapcore.NewCore(enc, zapcore.AddSync(buf), level),
	))
}
