// Package sfu holds the WebRTC machinery the room registry builds on: a
// configured webrtc.API, the per-track fan-out that relays one broadcaster
// leg to many viewer legs, and the RTCP feedback path back to the source.
package sfu

import (
	"fmt"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/intervalpli"
	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/config"
	"github.com/clearspan/screenroom/internal/metrics"
)

// Engine wraps a webrtc.API configured with the relay's codecs and
// interceptors. One engine serves every peer connection in the process.
type Engine struct {
	api          *webrtc.API
	conf         webrtc.Configuration
	audioEnabled bool
}

// NewEngine builds the WebRTC API: registers the configured codecs on a
// media engine, installs the default interceptors plus an interval PLI
// interceptor so broadcasters keep producing keyframes for late-joining
// viewers, and applies NAT/port-range settings.
func NewEngine(cfg *config.WebRTCConfig, publicIP string) (*Engine, error) {
	mediaEngine := &webrtc.MediaEngine{}
	for _, codec := range cfg.Codecs {
		if err := mediaEngine.RegisterCodec(codec.Params, codec.Type); err != nil {
			return nil, fmt.Errorf("failed to register codec %s: %w", codec.Params.MimeType, err)
		}
	}

	interceptorRegistry := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, interceptorRegistry); err != nil {
		return nil, fmt.Errorf("failed to register default interceptors: %w", err)
	}

	pliFactory, err := intervalpli.NewReceiverInterceptor()
	if err != nil {
		return nil, fmt.Errorf("failed to create PLI interceptor: %w", err)
	}
	interceptorRegistry.Add(pliFactory)

	se := webrtc.SettingEngine{}
	if len(cfg.PeerConnectionConfig.ICEServers) == 0 && publicIP != "" {
		se.SetNAT1To1IPs([]string{publicIP}, webrtc.ICECandidateTypeHost)
	}
	if cfg.PortMin > 0 && cfg.PortMax > 0 {
		if err := se.SetEphemeralUDPPortRange(cfg.PortMin, cfg.PortMax); err != nil {
			return nil, fmt.Errorf("failed to set WebRTC port range: %w", err)
		}
	}

	return &Engine{
		api: webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(interceptorRegistry),
			webrtc.WithSettingEngine(se),
		),
		conf:         cfg.PeerConnectionConfig.WebrtcConfiguration(),
		audioEnabled: !cfg.DisableAudio,
	}, nil
}

// AudioEnabled reports whether broadcaster legs negotiate an audio track
// next to the screen video.
func (e *Engine) AudioEnabled() bool {
	return e.audioEnabled
}

// NewPeerConnection creates a peer connection for the given role and wires
// the role's connection metrics.
func (e *Engine) NewPeerConnection(role string) (*webrtc.PeerConnection, error) {
	pc, err := e.api.NewPeerConnection(e.conf)
	if err != nil {
		metrics.PeerConnectionFailuresTotal.WithLabelValues(role + "_creation_failed").Inc()
		return nil, err
	}

	metrics.ActivePeerConnections.WithLabelValues(role).Inc()
	metrics.PeerConnectionsCreatedTotal.WithLabelValues(role).Inc()

	pc.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate != nil {
			metrics.ICECandidatesTotal.WithLabelValues(candidate.Typ.String()).Inc()
		}
	})

	return pc, nil
}
