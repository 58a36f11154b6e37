package session

import (
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
)

// peerConn is the slice of a WebRTC peer connection the session machine
// drives. Abstracting it keeps the machine testable without sockets; the
// pion adapter below is the only production implementation.
type peerConn interface {
	CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error)
	SetLocalDescription(desc webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	SetRemoteDescription(desc webrtc.SessionDescription) error
	AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error)
	AddRecvonlyVideoTransceiver() error
	OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver))
	ICEGatheringState() webrtc.ICEGatheringState
	OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState))
	CandidateCount() int
	Close() error
}

// PeerFactory builds a fresh peer connection for each session attempt.
type PeerFactory func() (peerConn, error)

// PionPeerFactory returns a factory producing real pion peer connections
// configured with the given ICE servers.
func PionPeerFactory(conf api.PeerConnectionConfig) PeerFactory {
	webrtcConf := conf.WebrtcConfiguration()
	return func() (peerConn, error) {
		pc, err := webrtc.NewPeerConnection(webrtcConf)
		if err != nil {
			return nil, err
		}
		p := &pionPeer{pc: pc}
		pc.OnICECandidate(func(c *webrtc.ICECandidate) {
			if c != nil {
				p.candidates.Add(1)
			}
		})
		return p, nil
	}
}

type pionPeer struct {
	pc         *webrtc.PeerConnection
	candidates atomic.Int64
}

func (p *pionPeer) CreateOffer(options *webrtc.OfferOptions) (webrtc.SessionDescription, error) {
	return p.pc.CreateOffer(options)
}

func (p *pionPeer) SetLocalDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetLocalDescription(desc)
}

func (p *pionPeer) LocalDescription() *webrtc.SessionDescription {
	return p.pc.LocalDescription()
}

func (p *pionPeer) SetRemoteDescription(desc webrtc.SessionDescription) error {
	return p.pc.SetRemoteDescription(desc)
}

func (p *pionPeer) AddTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return p.pc.AddTrack(track)
}

func (p *pionPeer) AddRecvonlyVideoTransceiver() error {
	_, err := p.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
		webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly})
	return err
}

func (p *pionPeer) OnTrack(fn func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.pc.OnTrack(fn)
}

func (p *pionPeer) ICEGatheringState() webrtc.ICEGatheringState {
	return p.pc.ICEGatheringState()
}

func (p *pionPeer) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	p.pc.OnICEGatheringStateChange(fn)
}

func (p *pionPeer) CandidateCount() int {
	return int(p.candidates.Load())
}

func (p *pionPeer) Close() error {
	return p.pc.Close()
}
