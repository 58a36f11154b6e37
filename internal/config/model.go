package config

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
)

// AppConfig is the full relay configuration, assembled from compiled
// defaults overlaid with whatever config files are present.
type AppConfig struct {
	Server  ServerConfig  `json:"server" yaml:"server"`
	WebRTC  WebRTCConfig  `json:"webrtc" yaml:"webrtc"`
	Session SessionConfig `json:"session" yaml:"session"`
}

type ServerConfig struct {
	// Port is the TCP port the HTTP signaling server listens on.
	Port int `json:"port" yaml:"port"`

	// PublicIP, when set and no ICE servers are configured, is advertised
	// as a NAT 1:1 mapped host candidate.
	PublicIP string `json:"publicIp" yaml:"publicIp"`

	TLSCrtFile *string `json:"tlsCrtFile" yaml:"tlsCrtFile"`
	TLSKeyFile *string `json:"tlsKeyFile" yaml:"tlsKeyFile"`
}

type WebRTCConfig struct {
	// PortMin/PortMax bound the ephemeral UDP range used for media.
	// Zero means any available port.
	PortMin uint16 `json:"portMin" yaml:"portMin"`
	PortMax uint16 `json:"portMax" yaml:"portMax"`

	PeerConnectionConfig api.PeerConnectionConfig `json:"peerConnectionConfig" yaml:"peerConnectionConfig"`

	Codecs []Codec `json:"codecs" yaml:"codecs"`

	// DisableAudio drops the audio transceiver from broadcaster legs.
	// Screen shares are video-only in practice; audio is opt-in.
	DisableAudio bool `json:"disableAudio" yaml:"disableAudio"`
}

// SessionConfig bounds the waits in the negotiation and room lifecycle.
// Raw files carry these as milliseconds.
type SessionConfig struct {
	// ICEGatherTimeout caps how long an answer or offer blocks on local
	// candidate gathering before proceeding with partial candidates.
	ICEGatherTimeout time.Duration `json:"iceGatherTimeout" yaml:"iceGatherTimeout"`

	// TrackTimeout caps a viewer's wait for the first inbound media track.
	TrackTimeout time.Duration `json:"trackTimeout" yaml:"trackTimeout"`

	// RelayWaitTimeout caps how long a subscribe waits for a freshly
	// published broadcaster to deliver its first track to the relay.
	RelayWaitTimeout time.Duration `json:"relayWaitTimeout" yaml:"relayWaitTimeout"`

	// RoomTTL is how long an empty room survives before the sweeper
	// deletes it, keeping its id reusable in the meantime.
	RoomTTL time.Duration `json:"roomTTL" yaml:"roomTTL"`

	// SweepInterval is how often the registry scans for expired rooms.
	SweepInterval time.Duration `json:"sweepInterval" yaml:"sweepInterval"`
}

type Codec struct {
	Params webrtc.RTPCodecParameters `json:"params"`
	Type   webrtc.RTPCodecType       `json:"type"`
}

func DefaultAppConfig() AppConfig {
	return AppConfig{
		Server: ServerConfig{
			Port:     37003,
			PublicIP: "",
		},
		WebRTC: WebRTCConfig{
			PortMin:              10000,
			PortMax:              20000,
			PeerConnectionConfig: api.DefaultPeerConnectionConfig(),
			Codecs:               DefaultCodecs(),
			DisableAudio:         true,
		},
		Session: SessionConfig{
			ICEGatherTimeout: 5 * time.Second,
			TrackTimeout:     10 * time.Second,
			RelayWaitTimeout: 10 * time.Second,
			RoomTTL:          10 * time.Minute,
			SweepInterval:    time.Minute,
		},
	}
}

func DefaultCodecs() []Codec {
	return []Codec{
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  webrtc.MimeTypeVP8,
					ClockRate: 90000,
					Channels:  0,
					RTCPFeedback: []webrtc.RTCPFeedback{
						{Type: "nack"},
						{Type: "nack", Parameter: "pli"},
						{Type: "ccm", Parameter: "fir"},
						{Type: "goog-remb"},
					},
				},
				PayloadType: 96,
			},
			Type: webrtc.RTPCodecTypeVideo,
		},
		{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: webrtc.RTPCodecCapability{
					MimeType:  webrtc.MimeTypeOpus,
					ClockRate: 48000,
					Channels:  2,
				},
				PayloadType: 111,
			},
			Type: webrtc.RTPCodecTypeAudio,
		},
	}
}

// Option mutates an AppConfig during construction.
type Option func(*AppConfig)

func WithServerPort(port int) Option {
	return func(c *AppConfig) { c.Server.Port = port }
}

func WithPublicIP(ip string) Option {
	return func(c *AppConfig) { c.Server.PublicIP = ip }
}

func WithTLS(crtFile, keyFile string) Option {
	return func(c *AppConfig) {
		c.Server.TLSCrtFile = &crtFile
		c.Server.TLSKeyFile = &keyFile
	}
}

func WithPeerConnectionConfig(pc api.PeerConnectionConfig) Option {
	return func(c *AppConfig) { c.WebRTC.PeerConnectionConfig = pc }
}

func WithWebRTCPortRange(min, max uint16) Option {
	return func(c *AppConfig) {
		c.WebRTC.PortMin = min
		c.WebRTC.PortMax = max
	}
}

func WithCodecs(codecs []Codec) Option {
	return func(c *AppConfig) { c.WebRTC.Codecs = codecs }
}

func WithDisableAudio(disable bool) Option {
	return func(c *AppConfig) { c.WebRTC.DisableAudio = disable }
}

func WithICEGatherTimeout(d time.Duration) Option {
	return func(c *AppConfig) { c.Session.ICEGatherTimeout = d }
}

func WithTrackTimeout(d time.Duration) Option {
	return func(c *AppConfig) { c.Session.TrackTimeout = d }
}

func WithRoomTTL(d time.Duration) Option {
	return func(c *AppConfig) { c.Session.RoomTTL = d }
}

func NewAppConfig(opts ...Option) AppConfig {
	cfg := DefaultAppConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
