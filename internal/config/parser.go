package config

import (
	"strings"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
)

// Raw* structs mirror the on-disk file formats. Every field is a pointer so
// that an absent key keeps its compiled default instead of zeroing it.

type RawServerConfig struct {
	Port       *int    `yaml:"port" json:"port"`
	PublicIP   *string `yaml:"publicIp" json:"publicIp"`
	TLSCrtFile *string `yaml:"tlsCrtFile" json:"tlsCrtFile"`
	TLSKeyFile *string `yaml:"tlsKeyFile" json:"tlsKeyFile"`
}

func (r RawServerConfig) ToDomain() ServerConfig {
	var cfg ServerConfig
	if r.Port != nil {
		cfg.Port = *r.Port
	}
	if r.PublicIP != nil {
		cfg.PublicIP = *r.PublicIP
	}
	cfg.TLSCrtFile = r.TLSCrtFile
	cfg.TLSKeyFile = r.TLSKeyFile
	return cfg
}

type RawWebRTCConfig struct {
	PortMin              *uint16                   `yaml:"portMin" json:"portMin"`
	PortMax              *uint16                   `yaml:"portMax" json:"portMax"`
	PeerConnectionConfig *api.PeerConnectionConfig `yaml:"peerConnectionConfig" json:"peerConnectionConfig"`
	Codecs               *[]RawCodec               `yaml:"codecs" json:"codecs"`
	DisableAudio         *bool                     `yaml:"disableAudio" json:"disableAudio"`
}

type RawCodec struct {
	Params struct {
		MimeType    string `json:"mimeType" yaml:"mimeType"`
		ClockRate   uint32 `json:"clockRate" yaml:"clockRate"`
		PayloadType uint8  `json:"payloadType" yaml:"payloadType"`
		Channels    uint16 `json:"channels" yaml:"channels"`
	} `json:"params" yaml:"params"`
	Type string `json:"type" yaml:"type"`
}

func (r RawWebRTCConfig) ToDomain() WebRTCConfig {
	var cfg WebRTCConfig
	if r.PortMin != nil {
		cfg.PortMin = *r.PortMin
	}
	if r.PortMax != nil {
		cfg.PortMax = *r.PortMax
	}
	if r.PeerConnectionConfig != nil {
		cfg.PeerConnectionConfig = *r.PeerConnectionConfig
	}
	if r.Codecs != nil {
		cfg.Codecs = parseCodecs(*r.Codecs)
	}
	if r.DisableAudio != nil {
		cfg.DisableAudio = *r.DisableAudio
	}
	return cfg
}

// RawSessionConfig carries waits as milliseconds.
type RawSessionConfig struct {
	ICEGatherTimeoutMs *int `yaml:"iceGatherTimeoutMs" json:"iceGatherTimeoutMs"`
	TrackTimeoutMs     *int `yaml:"trackTimeoutMs" json:"trackTimeoutMs"`
	RelayWaitTimeoutMs *int `yaml:"relayWaitTimeoutMs" json:"relayWaitTimeoutMs"`
	RoomTTLMs          *int `yaml:"roomTTLMs" json:"roomTTLMs"`
	SweepIntervalMs    *int `yaml:"sweepIntervalMs" json:"sweepIntervalMs"`
}

func (r RawSessionConfig) ToDomain() SessionConfig {
	var cfg SessionConfig
	if r.ICEGatherTimeoutMs != nil {
		cfg.ICEGatherTimeout = time.Duration(*r.ICEGatherTimeoutMs) * time.Millisecond
	}
	if r.TrackTimeoutMs != nil {
		cfg.TrackTimeout = time.Duration(*r.TrackTimeoutMs) * time.Millisecond
	}
	if r.RelayWaitTimeoutMs != nil {
		cfg.RelayWaitTimeout = time.Duration(*r.RelayWaitTimeoutMs) * time.Millisecond
	}
	if r.RoomTTLMs != nil {
		cfg.RoomTTL = time.Duration(*r.RoomTTLMs) * time.Millisecond
	}
	if r.SweepIntervalMs != nil {
		cfg.SweepInterval = time.Duration(*r.SweepIntervalMs) * time.Millisecond
	}
	return cfg
}

func parseCodecs(rawCodecs []RawCodec) []Codec {
	result := make([]Codec, 0, len(rawCodecs))

	for _, rawCodec := range rawCodecs {
		capability := webrtc.RTPCodecCapability{
			MimeType:  rawCodec.Params.MimeType,
			ClockRate: rawCodec.Params.ClockRate,
			Channels:  rawCodec.Params.Channels,
		}

		if strings.HasPrefix(strings.ToLower(rawCodec.Params.MimeType), "video/") {
			capability.RTCPFeedback = []webrtc.RTCPFeedback{
				{Type: "nack"},
				{Type: "nack", Parameter: "pli"},
				{Type: "ccm", Parameter: "fir"},
				{Type: "goog-remb"},
			}
		}

		result = append(result, Codec{
			Params: webrtc.RTPCodecParameters{
				RTPCodecCapability: capability,
				PayloadType:        webrtc.PayloadType(rawCodec.Params.PayloadType),
			},
			Type: webrtc.NewRTPCodecType(rawCodec.Type),
		})
	}

	return result
}
