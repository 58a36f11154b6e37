// Package api defines the wire types shared by the screenroom relay server
// and its clients: the JSON bodies of the signaling operations, the registry
// error codes, and the room lifecycle events pushed over the events socket.
package api

import "github.com/pion/webrtc/v4"

// Role identifies which side of a room a peer is on.
type Role string

const (
	RoleBroadcaster Role = "broadcaster"
	RoleViewer      Role = "viewer"
)

// ErrorCode is a machine-readable failure reason carried in signaling
// responses. Codes are stable; human-readable detail goes next to them.
type ErrorCode string

const (
	// ErrorCodeRoomBusy means a live broadcaster already owns the room.
	ErrorCodeRoomBusy ErrorCode = "RoomBusy"

	// ErrorCodeNoBroadcaster means the room exists but has no active publisher.
	ErrorCodeNoBroadcaster ErrorCode = "NoBroadcaster"

	// ErrorCodeRoomNotFound means the room id names no known room.
	ErrorCodeRoomNotFound ErrorCode = "RoomNotFound"

	// ErrorCodeBadSDP means the request carried a missing or unparseable
	// session description and never reached the registry.
	ErrorCodeBadSDP ErrorCode = "BadSDP"

	// ErrorCodeInternal covers negotiation failures on the relay side.
	ErrorCodeInternal ErrorCode = "Internal"
)

// CreateRoomRequest asks the registry for a room. RoomID is optional; when
// present and not claimed by a live broadcaster it is reused verbatim.
type CreateRoomRequest struct {
	RoomID string `json:"roomId,omitempty"`
}

type CreateRoomResponse struct {
	Success bool      `json:"success"`
	RoomID  string    `json:"roomId,omitempty"`
	Error   ErrorCode `json:"error,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

// SDPExchange carries one half of an offer/answer pair. Offers submitted to
// publish/subscribe are candidate-complete: trickle ICE is not part of the
// protocol, the SDP already contains every gathered candidate.
type SDPExchange struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// SignalResponse answers a publish or subscribe request. PeerID identifies
// the registered peer descriptor and is what release expects back.
type SignalResponse struct {
	Success bool      `json:"success"`
	SDP     string    `json:"sdp,omitempty"`
	Type    string    `json:"type,omitempty"`
	PeerID  string    `json:"peerId,omitempty"`
	Error   ErrorCode `json:"error,omitempty"`
	Detail  string    `json:"detail,omitempty"`
}

type ReleaseResponse struct {
	Success bool `json:"success"`
}

// RoomStatus is the point-in-time view of a room returned by the status
// endpoint.
type RoomStatus struct {
	Exists         bool   `json:"exists"`
	State          string `json:"state,omitempty"`
	HasBroadcaster bool   `json:"hasBroadcaster"`
	ViewerCount    int    `json:"viewerCount"`
}

// RoomEventType enumerates the lifecycle transitions published to event
// subscribers.
type RoomEventType string

const (
	// RoomEventPublishing fires when a broadcaster commits its SDP exchange.
	RoomEventPublishing RoomEventType = "publishing"

	// RoomEventViewerJoined fires for every successful subscribe.
	RoomEventViewerJoined RoomEventType = "viewer_joined"

	// RoomEventViewerLeft fires when a viewer leg is released.
	RoomEventViewerLeft RoomEventType = "viewer_left"

	// RoomEventClosed fires when the broadcaster leaves; viewers receiving
	// it should tear down instead of waiting for their media timeout.
	RoomEventClosed RoomEventType = "closed"
)

type RoomEvent struct {
	Event       RoomEventType `json:"event"`
	RoomID      string        `json:"roomId"`
	ViewerCount int           `json:"viewerCount"`
}

// ICEServer is the serializable form of a STUN/TURN server entry.
type ICEServer struct {
	URLs       []string `json:"urls" yaml:"urls"`
	Username   string   `json:"username,omitempty" yaml:"username,omitempty"`
	Credential string   `json:"credential,omitempty" yaml:"credential,omitempty"`
}

// PeerConnectionConfig is the subset of RTCConfiguration the relay uses for
// its own peer connections.
type PeerConnectionConfig struct {
	ICEServers []ICEServer `json:"iceServers" yaml:"iceServers"`
}

func DefaultPeerConnectionConfig() PeerConnectionConfig {
	return PeerConnectionConfig{
		ICEServers: []ICEServer{
			{URLs: []string{"stun:stun.l.google.com:19302"}},
		},
	}
}

// WebrtcConfiguration converts the serializable config into the pion type.
func (c PeerConnectionConfig) WebrtcConfiguration() webrtc.Configuration {
	conf := webrtc.Configuration{}
	for _, s := range c.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs, Username: s.Username}
		if s.Credential != "" {
			server.Credential = s.Credential
		}
		conf.ICEServers = append(conf.ICEServers, server)
	}
	return conf
}
