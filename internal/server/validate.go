package server

import (
	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
)

// validateOffer checks an incoming SDP payload before it reaches the
// registry: non-empty, explicitly typed as an offer, and parseable.
// Malformed input fails fast at the transport layer.
func validateOffer(offer api.SDPExchange) (string, bool) {
	if offer.Type != "offer" {
		return "type must be \"offer\"", false
	}
	if offer.SDP == "" {
		return "sdp is empty", false
	}

	sd := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if _, err := sd.Unmarshal(); err != nil {
		return "sdp is not parseable: " + err.Error(), false
	}
	return "", true
}
