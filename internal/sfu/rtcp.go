package sfu

import (
	"log/slog"

	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/metrics"
)

// ForwardRTCP drains RTCP from a viewer's RTP sender and relays picture
// loss indications to the broadcaster leg so the source emits a keyframe.
// The loop exits when the sender is closed. Run it in its own goroutine.
func ForwardRTCP(sender *webrtc.RTPSender, broadcasterPC *webrtc.PeerConnection, remoteSSRC uint32, roomID string) {
	buf := make([]byte, rtpBufferSize)

	for {
		n, _, err := sender.Read(buf)
		if err != nil {
			return
		}

		packets, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}

		for _, pkt := range packets {
			switch pkt.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				metrics.PLIRequestsTotal.Inc()
				slog.Debug("relaying PLI to broadcaster", "roomID", roomID, "ssrc", remoteSSRC)
				if err := broadcasterPC.WriteRTCP([]rtcp.Packet{
					&rtcp.PictureLossIndication{MediaSSRC: remoteSSRC},
				}); err != nil {
					return
				}
			case *rtcp.TransportLayerNack:
				metrics.NACKRequestsTotal.Inc()
			}
		}
	}
}
