package sfu

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/metrics"
)

const (
	rtpBufferSize   = 1500
	packetQueueSize = 100
)

var bufferPool = sync.Pool{
	New: func() any {
		return make([]byte, rtpBufferSize)
	},
}

// RelayTrack pumps RTP from one broadcaster's remote track into a local
// track that any number of viewer legs can be attached to. Reading and
// writing are decoupled through a bounded queue so one slow viewer cannot
// stall the read loop; when the queue is full, packets are dropped.
type RelayTrack struct {
	localTrack *webrtc.TrackLocalStaticRTP
	remoteSSRC uint32

	ctx    context.Context
	cancel context.CancelFunc

	packetChan chan []byte
}

// NewRelayTrack mirrors remoteTrack into a local static RTP track and
// starts the relay loops. Stop tears both loops down.
func NewRelayTrack(remoteTrack *webrtc.TrackRemote, roomID string) (*RelayTrack, error) {
	localTrack, err := webrtc.NewTrackLocalStaticRTP(
		remoteTrack.Codec().RTPCodecCapability,
		remoteTrack.ID(),
		remoteTrack.StreamID(),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	rt := &RelayTrack{
		localTrack: localTrack,
		remoteSSRC: uint32(remoteTrack.SSRC()),
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan []byte, packetQueueSize),
	}

	go rt.readLoop(remoteTrack, roomID)
	go rt.writeLoop(roomID)

	return rt, nil
}

func (rt *RelayTrack) readLoop(remoteTrack *webrtc.TrackRemote, roomID string) {
	defer rt.Stop()

	for {
		select {
		case <-rt.ctx.Done():
			return
		default:
		}

		buf := bufferPool.Get().([]byte)
		buf = buf[:cap(buf)]

		n, _, err := remoteTrack.Read(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Debug("broadcaster closed track", "roomID", roomID)
			} else {
				slog.Error("error reading from broadcaster track", "roomID", roomID, "error", err)
			}
			return
		}

		metrics.RelayPacketsTotal.WithLabelValues("received").Inc()
		metrics.RelayBytesTotal.WithLabelValues("received").Add(float64(n))

		// The marker bit closes a video frame; counting it gives a frame
		// rate signal without touching the payload.
		var hdr rtp.Header
		if _, err := hdr.Unmarshal(buf[:n]); err == nil && hdr.Marker {
			metrics.RelayFramesTotal.Inc()
		}

		select {
		case rt.packetChan <- buf[:n]:
		default:
			bufferPool.Put(buf)
		}
	}
}

func (rt *RelayTrack) writeLoop(roomID string) {
	for {
		select {
		case <-rt.ctx.Done():
			return
		case pkt := <-rt.packetChan:
			if _, err := rt.localTrack.Write(pkt); err != nil {
				// ErrClosedPipe just means no viewer is attached yet.
				if errors.Is(err, io.ErrClosedPipe) {
					continue
				}
				slog.Error("error writing to relay track", "roomID", roomID, "error", err)
			} else {
				metrics.RelayPacketsTotal.WithLabelValues("forwarded").Inc()
				metrics.RelayBytesTotal.WithLabelValues("forwarded").Add(float64(len(pkt)))
			}
		}
	}
}

// Local returns the track viewer legs attach to.
func (rt *RelayTrack) Local() *webrtc.TrackLocalStaticRTP {
	return rt.localTrack
}

// RemoteSSRC is the SSRC of the broadcaster's source track, needed when
// relaying PLI back upstream.
func (rt *RelayTrack) RemoteSSRC() uint32 {
	return rt.remoteSSRC
}

// Done is closed once the relay has stopped.
func (rt *RelayTrack) Done() <-chan struct{} {
	return rt.ctx.Done()
}

func (rt *RelayTrack) Stop() {
	rt.cancel()
}
