package registry

import (
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/sfu"
)

func TestSetRelayPerKindSlots(t *testing.T) {
	room := newRoom("alpha")
	room.mu.Lock()
	room.broadcaster = &peer{id: "b1", role: api.RoleBroadcaster}
	room.relayReady = make(chan struct{})
	room.mu.Unlock()

	_, _, ready, _, bound := room.relaySnapshot()
	if !bound || ready == nil {
		t.Fatal("bound room without relays must expose a wait channel")
	}

	audio := &sfu.RelayTrack{}
	if !room.setRelay(audio, webrtc.RTPCodecTypeAudio) {
		t.Fatal("first audio relay rejected")
	}
	// Audio alone must not wake waiting subscribers.
	select {
	case <-ready:
		t.Fatal("relayReady closed before video arrived")
	default:
	}

	video := &sfu.RelayTrack{}
	if !room.setRelay(video, webrtc.RTPCodecTypeVideo) {
		t.Fatal("first video relay rejected")
	}
	select {
	case <-ready:
	default:
		t.Fatal("relayReady not closed by the video relay")
	}

	if room.setRelay(&sfu.RelayTrack{}, webrtc.RTPCodecTypeVideo) {
		t.Fatal("second video relay accepted")
	}
	if room.setRelay(&sfu.RelayTrack{}, webrtc.RTPCodecTypeAudio) {
		t.Fatal("second audio relay accepted")
	}

	gotVideo, gotAudio, _, _, bound := room.relaySnapshot()
	if !bound || gotVideo != video || gotAudio != audio {
		t.Fatalf("relaySnapshot = (%p, %p), want (%p, %p)", gotVideo, gotAudio, video, audio)
	}
}

func TestSetRelayWithoutBroadcaster(t *testing.T) {
	room := newRoom("alpha")

	if room.setRelay(&sfu.RelayTrack{}, webrtc.RTPCodecTypeVideo) {
		t.Fatal("relay accepted by a room with no broadcaster")
	}
}

func TestDetachBroadcasterCollectsBothRelays(t *testing.T) {
	room := newRoom("alpha")
	room.mu.Lock()
	room.broadcaster = &peer{id: "b1", role: api.RoleBroadcaster}
	room.relayReady = make(chan struct{})
	room.mu.Unlock()

	video := &sfu.RelayTrack{}
	audio := &sfu.RelayTrack{}
	room.setRelay(audio, webrtc.RTPCodecTypeAudio)
	room.setRelay(video, webrtc.RTPCodecTypeVideo)

	b, relays, _ := room.detachBroadcaster("b1")
	if b == nil {
		t.Fatal("detach did not return the broadcaster")
	}
	if len(relays) != 2 {
		t.Fatalf("detach returned %d relays, want 2", len(relays))
	}

	if _, _, _, _, bound := room.relaySnapshot(); bound {
		t.Fatal("room still bound after detach")
	}
}
