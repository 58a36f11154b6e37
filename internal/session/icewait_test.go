package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func TestWaitForGatheringAlreadyComplete(t *testing.T) {
	peer := newFakePeer()

	if err := waitForGathering(context.Background(), peer, time.Millisecond); err != nil {
		t.Fatalf("waitForGathering: %v", err)
	}
}

func TestWaitForGatheringObservesCompletion(t *testing.T) {
	peer := newFakePeer()
	peer.gatherState = webrtc.ICEGatheringStateGathering

	go func() {
		time.Sleep(10 * time.Millisecond)
		peer.mu.Lock()
		peer.gatherState = webrtc.ICEGatheringStateComplete
		cb := peer.gatherCb
		peer.mu.Unlock()
		cb(webrtc.ICEGatheringStateComplete)
	}()

	if err := waitForGathering(context.Background(), peer, time.Second); err != nil {
		t.Fatalf("waitForGathering: %v", err)
	}
}

func TestWaitForGatheringCompletesBetweenCheckAndCallback(t *testing.T) {
	// Completion lands exactly when the observer is installed; the second
	// state check has to catch it.
	peer := newFakePeer()
	peer.gatherState = webrtc.ICEGatheringStateGathering
	raced := &racingPeer{fakePeer: peer}

	if err := waitForGathering(context.Background(), raced, time.Second); err != nil {
		t.Fatalf("waitForGathering: %v", err)
	}
}

type racingPeer struct{ *fakePeer }

func (p *racingPeer) OnICEGatheringStateChange(fn func(webrtc.ICEGatheringState)) {
	p.fakePeer.OnICEGatheringStateChange(fn)
	p.mu.Lock()
	p.gatherState = webrtc.ICEGatheringStateComplete
	p.mu.Unlock()
}

func TestWaitForGatheringTimeoutWithPartialCandidates(t *testing.T) {
	peer := newFakePeer()
	peer.gatherState = webrtc.ICEGatheringStateGathering
	peer.candidates = 2

	if err := waitForGathering(context.Background(), peer, 10*time.Millisecond); err != nil {
		t.Fatalf("waitForGathering with partial candidates: %v", err)
	}
}

func TestWaitForGatheringTimeoutWithoutCandidates(t *testing.T) {
	peer := newFakePeer()
	peer.gatherState = webrtc.ICEGatheringStateGathering
	peer.candidates = 0

	err := waitForGathering(context.Background(), peer, 10*time.Millisecond)
	if !errors.Is(err, ErrIceTimeout) {
		t.Fatalf("waitForGathering error = %v, want ErrIceTimeout", err)
	}
}

func TestWaitForGatheringHonorsContext(t *testing.T) {
	peer := newFakePeer()
	peer.gatherState = webrtc.ICEGatheringStateGathering

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := waitForGathering(ctx, peer, time.Second)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("waitForGathering error = %v, want context.Canceled", err)
	}
}
