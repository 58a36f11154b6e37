package session

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// waitForGathering blocks until local ICE gathering completes, the timeout
// fires, or ctx is cancelled. Gathering that was already complete returns
// immediately without installing an observer. On timeout the wait succeeds
// when at least one candidate made it into the local description; with zero
// candidates the offer would be unreachable, so the wait fails with
// ErrIceTimeout.
func waitForGathering(ctx context.Context, pc peerConn, timeout time.Duration) error {
	if pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}

	done := make(chan struct{})
	var once sync.Once
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if state == webrtc.ICEGatheringStateComplete {
			once.Do(func() { close(done) })
		}
	})

	// Gathering may have completed between the first check and the
	// callback registration.
	if pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return nil
	case <-timer.C:
		if pc.CandidateCount() > 0 {
			return nil
		}
		return ErrIceTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
