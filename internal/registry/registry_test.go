package registry

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/config"
)

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		ICEGatherTimeout: time.Second,
		TrackTimeout:     time.Second,
		RelayWaitTimeout: 50 * time.Millisecond,
		RoomTTL:          time.Hour,
		SweepInterval:    time.Hour,
	}
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(nil, testSessionConfig())
	t.Cleanup(m.Close)
	return m
}

// bindBroadcaster commits a broadcaster descriptor directly, standing in
// for a completed publish exchange.
func bindBroadcaster(m *Manager, roomID, peerID string) *Room {
	room := m.getOrCreate(roomID)
	room.mu.Lock()
	room.broadcaster = &peer{id: peerID, role: api.RoleBroadcaster}
	room.relayReady = make(chan struct{})
	room.setState(StatePublishing)
	room.mu.Unlock()
	return room
}

func TestCreateReusesRequestedID(t *testing.T) {
	m := newTestManager(t)

	if got := m.Create("alpha"); got != "alpha" {
		t.Fatalf("Create returned %q, want alpha", got)
	}
	// The id stays claimable while the room has no broadcaster.
	if got := m.Create("alpha"); got != "alpha" {
		t.Fatalf("second Create returned %q, want alpha", got)
	}
}

func TestCreateGeneratesID(t *testing.T) {
	m := newTestManager(t)

	id := m.Create("")
	if id == "" {
		t.Fatal("Create returned empty id")
	}
	if status := m.Status(id); !status.Exists {
		t.Fatalf("created room %q does not exist", id)
	}
}

func TestCreateBusyIDAllocatesFresh(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	got := m.Create("alpha")
	if got == "alpha" {
		t.Fatal("Create reused a room owned by a live broadcaster")
	}
	if got == "" {
		t.Fatal("Create returned empty id")
	}
}

func TestCreateReusesClosedRoomID(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")
	m.Release("alpha", "b1")

	if got := m.Create("alpha"); got != "alpha" {
		t.Fatalf("Create returned %q, want alpha after the broadcaster left", got)
	}
}

func TestPublishBusy(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	_, _, err := m.Publish(context.Background(), "alpha", "offer")
	if !errors.Is(err, ErrRoomBusy) {
		t.Fatalf("Publish error = %v, want ErrRoomBusy", err)
	}
}

func TestPublishBusyUnderConcurrency(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Publish(context.Background(), "alpha", "offer")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrRoomBusy) {
			t.Fatalf("concurrent Publish error = %v, want ErrRoomBusy", err)
		}
	}
}

func TestSubscribeUnknownRoom(t *testing.T) {
	m := newTestManager(t)

	_, _, err := m.Subscribe(context.Background(), "nope", "offer")
	if !errors.Is(err, ErrRoomNotFound) {
		t.Fatalf("Subscribe error = %v, want ErrRoomNotFound", err)
	}
}

func TestSubscribeWithoutBroadcaster(t *testing.T) {
	m := newTestManager(t)
	m.Create("alpha")

	_, _, err := m.Subscribe(context.Background(), "alpha", "offer")
	if !errors.Is(err, ErrNoBroadcaster) {
		t.Fatalf("Subscribe error = %v, want ErrNoBroadcaster", err)
	}
}

func TestSubscribeTimesOutWaitingForMedia(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	start := time.Now()
	_, _, err := m.Subscribe(context.Background(), "alpha", "offer")
	if !errors.Is(err, ErrNoBroadcaster) {
		t.Fatalf("Subscribe error = %v, want ErrNoBroadcaster", err)
	}
	if elapsed := time.Since(start); elapsed < m.session.RelayWaitTimeout {
		t.Fatalf("Subscribe returned after %v, should have waited at least %v", elapsed, m.session.RelayWaitTimeout)
	}
}

func TestSubscribeHonorsContextCancellation(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := m.Subscribe(ctx, "alpha", "offer")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Subscribe error = %v, want context.Canceled", err)
	}
}

func TestReleaseBroadcasterClosesRoom(t *testing.T) {
	m := newTestManager(t)

	events, cancel := m.Events("alpha")
	defer cancel()

	room := bindBroadcaster(m, "alpha", "b1")
	room.addViewer(&peer{id: "v1", role: api.RoleViewer})
	room.addViewer(&peer{id: "v2", role: api.RoleViewer})

	m.Release("alpha", "b1")

	status := m.Status("alpha")
	if status.HasBroadcaster {
		t.Fatal("room still has a broadcaster after release")
	}
	if status.ViewerCount != 0 {
		t.Fatalf("ViewerCount = %d, want 0", status.ViewerCount)
	}
	if status.State != string(StateClosed) {
		t.Fatalf("State = %q, want closed", status.State)
	}

	select {
	case ev := <-events:
		if ev.Event != api.RoomEventClosed {
			t.Fatalf("event = %q, want %q", ev.Event, api.RoomEventClosed)
		}
	case <-time.After(time.Second):
		t.Fatal("no closed event delivered")
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	bindBroadcaster(m, "alpha", "b1")

	m.Release("alpha", "b1")
	m.Release("alpha", "b1")
	m.Release("alpha", "unknown-peer")
	m.Release("no-such-room", "b1")
}

func TestViewerReleaseEmitsViewerLeft(t *testing.T) {
	m := newTestManager(t)
	room := bindBroadcaster(m, "alpha", "b1")
	room.addViewer(&peer{id: "v1", role: api.RoleViewer})

	events, cancel := m.Events("alpha")
	defer cancel()

	m.Release("alpha", "v1")

	select {
	case ev := <-events:
		if ev.Event != api.RoomEventViewerLeft {
			t.Fatalf("event = %q, want %q", ev.Event, api.RoomEventViewerLeft)
		}
		if ev.ViewerCount != 0 {
			t.Fatalf("ViewerCount = %d, want 0", ev.ViewerCount)
		}
	case <-time.After(time.Second):
		t.Fatal("no viewer_left event delivered")
	}

	if status := m.Status("alpha"); !status.HasBroadcaster {
		t.Fatal("viewer release must not detach the broadcaster")
	}
}

func TestStatusUnknownRoom(t *testing.T) {
	m := newTestManager(t)

	if status := m.Status("nope"); status.Exists {
		t.Fatal("unknown room reported as existing")
	}
}

func TestRoomStateTransitions(t *testing.T) {
	m := newTestManager(t)
	room := bindBroadcaster(m, "alpha", "b1")

	if got := m.Status("alpha").State; got != string(StatePublishing) {
		t.Fatalf("state after publish = %q, want publishing", got)
	}

	room.addViewer(&peer{id: "v1"})
	if got := m.Status("alpha").State; got != string(StateActive) {
		t.Fatalf("state with viewer = %q, want active", got)
	}

	room.removeViewer("v1")
	if got := m.Status("alpha").State; got != string(StatePublishing) {
		t.Fatalf("state after last viewer left = %q, want publishing", got)
	}
}

func TestRoomExpiry(t *testing.T) {
	now := time.Now()
	ttl := time.Minute

	room := newRoom("alpha")
	if room.expired(ttl, now) {
		t.Fatal("fresh room reported expired")
	}
	room.stateChangedAt = now.Add(-2 * ttl)
	if !room.expired(ttl, now) {
		t.Fatal("stale empty room not reported expired")
	}

	room.setState(StateActive)
	room.stateChangedAt = now.Add(-2 * ttl)
	if room.expired(ttl, now) {
		t.Fatal("active room must never expire")
	}
}

func TestSweepWaitsForInFlightPublish(t *testing.T) {
	m := newTestManager(t)
	room := m.getOrCreate("alpha")
	room.mu.Lock()
	room.stateChangedAt = time.Now().Add(-2 * m.session.RoomTTL)
	room.mu.Unlock()

	// A publish holds the room's publish mutex across its SDP exchange.
	room.pubMu.Lock()

	swept := make(chan struct{})
	go func() {
		m.sweepOnce(time.Now())
		close(swept)
	}()

	select {
	case <-swept:
		t.Fatal("sweep did not wait for the in-flight publish")
	case <-time.After(20 * time.Millisecond):
	}

	// The publish commits its broadcaster before releasing the mutex; the
	// sweep must then leave the room alone.
	room.mu.Lock()
	room.broadcaster = &peer{id: "b1", role: api.RoleBroadcaster}
	room.setState(StatePublishing)
	room.mu.Unlock()
	room.pubMu.Unlock()

	select {
	case <-swept:
	case <-time.After(time.Second):
		t.Fatal("sweep never finished")
	}

	status := m.Status("alpha")
	if !status.Exists || !status.HasBroadcaster {
		t.Fatalf("room swept out from under a committed publish: %+v", status)
	}
	if room.dead() {
		t.Fatal("room marked destroyed despite the committed publish")
	}
}

func TestLockRoomForPublishSkipsDestroyedRoom(t *testing.T) {
	m := newTestManager(t)
	stale := m.getOrCreate("alpha")
	m.destroyRoom("alpha", stale)

	room := m.lockRoomForPublish("alpha")
	defer room.pubMu.Unlock()

	if room == stale {
		t.Fatal("lockRoomForPublish handed out the destroyed room")
	}
	if room.dead() {
		t.Fatal("lockRoomForPublish handed out a dead room")
	}
	if _, ok := m.rooms.Load("alpha"); !ok {
		t.Fatal("locked room is not registry-resident")
	}
}

func TestDestroyRoomClosesEventStream(t *testing.T) {
	m := newTestManager(t)
	m.Create("alpha")

	events, cancel := m.Events("alpha")
	defer cancel()

	room, _ := m.rooms.Load("alpha")
	m.destroyRoom("alpha", room)

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed channel, got event")
		}
	case <-time.After(time.Second):
		t.Fatal("event channel not closed on room destruction")
	}

	if status := m.Status("alpha"); status.Exists {
		t.Fatal("destroyed room still reported as existing")
	}
}
