// Package registry is the server-side source of truth for screen-share
// rooms: which room has a broadcaster, which viewers are attached, and the
// SDP exchanged with each leg. It owns every relay-side peer connection.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/config"
	"github.com/clearspan/screenroom/internal/metrics"
	"github.com/clearspan/screenroom/internal/sfu"
)

var (
	// ErrRoomBusy is returned when a publish hits a room that already has
	// a live broadcaster.
	ErrRoomBusy = errors.New("room already has a broadcaster")

	// ErrNoBroadcaster is returned when a subscribe hits a room without an
	// active publisher, or the publisher never delivered media.
	ErrNoBroadcaster = errors.New("room has no broadcaster")

	// ErrRoomNotFound is returned when the room id names no known room.
	ErrRoomNotFound = errors.New("room not found")
)

// Manager implements the room registry. All methods are safe for
// concurrent use; publish attempts on one room are mutually exclusive
// while subscribes proceed in parallel once a broadcaster is committed.
type Manager struct {
	engine  *sfu.Engine
	rooms   *SyncMapWrapper[string, *Room]
	session config.SessionConfig

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(engine *sfu.Engine, session config.SessionConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		engine:  engine,
		rooms:   NewSyncMapWrapper[string, *Room](),
		session: session,
		ctx:     ctx,
		cancel:  cancel,
	}

	go m.sweepLoop()

	return m
}

// Close tears down every room and stops the sweeper. Safe to call more
// than once.
func (m *Manager) Close() {
	m.cancel()

	m.rooms.Range(func(id string, room *Room) bool {
		m.destroyRoom(id, room)
		return true
	})
}

// Create returns a usable room id. A requested id is reused unless a live
// broadcaster owns it, in which case a fresh id is allocated instead of
// failing; create is infallible by design.
func (m *Manager) Create(requestedID string) string {
	id := requestedID
	if id != "" {
		if room, ok := m.rooms.Load(id); !ok || !room.live() {
			m.getOrCreate(id)
			return id
		}
		slog.Debug("requested room id is busy, allocating fresh id", "requested", id)
	}

	for {
		id = newRoomID()
		if room, ok := m.rooms.Load(id); !ok || !room.live() {
			m.getOrCreate(id)
			return id
		}
	}
}

// Publish binds offerSDP's sender as the room's broadcaster and returns
// the candidate-complete answer. The room is created when it does not
// exist yet. Fails with ErrRoomBusy while another broadcaster is live.
func (m *Manager) Publish(ctx context.Context, roomID, offerSDP string) (string, string, error) {
	start := time.Now()
	room := m.lockRoomForPublish(roomID)
	defer room.pubMu.Unlock()

	if room.live() {
		return "", "", fmt.Errorf("%w: %s", ErrRoomBusy, roomID)
	}

	pc, err := m.engine.NewPeerConnection(string(api.RoleBroadcaster))
	if err != nil {
		return "", "", fmt.Errorf("failed to create broadcaster peer connection: %w", err)
	}

	peerID := uuid.NewString()

	if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo, webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionRecvonly,
	}); err != nil {
		m.discardPeerConnection(pc, api.RoleBroadcaster)
		return "", "", fmt.Errorf("failed to add video transceiver: %w", err)
	}
	if m.engine.AudioEnabled() {
		if _, err := pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			m.discardPeerConnection(pc, api.RoleBroadcaster)
			return "", "", fmt.Errorf("failed to add audio transceiver: %w", err)
		}
	}

	// Reset any leftovers from a previous broadcaster of the same room.
	room.mu.Lock()
	room.relay = nil
	room.audioRelay = nil
	room.relayReady = make(chan struct{})
	room.mu.Unlock()

	pc.OnTrack(func(remoteTrack *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		slog.Info("broadcaster track received",
			"roomID", roomID, "trackID", remoteTrack.ID(),
			"codec", remoteTrack.Codec().MimeType)

		rt, err := sfu.NewRelayTrack(remoteTrack, roomID)
		if err != nil {
			slog.Error("failed to create relay track", "roomID", roomID, "error", err)
			return
		}
		if !room.setRelay(rt, remoteTrack.Kind()) {
			rt.Stop()
		}
	})

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		slog.Debug("broadcaster ICE state", "roomID", roomID, "state", state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateClosed {
			slog.Warn("broadcaster connection lost, releasing room", "roomID", roomID)
			m.Release(roomID, peerID)
		}
	})

	answerSDP, err := m.negotiateAnswer(ctx, pc, offerSDP, api.RoleBroadcaster)
	if err != nil {
		m.discardPeerConnection(pc, api.RoleBroadcaster)
		return "", "", err
	}

	room.mu.Lock()
	room.broadcaster = &peer{
		id:        peerID,
		role:      api.RoleBroadcaster,
		pc:        pc,
		remoteSDP: offerSDP,
		localSDP:  answerSDP,
	}
	room.setState(StatePublishing)
	room.mu.Unlock()

	metrics.ActiveBroadcasters.Inc()
	metrics.SignalSetupDuration.WithLabelValues(string(api.RoleBroadcaster)).Observe(time.Since(start).Seconds())
	room.hub.publish(api.RoomEvent{Event: api.RoomEventPublishing, RoomID: roomID})
	slog.Info("broadcaster published", "roomID", roomID, "peerID", peerID)

	return answerSDP, peerID, nil
}

// Subscribe attaches a receive-only viewer to the room's relay track and
// returns the candidate-complete answer. Concurrent subscribes to the same
// room all succeed independently once the broadcaster binding is committed.
func (m *Manager) Subscribe(ctx context.Context, roomID, offerSDP string) (string, string, error) {
	start := time.Now()

	room, ok := m.rooms.Load(roomID)
	if !ok {
		return "", "", fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}

	relay, audioRelay, broadcasterPC, err := m.awaitRelay(ctx, room)
	if err != nil {
		return "", "", err
	}

	pc, err := m.engine.NewPeerConnection(string(api.RoleViewer))
	if err != nil {
		return "", "", fmt.Errorf("failed to create viewer peer connection: %w", err)
	}

	peerID := uuid.NewString()

	sender, err := pc.AddTrack(relay.Local())
	if err != nil {
		m.discardPeerConnection(pc, api.RoleViewer)
		return "", "", fmt.Errorf("failed to add relay track: %w", err)
	}
	go sfu.ForwardRTCP(sender, broadcasterPC, relay.RemoteSSRC(), roomID)

	if audioRelay != nil {
		if _, err := pc.AddTrack(audioRelay.Local()); err != nil {
			m.discardPeerConnection(pc, api.RoleViewer)
			return "", "", fmt.Errorf("failed to add audio relay track: %w", err)
		}
	}

	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		slog.Debug("viewer ICE state", "roomID", roomID, "peerID", peerID, "state", state.String())
		if state == webrtc.ICEConnectionStateFailed || state == webrtc.ICEConnectionStateDisconnected {
			m.Release(roomID, peerID)
		}
	})

	answerSDP, err := m.negotiateAnswer(ctx, pc, offerSDP, api.RoleViewer)
	if err != nil {
		m.discardPeerConnection(pc, api.RoleViewer)
		return "", "", err
	}

	count := room.addViewer(&peer{
		id:        peerID,
		role:      api.RoleViewer,
		pc:        pc,
		remoteSDP: offerSDP,
		localSDP:  answerSDP,
	})

	metrics.ActiveViewers.Inc()
	metrics.ViewersConnectedTotal.Inc()
	metrics.ViewersPerRoom.Observe(float64(count))
	metrics.SignalSetupDuration.WithLabelValues(string(api.RoleViewer)).Observe(time.Since(start).Seconds())
	room.hub.publish(api.RoomEvent{Event: api.RoomEventViewerJoined, RoomID: roomID, ViewerCount: count})
	slog.Info("viewer subscribed", "roomID", roomID, "peerID", peerID, "viewers", count)

	return answerSDP, peerID, nil
}

// Release removes a peer from a room. Releasing the broadcaster closes all
// viewer legs and marks the room closed; unknown peers are a no-op, so
// release is idempotent.
func (m *Manager) Release(roomID, peerID string) {
	room, ok := m.rooms.Load(roomID)
	if !ok {
		return
	}

	if b, relays, viewers := room.detachBroadcaster(peerID); b != nil {
		for _, rt := range relays {
			rt.Stop()
		}
		m.discardPeerConnection(b.pc, api.RoleBroadcaster)
		metrics.ActiveBroadcasters.Dec()

		for _, v := range viewers {
			m.discardPeerConnection(v.pc, api.RoleViewer)
			metrics.ActiveViewers.Dec()
		}

		room.hub.publish(api.RoomEvent{Event: api.RoomEventClosed, RoomID: roomID})
		slog.Info("broadcaster released, room closed", "roomID", roomID, "viewersDropped", len(viewers))
		return
	}

	if v, remaining := room.removeViewer(peerID); v != nil {
		m.discardPeerConnection(v.pc, api.RoleViewer)
		metrics.ActiveViewers.Dec()
		room.hub.publish(api.RoomEvent{Event: api.RoomEventViewerLeft, RoomID: roomID, ViewerCount: remaining})
		slog.Debug("viewer released", "roomID", roomID, "peerID", peerID, "remaining", remaining)
	}
}

// Status reports a point-in-time room snapshot.
func (m *Manager) Status(roomID string) api.RoomStatus {
	room, ok := m.rooms.Load(roomID)
	if !ok {
		return api.RoomStatus{Exists: false}
	}
	return room.Status()
}

// Events subscribes to a room's lifecycle events. The room is created on
// demand so clients may watch an id before anyone publishes into it.
func (m *Manager) Events(roomID string) (<-chan api.RoomEvent, func()) {
	return m.getOrCreate(roomID).hub.subscribe()
}

func (m *Manager) getOrCreate(id string) *Room {
	room, loaded := m.rooms.LoadOrStore(id, newRoom(id))
	if !loaded {
		metrics.ActiveRooms.Inc()
		metrics.RoomsCreatedTotal.Inc()
		slog.Debug("room created", "roomID", id)
	}
	return room
}

// lockRoomForPublish returns a registry-resident room with its publish
// mutex held. A room the sweeper destroyed while we waited on the mutex is
// discarded and the lookup retried, so a broadcaster can never commit into
// a room object that is no longer in the map.
func (m *Manager) lockRoomForPublish(roomID string) *Room {
	for {
		room := m.getOrCreate(roomID)
		room.pubMu.Lock()
		if !room.dead() {
			return room
		}
		room.pubMu.Unlock()
	}
}

// awaitRelay resolves the room's relay track, waiting briefly when the
// broadcaster is committed but its first media packet has not arrived.
func (m *Manager) awaitRelay(ctx context.Context, room *Room) (*sfu.RelayTrack, *sfu.RelayTrack, *webrtc.PeerConnection, error) {
	relay, audioRelay, ready, broadcasterPC, bound := room.relaySnapshot()
	if !bound {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNoBroadcaster, room.id)
	}
	if relay != nil {
		return relay, audioRelay, broadcasterPC, nil
	}

	timer := time.NewTimer(m.session.RelayWaitTimeout)
	defer timer.Stop()

	select {
	case <-ready:
	case <-timer.C:
		return nil, nil, nil, fmt.Errorf("%w: no media from broadcaster in %s", ErrNoBroadcaster, m.session.RelayWaitTimeout)
	case <-ctx.Done():
		return nil, nil, nil, ctx.Err()
	}

	relay, audioRelay, _, broadcasterPC, bound = room.relaySnapshot()
	if !bound || relay == nil {
		return nil, nil, nil, fmt.Errorf("%w: %s", ErrNoBroadcaster, room.id)
	}
	return relay, audioRelay, broadcasterPC, nil
}

// negotiateAnswer applies the peer's offer, produces an answer and blocks
// until local ICE gathering settles so the returned SDP is
// candidate-complete. On gather timeout it proceeds with whatever
// candidates exist rather than stalling the exchange forever.
func (m *Manager) negotiateAnswer(ctx context.Context, pc *webrtc.PeerConnection, offerSDP string, role api.Role) (string, error) {
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		return "", fmt.Errorf("failed to set remote description: %w", err)
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("failed to create answer: %w", err)
	}

	start := time.Now()
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return "", fmt.Errorf("failed to set local description: %w", err)
	}

	timer := time.NewTimer(m.session.ICEGatherTimeout)
	defer timer.Stop()

	select {
	case <-gatherComplete:
	case <-timer.C:
		slog.Warn("ICE gathering timed out, answering with partial candidates",
			"role", role, "timeout", m.session.ICEGatherTimeout)
	case <-ctx.Done():
		return "", ctx.Err()
	}
	metrics.ICEGatheringDuration.WithLabelValues(string(role)).Observe(time.Since(start).Seconds())

	local := pc.LocalDescription()
	if local == nil {
		return "", errors.New("no local description after gathering")
	}
	return local.SDP, nil
}

func (m *Manager) discardPeerConnection(pc *webrtc.PeerConnection, role api.Role) {
	if pc == nil {
		return
	}
	_ = pc.Close()
	metrics.ActivePeerConnections.WithLabelValues(string(role)).Dec()
}

func (m *Manager) destroyRoom(id string, room *Room) {
	room.pubMu.Lock()
	defer room.pubMu.Unlock()
	m.destroyRoomLocked(id, room)
}

// destroyRoomLocked removes a room; the caller holds room.pubMu, so no
// publish can be mid-commit on it.
func (m *Manager) destroyRoomLocked(id string, room *Room) {
	if _, ok := m.rooms.LoadAndDelete(id); !ok {
		return
	}

	room.mu.Lock()
	room.destroyed = true
	room.mu.Unlock()

	if b, relays, viewers := room.detachBroadcaster(broadcasterIDOf(room)); b != nil {
		for _, rt := range relays {
			rt.Stop()
		}
		m.discardPeerConnection(b.pc, api.RoleBroadcaster)
		metrics.ActiveBroadcasters.Dec()
		for _, v := range viewers {
			m.discardPeerConnection(v.pc, api.RoleViewer)
			metrics.ActiveViewers.Dec()
		}
	}

	room.hub.close()
	metrics.ActiveRooms.Dec()
}

func broadcasterIDOf(room *Room) string {
	room.mu.RLock()
	defer room.mu.RUnlock()
	if room.broadcaster == nil {
		return ""
	}
	return room.broadcaster.id
}

// sweepLoop deletes rooms that have been empty or closed longer than the
// configured TTL. Until then a closed room's id stays claimable.
func (m *Manager) sweepLoop() {
	ticker := time.NewTicker(m.session.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case now := <-ticker.C:
			m.sweepOnce(now)
		}
	}
}

// sweepOnce deletes every expired room, re-checking expiry under the
// publish mutex: a publish that raced the sweep onto a closed room keeps
// the room alive.
func (m *Manager) sweepOnce(now time.Time) {
	m.rooms.Range(func(id string, room *Room) bool {
		if !room.expired(m.session.RoomTTL, now) {
			return true
		}

		room.pubMu.Lock()
		if room.expired(m.session.RoomTTL, now) {
			slog.Debug("sweeping expired room", "roomID", id)
			m.destroyRoomLocked(id, room)
		}
		room.pubMu.Unlock()
		return true
	})
}

// newRoomID allocates a short opaque identifier.
func newRoomID() string {
	return uuid.NewString()[:8]
}
