package registry

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/sfu"
)

// State is a room's lifecycle phase.
type State string

const (
	// StateEmpty: the room exists but nobody has published into it.
	StateEmpty State = "empty"

	// StatePublishing: a broadcaster has completed its SDP exchange.
	StatePublishing State = "publishing"

	// StateActive: at least one viewer is attached.
	StateActive State = "active"

	// StateClosed: the broadcaster left. The id stays claimable by a new
	// publish until the sweeper deletes the room.
	StateClosed State = "closed"
)

// peer is the server-side descriptor of one leg. The registry owns the
// peer connection of every leg it creates; clients only ever see SDP.
type peer struct {
	id        string
	role      api.Role
	pc        *webrtc.PeerConnection
	remoteSDP string
	localSDP  string
}

// Room binds one broadcaster to zero or more viewers.
//
// Locking: pubMu serializes publish attempts so two broadcasters can never
// race into the same room; mu guards the mutable state below and is never
// held across network or ICE waits.
type Room struct {
	id string

	pubMu sync.Mutex

	mu             sync.RWMutex
	state          State
	stateChangedAt time.Time
	destroyed      bool
	broadcaster    *peer
	relay          *sfu.RelayTrack
	audioRelay     *sfu.RelayTrack
	relayReady     chan struct{}
	viewers        map[string]*peer

	hub *eventHub
}

func newRoom(id string) *Room {
	return &Room{
		id:             id,
		state:          StateEmpty,
		stateChangedAt: time.Now(),
		viewers:        make(map[string]*peer),
		hub:            newEventHub(),
	}
}

// live reports whether a broadcaster currently owns the room.
func (r *Room) live() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.broadcaster != nil
}

// dead reports whether the room has been removed from the registry. A dead
// room must never accept a broadcaster.
func (r *Room) dead() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.destroyed
}

func (r *Room) setState(s State) {
	r.state = s
	r.stateChangedAt = time.Now()
}

// setRelay installs the relay for one of the broadcaster's tracks: one
// video slot and, when audio is negotiated, one audio slot. Extra tracks
// of a kind are ignored. Subscribers are woken once the video track is in;
// audio alone never makes a room ready.
func (r *Room) setRelay(rt *sfu.RelayTrack, kind webrtc.RTPCodecType) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broadcaster == nil {
		return false
	}

	if kind == webrtc.RTPCodecTypeAudio {
		if r.audioRelay != nil {
			return false
		}
		r.audioRelay = rt
		return true
	}

	if r.relay != nil {
		return false
	}
	r.relay = rt
	if r.relayReady != nil {
		close(r.relayReady)
		r.relayReady = nil
	}
	return true
}

// relaySnapshot returns the current relays, or a channel to wait on when
// the broadcaster is bound but its media has not arrived yet.
func (r *Room) relaySnapshot() (video, audio *sfu.RelayTrack, ready <-chan struct{}, pc *webrtc.PeerConnection, bound bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.broadcaster == nil {
		return nil, nil, nil, nil, false
	}
	return r.relay, r.audioRelay, r.relayReady, r.broadcaster.pc, true
}

func (r *Room) addViewer(p *peer) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.viewers[p.id] = p
	if r.state == StatePublishing {
		r.setState(StateActive)
	}
	return len(r.viewers)
}

// removeViewer detaches a viewer descriptor. Returns the peer (nil when
// unknown, making release idempotent) and the remaining viewer count.
func (r *Room) removeViewer(peerID string) (*peer, int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.viewers[peerID]
	if !ok {
		return nil, len(r.viewers)
	}
	delete(r.viewers, peerID)
	if len(r.viewers) == 0 && r.state == StateActive {
		r.setState(StatePublishing)
	}
	return p, len(r.viewers)
}

// detachBroadcaster clears the broadcaster binding and every viewer,
// marking the room closed. Returns the descriptors and relays to tear
// down; nil broadcaster means the given peer did not own the room.
func (r *Room) detachBroadcaster(peerID string) (*peer, []*sfu.RelayTrack, []*peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.broadcaster == nil || r.broadcaster.id != peerID {
		return nil, nil, nil
	}

	b := r.broadcaster
	var relays []*sfu.RelayTrack
	if r.relay != nil {
		relays = append(relays, r.relay)
	}
	if r.audioRelay != nil {
		relays = append(relays, r.audioRelay)
	}
	viewers := make([]*peer, 0, len(r.viewers))
	for _, v := range r.viewers {
		viewers = append(viewers, v)
	}

	r.broadcaster = nil
	r.relay = nil
	r.audioRelay = nil
	r.relayReady = nil
	r.viewers = make(map[string]*peer)
	r.setState(StateClosed)

	return b, relays, viewers
}

// Status reports the room as seen by the status endpoint.
func (r *Room) Status() api.RoomStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return api.RoomStatus{
		Exists:         true,
		State:          string(r.state),
		HasBroadcaster: r.broadcaster != nil,
		ViewerCount:    len(r.viewers),
	}
}

// expired reports whether the sweeper may delete the room.
func (r *Room) expired(ttl time.Duration, now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.state != StateEmpty && r.state != StateClosed {
		return false
	}
	return now.Sub(r.stateChangedAt) > ttl
}
