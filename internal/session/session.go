// Package session is the client side of the relay protocol: the per-role
// negotiation state machine, the ICE gathering synchronizer, the signaling
// transport, and the Coordinator tying both roles to one room.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/capture"
	"github.com/clearspan/screenroom/internal/config"
)

// State names a position in the negotiation chain. The chain advances
// strictly forward; Closed and Failed are terminal.
type State string

const (
	StateIdle           State = "idle"
	StateAcquiring      State = "acquiring"
	StateOffering       State = "offering"
	StateGatheringICE   State = "gathering_ice"
	StateSubmitting     State = "submitting"
	StateAwaitingRemote State = "awaiting_remote"
	StateConnected      State = "connected"
	StateClosed         State = "closed"
	StateFailed         State = "failed"
)

const releaseTimeout = 3 * time.Second

// Session drives one peer leg, broadcaster or viewer, from Idle to
// Connected and eventually to Closed. It owns its peer connection
// exclusively and destroys it on every exit path.
type Session struct {
	role      api.Role
	transport Transport
	newPeer   PeerFactory
	cfg       config.SessionConfig

	// broadcaster only
	source capture.Source

	// viewer only
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)

	mu      sync.Mutex
	state   State
	err     error
	roomID  string
	peerID  string
	pc      peerConn
	stopped bool

	stopOnce   sync.Once
	finishOnce sync.Once
	done       chan struct{}
}

// NewBroadcastSession prepares a broadcaster leg. requestedRoomID may be
// empty; the relay assigns an id either way and RoomID reports it after
// Start succeeds.
func NewBroadcastSession(t Transport, f PeerFactory, src capture.Source, cfg config.SessionConfig, requestedRoomID string) *Session {
	return &Session{
		role:      api.RoleBroadcaster,
		transport: t,
		newPeer:   f,
		cfg:       cfg,
		source:    src,
		state:     StateIdle,
		roomID:    requestedRoomID,
		done:      make(chan struct{}),
	}
}

// NewViewerSession prepares a viewer leg for an existing room. onTrack
// fires for every inbound track, before the first-track wait resolves.
func NewViewerSession(t Transport, f PeerFactory, cfg config.SessionConfig, roomID string,
	onTrack func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) *Session {
	return &Session{
		role:      api.RoleViewer,
		transport: t,
		newPeer:   f,
		cfg:       cfg,
		state:     StateIdle,
		roomID:    roomID,
		onTrack:   onTrack,
		done:      make(chan struct{}),
	}
}

// Start runs the negotiation chain on the calling goroutine and returns
// once the session is Connected or has failed. A returned error means the
// session already tore itself down.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateIdle {
		state := s.state
		s.mu.Unlock()
		if state == StateClosed {
			return ErrSessionClosed
		}
		return fmt.Errorf("session already started (state %s)", state)
	}
	s.state = StateAcquiring
	s.mu.Unlock()

	var err error
	switch s.role {
	case api.RoleBroadcaster:
		err = s.startBroadcast(ctx)
	default:
		err = s.startView(ctx)
	}
	if err != nil {
		return s.fail(err)
	}
	return nil
}

func (s *Session) startBroadcast(ctx context.Context) error {
	// Capture is acquired before the room exists so a capture failure
	// leaves no partial room behind.
	track, err := s.source.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCaptureFailed, err)
	}

	roomID, err := s.transport.CreateRoom(ctx, s.RoomID())
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.roomID = roomID
	s.mu.Unlock()

	pc, err := s.newPeer()
	if err != nil {
		return err
	}
	s.setPeer(pc)

	if _, err := pc.AddTrack(track); err != nil {
		return err
	}

	if err := s.negotiate(ctx, pc, roomID, s.transport.Publish); err != nil {
		return err
	}
	if err := s.connect(); err != nil {
		return err
	}

	// The capture source ending out of band is an implicit stop.
	go func() {
		select {
		case <-s.source.Done():
			slog.Info("capture source ended, stopping broadcast", "roomID", roomID)
			s.Stop()
		case <-s.done:
		}
	}()
	return nil
}

func (s *Session) startView(ctx context.Context) error {
	pc, err := s.newPeer()
	if err != nil {
		return err
	}
	s.setPeer(pc)

	// The track handler must be installed before any remote description
	// is applied, or an early-arriving track is lost.
	firstTrack := make(chan struct{}, 1)
	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		if s.onTrack != nil {
			s.onTrack(track, receiver)
		}
		select {
		case firstTrack <- struct{}{}:
		default:
		}
	})

	if err := pc.AddRecvonlyVideoTransceiver(); err != nil {
		return err
	}

	roomID := s.RoomID()
	if err := s.negotiate(ctx, pc, roomID, s.transport.Subscribe); err != nil {
		return err
	}

	// The session stays in AwaitingRemote until media proves the room is
	// actually delivering; only then is it reported connected.
	timer := time.NewTimer(s.cfg.TrackTimeout)
	defer timer.Stop()
	select {
	case <-firstTrack:
		return s.connect()
	case <-timer.C:
		return ErrStreamTimeout
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// negotiate runs the shared offer/gather/submit/answer chain.
func (s *Session) negotiate(ctx context.Context, pc peerConn, roomID string,
	submit func(ctx context.Context, roomID string, offer api.SDPExchange) (api.SignalResponse, error)) error {

	if !s.advance(StateOffering) {
		return ErrSessionClosed
	}
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}

	if !s.advance(StateGatheringICE) {
		return ErrSessionClosed
	}
	start := time.Now()
	if err := waitForGathering(ctx, pc, s.cfg.ICEGatherTimeout); err != nil {
		return err
	}
	slog.Debug("ice gathering done",
		"role", s.role, "roomID", roomID,
		"candidates", pc.CandidateCount(), "elapsed", time.Since(start))

	local := pc.LocalDescription()
	if local == nil {
		return fmt.Errorf("no local description after gathering")
	}

	if !s.advance(StateSubmitting) {
		return ErrSessionClosed
	}
	resp, err := submit(ctx, roomID, api.SDPExchange{SDP: local.SDP, Type: "offer"})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.peerID = resp.PeerID
	stopped := s.stopped
	s.mu.Unlock()
	if stopped {
		// Stop won the race while the offer was in flight; the relay
		// registered a peer nobody wants. Release it and bail.
		s.releaseRemote(roomID, resp.PeerID)
		return ErrSessionClosed
	}

	if !s.advance(StateAwaitingRemote) {
		return ErrSessionClosed
	}
	answer := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: resp.SDP}
	if err := pc.SetRemoteDescription(answer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	return nil
}

// connect moves the session from AwaitingRemote to Connected. Each role
// decides when: the broadcaster right after the answer is applied, the
// viewer only once the first inbound track has fired.
func (s *Session) connect() error {
	if !s.advance(StateConnected) {
		return ErrSessionClosed
	}
	slog.Info("session connected", "role", s.role, "roomID", s.RoomID(), "peerID", s.PeerID())
	return nil
}

// Stop tears the session down: releases the relay-side peer if one was
// registered, closes the capture source and peer connection. Idempotent,
// safe from any goroutine, safe mid-negotiation.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		if s.state == StateFailed {
			// fail already tore everything down.
			s.mu.Unlock()
			s.finish()
			return
		}
		s.state = StateClosed
		pc, roomID, peerID := s.pc, s.roomID, s.peerID
		s.mu.Unlock()

		if s.source != nil {
			s.source.Close()
		}
		if peerID != "" {
			s.releaseRemote(roomID, peerID)
		}
		if pc != nil {
			pc.Close()
		}
		s.finish()
	})
}

func (s *Session) releaseRemote(roomID, peerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if err := s.transport.Release(ctx, roomID, peerID); err != nil {
		slog.Warn("peer release failed", "roomID", roomID, "peerID", peerID, "error", err)
	}
}

// fail records err and tears down, unless Stop got there first, in which
// case the session stays Closed and the caller gets ErrSessionClosed.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		s.finish()
		return ErrSessionClosed
	}
	s.state = StateFailed
	s.err = err
	pc, roomID, peerID := s.pc, s.roomID, s.peerID
	s.mu.Unlock()

	slog.Warn("session failed", "role", s.role, "roomID", roomID, "error", err)
	if s.source != nil {
		s.source.Close()
	}
	if peerID != "" {
		// The relay registered this leg before the failure; drop it there
		// too instead of waiting for its ICE teardown.
		s.releaseRemote(roomID, peerID)
	}
	if pc != nil {
		pc.Close()
	}
	s.finish()
	return err
}

// advance moves to the next chain state unless the session already hit a
// terminal state.
func (s *Session) advance(next State) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed || s.state == StateFailed {
		return false
	}
	s.state = next
	return true
}

func (s *Session) setPeer(pc peerConn) {
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
}

func (s *Session) finish() {
	s.finishOnce.Do(func() { close(s.done) })
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Session) RoomID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) PeerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peerID
}

// Done closes when the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
