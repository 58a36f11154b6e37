package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/capture"
	"github.com/clearspan/screenroom/internal/config"
)

// SourceFactory yields a fresh capture source per sharing attempt.
type SourceFactory func() (capture.Source, error)

// RemoteStream is a viewer's handle on a joined room: the inbound tracks
// and a signal for when the viewing session ends.
type RemoteStream struct {
	RoomID string

	tracks chan *webrtc.TrackRemote
	done   <-chan struct{}
}

// Tracks delivers inbound remote tracks as they arrive. The channel is
// buffered; it never closes.
func (r *RemoteStream) Tracks() <-chan *webrtc.TrackRemote {
	return r.tracks
}

// Done closes when the viewing session ends for any reason.
func (r *RemoteStream) Done() <-chan struct{} {
	return r.done
}

// ContextState is a snapshot of the coordinator.
type ContextState struct {
	IsSharing bool
	IsViewing bool
	RoomID    string
	LastError error
}

var (
	ErrAlreadySharing = errors.New("already sharing")
	ErrAlreadyViewing = errors.New("already viewing")
	ErrNoRoom         = errors.New("no room id available")
)

// Coordinator ties both roles to a single room. The room id is held while
// any role is active, counted per role; the last role to stop clears it.
// Both roles may run at once (self-view), sharing the same room id.
type Coordinator struct {
	transport Transport
	newPeer   PeerFactory
	newSource SourceFactory
	watch     RoomWatcher
	cfg       config.SessionConfig

	mu          sync.Mutex
	roomID      string
	roomRefs    int
	sharing     *Session
	viewing     *Session
	// A role is reserved under mu before its blocking Start runs, so a
	// second caller racing the first gets rejected instead of a second
	// session.
	sharingPending bool
	viewingPending bool
	watchCancel    context.CancelFunc
	lastErr        error
}

// NewCoordinator wires a coordinator. watch may be nil; without it viewers
// rely on the media timeout alone to notice a closed room.
func NewCoordinator(t Transport, f PeerFactory, src SourceFactory, watch RoomWatcher, cfg config.SessionConfig) *Coordinator {
	return &Coordinator{
		transport: t,
		newPeer:   f,
		newSource: src,
		watch:     watch,
		cfg:       cfg,
	}
}

// StartSharing acquires capture, creates (or reuses) a room, and publishes
// into it. requestedRoomID may be empty; when the coordinator is already
// viewing a room, that room id is reused so both roles share one room.
// Returns the bound room id.
func (c *Coordinator) StartSharing(ctx context.Context, requestedRoomID string) (string, error) {
	c.mu.Lock()
	if c.sharing != nil || c.sharingPending {
		c.mu.Unlock()
		return "", ErrAlreadySharing
	}
	c.sharingPending = true
	if requestedRoomID == "" {
		requestedRoomID = c.roomID
	}
	c.mu.Unlock()

	source, err := c.newSource()
	if err != nil {
		c.clearSharingPending()
		return "", c.recordErr(err)
	}

	sess := NewBroadcastSession(c.transport, c.newPeer, source, c.cfg, requestedRoomID)
	if err := sess.Start(ctx); err != nil {
		c.clearSharingPending()
		return "", c.recordErr(err)
	}

	c.mu.Lock()
	c.sharing = sess
	c.sharingPending = false
	c.bindRoomLocked(sess.RoomID())
	c.mu.Unlock()

	go c.reapWhenDone(sess, api.RoleBroadcaster)
	return sess.RoomID(), nil
}

// StopSharing stops the broadcaster role if active. Idempotent.
func (c *Coordinator) StopSharing() {
	c.mu.Lock()
	sess := c.sharing
	c.mu.Unlock()
	if sess != nil {
		sess.Stop()
		<-sess.Done()
	}
}

// JoinAsViewer subscribes to a room. roomID may be empty when the
// coordinator is already sharing; the shared room is joined.
func (c *Coordinator) JoinAsViewer(ctx context.Context, roomID string) (*RemoteStream, error) {
	c.mu.Lock()
	if c.viewing != nil || c.viewingPending {
		c.mu.Unlock()
		return nil, ErrAlreadyViewing
	}
	c.viewingPending = true
	if roomID == "" {
		roomID = c.roomID
	}
	c.mu.Unlock()
	if roomID == "" {
		c.clearViewingPending()
		return nil, c.recordErr(ErrNoRoom)
	}

	tracks := make(chan *webrtc.TrackRemote, 4)
	sess := NewViewerSession(c.transport, c.newPeer, c.cfg, roomID,
		func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
			select {
			case tracks <- track:
			default:
			}
		})
	if err := sess.Start(ctx); err != nil {
		c.clearViewingPending()
		return nil, c.recordErr(err)
	}

	c.mu.Lock()
	c.viewing = sess
	c.viewingPending = false
	c.bindRoomLocked(roomID)
	var watchCtx context.Context
	if c.watch != nil {
		watchCtx, c.watchCancel = context.WithCancel(context.Background())
	}
	c.mu.Unlock()

	if watchCtx != nil {
		go c.watchRoomClosed(watchCtx, sess, roomID)
	}
	go c.reapWhenDone(sess, api.RoleViewer)

	return &RemoteStream{RoomID: roomID, tracks: tracks, done: sess.Done()}, nil
}

// StopViewing stops the viewer role if active. Idempotent.
func (c *Coordinator) StopViewing() {
	c.mu.Lock()
	sess := c.viewing
	c.mu.Unlock()
	if sess != nil {
		sess.Stop()
		<-sess.Done()
	}
}

// Close stops both roles.
func (c *Coordinator) Close() {
	c.StopViewing()
	c.StopSharing()
}

func (c *Coordinator) State() ContextState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ContextState{
		IsSharing: c.sharing != nil,
		IsViewing: c.viewing != nil,
		RoomID:    c.roomID,
		LastError: c.lastErr,
	}
}

// watchRoomClosed tears the viewer down as soon as the room reports closed,
// instead of letting media starvation time the viewer out.
func (c *Coordinator) watchRoomClosed(ctx context.Context, sess *Session, roomID string) {
	events, err := c.watch(ctx, roomID)
	if err != nil {
		slog.Debug("room event watch unavailable", "roomID", roomID, "error", err)
		return
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Event == api.RoomEventClosed {
				slog.Info("room closed, stopping viewer", "roomID", roomID)
				sess.Stop()
				return
			}
		case <-sess.Done():
			return
		case <-ctx.Done():
			return
		}
	}
}

// reapWhenDone waits out a session and releases its room reference.
func (c *Coordinator) reapWhenDone(sess *Session, role api.Role) {
	<-sess.Done()

	c.mu.Lock()
	defer c.mu.Unlock()
	switch role {
	case api.RoleBroadcaster:
		if c.sharing == sess {
			c.sharing = nil
		}
	case api.RoleViewer:
		if c.viewing == sess {
			c.viewing = nil
		}
		if c.watchCancel != nil {
			c.watchCancel()
			c.watchCancel = nil
		}
	}
	if err := sess.Err(); err != nil {
		c.lastErr = err
	}
	c.releaseRoomLocked()
}

func (c *Coordinator) bindRoomLocked(roomID string) {
	c.roomID = roomID
	c.roomRefs++
}

func (c *Coordinator) releaseRoomLocked() {
	if c.roomRefs > 0 {
		c.roomRefs--
	}
	if c.roomRefs == 0 {
		c.roomID = ""
	}
}

func (c *Coordinator) clearSharingPending() {
	c.mu.Lock()
	c.sharingPending = false
	c.mu.Unlock()
}

func (c *Coordinator) clearViewingPending() {
	c.mu.Lock()
	c.viewingPending = false
	c.mu.Unlock()
}

func (c *Coordinator) recordErr(err error) error {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
	return err
}
