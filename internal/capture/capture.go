// Package capture abstracts the display-capture collaborator: something
// that can hand the session a local media track and signal when the
// underlying stream ends out of band (the OS revoking capture permission,
// the source file running out, the device going away).
package capture

import (
	"context"
	"sync"

	"github.com/pion/webrtc/v4"
)

// Source yields a local track for publishing. A Source is single-use:
// Acquire once, then Close. Done fires when the stream ends for any
// reason, including reasons outside the session's control; the session
// must treat that exactly like an explicit stop.
type Source interface {
	Acquire(ctx context.Context) (webrtc.TrackLocal, error)
	Done() <-chan struct{}
	Close() error
}

// StaticSource wraps an existing local track as a Source. End simulates an
// out-of-band stream termination; Close is idempotent.
type StaticSource struct {
	track webrtc.TrackLocal

	once sync.Once
	done chan struct{}
}

func NewStaticSource(track webrtc.TrackLocal) *StaticSource {
	return &StaticSource{
		track: track,
		done:  make(chan struct{}),
	}
}

func (s *StaticSource) Acquire(_ context.Context) (webrtc.TrackLocal, error) {
	return s.track, nil
}

func (s *StaticSource) Done() <-chan struct{} {
	return s.done
}

// End marks the stream as terminated by the outside world.
func (s *StaticSource) End() {
	s.once.Do(func() { close(s.done) })
}

func (s *StaticSource) Close() error {
	s.End()
	return nil
}
