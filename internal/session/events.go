package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/fasthttp/websocket"

	"github.com/clearspan/screenroom/internal/api"
)

// RoomWatcher opens a room lifecycle event stream. The returned channel
// closes when the stream ends or ctx is cancelled.
type RoomWatcher func(ctx context.Context, roomID string) (<-chan api.RoomEvent, error)

// WatchRoom subscribes to the relay's room-events websocket. Viewers use it
// to learn that a room closed without waiting out their media timeout.
func (t *HTTPTransport) WatchRoom(ctx context.Context, roomID string) (<-chan api.RoomEvent, error) {
	wsURL := websocketURL(t.baseURL) + "/ws/rooms/" + roomID + "/events"

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return nil, err
	}

	events := make(chan api.RoomEvent, 8)
	go func() {
		<-ctx.Done()
		conn.Close()
	}()
	go func() {
		defer close(events)
		defer conn.Close()
		for {
			var ev api.RoomEvent
			if err := conn.ReadJSON(&ev); err != nil {
				if ctx.Err() == nil {
					slog.Debug("room event stream ended", "roomID", roomID, "error", err)
				}
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events, nil
}

func websocketURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}
