package server

import (
	"log/slog"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/clearspan/screenroom/internal/metrics"
)

// setupEventSockets mounts the room lifecycle event stream. Clients hold
// the socket open for the duration of their session; the server pushes one
// JSON RoomEvent per lifecycle transition. This is how viewers learn that
// a room closed without waiting out their media timeout.
func (s *Server) setupEventSockets() {
	s.app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	s.app.Get("/ws/rooms/:id/events", websocket.New(func(c *websocket.Conn) {
		defer func() {
			if err := recover(); err != nil {
				slog.Error("panic in room events socket", "panic", err)
			}
		}()

		roomID := c.Params("id")
		metrics.WebSocketConnections.Inc()
		defer metrics.WebSocketConnections.Dec()

		events, cancel := s.registry.Events(roomID)
		defer cancel()

		// The read loop exists only to observe the client hanging up.
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := c.WriteJSON(ev); err != nil {
					slog.Debug("failed to push room event", "roomID", roomID, "error", err)
					return
				}
			case <-done:
				return
			}
		}
	}))
}
