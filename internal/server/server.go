// Package server exposes the room registry over HTTP: the three signaling
// operations (create, publish, subscribe) plus status, release, a room
// lifecycle events websocket, health and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clearspan/screenroom/internal/api"
	"github.com/clearspan/screenroom/internal/metrics"
	"github.com/clearspan/screenroom/internal/registry"
)

// Registry is the subset of the room registry the endpoint needs. It keeps
// the handlers stateless and testable against a stub.
type Registry interface {
	Create(requestedID string) string
	Publish(ctx context.Context, roomID, offerSDP string) (answerSDP, peerID string, err error)
	Subscribe(ctx context.Context, roomID, offerSDP string) (answerSDP, peerID string, err error)
	Release(roomID, peerID string)
	Status(roomID string) api.RoomStatus
	Events(roomID string) (<-chan api.RoomEvent, func())
}

// Server mounts the signaling routes on a Fiber app.
type Server struct {
	app      *fiber.App
	registry Registry
}

func New(app *fiber.App, reg Registry) *Server {
	return &Server{app: app, registry: reg}
}

// SetupRoutes registers every endpoint. Call once before listening.
func (s *Server) SetupRoutes() {
	s.app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "healthy"})
	})
	s.app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	s.app.Post("/api/rooms", s.handleCreateRoom)
	s.app.Post("/api/rooms/:id/publish", s.handlePublish)
	s.app.Post("/api/rooms/:id/subscribe", s.handleSubscribe)
	s.app.Get("/api/rooms/:id/status", s.handleStatus)
	s.app.Delete("/api/rooms/:id/peers/:peer", s.handleRelease)

	s.setupEventSockets()
}

func (s *Server) handleCreateRoom(c *fiber.Ctx) error {
	var req api.CreateRoomRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			metrics.SignalRequestsTotal.WithLabelValues("create", string(api.ErrorCodeBadSDP)).Inc()
			return c.Status(fiber.StatusBadRequest).JSON(api.CreateRoomResponse{
				Success: false,
				Error:   api.ErrorCodeBadSDP,
				Detail:  "invalid JSON body",
			})
		}
	}

	roomID := s.registry.Create(req.RoomID)
	metrics.SignalRequestsTotal.WithLabelValues("create", "ok").Inc()
	return c.JSON(api.CreateRoomResponse{Success: true, RoomID: roomID})
}

func (s *Server) handlePublish(c *fiber.Ctx) error {
	return s.handleExchange(c, "publish", s.registry.Publish)
}

func (s *Server) handleSubscribe(c *fiber.Ctx) error {
	return s.handleExchange(c, "subscribe", s.registry.Subscribe)
}

// handleExchange is the shared publish/subscribe path: validate the offer,
// forward it, translate registry errors into response codes. No retries
// happen here; retry policy belongs to the caller.
func (s *Server) handleExchange(c *fiber.Ctx, operation string,
	exchange func(ctx context.Context, roomID, offerSDP string) (string, string, error)) error {

	roomID := c.Params("id")

	var offer api.SDPExchange
	if err := c.BodyParser(&offer); err != nil {
		return s.rejectBadSDP(c, operation, "invalid JSON body")
	}
	if reason, ok := validateOffer(offer); !ok {
		return s.rejectBadSDP(c, operation, reason)
	}

	answerSDP, peerID, err := exchange(c.UserContext(), roomID, offer.SDP)
	if err != nil {
		code, status := classifyError(err)
		metrics.SignalRequestsTotal.WithLabelValues(operation, string(code)).Inc()
		slog.Warn("signaling exchange failed", "operation", operation, "roomID", roomID, "error", err)
		return c.Status(status).JSON(api.SignalResponse{
			Success: false,
			Error:   code,
			Detail:  err.Error(),
		})
	}

	metrics.SignalRequestsTotal.WithLabelValues(operation, "ok").Inc()
	return c.JSON(api.SignalResponse{
		Success: true,
		SDP:     answerSDP,
		Type:    "answer",
		PeerID:  peerID,
	})
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(s.registry.Status(c.Params("id")))
}

func (s *Server) handleRelease(c *fiber.Ctx) error {
	s.registry.Release(c.Params("id"), c.Params("peer"))
	metrics.SignalRequestsTotal.WithLabelValues("release", "ok").Inc()
	return c.JSON(api.ReleaseResponse{Success: true})
}

func (s *Server) rejectBadSDP(c *fiber.Ctx, operation, reason string) error {
	metrics.SignalRequestsTotal.WithLabelValues(operation, string(api.ErrorCodeBadSDP)).Inc()
	return c.Status(fiber.StatusBadRequest).JSON(api.SignalResponse{
		Success: false,
		Error:   api.ErrorCodeBadSDP,
		Detail:  reason,
	})
}

func classifyError(err error) (api.ErrorCode, int) {
	switch {
	case errors.Is(err, registry.ErrRoomBusy):
		return api.ErrorCodeRoomBusy, fiber.StatusConflict
	case errors.Is(err, registry.ErrNoBroadcaster):
		return api.ErrorCodeNoBroadcaster, fiber.StatusNotFound
	case errors.Is(err, registry.ErrRoomNotFound):
		return api.ErrorCodeRoomNotFound, fiber.StatusNotFound
	default:
		return api.ErrorCodeInternal, fiber.StatusInternalServerError
	}
}
