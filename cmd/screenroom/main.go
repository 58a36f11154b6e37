// Command screenroom is a demo client for the relay: broadcast an IVF file
// into a room or view a room's stream.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/pflag"

	"github.com/clearspan/screenroom/internal/capture"
	"github.com/clearspan/screenroom/internal/config"
	"github.com/clearspan/screenroom/internal/session"
)

func main() {
	fs := pflag.NewFlagSet("screenroom", pflag.ExitOnError)
	serverURL := fs.StringP("server", "s", "http://localhost:37003", "relay base URL")
	roomID := fs.StringP("room", "r", "", "room id (optional when broadcasting)")
	mode := fs.StringP("mode", "m", "view", "broadcast or view")
	videoFile := fs.StringP("video", "f", "", "IVF file to broadcast")
	logLevel := fs.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(os.Args[1:])

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(*logLevel),
		TimeFormat: time.TimeOnly,
	})))

	cfg := config.DefaultAppConfig()
	transport := session.NewHTTPTransport(*serverURL)
	coordinator := session.NewCoordinator(
		transport,
		session.PionPeerFactory(cfg.WebRTC.PeerConnectionConfig),
		func() (capture.Source, error) {
			if *videoFile == "" {
				return nil, errors.New("broadcast mode needs --video")
			}
			return capture.NewIVFSource(*videoFile), nil
		},
		transport.WatchRoom,
		cfg.Session,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "broadcast":
		runBroadcast(ctx, coordinator, *roomID)
	case "view":
		runView(ctx, coordinator, *roomID)
	default:
		slog.Error("unknown mode", "mode", *mode)
		os.Exit(1)
	}
}

func runBroadcast(ctx context.Context, coordinator *session.Coordinator, roomID string) {
	id, err := coordinator.StartSharing(ctx, roomID)
	if err != nil {
		slog.Error("failed to start sharing", "error", err)
		os.Exit(1)
	}
	fmt.Println("sharing into room", id)
	<-ctx.Done()
	coordinator.StopSharing()
}

func runView(ctx context.Context, coordinator *session.Coordinator, roomID string) {
	if roomID == "" {
		slog.Error("view mode needs --room")
		os.Exit(1)
	}

	stream, err := coordinator.JoinAsViewer(ctx, roomID)
	if err != nil {
		slog.Error("failed to join room", "roomID", roomID, "error", err)
		os.Exit(1)
	}
	slog.Info("viewing room", "roomID", stream.RoomID)

	go func() {
		for track := range stream.Tracks() {
			slog.Info("receiving track", "trackID", track.ID(), "codec", track.Codec().MimeType)
			go drain(track)
		}
	}()

	select {
	case <-ctx.Done():
	case <-stream.Done():
		slog.Info("stream ended")
	}
	coordinator.StopViewing()
}

// drain keeps the receiver's interceptor chain fed.
func drain(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
