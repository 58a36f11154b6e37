package main

import (
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/lmittmann/tint"
	"github.com/spf13/pflag"

	"github.com/clearspan/screenroom/internal/config"
	"github.com/clearspan/screenroom/internal/metrics"
	"github.com/clearspan/screenroom/internal/registry"
	"github.com/clearspan/screenroom/internal/server"
	"github.com/clearspan/screenroom/internal/sfu"
)

func main() {
	fs := pflag.NewFlagSet("relay", pflag.ExitOnError)
	configDir := fs.StringP("config-dir", "c", "conf", "directory holding server/webrtc/session config files")
	logLevel := fs.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	_ = fs.Parse(os.Args[1:])

	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      parseLevel(*logLevel),
		TimeFormat: time.TimeOnly,
	})))

	configManager, err := config.NewManager(*configDir)
	if err != nil {
		slog.Error("failed to load configuration", "dir", *configDir, "error", err)
		os.Exit(1)
	}
	cfg := configManager.Get()

	engine, err := sfu.NewEngine(&cfg.WebRTC, cfg.Server.PublicIP)
	if err != nil {
		slog.Error("failed to build WebRTC engine", "error", err)
		os.Exit(1)
	}

	reg := registry.NewManager(engine, cfg.Session)
	defer reg.Close()

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})
	server.New(app, reg).SetupRoutes()

	metrics.StartTime.Set(float64(time.Now().Unix()))

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down")
		_ = app.Shutdown()
	}()

	addr := ":" + strconv.Itoa(cfg.Server.Port)
	if cfg.Server.TLSCrtFile != nil && cfg.Server.TLSKeyFile != nil {
		slog.Info("relay listening with TLS", "addr", addr)
		err = app.ListenTLS(addr, *cfg.Server.TLSCrtFile, *cfg.Server.TLSKeyFile)
	} else {
		slog.Info("relay listening", "addr", addr)
		err = app.Listen(addr)
	}
	if err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
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
