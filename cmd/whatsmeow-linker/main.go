package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"your.org/whatsmeow-linker/internal/broker"
	"your.org/whatsmeow-linker/internal/config"
	httpserver "your.org/whatsmeow-linker/internal/http"
	ilog "your.org/whatsmeow-linker/internal/log"
	"your.org/whatsmeow-linker/internal/mirror"
	"your.org/whatsmeow-linker/internal/registry"
	"your.org/whatsmeow-linker/internal/status"
)

// main is the entrypoint for the WhatsApp linker.  It wires together
// the configuration loader, the pairing registry, the connection
// mirror and the HTTP API server.  All long-running components are
// started concurrently and the application will shut down gracefully
// when an interrupt signal (SIGINT or SIGTERM) is received.
func main() {
	// Load configuration from environment variables.  If required
	// values are missing a sensible default is used instead.  See
	// config.NewConfig for details on each field.
	cfg := config.NewConfig()

	// Init Redis status writer (no-op if REDIS_URL empty)
	status.Init(cfg.RedisURL)

	// Init the AMQP lifecycle-event publisher (no-op if AMQP_URL
	// empty).  A broker outage must not prevent startup.
	if err := broker.Init(cfg); err != nil {
		ilog.Errorf("AMQP publisher unavailable, events disabled: %v", err)
	}

	// The registry holds every issued pairing code in memory, with
	// per-record expiry timers backed up by the periodic sweep below.
	reg := registry.New(cfg.CodeExpiry, cfg.MaxSessions)

	// The mirror owns the single WhatsApp session.  Connect starts
	// the session asynchronously; reconnects are scheduled internally
	// with per-reason backoffs and run until shutdown.
	m := mirror.New(cfg.SessionStore, cfg.MaxQRAttempts, reg)
	m.Connect()

	// The root context is cancelled on SIGINT or SIGTERM which
	// signals all subordinate goroutines to stop.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Safety-net sweep for expired records and the size cap.
	go reg.RunSweeper(ctx, cfg.SweepInterval)

	// Spin up the HTTP server exposing the landing page, pairing code
	// endpoints, QR retrieval and health probes.
	srv := httpserver.NewServer(cfg, reg, m)
	go func() {
		if err := srv.Start(); err != nil {
			ilog.Errorf("HTTP server stopped: %v", err)
		}
	}()
	ilog.Infof("listening on %s", cfg.HTTPAddr)

	// Wait for a termination signal and initiate a graceful shutdown.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	ilog.Infof("Shutting down…")

	// Cancel the root context which stops the sweeper.
	cancel()

	// Gracefully shut down the HTTP server, then stop the mirror so
	// no further reconnect attempts are scheduled, and finally stop
	// the registry's expiry timers.
	if err := srv.Shutdown(context.Background()); err != nil {
		ilog.Errorf("failed to shutdown HTTP server: %v", err)
	}
	m.Shutdown()
	reg.Close()
}
