// Package main implements the Lab Control Container entry point.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/lab-control/lcc/internal/api"
	"github.com/lab-control/lcc/internal/audit"
	"github.com/lab-control/lcc/internal/auth"
	"github.com/lab-control/lcc/internal/command"
	"github.com/lab-control/lcc/internal/config"
	"github.com/lab-control/lcc/internal/instrument"
	"github.com/lab-control/lcc/internal/metrics"
	"github.com/lab-control/lcc/internal/telemetry"
	"github.com/lab-control/lcc/internal/units"
)

// Version is the service version reported at startup.
const Version = "1.0.0"

func main() {
	cfgPath := flag.String("config", config.Path(), "Path to YAML configuration file")
	validateOnly := flag.Bool("validate", false, "Validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *validateOnly {
		fmt.Printf("config %s is valid\n", *cfgPath)
		return
	}

	closeLog := setupLogging(cfg.Log)
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *cfgPath, cfg); err != nil {
		log.Fatalf("Lab Control Container failed: %v", err)
	}
}

// setupLogging sends the standard logger to stderr and, when configured, a
// size-rotated file.
func setupLogging(lc config.LogConfig) func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	if lc.File == "" {
		return func() {}
	}
	file := &lumberjack.Logger{
		Filename:   lc.File,
		MaxSize:    lc.MaxSizeMB,
		MaxBackups: lc.MaxBackups,
		MaxAge:     lc.MaxAgeDays,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, file))
	return func() { _ = file.Close() }
}

func run(ctx context.Context, cfgPath string, cfg *config.Config) error {
	log.Printf("Starting Lab Control Container v%s", Version)

	// Step 1: metrics registry
	m := metrics.New()

	// Step 2: telemetry hub
	hub := telemetry.NewHub(&cfg.Timing)
	log.Println("Telemetry hub initialized")

	// Step 3: audit trail
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			log.Printf("Error closing audit logger: %v", err)
		}
	}()
	log.Printf("Audit logger writing to %s", auditLogger.GetFilePath())

	// Step 4: instrument manager, fanning out to hub and metrics
	manager := instrument.NewManager(cfg,
		instrument.WithExchangeObserver(m),
		instrument.WithRecorder(m),
	)
	manager.OnSnapshot(hub.PublishSnapshot)
	manager.OnError(func(e *telemetry.CycleError) {
		hub.PublishFault(e.Instrument, e.Step, e.Err)
	})
	manager.OnStateChange(func(kind instrument.Kind, connected bool) {
		m.SetConnected(string(kind), connected)
		hub.Publish(telemetry.Event{
			Type:       telemetry.EventState,
			Instrument: string(kind),
			Data:       map[string]interface{}{"connected": connected},
		})
	})
	hub.SetReadyFunc(func() map[string]interface{} {
		return map[string]interface{}{"instruments": manager.List()}
	})
	if err := m.RegisterGaugeFunc("lcc_telemetry_clients", "Connected telemetry stream clients.",
		func() float64 { return float64(hub.ClientCount()) }); err != nil {
		return fmt.Errorf("failed to register telemetry gauge: %w", err)
	}

	// Step 5: command orchestrator
	orchestrator := command.NewOrchestrator(manager, units.NewValidator(cfg.Limits), &cfg.Timing)
	orchestrator.SetAuditLogger(auditLogger)
	orchestrator.SetPublisher(hub)
	orchestrator.SetRecorder(m)

	// Step 6: API server
	mw := auth.NewMiddleware()
	if cfg.API.Auth.Enabled {
		verifier, err := auth.NewVerifierFromConfig(cfg.API.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		mw = auth.NewMiddlewareWithVerifier(verifier)
		log.Println("Bearer token authentication enabled")
	}
	server := api.NewServerWithAuth(hub, orchestrator, manager, mw, cfg.API)
	server.SetMetricsHandler(m.Handler())

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.API.Listen)
	}()

	// Step 7: connect enabled instruments. Failures are logged; the API can
	// retry them later.
	if err := manager.ConnectEnabled(ctx); err != nil {
		log.Printf("Initial connect incomplete: %v", err)
	}

	// Step 8: hot reload of poll intervals and limits
	watcher := config.NewWatcher(cfgPath, func(next *config.Config) {
		manager.ApplyConfig(next)
		orchestrator.SetValidator(units.NewValidator(next.Limits))
		log.Printf("Configuration reloaded from %s", cfgPath)
	})
	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Config watcher stopped: %v", err)
		}
	}()

	log.Printf("Lab Control Container started, API at http://%s/api/v1", cfg.API.Listen)

	select {
	case <-ctx.Done():
		log.Println("Shutdown signal received, initiating graceful shutdown...")
	case err := <-serverErr:
		if err != nil {
			log.Printf("Server error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.ShutdownTimeout)
	defer cancel()

	// Streams end first so the HTTP server can drain.
	hub.Stop()
	log.Println("Telemetry hub stopped")

	if err := server.Stop(shutdownCtx); err != nil {
		log.Printf("Error stopping HTTP server: %v", err)
	}

	if err := manager.Shutdown(); err != nil {
		log.Printf("Error disconnecting instruments: %v", err)
	}
	log.Println("Instruments disconnected")

	log.Println("Lab Control Container shutdown complete")
	return nil
}
