package main

import (
	"context"
	"fmt"
	"net/http"
	_ "net/http/pprof" // For pprof server
	"os"
	"os/signal"
	"syscall"
	"time"

	plog "github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"perf_exporter/internal/collectors/cpusamples"
	"perf_exporter/internal/config"
	"perf_exporter/internal/sampling"
)

// PerfExporter encapsulates the core components of the application.
type PerfExporter struct {
	config       *config.AppConfig
	sampler      *sampling.Manager
	httpServer   *http.Server
	eventHandler *sampling.EventHandler
	log          plog.Logger
}

// NewPerfExporter creates and initializes a new PerfExporter instance.
func NewPerfExporter(config *config.AppConfig) (*PerfExporter, error) {
	exporter := &PerfExporter{
		config: config,
	}

	exporter.log = plog.DefaultLogger // main app uses default logger
	exporter.log.Info().
		Str("version", version).
		Str("listen_address", config.Server.ListenAddress).
		Str("metrics_path", config.Server.MetricsPath).
		Int("target_pid", config.Sampler.TargetPID).
		Uint64("frequency", config.Sampler.Frequency).
		Msg("Starting Perf Exporter")

	exporter.setupSampling()
	exporter.setupHTTPServer()

	// Register sampling pipeline statistics collector
	statsCollector := sampling.NewStatsCollector(exporter.sampler)
	prometheus.MustRegister(statsCollector)
	exporter.log.Info().Msg("Sampling statistics collector registered with Prometheus")

	return exporter, nil
}

// setupSampling initializes the session manager and record handlers.
func (e *PerfExporter) setupSampling() {
	e.log.Debug().Msg("- Event handler creation started")
	e.eventHandler = sampling.NewEventHandler()

	if e.config.Collectors.CPUSamples.Enabled {
		collector := cpusamples.NewCollector(&e.config.Collectors.CPUSamples)
		e.eventHandler.RegisterSampleHandler(collector)
		prometheus.MustRegister(collector)
		e.log.Debug().Msg("- CPU samples collector registered")
	}

	e.sampler = sampling.NewManager(&e.config.Sampler, e.eventHandler)
	e.log.Debug().Msg("- Sampling manager created")
}

// setupHTTPServer configures the HTTP server for metrics and pprof.
func (e *PerfExporter) setupHTTPServer() {
	e.log.Debug().Str("metrics_path", e.config.Server.MetricsPath).Msg("Setting up HTTP handlers")
	mux := http.NewServeMux()
	mux.Handle(e.config.Server.MetricsPath, promhttp.Handler())
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>
            <head><title>Perf Exporter</title></head>
            <body>
            <h1>Perf Exporter v` + version + ` </h1>
            <p><a href="` + e.config.Server.MetricsPath + `">Metrics</a></p>
            </body>
            </html>`))
	})

	e.httpServer = &http.Server{
		Addr:    e.config.Server.ListenAddress,
		Handler: mux,
	}
}

// Run starts all services and waits for a shutdown signal.
func (e *PerfExporter) Run() error {
	// Create a context that we can stop to trigger a graceful shutdown.
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Listen for OS signals in a separate goroutine.
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		e.log.Info().Msg("! Received OS shutdown signal, shutting down gracefully...")
		stop()
	}()

	if e.config.Server.PprofEnabled {
		go func() {
			// Recover from panics in this goroutine to trigger a graceful shutdown.
			defer func() {
				if r := recover(); r != nil {
					e.log.Error().Interface("panic", r).Msg("Panic recovered in pprof server, initiating shutdown")
					stop()
				}
			}()
			e.log.Info().Msg("Starting pprof HTTP server on localhost:6060")
			// pprof registers its handlers on http.DefaultServeMux
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				e.log.Error().Err(err).Msg("pprof server failed")
			}
		}()
	}

	e.log.Info().Msg("Starting sampling sessions...")
	if err := e.sampler.Start(); err != nil {
		return fmt.Errorf("failed to start sampling: %w", err)
	}
	e.log.Info().Msg("Sampling sessions started successfully")

	go func() {
		// Recover from panics in this goroutine to trigger a graceful shutdown.
		defer func() {
			if r := recover(); r != nil {
				e.log.Error().Interface("panic", r).Msg("Panic recovered in HTTP server, initiating shutdown")
				stop()
			}
		}()
		e.log.Info().Str("address", e.config.Server.ListenAddress).Msg("Starting HTTP server")
		if err := e.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			e.log.Error().Err(err).Msg("Failed to start HTTP server")
			stop() // Trigger shutdown on server error
		}
	}()

	e.log.Info().Msg("Perf Exporter is ready and sampling...")

	// Block until a shutdown is triggered (from OS signal, panic, or other error).
	<-ctx.Done()
	e.log.Info().Msg("! Shutdown initiated...")

	// --- Graceful shutdown sequence ---

	httpCtx, cancelhttp := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelhttp()

	if err := e.httpServer.Shutdown(httpCtx); err != nil {
		e.log.Error().Err(err).Msg("Error shutting down HTTP server")
	} else {
		e.log.Debug().Msg("HTTP server shut down cleanly")
	}

	// Stop the sampling sessions as the final step.
	if err := e.sampler.Stop(); err != nil {
		e.log.Error().Err(err).Msg("Error stopping sampling sessions")
	} else {
		e.log.Info().Msg("Sampling sessions stopped successfully")
	}

	e.log.Info().Msg("Perf Exporter stopped gracefully")
	return nil
}
