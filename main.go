// main.go
package main

import (
	"fmt"
	"os"

	"github.com/phuslu/log"

	"perf_exporter/internal/config"
	"perf_exporter/internal/logger"
	"perf_exporter/internal/perf"
)

var (
	version = "0.1.0"
)

func main() {
	// Load configuration from defaults, file and command line flags.
	cfg, err := config.NewConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if cfg == nil {
		// A nil config with no error means a utility flag like
		// -generate-config handled everything.
		return
	}

	// Configure loggers based on configuration
	if err := logger.ConfigureLogging(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to configure loggers: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	if !perf.Supported() {
		log.Fatal().Msg("Kernel does not expose the perf event interface")
	}

	exporter, err := NewPerfExporter(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize exporter")
	}

	if err := exporter.Run(); err != nil {
		log.Fatal().Err(err).Msg("Exporter failed")
	}
}
