// Package main provides the Philippines pollution pipeline command.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.ngs.io/ph-pollution/internal/config"
	"go.ngs.io/ph-pollution/internal/logging"
	"go.ngs.io/ph-pollution/internal/metrics"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	configPath := flag.String("config", "", "Path to the HCL configuration file")
	envFile := flag.String("env-file", ".env", "Path to a .env file loaded before the configuration")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "text", "Log format: text or json")
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("ph-pollution version %s\n", version)
		return
	}

	logger := logging.New(*logLevel, *logFormat, os.Stderr)
	slog.SetDefault(logger)

	if err := config.LoadEnvFile(*envFile); err != nil {
		logger.Error("failed to load env file", "err", err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := run(ctx, cfg, logger)

	if cfg.MetricsTextfile != "" {
		if err := metrics.WriteTextfile(cfg.Resolve(cfg.MetricsTextfile)); err != nil {
			logger.Warn("metrics not written", "err", err)
		}
	}
	if runErr != nil {
		logger.Error("pipeline failed", "err", runErr)
		stop()
		os.Exit(1)
	}
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Philippines pollution pipeline v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  ph-pipeline [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -config PATH       HCL configuration file (default: built-in defaults)")
	fmt.Println("  -env-file PATH     .env file loaded first (default: .env, optional)")
	fmt.Println("  -log-level LEVEL   debug, info, warn or error (default: info)")
	fmt.Println("  -log-format FMT    text or json (default: text)")
	fmt.Println("  -help              Show this help message")
	fmt.Println("  -version           Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  EARTHDATA_TOKEN                  NASA Earthdata bearer token")
	fmt.Println("  CDS_API_URL                      CDS API root (default: https://cds.climate.copernicus.eu/api)")
	fmt.Println("  CDS_API_KEY                      CDS personal access token")
	fmt.Println("  GOOGLE_APPLICATION_CREDENTIALS   Service account file for Earth Engine and GCS")
	fmt.Println("  EE_PROJECT                       Earth Engine cloud project")
	fmt.Println("  AWS_ACCESS_KEY_ID                Access key for s3:// sinks")
	fmt.Println("  AWS_SECRET_ACCESS_KEY            Secret key for s3:// sinks")
	fmt.Println("  PIPELINE_WORK_DIR                Directory relative paths resolve against")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # Offline run over generated granules")
	fmt.Println("  granule-generator -out ./data && ph-pipeline -config ./configs/local.hcl")
	fmt.Println()
}
