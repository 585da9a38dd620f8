// Package main provides the pollution grid query HTTP server.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	httpHandler "go.ngs.io/ph-pollution/internal/http"
	"go.ngs.io/ph-pollution/internal/logging"
	"go.ngs.io/ph-pollution/internal/usecase"
)

const version = "0.1.0"

func main() {
	// Parse command-line flags.
	showHelp := flag.Bool("help", false, "Show usage information")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showHelp {
		printUsage()
		return
	}

	if *showVersion {
		fmt.Printf("ph-pollution-server version %s\n", version)
		return
	}

	// Load configuration from environment.
	port := getEnv("PORT", "8080")
	dataPath := getEnv("MERGED_PATH", "./MASTER_PH_Pollution_2019_2024.nc")
	logger := logging.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "text"), os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting pollution query server", "port", port, "data", dataPath)

	// Initialize use case.
	queryUC, err := usecase.OpenQueryUseCase(dataPath)
	if err != nil {
		logger.Error("failed to load merged grid", "path", dataPath, "err", err)
		os.Exit(1)
	}
	for _, v := range queryUC.Variables() {
		logger.Info("serving variable", "name", v.Name, "units", v.Units, "shape", v.Shape)
	}

	// Setup router.
	router := httpHandler.SetupRouter(queryUC, dataPath)

	// Start server.
	addr := fmt.Sprintf(":%s", port)
	logger.Info("server listening", "addr", addr, "health", fmt.Sprintf("http://localhost:%s/health", port))

	if err := router.Run(addr); err != nil {
		logger.Error("failed to start server", "err", err)
		os.Exit(1)
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// printUsage prints usage information.
func printUsage() {
	fmt.Printf("Pollution Query Server v%s\n\n", version)
	fmt.Println("USAGE:")
	fmt.Println("  ph-pollution-server [flags]")
	fmt.Println()
	fmt.Println("FLAGS:")
	fmt.Println("  -help          Show this help message")
	fmt.Println("  -version       Show version information")
	fmt.Println()
	fmt.Println("ENVIRONMENT VARIABLES:")
	fmt.Println("  PORT                    Server port (default: 8080)")
	fmt.Println("  MERGED_PATH             Merged NetCDF file or its .csv export (default: ./MASTER_PH_Pollution_2019_2024.nc)")
	fmt.Println("  CORS_ALLOWED_ORIGINS    Comma-separated list of allowed origins (default: all origins)")
	fmt.Println("  LOG_LEVEL               debug, info, warn or error (default: info)")
	fmt.Println("  LOG_FORMAT              text or json (default: text)")
	fmt.Println()
	fmt.Println("API ENDPOINTS:")
	fmt.Println("  GET /health                                   Health check")
	fmt.Println("  GET /v1/variables                             List merged variables")
	fmt.Println("  GET /v1/values?variable=&lat=&lon=[&time=]    Point values per month")
	fmt.Println("  GET /metrics                                  Prometheus metrics")
	fmt.Println()
}
