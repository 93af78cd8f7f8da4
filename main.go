// Package main is the entry point for the castflow export service.
package main

import (
	"context"
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/jonesrussell/castflow/internal/app"
)

var (
	// version can be set at build time via -ldflags
	version = "dev"
)

func main() {
	// Load .env if present; real environment wins over file values.
	_ = godotenv.Load()

	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	switch command {
	case "serve":
		runServer()
	case "version":
		log.Printf("castflow version %s\n", version)
		os.Exit(0)
	case "help", "-h", "--help":
		printUsage()
		os.Exit(0)
	default:
		log.Printf("Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	configPath := os.Getenv("CASTFLOW_CONFIG")
	if configPath == "" {
		configPath = "config.yml"
	}

	application, err := app.New(app.Options{
		ConfigPath: configPath,
		Version:    version,
	})
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer func() { _ = application.Close() }()

	if err := application.Run(context.Background()); err != nil {
		log.Fatalf("Service error: %v", err)
	}
}

func printUsage() {
	log.Println("castflow - social graph export service")
	log.Println()
	log.Println("Usage:")
	log.Println("  castflow [command]")
	log.Println()
	log.Println("Commands:")
	log.Println("  serve      Start the HTTP export service (default)")
	log.Println("  version    Print version information")
	log.Println("  help       Show this help message")
	log.Println()
	log.Println("Environment Variables:")
	log.Println("  CASTFLOW_CONFIG  - Config file path (default: config.yml)")
	log.Println("  CASTFLOW_PORT    - HTTP port override")
	log.Println("  HUB_URL          - Upstream hub base URL override")
	log.Println("  APP_DEBUG        - Debug logging: true|false")
}
