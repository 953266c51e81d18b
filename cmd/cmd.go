// Package cmd provides the firsthand CLI commands.
//
// Commands:
//   - serve: HTTP API server with SSE streaming
//   - ask: one-shot research question from the terminal
//   - ingest: load a JSONL testimony dump into the knowledge store
//
// All commands install a signal-aware context so Ctrl+C drains cleanly.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	flog "github.com/firsthand-ai/firsthand/internal/log"
)

// Execute is the main entry point for the firsthand CLI.
func Execute() error {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	logger := flog.New(flog.Config{Level: level, JSON: os.Getenv("LOG_JSON") != ""})
	slog.SetDefault(logger)

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe(logger)
	case "ask":
		return runAsk(logger, os.Args[2:])
	case "ingest":
		return runIngest(logger, os.Args[2:])
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("firsthand - cached generation gateway over first-person testimony")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  firsthand serve                 Start the HTTP API server")
	fmt.Println("  firsthand ask <question>        Answer a research question in the terminal")
	fmt.Println("  firsthand ingest <file.jsonl>   Ingest a JSONL testimony dump")
	fmt.Println("  firsthand --version             Show version information")
	fmt.Println("  firsthand --help                Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  OPENROUTER_KEY     Required for serve/ask: upstream API key")
	fmt.Println("  DATABASE_URL       Optional: overrides postgres_* config values")
	fmt.Println("  DEBUG              Optional: enable debug logging")
	fmt.Println("  LOG_JSON           Optional: JSON log output")
	fmt.Println()
	fmt.Println("Configuration file: ~/.firsthand/config.yaml")
}
