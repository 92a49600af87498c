// Command formcheck-mcp serves the formcheck MCP tools over stdio, reading
// workout history from a running formcheck server.
package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/claude/formcheck/internal/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via -ldflags.
var Version = "dev"

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "formcheck server URL")
	flag.Parse()

	// stdout carries the protocol, so logs go to stderr.
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	log.Info("formcheck-mcp starting", "version", Version, "server", *serverURL)

	s := mcp.New(mcp.NewHTTPClient(*serverURL), Version, log)
	if err := server.ServeStdio(s); err != nil {
		log.Error("stdio server failed", "error", err)
		os.Exit(1)
	}
}
