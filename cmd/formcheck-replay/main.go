package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/claude/formcheck/internal/config"
	"github.com/claude/formcheck/internal/engine"
	"github.com/claude/formcheck/internal/replay"
	"github.com/claude/formcheck/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	tracePath := flag.String("path", "", "path to trace directory laid out as <exercise>/*.jsonl (required)")
	dryRun := flag.Bool("dry-run", false, "report results without storing sessions")
	stateDir := flag.String("state-dir", "", "directory for the replay state DB (empty replays every file)")
	serverURL := flag.String("server", "", "stream traces to this formcheck server instead of the database")
	apiKey := flag.String("api-key", "", "API key for -server (defaults to FORMCHECK_AUTH_API_KEY)")
	userID := flag.Int("user-id", 1, "user the replayed sessions belong to")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *tracePath == "" {
		fmt.Fprintf(os.Stderr, "Usage: formcheck-replay -path /path/to/traces [-config config.yaml] [-server URL] [-state-dir DIR] [-dry-run]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	info, err := os.Stat(*tracePath)
	if err != nil || !info.IsDir() {
		log.Error("trace path does not exist or is not a directory", "path", *tracePath)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dryRun {
		log.Info("DRY RUN mode: no sessions will be stored")
	}

	var state *replay.StateDB
	if *stateDir != "" {
		state, err = replay.OpenStateDB(*stateDir)
		if err != nil {
			log.Error("failed to open state db", "error", err)
			os.Exit(1)
		}
		defer state.Close()
	}

	var profiles engine.Profiles = engine.DefaultProfiles
	var rec replay.Recorder

	// In -server mode the server analyses with its own profiles.
	if *serverURL == "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			log.Error("failed to load config", "error", err)
			os.Exit(1)
		}
		profiles = cfg

		if !*dryRun {
			dsn := cfg.Database.DSN()
			if err := storage.RunMigrations(dsn, "migrations"); err != nil {
				log.Error("migration failed", "error", err)
				os.Exit(1)
			}
			log.Info("migrations applied")

			db, err := storage.New(ctx, dsn)
			if err != nil {
				log.Error("failed to connect database", "error", err)
				os.Exit(1)
			}
			defer db.Close()
			log.Info("database connected")
			rec = db
		}
	}

	r := replay.New(rec, state, profiles, *userID, *dryRun, log)
	if *serverURL != "" {
		key := *apiKey
		if key == "" {
			key = os.Getenv("FORMCHECK_AUTH_API_KEY")
		}
		r.SetRemote(replay.NewClient(*serverURL, key))
		log.Info("streaming to server", "server", *serverURL)
	}

	stats, err := r.Run(ctx, *tracePath)
	if err != nil {
		log.Error("replay failed", "error", err)
		printStats(log, stats)
		os.Exit(1)
	}

	printStats(log, stats)
	log.Info("replay complete")
}

func printStats(log *slog.Logger, stats *replay.Stats) {
	for _, res := range stats.Results {
		fmt.Printf("%-40s %-8s frames=%-5d reps=%-3d discarded=%-3d avg=%5.1f scores=%v\n",
			res.File, res.Exercise, res.Frames, res.Reps, res.Discarded, res.AvgScore, res.Scores)
	}
	log.Info("replay stats",
		"files_processed", stats.FilesProcessed,
		"files_skipped", stats.FilesSkipped,
		"files_errored", stats.FilesErrored,
		"frames_read", stats.FramesRead,
		"frames_rejected", stats.FramesRejected,
		"reps_counted", stats.RepsCounted,
		"reps_discarded", stats.RepsDiscarded,
		"reps_inserted", stats.RepsInserted,
		"sessions_created", stats.SessionsCreated,
	)
}
