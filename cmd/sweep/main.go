// Command sweep runs one result sweep pass and exits. It is meant for
// operators recovering from an outage: races that finished while the service
// was down get recorded without waiting for the background job.
//
// Usage:
//
//	sweep [--dry-run]
//
// Flags:
//
//	--dry-run: list unrecorded races without touching the room API or the sheet
//
// Environment:
//
//	DB_DSN plus the standard service configuration (racetime, Discord,
//	schedule, randomizer, Google) for a real pass.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/race-tender/config"
	"github.com/onnwee/race-tender/db"
	"github.com/onnwee/race-tender/discordapi"
	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/race"
	"github.com/onnwee/race-tender/racetime"
	"github.com/onnwee/race-tender/randomizer"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/schedule"
	"github.com/onnwee/race-tender/session"
	"github.com/onnwee/race-tender/sheetsapi"
	"github.com/onnwee/race-tender/telemetry"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "List unrecorded races without recording anything")
	flag.Parse()

	_ = godotenv.Load(".env")
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	telemetry.Init()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	ctx := context.Background()
	store := &ledger.Store{DB: database}

	if *dryRun {
		records, err := store.ListUnrecorded(ctx)
		if err != nil {
			slog.Error("list unrecorded races failed", slog.Any("err", err))
			os.Exit(1)
		}
		if len(records) == 0 {
			slog.Info("no unrecorded races")
			return
		}
		for _, rec := range records {
			slog.Info("would sweep",
				slog.String("room_id", rec.RoomID),
				slog.Int64("episode_id", rec.EpisodeID),
				slog.String("event", rec.Event),
				slog.String("status", rec.Status))
		}
		return
	}

	discord := &discordapi.Client{BaseURL: cfg.DiscordBaseURL, BotToken: cfg.DiscordBotToken}
	sheets := sheetsapi.New(cfg, &db.TokenStoreAdapter{DB: database})
	orch := &race.Orchestrator{
		Ledger: store,
		Sessions: &session.Builder{
			DB:         database,
			Schedule:   &schedule.Client{BaseURL: cfg.ScheduleBaseURL},
			Registry:   &registry.Registry{DB: database, Discord: discord},
			Resolver:   &identity.Resolver{DB: database, Discord: discord},
			Randomizer: &randomizer.Client{BaseURL: cfg.RandomizerBaseURL},
		},
		Racetime: &racetime.Client{BaseURL: cfg.RacetimeBaseURL, Category: cfg.RacetimeCategory, Token: cfg.RacetimeToken},
		Notifier: &race.Notifier{Discord: discord},
		Results: &sheetsapi.ResultWriter{
			Service:       sheets,
			SpreadsheetID: cfg.ResultsSheetID,
			ValueRange:    cfg.ResultsSheetRange,
		},
	}

	if err := orch.SweepOnce(ctx); err != nil {
		slog.Error("sweep failed", slog.Any("err", err))
		os.Exit(1)
	}
	slog.Info("sweep completed")
}
