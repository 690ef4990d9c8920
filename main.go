// Command race-tender is the main entrypoint for the tournament race
// orchestrator. It:
//   - Loads configuration and initializes structured logging.
//   - Connects to Postgres and runs idempotent migrations.
//   - Starts the result sweep job and the Google OAuth token refresher.
//   - Exposes the HTTP API with health probes, race triggers, and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/joho/godotenv"
	"github.com/onnwee/race-tender/chat"
	"github.com/onnwee/race-tender/config"
	"github.com/onnwee/race-tender/db"
	"github.com/onnwee/race-tender/discordapi"
	"github.com/onnwee/race-tender/identity"
	"github.com/onnwee/race-tender/ledger"
	"github.com/onnwee/race-tender/oauth"
	"github.com/onnwee/race-tender/race"
	"github.com/onnwee/race-tender/racetime"
	"github.com/onnwee/race-tender/randomizer"
	"github.com/onnwee/race-tender/registry"
	"github.com/onnwee/race-tender/schedule"
	"github.com/onnwee/race-tender/server"
	"github.com/onnwee/race-tender/session"
	"github.com/onnwee/race-tender/sheetsapi"
	"github.com/onnwee/race-tender/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load(".env")

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
		// keep default
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	shutdown, err := telemetry.InitTracing("race-tender", "1.0.0")
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdown()

	database, err := db.Connect()
	if err != nil {
		slog.Error("failed to open db", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if err := database.Close(); err != nil {
			slog.Error("failed to close database", slog.Any("err", err))
		}
	}()

	// Versioned migrations first, embedded SQL as the fallback for databases
	// created before version tracking existed.
	slog.Info("running database migrations", slog.String("component", "db_migrate"))
	if err := db.RunMigrations(database); err != nil {
		slog.Warn("versioned migrations failed, attempting embedded SQL fallback",
			slog.Any("err", err), slog.String("component", "db_migrate"))
		if err := db.Migrate(context.Background(), database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Wire clients and the orchestrator.
	discord := &discordapi.Client{BaseURL: cfg.DiscordBaseURL, BotToken: cfg.DiscordBotToken}
	rt := &racetime.Client{BaseURL: cfg.RacetimeBaseURL, Category: cfg.RacetimeCategory, Token: cfg.RacetimeToken}
	sched := &schedule.Client{BaseURL: cfg.ScheduleBaseURL}
	rando := &randomizer.Client{BaseURL: cfg.RandomizerBaseURL}
	reg := &registry.Registry{DB: database, Discord: discord}
	resolver := &identity.Resolver{DB: database, Discord: discord}
	sheets := sheetsapi.New(cfg, &db.TokenStoreAdapter{DB: database})

	orch := &race.Orchestrator{
		Ledger:   &ledger.Store{DB: database},
		Sessions: &session.Builder{DB: database, Schedule: sched, Registry: reg, Resolver: resolver, Randomizer: rando},
		Racetime: rt,
		Notifier: &race.Notifier{Discord: discord},
		Results: &sheetsapi.ResultWriter{
			Service:       sheets,
			SpreadsheetID: cfg.ResultsSheetID,
			ValueRange:    cfg.ResultsSheetRange,
		},
	}
	if err := cfg.ValidateAnnouncerReady(); err == nil {
		orch.Announcer = &chat.Announcer{Username: cfg.TwitchBotUsername, OAuthToken: cfg.TwitchOAuthToken}
	} else {
		slog.Info("restream announcer disabled", slog.Any("reason", err))
	}

	go race.StartResultSweepJob(ctx, orch)

	// Keeps the Google token fresh between sweeps so sheet appends never
	// stall on an expired token.
	refresher := &oauth.Refresher{
		DB:       database,
		Provider: "google",
		Interval: 10 * time.Minute,
		Window:   20 * time.Minute,
		Refresh: func(rctx context.Context, refreshToken string) (string, string, time.Time, string, error) {
			if cfg.GoogleClientID == "" {
				return "", "", time.Time{}, "", context.Canceled
			}
			oc := &oauth2.Config{ClientID: cfg.GoogleClientID, ClientSecret: cfg.GoogleClientSecret, Endpoint: google.Endpoint, RedirectURL: cfg.GoogleRedirectURI}
			newTok, err := oc.TokenSource(rctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
			if err != nil {
				return "", "", time.Time{}, "", err
			}
			return newTok.AccessToken, newTok.RefreshToken, newTok.Expiry, "", nil
		},
	}
	refresher.Start(ctx)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	deps := server.Deps{DB: database, Cfg: cfg, Orchestrator: orch, Registry: reg, Sheets: sheets}
	go func() {
		if err := server.Start(ctx, deps, addr); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")
}
