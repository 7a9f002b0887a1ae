// Command voxlog is the Discord voice-channel recording bot. It joins a
// voice channel on command, streams each speaker's audio through a
// speech-to-text provider, and writes a per-session transcript.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxlog/voxlog/internal/app"
	"github.com/voxlog/voxlog/internal/config"
	discordbot "github.com/voxlog/voxlog/internal/discord"
	"github.com/voxlog/voxlog/internal/discord/commands"
	"github.com/voxlog/voxlog/internal/health"
	"github.com/voxlog/voxlog/internal/observe"
	"github.com/voxlog/voxlog/internal/transcript"
	"github.com/voxlog/voxlog/internal/transcript/postgres"
	"github.com/voxlog/voxlog/pkg/audio"
	"github.com/voxlog/voxlog/pkg/audio/opus"
	sttpkg "github.com/voxlog/voxlog/pkg/provider/stt"
	"github.com/voxlog/voxlog/pkg/provider/stt/deepgram"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxlog: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxlog: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel))

	slog.Info("voxlog starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Output directories ────────────────────────────────────────────────────
	for _, dir := range []string{cfg.Recording.RecordingsDir, cfg.Recording.TranscriptsDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			slog.Error("failed to create output directory", "dir", dir, "err", err)
			return 1
		}
	}

	// ── STT provider ──────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg, cfg)

	sttProvider, err := reg.CreateSTT(cfg.Providers.STT)
	if err != nil {
		slog.Error("failed to create stt provider", "name", cfg.Providers.STT.Name, "err", err)
		return 1
	}
	slog.Info("provider created", "kind", "stt", "name", cfg.Providers.STT.Name)

	// ── Transcript archive (optional) ─────────────────────────────────────────
	var archive transcript.Archive
	var archiveStore *postgres.Store
	if dsn := cfg.Archive.PostgresDSN; dsn != "" {
		store, err := postgres.New(ctx, dsn)
		if err != nil {
			slog.Error("failed to connect transcript archive", "err", err)
			return 1
		}
		archive = store
		archiveStore = store
		defer store.Close()
		slog.Info("transcript archive connected")
	}

	// ── Discord bot ───────────────────────────────────────────────────────────
	bot, err := discordbot.New(ctx, cfg.Discord)
	if err != nil {
		slog.Error("failed to create Discord bot", "err", err)
		return 1
	}
	slog.Info("discord bot connected", "guild_id", cfg.Discord.GuildID)

	// ── Recording manager ─────────────────────────────────────────────────────
	manager := app.NewManager(cfg, app.Providers{
		Audio: bot.Platform(),
		STT:   sttProvider,
		NewDecoder: func() (audio.Decoder, error) {
			return opus.NewDecoder()
		},
		Archive: archive,
	}, observe.DefaultMetrics())

	commands.NewRecorderCommands(bot, manager, bot.Permissions())

	// ── HTTP server (health, metrics) ─────────────────────────────────────────
	httpSrv := newHTTPServer(cfg.Server.ListenAddr, bot, archiveStore)
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("discord bot error", "err", err)
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := manager.Close(); err != nil {
		slog.Warn("recording manager close error", "err", err)
	}
	if err := bot.Close(); err != nil {
		slog.Warn("discord bot close error", "err", err)
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// registerBuiltinProviders wires the STT provider factories that ship with
// voxlog into reg.
func registerBuiltinProviders(reg *config.Registry, cfg *config.Config) {
	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (sttpkg.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithBaseURL(entry.BaseURL))
		}
		if cfg.Recording.Language != "" {
			opts = append(opts, deepgram.WithLanguage(cfg.Recording.Language))
		}
		opts = append(opts, deepgram.WithSampleRate(opus.OutputSampleRate))
		return deepgram.New(entry.APIKey, opts...)
	})
}

// newHTTPServer builds the HTTP server exposing health probes and the
// Prometheus metrics endpoint.
func newHTTPServer(addr string, bot *discordbot.Bot, archiveStore *postgres.Store) *http.Server {
	checkers := []health.Checker{
		{
			Name: "discord",
			Check: func(_ context.Context) error {
				if bot.Session().State.User == nil {
					return errors.New("gateway session not established")
				}
				return nil
			},
		},
	}
	if archiveStore != nil {
		checkers = append(checkers, health.Checker{
			Name: "archive",
			Check: func(ctx context.Context) error {
				return archiveStore.Ping(ctx)
			},
		})
	}

	mux := http.NewServeMux()
	health.New(checkers...).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
