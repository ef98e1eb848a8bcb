package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"

	"github.com/mbeck712/troubadour/internal/cache"
	"github.com/mbeck712/troubadour/internal/config"
	"github.com/mbeck712/troubadour/internal/db"
	"github.com/mbeck712/troubadour/internal/logger"
	"github.com/mbeck712/troubadour/internal/orchestrator"
	"github.com/mbeck712/troubadour/internal/pipeline"
	"github.com/mbeck712/troubadour/internal/prefetch"
	"github.com/mbeck712/troubadour/internal/queue"
	"github.com/mbeck712/troubadour/internal/resolver"
	"github.com/mbeck712/troubadour/internal/server"
	"github.com/mbeck712/troubadour/internal/sink"
	"github.com/mbeck712/troubadour/internal/snapshot"
)

const (
	shutdownTimeout = 10 * time.Second
	migrationsPath  = "file://migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Pretty)
	logger.Log.Info().Msg("Starting troubadour")

	database, err := db.New(cfg.Cache.DatabasePath)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to open database")
	}
	defer database.Close()

	sqlDB, err := database.GetSQLDB()
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to access database handle")
	}
	if err := db.RunMigrations(sqlDB, migrationsPath); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to run migrations")
	}

	fs := afero.NewOsFs()

	fileCache, err := cache.New(fs, database, cfg.Cache.Dir, cfg.Cache.MaxBytes)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize file cache")
	}

	ytdlp := resolver.NewYtdlpClient(cfg.Resolver.YtdlpBin, cfg.Resolver.CookieFile)
	res := resolver.New(
		ytdlp,
		resolver.NewEmbedExtractor(cfg.Resolver.ExtractionTimeout),
		resolver.NewHTTPProber(),
		fs,
	)
	prefetcher := prefetch.New(ytdlp, fileCache, fs)

	snapshots := snapshot.New(fs, cfg.Snapshot.Path, cfg.Snapshot.FreshFor)

	discord, err := sink.NewDiscord(cfg.Discord.Token)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to connect to discord")
	}
	defer discord.Close()

	runner := pipeline.NewFFmpegRunner(pipeline.Options{
		FFmpegBin:   cfg.Playback.FFmpegBin,
		BitrateKbps: cfg.Playback.AudioBitrateKbps,
	})

	orc := orchestrator.New(orchestrator.Deps{
		Queue:      queue.New(),
		Resolver:   res,
		Live:       ytdlp,
		Prefetcher: prefetcher,
		Sink:       discord,
		Runner:     runner,
		Snapshots:  snapshots,
		Notifier:   discord,
	}, orchestrator.Config{
		IdleDisconnect:   cfg.Playback.IdleDisconnect,
		SnapshotInterval: cfg.Snapshot.Interval,
	})
	defer orc.Close()

	// Offer crash resume before accepting anything new
	resumeCtx, cancelResume := context.WithTimeout(context.Background(), 30*time.Second)
	if resumed, err := orc.Resume(resumeCtx); err != nil {
		logger.Log.Warn().Err(err).Msg("Resume from snapshot failed")
	} else if resumed {
		logger.Log.Info().Msg("Resumed playback from snapshot")
	}
	cancelResume()

	srv := server.New(cfg, database, orc, discord)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Log.Info().Msg("Shutdown signal received")

	orc.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error().Err(err).Msg("Shutdown error")
	}

	logger.Log.Info().Msg("Troubadour stopped")
}
