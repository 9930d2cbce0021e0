package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/vaultpass/identity-go/internal/config"
	"github.com/vaultpass/identity-go/internal/crypto"
	"github.com/vaultpass/identity-go/internal/handler"
	"github.com/vaultpass/identity-go/internal/repository"
	"github.com/vaultpass/identity-go/internal/service"
)

func main() {
	flagSet := pflag.NewFlagSet("identity-api", pflag.ContinueOnError)
	envFile := flagSet.String("env-file", ".env", "dotenv file loaded before reading the environment")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	envErr := godotenv.Load(*envFile)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	if envErr != nil {
		logger.Warn().Str("file", *envFile).Msg("no .env file found, using environment variables")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb := repository.NewRedis(ctx, &logger, cfg.Redis)
	defer rdb.Close()

	store := repository.NewStore(rdb, cfg.Redis.KeyPrefix)
	hasher := crypto.NewHasher(crypto.HashParams{
		MemoryKiB:   cfg.Hash.MemoryKiB,
		Iterations:  cfg.Hash.Iterations,
		Parallelism: cfg.Hash.Parallelism,
	})

	identities := repository.NewIdentityIndex(store)
	credentials := repository.NewCredentialStore(store, hasher)
	tokens := repository.NewTokenStore(store)

	authService := service.NewAuthService(store, identities, credentials, tokens, hasher)

	validator, err := handler.NewValidator()
	if err != nil {
		logger.Fatal().Err(err).Msg("validator setup failed")
	}
	authHandler := handler.NewAuthHandler(authService, validator, &logger)

	if cfg.Reconcile.Interval > 0 {
		reconciler := service.NewReconciler(store, identities, credentials, tokens, &logger, cfg.Reconcile.Grace)
		go reconciler.Run(ctx, cfg.Reconcile.Interval)
		logger.Info().
			Dur("interval", cfg.Reconcile.Interval).
			Dur("grace", cfg.Reconcile.Grace).
			Msg("reconciler started")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.NewRouter(&logger, authHandler, tokens, store),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced shutdown")
		os.Exit(1)
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	if cfg.IsProduction() {
		return zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).With().Timestamp().Logger()
}
