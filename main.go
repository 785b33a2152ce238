package main

import (
	"context"
	"errors"
	"flag"
	"log"
	oshttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"parley/internal/api"
	"parley/internal/auth"
	"parley/internal/commands"
	"parley/internal/config"
	"parley/internal/conversations"
	"parley/internal/http"
	"parley/internal/logging"
	"parley/internal/messages"
	"parley/internal/presence"
	"parley/internal/storage"
	"parley/internal/typing"
	"parley/internal/users"
	"parley/internal/webhook"
	"parley/internal/ws"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func run(ctx context.Context, args []string) error {
	flags := flag.NewFlagSet("parley", flag.ContinueOnError)
	sweep := flags.String("sweep", "", "Run a sweep (presence or typing) on the running server and exit")
	if err := flags.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load(*sweep != "")
	if err != nil {
		return err
	}

	if *sweep != "" {
		return commands.Sweep(ctx, *sweep, cfg, os.Stdout)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	bbStorage, err := storage.NewBboltStorage(cfg.DBFile)
	if err != nil {
		return err
	}
	defer func() { _ = bbStorage.Close() }()

	verifier, err := auth.NewVerifier(ctx, auth.Config{
		Secret:   cfg.AuthSecret,
		Issuer:   cfg.AuthIssuer,
		CacheTTL: cfg.TokenCacheTTL,
	})
	if err != nil {
		return err
	}

	userDirectory := users.NewDirectory(bbStorage)
	typingRegistry := typing.NewRegistry(bbStorage, cfg.TypingTTL)
	registry := api.NewRegistry(api.Services{
		Users:         userDirectory,
		Presence:      presence.NewTracker(bbStorage),
		Typing:        typingRegistry,
		Conversations: conversations.NewDirectory(bbStorage),
		Messages:      messages.NewStore(bbStorage),
	})

	liveLogger := logger.Named("live")
	hub := ws.NewHub(registry, liveLogger)
	bbStorage.OnCommit(hub.Notify)

	presenceSweeper := presence.NewSweeper(bbStorage, cfg.PresenceTimeout, cfg.PresenceSweepInterval, logger.Named("presence"))

	adminServer := http.NewAdminServer(
		api.NewAdminHandler(presenceSweeper, typingRegistry, userDirectory, hub, logger.Named("admin")),
		cfg.AdminAddr,
		logger,
	)
	apiServer := http.NewAPIServer(
		api.New(registry, verifier, logger.Named("api")),
		ws.NewServer(verifier, hub, registry, liveLogger),
		webhook.NewHandler(cfg.WebhookSecret, userDirectory, logger.Named("webhook")),
		cfg.APIAddr,
		logger,
	)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return hub.Run(gCtx)
	})

	g.Go(func() error {
		return presenceSweeper.Run(gCtx)
	})

	g.Go(func() error {
		return typingRegistry.Run(gCtx, cfg.TypingSweepInterval, logger.Named("typing"))
	})

	// Start Admin Server
	g.Go(func() error {
		err := adminServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Start API Server
	g.Go(func() error {
		err := apiServer.Start()
		if err != nil && err != oshttp.ErrServerClosed {
			return err
		}
		return nil
	})

	// Wait for context cancellation (signal)
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("Shutting down servers...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Admin server shutdown error", zap.Error(err))
		}
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("API server shutdown error", zap.Error(err))
		}
		return nil
	})

	return g.Wait()
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Application error: %v", err)
	}
}
