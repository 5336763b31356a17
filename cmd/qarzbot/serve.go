package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/susu3304/qarzbot/internal/api"
	"github.com/susu3304/qarzbot/internal/bot"
	"github.com/susu3304/qarzbot/internal/config"
	"github.com/susu3304/qarzbot/internal/contacts"
	"github.com/susu3304/qarzbot/internal/db"
	"github.com/susu3304/qarzbot/internal/dialogue"
	"github.com/susu3304/qarzbot/internal/discord"
	"github.com/susu3304/qarzbot/internal/extract"
	"github.com/susu3304/qarzbot/internal/ledger"
	"github.com/susu3304/qarzbot/internal/logutil"
	"github.com/susu3304/qarzbot/internal/memstore"
	"github.com/susu3304/qarzbot/internal/telegram"
	"github.com/susu3304/qarzbot/internal/transcribe"
	"github.com/susu3304/qarzbot/internal/users"
)

// store is everything the bot persists. Both the Postgres and the
// in-memory backend implement it.
type store interface {
	users.Store
	contacts.Store
	ledger.Store
	dialogue.SessionStore
}

// transport is a chat network the bot can talk on.
type transport interface {
	bot.Sender
	run(ctx context.Context, b *bot.Bot) error
}

type telegramTransport struct{ *telegram.Transport }

func (t telegramTransport) run(ctx context.Context, b *bot.Bot) error {
	if err := t.RegisterCommands(); err != nil {
		return err
	}
	return t.Run(ctx, b.Handle)
}

type discordTransport struct{ *discord.Transport }

func (t discordTransport) run(ctx context.Context, b *bot.Bot) error {
	return t.Run(ctx, b.Handle)
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat bot and the web API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	log, err := logutil.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	slog.SetDefault(log)

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	ledgerSvc := ledger.NewService(st, log)
	directory := contacts.NewDirectory(st)
	engine := dialogue.New(dialogue.Deps{
		Sessions:    st,
		Ledger:      ledgerSvc,
		Directory:   directory,
		Users:       st,
		Extractor:   extract.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL, extract.WithModel(cfg.OpenAIModel)),
		Transcriber: transcribe.NewClient(cfg.OpenAIKey, cfg.OpenAIBaseURL),
		Logger:      log,
	}, dialogue.Options{
		ExternalTimeout: cfg.ExternalTimeout,
		SessionTTL:      cfg.SessionTTL,
		DefaultCurrency: cfg.DefaultCurrency,
	})

	tr, err := openTransport(cfg, log)
	if err != nil {
		return err
	}

	apiServer := api.New(cfg, ledgerSvc, st, log)
	b := bot.New(bot.Deps{
		Engine:    engine,
		Ledger:    ledgerSvc,
		Directory: directory,
		Users:     st,
		Sender:    tr,
		Web:       apiServer,
		Logger:    log,
	})
	b.Start(cfg.SweepInterval)
	defer b.Stop()

	// Start API server
	go func() {
		if err := apiServer.Start(ctx); err != nil {
			log.Error("API server error", "err", err)
		}
	}()

	log.Info("bot started", "transport", cfg.Transport, "storage", cfg.Storage)
	err = tr.run(ctx, b)
	log.Info("shutting down")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("using in-memory storage, data is lost on restart")
		return memstore.New(), func() {}, nil
	}

	// Connect to database
	database, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Run migrations
	if err := database.RunMigrations(ctx); err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return database, database.Close, nil
}

func openTransport(cfg *config.Config, log *slog.Logger) (transport, error) {
	switch cfg.Transport {
	case config.TransportDiscord:
		t, err := discord.New(cfg.DiscordToken, log)
		if err != nil {
			return nil, err
		}
		return discordTransport{t}, nil
	default:
		t, err := telegram.New(cfg.TelegramToken, log)
		if err != nil {
			return nil, err
		}
		return telegramTransport{t}, nil
	}
}

var (
	_ store = (*db.DB)(nil)
	_ store = (*memstore.Store)(nil)
)
