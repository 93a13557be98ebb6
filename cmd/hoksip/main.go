package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata" // reminder timezones on hosts without zoneinfo

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/conorfennell/hoksip/internal/bot"
	"github.com/conorfennell/hoksip/internal/config"
	"github.com/conorfennell/hoksip/internal/gitsource"
	"github.com/conorfennell/hoksip/internal/logging"
	"github.com/conorfennell/hoksip/internal/reminder"
	"github.com/conorfennell/hoksip/internal/reward"
	"github.com/conorfennell/hoksip/internal/session"
	"github.com/conorfennell/hoksip/internal/storage"
	decksync "github.com/conorfennell/hoksip/internal/sync"
	"github.com/conorfennell/hoksip/internal/web"
)

const usage = `usage: hoksip <command> [flags]

commands:
  serve    run the Telegram bot, the HTTP API and reminders
  import   import a deck directory or git repository into a subject
  token    store the Telegram bot token in the OS keyring`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "serve":
		err = serve(os.Args[2:])
	case "import":
		err = importDeck(os.Args[2:])
	case "token":
		err = storeToken(os.Args[2:])
	case "-h", "--help", "help":
		fmt.Println(usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s\n", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "hoksip:", err)
		os.Exit(1)
	}
}

// setup parses flags and loads config, logger and database.
func setup(fs *pflag.FlagSet, args []string) (config.Config, *zap.Logger, *storage.DB, error) {
	if err := fs.Parse(args); err != nil {
		return config.Config{}, nil, nil, err
	}
	cfg, err := config.Load(fs)
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	logger, err := logging.New(logging.Config{
		Development: cfg.Env == "development",
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		MaxSizeMB:   cfg.Log.MaxSizeMB,
		MaxBackups:  cfg.Log.MaxBackups,
		MaxAgeDays:  cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return config.Config{}, nil, nil, err
	}

	db, err := storage.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		logger.Sync()
		return config.Config{}, nil, nil, err
	}
	logger.Info("database opened", zap.String("driver", cfg.Database.Driver))
	return cfg, logger, db, nil
}

func serve(args []string) error {
	fs := config.Flags("serve")
	fs.String("http.addr", "127.0.0.1:8080", "listen address of the JSON API, empty to disable")
	cfg, logger, db, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledger := reward.NewLedger(db, loc, logger.Named("reward"))
	engine := session.NewEngine(session.NewRegistry(), db, ledger, db, session.Config{
		IdleTimeout:   cfg.Session.IdleTimeout,
		SweepInterval: cfg.Session.SweepInterval,
		Location:      loc,
	}, logger.Named("session"))
	if _, err := engine.Restore(ctx); err != nil {
		logger.Warn("failed to restore sessions", zap.Error(err))
	}

	var wg sync.WaitGroup
	goRun := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}
	goRun(func() { engine.Run(ctx) })

	var telegram *bot.TelegramAPI
	if cfg.Telegram.Token != "" {
		api, err := bot.NewBotAPI(cfg.Telegram.Token, cfg.Telegram.Debug)
		if err != nil {
			return fmt.Errorf("failed to connect to telegram: %w", err)
		}
		logger.Info("authorized on telegram", zap.String("account", api.Self.UserName))

		telegram = bot.NewTelegramAPI(api, engine, db, ledger, bot.Options{Today: engine.Today}, logger.Named("bot"))
		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := api.GetUpdatesChan(u)
		goRun(func() { telegram.Run(ctx, updates) })
		goRun(func() {
			<-ctx.Done()
			api.StopReceivingUpdates()
		})
	} else {
		logger.Warn("no telegram token configured, bot disabled")
	}

	if cfg.Reminder.Enabled && telegram != nil {
		scheduler := reminder.NewScheduler(db, telegram, cfg.Reminder.Hours, loc, logger.Named("reminder"))
		scheduler.Busy = func(userID string) bool { return engine.Registry().Lookup(userID) != nil }
		goRun(func() { scheduler.Run(ctx) })
	}

	if cfg.HTTP.Addr != "" {
		importer := decksync.NewImporter(db, gitsource.NewSyncer(logger.Named("git"), nil), cfg.ReposDir, loc, logger.Named("import")).
			Confined(cfg.HTTP.ImportRoot)
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           web.NewServer(db, engine, importer, engine.Today, logger.Named("web")),
			ReadHeaderTimeout: 10 * time.Second,
		}
		goRun(func() {
			logger.Info("http api listening", zap.String("addr", cfg.HTTP.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server failed", zap.Error(err))
				stop()
			}
		})
		goRun(func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		})
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

func importDeck(args []string) error {
	fs := config.Flags("import")
	owner := fs.String("owner", "", "user id that owns the imported cards")
	subject := fs.String("subject", "", "subject to import into")
	source := fs.String("source", "", "directory or git URL of the deck")
	cfg, logger, db, err := setup(fs, args)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer db.Close()

	if *owner == "" || *subject == "" || *source == "" {
		return errors.New("--owner, --subject and --source are required")
	}
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	importer := decksync.NewImporter(db, gitsource.NewSyncer(logger.Named("git"), os.Stderr), cfg.ReposDir, loc, logger)
	report, err := importer.Import(ctx, *owner, *subject, *source)
	if err != nil {
		return err
	}

	fmt.Printf("Scanned %d files: %d entries, %d added, %d duplicates, %d invalid.\n",
		report.Files, report.Parsed, report.Added, report.Duplicates, report.Invalid)
	if len(report.Errors) > 0 {
		fmt.Println("\nErrors:")
		for _, e := range report.Errors {
			fmt.Printf("- %s\n", e)
		}
	}
	return nil
}

func storeToken(args []string) error {
	fs := pflag.NewFlagSet("token", pflag.ContinueOnError)
	user := fs.String("user", "", "keyring account name, matching telegram.keyring_user")
	token := fs.String("token", os.Getenv("HOKSIP_TELEGRAM__TOKEN"), "bot token to store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *user == "" {
		return errors.New("--user is required")
	}
	if err := config.StoreToken(*user, *token); err != nil {
		return err
	}
	fmt.Printf("Token stored for %s.\n", *user)
	return nil
}
