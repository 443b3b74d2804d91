package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"codedrop/internal/api"
	"codedrop/internal/config"
	"codedrop/internal/gate"
	"codedrop/internal/redis"
	"codedrop/internal/report"
	"codedrop/internal/service/broker"
	"codedrop/internal/storage"
	"codedrop/internal/telegram"
	"codedrop/internal/worker"
)

const shutdownTimeout = 30 * time.Second

var (
	configPath string
	dbType     string
)

var rootCmd = &cobra.Command{
	Use:           "codedrop",
	Short:         "Share media through short retrieval codes on a Telegram bot",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook and stats HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the files table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		log.Printf("database migrated (%s)", dbType)
		return nil
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the stats rollup as JSON",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		store, err := storage.NewFileStore(db, dbType)
		if err != nil {
			return err
		}

		svc := broker.NewService(store, nil, nil, cfg.Telegram.BotUsername)
		stats, err := svc.Stats(cmd.Context())
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	},
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Manage the bot's webhook registration",
}

var webhookSetCmd = &cobra.Command{
	Use:   "set <url>",
	Short: "Point the bot's webhook at url",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if err := newTelegramClient(cfg).SetWebhook(cmd.Context(), args[0]); err != nil {
			return fmt.Errorf("set webhook: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "webhook set to %s\n", args[0])
		return nil
	},
}

var webhookDeleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Remove the bot's webhook",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(true)
		if err != nil {
			return err
		}
		if err := newTelegramClient(cfg).DeleteWebhook(cmd.Context()); err != nil {
			return fmt.Errorf("delete webhook: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "webhook deleted")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CODEDROP_CONFIG"), "path to config.json")
	rootCmd.PersistentFlags().StringVar(&dbType, "db", envOr("CODEDROP_DB", "sqlite3"), "database driver: sqlite3, mysql or postgres")

	webhookCmd.AddCommand(webhookSetCmd)
	webhookCmd.AddCommand(webhookDeleteCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, statsCmd, webhookCmd)
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()
	store, err := storage.NewFileStore(db, dbType)
	if err != nil {
		return err
	}

	tg := newTelegramClient(cfg)
	gateCache, closeCache := newGateCache(cfg)
	defer closeCache()
	accessGate := gate.New(cfg.Telegram.ForceChannel, tg, gateCache, seconds(cfg.Telegram.GateTimeout)).
		WithJoinURL(cfg.Telegram.ForceChannelURL)
	if accessGate.Enabled() {
		log.Printf("retrievals gated on %s", cfg.Telegram.ForceChannel)
		if accessGate.JoinURL() == "" {
			log.Printf("no public link for %s, set FORCE_CHANNEL_URL to offer a Join button", cfg.Telegram.ForceChannel)
		}
	}
	svc := broker.NewService(store, accessGate, tg, cfg.Telegram.BotUsername)

	dispatcher := worker.NewDispatcher(worker.DispatcherConfig{
		MinWorkers:  cfg.BasicConfig.MinWorkers,
		MaxWorkers:  cfg.BasicConfig.MaxWorkers,
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: seconds(cfg.BasicConfig.WorkerIdleTimeout),
		JobTimeout:  seconds(cfg.BasicConfig.JobTimeout),
	}, svc.HandleUpdate)

	reporter, err := report.New(svc, cfg.BasicConfig.StatsSchedule)
	if err != nil {
		return err
	}
	reporter.Start()
	defer reporter.Stop()

	router := gin.Default()
	api.NewHandler(dispatcher, svc, store, cfg.BasicConfig.AdminSecret).RegisterRoutes(router)
	server := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("listening on %s", server.Addr)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			dispatcher.Shutdown(context.Background())
			return fmt.Errorf("server stopped: %w", err)
		}
	case <-ctx.Done():
		log.Printf("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("http shutdown: %v", err)
	}
	// the server no longer accepts updates; finish the ones already queued
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker shutdown: %v", err)
	}
	return nil
}

func loadConfig(needBot bool) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if needBot {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func openDatabase(cfg *config.Config) (*sql.DB, error) {
	log.Printf("dbType: %s", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return db, nil
}

func newTelegramClient(cfg *config.Config) *telegram.Client {
	return telegram.NewClient(cfg.Telegram.APIBase, cfg.Telegram.BotToken, seconds(cfg.Telegram.RequestTimeout))
}

// newGateCache prefers redis when configured and reachable, else an
// in-process LRU. A negative TTL disables caching.
func newGateCache(cfg *config.Config) (gate.Cache, func()) {
	noop := func() {}
	if cfg.Telegram.GateCacheTTL < 0 {
		return nil, noop
	}
	ttl := seconds(cfg.Telegram.GateCacheTTL)
	if cfg.Redis.Enabled {
		rdb, err := redis.NewRedisClient(cfg)
		if err == nil {
			log.Printf("gate cache: redis %s", redis.Addr(cfg.Redis))
			return gate.NewRedisCache(rdb, ttl), func() { rdb.Close() }
		}
		log.Printf("redis unavailable, using in-process gate cache: %v", err)
	}
	return gate.NewLRUCache(cfg.Telegram.GateCacheSize, ttl), noop
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
