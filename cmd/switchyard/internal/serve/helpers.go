package serve

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/tinyland-inc/switchyard/cmd/switchyard/internal"
	"github.com/tinyland-inc/switchyard/pkg/bus"
	"github.com/tinyland-inc/switchyard/pkg/config"
	"github.com/tinyland-inc/switchyard/pkg/logger"
	"github.com/tinyland-inc/switchyard/pkg/provider/telegram"
	"github.com/tinyland-inc/switchyard/pkg/relay"
	"github.com/tinyland-inc/switchyard/pkg/store"
	"github.com/tinyland-inc/switchyard/pkg/store/memory"
	redisstore "github.com/tinyland-inc/switchyard/pkg/store/redis"
	"github.com/tinyland-inc/switchyard/pkg/store/sqlite"
)

func serveCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if debug {
		cfg.LogLevel = "debug"
	}
	applyLogLevel(cfg.LogLevel)
	if cfg.LogLevel == "debug" {
		fmt.Println("🔍 Debug mode enabled")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("error opening store: %w", err)
	}

	registry := relay.NewRegistry(st)
	if err := registry.Load(ctx); err != nil {
		st.Close()
		return fmt.Errorf("error loading registry: %w", err)
	}
	pending, active := registry.Snapshot()
	fmt.Printf("✓ Store loaded (%s backend, %d pending, %d active)\n",
		cfg.Storage.Backend, len(pending), len(active))

	msgBus := bus.NewMessageBus()
	tg, err := telegram.New(telegram.Options{
		Token:       cfg.Telegram.Token,
		Debug:       cfg.Telegram.Debug || cfg.LogLevel == "debug",
		PollTimeout: cfg.Telegram.PollTimeout,
	}, msgBus)
	if err != nil {
		st.Close()
		return fmt.Errorf("error creating telegram provider: %w", err)
	}

	operatorIDs, err := cfg.Operators.ChatIDs()
	if err != nil {
		st.Close()
		return err
	}

	bucket := relay.NewTokenBucket(cfg.RateLimit.Capacity, cfg.RateLimit.FillRate)
	forwarder := relay.NewForwarder(tg, bucket, ForwarderOptions(cfg))
	router := relay.NewRouter(registry, forwarder, relay.NewCorrelator(), tg, st, msgBus, relay.RouterConfig{
		OperatorIDs:       operatorIDs,
		OperatorUsernames: cfg.Operators.Usernames,
		ResolveInterval:   time.Duration(cfg.Operators.ResolveInterval) * time.Second,
		SweepCron:         cfg.Maintenance.SweepCron,
		CorrelationTTL:    time.Duration(cfg.Maintenance.CorrelationTTLHours) * time.Hour,
	})

	if err := tg.Start(ctx); err != nil {
		st.Close()
		return fmt.Errorf("error starting telegram provider: %w", err)
	}
	fmt.Println("✓ Telegram provider started")

	go router.Run(ctx)
	router.StartMaintenance(ctx)
	router.StartOperatorResolution(ctx)

	if router.Operators().Len() == 0 && len(cfg.Operators.Usernames) == 0 {
		fmt.Println("⚠ Warning: no operators configured, user messages have nowhere to go")
	}
	fmt.Printf("✓ Relay started (%d operators, %d usernames pending resolution)\n",
		router.Operators().Len(), len(cfg.Operators.Usernames))
	fmt.Println("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	msgBus.Close()
	tg.Stop()
	if err := st.Close(); err != nil {
		logger.WarnCF("serve", "Store close failed", map[string]any{"error": err.Error()})
	}
	fmt.Println("✓ Relay stopped")

	return nil
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Backend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLiteFile())
	case "redis":
		return redisstore.New(ctx, redisstore.Config{
			Addr:     cfg.Storage.Redis.Addr,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// ForwarderOptions converts the config durations into forwarder options.
func ForwarderOptions(cfg *config.Config) relay.ForwarderOptions {
	return relay.ForwarderOptions{
		MaxRetries:     cfg.Forward.MaxRetries,
		AcquireTimeout: time.Duration(cfg.Forward.AcquireTimeoutMS) * time.Millisecond,
		ThrottleMargin: time.Duration(cfg.Forward.ThrottleMarginMS) * time.Millisecond,
		BackoffBase:    time.Duration(cfg.Forward.BackoffBaseMS) * time.Millisecond,
	}
}

func applyLogLevel(level string) {
	switch level {
	case "debug":
		logger.SetLevel(logger.DEBUG)
	case "warn":
		logger.SetLevel(logger.WARN)
	case "error":
		logger.SetLevel(logger.ERROR)
	default:
		logger.SetLevel(logger.INFO)
	}
}
