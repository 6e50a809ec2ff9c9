// Package main runs the raffle daemon: the raffle itself, a local randomness
// coordinator, the automation keeper and the HTTP API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/raffle/internal/automation"
	"github.com/R3E-Network/raffle/internal/config"
	"github.com/R3E-Network/raffle/internal/engine/bus"
	"github.com/R3E-Network/raffle/internal/engine/events"
	"github.com/R3E-Network/raffle/internal/engine/metrics"
	"github.com/R3E-Network/raffle/internal/gasbank"
	"github.com/R3E-Network/raffle/internal/httpapi"
	"github.com/R3E-Network/raffle/internal/raffle"
	"github.com/R3E-Network/raffle/internal/storage"
	"github.com/R3E-Network/raffle/internal/storage/postgres"
	"github.com/R3E-Network/raffle/internal/vrf"
	"github.com/R3E-Network/raffle/pkg/logger"
)

const (
	eventBufferSize = 4096
	shutdownTimeout = 30 * time.Second
)

func main() {
	configPath := flag.String("config", "", "Path to YAML config file")
	envFile := flag.String("env-file", ".env", "Path to .env file")
	flag.Parse()

	if v := os.Getenv("RAFFLE_CONFIG"); v != "" && *configPath == "" {
		*configPath = v
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raffled: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log)
	if err := run(cfg, log); err != nil {
		log.WithError(err).Fatal("raffled exited")
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector("raffle")
	eventLog := events.NewRingBuffer(eventBufferSize)
	bank := gasbank.NewManager(log.Named("gasbank"))

	coordCfg, err := cfg.VRF.Coordinator()
	if err != nil {
		return err
	}
	coordinator := vrf.NewMockCoordinator(coordCfg,
		vrf.WithLogger(log.Named("vrf")),
		vrf.WithEvents(eventLog),
		vrf.WithMetrics(collector),
	)

	raffleCfg, err := cfg.Raffle.ToRaffle()
	if err != nil {
		return err
	}
	if raffleCfg.SubscriptionID == 0 {
		raffleCfg.SubscriptionID = coordinator.CreateSubscription()
	}
	funding, err := cfg.VRF.Funding()
	if err != nil {
		return err
	}
	if funding.Sign() > 0 {
		if err := coordinator.FundSubscription(ctx, raffleCfg.SubscriptionID, funding); err != nil {
			return fmt.Errorf("fund subscription: %w", err)
		}
	}

	r, err := raffle.New(raffleCfg, coordinator, bank,
		raffle.WithLogger(log.Named("raffle")),
		raffle.WithEvents(eventLog),
		raffle.WithMetrics(collector),
	)
	if err != nil {
		return err
	}
	if err := coordinator.AddConsumer(raffleCfg.SubscriptionID, raffleCfg.ConsumerName, r); err != nil {
		return fmt.Errorf("register consumer: %w", err)
	}

	rounds, closeStore, err := openStore(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	defer closeStore()

	archiver := storage.NewArchiver(rounds, log.Named("archiver"))
	archiver.Start(ctx, eventLog)
	defer archiver.Stop()

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		publisher := bus.NewRedisPublisher(client, cfg.Redis.Channel, log.Named("bus"))
		publisher.Start(ctx, eventLog)
		defer publisher.Stop()
	}

	if cfg.VRF.AutoFulfill {
		fulfiller := vrf.NewFulfiller(coordinator, cfg.VRF.FulfillDelay(), cfg.VRF.RetryInterval(), log.Named("fulfiller"))
		fulfiller.Start(ctx)
		defer fulfiller.Stop()
	}

	var keeper *automation.Keeper
	if cfg.Automation.Enabled {
		keeper, err = automation.NewKeeper(r, cfg.Automation.Schedule,
			automation.WithLogger(log.Named("automation")),
			automation.WithEvents(eventLog),
			automation.WithMetrics(collector),
		)
		if err != nil {
			return err
		}
		if err := keeper.Start(ctx); err != nil {
			return fmt.Errorf("start keeper: %w", err)
		}
		defer keeper.Stop()
	}

	api := httpapi.NewServer(httpapi.Deps{
		Raffle:      r,
		Bank:        bank,
		Rounds:      rounds,
		Events:      eventLog,
		Coordinator: coordinator,
		Keeper:      keeper,
		Metrics:     collector,
		Log:         log.Named("httpapi"),
	}, httpapi.Options{RateLimit: cfg.HTTP.RateLimit, Burst: cfg.HTTP.Burst})

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				api.Limiter().Cleanup(now)
			}
		}
	}()

	server := &http.Server{
		Addr:              cfg.HTTP.ListenAddr,
		Handler:           api,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(map[string]interface{}{
			"addr":            cfg.HTTP.ListenAddr,
			"entrance_fee":    raffleCfg.EntranceFee,
			"interval":        raffleCfg.Interval.String(),
			"subscription_id": uint64(raffleCfg.SubscriptionID),
			"storage":         cfg.Storage.Driver,
		}).Info("raffle API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	return nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (storage.RoundStore, func(), error) {
	switch strings.ToLower(cfg.Driver) {
	case "postgres":
		store, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return storage.NewMemory(), func() {}, nil
	}
}
