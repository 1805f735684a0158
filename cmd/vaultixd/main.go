package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"vaultix/config"
	"vaultix/core/events"
	"vaultix/core/state"
	"vaultix/indexer"
	"vaultix/native/bank"
	"vaultix/native/escrow"
	"vaultix/observability/logging"
	telemetry "vaultix/observability/otel"
	"vaultix/rpc"
	"vaultix/storage"
)

const serviceName = "vaultixd"

func main() {
	configFile := flag.String("config", "./vaultix.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.Setup(serviceName, cfg.Environment, logging.Options{
		File:  cfg.LogFile,
		Level: logging.ParseLevel(cfg.LogLevel),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("vaultixd exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: serviceName,
		Environment: cfg.Environment,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Traces:      cfg.Telemetry.Traces,
		Metrics:     cfg.Telemetry.Metrics,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	store, err := indexer.Open(cfg.EventDBPath)
	if err != nil {
		return fmt.Errorf("open event index: %w", err)
	}
	defer store.Close()
	store.SetLogger(logger)

	manager := state.NewManager(db)
	ledger := bank.NewLedger(manager, cfg.Tokens...)

	engine := escrow.NewEngine()
	engine.SetState(manager)
	engine.SetLedger(ledger)
	engine.SetVault(cfg.VaultIdentity())
	engine.SetAllowedTokens(cfg.Tokens)
	engine.SetLogger(logger)
	engine.SetEmitter(events.Fanout{store})

	if err := bootstrap(engine, cfg, logger); err != nil {
		return err
	}

	token := strings.TrimSpace(os.Getenv(config.RPCTokenEnv))
	if token == "" {
		logger.Warn("no RPC token configured; mutating calls will be rejected", slog.String("env", config.RPCTokenEnv))
	}
	server := rpc.NewServer(rpc.Options{
		Escrow:    engine,
		Ledger:    ledger,
		Sessions:  manager,
		Events:    store,
		AuthToken: token,
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
		AllowMint: cfg.AllowDevMint,
		Logger:    logger,
	})
	return server.Serve(ctx, cfg.RPCAddress)
}

// bootstrap initialises the contract from config on first start. Later
// starts keep the stored configuration, which only admin calls may change.
func bootstrap(engine *escrow.Engine, cfg *config.Config, logger *slog.Logger) error {
	feeBps := cfg.FeeBps
	err := engine.Initialize(cfg.AdminIdentity(), cfg.TreasuryIdentity(), &feeBps)
	switch {
	case err == nil:
		logger.Info("escrow contract initialised", slog.String("admin", cfg.Admin), slog.Uint64("fee_bps", uint64(feeBps)))
		return nil
	case errors.Is(err, escrow.ErrAlreadyInitialized):
		stored, cfgErr := engine.Config()
		if cfgErr != nil {
			return cfgErr
		}
		if stored.FeeBps != cfg.FeeBps {
			logger.Info("stored fee differs from config; keeping stored value",
				slog.Uint64("stored_fee_bps", uint64(stored.FeeBps)),
				slog.Uint64("config_fee_bps", uint64(cfg.FeeBps)))
		}
		return nil
	default:
		return fmt.Errorf("initialise escrow contract: %w", err)
	}
}
