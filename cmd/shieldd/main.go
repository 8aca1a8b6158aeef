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
	"strings"
	"syscall"
	"time"

	"shieldlend/config"
	"shieldlend/core"
	"shieldlend/core/events"
	"shieldlend/core/state"
	"shieldlend/crypto"
	"shieldlend/crypto/zkp"
	"shieldlend/native/oracle"
	"shieldlend/observability"
	"shieldlend/observability/logging"
	"shieldlend/observability/otel"
	"shieldlend/rpc"
	"shieldlend/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.SetupWithOptions("shieldd", cfg.Environment, logging.Options{
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Endpoint != "" {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "shieldd",
			Environment: cfg.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(cfg.Telemetry.Headers),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("Failed to initialize telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("Telemetry shutdown failed", slog.Any("error", err))
			}
		}()
	}

	db, err := openDatabase(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	manager := state.NewManager(db)
	bus := events.NewBus()

	protocol := core.NewProtocol(manager, bus, core.Options{
		DepositTTL:     cfg.DepositTTLSeconds,
		MinRatioBps:    cfg.MinCollateralRatioBps,
		MaxSlippageBps: cfg.MaxSlippageBps,
		SwapFeeBps:     cfg.SwapFeeBps,
		QuoteAsset:     cfg.QuoteAsset,
		Pauses:         cfg,
	})

	if err := attachVerifiers(protocol, cfg); err != nil {
		logger.Error("Failed to load verifying keys", slog.Any("error", err))
		os.Exit(1)
	}

	protocol.AttachOracle(buildOracle(cfg), cfg.ValuationHaircutBps)

	if err := initializeModules(protocol, cfg); err != nil {
		logger.Error("Failed to initialize protocol modules", slog.Any("error", err))
		os.Exit(1)
	}

	go recordProtocolMetrics(ctx, bus)

	server := rpc.NewServer(protocol, bus, logger, rpc.ServerConfig{
		BearerToken:        cfg.RPC.BearerToken,
		RateLimitPerSecond: cfg.RPC.RateLimitPerSecond,
		RateLimitBurst:     cfg.RPC.RateLimitBurst,
	})

	logger.Info("Starting RPC server", slog.String("listen", cfg.ListenAddress))
	if err := server.Serve(ctx, cfg.ListenAddress); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func openDatabase(dataDir string) (*storage.LevelDB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	return storage.NewLevelDB(dataDir)
}

func attachVerifiers(protocol *core.Protocol, cfg *config.Config) error {
	var vaultVerifier, loanVerifier core.ProofVerifier
	if path := strings.TrimSpace(cfg.VaultVerifyingKeyFile); path != "" {
		vk, err := zkp.LoadVerifyingKey(path)
		if err != nil {
			return fmt.Errorf("vault verifying key: %w", err)
		}
		vaultVerifier = zkp.NewVerifier(vk)
	}
	if path := strings.TrimSpace(cfg.LoanVerifyingKeyFile); path != "" {
		vk, err := zkp.LoadVerifyingKey(path)
		if err != nil {
			return fmt.Errorf("loan verifying key: %w", err)
		}
		loanVerifier = zkp.NewVerifier(vk)
	}
	protocol.AttachVerifiers(vaultVerifier, loanVerifier)
	return nil
}

func buildOracle(cfg *config.Config) oracle.PriceOracle {
	maxAge := time.Duration(cfg.OracleMaxAgeSeconds) * time.Second
	agg := oracle.NewAggregator(cfg.OraclePriority, maxAge)
	agg.Register("manual", oracle.NewManualOracle())
	client := &http.Client{Timeout: 10 * time.Second}
	for _, feed := range cfg.OracleFeeds {
		agg.Register(feed.Name, oracle.NewHTTPFeed(client, feed.Endpoint, feed.APIKey))
	}
	return agg
}

// initializeModules seeds the pool and liquidator configuration. The first
// write wins, so restarts leave the stored configuration untouched.
func initializeModules(protocol *core.Protocol, cfg *config.Config) error {
	admin := strings.TrimSpace(cfg.AdminAddress)
	if admin == "" {
		return nil
	}
	adminAddr, err := crypto.DecodeAddress(admin)
	if err != nil {
		return fmt.Errorf("admin address: %w", err)
	}
	oracleAddr := adminAddr
	if raw := strings.TrimSpace(cfg.OracleAddress); raw != "" {
		oracleAddr, err = crypto.DecodeAddress(raw)
		if err != nil {
			return fmt.Errorf("oracle address: %w", err)
		}
	}
	vaultAddr := core.ModuleAddress(core.ModuleVault)
	poolAddr := core.ModuleAddress(core.ModuleLending)

	if err := protocol.InitializeLending(adminAddr, vaultAddr, oracleAddr); err != nil {
		return fmt.Errorf("lending: %w", err)
	}
	if err := protocol.InitializeLiquidator(adminAddr, poolAddr, vaultAddr); err != nil {
		return fmt.Errorf("liquidator: %w", err)
	}
	return nil
}

func recordProtocolMetrics(ctx context.Context, bus *events.Bus) {
	metrics := observability.ProtocolMetrics()
	ch, cancel := bus.Subscribe(256)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			metrics.Record(evt)
		}
	}
}
