package main

import (
	"context"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"xsettle/config"
	"xsettle/core/events"
	"xsettle/core/types"
	"xsettle/native/escrow"
	"xsettle/observability/logging"
	"xsettle/observability/metrics"
	"xsettle/rpc"
	"xsettle/state"
	"xsettle/storage"
)

const authTokenEnv = "XSETTLE_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.Setup("xsettled", cfg.LedgerID)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)

	collector, err := cfg.FeeCollectorAddress()
	if err != nil {
		logger.Error("invalid fee collector", "err", err)
		os.Exit(1)
	}
	policy, err := escrow.NewFeePolicy(cfg.FeeBps, cfg.MaxFeeBps, collector)
	if err != nil {
		logger.Error("invalid fee policy", "err", err)
		os.Exit(1)
	}

	engine := escrow.NewEngine(cfg.LedgerID)
	engine.SetState(manager)
	engine.SetPolicy(policy)
	engine.SetDefaultDuration(cfg.DefaultEscrowDuration)
	engine.SetLogger(logger)
	engine.SetEmitter(events.MultiEmitter{
		state.NewRecorder(manager, logger),
		newMetricsEmitter(metrics.Escrow()),
	})

	authToken := strings.TrimSpace(os.Getenv(authTokenEnv))
	if authToken == "" {
		authToken = strings.TrimSpace(cfg.RPCAuthToken)
	}
	if authToken == "" {
		logger.Warn("no RPC auth token configured, mutating methods are disabled")
	}

	server := rpc.NewServer(engine, manager, authToken, logger)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("JSON-RPC server listening", "addr", cfg.RPCAddress)
		if serveErr := httpServer.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Error("listen and serve failed", "err", serveErr)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	logger.Info("shutdown complete")
}

// metricsEmitter maps settlement events onto the prometheus collectors.
type metricsEmitter struct {
	metrics *metrics.EscrowMetrics
}

func newMetricsEmitter(m *metrics.EscrowMetrics) *metricsEmitter {
	return &metricsEmitter{metrics: m}
}

func (m *metricsEmitter) Emit(evt events.Event) {
	carrier, ok := evt.(events.Carrier)
	if !ok {
		return
	}
	payload := carrier.Event()
	if payload == nil {
		return
	}
	switch payload.Type {
	case escrow.EventTypeCompleted:
		m.metrics.ObserveSettlement()
		m.observeFee(payload, "sellerAsset", "sellerFee")
		m.observeFee(payload, "buyerAsset", "buyerFee")
	case escrow.EventTypeRefunded:
		m.metrics.ObserveRefund()
	case escrow.EventTypeDisputeRaised:
		m.metrics.ObserveDispute()
	}
}

func (m *metricsEmitter) observeFee(payload *types.Event, assetKey, feeKey string) {
	feeText, ok := payload.Attributes[feeKey]
	if !ok {
		return
	}
	fee, ok := new(big.Int).SetString(feeText, 10)
	if !ok {
		return
	}
	m.metrics.ObserveFee(payload.Attributes[assetKey], fee)
}
