// Command ironvaultd runs the trove bookkeeping and liquidation engine as an
// HTTP daemon: it loads a TOML configuration, opens a LevelDB-backed store,
// wires every engine component together, and serves the API package's
// router until a termination signal arrives.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ironvault/internal/api"
	"ironvault/internal/config"
	"ironvault/internal/feerouter"
	"ironvault/internal/ironvault"
	"ironvault/internal/liquidator"
	"ironvault/internal/metrics"
	"ironvault/internal/oracle"
	"ironvault/internal/redeemer"
	"ironvault/internal/stabilitypool"
	"ironvault/internal/stablecoin"
	"ironvault/internal/storage"
	"ironvault/internal/troveops"
	"ironvault/internal/types"
	"ironvault/internal/vault"
)

const shutdownTimeout = 10 * time.Second

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "ironvaultd.toml", "path to ironvaultd TOML config")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.MustLoad(cfgPath)

	db, err := storage.NewLevelDB(cfg.Storage.LevelDBPath)
	if err != nil {
		logger.Error("open leveldb", "err", err)
		os.Exit(1)
	}

	feeBps := cfg.Risk.ProtocolFeeBps
	if feeBps == 0 {
		feeBps = ironvault.DefaultProtocolFeeBps
	}

	oracleSource := oracle.NewPythHermesSource(nil, cfg.External.PythHermesURL)
	oracleGW := oracle.NewGateway(oracle.NewStore(db), oracleSource)
	if err := bootstrapCollateral(oracleGW, cfg.Collateral); err != nil {
		logger.Error("bootstrap collateral config", "err", err)
		os.Exit(1)
	}

	pool := stabilitypool.NewPool(stabilitypool.NewPersistentState(db))

	mint := stablecoin.NewRPCMintBurner(cfg.External.StablecoinRPCURL, cfg.External.StablecoinAuthToken)
	collVault := vault.NewRPCCollateralVault(cfg.External.VaultRPCURL, cfg.External.VaultAuthToken)

	feeStore := feerouter.NewStore(db)
	feeRouter := feerouter.NewRouter(feeStore, nil, nil)
	if err := bootstrapFeeConfig(feeStore, feeRouter, cfg.Fees); err != nil {
		logger.Error("bootstrap fee config", "err", err)
		os.Exit(1)
	}

	troveOps := troveops.NewEngine(db, oracleGW, pool, mint, collVault, feeBps)
	liquidatorEngine := liquidator.NewEngine(db, oracleGW, pool, mint, collVault, feeBps)
	redeemerEngine := redeemer.NewEngine(db, oracleGW, pool, mint, collVault, feeBps)

	metricsEngine := metrics.Default()

	server := api.NewServer(api.Config{
		DB:          db,
		OracleGW:    oracleGW,
		FeeRouter:   feeRouter,
		Pool:        pool,
		TroveOps:    troveOps,
		Liquidator:  liquidatorEngine,
		Redeemer:    redeemerEngine,
		Metrics:     metricsEngine,
		Logger:      logger,
		RedeemRate:  cfg.HTTP.RedeemRatePerSec,
		RedeemBurst: cfg.HTTP.RedeemBurst,
		Auth: api.AuthConfig{
			Enabled:    cfg.HTTP.AdminJWTSecret != "",
			HMACSecret: cfg.HTTP.AdminJWTSecret,
			Issuer:     cfg.HTTP.AdminJWTIssuer,
		},
	})

	httpServer := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: server.Handler(),
	}

	go func() {
		logger.Info("ironvaultd listening", "addr", cfg.HTTP.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "err", err)
			os.Exit(1)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
	if err := db.Close(); err != nil {
		logger.Error("close leveldb", "err", err)
	}
}

// bootstrapCollateral registers every collateral denom listed in the config
// file with the oracle gateway, skipping denoms already registered from a
// prior run so restarts are idempotent.
func bootstrapCollateral(gw *oracle.Gateway, denoms []config.CollateralDenom) error {
	for _, d := range denoms {
		if _, err := gw.CollateralDecimals(d.Denom); err == nil {
			continue
		}
		if err := gw.SetCollateralConfig(oracle.CollateralConfig{
			Denom:    d.Denom,
			Decimals: d.Decimals,
			FeedID:   d.FeedID,
		}); err != nil {
			return err
		}
	}
	return nil
}

// bootstrapFeeConfig seeds the fee router with the configuration file's
// initial routing settings if none has been persisted yet. A persisted
// configuration that is still all zero values counts as none.
func bootstrapFeeConfig(store *feerouter.Store, r *feerouter.Router, fees config.FeeRouting) error {
	existing, err := store.GetFeeConfig()
	if err != nil {
		return err
	}
	if existing.StakeEnabled || !existing.FeeAddress1.IsZero() || !existing.FeeAddress2.IsZero() {
		return nil
	}
	var addr1, addr2 types.Owner
	if fees.FeeAddress1 != "" {
		if addr1, err = types.OwnerFromHex(fees.FeeAddress1); err != nil {
			return err
		}
	}
	if fees.FeeAddress2 != "" {
		if addr2, err = types.OwnerFromHex(fees.FeeAddress2); err != nil {
			return err
		}
	}
	return r.SetConfig(feerouter.Config{
		StakeEnabled: fees.StakeEnabled,
		FeeAddress1:  addr1,
		FeeAddress2:  addr2,
	})
}
