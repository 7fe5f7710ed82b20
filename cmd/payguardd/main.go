package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"payguard/config"
	"payguard/core/state"
	"payguard/crypto"
	"payguard/native/escrow"
	"payguard/observability/logging"
	"payguard/rpc"
	"payguard/storage"
)

const genesisMarkerKey = "payguard/genesis-applied"

func main() {
	configPath := flag.String("config", "./config.toml", "path to the node configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("payguardd", "", nil).Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logging.Setup("payguardd", cfg.Environment, &logging.Options{
		FilePath:   cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
	})

	var db storage.Database
	if cfg.DataDir == "" {
		log.Warn("no data directory configured, using in-memory storage")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.DataDir)
		if err != nil {
			log.Error("failed to open database", "path", cfg.DataDir, "error", err)
			os.Exit(1)
		}
		db = ldb
	}
	defer db.Close()

	manager := state.NewManager(db)
	if err := applyGenesis(db, manager, cfg.GenesisBalance); err != nil {
		log.Error("failed to apply genesis allocations", "error", err)
		os.Exit(1)
	}

	engine := escrow.NewEngine()
	engine.SetState(manager)

	server := rpc.NewServer(engine, cfg.RPCAuthToken, log)
	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("rpc server listening", "address", cfg.RPCAddress, "network", cfg.NetworkName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("rpc server stopped", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown did not complete cleanly", "error", err)
	}
}

// applyGenesis seeds configured balances exactly once per data directory.
func applyGenesis(db storage.Database, manager *state.Manager, allocations []config.GenesisAllocation) error {
	applied, err := db.Has([]byte(genesisMarkerKey))
	if err != nil {
		return err
	}
	if applied || len(allocations) == 0 {
		return nil
	}
	for _, alloc := range allocations {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return err
		}
		if err := manager.Mint(addr.Fixed(), alloc.Asset, alloc.Amount); err != nil {
			return err
		}
	}
	return db.Put([]byte(genesisMarkerKey), []byte{1})
}
