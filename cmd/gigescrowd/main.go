package main

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"gigescrow/config"
	"gigescrow/core/events"
	"gigescrow/core/state"
	"gigescrow/crypto"
	"gigescrow/ledger"
	"gigescrow/native/gig"
	"gigescrow/observability"
	"gigescrow/observability/logging"
	"gigescrow/rpc"
	"gigescrow/storage"
)

const genesisMarkerKey = "gig/genesis_applied"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("GIG_ENV"))
	logger := logging.Setup("gigescrowd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	arbiter, err := cfg.Arbiter()
	if err != nil {
		logger.Error("failed to resolve arbiter identity", slog.Any("error", err))
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("failed to open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	tokenLedger := ledger.NewLedger(db)
	if err := applyGenesisAlloc(db, tokenLedger, cfg); err != nil {
		logger.Error("failed to apply genesis allocations", slog.Any("error", err))
		os.Exit(1)
	}

	contracts := state.NewManager(db)
	ring := events.NewRing(1024)

	engine := gig.NewEngine()
	engine.SetStore(contracts)
	engine.SetLedger(tokenLedger)
	engine.SetArbiter(arbiter)
	engine.SetEmitter(events.Multi{ring, observability.NewMetricsEmitter()})
	if err := engine.SetPayToken(cfg.PayToken); err != nil {
		logger.Error("invalid pay token", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("escrow engine ready",
		slog.String("payToken", engine.PayToken()),
		slog.String("arbiter", cfg.ArbiterAddress),
		slog.String("dataDir", cfg.DataDir),
	)

	server := rpc.NewServer(engine, tokenLedger, ring, logger)
	server.SetRateLimiter(rpc.NewRateLimiter(cfg.RPCRequestsPerMinute, cfg.RPCBurst))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("rpc server terminated", slog.Any("error", err))
		os.Exit(1)
	}
}

// applyGenesisAlloc credits configured balances exactly once per data
// directory.
func applyGenesisAlloc(db storage.Database, tokenLedger *ledger.Ledger, cfg *config.Config) error {
	if len(cfg.GenesisAlloc) == 0 {
		return nil
	}
	applied, err := db.Has([]byte(genesisMarkerKey))
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	for _, alloc := range cfg.GenesisAlloc {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return err
		}
		if err := tokenLedger.Mint(addr.Array(), alloc.Token, alloc.Amount); err != nil {
			return err
		}
	}
	return db.Put([]byte(genesisMarkerKey), []byte("1"))
}
