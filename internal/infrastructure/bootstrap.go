package infrastructure

import (
	"context"
	"fmt"
	"log/slog"

	"treasury/internal/config"
	"treasury/internal/model"
	"treasury/internal/service"
	"treasury/internal/settlement"
	"treasury/internal/store"
	transportHTTP "treasury/internal/transport/http"
	transportNATS "treasury/internal/transport/nats"
	"treasury/internal/treasury"
	"treasury/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application: load the last snapshot, rebuild the engine, and start the
// transports and workers. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	// Rebuild the engine from the last checkpoint.
	snaps := store.NewSnapshotStore(db)
	pairs, err := snaps.Load(ctx)
	if err != nil {
		return nil, runCleanup(cleanupFns), fmt.Errorf("load snapshot: %w", err)
	}
	state, err := treasury.RestoreState(pairs, cfg.AuditCap)
	if err != nil {
		return nil, runCleanup(cleanupFns), fmt.Errorf("restore state: %w", err)
	}
	slog.Info("treasury state restored", "pairs", len(pairs))

	opts := treasury.Options{
		State:    state,
		AuditCap: cfg.AuditCap,
		Bus:      transportNATS.NewBus(nc),
		Tiers:    transportNATS.NewTierClient(nc),
	}
	if cfg.LedgerURL != "" {
		opts.Ledger = settlement.NewLedgerClient(cfg.LedgerURL)
	}
	opts.Minters = make(map[model.Rail]settlement.Minter)
	if cfg.CkBTCMinterURL != "" {
		opts.Minters[model.RailCkBTC] = settlement.NewMinterClient(cfg.CkBTCMinterURL)
	}
	if cfg.CkETHMinterURL != "" {
		opts.Minters[model.RailCkETH] = settlement.NewMinterClient(cfg.CkETHMinterURL)
	}
	engine := treasury.New(opts)
	var svc service.TreasuryService = engine

	servers := []Server{
		transportNATS.NewHandler(svc, nc),
		worker.NewScheduler(engine, cfg.SchedulerInterval),
		worker.NewCheckpointer(engine, snaps, cfg.CheckpointInterval),
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		cache := store.NewBalanceCache(rdb, cfg.CacheTTL)
		h := transportHTTP.NewHandler(svc, cache, cfg.AdminToken)
		servers = append(servers, transportHTTP.NewServer(addr, h))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
