// Command payguard runs the guard-engine HTTP server backed by SQLite.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/tessara-labs/payguard/pkg/agent"
	"github.com/tessara-labs/payguard/pkg/api"
	"github.com/tessara-labs/payguard/pkg/config"
	"github.com/tessara-labs/payguard/pkg/guard"
	"github.com/tessara-labs/payguard/pkg/ledger"
	"github.com/tessara-labs/payguard/pkg/lifecycle"
	"github.com/tessara-labs/payguard/pkg/payguard"
	"github.com/tessara-labs/payguard/pkg/policy"
	"github.com/tessara-labs/payguard/pkg/store"
)

func main() {
	cfg := config.Load()
	log := newLogger(cfg.LogLevel)

	db, err := sql.Open("sqlite", cfg.DatabasePath)
	if err != nil {
		log.Error("open database", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	txs, err := store.NewSQLiteTransactionStore(db)
	if err != nil {
		log.Error("init transaction store", "error", err)
		os.Exit(1)
	}
	intents, err := store.NewSQLiteIntentStore(db)
	if err != nil {
		log.Error("init intent store", "error", err)
		os.Exit(1)
	}
	rec, err := ledger.NewSQLiteLedger(db)
	if err != nil {
		log.Error("init ledger", "error", err)
		os.Exit(1)
	}
	agents, err := agent.NewSQLiteRegistry(db)
	if err != nil {
		log.Error("init agent registry", "error", err)
		os.Exit(1)
	}

	guards := policy.NewMemoryStore()
	if cfg.PolicyDir != "" {
		if err := policy.SeedStore(context.Background(), guards, cfg.PolicyDir, cfg.Workspace); err != nil {
			log.Error("seed guard profile", "workspace", cfg.Workspace, "error", err)
			os.Exit(1)
		}
		log.Info("guard profile loaded", "workspace", cfg.Workspace, "dir", cfg.PolicyDir)
	}

	engine, err := guard.NewEngine(log)
	if err != nil {
		log.Error("init guard engine", "error", err)
		os.Exit(1)
	}

	var locker lifecycle.IntentLocker
	if cfg.RedisAddr != "" {
		locker = lifecycle.NewRedisLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 30*time.Second)
		log.Info("distributed intent lock enabled", "redis", cfg.RedisAddr)
	}

	manager := lifecycle.NewManager(lifecycle.Deps{
		Guards:  guards,
		Engine:  engine,
		Intents: intents,
		Txs:     txs,
		Ledger:  rec,
		Agents:  agents,
		Settler: &lifecycle.SimulatedSettler{},
		Locker:  locker,
		Log:     log,
	})

	svc := payguard.NewService(guards, manager, rec, agents, log)
	server := api.NewServer(svc, log)
	rl := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	addr := ":" + cfg.Port
	log.Info("payguard listening", "addr", addr)
	if err := http.ListenAndServe(addr, server.Handler(rl)); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
