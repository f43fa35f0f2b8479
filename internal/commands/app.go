package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/config"
	v1 "github.com/tinoosan/erpledger/internal/httpapi/v1"
	"github.com/tinoosan/erpledger/internal/service/account"
	"github.com/tinoosan/erpledger/internal/service/budget"
	"github.com/tinoosan/erpledger/internal/service/depreciation"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
	"github.com/tinoosan/erpledger/internal/service/report"
	"github.com/tinoosan/erpledger/internal/storage/memory"
	pgstore "github.com/tinoosan/erpledger/internal/storage/postgres"
)

// store is everything the services need from a backend.
type store interface {
	account.Repo
	account.Writer
	journal.Repo
	journal.Writer
	ledgerstore.Repo
	report.Repo
	budget.Repo
	budget.Writer
	depreciation.Repo
	depreciation.Writer
	v1.Pinger
}

var (
	_ store = (*memory.Store)(nil)
	_ store = (*pgstore.Store)(nil)
)

// app holds the wired services for one process.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	backend string
	store   store
	authz   authz.Authorizer
	svc     v1.Services
	closeFn func()
}

// bootstrap loads configuration and wires the store and services.
// DATABASE_URL selects postgres; without it the in-memory store is used.
func bootstrap(ctx context.Context, envFile string) (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if envFile != "" {
		cfg, err = config.Load(envFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	logger := buildLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	a := &app{cfg: cfg, log: logger, closeFn: func() {}}
	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.store, a.backend, a.closeFn = pg, "postgres", pg.Close
	} else {
		a.store, a.backend = memory.New(), "memory"
	}

	a.authz = authz.AllowAll
	if cfg.PolicyFile != "" {
		p, err := authz.LoadPolicy(cfg.PolicyFile)
		if err != nil {
			a.closeFn()
			return nil, err
		}
		a.authz = p
	} else {
		logger.Warn("no POLICY_FILE set, every actor is allowed every action")
	}

	lc := cfg.Ledger
	eng := journal.New(a.store, a.store, journal.Options{
		Currency:  lc.Currency,
		Tolerance: lc.BalanceToleranceMinor,
		Logger:    logger.With("component", "journal"),
	})
	a.svc = v1.Services{
		Accounts:     account.New(a.store, a.store),
		Journal:      eng,
		Balances:     ledgerstore.New(a.store, lc.Currency, logger.With("component", "ledgerstore")),
		Reports:      report.New(a.store, lc.Currency),
		Budgets:      budget.New(a.store, a.store, lc.Currency),
		Depreciation: depreciation.New(a.store, a.store, eng, depreciation.Options{
			Currency:  lc.Currency,
			CapPolicy: lc.DepreciationCap,
			Workers:   lc.DepreciationWorkers,
			Logger:    logger.With("component", "depreciation"),
		}),
	}
	logger.Info("storage backend: "+a.backend, "currency", lc.Currency)
	return a, nil
}

func (a *app) principal(actor uuid.UUID) authz.Principal {
	return authz.As(actor, a.authz)
}

// parseLogLevel maps env values to slog.Leveler
func parseLogLevel(s string) slog.Leveler {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func buildLogger(level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// uuidFlag parses a required id flag.
func uuidFlag(name, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("--%s must be a uuid, got %q", name, raw)
	}
	return id, nil
}
