// Package v1 wires the HTTP surface of the ledger service.
// It keeps handlers thin, delegating business rules to the service layer.
package v1

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	chi "github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/tinoosan/erpledger/internal/authz"
	"github.com/tinoosan/erpledger/internal/config"
	"github.com/tinoosan/erpledger/internal/service/account"
	"github.com/tinoosan/erpledger/internal/service/budget"
	"github.com/tinoosan/erpledger/internal/service/depreciation"
	"github.com/tinoosan/erpledger/internal/service/journal"
	"github.com/tinoosan/erpledger/internal/service/ledgerstore"
	"github.com/tinoosan/erpledger/internal/service/report"
)

// Services are the domain services the API delegates to.
type Services struct {
	Accounts     account.Service
	Journal      journal.Service
	Balances     ledgerstore.Service
	Reports      report.Service
	Budgets      budget.Service
	Depreciation depreciation.Service
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configure the transport.
type Options struct {
	// Currency is the book currency used for request amounts.
	Currency string
	// Authorizer decides every mutating call; nil denies everything.
	Authorizer authz.Authorizer
	JWT        config.JWTConfig
	Ready      Pinger
}

// Server wires handlers and middleware using Chi.
type Server struct {
	svc      Services
	authz    authz.Authorizer
	currency string
	ready    Pinger
	log      *slog.Logger
	rt       *chi.Mux

	batchIdemMu sync.RWMutex
	batchIdem   map[string]storedBatch
}

// New constructs the HTTP server with routes and middleware.
func New(svc Services, opts Options, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Currency == "" {
		opts.Currency = "USD"
	}
	if opts.Authorizer == nil {
		opts.Authorizer = authz.DenyAll
	}
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(requestLogger(logger))
	r.Use(recoverer(logger))
	r.Use(metricsMiddleware)
	r.Use(actorMiddleware(opts.JWT))

	s := &Server{
		svc:       svc,
		authz:     opts.Authorizer,
		currency:  opts.Currency,
		ready:     opts.Ready,
		log:       logger,
		rt:        r,
		batchIdem: make(map[string]storedBatch),
	}
	s.routes()
	return s
}

// Handler exposes the configured http.Handler.
func (s *Server) Handler() http.Handler { return s.rt }

// principal is the acting user of the request checked by the server's authorizer.
func (s *Server) principal(r *http.Request) authz.Principal {
	return authz.As(actorFrom(r.Context()), s.authz)
}

// routes declares the public HTTP API endpoints.
func (s *Server) routes() {
	s.rt.Get("/healthz", s.healthz)
	s.rt.Get("/readyz", s.readyz)
	s.rt.Handle("/metrics", metricsHandler())
	s.rt.Get("/v1/dictionary/chart", s.getChartDictionary)

	s.rt.Route("/v1/businesses/{businessID}", func(r chi.Router) {
		r.Use(businessParam)

		r.Route("/accounts", func(r chi.Router) {
			r.Post("/", s.postAccount)
			r.Get("/", s.listAccounts)
			r.Post("/batch", s.postAccountsBatch)
			r.Get("/{id}", s.getAccount)
			r.Patch("/{id}", s.updateAccount)
			r.Delete("/{id}", s.deleteAccount)
			r.Post("/{id}/deactivate", s.deactivateAccount)
			r.Get("/{id}/children", s.getAccountChildren)
			r.Get("/{id}/balance", s.getAccountBalance)
			r.Post("/{id}/reconcile", s.reconcileAccount)
			r.Get("/{id}/ledger", s.getAccountLedger)
		})
		r.Post("/reconcile", s.reconcileBusiness)

		r.Route("/vouchers", func(r chi.Router) {
			r.Post("/", s.postDraft)
			r.Get("/", s.listVouchers)
			r.Post("/submit", s.submitVoucher)
			r.Post("/batch", s.postVouchersBatch)
			r.Get("/{id}", s.getVoucher)
			r.Put("/{id}", s.putDraft)
			r.Delete("/{id}", s.abandonDraft)
			r.Post("/{id}/post", s.postVoucher)
			r.Post("/{id}/reverse", s.reverseVoucher)
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/trial-balance", s.trialBalance)
			r.Get("/balance-sheet", s.balanceSheet)
			r.Get("/pnl", s.profitAndLoss)
		})

		r.Route("/budgets", func(r chi.Router) {
			r.Post("/", s.postBudget)
			r.Get("/", s.listBudgets)
			r.Get("/variance", s.getVariance)
			r.Get("/{id}", s.getBudget)
			r.Post("/{id}/items", s.postBudgetItem)
			r.Get("/{id}/report", s.getBudgetReport)
		})

		r.Route("/assets", func(r chi.Router) {
			r.Post("/", s.postAsset)
			r.Get("/", s.listAssets)
			r.Get("/{id}", s.getAsset)
			r.Get("/{id}/schedule", s.getAssetSchedule)
			r.Post("/{id}/depreciate", s.depreciateAsset)
		})
		r.Post("/depreciation/run", s.runDepreciation)
	})
}
