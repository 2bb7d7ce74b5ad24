package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/HDurna/drn-satis-yazilimi/internal/auth"
	"github.com/HDurna/drn-satis-yazilimi/internal/ledger"
	"github.com/HDurna/drn-satis-yazilimi/internal/observability"
	"github.com/HDurna/drn-satis-yazilimi/internal/platform/httpx"
	"github.com/HDurna/drn-satis-yazilimi/internal/pos"
	"github.com/HDurna/drn-satis-yazilimi/internal/register"
	"github.com/HDurna/drn-satis-yazilimi/internal/stockcount"
	"github.com/HDurna/drn-satis-yazilimi/internal/transfer"
	"github.com/HDurna/drn-satis-yazilimi/jobs"
)

// Pinger reports dependency health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AuthHandler       *auth.Handler
	LedgerHandler     *ledger.Handler
	POSHandler        *pos.Handler
	RegisterHandler   *register.Handler
	StockCountHandler *stockcount.Handler
	TransferHandler   *transfer.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
	// Database is pinged by /healthz when set.
	Database Pinger
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	var authenticate func(http.Handler) http.Handler
	if params.AuthHandler != nil {
		authenticate = params.AuthHandler.Middleware
	}
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:       params.Logger,
		Config:       params.Config,
		Metrics:      params.Metrics,
		Authenticate: authenticate,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if params.Database != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := params.Database.Ping(ctx); err != nil {
				params.Logger.Warn("healthz database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.LedgerHandler != nil {
		r.Route("/ledger", params.LedgerHandler.MountRoutes)
	}
	if params.POSHandler != nil {
		r.Route("/pos", params.POSHandler.MountRoutes)
	}
	if params.RegisterHandler != nil {
		r.Route("/register", params.RegisterHandler.MountRoutes)
	}
	if params.StockCountHandler != nil {
		r.Route("/stock-counts", params.StockCountHandler.MountRoutes)
	}
	if params.TransferHandler != nil {
		r.Route("/transfers", params.TransferHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	return r
}
