package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/joseph-ayodele/bill-trends/internal/async"
	"github.com/joseph-ayodele/bill-trends/internal/auth"
	"github.com/joseph-ayodele/bill-trends/internal/ingest"
	"github.com/joseph-ayodele/bill-trends/internal/report"
	"github.com/joseph-ayodele/bill-trends/internal/repository"
	"github.com/joseph-ayodele/bill-trends/internal/zone"
)

// HealthChecker is the database probe behind /health. *repository.DB implements it.
type HealthChecker interface {
	HealthCheck(ctx context.Context, timeout time.Duration, logger *slog.Logger) error
}

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Sessions  repository.SessionRepository
	Documents repository.DocumentRepository
	Analyses  repository.AnalysisRepository
	Results   repository.ResultRepository
	Ingestor  *ingest.Ingestor
	Queue     async.Queue
	Zones     *zone.Aggregator
	Exporter  *report.Exporter
	Admin     *auth.Admin
	RateLimit *RateLimit
	DB        HealthChecker

	PublicBaseURL string
	Logger        *slog.Logger
}

type API struct {
	Dependencies
	log *slog.Logger
	now func() time.Time
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	api := &API{Dependencies: deps, log: log, now: time.Now}

	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(Logger(log))
	r.Use(Recovery(log))

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", api.health)

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", api.createSession)
			r.Route("/{sessionID}", func(r chi.Router) {
				r.Post("/zone", api.setZone)
				r.With(deps.RateLimit.Limit("upload")).Put("/documents/{kind}", api.uploadDocument)
				r.With(deps.RateLimit.Limit("analysis")).Post("/analyses", api.startAnalysis)
				r.Get("/result", api.getResult)
				r.Get("/passport.pdf", api.passport)
			})
		})
		r.Get("/analyses/{analysisID}", api.getAnalysis)
		r.Get("/zones/{zone}", api.getZone)

		r.Route("/admin", func(r chi.Router) {
			r.With(deps.RateLimit.Limit("admin_login")).Post("/login", api.adminLogin)
			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin(deps.Admin))
				r.Get("/me", api.adminMe)
				r.Get("/submissions", api.adminSubmissions)
				r.Get("/submissions/{sessionID}", api.adminSubmission)
				r.Get("/export.xlsx", api.adminExport)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed")
	})
	return r
}

func pathUUID(r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	return id, err == nil
}

func (a *API) health(w http.ResponseWriter, r *http.Request) {
	if a.DB != nil {
		if err := a.DB.HealthCheck(r.Context(), 2*time.Second, a.log); err != nil {
			writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Database unreachable")
			return
		}
	}
	writeData(w, http.StatusOK, map[string]string{"status": "ok"})
}
