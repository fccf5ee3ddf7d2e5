// Package api serves the read-only query endpoints, the guarded admin
// endpoints and the ops endpoints over net/http.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/lostfits/internal/jobs"
	"github.com/okian/lostfits/internal/query"
	"github.com/okian/lostfits/pkg/logger"
	"github.com/okian/lostfits/pkg/metrics"
)

// Querier answers the query endpoints.
type Querier interface {
	Stats(ctx context.Context) (query.Stats, error)
	PopularFits(ctx context.Context, p query.Params) (query.PopularFits, error)
	PopularShips(ctx context.Context, p query.Params) (query.PopularShips, error)
	FitDetail(ctx context.Context, signature string) (query.FitDetail, error)
	FitByLocation(ctx context.Context, signature string, p query.Params) (query.Breakdown, error)
	PopularLocations(ctx context.Context, p query.Params) (query.Breakdown, error)
	Ships(ctx context.Context) (query.ShipList, error)
	Regions(ctx context.Context) (query.RegionList, error)
	Constellations(ctx context.Context, regionIDs []int64) (query.ConstellationList, error)
	Systems(ctx context.Context, constellationIDs, regionIDs []int64) (query.SystemList, error)
	Killmails(ctx context.Context, limit, offset int) (query.KillmailList, error)
	Killmail(ctx context.Context, id int64) (query.KillmailDetail, error)
	ItemTypes(ctx context.Context, search string, limit, offset int) (query.ItemTypeList, error)
}

// Admin runs maintenance jobs. A start returns the job and whether it was
// started now; false means a job of that kind was already running.
type Admin interface {
	ReseedTypes(ctx context.Context) (jobs.Job, bool, error)
	SeedUniverse(ctx context.Context) (jobs.Job, bool, error)
	RebuildAggregates(ctx context.Context, from, to string) (jobs.Job, bool, error)
	Jobs() []jobs.Job
	Job(id string) (jobs.Job, error)
	Status(ctx context.Context) (any, error)
}

// Pinger reports whether a dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires HTTP routes for the API.
type Server struct {
	queries  Querier
	admin    Admin
	db       Pinger
	apiKey   string
	origins  []string
	maxLimit int
	logger   logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithAdmin enables the admin endpoints.
func WithAdmin(a Admin) Option {
	return func(s *Server) {
		s.admin = a
	}
}

// WithHealthCheck makes /healthz ping p.
func WithHealthCheck(p Pinger) Option {
	return func(s *Server) {
		s.db = p
	}
}

// WithAPIKey guards the admin endpoints. An empty key leaves them open.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithCORSOrigins sets the origins allowed to call the API from a browser.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		s.origins = origins
	}
}

// WithMaxLimit caps the limit parameter.
func WithMaxLimit(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxLimit = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewServer creates a new API server.
func NewServer(q Querier, opts ...Option) *Server {
	s := &Server{
		queries:  q,
		maxLimit: defaultMaxLimit,
		logger:   logger.Get().Named("api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.handleHealth, "healthz"))
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))

	mux.HandleFunc("GET /api/stats", MetricsMiddleware(s.handleStats, "stats"))
	mux.HandleFunc("GET /api/fits/popular", MetricsMiddleware(s.handlePopularFits, "fits_popular"))
	mux.HandleFunc("GET /api/fits/ships/popular", MetricsMiddleware(s.handlePopularShips, "ships_popular"))
	mux.HandleFunc("GET /api/fits/{signature}", MetricsMiddleware(s.handleFitDetail, "fit_detail"))
	mux.HandleFunc("GET /api/fits/{signature}/by-location", MetricsMiddleware(s.handleFitByLocation, "fit_by_location"))
	mux.HandleFunc("GET /api/locations/popular", MetricsMiddleware(s.handlePopularLocations, "locations_popular"))
	mux.HandleFunc("GET /api/ships", MetricsMiddleware(s.handleShips, "ships"))
	mux.HandleFunc("GET /api/universe/regions", MetricsMiddleware(s.handleRegions, "regions"))
	mux.HandleFunc("GET /api/universe/constellations", MetricsMiddleware(s.handleConstellations, "constellations"))
	mux.HandleFunc("GET /api/universe/systems", MetricsMiddleware(s.handleSystems, "systems"))
	mux.HandleFunc("GET /api/killmails", MetricsMiddleware(s.handleKillmails, "killmails"))
	mux.HandleFunc("GET /api/killmails/{id}", MetricsMiddleware(s.handleKillmail, "killmail"))
	mux.HandleFunc("GET /api/item-types", MetricsMiddleware(s.handleItemTypes, "item_types"))

	if s.admin == nil {
		return
	}
	mux.HandleFunc("POST /api/admin/reseed-types", MetricsMiddleware(s.adminOnly(s.handleReseedTypes), "admin_reseed_types"))
	mux.HandleFunc("POST /api/admin/seed-universe", MetricsMiddleware(s.adminOnly(s.handleSeedUniverse), "admin_seed_universe"))
	mux.HandleFunc("POST /api/admin/rebuild-aggregates", MetricsMiddleware(s.adminOnly(s.handleRebuild), "admin_rebuild"))
	mux.HandleFunc("GET /api/admin/jobs", MetricsMiddleware(s.adminOnly(s.handleJobs), "admin_jobs"))
	mux.HandleFunc("GET /api/admin/jobs/{id}", MetricsMiddleware(s.adminOnly(s.handleJob), "admin_job"))
	mux.HandleFunc("GET /api/admin/status", MetricsMiddleware(s.adminOnly(s.handleStatus), "admin_status"))
}

// Handler returns every route behind the CORS middleware.
func (s *Server) Handler(ctx context.Context) http.Handler {
	mux := http.NewServeMux()
	s.Register(ctx, mux)
	return CORS(s.origins, mux)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil && status < http.StatusInternalServerError {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail logs unexpected errors and answers 500 without leaking details.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	s.logger.Error(r.Context(), "request failed", logger.String("op", op), logger.String("path", r.URL.Path), logger.Error(err))
	writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
}
