package routes

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/nourishpath/platform/pkg/common/config"
	"github.com/nourishpath/platform/pkg/gateway/middleware"
	"github.com/nourishpath/platform/pkg/observability/metrics"
)

// Registrar mounts a package's handlers on the authenticated API router.
type Registrar interface {
	Register(r *mux.Router)
}

// Options wires the router. Public routes are mounted under /api/v1 without
// authentication; they must authenticate the caller themselves.
type Options struct {
	Config   *config.Config
	Tokens   middleware.TokenValidator
	Profiles middleware.ProfileSyncer
	Health   *HealthHandler
	API      []Registrar
	Public   []Registrar
}

func NewRouter(opts Options) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.Logging)
	router.Use(middleware.Recovery)
	router.Use(middleware.CORS)
	router.Use(middleware.RateLimit(opts.Config.RateLimitRPS, opts.Config.RateLimitBurst))
	router.Use(middleware.BodyLimit(opts.Config.MaxRequestBody))

	if opts.Health != nil {
		opts.Health.Register(router)
	}
	router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	for _, public := range opts.Public {
		public.Register(api)
	}

	protected := api.NewRoute().Subrouter()
	protected.Use(middleware.Authenticate(opts.Tokens, opts.Profiles))
	for _, registrar := range opts.API {
		registrar.Register(protected)
	}
	return router
}

// WebhookRoutes adapts a handler whose public routes live on a separate
// method, such as workflow.Handler.RegisterWebhooks.
type WebhookRoutes func(r *mux.Router)

func (f WebhookRoutes) Register(r *mux.Router) { f(r) }
