package router

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/scanper/liff-dashboard/internal/api/v1/handler"
	"github.com/scanper/liff-dashboard/internal/config"
	"github.com/scanper/liff-dashboard/internal/dashboard"
	"github.com/scanper/liff-dashboard/internal/middleware"
	"github.com/scanper/liff-dashboard/internal/pubsub"
	"github.com/scanper/liff-dashboard/internal/view"
)

// Deps are the long-lived collaborators built by the caller.
type Deps struct {
	Provider handler.LoginProvider
	Bind     handler.BindFunc
	API      dashboard.API
	Events   pubsub.EventSink
	Registry *dashboard.Registry
}

func New(cfg *config.Config, deps Deps, logger zerolog.Logger) (http.Handler, error) {
	logger.Info().Msg("Router initialized")
	logger.Info().Str("environment", cfg.Environment).Str("api_url", cfg.APIURL).Msg("App environment loaded")

	// 1. Templates
	renderer, err := view.NewRenderer()
	if err != nil {
		return nil, err
	}

	// 2. Validator
	validate := validator.New(validator.WithRequiredStructEnabled())

	// 3. Per-session dashboards & handlers
	apps := handler.NewApps(deps.Registry, deps.Bind, dashboard.Deps{
		API:    deps.API,
		Events: deps.Events,
		Logger: logger,
	}, logger)
	pages := handler.NewPages(renderer, cfg.LIFFID, logger)
	secure := strings.HasPrefix(cfg.PublicBaseURL, "https://")

	dashboardHandler := handler.NewDashboardHandler(apps, pages, validate, logger)
	authHandler := handler.NewAuthHandler(apps, deps.Provider, cfg.SessionSecret, secure, validate, logger)
	paymentHandler := handler.NewPaymentHandler(apps, pages, validate, logger)

	// 4. ServeMux
	mux := http.NewServeMux()
	dashboardHandler.RegisterRoutes(mux)
	authHandler.RegisterRoutes(mux)
	paymentHandler.RegisterRoutes(mux)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"dashboards": deps.Registry.Len(),
		})
	})
	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	// 5. CORS for the LIFF origin
	c := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		Debug:            false,
	})

	// 6. Middleware chain: the session id must exist before requests are
	// logged, and cross-site form posts are refused before any handler runs.
	withSession := middleware.Session(middleware.SessionOptions{
		Secret: cfg.SessionSecret,
		TTL:    cfg.SessionTTL,
		Secure: secure,
	}, logger)
	sameOrigin := middleware.SameOrigin(cfg.PublicBaseURL, cfg.AllowedOrigins, logger)
	return withSession(middleware.Logger(logger)(sameOrigin(c.Handler(mux)))), nil
}
