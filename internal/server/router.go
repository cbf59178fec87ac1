// Package server wires services, handlers and middleware into the HTTP router.
package server

import (
	"net/http"
	"time"

	"github.com/bianutri/backend/internal/handler"
	"github.com/bianutri/backend/internal/metrics"
	appMiddleware "github.com/bianutri/backend/internal/middleware"
	"github.com/bianutri/backend/internal/repository"
	"github.com/bianutri/backend/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Options tunes the router. Zero rate limits disable limiting.
type Options struct {
	CORSOrigins    []string
	RequestTimeout time.Duration

	GlobalRPS   float64
	GlobalBurst int
	TrialRPS    float64
	TrialBurst  int
}

// DefaultOptions are the production settings.
func DefaultOptions(corsOrigins []string) Options {
	return Options{
		CORSOrigins:    corsOrigins,
		RequestTimeout: 15 * time.Second,
		GlobalRPS:      20,
		GlobalBurst:    40,
		TrialRPS:       1,
		TrialBurst:     10,
	}
}

// Services are the dependencies of the router.
type Services struct {
	Auth          *service.AuthService
	Trials        *service.TrialService
	Profiles      *service.ProfileService
	Subscriptions *service.SubscriptionService
	Access        *service.AccessService
	Phones        *service.PhoneGuard

	DB    handler.Pinger
	Cache handler.Pinger

	// limiters are created by NewRouter and stopped by Close.
	limiters []*appMiddleware.RateLimiter
}

// Close stops the background work started by NewRouter.
func (s *Services) Close() {
	for _, rl := range s.limiters {
		rl.Stop()
	}
	s.limiters = nil
}

// NewServices builds every service over one store. subscriptions may wrap
// the store with a cache; pass the store itself when there is none.
func NewServices(store repository.Store, subscriptions repository.SubscriptionReader, auth *service.AuthService, trials *service.TrialService, logger zerolog.Logger) *Services {
	limit := trials.Config().LimitSeconds
	subSvc := service.NewSubscriptionService(subscriptions)
	return &Services{
		Auth:          auth,
		Trials:        trials,
		Profiles:      service.NewProfileService(store, limit, logger),
		Subscriptions: subSvc,
		Access:        service.NewAccessService(store, subSvc, limit),
		Phones:        service.NewPhoneGuard(store),
		DB:            store,
	}
}

// NewRouter builds the HTTP handler. Call svc.Close once the handler is no
// longer served.
func NewRouter(svc *Services, opts Options, logger zerolog.Logger) http.Handler {
	trialHandler := handler.NewTrialHandler(svc.Trials)
	profileHandler := handler.NewProfileHandler(svc.Profiles)
	phoneHandler := handler.NewPhoneHandler(svc.Phones)
	accessHandler := handler.NewAccessHandler(svc.Access)
	subscriptionHandler := handler.NewSubscriptionHandler(svc.Subscriptions)
	plansHandler := handler.NewPlansHandler()
	healthHandler := handler.NewHealthHandler(svc.DB, svc.Cache)

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(appMiddleware.Recovery(logger))
	r.Use(appMiddleware.Logger(logger))
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if opts.RequestTimeout > 0 {
		r.Use(middleware.Timeout(opts.RequestTimeout))
	}
	if opts.GlobalRPS > 0 {
		rl := appMiddleware.NewRateLimiter(opts.GlobalRPS, opts.GlobalBurst)
		svc.limiters = append(svc.limiters, rl)
		r.Use(rl.Middleware())
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.JSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.JSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	})

	// Health check and public routes (no auth)
	r.Get("/health", healthHandler.Check)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/plans", plansHandler.List)
	r.Get("/api/trial/config", trialHandler.Config)
	r.Post("/api/phone/check", phoneHandler.Check)

	// Protected API routes
	r.Group(func(r chi.Router) {
		r.Use(appMiddleware.Auth(svc.Auth))

		r.Get("/api/profile", profileHandler.Get)
		r.Put("/api/profile/phone", profileHandler.SetPhone)
		r.Get("/api/access", accessHandler.Get)
		r.Get("/api/subscription", subscriptionHandler.GetSubscription)

		// Trial mutations, limited per user
		r.Group(func(r chi.Router) {
			if opts.TrialRPS > 0 {
				rl := appMiddleware.NewKeyedRateLimiter(opts.TrialRPS, opts.TrialBurst, appMiddleware.UserOrIP)
				svc.limiters = append(svc.limiters, rl)
				r.Use(rl.Middleware())
			}
			r.Post("/api/trial", trialHandler.Action)
			r.Post("/api/trial/start", trialHandler.Start)
			r.Post("/api/trial/increment", trialHandler.Increment)
		})
	})

	return r
}
