package routes

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"workescrow/core/events"
	"workescrow/gateway/audit"
	"workescrow/gateway/auth"
	"workescrow/gateway/middleware"
	"workescrow/native/access"
	"workescrow/native/bank"
	"workescrow/native/escrow"
	"workescrow/native/fees"
	"workescrow/native/registry"
)

// Modules groups the engine with the collaborators it is wired to. Admin
// writes to the collaborators go through Engine.Update so they share the
// engine's lock and event flushing.
type Modules struct {
	Engine   *escrow.Engine
	Registry *registry.Registry
	Access   *access.Manager
	Fees     *fees.Manager
	Ledger   *bank.Ledger
}

type Config struct {
	Modules       Modules
	Auth          *auth.Service
	Events        *events.Broadcaster
	StreamBuffer  int
	Audit         *audit.Store
	HealthHandler http.Handler
	Authenticator *middleware.Authenticator
	RateLimiter   *middleware.RateLimiter
	RateLimitKey  string
	Observability *middleware.Observability
	CORS          middleware.CORSConfig
	Logger        *slog.Logger
}

type server struct {
	mods   Modules
	auth   *auth.Service
	events *events.Broadcaster
	buffer int
	audit  *audit.Store
	logger *slog.Logger
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Modules.Engine == nil || cfg.Modules.Registry == nil || cfg.Modules.Access == nil ||
		cfg.Modules.Fees == nil || cfg.Modules.Ledger == nil {
		return nil, errors.New("routes: escrow modules not configured")
	}
	authn := cfg.Authenticator
	if authn == nil {
		authn = middleware.NewAuthenticator(middleware.AuthConfig{}, cfg.Logger)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &server{
		mods:   cfg.Modules,
		auth:   cfg.Auth,
		events: cfg.Events,
		buffer: cfg.StreamBuffer,
		audit:  cfg.Audit,
		logger: logger.With("component", "routes"),
	}

	r := chi.NewRouter()
	r.Use(middleware.CORS(cfg.CORS))
	obs := cfg.Observability
	if obs != nil {
		r.Use(obs.Middleware("root"))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.HealthHandler != nil {
			cfg.HealthHandler.ServeHTTP(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if obs != nil {
		r.Handle("/metrics", obs.MetricsHandler())
	}

	r.Route("/v1", func(v1 chi.Router) {
		if cfg.RateLimiter != nil && cfg.RateLimitKey != "" {
			v1.Use(cfg.RateLimiter.Middleware(cfg.RateLimitKey))
		}

		v1.Group(func(public chi.Router) {
			if obs != nil {
				public.Use(obs.Middleware("auth"))
			}
			public.Post("/auth/challenge", s.handleChallenge)
			public.Post("/auth/login", s.handleLogin)
		})

		v1.Group(func(api chi.Router) {
			api.Use(authn.Middleware(auth.ScopeEscrow))
			api.Use(audit.Middleware(s.audit, requestCaller))
			if obs != nil {
				api.Use(obs.Middleware("escrow"))
			}
			s.mountEscrow(api)
			s.mountTokens(api)
			api.Get("/events/ws", s.handleEventStream)
		})

		v1.Route("/admin", func(admin chi.Router) {
			admin.Use(authn.Middleware(auth.ScopeEscrow))
			admin.Use(audit.Middleware(s.audit, requestCaller))
			if obs != nil {
				admin.Use(obs.Middleware("admin"))
			}
			s.mountAdmin(admin)
			admin.With(authn.Middleware(auth.ScopeAdmin)).Get("/audit", s.handleAuditList)
		})
	})

	return r, nil
}

func requestCaller(r *http.Request) (common.Address, bool) {
	return middleware.CallerFromContext(r.Context())
}

// callerOf returns the authenticated account or answers 401.
func callerOf(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, errors.New("caller not authenticated"))
		return common.Address{}, false
	}
	return caller, true
}
