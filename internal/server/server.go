// Package server is the HTTPS front door of the daemon: the chi router over
// the versioned REST surface, the login/account/logs endpoints and the
// websocket notification channel. Handlers translate HTTP to the resolver,
// query and write engines and map engine errors back to status codes.
package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	playground "github.com/go-playground/validator/v10"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/auth"
	"github.com/openswitch/restd/internal/config"
	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/schema"
	"github.com/openswitch/restd/internal/validator"
)

// Server carries the shared dependencies of every handler.
type Server struct {
	cfg          *config.Config
	schema       *schema.Schema
	manager      *ovsdb.Manager
	db           *ovsdb.Database
	registry     *validator.Registry
	sessions     *auth.Sessions
	authn        auth.Authenticator
	authz        auth.Authorizer
	accounts     auth.PasswordChanger
	hub          *Hub
	logs         LogSource
	validate     *playground.Validate
	loginLimiter *auth.LoginLimiter

	accountSchema *jsonschema.Schema

	logger  *zap.Logger
	metrics *metrics
}

// Option overrides one dependency of a Server.
type Option func(*Server)

// WithLogSource replaces the journal-backed log source.
func WithLogSource(src LogSource) Option {
	return func(s *Server) { s.logs = src }
}

// WithAuthenticator replaces the credential backend built from configuration.
// The value should also implement auth.Authorizer and auth.PasswordChanger
// for the account endpoints to work.
func WithAuthenticator(a auth.Authenticator) Option {
	return func(s *Server) {
		s.authn = a
		if authz, ok := a.(auth.Authorizer); ok {
			s.authz = authz
		}
		if accounts, ok := a.(auth.PasswordChanger); ok {
			s.accounts = accounts
		}
	}
}

// WithValidatorRegistry replaces the default table validator registry.
func WithValidatorRegistry(r *validator.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithLoginLimiter replaces the default login throttle.
func WithLoginLimiter(l *auth.LoginLimiter) Option {
	return func(s *Server) { s.loginLimiter = l }
}

// New wires a server over a managed database replica. hub is the websocket
// hub also registered as the notification sender.
func New(cfg *config.Config, s *schema.Schema, manager *ovsdb.Manager, hub *Hub, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	provider := auth.NewStaticProvider(cfg.Users)
	srv := &Server{
		cfg:          cfg,
		schema:       s,
		manager:      manager,
		db:           manager.Database(),
		registry:     validator.DefaultRegistry(logger),
		sessions:     auth.NewSessions([]byte(cfg.JWTSecret), cfg.JWTIssuer, time.Duration(cfg.SessionMaxAge)*time.Second),
		authn:        provider,
		authz:        provider,
		accounts:     provider,
		hub:          hub,
		logs:         NewJournalSource(),
		validate:     playground.New(),
		loginLimiter: auth.NewLoginLimiter(10, time.Minute),
		logger:       logger,
		metrics:      newMetrics(),
	}
	for _, opt := range opts {
		opt(srv)
	}

	accountSchema, err := compileAccountSchema(cfg.AccountSchemaPath)
	if err != nil {
		return nil, err
	}
	srv.accountSchema = accountSchema
	return srv, nil
}

// Router builds the HTTP handler tree.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Use(s.requestLogger)
	router.Use(normalizePath)
	router.Use(noCache)
	if s.cfg.ForceHTTPS {
		router.Use(s.forceHTTPS)
	}
	if s.cfg.EnableCORS {
		router.Use(cors.Handler(cors.Options{
			AllowedOrigins:   []string{"*"},
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "If-Match", "If-None-Match", "X-Request-ID"},
			ExposedHeaders:   []string{"Etag", "Location", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}
	if s.cfg.EnableMetrics {
		router.Use(s.metrics.middleware)
		router.Method(http.MethodGet, "/metrics", s.metrics.handler())
	}

	router.Get("/healthz", s.healthCheck)

	router.Get("/login", s.handleLoginCheck)
	router.Post("/login", s.handleLogin)
	router.Post("/logout", s.handleLogout)

	router.Group(func(r chi.Router) {
		r.Use(s.session)
		r.Use(s.authorize)

		r.Get("/account", s.handleAccountGet)
		r.Put("/account", s.handleAccountPut)
		r.Get("/logs", s.handleLogs)

		r.Route(s.cfg.BasePath, func(r chi.Router) {
			r.Get("/ws/notifications", s.handleWS)
			r.Get("/system/full-configuration", s.handleConfigGet)
			r.Put("/system/full-configuration", s.handleConfigPut)
			r.HandleFunc("/system", s.handleResource)
			r.HandleFunc("/system/*", s.handleResource)
		})
	})

	return router
}

// Run serves the router until ctx is cancelled, then shuts down gracefully.
// TLS is used when the configured certificate pair exists or can be created.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.ListenAddress,
		Handler:      s.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	useTLS, err := s.ensureTLS()
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			zap.String("address", s.cfg.ListenAddress),
			zap.Bool("tls", useTLS),
			zap.String("environment", s.cfg.Environment))
		if useTLS {
			errCh <- srv.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			errCh <- srv.ListenAndServe()
		}
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if s.hub != nil {
		s.hub.CloseAll()
	}
	return srv.Shutdown(shutdownCtx)
}

// ensureTLS decides whether to serve HTTPS, generating a self-signed pair
// when configured to.
func (s *Server) ensureTLS() (bool, error) {
	if fileExists(s.cfg.TLSCertPath) && fileExists(s.cfg.TLSKeyPath) {
		return true, nil
	}
	if s.cfg.CreateSSL {
		if err := GenerateSelfSigned(s.cfg.TLSCertPath, s.cfg.TLSKeyPath); err != nil {
			return false, err
		}
		s.logger.Info("generated self-signed certificate",
			zap.String("cert", s.cfg.TLSCertPath))
		return true, nil
	}
	if s.cfg.IsProduction() {
		s.logger.Warn("serving plain HTTP in production, certificate pair missing",
			zap.String("cert", s.cfg.TLSCertPath))
	}
	return false, nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Server) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"healthy"}`))
}
