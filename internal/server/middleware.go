package server

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/openswitch/restd/internal/auth"
)

type contextKey string

const usernameKey contextKey = "username"

// usernameFrom returns the authenticated user of a request, or "".
func usernameFrom(ctx context.Context) string {
	username, _ := ctx.Value(usernameKey).(string)
	return username
}

// normalizePath collapses duplicate slashes and strips the trailing slash
// before routing, so /rest/v1//system/ and /rest/v1/system are the same
// resource.
func normalizePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		for strings.Contains(path, "//") {
			path = strings.ReplaceAll(path, "//", "/")
		}
		if len(path) > 1 {
			path = strings.TrimRight(path, "/")
		}
		r.URL.Path = path
		next.ServeHTTP(w, r)
	})
}

// noCache marks every response as uncacheable.
func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		next.ServeHTTP(w, r)
	})
}

// forceHTTPS redirects plain-HTTP requests to the configured external host.
func (s *Server) forceHTTPS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.TLS == nil && s.cfg.HTTPSRedirect != "" {
			http.Redirect(w, r, "https://"+s.cfg.HTTPSRedirect+r.URL.RequestURI(), http.StatusMovedPermanently)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger logs one line per completed request. Configuration changes
// and login activity additionally get an audit line with the acting user.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", chimiddleware.GetReqID(r.Context())))
			s.audit(r, ww.Status())
		}()
		next.ServeHTTP(ww, r)
	})
}

// audit records login attempts and configuration changes. Result is success
// for any 2xx status.
func (s *Server) audit(r *http.Request, status int) {
	event := ""
	switch {
	case r.URL.Path == "/login" || r.URL.Path == "/logout" || r.URL.Path == "/account":
		event = "USER_LOGIN_CFG"
	case r.Method != http.MethodGet && r.Method != http.MethodHead && r.Method != http.MethodOptions:
		event = "USYS_CONFIG"
	default:
		return
	}
	s.logger.Info("audit",
		zap.String("event", event),
		zap.String("op", r.Method+" "+r.URL.Path),
		zap.String("user", usernameFrom(r.Context())),
		zap.Bool("success", status >= 200 && status < 300))
}

// session resolves the session cookie into the request context. An invalid
// cookie is rejected outright; a missing one leaves the request anonymous
// for authorize to judge.
func (s *Server) session(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}
		username, err := s.sessions.FromRequest(r)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if username != "" {
			r = r.WithContext(context.WithValue(r.Context(), usernameKey, username))
		}
		next.ServeHTTP(w, r)
	})
}

// authorize checks the method permission of the authenticated user.
func (s *Server) authorize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.cfg.AuthEnabled {
			next.ServeHTTP(w, r)
			return
		}
		if err := auth.Authorize(s.authz, usernameFrom(r.Context()), r.Method); err != nil {
			s.respondError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metrics carries a per-server prometheus registry so parallel test servers
// never collide on registration.
type metrics struct {
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	duration *prometheus.HistogramVec
	wsOpen   prometheus.Gauge
}

func newMetrics() *metrics {
	m := &metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "restd_requests_total",
			Help: "REST requests by method and status code.",
		}, []string{"method", "code"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "restd_request_duration_seconds",
			Help:    "REST request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
		wsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "restd_websocket_sessions",
			Help: "Open websocket notification sessions.",
		}),
	}
	m.registry.MustRegister(m.requests, m.duration, m.wsOpen)
	return m
}

func (m *metrics) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		m.requests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
		m.duration.WithLabelValues(r.Method).Observe(time.Since(start).Seconds())
	})
}

func (m *metrics) handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
