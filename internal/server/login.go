package server

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

type loginForm struct {
	Username string `validate:"required"`
	Password string `validate:"required"`
}

// handleLogin authenticates a form-encoded credential pair and issues the
// session cookie.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	client := clientAddr(r)
	if !s.loginLimiter.Allow(client) {
		appErr := apperrors.NewAuthenticationFailed("Too many login attempts")
		appErr.HTTPStatus = http.StatusTooManyRequests
		s.logger.Warn("login throttled", zap.String("client", client))
		s.respondError(w, r, appErr)
		return
	}
	if err := r.ParseForm(); err != nil {
		s.respondError(w, r, apperrors.NewDataValidationFailed("Malformed login form"))
		return
	}
	form := loginForm{
		Username: r.PostFormValue("username"),
		Password: r.PostFormValue("password"),
	}
	if err := s.validate.Struct(form); err != nil {
		s.respondError(w, r, apperrors.NewDataValidationFailed("Username and password are required"))
		return
	}
	if err := s.authn.Authenticate(r.Context(), form.Username, form.Password); err != nil {
		s.logger.Info("login rejected", zap.String("user", form.Username))
		s.respondError(w, r, err)
		return
	}
	token, err := s.sessions.Issue(form.Username)
	if err != nil {
		s.respondError(w, r, apperrors.NewInternal("session issue failed").WithCause(err))
		return
	}
	s.sessions.SetCookie(w, token, r.TLS != nil)
	s.loginLimiter.Reset(client)
	s.logger.Info("login succeeded", zap.String("user", form.Username))
	s.respondJSON(w, http.StatusOK, nil)
}

// clientAddr strips the port from the remote address so one client shares
// one throttling window across connections.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// handleLoginCheck reports whether the caller holds a valid session.
func (s *Server) handleLoginCheck(w http.ResponseWriter, r *http.Request) {
	username, err := s.sessions.FromRequest(r)
	if err != nil || username == "" {
		s.respondError(w, r, apperrors.NewNotAuthenticated(""))
		return
	}
	s.respondJSON(w, http.StatusOK, nil)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.ClearCookie(w)
	s.respondJSON(w, http.StatusOK, nil)
}
