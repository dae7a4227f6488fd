package auth

import (
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

// CookieName is the session cookie carrying the signed token.
const CookieName = "user"

// Sessions issues and verifies the signed session cookies.
type Sessions struct {
	secret []byte
	issuer string
	maxAge time.Duration
}

// NewSessions builds a session manager. Tokens are HMAC-signed with secret
// and expire after maxAge.
func NewSessions(secret []byte, issuer string, maxAge time.Duration) *Sessions {
	return &Sessions{secret: secret, issuer: issuer, maxAge: maxAge}
}

// Issue signs a session token for a user.
func (s *Sessions) Issue(username string) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   username,
		Issuer:    s.issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.maxAge)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

// Verify checks a session token and returns its username.
func (s *Sessions) Verify(token string) (string, error) {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{},
		func(t *jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return "", apperrors.NewNotAuthenticated("").WithCause(err)
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok || claims.Subject == "" {
		return "", apperrors.NewNotAuthenticated("")
	}
	return claims.Subject, nil
}

// SetCookie attaches the session cookie to a response.
func (s *Sessions) SetCookie(w http.ResponseWriter, token string, secure bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie expires the session cookie.
func (s *Sessions) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
}

// FromRequest extracts and verifies the session of a request. A missing
// cookie is an empty username with no error.
func (s *Sessions) FromRequest(r *http.Request) (string, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", nil
	}
	return s.Verify(cookie.Value)
}
