// Package auth provides authentication and authorization for the REST
// surface: a pluggable credential check, a permission model mapping HTTP
// methods to switch configuration access, and JWT-signed session cookies.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"sync"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

// Permission is an access right over the switch configuration.
type Permission string

const (
	PermissionRead  Permission = "READ_SWITCH_CONFIG"
	PermissionWrite Permission = "WRITE_SWITCH_CONFIG"
)

// MethodPermission maps an HTTP method to the permission it requires.
// OPTIONS needs none.
func MethodPermission(method string) (Permission, bool) {
	switch method {
	case http.MethodGet, http.MethodHead:
		return PermissionRead, true
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return PermissionWrite, true
	}
	return "", false
}

// Authenticator checks a username/password pair. The default implementation
// reads static credentials from configuration; deployments hook their own
// account backend in here.
type Authenticator interface {
	Authenticate(ctx context.Context, username, password string) error
}

// Authorizer reports the permissions of an authenticated user.
type Authorizer interface {
	Permissions(username string) []Permission
}

// Authorize checks one user against the permission an HTTP method requires.
// An empty username with authentication enabled is not authenticated; a user
// without the needed permission is forbidden.
func Authorize(a Authorizer, username, method string) error {
	required, needed := MethodPermission(method)
	if !needed {
		return nil
	}
	if username == "" {
		return apperrors.NewNotAuthenticated("")
	}
	for _, p := range a.Permissions(username) {
		if p == required {
			return nil
		}
	}
	return apperrors.NewForbiddenMethod("")
}

// PasswordChanger is implemented by account backends that can update the
// password of an existing user.
type PasswordChanger interface {
	ChangePassword(username, password string) error
}

// StaticProvider authenticates against a fixed credential map and grants
// every known user full read/write access.
type StaticProvider struct {
	mu    sync.RWMutex
	users map[string]string
}

// NewStaticProvider builds a provider over a username to password map.
func NewStaticProvider(users map[string]string) *StaticProvider {
	if users == nil {
		users = map[string]string{}
	}
	return &StaticProvider{users: users}
}

func (p *StaticProvider) Authenticate(_ context.Context, username, password string) error {
	p.mu.RLock()
	expected, ok := p.users[username]
	p.mu.RUnlock()
	if !ok {
		// Burn the comparison anyway so unknown users cost the same.
		subtle.ConstantTimeCompare([]byte(password), []byte(password))
		return apperrors.NewAuthenticationFailed("Invalid username or password")
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(password)) != 1 {
		return apperrors.NewAuthenticationFailed("Invalid username or password")
	}
	return nil
}

func (p *StaticProvider) Permissions(username string) []Permission {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if _, ok := p.users[username]; !ok {
		return nil
	}
	return []Permission{PermissionRead, PermissionWrite}
}

// ChangePassword replaces the password of a known user.
func (p *StaticProvider) ChangePassword(username, password string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.users[username]; !ok {
		return apperrors.NewNotFound(username)
	}
	p.users[username] = password
	return nil
}
