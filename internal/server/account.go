package server

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

// defaultAccountSchema validates the account update document when no schema
// file is configured.
const defaultAccountSchema = `{
	"$schema": "http://json-schema.org/draft-04/schema#",
	"type": "object",
	"required": ["configuration"],
	"additionalProperties": false,
	"properties": {
		"configuration": {
			"type": "object",
			"required": ["password"],
			"additionalProperties": false,
			"properties": {
				"password": {"type": "string", "minLength": 1}
			}
		}
	}
}`

// compileAccountSchema loads the account document schema from path, or the
// built-in default when path is empty.
func compileAccountSchema(path string) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if path == "" {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(defaultAccountSchema))
		if err != nil {
			return nil, err
		}
		path = "account.json"
		if err := compiler.AddResource(path, doc); err != nil {
			return nil, err
		}
	}
	return compiler.Compile(path)
}

// handleAccountGet reports the identity of the session user.
func (s *Server) handleAccountGet(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	if username == "" && s.cfg.AuthEnabled {
		s.respondError(w, r, apperrors.NewNotAuthenticated(""))
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"username": username})
}

// handleAccountPut changes the password of the session user. The body is
// validated against the account schema before the backend is touched.
func (s *Server) handleAccountPut(w http.ResponseWriter, r *http.Request) {
	username := usernameFrom(r.Context())
	if username == "" {
		s.respondError(w, r, apperrors.NewNotAuthenticated(""))
		return
	}
	if s.accounts == nil {
		s.respondError(w, r, apperrors.NewMethodNotAllowed("Account backend does not support password changes"))
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		s.respondError(w, r, apperrors.NewDataValidationFailed("Malformed account document"))
		return
	}
	if err := s.accountSchema.Validate(doc); err != nil {
		s.respondError(w, r, apperrors.NewDataValidationFailed(err.Error()))
		return
	}
	configuration := doc.(map[string]any)["configuration"].(map[string]any)
	password, _ := configuration["password"].(string)
	if err := s.accounts.ChangePassword(username, password); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nil)
}
