package server

import (
	"crypto/sha1"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

const loginPath = "/login"

func (s *Server) respondJSON(w http.ResponseWriter, status int, body any) {
	if body == nil {
		w.WriteHeader(status)
		return
	}
	data, err := json.Marshal(body)
	if err != nil {
		s.logger.Error("response serialization failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// respondError maps an engine error to its status code. Authentication
// failures carry a Link header pointing the client at the login endpoint.
func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperrors.GetAppError(err)
	if appErr == nil {
		s.logger.Error("unclassified handler error",
			zap.String("path", r.URL.Path), zap.Error(err))
		appErr = apperrors.NewInternal("internal error")
	}
	status := apperrors.HTTPStatusOf(appErr)
	if status == http.StatusNotModified {
		w.WriteHeader(status)
		return
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("Link", loginPath)
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.respondJSON(w, status, map[string]any{"error": appErr})
}

// computeETag hashes the canonical JSON form of a resource.
func computeETag(body any) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%q", fmt.Sprintf("%x", sha1.Sum(data))), nil
}

// etagMatches checks a comma-separated If-Match / If-None-Match header
// against the current entity tag. "*" matches any existing resource.
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}
