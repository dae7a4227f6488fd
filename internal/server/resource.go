package server

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"net/url"
	"reflect"
	"time"

	"github.com/openswitch/restd/internal/ovsdb"
	"github.com/openswitch/restd/internal/query"
	"github.com/openswitch/restd/internal/resolver"
	"github.com/openswitch/restd/internal/write"
	apperrors "github.com/openswitch/restd/pkg/errors"
)

const maxBodyBytes = 5 << 20

// engines builds the per-request read and write engines bound to one
// transaction, so on-demand columns resolve into the same view the request
// reads from.
func (s *Server) engines(txn *ovsdb.Txn) (*query.Engine, *write.Engine) {
	reader := query.New(s.schema, &txnFetcher{schema: s.schema, txn: txn}, s.logger)
	return reader, write.New(s.schema, s.registry, reader, s.logger)
}

// handleResource dispatches one data-path request under /rest/v1/system.
func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.handleGet(w, r)
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		s.handleWrite(w, r)
	default:
		s.respondError(w, r, apperrors.NewMethodNotAllowed(""))
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	txn := s.db.NewTxn()
	defer txn.Abort()

	chain, err := resolver.Parse(s.schema, txn, r.URL.Path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	opts, err := query.ParseOptions(r.URL.Query(), s.schema.Table(chain.Terminal().Table), chain.IsCollection())
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	reader, _ := s.engines(txn)
	result, err := reader.Get(r.Context(), txn, chain, r.URL.Path, opts)
	txn.Abort()
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	etag, err := computeETag(result)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if header := r.Header.Get("If-None-Match"); header != "" && etagMatches(header, etag) {
		s.respondError(w, r, apperrors.NewNotModified())
		return
	}
	w.Header().Set("Etag", etag)
	s.respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleWrite(w http.ResponseWriter, r *http.Request) {
	ifMatch := r.Header.Get("If-Match")
	if err := validateWriteArgs(r.URL.Query(), r.Method, ifMatch); err != nil {
		s.respondError(w, r, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	txn := s.db.NewTxn()
	defer txn.Abort()

	chain, err := resolver.Parse(s.schema, txn, r.URL.Path)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	reader, writer := s.engines(txn)
	if ifMatch != "" {
		matched, err := s.checkPrecondition(r, txn, reader, chain, ifMatch, body)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if !matched {
			// PUT of the configuration the switch already runs. RFC 7232
			// allows treating this as a successful no-op.
			txn.Abort()
			s.respondJSON(w, http.StatusOK, nil)
			return
		}
	}

	switch r.Method {
	case http.MethodPost:
		index, err := writer.Post(r.Context(), txn, chain, body)
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := s.commit(r, txn); err != nil {
			s.respondError(w, r, err)
			return
		}
		w.Header().Set("Location", r.URL.Path+"/"+index)
		s.respondJSON(w, http.StatusCreated, nil)
	case http.MethodPut:
		if err := writer.Put(r.Context(), txn, chain, body); err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := s.commit(r, txn); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusOK, nil)
	case http.MethodPatch:
		if err := writer.Patch(r.Context(), txn, chain, r.URL.Path, body); err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := s.commit(r, txn); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusNoContent, nil)
	case http.MethodDelete:
		if err := writer.Delete(r.Context(), txn, chain); err != nil {
			s.respondError(w, r, err)
			return
		}
		if err := s.commit(r, txn); err != nil {
			s.respondError(w, r, err)
			return
		}
		s.respondJSON(w, http.StatusNoContent, nil)
	}
}

// validateWriteArgs gates query parameters on mutating methods. Only the
// selector is meaningful, and only to scope the If-Match entity tag.
func validateWriteArgs(args url.Values, method, ifMatch string) error {
	for key := range args {
		if key == query.ParamSelector && ifMatch != "" {
			continue
		}
		return apperrors.NewParameterNotAllowed(
			"Argument " + key + " is not allowed for " + method)
	}
	return nil
}

// readBody reads and content-type-checks the request body. GET-like methods
// never reach here.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, apperrors.NewDataValidationFailed("Unable to read request body")
	}
	if len(body) == 0 {
		return nil, nil
	}
	mediaType := "application/json"
	if header := r.Header.Get("Content-Type"); header != "" {
		mediaType, _, err = mime.ParseMediaType(header)
		if err != nil {
			return nil, unsupportedMediaType()
		}
	}
	switch mediaType {
	case "application/json", "application/json-patch+json":
		return body, nil
	}
	return nil, unsupportedMediaType()
}

func unsupportedMediaType() error {
	appErr := apperrors.NewDataValidationFailed("Unsupported media type")
	appErr.HTTPStatus = http.StatusUnsupportedMediaType
	return appErr
}

// checkPrecondition evaluates If-Match against the current entity tag of the
// target resource. A failed match on PUT is downgraded to a no-op when the
// submitted configuration equals the current one; the (false, nil) return
// asks the caller to answer 200 without applying anything.
func (s *Server) checkPrecondition(r *http.Request, txn *ovsdb.Txn, reader *query.Engine, chain *resolver.Resource, ifMatch string, body []byte) (bool, error) {
	selArgs := url.Values{}
	if raw := r.URL.Query().Get(query.ParamSelector); raw != "" {
		selArgs.Set(query.ParamSelector, raw)
	}
	opts, err := query.ParseOptions(selArgs, s.schema.Table(chain.Terminal().Table), false)
	if err != nil {
		return false, err
	}
	current, err := reader.Get(r.Context(), txn, chain, r.URL.Path, opts)
	if err != nil {
		return false, err
	}
	etag, err := computeETag(current)
	if err != nil {
		return false, err
	}
	if etagMatches(ifMatch, etag) {
		return true, nil
	}
	if r.Method == http.MethodPut && configUnchanged(current, body) {
		return false, nil
	}
	return false, apperrors.NewPreconditionFailed("")
}

// configUnchanged reports whether a PUT body carries exactly the
// configuration the resource already has.
func configUnchanged(current any, body []byte) bool {
	currentRow, ok := current.(map[string]any)
	if !ok {
		return false
	}
	var submitted map[string]any
	if err := json.Unmarshal(body, &submitted); err != nil {
		return false
	}
	// Round-trip the stored configuration through JSON so both sides use
	// the same value types.
	normalized, err := json.Marshal(currentRow["configuration"])
	if err != nil {
		return false
	}
	var currentConfig any
	if err := json.Unmarshal(normalized, &currentConfig); err != nil {
		return false
	}
	return reflect.DeepEqual(currentConfig, submitted["configuration"])
}

// commit drives the request transaction to its terminal state through the
// connection manager. The wait is bounded by the transaction timeout so an
// incomplete commit cannot pin the write lock for the lifetime of the
// request.
func (s *Server) commit(r *http.Request, txn *ovsdb.Txn) error {
	status := s.manager.Commit(txn)
	if status == ovsdb.StatusIncomplete {
		ctx := r.Context()
		if s.cfg.TxnTimeoutSeconds > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(s.cfg.TxnTimeoutSeconds)*time.Second)
			defer cancel()
		}
		var err error
		status, err = txn.Wait(ctx)
		if err != nil {
			return apperrors.NewTransactionFailed("", err)
		}
	}
	if status != ovsdb.StatusSuccess {
		return apperrors.NewTransactionFailed("transaction "+status.String(), txn.Err())
	}
	return nil
}

// handleConfigGet serializes the full declarative configuration document.
func (s *Server) handleConfigGet(w http.ResponseWriter, r *http.Request) {
	if err := validateConfigArgs(r.URL.Query()); err != nil {
		s.respondError(w, r, err)
		return
	}
	txn := s.db.NewTxn()
	_, writer := s.engines(txn)
	doc := writer.DumpConfig(txn)
	txn.Abort()
	s.respondJSON(w, http.StatusOK, doc)
}

// handleConfigPut replaces the running configuration with the submitted
// document in one transaction.
func (s *Server) handleConfigPut(w http.ResponseWriter, r *http.Request) {
	if err := validateConfigArgs(r.URL.Query()); err != nil {
		s.respondError(w, r, err)
		return
	}
	body, err := s.readBody(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		s.respondError(w, r, apperrors.NewDataValidationFailed("Malformed configuration document"))
		return
	}

	txn := s.db.NewTxn()
	defer txn.Abort()
	_, writer := s.engines(txn)
	if err := writer.ApplyConfig(r.Context(), txn, doc); err != nil {
		s.respondError(w, r, err)
		return
	}
	if err := s.commit(r, txn); err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, nil)
}

// validateConfigArgs accepts only type=running. The startup configuration
// lives with the configuration daemon, not in the database replica.
func validateConfigArgs(args url.Values) error {
	for key := range args {
		if key != "type" {
			return apperrors.NewParameterNotAllowed("Argument " + key + " is not allowed")
		}
	}
	switch args.Get("type") {
	case "", "running":
		return nil
	}
	return apperrors.NewDataValidationFailed("Only the running configuration is available")
}
