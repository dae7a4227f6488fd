package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"os/exec"
	"strconv"

	apperrors "github.com/openswitch/restd/pkg/errors"
)

// LogOptions narrows a system log query.
type LogOptions struct {
	// Priority keeps entries at this syslog priority or more severe.
	// -1 means no priority filter.
	Priority int
	Since    string
	Offset   int
	Limit    int
}

// LogSource reads system log entries. The production source shells out to
// the journal; tests plug in a canned one.
type LogSource interface {
	Read(ctx context.Context, opts LogOptions) ([]map[string]any, error)
}

// JournalSource reads entries from systemd-journald.
type JournalSource struct{}

func NewJournalSource() *JournalSource {
	return &JournalSource{}
}

func (j *JournalSource) Read(ctx context.Context, opts LogOptions) ([]map[string]any, error) {
	args := []string{"-o", "json", "--no-pager"}
	if opts.Priority >= 0 {
		args = append(args, "-p", strconv.Itoa(opts.Priority))
	}
	if opts.Since != "" {
		args = append(args, "--since", opts.Since)
	}
	out, err := exec.CommandContext(ctx, "journalctl", args...).Output()
	if err != nil {
		return nil, apperrors.NewInternal("journal read failed").WithCause(err)
	}

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// handleLogs serves a window of the system journal.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	opts, err := parseLogArgs(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	entries, err := s.logs.Read(r.Context(), opts)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if opts.Offset > len(entries) {
		opts.Offset = len(entries)
	}
	entries = entries[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(entries) {
		entries = entries[:opts.Limit]
	}
	if entries == nil {
		entries = []map[string]any{}
	}
	s.respondJSON(w, http.StatusOK, entries)
}

func parseLogArgs(r *http.Request) (LogOptions, error) {
	opts := LogOptions{Priority: -1}
	for key := range r.URL.Query() {
		switch key {
		case "priority", "since", "offset", "limit":
		default:
			return opts, apperrors.NewParameterNotAllowed("Argument " + key + " is not allowed")
		}
	}
	args := r.URL.Query()
	if raw := args.Get("priority"); raw != "" {
		priority, err := strconv.Atoi(raw)
		if err != nil || priority < 0 || priority > 7 {
			return opts, apperrors.NewDataValidationFailed("Priority must be between 0 and 7")
		}
		opts.Priority = priority
	}
	opts.Since = args.Get("since")
	if raw := args.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return opts, apperrors.NewDataValidationFailed("Pagination indexes must be non-negative numbers")
		}
		opts.Offset = offset
	}
	if raw := args.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return opts, apperrors.NewDataValidationFailed("Pagination indexes must be non-negative numbers")
		}
		opts.Limit = limit
	}
	return opts, nil
}
