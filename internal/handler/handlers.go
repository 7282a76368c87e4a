package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/aggregate"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/client"
	"github.com/Sternrassler/lms-dashboard-aggregator/pkg/pagination"
	"github.com/rs/zerolog"
)

// Handler serves the HTTP routes built by NewRouter.
type Handler struct {
	deps   *RouterDeps
	logger zerolog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

type fatalResponse struct {
	Error   string      `json:"error"`
	Details string      `json:"details"`
	Timing  fatalTiming `json:"timing"`
}

type fatalTiming struct {
	ElapsedMs int64 `json:"elapsedMs"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Ready reports whether the backing services are reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.deps.Ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := h.deps.Ready(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("Readiness check failed")
			writeError(w, http.StatusServiceUnavailable, "not ready", err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *Handler) Dashboard(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, h.deps.Aggregator.Dashboard)
}

func (h *Handler) CourseContent(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, h.deps.Aggregator.CourseContent)
}

func (h *Handler) CurrentTermGrades(w http.ResponseWriter, r *http.Request) {
	h.report(w, r, h.deps.Aggregator.CurrentTermGrades)
}

func (h *Handler) report(w http.ResponseWriter, r *http.Request, build func(context.Context) (*aggregate.Report, error)) {
	report, err := build(r.Context())
	if err == nil {
		writeJSON(w, http.StatusOK, report)
		return
	}

	var fatal *aggregate.FatalError
	if errors.As(err, &fatal) {
		writeJSON(w, http.StatusInternalServerError, fatalResponse{
			Error:   "Aggregation failed",
			Details: fatal.Message,
			Timing:  fatalTiming{ElapsedMs: fatal.Elapsed.Milliseconds()},
		})
		return
	}
	writeError(w, http.StatusInternalServerError, "Aggregation failed", err.Error())
}

// Fetch proxies one paginated upstream read:
//
//	GET /api/fetch?path=/courses/1/assignments&silent=true&max_pages=5
//
// Denied and failed reads are returned as error markers.
func (h *Handler) Fetch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	path := q.Get("path")
	if err := validatePath(path); err != nil {
		writeError(w, http.StatusBadRequest, "invalid path", err.Error())
		return
	}

	opts := pagination.Options{MaxPages: h.deps.MaxPages}
	if v := q.Get("silent"); v != "" {
		silent, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid silent", err.Error())
			return
		}
		opts.SilentErrors = silent
	}
	if v := q.Get("max_pages"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid max_pages", "must be a positive integer")
			return
		}
		if opts.MaxPages == 0 || n < opts.MaxPages {
			opts.MaxPages = n
		}
	}

	result, err := h.deps.Fetcher.Fetch(r.Context(), path, opts)
	switch {
	case errors.Is(err, client.ErrQuotaExhausted):
		writeJSON(w, http.StatusServiceUnavailable, result)
	case err != nil:
		h.logger.Warn().Err(err).Str("path", path).Msg("Raw fetch failed")
		writeJSON(w, http.StatusBadGateway, result)
	case result.Kind == pagination.KindDenied:
		writeJSON(w, http.StatusForbidden, result)
	default:
		writeJSON(w, http.StatusOK, result)
	}
}

// validatePath accepts only paths relative to the upstream base URL.
func validatePath(path string) error {
	switch {
	case path == "":
		return errors.New("path is required")
	case !strings.HasPrefix(path, "/"), strings.HasPrefix(path, "//"):
		return errors.New("path must be relative to the LMS API base")
	case strings.Contains(path, "://"), strings.Contains(path, ".."):
		return errors.New("path must not contain a scheme or parent segments")
	}
	return nil
}
