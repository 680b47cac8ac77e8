// Package handler implements the HTTP API.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/job"
	"github.com/spraakbanken/mink-backend-sub000/internal/metrics"
	"github.com/spraakbanken/mink-backend-sub000/internal/registry"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

// Handler bundles the collaborators the HTTP endpoints need.
type Handler struct {
	cfg     *config.Config
	reg     *registry.Registry
	store   storage.Store
	cache   *cache.Cache
	met     *metrics.Metrics
	started time.Time
}

// New creates the API handler set.
func New(cfg *config.Config, reg *registry.Registry, store storage.Store, c *cache.Cache, met *metrics.Metrics) *Handler {
	return &Handler{
		cfg:     cfg,
		reg:     reg,
		store:   store,
		cache:   c,
		met:     met,
		started: time.Now(),
	}
}

// envelope is the JSON response body shape shared by all endpoints.
type envelope map[string]any

func writeJSON(w http.ResponseWriter, statusCode int, payload envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// writeSuccess writes a success envelope with optional extra fields.
func writeSuccess(w http.ResponseWriter, statusCode int, message string, extra envelope) {
	payload := envelope{"status": "success", "message": message}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, statusCode, payload)
}

// writeError writes an error envelope. A non-nil err is logged and included
// so API consumers can surface the cause.
func writeError(w http.ResponseWriter, statusCode int, message string, err error) {
	payload := envelope{"status": "error", "message": message}
	if err != nil {
		payload["info"] = err.Error()
	}
	writeJSON(w, statusCode, payload)
}

// resourceID extracts and validates the corpus_id request parameter.
func (h *Handler) resourceID(r *http.Request) (string, error) {
	id := r.URL.Query().Get("corpus_id")
	if id == "" {
		id = r.PostFormValue("corpus_id")
	}
	if id == "" {
		return "", errors.New("no corpus ID provided")
	}
	if !strings.HasPrefix(id, h.cfg.ResourcePrefix) {
		return "", errors.New("invalid corpus ID")
	}
	return id, nil
}

// getJob resolves the corpus_id parameter to its job, writing the error
// response itself on failure.
func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) (*job.Job, bool) {
	id, err := h.resourceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return nil, false
	}
	j, err := h.reg.Get(id)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "no job found for corpus "+id, nil)
		} else {
			slog.Error("Failed to load job", "resource_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load job for corpus "+id, err)
		}
		return nil, false
	}
	return j, true
}
