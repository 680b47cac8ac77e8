package handler

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
)

// sparvRunner exposes the remote runner for informational Sparv calls. The
// registry owns the runner; the handler borrows it through the job
// environment.
func (h *Handler) sparvRunner() remote.Runner {
	return h.reg.Env().Runner
}

// languageRE matches one line of "sparv languages" output: a language name,
// possibly multi-word, followed by its ISO code.
var languageRE = regexp.MustCompile(`^\s*(\S.*?)\s{2,}(\S+)\s*$`)

// SparvLanguages lists the languages the annotation pipeline supports.
func (h *Handler) SparvLanguages(w http.ResponseWriter, r *http.Request) {
	res, err := h.sparvRunner().Run(r.Context(),
		h.cfg.SparvEnviron+" "+h.cfg.SparvCommand+" languages")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list languages", err)
		return
	}
	if len(res.Stderr) > 0 {
		writeError(w, http.StatusInternalServerError, "failed to list languages", nil)
		return
	}

	languages := map[string]string{}
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if m := languageRE.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[1])
			if strings.EqualFold(name, "Supported languages") {
				continue
			}
			languages[m[2]] = name
		}
	}
	writeSuccess(w, http.StatusOK, "listing languages", envelope{"languages": languages})
}

// exportRE matches a "module:function" export target in Sparv's module
// listing.
var exportRE = regexp.MustCompile(`^\s*([a-z0-9_]+:[a-z0-9_]+)\b`)

// SparvExports lists the export formats the annotation pipeline can produce.
func (h *Handler) SparvExports(w http.ResponseWriter, r *http.Request) {
	res, err := h.sparvRunner().Run(r.Context(),
		h.cfg.SparvEnviron+" "+h.cfg.SparvCommand+" modules --exporters")
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list export formats", err)
		return
	}
	if len(res.Stderr) > 0 {
		writeError(w, http.StatusInternalServerError, "failed to list export formats", nil)
		return
	}

	var exports []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		if m := exportRE.FindStringSubmatch(line); m != nil {
			exports = append(exports, m[1])
		}
	}
	if exports == nil {
		exports = h.cfg.SparvDefaultExports
	}
	writeSuccess(w, http.StatusOK, "listing export formats", envelope{
		"exports":         exports,
		"default_exports": h.cfg.SparvDefaultExports,
	})
}

// Health reports process liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Ready reports whether the service can serve requests, which requires the
// shared store to be reachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if _, err := h.cache.QueueInitialized(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, envelope{
			"status": "unavailable",
			"info":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, envelope{"status": "ready"})
}
