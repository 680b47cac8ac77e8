package handler

import (
	"net/http"

	"github.com/spraakbanken/mink-backend-sub000/pkg/middleware"
)

// Router builds the HTTP route table with the shared middleware chain.
func (h *Handler) Router() http.Handler {
	mux := http.NewServeMux()

	// Job lifecycle
	mux.HandleFunc("PUT /run-sparv", h.RunSparv)
	mux.HandleFunc("POST /abort-job", h.AbortJob)
	mux.HandleFunc("PUT /sync-results", h.SyncResults)
	mux.HandleFunc("GET /resource-info", h.ResourceInfo)

	// Downstream tools
	mux.HandleFunc("PUT /install-korp", h.InstallKorp)
	mux.HandleFunc("PUT /install-strix", h.InstallStrix)
	mux.HandleFunc("DELETE /uninstall-korp", h.UninstallKorp)
	mux.HandleFunc("DELETE /uninstall-strix", h.UninstallStrix)

	// Corpus maintenance
	mux.HandleFunc("DELETE /clean", h.Clean)
	mux.HandleFunc("DELETE /clean-export", h.CleanExport)
	mux.HandleFunc("DELETE /remove-from-sparv", h.RemoveFromSparv)
	mux.HandleFunc("POST /upload-config", h.UploadConfig)
	mux.HandleFunc("PUT /upload-sources", h.UploadSources)

	// Pipeline info
	mux.HandleFunc("GET /sparv-languages", h.SparvLanguages)
	mux.HandleFunc("GET /sparv-exports", h.SparvExports)

	// Internal
	gatekeeper := middleware.Gatekeeper(h.cfg.MinkSecretKey)
	mux.Handle("PUT /advance-queue", gatekeeper(http.HandlerFunc(h.AdvanceQueue)))

	// Operational
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /ready", h.Ready)
	if h.met != nil {
		mux.Handle("GET /metrics", h.met.Handler())
	}

	var handler http.Handler = mux
	handler = middleware.Logging(h.met)(handler)
	handler = middleware.CORS(middleware.CORSConfig{
		AllowedOrigins:   h.cfg.CORSAllowedOrigins,
		AllowedMethods:   h.cfg.CORSAllowedMethods,
		AllowedHeaders:   h.cfg.CORSAllowedHeaders,
		AllowCredentials: h.cfg.CORSAllowCredentials,
		MaxAge:           h.cfg.CORSMaxAge,
	})(handler)
	handler = middleware.Recovery(handler)
	handler = middleware.CorrelationID(handler)
	return handler
}
