package handler

import (
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spraakbanken/mink-backend-sub000/internal/corpus"
)

// stageDir creates a scratch directory for assembling an upload.
func (h *Handler) stageDir(resourceID string) (string, error) {
	dir, err := os.MkdirTemp(h.cfg.TmpDir, resourceID+"-upload-*")
	if err != nil {
		// TmpDir may not exist yet on a fresh instance.
		if mkErr := os.MkdirAll(h.cfg.TmpDir, 0o755); mkErr != nil {
			return "", fmt.Errorf("create scratch dir: %w", mkErr)
		}
		dir, err = os.MkdirTemp(h.cfg.TmpDir, resourceID+"-upload-*")
	}
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	return dir, nil
}

func saveUpload(file multipart.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, file); err != nil {
		return err
	}
	return out.Close()
}

// sourceFileNames lists the current source file names of a corpus on the
// storage server.
func (h *Handler) sourceFileNames(r *http.Request, resourceID string) ([]string, error) {
	entries, err := h.store.ListContents(r.Context(), h.store.SourceDir(resourceID), true)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name)
	}
	return names, nil
}

// UploadConfig validates a corpus configuration and stores it on the storage
// server. The declared corpus ID is forced to match the resource and the
// importer is pinned to the module matching the existing source files.
func (h *Handler) UploadConfig(w http.ResponseWriter, r *http.Request) {
	id, err := h.resourceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxContentLength)
	if err := r.ParseMultipartForm(h.cfg.MaxContentLength); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "config file too large", err)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "no config file provided", nil)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read config file", err)
		return
	}
	cfg, err := corpus.ParseConfig(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, "config file is not valid YAML", err)
		return
	}

	sources, err := h.sourceFileNames(r, id)
	if err != nil {
		// A corpus without sources yet can still receive a config.
		slog.Debug("No source listing available", "resource_id", id, "error", err)
	}
	if err := cfg.Validate(id, sources); err != nil {
		writeError(w, http.StatusBadRequest, "config file is not compatible with the corpus", err)
		return
	}
	standardized, err := cfg.Standardize(id, sources)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to process config file", err)
		return
	}

	stage, err := h.stageDir(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store config file", err)
		return
	}
	defer os.RemoveAll(stage)
	if err := os.WriteFile(filepath.Join(stage, h.cfg.SparvCorpusConfig), standardized, 0o644); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store config file", err)
		return
	}
	if err := h.store.UploadDir(r.Context(), h.store.CorpusDir(id), stage+"/"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload config file to the storage server", err)
		return
	}
	writeSuccess(w, http.StatusCreated, "config file has been uploaded", nil)
}

// UploadSources stores source files on the storage server, enforcing the
// per-file and per-corpus size limits.
func (h *Handler) UploadSources(w http.ResponseWriter, r *http.Request) {
	id, err := h.resourceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxContentLength)
	if err := r.ParseMultipartForm(h.cfg.MaxContentLength); err != nil {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("uploaded files exceed the size limit of %d bytes", h.cfg.MaxContentLength), err)
		return
	}
	if r.MultipartForm == nil || len(r.MultipartForm.File["files[]"]) == 0 {
		writeError(w, http.StatusBadRequest, "no source files provided", nil)
		return
	}
	headers := r.MultipartForm.File["files[]"]

	names := make([]string, 0, len(headers))
	var incoming int64
	for _, hdr := range headers {
		names = append(names, hdr.Filename)
		incoming += hdr.Size
	}
	existing, err := h.sourceFileNames(r, id)
	if err == nil {
		names = append(names, existing...)
	}
	if err := corpus.CheckCompatibleSources(names); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}

	// The corpus as a whole must stay under its size limit too.
	currentSize, err := h.store.Size(r.Context(), h.store.CorpusDir(id))
	if err != nil {
		currentSize = 0
	}
	if currentSize+incoming > h.cfg.MaxCorpusLength {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("corpus would exceed the size limit of %d bytes", h.cfg.MaxCorpusLength), nil)
		return
	}

	stage, err := h.stageDir(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store source files", err)
		return
	}
	defer os.RemoveAll(stage)
	for _, hdr := range headers {
		file, err := hdr.Open()
		if err != nil {
			writeError(w, http.StatusBadRequest, "failed to read source file "+hdr.Filename, err)
			return
		}
		// Uploaded names may carry path separators; keep the base name only.
		dst := filepath.Join(stage, h.cfg.SparvSourceDir, filepath.Base(hdr.Filename))
		err = saveUpload(file, dst)
		file.Close()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store source file "+hdr.Filename, err)
			return
		}
	}
	if err := h.store.UploadDir(r.Context(), h.store.CorpusDir(id), stage+"/"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to upload source files to the storage server", err)
		return
	}

	// Remember the known source files on the job for later compatibility
	// checks.
	j, err := h.reg.GetOrCreate(id)
	if err == nil {
		uploaded := make([]string, 0, len(headers))
		for _, hdr := range headers {
			uploaded = append(uploaded, filepath.Base(hdr.Filename))
		}
		if serr := j.SetSourceFiles(append(uploaded, existing...)); serr != nil {
			slog.Error("Failed to record source files", "resource_id", id, "error", serr)
		}
	}
	writeSuccess(w, http.StatusCreated, "source files have been uploaded", envelope{
		"uploaded": len(headers),
	})
}
