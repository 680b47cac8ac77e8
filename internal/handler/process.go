package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/spraakbanken/mink-backend-sub000/internal/job"
	"github.com/spraakbanken/mink-backend-sub000/internal/status"
)

// jobInfo assembles the API view of one job.
func (h *Handler) jobInfo(j *job.Job) envelope {
	priority, err := h.reg.Priority(j)
	if err != nil {
		slog.Error("Failed to calculate job priority", "resource_id", j.ID, "error", err)
	}
	return envelope{
		"resource_id":       j.ID,
		"status":            j.Statuses.Serialize(),
		"current_process":   string(j.CurrentProcess),
		"description":       j.Statuses[j.CurrentProcess].Description(),
		"priority":          priority,
		"progress":          j.Progress(),
		"seconds_taken":     j.SecondsTaken(),
		"last_run_started":  j.Started,
		"last_run_ended":    j.Done,
		"sparv_exports":     j.SparvExports,
		"current_files":     j.CurrentFiles,
		"install_scrambled": j.InstallScrambled,
		"installed_korp":    j.InstalledKorp,
		"installed_strix":   j.InstalledStrix,
	}
}

// RunSparv validates a corpus, syncs it to the Sparv server and queues an
// annotation run.
func (h *Handler) RunSparv(w http.ResponseWriter, r *http.Request) {
	id, err := h.resourceID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	j, err := h.reg.GetOrCreate(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load job for corpus "+id, err)
		return
	}
	if j.Statuses.IsActive("") {
		writeError(w, http.StatusConflict, "there is an unfinished job for this corpus", nil)
		return
	}

	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request parameters", err)
		return
	}
	if err := j.SetSparvExports(r.Form["exports"]); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store job settings", err)
		return
	}
	if err := j.SetCurrentFiles(r.Form["files"]); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to store job settings", err)
		return
	}

	if err := j.CheckRequirements(r.Context()); err != nil {
		var pre *job.PreconditionError
		if errors.As(err, &pre) {
			writeError(w, http.StatusBadRequest, "corpus cannot be annotated: "+pre.Reason, nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to check corpus requirements", err)
		return
	}

	if err := j.ResetTime(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset job", err)
		return
	}
	if err := j.SyncToSparv(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sync corpus to the Sparv server", err)
		return
	}
	if err := j.SetStatus(status.Waiting, status.Sparv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue job", err)
		return
	}
	if err := h.reg.AddToQueue(j); err != nil {
		if errors.Is(err, job.ErrDuplicateJob) {
			writeError(w, http.StatusConflict, "job is already queued", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue job", err)
		return
	}
	writeSuccess(w, http.StatusOK, "annotation job has been queued", envelope{"job": h.jobInfo(j)})
}

// AbortJob aborts the corpus's active process.
func (h *Handler) AbortJob(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if err := j.AbortSparv(r.Context()); err != nil {
		if errors.Is(err, job.ErrProcessNotRunning) {
			writeError(w, http.StatusBadRequest, "no running job found for this corpus", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to abort job", err)
		return
	}
	writeSuccess(w, http.StatusOK, "job has been aborted", envelope{"job": h.jobInfo(j)})
}

// SyncResults syncs annotation results from the Sparv server to the storage
// server.
func (h *Handler) SyncResults(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if !j.Statuses.IsDone(status.Sparv) {
		writeError(w, http.StatusBadRequest, "corpus has not been annotated yet", nil)
		return
	}
	if err := j.SyncResults(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to sync results to the storage server", err)
		return
	}
	writeSuccess(w, http.StatusOK, "results have been synced to the storage server", nil)
}

// queueInstall queues a downstream installation for an annotated corpus.
func (h *Handler) queueInstall(w http.ResponseWriter, r *http.Request, p status.Process) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if j.Statuses.IsActive("") {
		writeError(w, http.StatusConflict, "there is an unfinished job for this corpus", nil)
		return
	}
	if !j.Statuses.IsDone(status.Sparv) {
		writeError(w, http.StatusBadRequest, "corpus must be annotated before it can be installed", nil)
		return
	}
	if err := j.ResetTime(); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset job", err)
		return
	}
	if err := j.SetStatus(status.Waiting, p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to queue job", err)
		return
	}
	if err := h.reg.AddToQueue(j); err != nil {
		if errors.Is(err, job.ErrDuplicateJob) {
			writeError(w, http.StatusConflict, "job is already queued", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to queue job", err)
		return
	}
	writeSuccess(w, http.StatusOK, "installation job has been queued", envelope{"job": h.jobInfo(j)})
}

// InstallKorp queues a Korp installation for the corpus.
func (h *Handler) InstallKorp(w http.ResponseWriter, r *http.Request) {
	if scramble := r.URL.Query().Get("scramble"); scramble != "" {
		j, ok := h.getJob(w, r)
		if !ok {
			return
		}
		if err := j.SetInstallScrambled(scramble == "true"); err != nil {
			writeError(w, http.StatusInternalServerError, "failed to store job settings", err)
			return
		}
	}
	h.queueInstall(w, r, status.Korp)
}

// InstallStrix queues a Strix installation for the corpus.
func (h *Handler) InstallStrix(w http.ResponseWriter, r *http.Request) {
	h.queueInstall(w, r, status.Strix)
}

// UninstallKorp removes the corpus from Korp.
func (h *Handler) UninstallKorp(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if err := j.UninstallKorp(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to uninstall corpus from Korp", err)
		return
	}
	writeSuccess(w, http.StatusOK, "corpus has been removed from Korp", nil)
}

// UninstallStrix removes the corpus from Strix.
func (h *Handler) UninstallStrix(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if err := j.UninstallStrix(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to uninstall corpus from Strix", err)
		return
	}
	writeSuccess(w, http.StatusOK, "corpus has been removed from Strix", nil)
}

// Clean removes annotation and export files on the Sparv server.
func (h *Handler) Clean(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	output, err := j.Clean(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clean up corpus files", err)
		return
	}
	if err := j.SetStatus(status.None, status.Sparv); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset job status", err)
		return
	}
	writeSuccess(w, http.StatusOK, "corpus files have been cleaned up", envelope{"sparv_output": output})
}

// CleanExport removes export files on the Sparv server.
func (h *Handler) CleanExport(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	removed, output, err := j.CleanExport(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove export files", err)
		return
	}
	if !removed {
		writeError(w, http.StatusInternalServerError, "failed to remove export files", nil)
		return
	}
	writeSuccess(w, http.StatusOK, "export files have been removed", envelope{"sparv_output": output})
}

// RemoveFromSparv removes the corpus from the Sparv server and forgets its
// job.
func (h *Handler) RemoveFromSparv(w http.ResponseWriter, r *http.Request) {
	j, ok := h.getJob(w, r)
	if !ok {
		return
	}
	if err := j.RemoveFromSparv(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove corpus from the Sparv server", err)
		return
	}
	if err := h.reg.Remove(j.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to remove job", err)
		return
	}
	writeSuccess(w, http.StatusOK, "corpus has been removed from the Sparv server", nil)
}

// ResourceInfo reports job status for one corpus or for all known corpora.
func (h *Handler) ResourceInfo(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("corpus_id") != "" {
		j, ok := h.getJob(w, r)
		if !ok {
			return
		}
		writeSuccess(w, http.StatusOK, "listing job status", envelope{"job": h.jobInfo(j)})
		return
	}

	jobs, err := h.reg.All()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs", err)
		return
	}
	infos := make([]envelope, 0, len(jobs))
	for _, j := range jobs {
		infos = append(infos, h.jobInfo(j))
	}
	writeSuccess(w, http.StatusOK, "listing job statuses", envelope{"jobs": infos})
}

// AdvanceQueue runs one queue advance pass. Exposed for internal callers
// behind the gatekeeper so an external scheduler can drive the queue.
func (h *Handler) AdvanceQueue(w http.ResponseWriter, r *http.Request) {
	if err := h.reg.Advance(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to advance queue", err)
		return
	}
	writeSuccess(w, http.StatusOK, "queue has been advanced", nil)
}
