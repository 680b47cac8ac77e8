package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spraakbanken/mink-backend-sub000/internal/job"
	"github.com/spraakbanken/mink-backend-sub000/internal/status"
)

// AddToQueue enqueues a job at the tail. A job that is already queued and
// still active is rejected with job.ErrDuplicateJob; an inactive one is
// moved to the tail so a restarted run waits its turn again.
func (r *Registry) AddToQueue(j *job.Job) error {
	r.advanceMu.Lock()
	defer r.advanceMu.Unlock()

	queue, err := r.cache.JobQueue()
	if err != nil {
		return err
	}
	kept := make([]string, 0, len(queue)+1)
	for _, id := range queue {
		if id == j.ID {
			if j.Statuses.IsActive("") {
				return fmt.Errorf("enqueue %q: %w", j.ID, job.ErrDuplicateJob)
			}
			continue
		}
		kept = append(kept, id)
	}
	kept = append(kept, j.ID)
	return r.setQueue(kept)
}

// PopFromQueue removes a job from the queue if present. The queue order of
// the remaining jobs is preserved.
func (r *Registry) PopFromQueue(resourceID string) error {
	queue, err := r.cache.JobQueue()
	if err != nil {
		return err
	}
	kept := queue[:0]
	for _, id := range queue {
		if id != resourceID {
			kept = append(kept, id)
		}
	}
	if len(kept) == len(queue) {
		return nil
	}
	return r.setQueue(kept)
}

// setQueue persists the queue order to the shared store and the durable
// queue file.
func (r *Registry) setQueue(queue []string) error {
	if err := r.cache.SetJobQueue(queue); err != nil {
		return fmt.Errorf("store queue: %w", err)
	}
	if err := r.writeQueueFile(queue); err != nil {
		return fmt.Errorf("back up queue: %w", err)
	}
	return nil
}

// Priority returns the 1-based position of a waiting job among the waiting
// jobs in queue order, or 0 when the job is not waiting in the queue.
func (r *Registry) Priority(j *job.Job) (int, error) {
	if !j.Statuses.IsWaiting("") {
		return 0, nil
	}
	queue, err := r.cache.JobQueue()
	if err != nil {
		return 0, err
	}
	pos := 0
	for _, id := range queue {
		q, err := r.Get(id)
		if err != nil {
			continue
		}
		if !q.Statuses.IsWaiting("") {
			continue
		}
		pos++
		if id == j.ID {
			return pos, nil
		}
	}
	return 0, nil
}

// RunningWaiting partitions the queued jobs into running and waiting ones,
// in queue order. Jobs that fail to load are logged and skipped.
func (r *Registry) RunningWaiting() (running, waiting []*job.Job, err error) {
	queue, err := r.cache.JobQueue()
	if err != nil {
		return nil, nil, err
	}
	for _, id := range queue {
		j, err := r.Get(id)
		if err != nil {
			slog.Error("Failed to load queued job", "resource_id", id, "error", err)
			continue
		}
		switch {
		case j.Statuses.IsRunning(""):
			running = append(running, j)
		case j.Statuses.IsWaiting(""):
			waiting = append(waiting, j)
		}
	}
	return running, waiting, nil
}

// unqueueInactive evicts jobs whose every process has reached a terminal or
// none state, returning the number evicted.
func (r *Registry) unqueueInactive() (int, error) {
	queue, err := r.cache.JobQueue()
	if err != nil {
		return 0, err
	}
	kept := make([]string, 0, len(queue))
	evicted := 0
	for _, id := range queue {
		j, err := r.Get(id)
		if err != nil {
			slog.Error("Failed to load queued job", "resource_id", id, "error", err)
			kept = append(kept, id)
			continue
		}
		if j.Statuses.IsInactive() {
			slog.Info("Removing inactive job from queue", "resource_id", id)
			evicted++
			continue
		}
		kept = append(kept, id)
	}
	if evicted == 0 {
		return 0, nil
	}
	return evicted, r.setQueue(kept)
}

// Advance runs one pass of the queue: evict inactive jobs, poll running
// jobs for liveness, then start waiting jobs until the worker limit is
// reached. A failure to start one job is logged and does not block the
// rest of the pass.
func (r *Registry) Advance(ctx context.Context) error {
	r.advanceMu.Lock()
	defer r.advanceMu.Unlock()

	evicted, err := r.unqueueInactive()
	if err != nil {
		return fmt.Errorf("evict inactive jobs: %w", err)
	}

	running, waiting, err := r.RunningWaiting()
	if err != nil {
		return fmt.Errorf("partition queue: %w", err)
	}

	// Poll the running jobs. A job whose remote process is gone has its
	// status reconciled inside ProcessRunning; it is then aborted as a
	// safety net and evicted right away instead of lingering a full pass.
	alive := running[:0]
	for _, j := range running {
		ok, err := j.ProcessRunning(ctx)
		if err != nil {
			slog.Error("Failed to poll running job", "resource_id", j.ID, "error", err)
			alive = append(alive, j)
			continue
		}
		if ok {
			alive = append(alive, j)
			continue
		}
		if err := j.AbortSparv(ctx); err != nil &&
			!errors.Is(err, job.ErrProcessNotRunning) && !errors.Is(err, job.ErrProcessNotFound) {
			slog.Error("Failed to abort dead job", "resource_id", j.ID, "error", err)
		}
		if err := r.PopFromQueue(j.ID); err != nil {
			slog.Error("Failed to unqueue finished job", "resource_id", j.ID, "error", err)
		} else {
			evicted++
		}
	}
	running = alive

	promoted := 0
	for _, j := range waiting {
		if len(running) >= r.cfg.SparvWorkers {
			break
		}
		var err error
		switch j.CurrentProcess {
		case status.Sparv:
			err = j.RunSparv(ctx)
		case status.Korp:
			err = j.InstallKorp(ctx)
		case status.Strix:
			err = j.InstallStrix(ctx)
		default:
			slog.Warn("Queued job is waiting on a process the queue cannot start",
				"resource_id", j.ID, "current_process", j.CurrentProcess)
			continue
		}
		if err != nil {
			slog.Error("Failed to start queued job", "resource_id", j.ID, "error", err)
			continue
		}
		slog.Info("Started job", "resource_id", j.ID, "process", j.CurrentProcess)
		running = append(running, j)
		promoted++
	}

	if r.met != nil {
		r.met.ObserveAdvance(len(running), countWaiting(waiting), promoted, evicted)
	}
	return nil
}

func countWaiting(waiting []*job.Job) int {
	n := 0
	for _, j := range waiting {
		if j.Statuses.IsWaiting("") {
			n++
		}
	}
	return n
}
