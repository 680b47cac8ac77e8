// Package registry tracks every known job: it owns the shared store entries,
// the durable on-disk backup and the processing queue. The shared store is
// authoritative during normal operation; the backup exists so that a cold
// start after a cache flush can rebuild the exact same state.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/job"
	"github.com/spraakbanken/mink-backend-sub000/internal/metrics"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

// Registry coordinates job state across the shared store, the durable
// backup directory and the queue.
type Registry struct {
	cfg   *config.Config
	cache *cache.Cache
	env   *job.Env
	met   *metrics.Metrics

	// advanceMu serializes queue mutation so concurrent advance passes
	// cannot promote the same job twice.
	advanceMu sync.Mutex
}

// New wires a registry onto the shared store and the remote collaborators.
// The metrics recorder may be nil.
func New(cfg *config.Config, c *cache.Cache, runner remote.Runner, copier remote.Copier, store storage.Store, met *metrics.Metrics) *Registry {
	r := &Registry{cfg: cfg, cache: c, met: met}
	r.env = &job.Env{
		Cfg:     cfg,
		Runner:  runner,
		Copier:  copier,
		Storage: store,
		Save:    r.SaveJob,
		Unqueue: func(resourceID string) {
			if err := r.PopFromQueue(resourceID); err != nil {
				slog.Error("Failed to unqueue job", "resource_id", resourceID, "error", err)
			}
		},
	}
	return r
}

// Env returns the job environment bound to this registry, mainly for
// constructing detached jobs in tests and listings.
func (r *Registry) Env() *job.Env { return r.env }

// backupPath returns the on-disk backup file for a resource. Files are
// sharded into subdirectories keyed by the first character after the
// resource prefix to keep directory listings small.
func (r *Registry) backupPath(resourceID string) string {
	shard := "_"
	rest := strings.TrimPrefix(resourceID, r.cfg.ResourcePrefix)
	if rest != "" {
		shard = string(rest[0])
	}
	return filepath.Join(r.cfg.RegistryDir, shard, resourceID)
}

func (r *Registry) queuePath() string {
	return filepath.Join(r.cfg.InstanceDir, r.cfg.QueueFile)
}

// writeFileAtomic writes data via a temp file in the target directory and
// renames it into place, so readers never observe a partial file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create backup dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// SaveJob persists a job to the shared store and the durable backup, and
// makes sure the resource is listed among all known resources.
func (r *Registry) SaveJob(j *job.Job) error {
	data, err := j.Serialize()
	if err != nil {
		return err
	}
	if err := r.cache.SetJob(j.ID, data); err != nil {
		return fmt.Errorf("cache job %q: %w", j.ID, err)
	}
	if err := writeFileAtomic(r.backupPath(j.ID), data); err != nil {
		return fmt.Errorf("back up job %q: %w", j.ID, err)
	}
	return r.addResource(j.ID)
}

func (r *Registry) addResource(resourceID string) error {
	all, err := r.cache.AllResources()
	if err != nil {
		return err
	}
	for _, id := range all {
		if id == resourceID {
			return nil
		}
	}
	return r.cache.SetAllResources(append(all, resourceID))
}

// Get loads the job for a resource from the shared store, falling back to
// the durable backup if the store has lost it. Returns job.ErrJobNotFound
// when the resource has no job at all.
func (r *Registry) Get(resourceID string) (*job.Job, error) {
	data, err := r.cache.Job(resourceID)
	if errors.Is(err, cache.ErrNotFound) {
		data, err = os.ReadFile(r.backupPath(resourceID))
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("get job %q: %w", resourceID, job.ErrJobNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("read job backup %q: %w", resourceID, err)
		}
		// Repopulate the store so the next read hits the cache again.
		if cerr := r.cache.SetJob(resourceID, data); cerr != nil {
			slog.Warn("Failed to repopulate cache from backup", "resource_id", resourceID, "error", cerr)
		}
	} else if err != nil {
		return nil, fmt.Errorf("get job %q: %w", resourceID, err)
	}
	j, err := job.Load(data, r.env)
	if err != nil {
		return nil, fmt.Errorf("load job %q: %w", resourceID, err)
	}
	return j, nil
}

// GetOrCreate returns the existing job for a resource or a fresh blank one.
// A fresh job is persisted immediately.
func (r *Registry) GetOrCreate(resourceID string) (*job.Job, error) {
	j, err := r.Get(resourceID)
	if err == nil {
		return j, nil
	}
	if !errors.Is(err, job.ErrJobNotFound) {
		return nil, err
	}
	j = job.New(resourceID, r.env)
	if err := r.SaveJob(j); err != nil {
		return nil, err
	}
	return j, nil
}

// All returns the jobs of every known resource. Jobs that fail to load are
// logged and skipped.
func (r *Registry) All() ([]*job.Job, error) {
	ids, err := r.cache.AllResources()
	if err != nil {
		return nil, err
	}
	jobs := make([]*job.Job, 0, len(ids))
	for _, id := range ids {
		j, err := r.Get(id)
		if err != nil {
			slog.Error("Failed to load job", "resource_id", id, "error", err)
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

// Remove deletes a job everywhere: queue, shared store, backup file and the
// resource listing.
func (r *Registry) Remove(resourceID string) error {
	if err := r.PopFromQueue(resourceID); err != nil {
		return err
	}
	if err := r.cache.RemoveJob(resourceID); err != nil {
		return fmt.Errorf("remove job %q from cache: %w", resourceID, err)
	}
	if err := os.Remove(r.backupPath(resourceID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove job backup %q: %w", resourceID, err)
	}
	all, err := r.cache.AllResources()
	if err != nil {
		return err
	}
	kept := all[:0]
	for _, id := range all {
		if id != resourceID {
			kept = append(kept, id)
		}
	}
	return r.cache.SetAllResources(kept)
}

// backupFile pairs a backup path with its modification time for the
// reconciler's replay ordering.
type backupFile struct {
	path  string
	mtime time.Time
}

// Initialize rebuilds the shared store from the durable backup after a cache
// flush. Backup files are replayed in modification-time order so that the
// most recently touched job wins any conflict. The pass is idempotent: once
// the initialized flag is set in the store, later calls return immediately.
func (r *Registry) Initialize() error {
	initialized, err := r.cache.QueueInitialized()
	if err != nil {
		return fmt.Errorf("check queue initialization: %w", err)
	}
	if initialized {
		return nil
	}
	slog.Info("Initializing job registry from backup", "dir", r.cfg.RegistryDir)

	var files []backupFile
	err = filepath.Walk(r.cfg.RegistryDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".") {
			return nil
		}
		files = append(files, backupFile{path: path, mtime: info.ModTime()})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan registry dir: %w", err)
	}
	sort.Slice(files, func(a, b int) bool { return files[a].mtime.Before(files[b].mtime) })

	var all []string
	var replayed []*job.Job
	known := make(map[string]bool)
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			slog.Error("Failed to read job backup", "path", f.path, "error", err)
			continue
		}
		j, err := job.Load(data, r.env)
		if err != nil {
			slog.Error("Failed to parse job backup", "path", f.path, "error", err)
			continue
		}
		if err := r.cache.SetJob(j.ID, data); err != nil {
			return fmt.Errorf("restore job %q: %w", j.ID, err)
		}
		if !known[j.ID] {
			known[j.ID] = true
			all = append(all, j.ID)
			replayed = append(replayed, j)
		}
	}
	if err := r.cache.SetAllResources(all); err != nil {
		return fmt.Errorf("restore resource listing: %w", err)
	}

	// Restore the queue order, dropping IDs whose jobs are gone.
	queue, err := r.readQueueFile()
	if err != nil {
		return err
	}
	kept := queue[:0]
	queued := make(map[string]bool)
	for _, id := range queue {
		if known[id] {
			kept = append(kept, id)
			queued[id] = true
		}
	}
	// Active jobs that lost their queue slot, for instance after a crash
	// between a job write and a queue write, are re-queued in backup
	// modification order so they approximate their original position.
	for _, j := range replayed {
		if queued[j.ID] || j.Statuses.IsInactive() || j.Statuses.IsDone(j.CurrentProcess) {
			continue
		}
		kept = append(kept, j.ID)
		queued[j.ID] = true
		slog.Info("Re-queued active job from backup", "resource_id", j.ID)
	}
	if err := r.cache.SetJobQueue(kept); err != nil {
		return fmt.Errorf("restore queue: %w", err)
	}

	if err := r.cache.SetQueueInitialized(true); err != nil {
		return fmt.Errorf("mark queue initialized: %w", err)
	}
	slog.Info("Job registry initialized", "jobs", len(all), "queued", len(kept))
	return nil
}

func (r *Registry) readQueueFile() ([]string, error) {
	data, err := os.ReadFile(r.queuePath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read queue file: %w", err)
	}
	var queue []string
	if err := json.Unmarshal(data, &queue); err != nil {
		return nil, fmt.Errorf("parse queue file: %w", err)
	}
	return queue, nil
}

func (r *Registry) writeQueueFile(queue []string) error {
	if queue == nil {
		queue = []string{}
	}
	data, err := json.Marshal(queue)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.queuePath(), data)
}
