package registry

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/job"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
	"github.com/spraakbanken/mink-backend-sub000/internal/status"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

type fakeRunner struct {
	calls   []string
	respond func(command string) remote.Result
}

func (f *fakeRunner) Run(_ context.Context, command string) (remote.Result, error) {
	f.calls = append(f.calls, command)
	if f.respond != nil {
		return f.respond(command), nil
	}
	return remote.Result{}, nil
}

type fakeCopier struct{}

func (fakeCopier) Copy(context.Context, string, string, ...string) (remote.Result, error) {
	return remote.Result{}, nil
}

type fakeStorage struct{}

func (fakeStorage) ListContents(context.Context, string, bool) ([]storage.Entry, error) {
	return nil, nil
}
func (fakeStorage) DownloadDir(context.Context, string, string) error { return nil }
func (fakeStorage) UploadDir(context.Context, string, string) error   { return nil }
func (fakeStorage) RemoveDir(context.Context, string) error           { return nil }
func (fakeStorage) Size(context.Context, string) (int64, error)       { return 0, nil }
func (fakeStorage) CorpusDir(id string) string                        { return "storage/" + id }
func (fakeStorage) SourceDir(id string) string                        { return "storage/" + id + "/source" }
func (fakeStorage) ExportDir(id string) string                        { return "storage/" + id + "/export" }

type testEnv struct {
	reg    *Registry
	mem    *cache.Memory
	runner *fakeRunner
	cfg    *config.Config
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	t.Setenv("INSTANCE_DIR", t.TempDir())
	cfg := config.Load()
	mem := cache.NewMemory()
	runner := &fakeRunner{}
	reg := New(cfg, cache.New(mem), runner, fakeCopier{}, fakeStorage{}, nil)
	return &testEnv{reg: reg, mem: mem, runner: runner, cfg: cfg}
}

func TestSaveJobWritesBackup(t *testing.T) {
	te := newTestEnv(t)
	j, err := te.reg.GetOrCreate("mink-abc123")
	require.NoError(t, err)
	require.NoError(t, j.SetStatus(status.Waiting, status.Sparv))

	// Sharded by the first character after the resource prefix.
	backup := filepath.Join(te.cfg.RegistryDir, "a", "mink-abc123")
	data, err := os.ReadFile(backup)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"waiting"`)

	all, err := te.reg.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "mink-abc123", all[0].ID)
}

func TestGetFallsBackToBackupAfterCacheFlush(t *testing.T) {
	te := newTestEnv(t)
	j, err := te.reg.GetOrCreate("mink-xyz")
	require.NoError(t, err)
	require.NoError(t, j.SetPID(77))

	te.mem.Flush()

	restored, err := te.reg.Get("mink-xyz")
	require.NoError(t, err)
	assert.Equal(t, 77, restored.PID)

	// The fallback repopulates the shared store.
	_, err = cache.New(te.mem).Job("mink-xyz")
	assert.NoError(t, err)
}

func TestGetUnknownResource(t *testing.T) {
	te := newTestEnv(t)
	_, err := te.reg.Get("mink-nope")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func TestInitializeRestoresBackupInMtimeOrder(t *testing.T) {
	te := newTestEnv(t)

	// Seed state through a first registry, then flush the store to
	// simulate a cache restart.
	j1, err := te.reg.GetOrCreate("mink-one")
	require.NoError(t, err)
	require.NoError(t, j1.SetStatus(status.Waiting, status.Sparv))
	j2, err := te.reg.GetOrCreate("mink-two")
	require.NoError(t, err)
	require.NoError(t, j2.SetStatus(status.Waiting, status.Korp))
	require.NoError(t, te.reg.AddToQueue(j1))
	require.NoError(t, te.reg.AddToQueue(j2))

	// Make replay order deterministic.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(te.cfg.RegistryDir, "o", "mink-one"), old, old))

	// Add a queue entry whose backup is gone; it must be dropped.
	queue := []string{"mink-one", "mink-gone", "mink-two"}
	data, _ := json.Marshal(queue)
	require.NoError(t, os.WriteFile(filepath.Join(te.cfg.InstanceDir, te.cfg.QueueFile), data, 0o644))

	te.mem.Flush()
	require.NoError(t, te.reg.Initialize())

	c := cache.New(te.mem)
	initialized, err := c.QueueInitialized()
	require.NoError(t, err)
	assert.True(t, initialized)

	restoredQueue, err := c.JobQueue()
	require.NoError(t, err)
	assert.Equal(t, []string{"mink-one", "mink-two"}, restoredQueue)

	all, err := c.AllResources()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"mink-one", "mink-two"}, all)

	restored, err := te.reg.Get("mink-one")
	require.NoError(t, err)
	assert.Equal(t, status.Waiting, restored.Statuses[status.Sparv])
}

func TestInitializeRequeuesActiveJobMissingFromQueueFile(t *testing.T) {
	te := newTestEnv(t)

	// A waiting and a done job both have backup records, but neither made
	// it into the queue file before the restart.
	waiting, err := te.reg.GetOrCreate("mink-waiting")
	require.NoError(t, err)
	require.NoError(t, waiting.SetStatus(status.Waiting, status.Sparv))
	done, err := te.reg.GetOrCreate("mink-done")
	require.NoError(t, err)
	require.NoError(t, done.SetStatus(status.Running, status.Sparv))
	require.NoError(t, done.SetStatus(status.Done, status.Sparv))
	queued, err := te.reg.GetOrCreate("mink-queued")
	require.NoError(t, err)
	require.NoError(t, queued.SetStatus(status.Waiting, status.Korp))

	data, _ := json.Marshal([]string{"mink-queued"})
	require.NoError(t, os.WriteFile(filepath.Join(te.cfg.InstanceDir, te.cfg.QueueFile), data, 0o644))

	// The waiting job's backup is the oldest, so it re-queues first among
	// the recovered jobs.
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(te.cfg.RegistryDir, "w", "mink-waiting"), old, old))

	te.mem.Flush()
	require.NoError(t, te.reg.Initialize())

	restoredQueue, err := cache.New(te.mem).JobQueue()
	require.NoError(t, err)
	// Queue-file order wins, recovered active jobs follow, done jobs stay out.
	assert.Equal(t, []string{"mink-queued", "mink-waiting"}, restoredQueue)
}

func TestInitializeIsIdempotent(t *testing.T) {
	te := newTestEnv(t)
	require.NoError(t, te.reg.Initialize())

	// A second pass must not rescan: plant a backup file and verify it is
	// not picked up.
	shard := filepath.Join(te.cfg.RegistryDir, "l")
	require.NoError(t, os.MkdirAll(shard, 0o755))
	rec := `{"id":"mink-late","status":{}}`
	require.NoError(t, os.WriteFile(filepath.Join(shard, "mink-late"), []byte(rec), 0o644))

	require.NoError(t, te.reg.Initialize())
	all, err := cache.New(te.mem).AllResources()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRemoveDeletesEverywhere(t *testing.T) {
	te := newTestEnv(t)
	j, err := te.reg.GetOrCreate("mink-gone")
	require.NoError(t, err)
	require.NoError(t, j.SetStatus(status.Waiting, status.Sparv))
	require.NoError(t, te.reg.AddToQueue(j))

	require.NoError(t, te.reg.Remove("mink-gone"))

	_, err = te.reg.Get("mink-gone")
	assert.ErrorIs(t, err, job.ErrJobNotFound)

	c := cache.New(te.mem)
	queue, err := c.JobQueue()
	require.NoError(t, err)
	assert.Empty(t, queue)
	all, err := c.AllResources()
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = os.Stat(filepath.Join(te.cfg.RegistryDir, "g", "mink-gone"))
	assert.True(t, os.IsNotExist(err))
}

func TestBackupPathSharding(t *testing.T) {
	te := newTestEnv(t)
	assert.True(t, strings.HasSuffix(te.reg.backupPath("mink-abc"), filepath.Join("a", "mink-abc")))
	assert.True(t, strings.HasSuffix(te.reg.backupPath("mink-"), filepath.Join("_", "mink-")))
}
