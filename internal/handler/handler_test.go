package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spraakbanken/mink-backend-sub000/internal/cache"
	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/registry"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
	"github.com/spraakbanken/mink-backend-sub000/internal/status"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

type fakeRunner struct {
	respond func(command string) remote.Result
}

func (f *fakeRunner) Run(_ context.Context, command string) (remote.Result, error) {
	if f.respond != nil {
		return f.respond(command), nil
	}
	return remote.Result{}, nil
}

type fakeCopier struct{}

func (fakeCopier) Copy(context.Context, string, string, ...string) (remote.Result, error) {
	return remote.Result{}, nil
}

type fakeStorage struct {
	entries []storage.Entry
}

func (f *fakeStorage) ListContents(context.Context, string, bool) ([]storage.Entry, error) {
	return f.entries, nil
}
func (f *fakeStorage) DownloadDir(context.Context, string, string) error { return nil }
func (f *fakeStorage) UploadDir(context.Context, string, string) error   { return nil }
func (f *fakeStorage) RemoveDir(context.Context, string) error           { return nil }
func (f *fakeStorage) Size(context.Context, string) (int64, error)       { return 0, nil }
func (f *fakeStorage) CorpusDir(id string) string                        { return "storage/" + id }
func (f *fakeStorage) SourceDir(id string) string                        { return "storage/" + id + "/source" }
func (f *fakeStorage) ExportDir(id string) string                        { return "storage/" + id + "/export" }

type apiEnv struct {
	server  *httptest.Server
	reg     *registry.Registry
	runner  *fakeRunner
	storage *fakeStorage
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	t.Setenv("INSTANCE_DIR", t.TempDir())
	t.Setenv("MINK_SECRET_KEY", "hush")
	cfg := config.Load()

	mem := cache.NewMemory()
	store := cache.New(mem)
	runner := &fakeRunner{}
	fs := &fakeStorage{}
	reg := registry.New(cfg, store, runner, fakeCopier{}, fs, nil)
	require.NoError(t, reg.Initialize())

	h := New(cfg, reg, fs, store, nil)
	srv := httptest.NewServer(h.Router())
	t.Cleanup(srv.Close)
	return &apiEnv{server: srv, reg: reg, runner: runner, storage: fs}
}

func (a *apiEnv) do(t *testing.T, method, path string) (*http.Response, envelope) {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var body envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp, body
}

func TestResourceIDValidation(t *testing.T) {
	a := newAPIEnv(t)

	resp, body := a.do(t, http.MethodPost, "/abort-job")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "no corpus ID provided", body["message"])

	resp, body = a.do(t, http.MethodPost, "/abort-job?corpus_id=evil-123")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid corpus ID", body["message"])
}

func TestResourceInfoUnknownCorpus(t *testing.T) {
	a := newAPIEnv(t)
	resp, body := a.do(t, http.MethodGet, "/resource-info?corpus_id=mink-nope")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "error", body["status"])
}

func TestRunSparvQueuesJob(t *testing.T) {
	a := newAPIEnv(t)
	a.storage.entries = []storage.Entry{
		{Name: "config.yaml", Path: "config.yaml", Type: "text/yaml"},
		{Name: "a.xml", Path: "source/a.xml", Type: "text/xml"},
	}

	resp, body := a.do(t, http.MethodPut, "/run-sparv?corpus_id=mink-abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])

	j, err := a.reg.Get("mink-abc")
	require.NoError(t, err)
	assert.Equal(t, status.Waiting, j.Statuses[status.Sparv])
	assert.Equal(t, status.Done, j.Statuses[status.Sync2Sparv])

	info := body["job"].(map[string]any)
	assert.Equal(t, "mink-abc", info["resource_id"])
	assert.Equal(t, float64(1), info["priority"])
	assert.Equal(t, false, info["install_scrambled"])
}

func TestRunSparvMissingRequirements(t *testing.T) {
	a := newAPIEnv(t)

	resp, body := a.do(t, http.MethodPut, "/run-sparv?corpus_id=mink-abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "cannot be annotated")

	// The rejection is recorded on the annotation process itself.
	j, err := a.reg.Get("mink-abc")
	require.NoError(t, err)
	assert.Equal(t, status.Error, j.Statuses[status.Sparv])
}

func TestRunSparvRejectsActiveJob(t *testing.T) {
	a := newAPIEnv(t)
	a.storage.entries = []storage.Entry{
		{Name: "config.yaml", Path: "config.yaml", Type: "text/yaml"},
		{Name: "a.xml", Path: "source/a.xml", Type: "text/xml"},
	}
	resp, _ := a.do(t, http.MethodPut, "/run-sparv?corpus_id=mink-abc")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := a.do(t, http.MethodPut, "/run-sparv?corpus_id=mink-abc")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body["message"], "unfinished job")
}

func TestAbortJobWithoutRunningProcess(t *testing.T) {
	a := newAPIEnv(t)
	j, err := a.reg.GetOrCreate("mink-abc")
	require.NoError(t, err)
	require.NoError(t, j.SetStatus(status.Done, status.Sparv))

	resp, body := a.do(t, http.MethodPost, "/abort-job?corpus_id=mink-abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "no running job")
}

func TestInstallKorpRequiresAnnotatedCorpus(t *testing.T) {
	a := newAPIEnv(t)
	_, err := a.reg.GetOrCreate("mink-abc")
	require.NoError(t, err)

	resp, body := a.do(t, http.MethodPut, "/install-korp?corpus_id=mink-abc")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, body["message"], "annotated")
}

func TestInstallKorpQueuesInstallation(t *testing.T) {
	a := newAPIEnv(t)
	j, err := a.reg.GetOrCreate("mink-abc")
	require.NoError(t, err)
	require.NoError(t, j.SetStatus(status.Done, status.Sparv))

	resp, _ := a.do(t, http.MethodPut, "/install-korp?corpus_id=mink-abc&scramble=true")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	reloaded, err := a.reg.Get("mink-abc")
	require.NoError(t, err)
	assert.Equal(t, status.Waiting, reloaded.Statuses[status.Korp])
	assert.True(t, reloaded.InstallScrambled)
}

func TestAdvanceQueueGatekeeper(t *testing.T) {
	a := newAPIEnv(t)

	resp, body := a.do(t, http.MethodPut, "/advance-queue")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, "error", body["status"])

	resp, body = a.do(t, http.MethodPut, "/advance-queue?secret_key=wrong")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body = a.do(t, http.MethodPut, "/advance-queue?secret_key=hush")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "success", body["status"])
}

func TestHealthAndReady(t *testing.T) {
	a := newAPIEnv(t)

	resp, body := a.do(t, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "healthy", body["status"])

	resp, body = a.do(t, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ready", body["status"])
}

func TestSparvLanguagesParsesListing(t *testing.T) {
	a := newAPIEnv(t)
	a.runner.respond = func(command string) remote.Result {
		return remote.Result{Stdout: []byte(
			"Supported languages:\n" +
				"   Swedish                        swe\n" +
				"   Old Swedish (1225-1526)        swe-1800\n")}
	}

	resp, body := a.do(t, http.MethodGet, "/sparv-languages")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	languages := body["languages"].(map[string]any)
	assert.Equal(t, "Swedish", languages["swe"])
	assert.Equal(t, "Old Swedish (1225-1526)", languages["swe-1800"])
}

func TestResourceInfoListsAllJobs(t *testing.T) {
	a := newAPIEnv(t)
	for _, id := range []string{"mink-a", "mink-b"} {
		_, err := a.reg.GetOrCreate(id)
		require.NoError(t, err)
	}

	resp, body := a.do(t, http.MethodGet, "/resource-info")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	jobs := body["jobs"].([]any)
	assert.Len(t, jobs, 2)
}
