// Package job implements the per-corpus job entity and its state machine.
//
// A job progresses through a small set of named processes (sync-in,
// annotation, sync-out and downstream installs), each with its own status.
// Every mutating method persists the job immediately through the injected
// Save function, so an observer re-reading the record always sees the
// latest state.
package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/config"
	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
	"github.com/spraakbanken/mink-backend-sub000/internal/status"
	"github.com/spraakbanken/mink-backend-sub000/internal/storage"
)

// Env carries the collaborators a job needs to act: configuration, remote
// access, storage access, persistence and queue removal. The registry binds
// an Env to every job it loads or creates.
type Env struct {
	Cfg     *config.Config
	Runner  remote.Runner
	Copier  remote.Copier
	Storage storage.Store

	// Save persists the job to the shared store and the durable backup.
	Save func(*Job) error
	// Unqueue removes the job from the queue, used when aborting a
	// waiting job.
	Unqueue func(resourceID string)
	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Job holds the processing lifecycle of one corpus.
type Job struct {
	ID                 string
	Statuses           status.Statuses
	CurrentProcess     status.Process
	PID                int
	Started            string // RFC 3339 with offset
	Done               string // RFC 3339 with offset
	SparvExports       []string
	CurrentFiles       []string
	SourceFiles        []string
	InstallScrambled   bool
	InstalledKorp      bool
	InstalledStrix     bool
	LatestSecondsTaken float64

	// sparvDone is the completion time derived from the annotation
	// engine's own timing output. Not persisted.
	sparvDone string
	// progressOutput caches the last percentage parsed from the remote
	// log. Not persisted.
	progressOutput int

	env *Env
}

// New creates a blank job for a resource with every process status None.
func New(id string, env *Env) *Job {
	return &Job{
		ID:           id,
		Statuses:     status.New(nil),
		SparvExports: []string{},
		CurrentFiles: []string{},
		SourceFiles:  []string{},
		env:          env,
	}
}

// record is the persisted wire form of a job.
type record struct {
	ID                 string            `json:"id"`
	Status             map[string]string `json:"status"`
	CurrentProcess     string            `json:"current_process,omitempty"`
	PID                int               `json:"pid,omitempty"`
	Started            string            `json:"started,omitempty"`
	Done               string            `json:"done,omitempty"`
	SparvExports       []string          `json:"sparv_exports"`
	CurrentFiles       []string          `json:"current_files"`
	SourceFiles        []string          `json:"source_files"`
	InstallScrambled   bool              `json:"install_scrambled"`
	InstalledKorp      bool              `json:"installed_korp"`
	InstalledStrix     bool              `json:"installed_strix"`
	LatestSecondsTaken float64           `json:"latest_seconds_taken"`
}

// Serialize converts the job into its persisted JSON form.
func (j *Job) Serialize() ([]byte, error) {
	rec := record{
		ID:                 j.ID,
		Status:             j.Statuses.Serialize(),
		CurrentProcess:     string(j.CurrentProcess),
		PID:                j.PID,
		Started:            j.Started,
		Done:               j.Done,
		SparvExports:       j.SparvExports,
		CurrentFiles:       j.CurrentFiles,
		SourceFiles:        j.SourceFiles,
		InstallScrambled:   j.InstallScrambled,
		InstalledKorp:      j.InstalledKorp,
		InstalledStrix:     j.InstalledStrix,
		LatestSecondsTaken: j.LatestSecondsTaken,
	}
	if rec.SparvExports == nil {
		rec.SparvExports = []string{}
	}
	if rec.CurrentFiles == nil {
		rec.CurrentFiles = []string{}
	}
	if rec.SourceFiles == nil {
		rec.SourceFiles = []string{}
	}
	return json.Marshal(rec)
}

// Load deserializes a persisted job record. Fields from outdated schemas are
// ignored and missing statuses default to None.
func Load(data []byte, env *Env) (*Job, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse job record: %w", err)
	}
	if rec.ID == "" {
		return nil, fmt.Errorf("job record has no resource ID")
	}
	j := &Job{
		ID:                 rec.ID,
		Statuses:           status.New(rec.Status),
		CurrentProcess:     status.Process(rec.CurrentProcess),
		PID:                rec.PID,
		Started:            rec.Started,
		Done:               rec.Done,
		SparvExports:       rec.SparvExports,
		CurrentFiles:       rec.CurrentFiles,
		SourceFiles:        rec.SourceFiles,
		InstallScrambled:   rec.InstallScrambled,
		InstalledKorp:      rec.InstalledKorp,
		InstalledStrix:     rec.InstalledStrix,
		LatestSecondsTaken: rec.LatestSecondsTaken,
		env:                env,
	}
	if j.SparvExports == nil {
		j.SparvExports = []string{}
	}
	if j.CurrentFiles == nil {
		j.CurrentFiles = []string{}
	}
	if j.SourceFiles == nil {
		j.SourceFiles = []string{}
	}
	return j, nil
}

// Bind attaches the environment to a job, e.g. after deserialization.
func (j *Job) Bind(env *Env) { j.env = env }

func (j *Job) persist() error {
	if j.env == nil || j.env.Save == nil {
		return nil
	}
	return j.env.Save(j)
}

// remoteCorpusDir returns the corpus working directory on the Sparv server.
func (j *Job) remoteCorpusDir() string {
	return j.env.Cfg.CorpusDir(j.ID)
}

func (j *Job) sparvLogin() string {
	return fmt.Sprintf("%s@%s", j.env.Cfg.SparvUser, j.env.Cfg.SparvHost)
}

// LocalCorpusDir returns the local scratch directory for the corpus.
func (j *Job) LocalCorpusDir() string {
	return filepath.Join(j.env.Cfg.TmpDir, j.ID)
}

// SetStatus changes the status of one process. An empty process applies to
// the current process. Setting an unchanged status is a no-op and does not
// persist. Activating a process (waiting or running) moves the current
// process pointer to it.
func (j *Job) SetStatus(st status.Status, p status.Process) error {
	if p == "" {
		p = j.CurrentProcess
	}
	if p == "" || j.Statuses[p] == st {
		return nil
	}
	j.Statuses[p] = st
	if st == status.Waiting || st == status.Running {
		j.CurrentProcess = p
	}
	return j.persist()
}

// SetPID records the remote process ID and persists.
func (j *Job) SetPID(pid int) error {
	j.PID = pid
	return j.persist()
}

// SetInstallScrambled records whether the scrambled corpus variant should be
// installed and persists.
func (j *Job) SetInstallScrambled(scramble bool) error {
	j.InstallScrambled = scramble
	return j.persist()
}

// SetSparvExports records the exports to create during the next run and
// persists.
func (j *Job) SetSparvExports(exports []string) error {
	j.SparvExports = exports
	return j.persist()
}

// SetCurrentFiles records the input files to process during the next run and
// persists.
func (j *Job) SetCurrentFiles(files []string) error {
	j.CurrentFiles = files
	return j.persist()
}

// SetSourceFiles records the known source files of the corpus and persists.
func (j *Job) SetSourceFiles(files []string) error {
	j.SourceFiles = files
	return j.persist()
}

// setLatestSecondsTaken persists the elapsed-time floor when it changed.
func (j *Job) setLatestSecondsTaken(seconds float64) error {
	if j.LatestSecondsTaken == seconds {
		return nil
	}
	j.LatestSecondsTaken = seconds
	return j.persist()
}

// ResetTime resets the processing time bookkeeping, e.g. when starting a new
// run.
func (j *Job) ResetTime() error {
	j.LatestSecondsTaken = 0
	j.Done = ""
	j.sparvDone = ""
	return j.persist()
}

// CheckRequirements verifies that the corpus has a config file and at least
// one source file on the storage host. On failure the annotation process is
// flipped to error before the precondition error is returned. The check runs
// before any status is set on a fresh job, so the error lands on the sparv
// process explicitly rather than on the (possibly unset) current process.
func (j *Job) CheckRequirements(ctx context.Context) error {
	cfg := j.env.Cfg
	contents, err := j.env.Storage.ListContents(ctx, j.env.Storage.CorpusDir(j.ID), false)
	if err != nil {
		if serr := j.SetStatus(status.Error, status.Sparv); serr != nil {
			slog.Error("Failed to persist status", "resource_id", j.ID, "error", serr)
		}
		return fmt.Errorf("list corpus contents for %q: %w", j.ID, err)
	}

	hasConfig := false
	hasSources := false
	for _, entry := range contents {
		if entry.Name == cfg.SparvCorpusConfig {
			hasConfig = true
		}
		if strings.HasPrefix(entry.Path, cfg.SparvSourceDir) && entry.Type != "directory" {
			hasSources = true
		}
	}
	if !hasConfig {
		if serr := j.SetStatus(status.Error, status.Sparv); serr != nil {
			slog.Error("Failed to persist status", "resource_id", j.ID, "error", serr)
		}
		return &PreconditionError{ResourceID: j.ID, Reason: "no config file provided"}
	}
	if !hasSources {
		if serr := j.SetStatus(status.Error, status.Sparv); serr != nil {
			slog.Error("Failed to persist status", "resource_id", j.ID, "error", serr)
		}
		return &PreconditionError{ResourceID: j.ID, Reason: "no input files provided"}
	}
	return nil
}

// fail records an error status for process p (empty means current) and
// returns a RemoteError for op.
func (j *Job) fail(p status.Process, op, stderr string) error {
	if err := j.SetStatus(status.Error, p); err != nil {
		slog.Error("Failed to persist status", "resource_id", j.ID, "error", err)
	}
	return &RemoteError{ResourceID: j.ID, Op: op, Stderr: strings.TrimSpace(stderr)}
}

// SyncToSparv syncs corpus files from the storage host to the Sparv server.
func (j *Job) SyncToSparv(ctx context.Context) error {
	if err := j.SetStatus(status.Running, status.Sync2Sparv); err != nil {
		return err
	}
	cfg := j.env.Cfg

	// Create the corpus dir on the Sparv server and clear stale output and
	// run-script files.
	res, err := j.env.Runner.Run(ctx, fmt.Sprintf("mkdir -p %s && rm -f %s %s",
		remote.Quote(j.remoteCorpusDir()),
		remote.Quote(cfg.SparvNohupFile), remote.Quote(cfg.SparvTmpRunScript)))
	if err != nil {
		return j.fail("", "create corpus dir on Sparv server", err.Error())
	}
	if len(res.Stderr) > 0 {
		return j.fail("", "create corpus dir on Sparv server", string(res.Stderr))
	}

	// Download the corpus from the storage host to local scratch.
	localDir := j.LocalCorpusDir()
	if err := j.env.Storage.DownloadDir(ctx, j.env.Storage.CorpusDir(j.ID), filepath.Dir(localDir)); err != nil {
		return j.fail("", "download corpus from storage server", err.Error())
	}

	// Push the corpus config to the Sparv server.
	configFile := filepath.Join(localDir, cfg.SparvCorpusConfig)
	cres, err := j.env.Copier.Copy(ctx, configFile,
		fmt.Sprintf("%s:~/%s/", j.sparvLogin(), j.remoteCorpusDir()), "-av")
	if err != nil {
		return j.fail("", "copy corpus config to Sparv server", err.Error())
	}
	if len(cres.Stderr) > 0 {
		return j.fail("", "copy corpus config to Sparv server", string(cres.Stderr))
	}

	// Push the source files to the Sparv server.
	sourceDir := filepath.Join(localDir, cfg.SparvSourceDir)
	sres, err := j.env.Copier.Copy(ctx, sourceDir,
		fmt.Sprintf("%s:~/%s/", j.sparvLogin(), j.remoteCorpusDir()), "-av", "--delete")
	if err != nil {
		return j.fail("", "copy corpus files to Sparv server", err.Error())
	}
	if len(sres.Stderr) > 0 {
		return j.fail("", "copy corpus files to Sparv server", string(sres.Stderr))
	}

	return j.SetStatus(status.Done, "")
}

// runScript writes scriptContent as an executable script in the corpus dir
// on the Sparv server and executes it, returning the result.
func (j *Job) runScript(ctx context.Context, scriptContent string) (remote.Result, error) {
	cfg := j.env.Cfg
	return j.env.Runner.Run(ctx, fmt.Sprintf("cd %s && echo %s > %s && chmod +x %s && ./%s",
		remote.Quote(j.remoteCorpusDir()),
		remote.Quote(scriptContent),
		remote.Quote(cfg.SparvTmpRunScript),
		remote.Quote(cfg.SparvTmpRunScript),
		remote.Quote(cfg.SparvTmpRunScript)))
}

// capturePID parses the backgrounded process ID echoed by a run script.
func (j *Job) capturePID(stdout []byte) {
	pid, err := strconv.Atoi(strings.TrimSpace(string(stdout)))
	if err != nil {
		return
	}
	if err := j.SetPID(pid); err != nil {
		slog.Error("Failed to persist pid", "resource_id", j.ID, "error", err)
	}
}

// RunSparv starts an annotation run on the Sparv server. The process is
// backgrounded and detached on the remote host with its output redirected to
// the job's log file; the job transitions to running once the process ID has
// been captured.
func (j *Job) RunSparv(ctx context.Context) error {
	cfg := j.env.Cfg

	exports := j.SparvExports
	if len(exports) == 0 {
		exports = cfg.SparvDefaultExports
	}
	sparvCommand := fmt.Sprintf("%s %s %s", cfg.SparvCommand, cfg.SparvRun, strings.Join(exports, " "))
	if len(j.CurrentFiles) > 0 {
		quoted := make([]string, len(j.CurrentFiles))
		for i, f := range j.CurrentFiles {
			quoted[i] = remote.Quote(f)
		}
		sparvCommand += " --file " + strings.Join(quoted, " ")
	}
	scriptContent := fmt.Sprintf("%s nohup time -p %s >%s 2>&1 &\necho $!",
		cfg.SparvEnviron, sparvCommand, cfg.SparvNohupFile)

	// Record the start time before the remote call so elapsed time stays
	// monotonic even when the call itself is slow.
	j.Started = j.env.now().Format(time.RFC3339)

	res, err := j.runScript(ctx, scriptContent)
	if err != nil {
		return fmt.Errorf("run Sparv for %q: %w", j.ID, err)
	}
	if res.ReturnCode != 0 {
		if rerr := j.ResetTime(); rerr != nil {
			slog.Error("Failed to reset time", "resource_id", j.ID, "error", rerr)
		}
		return j.fail(status.Sparv, "run Sparv", string(res.Stderr))
	}

	j.capturePID(res.Stdout)
	return j.SetStatus(status.Running, status.Sparv)
}

// installTargets assembles the Korp install target list, honoring the
// scrambled-variant flag.
func (j *Job) korpInstallTargets() []string {
	targets := append([]string{}, j.env.Cfg.KorpInstalls...)
	if j.InstallScrambled {
		return append(targets, "cwb:install_corpus_scrambled")
	}
	return append(targets, "cwb:install_corpus")
}

// runInstall launches an install run for the given process with the given
// targets; shared by the Korp and Strix installs.
func (j *Job) runInstall(ctx context.Context, p status.Process, targets []string) error {
	cfg := j.env.Cfg
	sparvCommand := fmt.Sprintf("%s %s %s", cfg.SparvCommand, cfg.SparvInstall, strings.Join(targets, " "))
	scriptContent := fmt.Sprintf("%s nohup time -p sh -c %s >%s 2>&1 &\necho $!",
		cfg.SparvEnviron, remote.Quote(sparvCommand), cfg.SparvNohupFile)

	// Clear stale output and run-script files so a re-install starts clean.
	cres, err := j.env.Runner.Run(ctx, fmt.Sprintf("cd %s && rm -f %s %s",
		remote.Quote(j.remoteCorpusDir()),
		remote.Quote(cfg.SparvNohupFile), remote.Quote(cfg.SparvTmpRunScript)))
	if err != nil {
		return fmt.Errorf("clear stale run files for %q: %w", j.ID, err)
	}
	if len(cres.Stderr) > 0 {
		slog.Warn("Failed to clear stale run files", "resource_id", j.ID, "stderr", string(cres.Stderr))
	}

	j.Started = j.env.now().Format(time.RFC3339)

	res, err := j.runScript(ctx, scriptContent)
	if err != nil {
		return fmt.Errorf("install %s for %q: %w", p, j.ID, err)
	}
	if res.ReturnCode != 0 {
		if rerr := j.ResetTime(); rerr != nil {
			slog.Error("Failed to reset time", "resource_id", j.ID, "error", rerr)
		}
		return j.fail(p, fmt.Sprintf("install corpus in %s", p), string(res.Stderr))
	}

	j.capturePID(res.Stdout)
	return j.SetStatus(status.Running, p)
}

// InstallKorp starts a Korp installation run for the corpus.
func (j *Job) InstallKorp(ctx context.Context) error {
	if err := j.runInstall(ctx, status.Korp, j.korpInstallTargets()); err != nil {
		return err
	}
	j.InstalledKorp = true
	return j.persist()
}

// InstallStrix starts a Strix installation run for the corpus.
func (j *Job) InstallStrix(ctx context.Context) error {
	if err := j.runInstall(ctx, status.Strix, j.env.Cfg.StrixInstalls); err != nil {
		return err
	}
	j.InstalledStrix = true
	return j.persist()
}

// runUninstall aborts any running job for the resource, then runs the given
// uninstall targets synchronously on the Sparv server.
func (j *Job) runUninstall(ctx context.Context, p status.Process, targets []string) error {
	if err := j.AbortSparv(ctx); err != nil {
		// Nothing running is fine; anything else propagates.
		if !isAbortIgnorable(err) {
			return err
		}
	}

	cfg := j.env.Cfg
	sparvCommand := fmt.Sprintf("%s %s %s", cfg.SparvCommand, cfg.SparvUninstall, strings.Join(targets, " "))
	res, err := j.env.Runner.Run(ctx, fmt.Sprintf("cd %s && %s %s",
		remote.Quote(j.remoteCorpusDir()), cfg.SparvEnviron, sparvCommand))
	if err != nil {
		return fmt.Errorf("uninstall %s for %q: %w", p, j.ID, err)
	}
	if res.ReturnCode != 0 {
		stderr := strings.TrimSpace(string(res.Stderr))
		slog.Error("Failed to uninstall corpus", "resource_id", j.ID, "process", p, "stderr", stderr)
		return &RemoteError{ResourceID: j.ID, Op: fmt.Sprintf("uninstall corpus from %s", p), Stderr: stderr}
	}
	return nil
}

func isAbortIgnorable(err error) bool {
	return errors.Is(err, ErrProcessNotRunning) || errors.Is(err, ErrProcessNotFound)
}

// UninstallKorp removes the corpus from Korp and clears the installed flag.
func (j *Job) UninstallKorp(ctx context.Context) error {
	if err := j.runUninstall(ctx, status.Korp, j.env.Cfg.KorpUninstalls); err != nil {
		return err
	}
	j.InstalledKorp = false
	return j.persist()
}

// UninstallStrix removes the corpus from Strix and clears the installed flag.
func (j *Job) UninstallStrix(ctx context.Context) error {
	if err := j.runUninstall(ctx, status.Strix, j.env.Cfg.StrixUninstalls); err != nil {
		return err
	}
	j.InstalledStrix = false
	return j.persist()
}

// noSuchProcess recognizes the remote kill command reporting that the target
// process is already gone. The message is locale dependent; both observed
// variants are listed here so extending the table is a one-line change.
var noSuchProcessSuffixes = []string{
	"No such process\n",
	"Processen finns inte\n",
}

func noSuchProcess(stderr string) bool {
	for _, suffix := range noSuchProcessSuffixes {
		if strings.HasSuffix(stderr, suffix) {
			return true
		}
	}
	return false
}

// AbortSparv aborts the job's active process. A waiting job is unqueued and
// marked aborted without a remote call; a running job with a recorded PID
// gets a termination signal on the Sparv server.
func (j *Job) AbortSparv(ctx context.Context) error {
	if j.Statuses.IsWaiting(j.CurrentProcess) {
		if j.env.Unqueue != nil {
			j.env.Unqueue(j.ID)
		}
		return j.SetStatus(status.Aborted, "")
	}
	if !j.Statuses.IsRunning("") {
		return fmt.Errorf("failed to abort job for %q: %w", j.ID, ErrProcessNotRunning)
	}
	if j.PID == 0 {
		// Running without a recorded PID: assume the process already
		// exited.
		return j.SetStatus(status.Aborted, "")
	}

	res, err := j.env.Runner.Run(ctx, fmt.Sprintf("kill -SIGTERM %d", j.PID))
	if err != nil {
		return fmt.Errorf("abort job for %q: %w", j.ID, err)
	}
	stderr := string(res.Stderr)
	if res.ReturnCode == 0 || noSuchProcess(stderr) {
		if perr := j.SetPID(0); perr != nil {
			slog.Error("Failed to persist pid", "resource_id", j.ID, "error", perr)
		}
		return j.SetStatus(status.Aborted, "")
	}
	return &RemoteError{ResourceID: j.ID, Op: "abort job", Stderr: strings.TrimSpace(stderr)}
}

// ProcessRunning probes whether the remote process for this job is still
// alive. When the process is gone it reconciles the job's status from the
// remote log output: full progress promotes the process to done, anything
// else demotes it to error. Returns true only while the process is running.
func (j *Job) ProcessRunning(ctx context.Context) (bool, error) {
	if j.PID != 0 {
		res, err := j.env.Runner.Run(ctx, fmt.Sprintf("kill -0 %d", j.PID))
		if err != nil {
			return false, fmt.Errorf("probe process for %q: %w", j.ID, err)
		}
		if res.ReturnCode == 0 {
			return true, nil
		}
		slog.Debug("Remote process gone", "resource_id", j.ID, "pid", j.PID, "stderr", string(res.Stderr))
		if perr := j.SetPID(0); perr != nil {
			slog.Error("Failed to persist pid", "resource_id", j.ID, "error", perr)
		}
	}

	_, errOutput, misc, err := j.GetOutput(ctx)
	if err != nil {
		return false, err
	}
	if j.progressOutput == 100 {
		if j.Statuses.IsRunning(j.CurrentProcess) {
			if serr := j.SetStatus(status.Done, ""); serr != nil {
				return false, serr
			}
		}
	} else {
		if errOutput != "" {
			slog.Debug("Errors in Sparv output", "resource_id", j.ID, "errors", errOutput)
		}
		if misc != "" {
			slog.Debug("Sparv output", "resource_id", j.ID, "output", misc)
		}
		slog.Debug("Sparv process was not completed successfully", "resource_id", j.ID)
		if serr := j.SetStatus(status.Error, ""); serr != nil {
			return false, serr
		}
	}
	return false, nil
}

// SecondsTaken calculates the elapsed processing time of the current run.
// The value is floored by the previously recorded duration, so successive
// calls never go backwards; every evaluation persists the floor.
func (j *Job) SecondsTaken() float64 {
	cp := j.CurrentProcess
	var seconds float64

	started, startedErr := time.Parse(time.RFC3339, j.Started)

	switch {
	case j.Started == "" || startedErr != nil ||
		j.Statuses.IsWaiting(cp) || j.Statuses.IsNone(cp) || j.Statuses.IsAborted(cp):
		seconds = 0
	case j.Statuses.IsRunning(cp):
		delta := j.env.now().Sub(started).Seconds()
		seconds = max(j.LatestSecondsTaken, delta)
	case j.sparvDone != "" || j.Statuses.IsError(cp):
		end := started
		if j.sparvDone != "" {
			if parsed, err := time.Parse(time.RFC3339, j.sparvDone); err == nil {
				end = parsed
			}
		}
		seconds = max(j.LatestSecondsTaken, end.Sub(started).Seconds())
		j.Done = started.Add(time.Duration(seconds * float64(time.Second))).Format(time.RFC3339)
	default:
		slog.Error("Unexpected state while calculating time taken",
			"resource_id", j.ID,
			"status", j.Statuses.Serialize(),
			"current_process", cp,
			"started", j.Started,
		)
		seconds = 0
	}

	if err := j.setLatestSecondsTaken(seconds); err != nil {
		slog.Error("Failed to persist seconds taken", "resource_id", j.ID, "error", err)
	}
	return seconds
}

// Progress reports the annotation progress as a percentage string. Full
// progress is reported as 99% until the status has been confirmed done.
// Empty means the process has no progress to report.
func (j *Job) Progress() string {
	cp := j.CurrentProcess
	if j.Statuses.HasProcessOutput(cp) {
		if j.progressOutput == 100 && !j.Statuses.IsDone(cp) {
			return "99%"
		}
		return fmt.Sprintf("%d%%", j.progressOutput)
	}
	if j.Statuses.IsActive(cp) {
		return "0%"
	}
	return ""
}

// ProgressOutput returns the last progress percentage parsed from the
// remote log.
func (j *Job) ProgressOutput() int { return j.progressOutput }

// SyncResults syncs export artifacts and plain-text extractions from the
// Sparv server back to the storage host.
func (j *Job) SyncResults(ctx context.Context) error {
	if err := j.SetStatus(status.Running, status.Sync2Storage); err != nil {
		return err
	}
	cfg := j.env.Cfg
	localDir := j.LocalCorpusDir()

	// Pull exports from the Sparv server.
	remoteExportDir := j.remoteCorpusDir() + "/" + cfg.SparvExportDir
	res, err := j.env.Copier.Copy(ctx,
		fmt.Sprintf("%s:~/%s", j.sparvLogin(), remoteExportDir), localDir, "-av")
	if err != nil {
		return j.fail("", "retrieve Sparv exports", err.Error())
	}
	if len(res.Stderr) > 0 {
		return j.fail("", "retrieve Sparv exports", string(res.Stderr))
	}

	// Pull plain text sources from the Sparv work dir.
	remoteWorkDir := j.remoteCorpusDir() + "/" + cfg.SparvWorkDir
	wres, err := j.env.Copier.Copy(ctx,
		fmt.Sprintf("%s:~/%s", j.sparvLogin(), remoteWorkDir), localDir,
		"-av", "--include=@text", "--include=*/", "--exclude=*", "--prune-empty-dirs")
	if err != nil {
		return j.fail("", "retrieve plain text sources", err.Error())
	}
	if len(wres.Stderr) > 0 {
		return j.fail("", "retrieve plain text sources", string(wres.Stderr))
	}

	// Push exports up to the storage host.
	if err := j.env.Storage.UploadDir(ctx, j.env.Storage.CorpusDir(j.ID),
		filepath.Join(localDir, cfg.SparvExportDir)); err != nil {
		return j.fail("", "upload exports to storage server", err.Error())
	}

	// Push plain text sources up to the storage host.
	if err := j.env.Storage.UploadDir(ctx, j.env.Storage.CorpusDir(j.ID),
		filepath.Join(localDir, cfg.SparvWorkDir)); err != nil {
		return j.fail("", "upload plain text sources to storage server", err.Error())
	}

	return j.SetStatus(status.Done, "")
}

// RemoveFromSparv removes the corpus dir from the Sparv server, aborting any
// running job first.
func (j *Job) RemoveFromSparv(ctx context.Context) error {
	if err := j.AbortSparv(ctx); err != nil && !isAbortIgnorable(err) {
		return err
	}
	res, err := j.env.Runner.Run(ctx, "rm -rf "+remote.Quote(j.remoteCorpusDir()))
	if err != nil {
		return fmt.Errorf("remove corpus dir for %q: %w", j.ID, err)
	}
	if len(res.Stderr) > 0 {
		slog.Error("Failed to remove corpus dir", "resource_id", j.ID, "stderr", string(res.Stderr))
	}
	return nil
}

// Clean removes annotation and export files on the Sparv server.
func (j *Job) Clean(ctx context.Context) (string, error) {
	cfg := j.env.Cfg
	res, err := j.env.Runner.Run(ctx, fmt.Sprintf("cd %s && rm -f %s %s && %s %s clean --all",
		remote.Quote(j.remoteCorpusDir()),
		remote.Quote(cfg.SparvNohupFile), remote.Quote(cfg.SparvTmpRunScript),
		cfg.SparvEnviron, cfg.SparvCommand))
	if err != nil {
		return "", fmt.Errorf("clean corpus %q: %w", j.ID, err)
	}
	if len(res.Stderr) > 0 {
		return "", &RemoteError{ResourceID: j.ID, Op: "clean corpus", Stderr: strings.TrimSpace(string(res.Stderr))}
	}
	return joinOutputLines(res.Stdout), nil
}

// CleanExport removes export files on the Sparv server. A merely-unexpected
// output is reported via the success flag instead of an error.
func (j *Job) CleanExport(ctx context.Context) (bool, string, error) {
	cfg := j.env.Cfg
	res, err := j.env.Runner.Run(ctx, fmt.Sprintf("cd %s && %s %s clean --export",
		remote.Quote(j.remoteCorpusDir()), cfg.SparvEnviron, cfg.SparvCommand))
	if err != nil {
		return false, "", fmt.Errorf("clean export for %q: %w", j.ID, err)
	}
	if len(res.Stderr) > 0 {
		return false, "", &RemoteError{ResourceID: j.ID, Op: "clean export", Stderr: strings.TrimSpace(string(res.Stderr))}
	}
	output := joinOutputLines(res.Stdout)
	if !strings.Contains(output, "Nothing to remove") && !strings.Contains(output, "'export' directory removed") {
		slog.Error("Failed to remove Sparv export dir", "resource_id", j.ID, "output", output)
		return false, output, nil
	}
	return true, output, nil
}

func joinOutputLines(stdout []byte) string {
	var lines []string
	for _, line := range strings.Split(string(stdout), "\n") {
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, ", ")
}
