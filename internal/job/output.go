package job

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spraakbanken/mink-backend-sub000/internal/remote"
)

// logLine is one JSON line emitted by Sparv's json-log mode.
type logLine struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

var (
	progressRE = regexp.MustCompile(`(\d+)\s*%`)
	// realRE matches the timing summary emitted by "time -p".
	realRE = regexp.MustCompile(`^real (\d+(?:\.\d+)?)`)
)

// GetOutput fetches the remote log of the current run and splits it into
// warnings, errors and remaining output. Progress percentages and the final
// timing line update the job's transient progress and completion fields as a
// side effect. A missing log file yields empty output without error.
func (j *Job) GetOutput(ctx context.Context) (warnings, errOutput, misc string, err error) {
	if !j.Statuses.HasProcessOutput(j.CurrentProcess) {
		return "", "", "", nil
	}
	cfg := j.env.Cfg
	nohupFile := j.remoteCorpusDir() + "/" + cfg.SparvNohupFile

	res, rerr := j.env.Runner.Run(ctx,
		fmt.Sprintf("test -f %s && cat %s || true", remote.Quote(nohupFile), remote.Quote(nohupFile)))
	if rerr != nil {
		return "", "", "", fmt.Errorf("read output for %q: %w", j.ID, rerr)
	}
	if len(res.Stderr) > 0 {
		return "", "", "", &RemoteError{ResourceID: j.ID, Op: "read job output", Stderr: strings.TrimSpace(string(res.Stderr))}
	}

	var warningLines, errorLines, miscLines []string
	for _, line := range strings.Split(string(res.Stdout), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var entry logLine
		if jsonErr := json.Unmarshal([]byte(line), &entry); jsonErr != nil {
			// Non-JSON lines are either the timing summary from "time -p"
			// or stray output from the shell wrapper.
			if m := realRE.FindStringSubmatch(line); m != nil {
				j.applyRealTime(m[1])
				continue
			}
			if strings.HasPrefix(line, "user ") || strings.HasPrefix(line, "sys ") {
				continue
			}
			miscLines = append(miscLines, line)
			continue
		}

		switch entry.Level {
		case "PROGRESS":
			if m := progressRE.FindStringSubmatch(entry.Message); m != nil {
				if pct, convErr := strconv.Atoi(m[1]); convErr == nil {
					j.progressOutput = pct
				}
			}
		case "FINAL":
			// A final "nothing to be done" means the run was already complete.
			if strings.Contains(strings.ToLower(entry.Message), "nothing to be done") {
				j.progressOutput = 100
			} else if m := progressRE.FindStringSubmatch(entry.Message); m != nil {
				if pct, convErr := strconv.Atoi(m[1]); convErr == nil {
					j.progressOutput = pct
				}
			}
			miscLines = append(miscLines, entry.Message)
		case "WARNING":
			warningLines = append(warningLines, entry.Message)
		case "ERROR", "CRITICAL":
			errorLines = append(errorLines, entry.Message)
		default:
			miscLines = append(miscLines, entry.Message)
		}
	}

	return strings.Join(warningLines, "\n"),
		strings.Join(errorLines, "\n"),
		strings.Join(miscLines, "\n"),
		nil
}

// applyRealTime converts the wall-clock seconds reported by "time -p" into
// the run's completion timestamp.
func (j *Job) applyRealTime(value string) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return
	}
	started, err := time.Parse(time.RFC3339, j.Started)
	if err != nil {
		slog.Debug("Cannot anchor run duration without a start time", "resource_id", j.ID)
		return
	}
	j.sparvDone = started.Add(time.Duration(seconds * float64(time.Second))).Format(time.RFC3339)
}
