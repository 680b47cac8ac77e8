// Package remote wraps the shell and file-transfer access to the Sparv and
// storage hosts. Commands run over the system ssh client and directory syncs
// use rsync, so key handling, agent forwarding and host verification follow
// the operator's ssh configuration.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// Result captures the outcome of one remote command.
type Result struct {
	Stdout     []byte
	Stderr     []byte
	ReturnCode int
}

// Runner executes a shell command on a remote host.
type Runner interface {
	Run(ctx context.Context, command string) (Result, error)
}

// Copier performs a recursive file copy between hosts. Src and dst use
// rsync's host:path notation for remote endpoints.
type Copier interface {
	Copy(ctx context.Context, src, dst string, flags ...string) (Result, error)
}

// SSHRunner runs commands on a fixed host/user over the system ssh binary.
type SSHRunner struct {
	User    string
	Host    string
	KeyPath string
}

// NewSSHRunner creates a runner for the given login.
func NewSSHRunner(user, host, keyPath string) *SSHRunner {
	return &SSHRunner{User: user, Host: host, KeyPath: keyPath}
}

// Run executes command on the remote host. Remote failures are reported via
// the Result (non-zero ReturnCode, captured stderr); err is reserved for
// failures to run the ssh client itself.
func (r *SSHRunner) Run(ctx context.Context, command string) (Result, error) {
	args := []string{}
	if r.KeyPath != "" {
		args = append(args, "-i", r.KeyPath)
	}
	args = append(args, fmt.Sprintf("%s@%s", r.User, r.Host), command)

	cmd := exec.CommandContext(ctx, "ssh", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run ssh: %w", err)
	}
	return res, nil
}

// Rsync copies files and directories with the system rsync binary.
type Rsync struct {
	KeyPath string
}

// NewRsync creates a copier that authenticates with the given key.
func NewRsync(keyPath string) Rsync {
	return Rsync{KeyPath: keyPath}
}

// Copy runs rsync with the given flags. As with SSHRunner, a non-zero exit
// is reported via the Result.
func (r Rsync) Copy(ctx context.Context, src, dst string, flags ...string) (Result, error) {
	args := append([]string{}, flags...)
	if r.KeyPath != "" {
		args = append(args, "-e", "ssh -i "+r.KeyPath)
	}
	args = append(args, src, dst)

	cmd := exec.CommandContext(ctx, "rsync", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ReturnCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("run rsync: %w", err)
	}
	return res, nil
}

// Quote escapes a string for use as a single word in a POSIX shell command.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'`$&|;<>()*?[]#~%{}\\!") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'"'"'`) + "'"
}
