// Package runner launches and supervises the nmap child process.
// It owns the argument construction, the stdout/stdin pipes used by the
// decode pipeline, signal propagation, and child reaping.
package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/anstrom/rmap/internal/config"
	rmaperrors "github.com/anstrom/rmap/internal/errors"
	"github.com/anstrom/rmap/internal/logging"
)

const (
	// Grace period between SIGINT on cancellation and SIGKILL.
	terminateGrace = 5 * time.Second

	// SignalExitCode is reported when the child dies from a signal
	// instead of exiting, following the 128+SIGINT shell convention.
	SignalExitCode = 130
)

// Runner supervises one nmap child process.
type Runner struct {
	cfg         config.NmapConfig
	passthrough []string

	// Stderr receives the child's diagnostic output. Defaults to the
	// parent's stderr so scan progress stays visible; os/exec drains it
	// concurrently, so the child never blocks on a full pipe.
	Stderr io.Writer

	cmd        *exec.Cmd
	stdout     io.ReadCloser
	stdin      io.WriteCloser
	terminated bool
}

// New creates a runner for the given nmap configuration and verbatim
// passthrough flags.
func New(cfg config.NmapConfig, passthrough []string) *Runner {
	return &Runner{
		cfg:         cfg,
		passthrough: passthrough,
		Stderr:      os.Stderr,
	}
}

// Args returns the argument list the child will be started with, not
// including the binary itself. User flags come first; the trailing
// "-iL - -oX -" pins targets to stdin and XML to stdout, positionally
// overriding any user-supplied output redirection.
func (r *Runner) Args() []string {
	args := make([]string, 0, len(r.passthrough)+5)
	args = append(args, r.passthrough...)
	if r.cfg.Privileged {
		args = append(args, "--privileged")
	}
	args = append(args, "-iL", "-", "-oX", "-")
	return args
}

// Start resolves the binary and spawns the child with stdout and stdin
// piped. A missing binary is reported as TOOL_NOT_FOUND before anything
// is spawned. Cancelling ctx sends SIGINT to the child, escalating to
// SIGKILL after a grace period.
func (r *Runner) Start(ctx context.Context) error {
	path, err := exec.LookPath(r.cfg.Path)
	if err != nil {
		return rmaperrors.ErrToolNotFound(r.cfg.Path, err)
	}

	cmd := exec.CommandContext(ctx, path, r.Args()...)
	cmd.Stderr = r.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = terminateGrace

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe scanner stdout: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to pipe scanner stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return rmaperrors.ErrToolNotFound(r.cfg.Path, err)
	}

	logging.Debug("scanner started", "path", path, "args", strings.Join(r.Args(), " "), "pid", cmd.Process.Pid)

	r.cmd = cmd
	r.stdout = stdout
	r.stdin = stdin
	return nil
}

// Stdout returns the child's XML output stream. Valid after Start.
func (r *Runner) Stdout() io.Reader { return r.stdout }

// Stdin returns the pipe the target list is written to. Valid after Start.
func (r *Runner) Stdin() io.WriteCloser { return r.stdin }

// Terminate interrupts the child. Safe to call when the child already
// exited; reaping still happens in Wait.
func (r *Runner) Terminate() {
	if r.cmd == nil || r.cmd.Process == nil {
		return
	}
	r.terminated = true
	_ = r.cmd.Process.Signal(syscall.SIGINT)
}

// Terminated reports whether Terminate was called, letting callers tell
// a child that failed on its own from one they interrupted themselves.
func (r *Runner) Terminated() bool { return r.terminated }

// Wait reaps the child process. A non-zero exit is returned as a
// CHILD_FAILED error carrying the child's own exit code; death by signal
// maps to the conventional 128+SIGINT code.
func (r *Runner) Wait() error {
	if r.cmd == nil {
		return nil
	}

	err := r.cmd.Wait()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		if code < 0 {
			code = SignalExitCode
		}
		return rmaperrors.ErrChildFailed(code, err)
	}
	return rmaperrors.Wrap(rmaperrors.CodeChildFailed, "failed to reap scanner process", err)
}

// CheckPrivileged verifies that the binary can open raw sockets, the way
// a capability-stripped install fails immediately. The returned error
// carries the setcap remediation hint.
func CheckPrivileged(ctx context.Context, path string) error {
	bin, err := exec.LookPath(path)
	if err != nil {
		return rmaperrors.ErrToolNotFound(path, err)
	}

	cmd := exec.CommandContext(ctx, bin, "--privileged", "-sS", "0.0.0.0")
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(
		"raw socket check failed: %s\nrun the following command to fix this problem: sudo setcap CAP_NET_RAW=ep %q",
		strings.TrimSpace(string(output)), bin)
	return rmaperrors.Wrap(rmaperrors.CodeUnprivileged, msg, err)
}
