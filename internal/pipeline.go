// Package internal wires the rmap pipeline together: the nmap child
// process, the streaming XML parser, and the record emitter. Records
// flow strictly forward, one at a time, and every record decoded before
// a failure is flushed before the failure is reported.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/anstrom/rmap/internal/config"
	"github.com/anstrom/rmap/internal/emit"
	rmaperrors "github.com/anstrom/rmap/internal/errors"
	"github.com/anstrom/rmap/internal/logging"
	"github.com/anstrom/rmap/internal/runner"
	"github.com/anstrom/rmap/internal/scan"
	"github.com/anstrom/rmap/internal/targets"
)

// RunOptions describes one pipeline invocation.
type RunOptions struct {
	// Config provides nmap and logging settings.
	Config *config.Config

	// Targets are the raw target specifications (hosts, CIDR ranges,
	// files, or "-" for stdin).
	Targets []string

	// Passthrough flags are forwarded to nmap verbatim.
	Passthrough []string

	// Format is the resolved concrete output format (never "auto").
	Format string

	// Output receives the record stream.
	Output io.Writer

	// Stdin is the source for the "-" target specification.
	Stdin io.Reader

	// Progress, when non-nil, receives a live one-line counter of hosts
	// and records as the scan runs. Meant for a terminal on stderr.
	Progress io.Writer
}

// Run executes the launcher → parser → emitter pipeline. The returned
// error maps onto the documented exit codes via errors.ExitCode; nil
// means the scan completed and every record was emitted.
func Run(ctx context.Context, opts RunOptions) error {
	logger := logging.Default().WithComponent("pipeline").WithRunID(uuid.NewString())
	start := time.Now()

	if err := targets.Validate(opts.Targets); err != nil {
		return err
	}

	emitter, err := emit.New(opts.Format, opts.Output)
	if err != nil {
		return err
	}

	if opts.Config.Nmap.Privileged {
		if err := runner.CheckPrivileged(ctx, opts.Config.Nmap.Path); err != nil {
			return err
		}
	}

	run := runner.New(opts.Config.Nmap, opts.Passthrough)
	if err := run.Start(ctx); err != nil {
		return err
	}

	// Feed the expanded target list into the child's stdin from its own
	// goroutine; closing stdin is what lets nmap start scanning the
	// final batch. Write errors here mean the child died early, which
	// surfaces through Wait below.
	go func() {
		stdin := run.Stdin()
		count, err := targets.Expand(opts.Targets, opts.Stdin, stdin)
		if err != nil {
			logger.WithError(err).Warn("target expansion stopped early", "targets", count)
		} else {
			logger.Debug("targets queued", "targets", count)
		}
		_ = stdin.Close()
	}()

	meter := &progressMeter{w: opts.Progress}
	pipeErr := drain(scan.NewParser(run.Stdout()), emitter, run, meter, logger)
	meter.done()

	if closeErr := emitter.Close(); closeErr != nil && pipeErr == nil {
		pipeErr = closeErr
	}

	waitErr := run.Wait()

	logger.Info("scan finished",
		"duration", time.Since(start).Round(time.Millisecond),
		"error", firstError(pipeErr, waitErr))

	// A sink failure caused us to kill the child, so it outranks the
	// child's own exit status. A child that failed on its own outranks
	// the truncated stream it left behind, the truncation being its
	// symptom; but when the child merely died from the interrupt we
	// sent after a pipeline failure, that failure keeps its exit code.
	if rmaperrors.IsCode(pipeErr, rmaperrors.CodeSinkClosed) {
		return pipeErr
	}
	if pipeErr != nil && run.Terminated() && diedBySignal(waitErr) {
		return pipeErr
	}
	if waitErr != nil {
		return waitErr
	}
	return pipeErr
}

// drain pulls records from the parser and hands each to the emitter
// until the stream ends or either side fails.
func drain(parser *scan.Parser, emitter emit.Emitter, run *runner.Runner, meter *progressMeter, logger *logging.Logger) error {
	for {
		rec, err := parser.Next()
		if err == io.EOF {
			logger.Debug("stream complete", "hosts", parser.HostsSeen(), "records", parser.RecordsSeen())
			return nil
		}
		if err != nil {
			// Everything decodable was already emitted; stop the
			// child so it does not scan into a dead pipeline.
			run.Terminate()
			return err
		}

		if err := emitter.Emit(rec); err != nil {
			run.Terminate()
			return err
		}
		meter.update(parser.HostsSeen(), parser.RecordsSeen())
	}
}

// progressMeter rewrites a single status line as the scan advances. It
// writes nothing when no sink is configured.
type progressMeter struct {
	w       io.Writer
	written bool
}

func (m *progressMeter) update(hosts, records int) {
	if m.w == nil {
		return
	}
	fmt.Fprintf(m.w, "\r%d hosts scanned, %d records", hosts, records)
	m.written = true
}

func (m *progressMeter) done() {
	if !m.written {
		return
	}
	// Clear the status line so logs and shell prompts start clean.
	fmt.Fprintf(m.w, "\r%*s\r", 40, "")
}

// diedBySignal reports whether the child's failure was death by signal
// rather than an exit code of its own.
func diedBySignal(err error) bool {
	var runErr *rmaperrors.RunError
	return errors.As(err, &runErr) &&
		runErr.Code == rmaperrors.CodeChildFailed &&
		runErr.ChildExit == runner.SignalExitCode
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
