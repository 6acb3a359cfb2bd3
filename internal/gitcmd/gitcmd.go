// Package gitcmd wraps invocations of the external git binary. Every
// higher-level operation in gitforge (storage layout, smart HTTP streaming,
// history manipulation) goes through a Runner so that process lifecycle,
// stderr capture, and cancellation behave the same everywhere.
package gitcmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const tracerName = "github.com/odvcencio/gitforge/internal/gitcmd"

// CommandError reports a non-zero exit from the git binary along with the
// command line and whatever git wrote to stderr.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", strings.Join(e.Args, " "), e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExitCode returns the exit status of the git process, or -1 when the
// process did not run to completion (start failure, kill on cancel).
// Callers use this to tell deliberate non-zero exits, like rev-parse
// --verify reporting a missing object, apart from real failures.
func (e *CommandError) ExitCode() int {
	var exit *exec.ExitError
	if errors.As(e.Err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

// Runner executes git commands rooted at a working directory.
type Runner struct {
	gitPath string
}

func NewRunner() *Runner {
	return &Runner{gitPath: "git"}
}

// Options controls a single invocation.
type Options struct {
	Dir    string
	Env    []string // appended to the inherited environment
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer // Start only; Run always captures stderr itself
}

// Run executes git with the given arguments. Stdout goes to opts.Stdout when
// set and is discarded otherwise; stderr is always captured for error
// reporting. The process is killed when ctx is cancelled.
func (r *Runner) Run(ctx context.Context, opts Options, args ...string) error {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "git."+subcommand(args))
	defer span.End()
	span.SetAttributes(
		attribute.StringSlice("git.args", args),
		attribute.String("git.dir", opts.Dir),
	)

	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = opts.Dir
	cmd.Stdin = opts.Stdin
	cmd.Stdout = opts.Stdout
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}

	if err := cmd.Run(); err != nil {
		cerr := &CommandError{
			Args:   args,
			Stderr: strings.TrimSpace(stderr.String()),
			Err:    err,
		}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "git command failed")
		return cerr
	}
	return nil
}

// Output executes git and returns trimmed stdout.
func (r *Runner) Output(ctx context.Context, opts Options, args ...string) (string, error) {
	var stdout bytes.Buffer
	opts.Stdout = &stdout
	if err := r.Run(ctx, opts, args...); err != nil {
		return "", err
	}
	return strings.TrimSpace(stdout.String()), nil
}

// OutputBytes executes git and returns raw stdout, untrimmed. Use this for
// machine formats where trailing bytes matter (diffs, bundles, pack data).
func (r *Runner) OutputBytes(ctx context.Context, opts Options, args ...string) ([]byte, error) {
	var stdout bytes.Buffer
	opts.Stdout = &stdout
	if err := r.Run(ctx, opts, args...); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}

// Start launches git without waiting, wiring stdin/stdout to pipes. Used by
// the smart HTTP layer to stream between the client socket and the
// subprocess. The caller owns the returned command and must call Wait.
func (r *Runner) Start(ctx context.Context, opts Options, args ...string) (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.CommandContext(ctx, r.gitPath, args...)
	cmd.Dir = opts.Dir
	cmd.Stderr = opts.Stderr
	if len(opts.Env) > 0 {
		cmd.Env = append(cmd.Environ(), opts.Env...)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdout.Close()
		return nil, nil, nil, fmt.Errorf("start git %s: %w", subcommand(args), err)
	}
	return cmd, stdin, stdout, nil
}

func subcommand(args []string) string {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a
		}
	}
	return "git"
}
