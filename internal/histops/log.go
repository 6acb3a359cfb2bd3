package histops

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

type Commit struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
}

type HistoryOptions struct {
	Ref   string
	Path  string
	Limit int
	Skip  int
}

const logFormat = "%H%x00%an%x00%ae%x00%at%x00%s"

// CommitHistory reads straight from the bare repository; log does not
// mutate anything so no disposable clone is needed. A repo with no
// commits yet yields an empty slice, not an error.
func (e *Engine) CommitHistory(ctx context.Context, owner, name string, opts HistoryOptions) ([]Commit, error) {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return nil, storage.ErrNotFound
	}

	ref := opts.Ref
	if ref == "" {
		ref = "HEAD"
	}
	// rev-parse --verify --quiet exits 1 when the name resolves to
	// nothing; anything else (exit 128, a killed process) is a real
	// failure and propagates. Exit 1 on the default HEAD is an unborn
	// repo and reads as legitimate emptiness; exit 1 on a ref the
	// caller asked for by name is an unknown revision.
	if err := e.git.Run(ctx, gitcmd.Options{Dir: bare}, "rev-parse", "--verify", "--quiet", ref+"^{commit}"); err != nil {
		var cmdErr *gitcmd.CommandError
		if !errors.As(err, &cmdErr) || cmdErr.ExitCode() != 1 {
			return nil, fmt.Errorf("resolve %s: %w", ref, err)
		}
		if opts.Ref == "" {
			return nil, nil
		}
		return nil, fmt.Errorf("unknown revision %q: %w", opts.Ref, storage.ErrNotFound)
	}

	args := []string{"log", "--format=" + logFormat, ref}
	if opts.Limit > 0 {
		args = append(args, "-n", strconv.Itoa(opts.Limit))
	}
	if opts.Skip > 0 {
		args = append(args, "--skip", strconv.Itoa(opts.Skip))
	}
	if opts.Path != "" {
		args = append(args, "--", opts.Path)
	}

	out, err := e.git.Output(ctx, gitcmd.Options{Dir: bare}, args...)
	if err != nil {
		return nil, fmt.Errorf("log %s: %w", ref, err)
	}
	return parseCommitLines(out)
}

func parseCommitLines(out string) ([]Commit, error) {
	var commits []Commit
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x00", 5)
		if len(parts) != 5 {
			return nil, fmt.Errorf("malformed log line %q", line)
		}
		unix, err := strconv.ParseInt(parts[3], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad commit timestamp %q: %w", parts[3], err)
		}
		commits = append(commits, Commit{
			Hash:    parts[0],
			Author:  parts[1],
			Email:   parts[2],
			Date:    time.Unix(unix, 0).UTC(),
			Subject: parts[4],
		})
	}
	return commits, nil
}

type ReflogEntry struct {
	Hash     string `json:"hash"`
	Selector string `json:"selector"`
	Action   string `json:"action"`
}

// Reflog lists the reflog of a ref. Bare server repos often have no
// reflog at all; that reads as empty, not as an error.
func (e *Engine) Reflog(ctx context.Context, owner, name, ref string) ([]ReflogEntry, error) {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return nil, storage.ErrNotFound
	}
	if ref == "" {
		ref = "HEAD"
	}
	out, err := e.git.Output(ctx, gitcmd.Options{Dir: bare},
		"reflog", "show", "--format=%H%x00%gd%x00%gs", ref)
	if err != nil {
		var cmdErr *gitcmd.CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "does not exist") {
			return nil, nil
		}
		return nil, fmt.Errorf("reflog %s: %w", ref, err)
	}

	var entries []ReflogEntry
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\x00", 3)
		if len(parts) != 3 {
			continue
		}
		entries = append(entries, ReflogEntry{Hash: parts[0], Selector: parts[1], Action: parts[2]})
	}
	return entries, nil
}

type BisectResult struct {
	// Midpoint is the commit git proposes to test next.
	Midpoint string `json:"midpoint"`
	Output   string `json:"output"`
}

// StartBisect runs the first bisection step between a known-bad and a
// known-good commit in a disposable clone and reports the midpoint git
// picked. The clone is discarded; callers drive further steps by
// narrowing the good/bad range and calling again.
func (e *Engine) StartBisect(ctx context.Context, owner, name, bad, good string) (*BisectResult, error) {
	result := &BisectResult{}
	err := e.withClone(ctx, owner, name, func(work string) error {
		run := gitcmd.Options{Dir: work}
		out, err := e.git.Output(ctx, run, "bisect", "start", bad, good)
		if err != nil {
			return fmt.Errorf("bisect start: %w", err)
		}
		result.Output = out

		head, err := e.git.Output(ctx, run, "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		result.Midpoint = head
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
