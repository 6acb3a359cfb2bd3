// Package histops implements history-manipulating operations on managed
// repositories: cherry-pick, rebase, patches, blame, diff, reflog and
// bisect. Mutations never touch the bare repository directly; each one
// clones into a disposable working directory, mutates there, and pushes
// the result back.
package histops

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

type Engine struct {
	store  *storage.Manager
	git    *gitcmd.Runner
	logger *slog.Logger
}

func NewEngine(store *storage.Manager, git *gitcmd.Runner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, git: git, logger: logger}
}

// withClone clones owner/name into a scratch directory, runs fn inside
// it, and removes the directory on every exit path.
func (e *Engine) withClone(ctx context.Context, owner, name string, fn func(workDir string) error) error {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return storage.ErrNotFound
	}
	work, err := e.store.TemporaryWorkingDirectory("histops-")
	if err != nil {
		return err
	}
	defer e.store.Cleanup(work)

	if err := e.git.Run(ctx, gitcmd.Options{}, "clone", bare, work); err != nil {
		return fmt.Errorf("clone for history operation: %w", err)
	}
	return fn(work)
}

// identityEnv gives scratch clones a committer so commit-creating
// operations work on hosts without global git config.
func identityEnv(author string) []string {
	if author == "" {
		author = "gitforge"
	}
	email := author + "@gitforge.local"
	return []string{
		"GIT_AUTHOR_NAME=" + author,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + author,
		"GIT_COMMITTER_EMAIL=" + email,
	}
}

type CherryPickOptions struct {
	NoCommit bool
	Signoff  bool
	Author   string
}

type CherryPickResult struct {
	ResultCommit string
}

// CherryPick applies commitHash onto the repository's current HEAD
// branch. With NoCommit the change is staged but never committed, so
// nothing is pushed back and ResultCommit stays empty.
func (e *Engine) CherryPick(ctx context.Context, owner, name, commitHash string, opts CherryPickOptions) (*CherryPickResult, error) {
	result := &CherryPickResult{}
	err := e.withClone(ctx, owner, name, func(work string) error {
		args := []string{"cherry-pick"}
		if opts.NoCommit {
			args = append(args, "--no-commit")
		}
		if opts.Signoff {
			args = append(args, "--signoff")
		}
		args = append(args, commitHash)

		run := gitcmd.Options{Dir: work, Env: identityEnv(opts.Author)}
		if err := e.git.Run(ctx, run, args...); err != nil {
			return fmt.Errorf("cherry-pick %s: %w", commitHash, err)
		}
		if opts.NoCommit {
			return nil
		}
		head, err := e.git.Output(ctx, run, "rev-parse", "HEAD")
		if err != nil {
			return err
		}
		result.ResultCommit = head
		return e.git.Run(ctx, run, "push", "origin", "HEAD")
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

type RebaseOptions struct {
	Onto        string
	Interactive bool
	Signoff     bool
	Author      string
}

// Rebase replays target on top of base and force-updates the branch in
// the bare repository. Concurrent rebases of the same branch race at
// write-back time and the last one wins.
func (e *Engine) Rebase(ctx context.Context, owner, name, base, target string, opts RebaseOptions) error {
	bare := e.store.Locate(owner, name)
	return e.withClone(ctx, owner, name, func(work string) error {
		run := gitcmd.Options{Dir: work, Env: identityEnv(opts.Author)}
		if err := e.git.Run(ctx, run, "checkout", target); err != nil {
			return fmt.Errorf("checkout %s: %w", target, err)
		}

		args := []string{"rebase"}
		if opts.Signoff {
			args = append(args, "--signoff")
		}
		if opts.Interactive {
			// Accept the generated todo list as-is; there is no terminal
			// to edit it on the server side.
			args = append(args, "--interactive")
			run.Env = append(run.Env, "GIT_SEQUENCE_EDITOR=true")
		}
		if opts.Onto != "" {
			args = append(args, "--onto", opts.Onto)
		}
		args = append(args, base)

		if err := e.git.Run(ctx, run, args...); err != nil {
			return fmt.Errorf("rebase %s onto %s: %w", target, base, err)
		}
		// A push would hit the repo's denyNonFastForwards setting; pull
		// the rewritten branch in with a forced fetch instead.
		return e.git.Run(ctx, gitcmd.Options{Dir: bare}, "fetch", work,
			"+refs/heads/"+target+":refs/heads/"+target)
	})
}

// CreatePatch renders the given revision range (or a single commit when
// revRange has no "..") as a mailbox-format patch.
func (e *Engine) CreatePatch(ctx context.Context, owner, name, revRange string) (string, error) {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return "", storage.ErrNotFound
	}
	args := []string{"format-patch", "--stdout"}
	if strings.Contains(revRange, "..") {
		args = append(args, revRange)
	} else {
		args = append(args, "-1", revRange)
	}
	out, err := e.git.OutputBytes(ctx, gitcmd.Options{Dir: bare}, args...)
	if err != nil {
		return "", fmt.Errorf("format-patch %s: %w", revRange, err)
	}
	return string(out), nil
}

// ApplyPatch applies a mailbox-format patch on top of branch and pushes
// the resulting commits back.
func (e *Engine) ApplyPatch(ctx context.Context, owner, name, branch string, patch []byte, author string) error {
	return e.withClone(ctx, owner, name, func(work string) error {
		run := gitcmd.Options{Dir: work, Env: identityEnv(author)}
		if err := e.git.Run(ctx, run, "checkout", branch); err != nil {
			return fmt.Errorf("checkout %s: %w", branch, err)
		}
		run.Stdin = strings.NewReader(string(patch))
		if err := e.git.Run(ctx, run, "am"); err != nil {
			return fmt.Errorf("apply patch on %s: %w", branch, err)
		}
		run.Stdin = nil
		return e.git.Run(ctx, run, "push", "origin", branch)
	})
}
