package hooks

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/protocol"
)

// ContentRejectedError reports a push turned away by a local content
// check on the incoming commits.
type ContentRejectedError struct {
	RefName string
	Reason  string
}

func (e *ContentRejectedError) Error() string {
	return fmt.Sprintf("%s: %s", e.RefName, e.Reason)
}

// ContentChecker runs policy checks that need only the quarantined
// objects already on disk: commit message hygiene and denied filenames.
type ContentChecker struct {
	git                *gitcmd.Runner
	minCommitMsgLength int
	deniedPatterns     []string
}

func NewContentChecker(git *gitcmd.Runner, minCommitMsgLength int, deniedPatterns []string) *ContentChecker {
	return &ContentChecker{
		git:                git,
		minCommitMsgLength: minCommitMsgLength,
		deniedPatterns:     deniedPatterns,
	}
}

// CheckUpdate validates every commit a single ref update introduces.
// Deletions carry no new commits and always pass.
func (c *ContentChecker) CheckUpdate(ctx context.Context, repoDir string, u protocol.RefUpdate) error {
	if u.IsDelete() {
		return nil
	}
	commits, err := c.newCommits(ctx, repoDir, u)
	if err != nil {
		return err
	}
	for _, hash := range commits {
		if err := c.checkMessage(ctx, repoDir, u.RefName, hash); err != nil {
			return err
		}
		if err := c.checkFilenames(ctx, repoDir, u.RefName, hash); err != nil {
			return err
		}
	}
	return nil
}

// newCommits lists commits reachable from the new tip but from no
// existing ref, so only what this push actually introduces is checked.
func (c *ContentChecker) newCommits(ctx context.Context, repoDir string, u protocol.RefUpdate) ([]string, error) {
	args := []string{"rev-list", u.NewHash, "--not", "--all"}
	out, err := c.git.Output(ctx, gitcmd.Options{Dir: repoDir}, args...)
	if err != nil {
		return nil, fmt.Errorf("list new commits for %s: %w", u.RefName, err)
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

func (c *ContentChecker) checkMessage(ctx context.Context, repoDir, refName, hash string) error {
	if c.minCommitMsgLength <= 0 {
		return nil
	}
	subject, err := c.git.Output(ctx, gitcmd.Options{Dir: repoDir}, "log", "-1", "--format=%s", hash)
	if err != nil {
		return fmt.Errorf("read commit message of %s: %w", hash, err)
	}
	if len(strings.TrimSpace(subject)) < c.minCommitMsgLength {
		return &ContentRejectedError{
			RefName: refName,
			Reason:  fmt.Sprintf("commit %s message is shorter than %d characters", shortHash(hash), c.minCommitMsgLength),
		}
	}
	return nil
}

func (c *ContentChecker) checkFilenames(ctx context.Context, repoDir, refName, hash string) error {
	if len(c.deniedPatterns) == 0 {
		return nil
	}
	out, err := c.git.Output(ctx, gitcmd.Options{Dir: repoDir},
		"diff-tree", "--no-commit-id", "--name-only", "-r", "--root", hash)
	if err != nil {
		return fmt.Errorf("list files of %s: %w", hash, err)
	}
	for _, file := range strings.Split(out, "\n") {
		if file == "" {
			continue
		}
		for _, pattern := range c.deniedPatterns {
			matched, err := path.Match(pattern, path.Base(file))
			if err != nil {
				return fmt.Errorf("bad denied-file pattern %q: %w", pattern, err)
			}
			if matched {
				return &ContentRejectedError{
					RefName: refName,
					Reason:  fmt.Sprintf("commit %s adds %s, which matches denied pattern %q", shortHash(hash), file, pattern),
				}
			}
		}
	}
	return nil
}

func shortHash(hash string) string {
	if len(hash) > 12 {
		return hash[:12]
	}
	return hash
}
