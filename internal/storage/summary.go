package storage

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/gitforge/internal/gitcmd"
)

// CommitInfo is the tip commit of a repository's default branch.
type CommitInfo struct {
	Hash    string    `json:"hash"`
	Author  string    `json:"author"`
	Email   string    `json:"email"`
	Date    time.Time `json:"date"`
	Subject string    `json:"subject"`
}

// Summary is the snapshot every mutating operation hands back so an external
// metadata store can stay in sync. The engine never writes to that store.
type Summary struct {
	Path          string      `json:"path"`
	SizeBytes     int64       `json:"size_bytes"`
	DefaultBranch string      `json:"default_branch"`
	Branches      []string    `json:"branches"`
	Tags          []string    `json:"tags"`
	LastCommit    *CommitInfo `json:"last_commit,omitempty"`
}

// Summary collects path, size, ref lists and tip-commit info for owner/name.
func (m *Manager) Summary(ctx context.Context, owner, name string) (*Summary, error) {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("summary %s/%s: %w", owner, name, ErrNotFound)
	}

	size, err := m.DiskUsage(owner, name)
	if err != nil {
		return nil, err
	}
	s := &Summary{Path: path, SizeBytes: size}

	if out, err := m.git.Output(ctx, gitcmd.Options{Dir: path}, "symbolic-ref", "--short", "HEAD"); err == nil {
		s.DefaultBranch = out
	}
	s.Branches = refList(ctx, m.git, path, "refs/heads/")
	s.Tags = refList(ctx, m.git, path, "refs/tags/")

	// An empty repository has no commits yet; leave LastCommit nil.
	out, err := m.git.Output(ctx, gitcmd.Options{Dir: path},
		"log", "-1", "--format=%H%x00%an%x00%ae%x00%at%x00%s", "HEAD")
	if err == nil && out != "" {
		parts := strings.SplitN(out, "\x00", 5)
		if len(parts) == 5 {
			ts, _ := strconv.ParseInt(parts[3], 10, 64)
			s.LastCommit = &CommitInfo{
				Hash:    parts[0],
				Author:  parts[1],
				Email:   parts[2],
				Date:    time.Unix(ts, 0).UTC(),
				Subject: parts[4],
			}
		}
	}
	return s, nil
}

func refList(ctx context.Context, git *gitcmd.Runner, path, prefix string) []string {
	out, err := git.Output(ctx, gitcmd.Options{Dir: path},
		"for-each-ref", "--format=%(refname)", prefix)
	if err != nil || out == "" {
		return nil
	}
	var names []string
	for _, line := range strings.Split(out, "\n") {
		if name := strings.TrimPrefix(strings.TrimSpace(line), prefix); name != "" {
			names = append(names, name)
		}
	}
	return names
}
