package storage

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/odvcencio/gitforge/internal/gitcmd"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
	return NewManager(NewLayout(t.TempDir()), gitcmd.NewRunner(), nil, nil)
}

// seedCommit creates a commit in the bare repo at path via a scratch clone.
func seedCommit(t *testing.T, path, filename, content string) {
	t.Helper()
	ctx := context.Background()
	git := gitcmd.NewRunner()
	work := t.TempDir()
	if err := git.Run(ctx, gitcmd.Options{}, "clone", path, work); err != nil {
		t.Fatalf("clone: %v", err)
	}
	if err := os.WriteFile(filepath.Join(work, filename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	env := []string{
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com",
	}
	for _, args := range [][]string{
		{"add", filename},
		{"commit", "-m", "add " + filename},
		{"push", "origin", "HEAD"},
	} {
		if err := git.Run(ctx, gitcmd.Options{Dir: work, Env: env}, args...); err != nil {
			t.Fatalf("git %v: %v", args, err)
		}
	}
}

func TestCreateInitializesBareRepoWithDefaults(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "alice", "demo", "a demo repo")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, entry := range []string{"HEAD", "config", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(path, entry)); err != nil {
			t.Fatalf("missing %s after create: %v", entry, err)
		}
	}
	desc, err := os.ReadFile(filepath.Join(path, "description"))
	if err != nil || strings.TrimSpace(string(desc)) != "a demo repo" {
		t.Fatalf("description = %q, err %v", desc, err)
	}
	cfg, err := os.ReadFile(filepath.Join(path, "config"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(strings.ToLower(string(cfg)), "denynonfastforwards = true") {
		t.Fatalf("config missing denyNonFastForwards: %s", cfg)
	}

	if _, err := m.Create(ctx, "alice", "demo", ""); !isAlreadyExists(err) {
		t.Fatalf("second create: expected ErrAlreadyExists, got %v", err)
	}
}

func TestForkSharesObjectsThroughAlternates(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src, err := m.Create(ctx, "alice", "demo", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	seedCommit(t, src, "a.txt", "one\n")
	seedCommit(t, src, "b.txt", "two\n")

	dst, err := m.Fork(ctx, "alice", "demo", "bob", "demo")
	if err != nil {
		t.Fatalf("fork: %v", err)
	}

	alt := m.AlternatesTarget("bob", "demo")
	if alt == "" {
		t.Fatal("fork has no alternates entry")
	}
	resolved := filepath.Join(dst, "objects", alt)
	if abs, _ := filepath.Abs(resolved); abs != mustAbs(t, filepath.Join(src, "objects")) {
		t.Fatalf("alternates %q does not resolve to source objects dir", alt)
	}

	// A fresh fork owns no loose objects or packs of its own.
	var owned []string
	filepath.Walk(filepath.Join(dst, "objects"), func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		if filepath.Base(filepath.Dir(p)) == "info" {
			return nil
		}
		owned = append(owned, p)
		return nil
	})
	if len(owned) != 0 {
		t.Fatalf("fresh fork owns object files: %v", owned)
	}

	// The fork's history must still be fully readable through the alternates.
	git := gitcmd.NewRunner()
	out, err := git.Output(ctx, gitcmd.Options{Dir: dst}, "rev-list", "--count", "HEAD")
	if err != nil {
		t.Fatalf("rev-list in fork: %v", err)
	}
	if out != "2" {
		t.Fatalf("fork sees %s commits, want 2", out)
	}
}

func TestDissolveMakesForkSelfContained(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src, err := m.Create(ctx, "alice", "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	seedCommit(t, src, "a.txt", "one\n")
	if _, err := m.Fork(ctx, "alice", "demo", "bob", "demo"); err != nil {
		t.Fatal(err)
	}

	if err := m.Dissolve(ctx, "bob", "demo"); err != nil {
		t.Fatalf("dissolve: %v", err)
	}
	if alt := m.AlternatesTarget("bob", "demo"); alt != "" {
		t.Fatalf("alternates still present after dissolve: %q", alt)
	}
	if err := m.Delete("alice", "demo"); err != nil {
		t.Fatalf("delete source: %v", err)
	}

	git := gitcmd.NewRunner()
	out, err := git.Output(ctx, gitcmd.Options{Dir: m.Locate("bob", "demo")}, "rev-list", "--count", "HEAD")
	if err != nil || out != "1" {
		t.Fatalf("dissolved fork unreadable after source delete: %q, %v", out, err)
	}
}

func TestRenameMovesRepository(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	if _, err := m.Create(ctx, "alice", "old", ""); err != nil {
		t.Fatal(err)
	}
	dst, err := m.Rename("alice", "old", "new")
	if err != nil {
		t.Fatalf("rename: %v", err)
	}
	if dst != m.Locate("alice", "new") {
		t.Fatalf("rename returned %q, want %q", dst, m.Locate("alice", "new"))
	}
	if m.Exists("alice", "old") {
		t.Fatal("source still exists after rename")
	}
	if _, err := m.Rename("alice", "missing", "other"); !isNotFound(err) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestBackupRestoreRoundTrip(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	src, err := m.Create(ctx, "alice", "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	seedCommit(t, src, "a.txt", "one\n")

	git := gitcmd.NewRunner()
	wantRefs, err := git.Output(ctx, gitcmd.Options{Dir: src}, "show-ref")
	if err != nil {
		t.Fatal(err)
	}

	file, err := m.CreateBackup(ctx, "alice", "demo", t.TempDir())
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	restored, err := m.RestoreFromBackup(ctx, "alice", "copy", file)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	gotRefs, err := git.Output(ctx, gitcmd.Options{Dir: restored}, "show-ref")
	if err != nil {
		t.Fatal(err)
	}
	if gotRefs != wantRefs {
		t.Fatalf("refs differ after restore:\nwant %q\ngot  %q", wantRefs, gotRefs)
	}
}

func TestCheckHealthFlagsMissingSkeleton(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	path, err := m.Create(ctx, "alice", "demo", "")
	if err != nil {
		t.Fatal(err)
	}
	h, err := m.CheckHealth(ctx, "alice", "demo")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if !h.Healthy || len(h.Issues) != 0 {
		t.Fatalf("fresh repo unhealthy: %+v", h)
	}

	if err := os.Remove(filepath.Join(path, "HEAD")); err != nil {
		t.Fatal(err)
	}
	h, err = m.CheckHealth(ctx, "alice", "demo")
	if err != nil {
		t.Fatal(err)
	}
	if h.Healthy {
		t.Fatal("repo without HEAD reported healthy")
	}
}

func TestLocalArchivePutGetDelete(t *testing.T) {
	arch, err := NewLocalArchive(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(t.TempDir(), "x.bundle")
	if err := os.WriteFile(src, []byte("bundle-bytes"), 0o644); err != nil {
		t.Fatal(err)
	}
	key := ArchiveKey("alice", "demo")
	ctx := context.Background()

	if err := arch.Put(ctx, key, src); err != nil {
		t.Fatalf("put: %v", err)
	}
	ok, err := arch.Has(ctx, key)
	if err != nil || !ok {
		t.Fatalf("has = %v, %v", ok, err)
	}
	rc, err := arch.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data := make([]byte, 32)
	n, _ := rc.Read(data)
	rc.Close()
	if string(data[:n]) != "bundle-bytes" {
		t.Fatalf("got %q", data[:n])
	}
	if err := arch.Delete(ctx, key); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if ok, _ := arch.Has(ctx, key); ok {
		t.Fatal("key still present after delete")
	}
}

func isNotFound(err error) bool      { return errors.Is(err, ErrNotFound) }
func isAlreadyExists(err error) bool { return errors.Is(err, ErrAlreadyExists) }

func mustAbs(t *testing.T, p string) string {
	t.Helper()
	abs, err := filepath.Abs(p)
	if err != nil {
		t.Fatal(err)
	}
	return abs
}
