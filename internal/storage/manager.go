package storage

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/odvcencio/gitforge/internal/gitcmd"
)

// IOError is a filesystem failure underneath a storage operation.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string { return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err) }
func (e *IOError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	return &IOError{Op: op, Path: path, Err: err}
}

// HookInstaller writes the server-side hook scripts into a bare repository.
// Implemented by the hooks package; injected so storage stays a leaf.
type HookInstaller interface {
	Install(repoPath string) error
}

// Manager owns repository lifecycle on top of a Layout. One instance is
// constructed at process start and shared by reference; all state lives on
// the filesystem.
type Manager struct {
	layout  Layout
	git     *gitcmd.Runner
	hooks   HookInstaller
	tmpRoot string
	logger  *slog.Logger
}

func NewManager(layout Layout, git *gitcmd.Runner, hooks HookInstaller, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		layout:  layout,
		git:     git,
		hooks:   hooks,
		tmpRoot: os.TempDir(),
		logger:  logger,
	}
}

func (m *Manager) Layout() Layout { return m.layout }

// SetTempRoot overrides where disposable working directories are created.
// Defaults to os.TempDir.
func (m *Manager) SetTempRoot(dir string) { m.tmpRoot = dir }

// Locate is the pure path mapping; see Layout.Locate.
func (m *Manager) Locate(owner, name string) string {
	return m.layout.Locate(owner, name)
}

// Exists reports whether a bare repository is present on disk.
func (m *Manager) Exists(owner, name string) bool {
	_, err := os.Stat(m.layout.Locate(owner, name))
	return err == nil
}

// Create initializes a bare repository with server defaults: non-fast-forward
// pushes denied, incoming objects fsck'd, hooks installed.
func (m *Manager) Create(ctx context.Context, owner, name, description string) (string, error) {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("create %s/%s: %w", owner, name, ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", ioErr("mkdir", filepath.Dir(path), err)
	}
	if err := m.git.Run(ctx, gitcmd.Options{}, "init", "--bare", path); err != nil {
		return "", err
	}
	if err := m.writeServerDefaults(ctx, path, description); err != nil {
		os.RemoveAll(path)
		return "", err
	}
	m.logger.Info("repository created", "owner", owner, "name", name, "path", path)
	return path, nil
}

func (m *Manager) writeServerDefaults(ctx context.Context, path, description string) error {
	for _, kv := range [][2]string{
		{"receive.denyNonFastForwards", "true"},
		{"receive.denyDeleteCurrent", "ignore"},
		{"transfer.fsckObjects", "true"},
	} {
		if err := m.git.Run(ctx, gitcmd.Options{Dir: path}, "config", kv[0], kv[1]); err != nil {
			return err
		}
	}
	if description != "" {
		if err := os.WriteFile(filepath.Join(path, "description"), []byte(description+"\n"), 0o644); err != nil {
			return ioErr("write", filepath.Join(path, "description"), err)
		}
	}
	if m.hooks != nil {
		if err := m.hooks.Install(path); err != nil {
			return fmt.Errorf("install hooks: %w", err)
		}
	}
	return nil
}

// Fork clones source as a bare repository sharing its object store. The
// local clone already shares objects on same-filesystem setups; the explicit
// alternates entry guarantees sharing regardless of how the clone was made.
// A fresh fork therefore owns no object data of its own.
func (m *Manager) Fork(ctx context.Context, srcOwner, srcName, dstOwner, dstName string) (string, error) {
	src := m.layout.Locate(srcOwner, srcName)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("fork source %s/%s: %w", srcOwner, srcName, ErrNotFound)
	}
	dst := m.layout.Locate(dstOwner, dstName)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("fork target %s/%s: %w", dstOwner, dstName, ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", ioErr("mkdir", filepath.Dir(dst), err)
	}
	if err := m.git.Run(ctx, gitcmd.Options{}, "clone", "--bare", "--local", "--shared", src, dst); err != nil {
		return "", err
	}
	if err := m.writeAlternates(dst, src); err != nil {
		os.RemoveAll(dst)
		return "", err
	}
	if err := m.writeServerDefaults(ctx, dst, ""); err != nil {
		os.RemoveAll(dst)
		return "", err
	}
	m.logger.Info("repository forked", "source", src, "target", dst)
	return dst, nil
}

func (m *Manager) writeAlternates(dst, src string) error {
	srcObjects := filepath.Join(src, "objects")
	dstObjects := filepath.Join(dst, "objects")
	rel, err := filepath.Rel(dstObjects, srcObjects)
	if err != nil {
		rel = srcObjects
	}
	infoDir := filepath.Join(dstObjects, "info")
	if err := os.MkdirAll(infoDir, 0o755); err != nil {
		return ioErr("mkdir", infoDir, err)
	}
	path := filepath.Join(infoDir, "alternates")
	if err := os.WriteFile(path, []byte(rel+"\n"), 0o644); err != nil {
		return ioErr("write", path, err)
	}
	return nil
}

// AlternatesTarget returns the objects directory a repository borrows from,
// or "" when it is self-contained.
func (m *Manager) AlternatesTarget(owner, name string) string {
	path := filepath.Join(m.layout.Locate(owner, name), "objects", "info", "alternates")
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// Relink points a fork's alternates entry at the source's current
// location. Needed after a source rename, because the sharded path is a
// function of the name and the old entry dangles.
func (m *Manager) Relink(forkOwner, forkName, srcOwner, srcName string) error {
	fork := m.layout.Locate(forkOwner, forkName)
	if _, err := os.Stat(fork); err != nil {
		return fmt.Errorf("relink %s/%s: %w", forkOwner, forkName, ErrNotFound)
	}
	return m.writeAlternates(fork, m.layout.Locate(srcOwner, srcName))
}

// Dissolve makes a fork self-contained: every borrowed object is repacked
// into the fork's own store and the alternates entry is removed. Called for
// each fork before its source repository is deleted.
func (m *Manager) Dissolve(ctx context.Context, owner, name string) error {
	path := m.layout.Locate(owner, name)
	alt := filepath.Join(path, "objects", "info", "alternates")
	if _, err := os.Stat(alt); err != nil {
		return nil // already self-contained
	}
	if err := m.git.Run(ctx, gitcmd.Options{Dir: path}, "repack", "-a", "-d"); err != nil {
		return err
	}
	if err := os.Remove(alt); err != nil && !os.IsNotExist(err) {
		return ioErr("remove", alt, err)
	}
	m.logger.Info("fork dissolved", "owner", owner, "name", name)
	return nil
}

// Rename moves a repository to a new name. The sharded path is a function of
// the name, so the destination usually lands under different shards.
func (m *Manager) Rename(owner, oldName, newName string) (string, error) {
	src := m.layout.Locate(owner, oldName)
	if _, err := os.Stat(src); err != nil {
		return "", fmt.Errorf("rename %s/%s: %w", owner, oldName, ErrNotFound)
	}
	dst := m.layout.Locate(owner, newName)
	if _, err := os.Stat(dst); err == nil {
		return "", fmt.Errorf("rename to %s/%s: %w", owner, newName, ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", ioErr("mkdir", filepath.Dir(dst), err)
	}
	if err := os.Rename(src, dst); err != nil {
		return "", ioErr("rename", src, err)
	}
	return dst, nil
}

// Delete removes the repository tree. Irreversible. Callers are responsible
// for dissolving any forks that borrow this repository's objects first.
func (m *Manager) Delete(owner, name string) error {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("delete %s/%s: %w", owner, name, ErrNotFound)
	}
	if err := os.RemoveAll(path); err != nil {
		return ioErr("remove", path, err)
	}
	m.logger.Info("repository deleted", "owner", owner, "name", name)
	return nil
}

// GarbageCollect compacts the repository. Aggressive mode trades CPU for a
// smaller result; keep it off the request path.
func (m *Manager) GarbageCollect(ctx context.Context, owner, name string, aggressive bool) error {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("gc %s/%s: %w", owner, name, ErrNotFound)
	}
	args := []string{"gc"}
	if aggressive {
		args = append(args, "--aggressive")
	}
	return m.git.Run(ctx, gitcmd.Options{Dir: path}, args...)
}

// Health is the result of a repository integrity check.
type Health struct {
	Healthy bool     `json:"healthy"`
	Issues  []string `json:"issues,omitempty"`
}

// CheckHealth verifies the bare-repository skeleton and runs an object
// integrity scan. Read-only.
func (m *Manager) CheckHealth(ctx context.Context, owner, name string) (*Health, error) {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("health %s/%s: %w", owner, name, ErrNotFound)
	}

	h := &Health{Healthy: true}
	for _, entry := range []string{"HEAD", "config", "objects", "refs"} {
		if _, err := os.Stat(filepath.Join(path, entry)); err != nil {
			h.Healthy = false
			h.Issues = append(h.Issues, fmt.Sprintf("missing %s", entry))
		}
	}
	if err := m.git.Run(ctx, gitcmd.Options{Dir: path}, "fsck", "--no-progress", "--connectivity-only"); err != nil {
		h.Healthy = false
		if cerr, ok := err.(*gitcmd.CommandError); ok && cerr.Stderr != "" {
			h.Issues = append(h.Issues, "fsck: "+cerr.Stderr)
		} else {
			h.Issues = append(h.Issues, "fsck failed: "+err.Error())
		}
	}
	return h, nil
}

// CreateBackup writes a single-file bundle holding all refs and reachable
// objects into dir, returning the bundle path.
func (m *Manager) CreateBackup(ctx context.Context, owner, name, dir string) (string, error) {
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("backup %s/%s: %w", owner, name, ErrNotFound)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", ioErr("mkdir", dir, err)
	}
	file := filepath.Join(dir, fmt.Sprintf("%s-%s.bundle", owner, name))
	if err := m.git.Run(ctx, gitcmd.Options{Dir: path}, "bundle", "create", file, "--all"); err != nil {
		return "", err
	}
	return file, nil
}

// RestoreFromBackup mirrors a bundle into a freshly created bare repository
// at the canonical location for owner/name.
func (m *Manager) RestoreFromBackup(ctx context.Context, owner, name, file string) (string, error) {
	if _, err := os.Stat(file); err != nil {
		return "", ioErr("stat", file, err)
	}
	path := m.layout.Locate(owner, name)
	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("restore %s/%s: %w", owner, name, ErrAlreadyExists)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", ioErr("mkdir", filepath.Dir(path), err)
	}
	if err := m.git.Run(ctx, gitcmd.Options{}, "clone", "--mirror", file, path); err != nil {
		return "", err
	}
	// Mirror clones of bundles keep the bundle as origin; drop it so the
	// restored repository is indistinguishable from a created one.
	_ = m.git.Run(ctx, gitcmd.Options{Dir: path}, "remote", "remove", "origin")
	if err := m.writeServerDefaults(ctx, path, ""); err != nil {
		os.RemoveAll(path)
		return "", err
	}
	m.logger.Info("repository restored", "owner", owner, "name", name, "bundle", file)
	return path, nil
}

// TemporaryWorkingDirectory reserves a disposable directory for operations
// that need a working tree. Release with Cleanup.
func (m *Manager) TemporaryWorkingDirectory(prefix string) (string, error) {
	path := filepath.Join(m.tmpRoot, fmt.Sprintf("%s-%s", prefix, uuid.NewString()))
	if err := os.MkdirAll(path, 0o700); err != nil {
		return "", ioErr("mkdir", path, err)
	}
	return path, nil
}

// Cleanup removes a temporary directory. Best effort: failures are logged,
// never fatal.
func (m *Manager) Cleanup(path string) {
	if err := os.RemoveAll(path); err != nil {
		m.logger.Warn("cleanup of temporary directory failed", "path", path, "error", err)
	}
}

// DiskUsage reports the byte size of the repository tree.
func (m *Manager) DiskUsage(owner, name string) (int64, error) {
	path := m.layout.Locate(owner, name)
	var total int64
	err := filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, ioErr("walk", path, err)
	}
	return total, nil
}
