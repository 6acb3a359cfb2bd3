package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ArchiveStore is the off-box home for backup bundles. Implemented by the
// local filesystem and by S3-compatible object storage.
type ArchiveStore interface {
	// Put uploads the bundle at file under the given key.
	Put(ctx context.Context, key, file string) error

	// Get streams a stored bundle; the caller closes the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Has reports whether a bundle exists for the key.
	Has(ctx context.Context, key string) (bool, error)

	// Delete removes a stored bundle.
	Delete(ctx context.Context, key string) error
}

// ArchiveKey is the canonical object key for a repository's backup bundle.
func ArchiveKey(owner, name string) string {
	return fmt.Sprintf("bundles/%s/%s.bundle", owner, name)
}

// ArchiveBackup creates a bundle in a scratch directory, uploads it to the
// archive store, and removes the scratch copy.
func (m *Manager) ArchiveBackup(ctx context.Context, owner, name string, store ArchiveStore) error {
	dir, err := m.TemporaryWorkingDirectory("backup")
	if err != nil {
		return err
	}
	defer m.Cleanup(dir)

	file, err := m.CreateBackup(ctx, owner, name, dir)
	if err != nil {
		return err
	}
	return store.Put(ctx, ArchiveKey(owner, name), file)
}

// RestoreFromArchive downloads a repository's archived bundle and mirrors it
// into a fresh bare repository.
func (m *Manager) RestoreFromArchive(ctx context.Context, owner, name string, store ArchiveStore) (string, error) {
	dir, err := m.TemporaryWorkingDirectory("restore")
	if err != nil {
		return "", err
	}
	defer m.Cleanup(dir)

	rc, err := store.Get(ctx, ArchiveKey(owner, name))
	if err != nil {
		return "", fmt.Errorf("fetch archived bundle for %s/%s: %w", owner, name, err)
	}
	defer rc.Close()

	file := filepath.Join(dir, name+".bundle")
	f, err := os.Create(file)
	if err != nil {
		return "", ioErr("create", file, err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		return "", ioErr("write", file, err)
	}
	if err := f.Close(); err != nil {
		return "", ioErr("close", file, err)
	}
	return m.RestoreFromBackup(ctx, owner, name, file)
}

// LocalArchive keeps bundles in a directory tree. The zero-dependency
// default for single-host deployments.
type LocalArchive struct {
	root string
}

func NewLocalArchive(root string) (*LocalArchive, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, ioErr("mkdir", root, err)
	}
	return &LocalArchive{root: root}, nil
}

func (l *LocalArchive) path(key string) string {
	return filepath.Join(l.root, filepath.FromSlash(key))
}

func (l *LocalArchive) Put(_ context.Context, key, file string) error {
	dst := l.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return ioErr("mkdir", filepath.Dir(dst), err)
	}
	src, err := os.Open(file)
	if err != nil {
		return ioErr("open", file, err)
	}
	defer src.Close()
	out, err := os.Create(dst)
	if err != nil {
		return ioErr("create", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		return ioErr("write", dst, err)
	}
	return out.Close()
}

func (l *LocalArchive) Get(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(key))
	if err != nil {
		return nil, ioErr("open", l.path(key), err)
	}
	return f, nil
}

func (l *LocalArchive) Has(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(l.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

func (l *LocalArchive) Delete(_ context.Context, key string) error {
	err := os.Remove(l.path(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

var _ ArchiveStore = (*LocalArchive)(nil)
