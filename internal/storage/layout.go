// Package storage manages the on-disk home of every bare repository:
// the sharded directory layout, repository lifecycle (create, fork, rename,
// delete), maintenance (gc, health checks, backup/restore), and disposable
// working directories for operations that need a checkout.
package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"path/filepath"
)

var (
	ErrNotFound      = errors.New("repository not found")
	ErrAlreadyExists = errors.New("repository already exists")
)

// Layout maps (owner, name) to a bare repository path. The mapping is a pure
// function of the inputs: base/shard1/shard2/owner/name.git, where the shards
// are the first two hex byte-pairs of SHA-256("owner/name"). Sharding keeps
// any single directory from accumulating an unbounded number of entries.
type Layout struct {
	base string
}

func NewLayout(base string) Layout {
	return Layout{base: base}
}

func (l Layout) Base() string { return l.base }

// Locate returns the repository path for owner/name. Never touches disk.
func (l Layout) Locate(owner, name string) string {
	sum := sha256.Sum256([]byte(owner + "/" + name))
	h := hex.EncodeToString(sum[:2])
	return filepath.Join(l.base, h[:2], h[2:4], owner, name+".git")
}
