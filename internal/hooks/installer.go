// Package hooks installs and runs the server-side hook chain. Every
// managed repo gets pre-receive, update and post-receive stubs that
// exec back into the gitforge binary; the policy and content checks
// themselves run in-process under the "hook" subcommand.
package hooks

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/odvcencio/gitforge/internal/config"
)

// Names of the hooks we manage, in execution order.
var managedHooks = []string{"pre-receive", "update", "post-receive"}

type Installer struct {
	selfPath string
}

// NewInstaller builds an installer whose stubs exec the given binary.
// An empty selfPath falls back to the running executable.
func NewInstaller(cfg config.HooksConfig) (*Installer, error) {
	self := cfg.SelfPath
	if self == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable for hook stubs: %w", err)
		}
		self = exe
	}
	return &Installer{selfPath: self}, nil
}

// Install writes the managed hook stubs into repoPath/hooks. Existing
// stubs are overwritten so upgrades repoint old repos at the new binary.
func (i *Installer) Install(repoPath string) error {
	dir := filepath.Join(repoPath, "hooks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create hooks dir: %w", err)
	}
	for _, name := range managedHooks {
		stub := fmt.Sprintf("#!/bin/sh\nexec %q hook %s \"$@\"\n", i.selfPath, name)
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(stub), 0o755); err != nil {
			return fmt.Errorf("write %s hook: %w", name, err)
		}
	}
	return nil
}
