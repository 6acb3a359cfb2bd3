package hooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/odvcencio/gitforge/internal/config"
	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/protocol"
)

func TestInstallerWritesExecutableStubs(t *testing.T) {
	repo := t.TempDir()
	inst, err := NewInstaller(config.HooksConfig{SelfPath: "/usr/local/bin/gitforge"})
	if err != nil {
		t.Fatalf("NewInstaller: %v", err)
	}
	if err := inst.Install(repo); err != nil {
		t.Fatalf("Install: %v", err)
	}

	for _, name := range []string{"pre-receive", "update", "post-receive"} {
		path := filepath.Join(repo, "hooks", name)
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat %s: %v", name, err)
		}
		if info.Mode()&0o111 == 0 {
			t.Fatalf("%s is not executable: %v", name, info.Mode())
		}
		body, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !strings.HasPrefix(string(body), "#!/bin/sh\n") {
			t.Fatalf("%s missing shebang: %q", name, body)
		}
		if !strings.Contains(string(body), `"/usr/local/bin/gitforge" hook `+name) {
			t.Fatalf("%s does not exec gitforge: %q", name, body)
		}
	}
}

func TestInstallerOverwritesExistingStub(t *testing.T) {
	repo := t.TempDir()
	hookDir := filepath.Join(repo, "hooks")
	if err := os.MkdirAll(hookDir, 0o755); err != nil {
		t.Fatal(err)
	}
	stale := filepath.Join(hookDir, "pre-receive")
	if err := os.WriteFile(stale, []byte("#!/bin/sh\nexec /old/binary hook pre-receive\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	inst, err := NewInstaller(config.HooksConfig{SelfPath: "/new/gitforge"})
	if err != nil {
		t.Fatal(err)
	}
	if err := inst.Install(repo); err != nil {
		t.Fatal(err)
	}
	body, err := os.ReadFile(stale)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(body), "/old/binary") {
		t.Fatalf("stale stub survived install: %q", body)
	}
}

func testUpdates() []protocol.RefUpdate {
	return []protocol.RefUpdate{{
		OldHash: protocol.ZeroHash,
		NewHash: "1111111111111111111111111111111111111111",
		RefName: "refs/heads/main",
	}}
}

func TestPolicyCheckAllowed(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{"status":"allowed","message":""}`))
	}))
	defer srv.Close()

	p := NewPolicyClient(srv.URL, time.Second)
	err := p.Check(context.Background(), "alice", "demo", "bob", testUpdates())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	for _, want := range []string{`"repository":"alice/demo"`, `"user":"bob"`, `"ref":"refs/heads/main"`, `"refType":"branch"`} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("policy request body %q missing %s", gotBody, want)
		}
	}
}

func TestPolicyCheckRejectedCarriesMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"denied","message":"main is frozen"}`))
	}))
	defer srv.Close()

	p := NewPolicyClient(srv.URL, time.Second)
	err := p.Check(context.Background(), "alice", "demo", "bob", testUpdates())
	var rejected *PolicyRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want PolicyRejectedError", err)
	}
	if rejected.Message != "main is frozen" {
		t.Fatalf("Message = %q, want policy message", rejected.Message)
	}
}

func TestPolicyCheckAllowedSubstringInNonJSONBody(t *testing.T) {
	// The decision is a raw substring check, so a plain-text "allowed"
	// response counts even when it is not the documented JSON shape.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("push allowed, carry on"))
	}))
	defer srv.Close()

	p := NewPolicyClient(srv.URL, time.Second)
	if err := p.Check(context.Background(), "alice", "demo", "bob", testUpdates()); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestPolicyCheckEmptyURLIsNoop(t *testing.T) {
	p := NewPolicyClient("", time.Second)
	if err := p.Check(context.Background(), "alice", "demo", "bob", testUpdates()); err != nil {
		t.Fatalf("Check with no policy URL: %v", err)
	}
}

func TestUpdateHookConsultsPolicyPerRef(t *testing.T) {
	var calls int
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		buf := make([]byte, 4096)
		n, _ := r.Body.Read(buf)
		gotBody = string(buf[:n])
		w.Write([]byte(`{"status":"allowed","message":""}`))
	}))
	defer srv.Close()

	t.Setenv(EnvRepoOwner, "alice")
	t.Setenv(EnvRepoName, "demo")
	t.Setenv(EnvPusher, "bob")

	cfg := config.Default()
	cfg.Hooks.PolicyURL = srv.URL
	r := NewRunner(gitcmd.NewRunner(), cfg, nil)

	// A deletion carries no new commits, so only the policy call runs.
	args := []string{"refs/heads/stale", "1111111111111111111111111111111111111111", protocol.ZeroHash}
	if err := r.Run(context.Background(), "update", args, strings.NewReader(""), io.Discard); err != nil {
		t.Fatalf("update hook: %v", err)
	}
	if calls != 1 {
		t.Fatalf("policy calls during update hook = %d, want 1", calls)
	}
	for _, want := range []string{`"repository":"alice/demo"`, `"ref":"refs/heads/stale"`, `"user":"bob"`, `"newrev":"` + protocol.ZeroHash + `"`} {
		if !strings.Contains(gotBody, want) {
			t.Fatalf("policy request body %q missing %s", gotBody, want)
		}
	}
}

func TestUpdateHookRejectedByPolicy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"denied","message":"deletions are frozen"}`))
	}))
	defer srv.Close()

	t.Setenv(EnvRepoOwner, "alice")
	t.Setenv(EnvRepoName, "demo")
	t.Setenv(EnvPusher, "bob")

	cfg := config.Default()
	cfg.Hooks.PolicyURL = srv.URL
	r := NewRunner(gitcmd.NewRunner(), cfg, nil)

	var stderr strings.Builder
	args := []string{"refs/heads/stale", "1111111111111111111111111111111111111111", protocol.ZeroHash}
	err := r.Run(context.Background(), "update", args, strings.NewReader(""), &stderr)
	var rejected *PolicyRejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("err = %v, want PolicyRejectedError", err)
	}
	if !strings.Contains(stderr.String(), "deletions are frozen") {
		t.Fatalf("stderr %q does not carry the policy message", stderr.String())
	}
}

func TestParseUpdateLines(t *testing.T) {
	in := strings.NewReader(
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb refs/heads/main\n" +
			"\n" +
			protocol.ZeroHash + " cccccccccccccccccccccccccccccccccccccccc refs/tags/v1.0\n")
	updates, err := parseUpdateLines(in)
	if err != nil {
		t.Fatalf("parseUpdateLines: %v", err)
	}
	if len(updates) != 2 {
		t.Fatalf("len(updates) = %d, want 2", len(updates))
	}
	if updates[0].RefName != "refs/heads/main" {
		t.Fatalf("updates[0].RefName = %q", updates[0].RefName)
	}
	if !updates[1].IsCreate() {
		t.Fatal("tag creation not detected as create")
	}

	if _, err := parseUpdateLines(strings.NewReader("hash-and-ref-only refs/heads/main\n")); err == nil {
		t.Fatal("malformed line accepted")
	}
}
