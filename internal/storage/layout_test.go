package storage

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLocateIsPureAndStable(t *testing.T) {
	l := NewLayout("/srv/repos")
	first := l.Locate("alice", "demo")
	for i := 0; i < 10; i++ {
		if got := l.Locate("alice", "demo"); got != first {
			t.Fatalf("locate not stable: %q vs %q", got, first)
		}
	}
	if !strings.HasPrefix(first, "/srv/repos"+string(filepath.Separator)) {
		t.Fatalf("path %q not under base", first)
	}
	if !strings.HasSuffix(first, filepath.Join("alice", "demo.git")) {
		t.Fatalf("path %q missing owner/name.git suffix", first)
	}
}

func TestLocateShardsAreHexBytePairs(t *testing.T) {
	l := NewLayout("base")
	rel, err := filepath.Rel("base", l.Locate("alice", "demo"))
	if err != nil {
		t.Fatal(err)
	}
	parts := strings.Split(rel, string(filepath.Separator))
	if len(parts) != 4 {
		t.Fatalf("expected shard1/shard2/owner/name.git, got %q", rel)
	}
	for _, shard := range parts[:2] {
		if len(shard) != 2 {
			t.Fatalf("shard %q is not a hex byte pair", shard)
		}
		for _, c := range shard {
			if !strings.ContainsRune("0123456789abcdef", c) {
				t.Fatalf("shard %q contains non-hex %q", shard, c)
			}
		}
	}
}

func TestLocateDistinguishesOwnersAndNames(t *testing.T) {
	l := NewLayout("base")
	seen := map[string]string{}
	for _, pair := range [][2]string{
		{"alice", "demo"},
		{"alice", "demo2"},
		{"bob", "demo"},
		{"ali", "cedemo"},
	} {
		p := l.Locate(pair[0], pair[1])
		if prev, ok := seen[p]; ok {
			t.Fatalf("collision: %q and %s/%s both map to %q", prev, pair[0], pair[1], p)
		}
		seen[p] = pair[0] + "/" + pair[1]
	}
}
