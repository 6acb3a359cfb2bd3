package protocol

import (
	"bytes"
	"strings"
	"testing"
)

const (
	hashA = "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	hashB = "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func pkt(t *testing.T, s string) []byte {
	t.Helper()
	b, err := EncodeString(s)
	if err != nil {
		t.Fatalf("encode %q: %v", s, err)
	}
	return b
}

func TestParseUploadPackRequest(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pkt(t, "want "+hashA+"\x00side-band-64k ofs-delta\n"))
	buf.Write(pkt(t, "want "+hashB+"\n"))
	buf.Write(FlushPacket())
	buf.Write(pkt(t, "have "+hashB+"\n"))
	buf.Write(pkt(t, "done\n"))

	req, err := ParseUploadPackRequest(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(req.Wants) != 2 || req.Wants[0] != hashA || req.Wants[1] != hashB {
		t.Fatalf("wants = %q", req.Wants)
	}
	if len(req.Haves) != 1 || req.Haves[0] != hashB {
		t.Fatalf("haves = %q", req.Haves)
	}
	if len(req.Capabilities) != 2 || req.Capabilities[0] != "side-band-64k" {
		t.Fatalf("caps = %q", req.Capabilities)
	}
}

func TestParseUploadPackRequestRequiresWants(t *testing.T) {
	if _, err := ParseUploadPackRequest(FlushPacket()); err == nil {
		t.Fatal("expected error for empty want list")
	}
}

func TestParseReceivePackRequest(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pkt(t, ZeroHash+" "+hashA+" refs/heads/feature\x00report-status\n"))
	buf.Write(pkt(t, hashA+" "+ZeroHash+" refs/heads/stale\n"))
	buf.Write(FlushPacket())
	buf.WriteString("PACKfakebytes")

	req, err := ParseReceivePackRequest(buf.Bytes())
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(req.Updates) != 2 {
		t.Fatalf("updates = %d, want 2", len(req.Updates))
	}
	create, del := req.Updates[0], req.Updates[1]
	if !create.IsCreate() || create.RefName != "refs/heads/feature" || create.NewHash != hashA {
		t.Fatalf("unexpected create update: %+v", create)
	}
	if !del.IsDelete() || del.RefName != "refs/heads/stale" {
		t.Fatalf("unexpected delete update: %+v", del)
	}
	if len(req.Capabilities) != 1 || req.Capabilities[0] != "report-status" {
		t.Fatalf("caps = %q", req.Capabilities)
	}
	if string(req.Packfile) != "PACKfakebytes" {
		t.Fatalf("packfile = %q", req.Packfile)
	}
}

func TestParseReceivePackRequestRejectsBadHash(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(pkt(t, "nothash "+hashA+" refs/heads/main\n"))
	buf.Write(FlushPacket())
	if _, err := ParseReceivePackRequest(buf.Bytes()); err == nil || !strings.Contains(err.Error(), "invalid object id") {
		t.Fatalf("expected invalid object id error, got %v", err)
	}
}
