package protocol

import (
	"bytes"
	"strconv"
	"strings"
	"testing"
)

func TestEncodePacketLineRoundTrip(t *testing.T) {
	payloads := []string{
		"",
		"a",
		"# service=git-upload-pack\n",
		strings.Repeat("x", MaxPayload),
	}
	for _, p := range payloads {
		enc, err := EncodePacketLine([]byte(p))
		if err != nil {
			t.Fatalf("encode %d bytes: %v", len(p), err)
		}
		got := DecodePacketLines(enc)
		if len(got) != 1 {
			t.Fatalf("decoded %d lines, want 1", len(got))
		}
		if got[0] != p {
			t.Fatalf("round trip mismatch for %d-byte payload", len(p))
		}
	}
}

func TestEncodePacketLineRejectsOversize(t *testing.T) {
	if _, err := EncodePacketLine(make([]byte, MaxPayload+1)); err != ErrPayloadTooLarge {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestDecodeSkipsFlushAndToleratesTruncation(t *testing.T) {
	a, _ := EncodeString("first\n")
	b, _ := EncodeString("second\n")
	var buf bytes.Buffer
	buf.Write(a)
	buf.Write(FlushPacket())
	buf.Write(b)
	buf.WriteString("00ff") // truncated: claims 255 bytes, stream ends

	lines := DecodePacketLines(buf.Bytes())
	if len(lines) != 2 {
		t.Fatalf("decoded %d lines, want 2: %q", len(lines), lines)
	}
	if lines[0] != "first\n" || lines[1] != "second\n" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestDecodeStopsOnMalformedLength(t *testing.T) {
	a, _ := EncodeString("ok\n")
	data := append(a, []byte("zzzzjunk")...)
	lines := DecodePacketLines(data)
	if len(lines) != 1 || lines[0] != "ok\n" {
		t.Fatalf("unexpected lines: %q", lines)
	}
}

func TestEncodeSidebandPackfile(t *testing.T) {
	pack := bytes.Repeat([]byte{0xab}, sidebandMaxChunk+100)
	out := EncodeSidebandPackfile(pack)

	// Two frames expected: one full chunk, one 100-byte tail, then flush.
	if string(out[len(out)-4:]) != "0000" {
		t.Fatalf("missing trailing flush")
	}
	var got []byte
	rest := out[:len(out)-4]
	frames := 0
	for len(rest) > 0 {
		n, err := strconv.ParseInt(string(rest[:4]), 16, 32)
		if err != nil {
			t.Fatalf("bad frame header: %v", err)
		}
		l := int(n)
		frame := rest[4:l]
		if frame[0] != BandPack {
			t.Fatalf("frame %d has band %d, want %d", frames, frame[0], BandPack)
		}
		got = append(got, frame[1:]...)
		rest = rest[l:]
		frames++
	}
	if frames != 2 {
		t.Fatalf("got %d frames, want 2", frames)
	}
	if !bytes.Equal(got, pack) {
		t.Fatalf("reassembled pack differs from input")
	}
}

func TestCapabilitySplitJoin(t *testing.T) {
	line := JoinCapabilities("abc refs/heads/main", []string{"report-status", "side-band-64k"})
	payload, caps := SplitCapabilities(line)
	if payload != "abc refs/heads/main" {
		t.Fatalf("payload = %q", payload)
	}
	if len(caps) != 2 || caps[0] != "report-status" || caps[1] != "side-band-64k" {
		t.Fatalf("caps = %q", caps)
	}

	payload, caps = SplitCapabilities("plain line")
	if payload != "plain line" || caps != nil {
		t.Fatalf("expected passthrough, got %q %q", payload, caps)
	}
}
