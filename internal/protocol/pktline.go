// Package protocol implements the pkt-line framing and sideband multiplexing
// used by the git smart transport. Pure data transformation, no I/O: the
// smart HTTP layer feeds it bytes and writes the results to sockets.
package protocol

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// pkt-line format: 4-byte hex length prefix (including itself) + payload.
// "0000" is the flush packet.

const (
	// MaxPayload is the largest payload a single pkt-line may carry. The
	// length header is four hex digits, so a full frame is capped at 65520
	// bytes of payload (65524 total).
	MaxPayload = 65520

	// sidebandMaxChunk leaves room for the one-byte band selector inside a
	// maximum-size frame.
	sidebandMaxChunk = MaxPayload - 1
)

// Band selectors for sideband multiplexing.
const (
	BandPack     byte = 1
	BandProgress byte = 2
	BandError    byte = 3
)

var ErrPayloadTooLarge = fmt.Errorf("pkt-line payload exceeds %d bytes", MaxPayload)

// EncodePacketLine frames a payload as a single pkt-line.
func EncodePacketLine(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	out := make([]byte, 0, 4+len(payload))
	out = append(out, []byte(fmt.Sprintf("%04x", len(payload)+4))...)
	out = append(out, payload...)
	return out, nil
}

// EncodeString frames a string payload; callers use this for the textual
// negotiation lines ("# service=...", ref advertisements).
func EncodeString(s string) ([]byte, error) {
	return EncodePacketLine([]byte(s))
}

// FlushPacket returns the section terminator.
func FlushPacket() []byte {
	return []byte("0000")
}

// DecodePacketLines reads sequential pkt-line frames from data. Flush packets
// are skipped rather than emitted. Decoding is lenient: a malformed length
// header or a truncated trailing frame stops decoding at the last complete
// frame instead of failing, so partial streaming reads are tolerated.
func DecodePacketLines(data []byte) []string {
	var lines []string
	for len(data) >= 4 {
		l, err := strconv.ParseInt(string(data[:4]), 16, 32)
		if err != nil {
			break
		}
		if l == 0 { // flush: section boundary, not a payload
			data = data[4:]
			continue
		}
		if l < 4 || int(l) > len(data) {
			break
		}
		lines = append(lines, string(data[4:l]))
		data = data[l:]
	}
	return lines
}

// EncodeSidebandPackfile splits pack bytes into band-1 sideband frames and
// terminates with a flush packet.
func EncodeSidebandPackfile(pack []byte) []byte {
	var buf bytes.Buffer
	for len(pack) > 0 {
		n := sidebandMaxChunk
		if len(pack) < n {
			n = len(pack)
		}
		frame := make([]byte, 1+n)
		frame[0] = BandPack
		copy(frame[1:], pack[:n])
		line, _ := EncodePacketLine(frame)
		buf.Write(line)
		pack = pack[n:]
	}
	buf.Write(FlushPacket())
	return buf.Bytes()
}

// SplitCapabilities separates a first ref line into its payload and the
// NUL-delimited, space-joined capability list attached to it.
func SplitCapabilities(line string) (payload string, caps []string) {
	payload = line
	if idx := strings.IndexByte(line, 0); idx >= 0 {
		payload = line[:idx]
		for _, c := range strings.Fields(line[idx+1:]) {
			caps = append(caps, c)
		}
	}
	return payload, caps
}

// JoinCapabilities renders a ref line with an attached capability list, as it
// appears on the first line of a ref advertisement.
func JoinCapabilities(payload string, caps []string) string {
	if len(caps) == 0 {
		return payload
	}
	return payload + "\x00" + strings.Join(caps, " ")
}
