package protocol

import (
	"fmt"
	"strings"
)

// ZeroHash is the all-zero object ID used by the wire protocol to mark ref
// creation (as old value) and deletion (as new value).
const ZeroHash = "0000000000000000000000000000000000000000"

type Ref struct {
	Name string
	Hash string
}

type RefUpdate struct {
	RefName string
	OldHash string
	NewHash string
}

func (u RefUpdate) IsCreate() bool { return u.OldHash == ZeroHash }
func (u RefUpdate) IsDelete() bool { return u.NewHash == ZeroHash }

// UploadPackRequest is the negotiation preamble of a fetch: the object IDs
// the client wants, the ones it already has, and its capability list.
type UploadPackRequest struct {
	Wants        []string
	Haves        []string
	Capabilities []string
}

// ParseUploadPackRequest decodes the pkt-line framed want/have section of an
// upload-pack request body. Lines after the first flush ("done", shallow
// negotiation) are ignored.
func ParseUploadPackRequest(body []byte) (*UploadPackRequest, error) {
	req := &UploadPackRequest{}
	for _, line := range DecodePacketLines(body) {
		line = strings.TrimSuffix(line, "\n")
		switch {
		case strings.HasPrefix(line, "want "):
			rest := strings.TrimPrefix(line, "want ")
			if len(req.Wants) == 0 {
				rest, req.Capabilities = SplitCapabilities(rest)
			}
			if err := validateHash(rest); err != nil {
				return nil, fmt.Errorf("want line: %w", err)
			}
			req.Wants = append(req.Wants, rest)
		case strings.HasPrefix(line, "have "):
			h := strings.TrimPrefix(line, "have ")
			if err := validateHash(h); err != nil {
				return nil, fmt.Errorf("have line: %w", err)
			}
			req.Haves = append(req.Haves, h)
		}
	}
	if len(req.Wants) == 0 {
		return nil, fmt.Errorf("upload-pack request has no want lines")
	}
	return req, nil
}

// ReceivePackRequest is the command section of a push: the ref updates the
// client proposes plus its capability list. The packfile bytes follow the
// flush packet and are kept opaque.
type ReceivePackRequest struct {
	Updates      []RefUpdate
	Capabilities []string
	Packfile     []byte
}

// ParseReceivePackRequest decodes the ref-update command list of a
// receive-pack request body. Everything after the terminating flush is the
// packfile and is returned verbatim.
func ParseReceivePackRequest(body []byte) (*ReceivePackRequest, error) {
	req := &ReceivePackRequest{}
	rest := body
	for len(rest) >= 4 {
		if string(rest[:4]) == "0000" {
			rest = rest[4:]
			break
		}
		lines := DecodePacketLines(rest[:frameLen(rest)])
		if len(lines) != 1 {
			return nil, fmt.Errorf("malformed receive-pack command frame")
		}
		line := strings.TrimSuffix(lines[0], "\n")
		if len(req.Updates) == 0 {
			line, req.Capabilities = SplitCapabilities(line)
		}
		parts := strings.SplitN(line, " ", 3)
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed ref update line %q", line)
		}
		if err := validateHash(parts[0]); err != nil {
			return nil, fmt.Errorf("old hash: %w", err)
		}
		if err := validateHash(parts[1]); err != nil {
			return nil, fmt.Errorf("new hash: %w", err)
		}
		req.Updates = append(req.Updates, RefUpdate{
			RefName: parts[2],
			OldHash: parts[0],
			NewHash: parts[1],
		})
		rest = rest[frameLen(rest):]
	}
	if len(req.Updates) == 0 {
		return nil, fmt.Errorf("receive-pack request has no ref updates")
	}
	req.Packfile = rest
	return req, nil
}

func frameLen(data []byte) int {
	var l int
	fmt.Sscanf(string(data[:4]), "%04x", &l)
	if l < 4 || l > len(data) {
		return len(data)
	}
	return l
}

func validateHash(h string) error {
	if len(h) != 40 && len(h) != 64 {
		return fmt.Errorf("invalid object id %q", h)
	}
	for _, c := range h {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return fmt.Errorf("invalid object id %q", h)
		}
	}
	return nil
}
