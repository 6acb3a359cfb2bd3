package histops

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

type BlameOptions struct {
	Branch    string
	StartLine int
	EndLine   int
}

type BlameLine struct {
	LineNumber int       `json:"line_number"`
	Content    string    `json:"content"`
	CommitHash string    `json:"commit_hash"`
	Author     string    `json:"author"`
	AuthorMail string    `json:"author_mail"`
	AuthorTime time.Time `json:"author_time"`
	Summary    string    `json:"summary"`
}

// GetBlame attributes every line of a file to the commit that last
// touched it, using git's porcelain blame format.
func (e *Engine) GetBlame(ctx context.Context, owner, name, path string, opts BlameOptions) ([]BlameLine, error) {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return nil, storage.ErrNotFound
	}

	ref := opts.Branch
	if ref == "" {
		ref = "HEAD"
	}
	args := []string{"blame", "--porcelain"}
	if opts.StartLine > 0 && opts.EndLine >= opts.StartLine {
		args = append(args, "-L", fmt.Sprintf("%d,%d", opts.StartLine, opts.EndLine))
	}
	args = append(args, ref, "--", path)

	out, err := e.git.OutputBytes(ctx, gitcmd.Options{Dir: bare}, args...)
	if err != nil {
		return nil, fmt.Errorf("blame %s: %w", path, err)
	}
	return parseBlamePorcelain(string(out))
}

// blameCommit accumulates the metadata block for one commit. Porcelain
// output only spells the full block out the first time a commit
// appears; later occurrences repeat just the hash line, so the parser
// has to keep every commit it has seen.
type blameCommit struct {
	author     string
	authorMail string
	authorTime time.Time
	summary    string
}

// parseBlamePorcelain walks porcelain blame output: each source line is
// introduced by a "<hash> <origLine> <finalLine> [<n>]" header,
// followed by zero or more metadata lines, then the content line
// prefixed with a TAB.
func parseBlamePorcelain(out string) ([]BlameLine, error) {
	commits := make(map[string]*blameCommit)
	var lines []BlameLine

	var currentHash string
	var currentLine int
	for _, raw := range strings.Split(out, "\n") {
		if raw == "" {
			continue
		}
		if strings.HasPrefix(raw, "\t") {
			meta := commits[currentHash]
			if meta == nil {
				meta = &blameCommit{}
			}
			lines = append(lines, BlameLine{
				LineNumber: currentLine,
				Content:    raw[1:],
				CommitHash: currentHash,
				Author:     meta.author,
				AuthorMail: meta.authorMail,
				AuthorTime: meta.authorTime,
				Summary:    meta.summary,
			})
			continue
		}

		if hash, origFinal, ok := cutBlameHeader(raw); ok {
			currentHash = hash
			currentLine = origFinal
			if _, seen := commits[hash]; !seen {
				commits[hash] = &blameCommit{}
			}
			continue
		}

		meta := commits[currentHash]
		if meta == nil {
			continue
		}
		key, value, _ := strings.Cut(raw, " ")
		switch key {
		case "author":
			meta.author = value
		case "author-mail":
			meta.authorMail = strings.Trim(value, "<>")
		case "author-time":
			if unix, err := strconv.ParseInt(value, 10, 64); err == nil {
				meta.authorTime = time.Unix(unix, 0).UTC()
			}
		case "summary":
			meta.summary = value
		}
	}
	return lines, nil
}

// cutBlameHeader recognizes "<40-hex> <orig> <final> [<count>]" and
// returns the hash and the final line number.
func cutBlameHeader(line string) (hash string, finalLine int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 3 || len(fields) > 4 {
		return "", 0, false
	}
	if len(fields[0]) != 40 || !isHex(fields[0]) {
		return "", 0, false
	}
	if _, err := strconv.Atoi(fields[1]); err != nil {
		return "", 0, false
	}
	final, err := strconv.Atoi(fields[2])
	if err != nil {
		return "", 0, false
	}
	return fields[0], final, true
}

func isHex(s string) bool {
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
