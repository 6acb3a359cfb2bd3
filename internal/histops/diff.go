package histops

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	godiff "github.com/sourcegraph/go-diff/diff"

	"github.com/odvcencio/gitforge/internal/gitcmd"
	"github.com/odvcencio/gitforge/internal/storage"
)

type DiffOptions struct {
	Path             string
	Context          int
	IgnoreWhitespace bool
}

type DiffLineKind string

const (
	DiffLineAdd     DiffLineKind = "add"
	DiffLineDelete  DiffLineKind = "delete"
	DiffLineContext DiffLineKind = "context"
)

type DiffLine struct {
	Kind    DiffLineKind `json:"kind"`
	Content string       `json:"content"`
}

type DiffHunk struct {
	OrigStartLine int32      `json:"orig_start_line"`
	OrigLines     int32      `json:"orig_lines"`
	NewStartLine  int32      `json:"new_start_line"`
	NewLines      int32      `json:"new_lines"`
	Section       string     `json:"section,omitempty"`
	Lines         []DiffLine `json:"lines"`
}

type DiffFile struct {
	OldPath   string     `json:"old_path"`
	NewPath   string     `json:"new_path"`
	Status    string     `json:"status"` // "added", "deleted", "renamed", "modified"
	Binary    bool       `json:"binary"`
	Additions int        `json:"additions"`
	Deletions int        `json:"deletions"`
	Hunks     []DiffHunk `json:"hunks"`
}

type DiffStats struct {
	FilesChanged int `json:"files_changed"`
	Additions    int `json:"additions"`
	Deletions    int `json:"deletions"`
}

type Diff struct {
	Files []DiffFile `json:"files"`
	Stats DiffStats  `json:"stats"`
}

// GetDiff compares two revisions. It runs git twice, once for the full
// hunks and once for the numeric per-file summary, and merges the two
// outputs by file path.
func (e *Engine) GetDiff(ctx context.Context, owner, name, base, head string, opts DiffOptions) (*Diff, error) {
	bare := e.store.Locate(owner, name)
	if !e.store.Exists(owner, name) {
		return nil, storage.ErrNotFound
	}
	run := gitcmd.Options{Dir: bare}

	common := []string{}
	if opts.Context > 0 {
		common = append(common, fmt.Sprintf("-U%d", opts.Context))
	}
	if opts.IgnoreWhitespace {
		common = append(common, "-w")
	}
	rangeArg := base + ".." + head

	patchArgs := append(append([]string{"diff"}, common...), rangeArg)
	statArgs := append(append([]string{"diff", "--numstat"}, common...), rangeArg)
	if opts.Path != "" {
		patchArgs = append(patchArgs, "--", opts.Path)
		statArgs = append(statArgs, "--", opts.Path)
	}

	patch, err := e.git.OutputBytes(ctx, run, patchArgs...)
	if err != nil {
		return nil, fmt.Errorf("diff %s: %w", rangeArg, err)
	}
	numstat, err := e.git.Output(ctx, run, statArgs...)
	if err != nil {
		return nil, fmt.Errorf("diff --numstat %s: %w", rangeArg, err)
	}

	files, err := parseDiffPatch(patch)
	if err != nil {
		return nil, err
	}
	mergeNumstat(files, parseNumstat(numstat))

	d := &Diff{Files: files}
	for _, f := range files {
		d.Stats.FilesChanged++
		d.Stats.Additions += f.Additions
		d.Stats.Deletions += f.Deletions
	}
	return d, nil
}

func parseDiffPatch(patch []byte) ([]DiffFile, error) {
	if len(patch) == 0 {
		return nil, nil
	}
	parsed, err := godiff.ParseMultiFileDiff(patch)
	if err != nil {
		return nil, fmt.Errorf("parse diff output: %w", err)
	}

	files := make([]DiffFile, 0, len(parsed))
	for _, fd := range parsed {
		f := DiffFile{
			OldPath: stripDiffPrefix(fd.OrigName),
			NewPath: stripDiffPrefix(fd.NewName),
		}
		f.Status = fileStatus(fd, f.OldPath, f.NewPath)
		f.Binary = isBinaryDiff(fd)

		if !f.Binary {
			for _, h := range fd.Hunks {
				hunk := DiffHunk{
					OrigStartLine: h.OrigStartLine,
					OrigLines:     h.OrigLines,
					NewStartLine:  h.NewStartLine,
					NewLines:      h.NewLines,
					Section:       h.Section,
				}
				for _, line := range strings.Split(strings.TrimSuffix(string(h.Body), "\n"), "\n") {
					hunk.Lines = append(hunk.Lines, classifyDiffLine(line))
				}
				f.Hunks = append(f.Hunks, hunk)
			}
		}
		files = append(files, f)
	}
	return files, nil
}

func classifyDiffLine(line string) DiffLine {
	switch {
	case strings.HasPrefix(line, "+"):
		return DiffLine{Kind: DiffLineAdd, Content: line[1:]}
	case strings.HasPrefix(line, "-"):
		return DiffLine{Kind: DiffLineDelete, Content: line[1:]}
	case strings.HasPrefix(line, " "):
		return DiffLine{Kind: DiffLineContext, Content: line[1:]}
	default:
		return DiffLine{Kind: DiffLineContext, Content: line}
	}
}

// fileStatus infers the per-file status from the extended header lines
// git emits before the hunks.
func fileStatus(fd *godiff.FileDiff, oldPath, newPath string) string {
	for _, ext := range fd.Extended {
		switch {
		case strings.HasPrefix(ext, "new file mode"):
			return "added"
		case strings.HasPrefix(ext, "deleted file mode"):
			return "deleted"
		case strings.HasPrefix(ext, "rename from"):
			return "renamed"
		}
	}
	if oldPath != newPath && oldPath != "/dev/null" && newPath != "/dev/null" {
		return "renamed"
	}
	if oldPath == "/dev/null" {
		return "added"
	}
	if newPath == "/dev/null" {
		return "deleted"
	}
	return "modified"
}

func isBinaryDiff(fd *godiff.FileDiff) bool {
	for _, ext := range fd.Extended {
		if strings.HasPrefix(ext, "Binary files ") || strings.HasPrefix(ext, "GIT binary patch") {
			return true
		}
	}
	return false
}

func stripDiffPrefix(name string) string {
	if name == "/dev/null" {
		return name
	}
	if rest, ok := strings.CutPrefix(name, "a/"); ok {
		return rest
	}
	if rest, ok := strings.CutPrefix(name, "b/"); ok {
		return rest
	}
	return name
}

type numstatEntry struct {
	additions int
	deletions int
}

// parseNumstat reads "added<TAB>deleted<TAB>path" lines. Binary files
// report "-" counters and map to zero. Renames appear as
// "old => new" or "dir/{old => new}/file" and are keyed by new path.
func parseNumstat(out string) map[string]numstatEntry {
	stats := make(map[string]numstatEntry)
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) != 3 {
			continue
		}
		entry := numstatEntry{}
		if parts[0] != "-" {
			entry.additions, _ = strconv.Atoi(parts[0])
		}
		if parts[1] != "-" {
			entry.deletions, _ = strconv.Atoi(parts[1])
		}
		stats[numstatNewPath(parts[2])] = entry
	}
	return stats
}

func numstatNewPath(path string) string {
	if start := strings.Index(path, "{"); start >= 0 {
		if end := strings.Index(path, "}"); end > start {
			if _, renamed, ok := strings.Cut(path[start+1:end], " => "); ok {
				merged := path[:start] + renamed + path[end+1:]
				return strings.ReplaceAll(merged, "//", "/")
			}
		}
	}
	if _, renamed, ok := strings.Cut(path, " => "); ok {
		return renamed
	}
	return path
}

func mergeNumstat(files []DiffFile, stats map[string]numstatEntry) {
	for i := range files {
		key := files[i].NewPath
		if key == "/dev/null" {
			key = files[i].OldPath
		}
		if entry, ok := stats[key]; ok {
			files[i].Additions = entry.additions
			files[i].Deletions = entry.deletions
		}
	}
}
