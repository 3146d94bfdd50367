package git

import (
	"context"
	"strings"

	"github.com/troupe-dev/troupe/internal/diff"
)

// NameStatusEntry is one line of `git diff --name-status` output. Renames
// carry both the old and new path.
type NameStatusEntry struct {
	Kind    diff.ChangeKind
	OldPath string // set for renames only
	Path    string
}

// DiffNameStatus lists changed files against a ref in name-status form.
func (s *GitService) DiffNameStatus(ctx context.Context, dir, base string) ([]NameStatusEntry, error) {
	output, err := s.executor.Output(ctx, dir, "git", "diff", "--name-status", base)
	if err != nil {
		return nil, err
	}
	return ParseNameStatus(string(output)), nil
}

// ParseNameStatus parses name-status output. Lines are
// "<code>\t<path>" or "R<score>\t<old>\t<new>" for renames.
func ParseNameStatus(output string) []NameStatusEntry {
	var entries []NameStatusEntry
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			continue
		}
		code := fields[0]
		switch {
		case strings.HasPrefix(code, "R"), strings.HasPrefix(code, "C"):
			if len(fields) < 3 {
				continue
			}
			kind := diff.ChangeRenamed
			if strings.HasPrefix(code, "C") {
				// Copies present as an added file with known provenance.
				kind = diff.ChangeAdded
			}
			entries = append(entries, NameStatusEntry{Kind: kind, OldPath: fields[1], Path: fields[2]})
		case strings.HasPrefix(code, "A"):
			entries = append(entries, NameStatusEntry{Kind: diff.ChangeAdded, Path: fields[1]})
		case strings.HasPrefix(code, "D"):
			entries = append(entries, NameStatusEntry{Kind: diff.ChangeDeleted, Path: fields[1]})
		default:
			entries = append(entries, NameStatusEntry{Kind: diff.ChangeModified, Path: fields[1]})
		}
	}
	return entries
}

// ParsePorcelainFiles extracts the file paths from porcelain status output.
// Each line is a stable two-column status code, a space, then the path.
func ParsePorcelainFiles(output string) []string {
	var files []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if len(line) < 4 {
			continue
		}
		path := line[3:]
		// Renames list as "old -> new"; the working-tree name is what matters.
		if _, after, ok := strings.Cut(path, " -> "); ok {
			path = after
		}
		files = append(files, path)
	}
	return files
}
