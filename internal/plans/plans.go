// Package plans discovers plan documents an agent produced for a session:
// markdown files in agent-managed plan directories, per-session agent state
// files, and plan directories inside the worktree itself.
package plans

import (
	"bufio"
	"encoding/json"
	"hash/fnv"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/troupe-dev/troupe/internal/agent"
	"github.com/troupe-dev/troupe/internal/config"
	"github.com/troupe-dev/troupe/internal/logger"
)

// File is one discovered plan document. Path is its identity; equality for
// change detection covers content and modification time.
type File struct {
	Path    string
	Name    string
	Content string
	ModTime time.Time
}

// recentSiblingWindow bounds how old a sibling agent session file can be and
// still count as part of the current working set.
const recentSiblingWindow = 24 * time.Hour

// Discoverer finds plan files. The home directory is injectable so tests can
// point agent state lookups at a scratch tree.
type Discoverer struct {
	home string
}

// NewDiscoverer creates a discoverer rooted at the real home directory.
func NewDiscoverer() (*Discoverer, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}
	return &Discoverer{home: home}, nil
}

// NewDiscovererWithHome creates a discoverer with an explicit home (tests).
func NewDiscovererWithHome(home string) *Discoverer {
	return &Discoverer{home: home}
}

// Discover returns the union of agent-specific plan files and plan files found
// under the worktree's plan directories, deduplicated by path and sorted
// newest-first. agentSessionID is the id the agent itself knows the session
// by. A missing worktree contributes nothing rather than erroring.
func (d *Discoverer) Discover(kind agent.Kind, worktree, agentSessionID string, snap config.Snapshot) []File {
	var files []File

	switch agent.StrategyFor(kind).Plans {
	case agent.PlansDirWithTranscriptFilter:
		files = append(files, d.claudePlans(worktree, agentSessionID)...)
	case agent.PlansSessionStateFiles:
		files = append(files, d.codexPlans(agentSessionID)...)
	}

	if worktree != "" {
		for _, dir := range worktreePlanDirs(worktree, snap.ExtraPlanDirs) {
			files = append(files, scanMarkdown(filepath.Join(worktree, dir))...)
		}
	}

	return dedupeNewestFirst(files)
}

// worktreePlanDirs returns the worktree-relative directories to scan: the
// default .planning directory, config extras, and the worktree's own
// .troupe.yaml plan_dirs, deduplicated in that order.
func worktreePlanDirs(worktree string, extra []string) []string {
	dirs := []string{".planning"}
	dirs = append(dirs, extra...)
	ws := config.LoadWorkspaceSettings(worktree)
	dirs = append(dirs, ws.PlanDirs...)

	seen := make(map[string]bool, len(dirs))
	var out []string
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		out = append(out, dir)
	}
	return out
}

// claudePlans scans the claude plans directory and keeps only the files the
// session transcript references. No transcript references means no plans,
// even if the directory has files from other sessions.
func (d *Discoverer) claudePlans(worktree, sessionID string) []File {
	if sessionID == "" {
		return nil
	}
	plansDir := d.claudePlansDir(worktree)
	candidates := scanMarkdown(plansDir)
	if len(candidates) == 0 {
		return nil
	}

	referenced := d.transcriptReferences(worktree, sessionID)
	if len(referenced) == 0 {
		return nil
	}

	var files []File
	for _, f := range candidates {
		if referenced[f.Name] || referenced[f.Path] {
			files = append(files, f)
		}
	}
	return files
}

// claudePlansDir resolves the plans directory: the worktree-local settings
// file wins, then the global one, then the stock location.
func (d *Discoverer) claudePlansDir(worktree string) string {
	if worktree != "" {
		if dir := plansDirFromSettings(filepath.Join(worktree, ".claude", "settings.json"), worktree); dir != "" {
			return dir
		}
	}
	if dir := plansDirFromSettings(filepath.Join(d.home, ".claude", "settings.json"), d.home); dir != "" {
		return dir
	}
	return filepath.Join(d.home, ".claude", "plans")
}

// plansDirFromSettings reads the plansDirectory key from a settings file.
// Relative values resolve against base. Missing or malformed files yield "".
func plansDirFromSettings(path, base string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var settings struct {
		PlansDirectory string `json:"plansDirectory"`
	}
	if err := json.Unmarshal(data, &settings); err != nil {
		logger.Debug("Plans: unreadable settings file %s: %v", path, err)
		return ""
	}
	if settings.PlansDirectory == "" {
		return ""
	}
	if strings.HasPrefix(settings.PlansDirectory, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		return filepath.Join(home, settings.PlansDirectory[2:])
	}
	if filepath.IsAbs(settings.PlansDirectory) {
		return settings.PlansDirectory
	}
	return filepath.Join(base, settings.PlansDirectory)
}

// transcriptReferences extracts plan file mentions from the session's
// transcript. The transcript lives under the projects directory keyed by the
// worktree path with separators and dots flattened to dashes.
func (d *Discoverer) transcriptReferences(worktree, sessionID string) map[string]bool {
	transcript := filepath.Join(d.home, ".claude", "projects", escapeProjectPath(worktree), sessionID+".jsonl")
	f, err := os.Open(transcript)
	if err != nil {
		return nil
	}
	defer f.Close()

	referenced := make(map[string]bool)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		// Any .md mention counts as a reference; names are matched against
		// discovered candidates so false positives cost nothing.
		for _, token := range strings.FieldsFunc(line, func(r rune) bool {
			return r == '"' || r == ' ' || r == '\\' || r == '\''
		}) {
			if strings.HasSuffix(token, ".md") {
				referenced[token] = true
				referenced[filepath.Base(token)] = true
			}
		}
	}
	return referenced
}

// escapeProjectPath flattens a worktree path into the directory name used by
// the transcript store: path separators and dots become dashes.
func escapeProjectPath(path string) string {
	escaped := strings.ReplaceAll(path, "/", "-")
	return strings.ReplaceAll(escaped, ".", "-")
}

// codexPlans returns the session's own state file plus sibling session files
// modified within the recent window.
func (d *Discoverer) codexPlans(sessionID string) []File {
	if sessionID == "" {
		return nil
	}
	sessionsDir := filepath.Join(d.home, ".codex", "sessions")
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		return nil
	}

	now := time.Now()
	var files []File
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		own := entry.Name() == sessionID+".json"
		if !own && now.Sub(info.ModTime()) > recentSiblingWindow {
			continue
		}
		if f, ok := readFile(filepath.Join(sessionsDir, entry.Name())); ok {
			files = append(files, f)
		}
	}
	return files
}

// scanMarkdown recursively globs markdown files under root. A missing root
// yields nothing.
func scanMarkdown(root string) []File {
	if root == "" {
		return nil
	}
	if info, err := os.Stat(root); err != nil || !info.IsDir() {
		return nil
	}

	matches, err := doublestar.Glob(os.DirFS(root), "**/*.md")
	if err != nil {
		logger.Debug("Plans: glob failed under %s: %v", root, err)
		return nil
	}

	var files []File
	for _, match := range matches {
		full := filepath.Join(root, filepath.FromSlash(match))
		if f, ok := readFile(full); ok {
			files = append(files, f)
		}
	}
	return files
}

// readFile loads one plan file. Unreadable files are skipped; a plan that
// vanished between glob and read is not an error.
func readFile(path string) (File, bool) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return File{}, false
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return File{}, false
	}
	return File{
		Path:    path,
		Name:    filepath.Base(path),
		Content: string(content),
		ModTime: info.ModTime(),
	}, true
}

// dedupeNewestFirst removes duplicate paths and sorts by modification time,
// newest first, with path as the tie-break for deterministic output.
func dedupeNewestFirst(files []File) []File {
	seen := make(map[string]bool, len(files))
	out := files[:0]
	for _, f := range files {
		if seen[f.Path] {
			continue
		}
		seen[f.Path] = true
		out = append(out, f)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].ModTime.Equal(out[j].ModTime) {
			return out[i].ModTime.After(out[j].ModTime)
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Signature summarizes a plan set for change detection: one line per file
// with path, mtime, and a content hash. Two identical signatures mean the set
// is element-wise unchanged and no republish is needed.
func Signature(files []File) string {
	var b strings.Builder
	for _, f := range files {
		h := fnv.New64a()
		h.Write([]byte(f.Content))
		b.WriteString(f.Path)
		b.WriteByte('\x00')
		b.WriteString(f.ModTime.UTC().Format(time.RFC3339Nano))
		b.WriteByte('\x00')
		b.WriteString(strconv.FormatUint(h.Sum64(), 16))
		b.WriteByte('\n')
	}
	return b.String()
}
