package diff

import (
	"unicode/utf8"

	"github.com/alecthomas/chroma/v2/lexers"
)

// ChangeKind classifies how a file changed relative to the diff base.
type ChangeKind string

const (
	ChangeModified ChangeKind = "modified"
	ChangeAdded    ChangeKind = "added"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRenamed  ChangeKind = "renamed"
)

// FileDiff holds one changed file's old and new content. Renamed files keep
// the new name in Name; the old name travels in OldName.
type FileDiff struct {
	Name     string
	OldName  string
	Language string
	Change   ChangeKind
	OldText  string
	NewText  string
}

// DetectLanguage returns a language tag for a file name, used by downstream
// renderers. Falls back to "text" when no lexer matches.
func DetectLanguage(filename string) string {
	lexer := lexers.Match(filename)
	if lexer == nil {
		return "text"
	}
	return lexer.Config().Name
}

// IsText reports whether content is readable as text. Untracked files that
// fail this check are skipped rather than shown as synthetic diffs.
func IsText(content []byte) bool {
	if len(content) == 0 {
		return true
	}
	for _, b := range content {
		if b == 0 {
			return false
		}
	}
	return utf8.Valid(content)
}
