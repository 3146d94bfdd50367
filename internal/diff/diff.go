// Package diff implements the line and inline character diff engine. It is
// pure computation: no I/O, no git, deterministic output for a given input.
package diff

import "strings"

// LineKind classifies a diff line.
type LineKind int

const (
	Unchanged LineKind = iota
	Added
	Removed
)

func (k LineKind) String() string {
	switch k {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unchanged"
	}
}

// Range is a half-open [Start, End) span of rune offsets within a line,
// tagged with what happened to those characters.
type Range struct {
	Start int
	End   int
	Kind  LineKind
}

// Line is one row of a computed diff. OldLine/NewLine are 1-based; zero means
// the line has no number on that side (added lines have no old number,
// removed lines no new number).
type Line struct {
	Kind    LineKind
	Content string
	OldLine int
	NewLine int
	Inline  []Range
}

// SplitLines splits text on line breaks, preserving trailing empty segments
// so that "a\n" and "a" diff differently.
func SplitLines(text string) []string {
	return strings.Split(text, "\n")
}

// lcsTable returns the suffix LCS table: table[i][j] is the length of the
// longest common subsequence of a[i:] and b[j:].
func lcsTable[T comparable](a, b []T) [][]int {
	table := make([][]int, len(a)+1)
	for i := range table {
		table[i] = make([]int, len(b)+1)
	}
	for i := len(a) - 1; i >= 0; i-- {
		for j := len(b) - 1; j >= 0; j-- {
			if a[i] == b[j] {
				table[i][j] = table[i+1][j+1] + 1
			} else if table[i+1][j] >= table[i][j+1] {
				table[i][j] = table[i+1][j]
			} else {
				table[i][j] = table[i][j+1]
			}
		}
	}
	return table
}

// Compute produces the classified line diff between two texts.
//
// Consecutive removed/added runs at the same divergence point are paired
// index-for-index: pair k is emitted as removed(old[k]) then added(new[k]),
// each carrying inline character ranges. When the runs have unequal length
// the extra items are emitted plain, never paired with a distant counterpart.
func Compute(oldText, newText string) []Line {
	a := SplitLines(oldText)
	b := SplitLines(newText)
	table := lcsTable(a, b)

	var lines []Line
	i, j := 0, 0
	oldNum, newNum := 1, 1
	for i < len(a) || j < len(b) {
		if i < len(a) && j < len(b) && a[i] == b[j] {
			lines = append(lines, Line{Kind: Unchanged, Content: a[i], OldLine: oldNum, NewLine: newNum})
			i++
			j++
			oldNum++
			newNum++
			continue
		}

		// Collect the full removed and added runs of this divergence block.
		var rem, add []string
		for i < len(a) || j < len(b) {
			if i < len(a) && j < len(b) && a[i] == b[j] {
				break
			}
			if i < len(a) && (j >= len(b) || table[i+1][j] >= table[i][j+1]) {
				rem = append(rem, a[i])
				i++
			} else {
				add = append(add, b[j])
				j++
			}
		}

		for k := 0; k < len(rem) || k < len(add); k++ {
			switch {
			case k < len(rem) && k < len(add):
				// Modified row: paired removal+insertion with inline ranges.
				remRanges, addRanges := inlineRanges(rem[k], add[k])
				lines = append(lines, Line{Kind: Removed, Content: rem[k], OldLine: oldNum, Inline: remRanges})
				oldNum++
				lines = append(lines, Line{Kind: Added, Content: add[k], NewLine: newNum, Inline: addRanges})
				newNum++
			case k < len(rem):
				lines = append(lines, Line{Kind: Removed, Content: rem[k], OldLine: oldNum})
				oldNum++
			default:
				lines = append(lines, Line{Kind: Added, Content: add[k], NewLine: newNum})
				newNum++
			}
		}
	}
	return lines
}

// inlineRanges computes the character-level diff between a paired removed and
// added line. Adjacent changed runes coalesce into maximal contiguous ranges.
func inlineRanges(oldLine, newLine string) (remRanges, addRanges []Range) {
	a := []rune(oldLine)
	b := []rune(newLine)
	table := lcsTable(a, b)

	oldKeep := make([]bool, len(a))
	newKeep := make([]bool, len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] == b[j] {
			oldKeep[i] = true
			newKeep[j] = true
			i++
			j++
			continue
		}
		if table[i+1][j] >= table[i][j+1] {
			i++
		} else {
			j++
		}
	}

	return changedRanges(oldKeep, Removed), changedRanges(newKeep, Added)
}

// changedRanges turns keep flags into coalesced ranges over the false spans.
func changedRanges(keep []bool, kind LineKind) []Range {
	var ranges []Range
	start := -1
	for idx, kept := range keep {
		if kept {
			if start >= 0 {
				ranges = append(ranges, Range{Start: start, End: idx, Kind: kind})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = idx
		}
	}
	if start >= 0 {
		ranges = append(ranges, Range{Start: start, End: len(keep), Kind: kind})
	}
	return ranges
}

// Pair is one side-by-side row. Nil slots render empty.
type Pair struct {
	Left  *Line
	Right *Line
}

// SideBySide pairs a flat diff for two-column display. Unchanged lines pair
// with themselves; a removed line immediately followed by an added line pairs
// left/right; unpaired removals and additions get an empty opposite slot.
// Every input line lands in exactly one pair slot.
func SideBySide(lines []Line) []Pair {
	var pairs []Pair
	for k := 0; k < len(lines); k++ {
		switch lines[k].Kind {
		case Unchanged:
			pairs = append(pairs, Pair{Left: &lines[k], Right: &lines[k]})
		case Removed:
			if k+1 < len(lines) && lines[k+1].Kind == Added {
				pairs = append(pairs, Pair{Left: &lines[k], Right: &lines[k+1]})
				k++
			} else {
				pairs = append(pairs, Pair{Left: &lines[k]})
			}
		case Added:
			pairs = append(pairs, Pair{Right: &lines[k]})
		}
	}
	return pairs
}
