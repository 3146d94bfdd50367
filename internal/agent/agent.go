// Package agent defines the supported agent CLIs and their per-kind behavior:
// command name, skip-confirmation flag, resume style, and plan discovery.
// Behavior differences live in one strategy table rather than scattered
// type switches.
package agent

import (
	"fmt"
	"strings"
)

// Kind identifies which agent CLI a pane runs.
type Kind string

const (
	KindClaude Kind = "claude"
	KindCodex  Kind = "codex"
	KindGemini Kind = "gemini"
)

// Kinds lists every supported agent kind.
func Kinds() []Kind {
	return []Kind{KindClaude, KindCodex, KindGemini}
}

// Valid reports whether k names a known agent.
func (k Kind) Valid() bool {
	switch k {
	case KindClaude, KindCodex, KindGemini:
		return true
	}
	return false
}

// ParseKind maps a user-supplied name to a Kind.
func ParseKind(name string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(name)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown agent %q (supported: claude, codex, gemini)", name)
	}
	return k, nil
}

// ResumeStyle describes how an agent picks up a prior conversation.
type ResumeStyle int

const (
	// ResumeNone: the agent has no resume affordance.
	ResumeNone ResumeStyle = iota
	// ResumeSessionID: always pass an explicit session id. The flag both
	// creates a session with that id and resumes silently if it already
	// exists, which avoids resume-lookup mismatches entirely.
	ResumeSessionID
	// ResumeFlag: pass a resume directive plus the external session id, but
	// only when one is known from a previous run.
	ResumeFlag
)

// PlanDiscovery names the plan-file discovery strategy an agent uses.
type PlanDiscovery int

const (
	// PlansNone: the agent keeps planning state only in memory.
	PlansNone PlanDiscovery = iota
	// PlansDirWithTranscriptFilter: scan a configured plans directory for
	// markdown, then keep only files the session transcript references.
	PlansDirWithTranscriptFilter
	// PlansSessionStateFiles: read the per-session state file plus recent
	// sibling session files.
	PlansSessionStateFiles
)

// Strategy is the per-kind behavior table entry.
type Strategy struct {
	// Command is the agent binary name.
	Command string
	// SkipFlag is appended in unattended mode; empty when unsupported.
	SkipFlag string
	// Resume selects how the composed command resumes prior sessions.
	Resume ResumeStyle
	// Plans selects the plan discovery strategy for the plan poller.
	Plans PlanDiscovery
}

var strategies = map[Kind]Strategy{
	KindClaude: {
		Command:  "claude",
		SkipFlag: "--dangerously-skip-permissions",
		Resume:   ResumeSessionID,
		Plans:    PlansDirWithTranscriptFilter,
	},
	KindCodex: {
		Command:  "codex",
		SkipFlag: "--dangerously-bypass-approvals-and-sandbox",
		Resume:   ResumeFlag,
		Plans:    PlansSessionStateFiles,
	},
	KindGemini: {
		Command:  "gemini",
		SkipFlag: "--yolo",
		Resume:   ResumeNone,
		Plans:    PlansNone,
	},
}

// StrategyFor returns the behavior table entry for a kind. Unknown kinds get
// a bare claude-shaped default so a corrupted persisted record still spawns
// something usable.
func StrategyFor(k Kind) Strategy {
	if s, ok := strategies[k]; ok {
		return s
	}
	return strategies[KindClaude]
}

// ComposeCommand builds the shell command line for an agent pane.
// sessionID is the pane's stable id (used by ResumeSessionID agents);
// externalID is a previously captured agent-session id (ResumeFlag agents).
func ComposeCommand(k Kind, unattended bool, sessionID, externalID string) string {
	s := StrategyFor(k)
	parts := []string{s.Command}
	if unattended && s.SkipFlag != "" {
		parts = append(parts, s.SkipFlag)
	}
	switch s.Resume {
	case ResumeSessionID:
		parts = append(parts, "--session-id", sessionID)
	case ResumeFlag:
		if externalID != "" {
			parts = append(parts, "resume", externalID)
		}
	}
	return strings.Join(parts, " ")
}
