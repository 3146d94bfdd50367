// Package session defines the core session and pane model. A session is one
// unit of agent work: a branch, an isolated worktree, and one to three agent
// panes running against that worktree.
//
// Sessions are mutated only from the manager's event loop, so the types here
// carry no locks. Anything handed to another goroutine is a copy.
package session

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/troupe-dev/troupe/internal/agent"
	"github.com/troupe-dev/troupe/internal/diff"
	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/plans"
	"github.com/troupe-dev/troupe/internal/process"
)

// MaxPanes caps the panes per session.
const MaxPanes = 3

// PaneKind distinguishes agent panes from plain shell panes.
type PaneKind string

const (
	PaneAgent PaneKind = "agent"
	PaneShell PaneKind = "shell"
)

// Pane is one subprocess slot within a session.
type Pane struct {
	ID   string   `json:"id"`
	Kind PaneKind `json:"kind"`
	// Agent is the agent CLI this pane runs; meaningful for agent panes only.
	Agent agent.Kind `json:"agent,omitempty"`
	// AgentSessionID is the id the agent CLI itself knows the conversation
	// by. For agents addressed by explicit session id it equals ID; for
	// agents with a resume directive it is captured from a previous run and
	// may be empty.
	AgentSessionID string    `json:"agent_session_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`

	// Proc is the live subprocess handle; nil when the pane isn't running.
	Proc *process.Handle `json:"-"`
}

// Running reports whether the pane has a live subprocess.
func (p *Pane) Running() bool {
	return p.Proc != nil && p.Proc.Running()
}

// SubmittedComment is one review comment a user attached to a diff line.
type SubmittedComment struct {
	ID        string    `json:"id"`
	File      string    `json:"file"`
	Line      int       `json:"line"`
	Side      string    `json:"side"` // "old" or "new"
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// SentCommentBatch records a set of comments forwarded to a pane in one send.
type SentCommentBatch struct {
	PaneID   string             `json:"pane_id"`
	SentAt   time.Time          `json:"sent_at"`
	Comments []SubmittedComment `json:"comments"`
}

// DiffState is the latest published diff snapshot. Runtime-only; pollers
// rebuild it after restart.
type DiffState struct {
	Base             string
	Files            []diff.FileDiff
	UntrackedFiles   []string
	HasUncommitted   bool
	UncommittedFiles []string
	Revision         uint64
	UpdatedAt        time.Time

	// signature is the dedup key of the last published snapshot.
	signature string
}

// PlanState is the latest published plan file set. Runtime-only.
type PlanState struct {
	Files     []plans.File
	Revision  uint64
	UpdatedAt time.Time

	signature string
}

// Session is one coordinated unit of agent work.
type Session struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Branch     string `json:"branch"`
	BaseBranch string `json:"base_branch"`
	// ProjectPath is the main repository checkout the worktree hangs off.
	ProjectPath string `json:"project_path"`
	// WorktreePath is empty until provisioning succeeds.
	WorktreePath string `json:"worktree_path,omitempty"`
	// SetupError records why provisioning failed; the session still exists
	// and panes run in ProjectPath-less degraded mode until recovery.
	SetupError string    `json:"setup_error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	// Agent is the agent kind the session was created with; the first pane
	// runs it. AgentSessionID mirrors that pane's conversation id so a
	// record persisted without pane detail can still resume.
	Agent          agent.Kind `json:"agent"`
	AgentSessionID string     `json:"agent_session_id,omitempty"`

	// Panes may be absent in a persisted record; a single pane of Agent is
	// synthesized on load.
	Panes []*Pane `json:"panes,omitempty"`

	// Comments holds pending review comments keyed by LineKey.
	Comments    map[string][]SubmittedComment `json:"comments,omitempty"`
	SentBatches []SentCommentBatch            `json:"sent_batches,omitempty"`

	// Notes is free-form user text about the session; NotesData carries an
	// opaque rich representation some editors attach.
	Notes     string `json:"notes,omitempty"`
	NotesData []byte `json:"notes_data,omitempty"`

	Diff  DiffState `json:"-"`
	Plans PlanState `json:"-"`
}

// LineKey identifies a commentable diff line: file path, line number, and
// which side of the diff the number refers to.
func LineKey(file string, line int, side string) string {
	return file + ":" + strconv.Itoa(line) + ":" + side
}

// New creates a session with a single pane of the given agent kind.
func New(name, projectPath, branch, baseBranch string, kind agent.Kind) *Session {
	s := &Session{
		ID:          uuid.NewString(),
		Name:        name,
		Branch:      branch,
		BaseBranch:  baseBranch,
		ProjectPath: projectPath,
		CreatedAt:   time.Now(),
		Agent:       kind,
	}
	p := newPane(kind)
	s.Panes = append(s.Panes, p)
	s.AgentSessionID = p.AgentSessionID
	return s
}

func newPane(kind agent.Kind) *Pane {
	p := &Pane{
		ID:        uuid.NewString(),
		Kind:      PaneAgent,
		Agent:     kind,
		CreatedAt: time.Now(),
	}
	if agent.StrategyFor(kind).Resume == agent.ResumeSessionID {
		p.AgentSessionID = p.ID
	}
	return p
}

// AddPane appends an agent pane, enforcing the cap.
func (s *Session) AddPane(kind agent.Kind) (*Pane, error) {
	if len(s.Panes) >= MaxPanes {
		return nil, errors.PaneLimitReached(s.ID)
	}
	p := newPane(kind)
	s.Panes = append(s.Panes, p)
	return p, nil
}

// AddShellPane appends a plain shell pane, enforcing the cap.
func (s *Session) AddShellPane() (*Pane, error) {
	if len(s.Panes) >= MaxPanes {
		return nil, errors.PaneLimitReached(s.ID)
	}
	p := &Pane{
		ID:        uuid.NewString(),
		Kind:      PaneShell,
		CreatedAt: time.Now(),
	}
	s.Panes = append(s.Panes, p)
	return p, nil
}

// RemovePane deletes a pane by id. The last remaining pane cannot be removed;
// removing the session is the way to get rid of it.
func (s *Session) RemovePane(paneID string) (*Pane, error) {
	if len(s.Panes) <= 1 {
		return nil, errors.LastPane(s.ID)
	}
	for i, p := range s.Panes {
		if p.ID == paneID {
			s.Panes = append(s.Panes[:i], s.Panes[i+1:]...)
			return p, nil
		}
	}
	return nil, errors.E(errors.Op("session.RemovePane"), errors.KindNotFound, "pane "+paneID+" not found")
}

// Pane returns the pane with the given id, or nil.
func (s *Session) Pane(paneID string) *Pane {
	for _, p := range s.Panes {
		if p.ID == paneID {
			return p
		}
	}
	return nil
}

// Provisioned reports whether the session has a usable worktree.
func (s *Session) Provisioned() bool {
	return s.WorktreePath != ""
}

// WorkDir is where pane subprocesses run: the worktree when provisioned,
// otherwise the project checkout itself.
func (s *Session) WorkDir() string {
	if s.WorktreePath != "" {
		return s.WorktreePath
	}
	return s.ProjectPath
}

// ApplyDiff publishes a new diff snapshot if its signature differs from the
// last published one. flagOnly snapshots carry a changed uncommitted flag but
// identical content; they update the flag without bumping the revision.
// Returns whether anything was published.
func (s *Session) ApplyDiff(base string, files []diff.FileDiff, untracked []string, hasUncommitted bool, uncommittedFiles []string, signature string) bool {
	if signature == s.Diff.signature {
		if hasUncommitted != s.Diff.HasUncommitted {
			s.Diff.HasUncommitted = hasUncommitted
			s.Diff.UncommittedFiles = uncommittedFiles
			s.Diff.UpdatedAt = time.Now()
			return true
		}
		return false
	}
	s.Diff = DiffState{
		Base:             base,
		Files:            files,
		UntrackedFiles:   untracked,
		HasUncommitted:   hasUncommitted,
		UncommittedFiles: uncommittedFiles,
		Revision:         s.Diff.Revision + 1,
		UpdatedAt:        time.Now(),
		signature:        signature,
	}
	return true
}

// ApplyPlans publishes a new plan set if it differs from the last published
// one. Returns whether anything was published.
func (s *Session) ApplyPlans(files []plans.File, signature string) bool {
	if signature == s.Plans.signature {
		return false
	}
	s.Plans = PlanState{
		Files:     files,
		Revision:  s.Plans.Revision + 1,
		UpdatedAt: time.Now(),
		signature: signature,
	}
	return true
}

// AddComment queues a review comment on a diff line for the next send.
func (s *Session) AddComment(file string, line int, side, text string) SubmittedComment {
	c := SubmittedComment{
		ID:        uuid.NewString(),
		File:      file,
		Line:      line,
		Side:      side,
		Text:      text,
		CreatedAt: time.Now(),
	}
	if s.Comments == nil {
		s.Comments = make(map[string][]SubmittedComment)
	}
	key := LineKey(file, line, side)
	s.Comments[key] = append(s.Comments[key], c)
	return c
}

// PendingCommentCount returns how many comments await sending.
func (s *Session) PendingCommentCount() int {
	n := 0
	for _, cs := range s.Comments {
		n += len(cs)
	}
	return n
}

// DrainComments moves every pending comment into a sent batch for paneID and
// returns the batch, ordered by file, line, then submission time. An empty
// pending set returns a zero batch.
func (s *Session) DrainComments(paneID string) SentCommentBatch {
	if len(s.Comments) == 0 {
		return SentCommentBatch{}
	}
	var all []SubmittedComment
	for _, cs := range s.Comments {
		all = append(all, cs...)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].File != all[j].File {
			return all[i].File < all[j].File
		}
		if all[i].Line != all[j].Line {
			return all[i].Line < all[j].Line
		}
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	batch := SentCommentBatch{
		PaneID:   paneID,
		SentAt:   time.Now(),
		Comments: all,
	}
	s.Comments = nil
	s.SentBatches = append(s.SentBatches, batch)
	return batch
}

// RequeueBatch rolls back a drained batch whose delivery failed: its
// comments return to the pending queue and its history entry is dropped.
func (s *Session) RequeueBatch(batch SentCommentBatch) {
	for i := len(s.SentBatches) - 1; i >= 0; i-- {
		b := s.SentBatches[i]
		if b.PaneID == batch.PaneID && b.SentAt.Equal(batch.SentAt) {
			s.SentBatches = append(s.SentBatches[:i], s.SentBatches[i+1:]...)
			break
		}
	}
	for _, c := range batch.Comments {
		if s.Comments == nil {
			s.Comments = make(map[string][]SubmittedComment)
		}
		key := LineKey(c.File, c.Line, c.Side)
		s.Comments[key] = append(s.Comments[key], c)
	}
}

// Normalize fills derivable fields on a freshly decoded record. A record
// persisted without pane detail gets one agent pane of the session's kind,
// carrying the session-level conversation id when the agent can resume.
func (s *Session) Normalize() {
	if len(s.Panes) > 0 {
		return
	}
	p := newPane(s.Agent)
	if s.AgentSessionID != "" && agent.StrategyFor(s.Agent).Resume != agent.ResumeNone {
		p.AgentSessionID = s.AgentSessionID
	}
	s.Panes = []*Pane{p}
}

// Clone returns a deep copy safe to hand to another goroutine: panes,
// comments, and batch history are copied, live process handles are not
// carried over.
func (s *Session) Clone() *Session {
	c := *s
	c.Panes = make([]*Pane, len(s.Panes))
	for i, p := range s.Panes {
		pc := *p
		pc.Proc = nil
		c.Panes[i] = &pc
	}
	if s.Comments != nil {
		c.Comments = make(map[string][]SubmittedComment, len(s.Comments))
		for key, cs := range s.Comments {
			c.Comments[key] = append([]SubmittedComment(nil), cs...)
		}
	}
	if s.SentBatches != nil {
		c.SentBatches = make([]SentCommentBatch, len(s.SentBatches))
		for i, b := range s.SentBatches {
			b.Comments = append([]SubmittedComment(nil), b.Comments...)
			c.SentBatches[i] = b
		}
	}
	c.NotesData = append([]byte(nil), s.NotesData...)
	return &c
}

// Validate checks the invariants a persisted record must satisfy to be
// restored. Used by the store's per-record tolerant load.
func (s *Session) Validate() error {
	const op = errors.Op("session.Validate")
	if s.ID == "" {
		return errors.E(op, errors.KindInvalid, "session has no id")
	}
	if s.ProjectPath == "" {
		return errors.E(op, errors.KindInvalid, "session "+s.ID+" has no project path")
	}
	if len(s.Panes) == 0 || len(s.Panes) > MaxPanes {
		return errors.E(op, errors.KindInvalid, "session "+s.ID+" has an invalid pane count")
	}
	for _, p := range s.Panes {
		if p.ID == "" {
			return errors.E(op, errors.KindInvalid, "session "+s.ID+" has a pane without an id")
		}
	}
	return nil
}

// DefaultBranchName derives a branch name from a session name: lowercased,
// non-alphanumerics collapsed to single dashes, under a troupe/ prefix.
func DefaultBranchName(name string) string {
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "session"
	}
	return "troupe/" + slug
}

// ValidBranchName rejects names git would refuse or that would escape the
// worktree directory layout.
func ValidBranchName(branch string) bool {
	if branch == "" || strings.HasPrefix(branch, "-") || strings.HasPrefix(branch, ".") {
		return false
	}
	if strings.HasSuffix(branch, "/") || strings.HasSuffix(branch, ".lock") || strings.HasSuffix(branch, ".") {
		return false
	}
	if strings.Contains(branch, "..") || strings.Contains(branch, "//") || strings.Contains(branch, "@{") {
		return false
	}
	for _, r := range branch {
		switch {
		case r <= 0x20, r == 0x7f:
			return false
		case r == '~', r == '^', r == ':', r == '?', r == '*', r == '[', r == '\\':
			return false
		}
	}
	return true
}
