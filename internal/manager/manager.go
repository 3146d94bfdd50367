// Package manager owns the session set and coordinates every other
// component: worktree provisioning, pane processes, background pollers,
// persistence, and shutdown.
//
// Poller results arrive on a single events channel consumed by one event
// loop goroutine, so each session's published diff and plan state has
// exactly one writer. Direct operations (create, remove, panes, comments)
// take the manager lock and never touch the published fields.
package manager

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/troupe-dev/troupe/internal/agent"
	"github.com/troupe-dev/troupe/internal/config"
	"github.com/troupe-dev/troupe/internal/errors"
	"github.com/troupe-dev/troupe/internal/git"
	"github.com/troupe-dev/troupe/internal/logger"
	"github.com/troupe-dev/troupe/internal/notification"
	"github.com/troupe-dev/troupe/internal/plans"
	"github.com/troupe-dev/troupe/internal/poller"
	"github.com/troupe-dev/troupe/internal/process"
	"github.com/troupe-dev/troupe/internal/session"
	"github.com/troupe-dev/troupe/internal/shutdown"
	"github.com/troupe-dev/troupe/internal/store"
	"github.com/troupe-dev/troupe/internal/worktree"
)

// autosaveInterval is how often the event loop persists sessions.
const autosaveInterval = 30 * time.Second

// eventBuffer sizes the poller event channel. Pollers block on a full
// channel rather than dropping results.
const eventBuffer = 64

// sessionPollers bundles the background loops running for one session.
type sessionPollers struct {
	diff *poller.DiffPoller
	plan *poller.PlanPoller
}

// Manager coordinates sessions end to end.
type Manager struct {
	cfg         *config.Config
	store       *store.Store
	git         *git.GitService
	provisioner *worktree.Provisioner
	discoverer  *plans.Discoverer

	// SinkFactory builds the output writer for a pane's terminal stream.
	// Nil discards pane output.
	SinkFactory func(sessionID, paneID string) io.Writer

	mu       sync.Mutex
	sessions []*session.Session
	pollers  map[string]*sessionPollers
	quitting bool

	events   chan poller.Event
	loopStop chan struct{}
	loopDone chan struct{}
}

// New creates a manager over the given collaborators.
func New(cfg *config.Config, st *store.Store, g *git.GitService, d *plans.Discoverer) *Manager {
	return &Manager{
		cfg:         cfg,
		store:       st,
		git:         g,
		provisioner: worktree.NewProvisioner(g),
		discoverer:  d,
		pollers:     make(map[string]*sessionPollers),
		events:      make(chan poller.Event, eventBuffer),
		loopStop:    make(chan struct{}),
		loopDone:    make(chan struct{}),
	}
}

// Start launches the event loop. Call once, before any session operations.
func (m *Manager) Start() {
	go m.eventLoop()
}

// eventLoop applies poller publications and drives the autosave ticker.
func (m *Manager) eventLoop() {
	defer close(m.loopDone)
	ticker := time.NewTicker(autosaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.loopStop:
			return
		case e := <-m.events:
			m.applyEvent(e)
		case <-ticker.C:
			if err := m.save(); err != nil {
				logger.Warn("Manager: autosave failed: %v", err)
			}
		}
	}
}

func (m *Manager) applyEvent(e poller.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess := m.findLocked(eventSessionID(e))
	if sess == nil {
		// Session removed while the event was in flight.
		return
	}
	switch ev := e.(type) {
	case poller.DiffEvent:
		published := sess.ApplyDiff(ev.Base, ev.Files, ev.Untracked, ev.HasUncommitted, ev.UncommittedFiles, ev.Signature)
		if published && !ev.FlagOnly {
			logger.Debug("Manager: session %s diff revision %d (%d files)", sess.ID, sess.Diff.Revision, len(ev.Files))
			if sess.Diff.Revision > 1 && m.cfg.GetNotificationsEnabled() {
				go notification.DiffChanged(sess.Name)
			}
		}
	case poller.PlanEvent:
		if sess.ApplyPlans(ev.Files, ev.Signature) {
			logger.Debug("Manager: session %s plan revision %d (%d files)", sess.ID, sess.Plans.Revision, len(ev.Files))
		}
	}
}

func eventSessionID(e poller.Event) string {
	switch ev := e.(type) {
	case poller.DiffEvent:
		return ev.SessionID
	case poller.PlanEvent:
		return ev.SessionID
	}
	return ""
}

// CreateSession provisions a worktree, creates the session with one pane of
// the given agent kind, spawns the pane, and starts its pollers. A failed
// provisioning does not fail creation: the error is recorded on the session
// and panes run in the project checkout.
func (m *Manager) CreateSession(ctx context.Context, name, projectPath, branch, baseBranch string, kind agent.Kind) (*session.Session, error) {
	const op = errors.Op("manager.CreateSession")
	if name == "" {
		return nil, errors.E(op, errors.KindInvalid, "session name is required")
	}
	if projectPath == "" {
		return nil, errors.E(op, errors.KindInvalid, "project path is required")
	}
	if !kind.Valid() {
		return nil, errors.E(op, errors.KindInvalid, fmt.Sprintf("unknown agent kind %q", kind))
	}
	if branch == "" {
		branch = session.DefaultBranchName(name)
	}
	if !session.ValidBranchName(branch) {
		return nil, errors.E(op, errors.KindInvalid, fmt.Sprintf("invalid branch name %q", branch))
	}
	if baseBranch == "" {
		baseBranch = "main"
	}

	sess := session.New(name, projectPath, branch, baseBranch, kind)

	path, err := m.provisioner.Ensure(ctx, projectPath, branch, baseBranch)
	if err != nil {
		logger.Warn("Manager: provisioning failed for session %s: %v", sess.ID, err)
		sess.SetupError = err.Error()
	} else {
		sess.WorktreePath = path
	}

	if err := m.spawnPane(sess, sess.Panes[0]); err != nil {
		logger.Warn("Manager: first pane spawn failed for session %s: %v", sess.ID, err)
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, sess)
	m.startPollersLocked(sess)
	m.mu.Unlock()

	if err := m.save(); err != nil {
		logger.Warn("Manager: save after create failed: %v", err)
	}
	logger.Info("Manager: created session %s (%s) on branch %s", sess.ID, name, branch)
	return sess, nil
}

// Restore loads persisted sessions, re-provisions worktrees that vanished,
// restarts every pane (resuming agent conversations where the agent supports
// it), and starts pollers.
func (m *Manager) Restore(ctx context.Context) error {
	sessions, err := m.store.Load()
	if err != nil {
		// Persistence failures are never fatal: the app starts with an
		// empty collection and the next save rewrites the file.
		logger.Error("Manager: session load failed, starting empty: %v", err)
		sessions = nil
	}

	for _, sess := range sessions {
		if sess.WorktreePath != "" {
			if _, statErr := os.Stat(sess.WorktreePath); os.IsNotExist(statErr) {
				logger.Warn("Manager: worktree %s missing for session %s, re-provisioning", sess.WorktreePath, sess.ID)
				sess.WorktreePath = ""
			}
		}
		if sess.WorktreePath == "" {
			path, provErr := m.provisioner.Ensure(ctx, sess.ProjectPath, sess.Branch, sess.BaseBranch)
			if provErr != nil {
				sess.SetupError = provErr.Error()
			} else {
				sess.WorktreePath = path
				sess.SetupError = ""
			}
		}
		for _, pane := range sess.Panes {
			if spawnErr := m.spawnPane(sess, pane); spawnErr != nil {
				logger.Warn("Manager: restore spawn failed for pane %s: %v", pane.ID, spawnErr)
			}
		}
	}

	m.mu.Lock()
	m.sessions = append(m.sessions, sessions...)
	for _, sess := range sessions {
		m.startPollersLocked(sess)
	}
	m.mu.Unlock()

	logger.Info("Manager: restored %d session(s)", len(sessions))
	return nil
}

// spawnPane starts a pane subprocess in the session's working directory.
func (m *Manager) spawnPane(sess *session.Session, pane *session.Pane) error {
	command := ""
	if pane.Kind == session.PaneAgent {
		command = agent.ComposeCommand(pane.Agent, m.cfg.GetUnattendedMode(), pane.ID, pane.AgentSessionID)
	}
	var sink io.Writer
	if m.SinkFactory != nil {
		sink = m.SinkFactory(sess.ID, pane.ID)
	}
	handle, err := process.Start(pane.ID, process.Spec{
		Command: command,
		Dir:     sess.WorkDir(),
		Sink:    sink,
	})
	if err != nil {
		return err
	}
	pane.Proc = handle
	return nil
}

// startPollersLocked starts the background loops for a session. The diff
// poller needs a provisioned worktree; the plan poller runs regardless since
// agent-side plan discovery doesn't depend on the worktree.
func (m *Manager) startPollersLocked(sess *session.Session) {
	if _, running := m.pollers[sess.ID]; running {
		return
	}
	sp := &sessionPollers{}
	if sess.Provisioned() {
		sp.diff = poller.NewDiffPoller(sess.ID, sess.WorktreePath, sess.BaseBranch, m.git, m.events)
		sp.diff.Start()
	}
	kind, agentSessionID := primaryAgent(sess)
	sp.plan = poller.NewPlanPoller(sess.ID, sess.WorktreePath, kind, agentSessionID, m.discoverer, m.cfg, m.events)
	sp.plan.Start()
	m.pollers[sess.ID] = sp
}

// primaryAgent returns the first agent pane's kind and external session id.
func primaryAgent(sess *session.Session) (agent.Kind, string) {
	for _, p := range sess.Panes {
		if p.Kind == session.PaneAgent {
			return p.Agent, p.AgentSessionID
		}
	}
	return agent.KindClaude, ""
}

func (m *Manager) stopPollers(sessionID string) {
	m.mu.Lock()
	sp := m.pollers[sessionID]
	delete(m.pollers, sessionID)
	m.mu.Unlock()
	if sp == nil {
		return
	}
	// Stop outside the lock: Stop waits for in-flight iterations, and an
	// iteration may be blocked publishing to the events channel.
	if sp.diff != nil {
		sp.diff.Stop()
	}
	if sp.plan != nil {
		sp.plan.Stop()
	}
}

// Sessions returns the sessions in creation order.
func (m *Manager) Sessions() []*session.Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*session.Session, len(m.sessions))
	copy(out, m.sessions)
	return out
}

// Get returns a session by id.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess := m.findLocked(id); sess != nil {
		return sess, nil
	}
	return nil, errors.SessionNotFound(id)
}

func (m *Manager) findLocked(id string) *session.Session {
	for _, sess := range m.sessions {
		if sess.ID == id {
			return sess
		}
	}
	return nil
}

// RemoveSession stops the session's pollers and panes, optionally deletes
// its worktree, and drops it from the set.
func (m *Manager) RemoveSession(ctx context.Context, id string, deleteWorktree bool) error {
	m.mu.Lock()
	sess := m.findLocked(id)
	m.mu.Unlock()
	if sess == nil {
		return errors.SessionNotFound(id)
	}

	m.stopPollers(id)
	m.terminatePanes(sess)

	if deleteWorktree && sess.WorktreePath != "" {
		if err := m.provisioner.Remove(ctx, sess.ProjectPath, sess.WorktreePath); err != nil {
			logger.Warn("Manager: worktree removal failed for session %s: %v", id, err)
		}
	}

	m.mu.Lock()
	for i, existing := range m.sessions {
		if existing.ID == id {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	if err := m.save(); err != nil {
		logger.Warn("Manager: save after remove failed: %v", err)
	}
	logger.Info("Manager: removed session %s", id)
	return nil
}

// AddPane adds and spawns an agent pane.
func (m *Manager) AddPane(sessionID string, kind agent.Kind) (*session.Pane, error) {
	m.mu.Lock()
	sess := m.findLocked(sessionID)
	if sess == nil {
		m.mu.Unlock()
		return nil, errors.SessionNotFound(sessionID)
	}
	pane, err := sess.AddPane(kind)
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := m.spawnPane(sess, pane); err != nil {
		logger.Warn("Manager: pane spawn failed: %v", err)
	}
	return pane, nil
}

// AddShellPane adds and spawns a plain shell pane.
func (m *Manager) AddShellPane(sessionID string) (*session.Pane, error) {
	m.mu.Lock()
	sess := m.findLocked(sessionID)
	if sess == nil {
		m.mu.Unlock()
		return nil, errors.SessionNotFound(sessionID)
	}
	pane, err := sess.AddShellPane()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if err := m.spawnPane(sess, pane); err != nil {
		logger.Warn("Manager: shell pane spawn failed: %v", err)
	}
	return pane, nil
}

// RemovePane terminates and removes one pane. The last pane is rejected.
func (m *Manager) RemovePane(sessionID, paneID string) error {
	m.mu.Lock()
	sess := m.findLocked(sessionID)
	if sess == nil {
		m.mu.Unlock()
		return errors.SessionNotFound(sessionID)
	}
	pane, err := sess.RemovePane(paneID)
	m.mu.Unlock()
	if err != nil {
		return err
	}
	if pane.Proc != nil {
		coord := shutdown.New()
		if termErr := coord.Terminate([]shutdown.Process{pane.Proc}); termErr != nil {
			logger.Warn("Manager: pane %s termination: %v", paneID, termErr)
		}
	}
	return nil
}

// AddComment queues a review comment on a session's diff line.
func (m *Manager) AddComment(sessionID, file string, line int, side, text string) (session.SubmittedComment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess := m.findLocked(sessionID)
	if sess == nil {
		return session.SubmittedComment{}, errors.SessionNotFound(sessionID)
	}
	return sess.AddComment(file, line, side, text), nil
}

// SendComments drains all pending comments into a batch and writes it to the
// pane's terminal as a review request.
func (m *Manager) SendComments(sessionID, paneID string) (session.SentCommentBatch, error) {
	const op = errors.Op("manager.SendComments")
	m.mu.Lock()
	sess := m.findLocked(sessionID)
	if sess == nil {
		m.mu.Unlock()
		return session.SentCommentBatch{}, errors.SessionNotFound(sessionID)
	}
	pane := sess.Pane(paneID)
	if pane == nil {
		m.mu.Unlock()
		return session.SentCommentBatch{}, errors.E(op, errors.KindNotFound, "pane "+paneID+" not found")
	}
	if sess.PendingCommentCount() == 0 {
		m.mu.Unlock()
		return session.SentCommentBatch{}, nil
	}
	// Liveness check before draining: a dead pane must leave the pending
	// queue untouched.
	if !pane.Running() {
		m.mu.Unlock()
		return session.SentCommentBatch{}, errors.E(op, errors.KindProcess, "pane "+paneID+" has no running process")
	}
	batch := sess.DrainComments(paneID)
	m.mu.Unlock()

	if _, err := pane.Proc.Write([]byte(FormatCommentBatch(batch))); err != nil {
		m.mu.Lock()
		sess.RequeueBatch(batch)
		m.mu.Unlock()
		return session.SentCommentBatch{}, errors.E(op, errors.KindProcess, "failed to deliver comments", err)
	}
	logger.Info("Manager: sent %d comment(s) to pane %s", len(batch.Comments), paneID)
	return batch, nil
}

// FormatCommentBatch renders a comment batch as the text handed to an agent.
func FormatCommentBatch(batch session.SentCommentBatch) string {
	var b []byte
	b = append(b, "Please address the following review comments:\n"...)
	for _, c := range batch.Comments {
		b = append(b, fmt.Sprintf("- %s line %d (%s): %s\n", c.File, c.Line, c.Side, c.Text)...)
	}
	b = append(b, '\n')
	return string(b)
}

// Commit stages and commits everything in the session worktree.
func (m *Manager) Commit(ctx context.Context, sessionID, message string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.Provisioned() {
		return errors.NoWorkingDirectory()
	}
	return m.git.CommitAll(ctx, sess.WorktreePath, message)
}

// Push pushes the session branch to origin.
func (m *Manager) Push(ctx context.Context, sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	if !sess.Provisioned() {
		return errors.NoWorkingDirectory()
	}
	return m.git.Push(ctx, sess.WorktreePath, sess.Branch)
}

// PruneOrphans removes worktrees under the project that no session claims.
func (m *Manager) PruneOrphans(ctx context.Context, projectPath string) []string {
	active := make(map[string]bool)
	m.mu.Lock()
	for _, sess := range m.sessions {
		if sess.WorktreePath != "" {
			active[sess.WorktreePath] = true
		}
	}
	m.mu.Unlock()
	return m.provisioner.PruneOrphaned(ctx, projectPath, active)
}

// LoadPersisted returns the stored sessions without restoring them: no
// worktree recovery, no pane spawns, no pollers.
func (m *Manager) LoadPersisted() ([]*session.Session, error) {
	return m.store.Load()
}

// RemoveStored removes a persisted session without restoring the rest:
// its worktree is deleted when requested and the remaining records are
// written back.
func (m *Manager) RemoveStored(ctx context.Context, id string, deleteWorktree bool) error {
	sessions, err := m.store.Load()
	if err != nil {
		return err
	}
	idx := -1
	for i, sess := range sessions {
		if sess.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return errors.SessionNotFound(id)
	}
	target := sessions[idx]
	if deleteWorktree && target.WorktreePath != "" {
		if err := m.provisioner.Remove(ctx, target.ProjectPath, target.WorktreePath); err != nil {
			logger.Warn("Manager: worktree removal failed for stored session %s: %v", id, err)
		}
	}
	return m.store.Save(append(sessions[:idx], sessions[idx+1:]...))
}

// Quitting reports whether shutdown has begun.
func (m *Manager) Quitting() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quitting
}

// save snapshots the sessions under the lock before handing them to the
// store; marshaling the live structs outside the lock would race with
// comment and pane mutations.
func (m *Manager) save() error {
	m.mu.Lock()
	sessions := make([]*session.Session, len(m.sessions))
	for i, sess := range m.sessions {
		sessions[i] = sess.Clone()
	}
	m.mu.Unlock()
	return m.store.Save(sessions)
}

func (m *Manager) terminatePanes(sess *session.Session) {
	var procs []shutdown.Process
	for _, pane := range sess.Panes {
		if pane.Proc != nil {
			procs = append(procs, pane.Proc)
		}
	}
	if len(procs) == 0 {
		return
	}
	coord := shutdown.New()
	if err := coord.Terminate(procs); err != nil {
		logger.Warn("Manager: session %s pane termination: %v", sess.ID, err)
	}
}

// Shutdown stops pollers, terminates every pane with bounded latency,
// persists sessions, and stops the event loop.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.quitting {
		m.mu.Unlock()
		return nil
	}
	m.quitting = true
	sessions := make([]*session.Session, len(m.sessions))
	copy(sessions, m.sessions)
	ids := make([]string, 0, len(sessions))
	for _, sess := range sessions {
		ids = append(ids, sess.ID)
	}
	m.mu.Unlock()

	for _, id := range ids {
		m.stopPollers(id)
	}

	var procs []shutdown.Process
	for _, sess := range sessions {
		for _, pane := range sess.Panes {
			if pane.Proc != nil {
				procs = append(procs, pane.Proc)
			}
		}
	}
	var termErr error
	if len(procs) > 0 {
		termErr = shutdown.New().Terminate(procs)
		if termErr != nil {
			logger.Warn("Manager: shutdown termination: %v", termErr)
		}
	}

	if err := m.save(); err != nil {
		logger.Error("Manager: final save failed: %v", err)
		if termErr == nil {
			termErr = err
		}
	}

	close(m.loopStop)
	<-m.loopDone
	logger.Info("Manager: shutdown complete")
	return termErr
}
