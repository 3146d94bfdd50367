// Package poller runs the per-session background loops that watch a
// session's worktree for new diff content and new plan files. Pollers never
// mutate sessions themselves: results are published as events on a channel
// the manager's event loop consumes, so every session has a single writer.
package poller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/troupe-dev/troupe/internal/agent"
	"github.com/troupe-dev/troupe/internal/config"
	"github.com/troupe-dev/troupe/internal/diff"
	"github.com/troupe-dev/troupe/internal/git"
	"github.com/troupe-dev/troupe/internal/logger"
	"github.com/troupe-dev/troupe/internal/plans"
)

// Interval is the sleep between poll iterations.
const Interval = 5 * time.Second

// DiffEvent is a published diff snapshot for one session.
type DiffEvent struct {
	SessionID        string
	Base             string
	Files            []diff.FileDiff
	Untracked        []string
	HasUncommitted   bool
	UncommittedFiles []string
	Signature        string
	// FlagOnly marks an event where only the uncommitted flag changed; the
	// diff content is identical to the previous publication.
	FlagOnly bool
}

// PlanEvent is a published plan file set for one session.
type PlanEvent struct {
	SessionID string
	Files     []plans.File
	Signature string
}

// Event is a poller publication; one of DiffEvent or PlanEvent.
type Event interface{ sessionID() string }

func (e DiffEvent) sessionID() string { return e.SessionID }
func (e PlanEvent) sessionID() string { return e.SessionID }

// loop runs body repeatedly with a cancellable sleep in between. The body
// runs to completion each iteration; cancellation is honored at the loop top
// and during the sleep.
func loop(ctx context.Context, interval time.Duration, body func(context.Context)) {
	for {
		if ctx.Err() != nil {
			return
		}
		body(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// publish sends an event unless the poller was stopped first. A stopped
// poller never publishes an in-flight result.
func publish(ctx context.Context, events chan<- Event, e Event) {
	if ctx.Err() != nil {
		return
	}
	select {
	case <-ctx.Done():
	case events <- e:
	}
}

// DiffPoller watches one session's worktree for changes against its base.
type DiffPoller struct {
	sessionID  string
	dir        string
	baseBranch string
	git        *git.GitService
	events     chan<- Event
	interval   time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	lastSignature   string
	lastUncommitted bool
	published       bool
}

// NewDiffPoller creates a diff poller for a session worktree.
func NewDiffPoller(sessionID, dir, baseBranch string, g *git.GitService, events chan<- Event) *DiffPoller {
	return &DiffPoller{
		sessionID:  sessionID,
		dir:        dir,
		baseBranch: baseBranch,
		git:        g,
		events:     events,
		interval:   Interval,
	}
}

// Start launches the poll loop. The first iteration runs immediately.
func (p *DiffPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		loop(ctx, p.interval, p.iterate)
	}()
}

// Stop cancels the loop and waits for the current iteration to finish.
func (p *DiffPoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *DiffPoller) iterate(ctx context.Context) {
	base := p.git.ResolveDiffBase(ctx, p.dir, p.baseBranch)

	rawDiff, err := p.git.Diff(ctx, p.dir, base)
	if err != nil || ctx.Err() != nil {
		if err != nil {
			logger.Debug("DiffPoller: diff against %s failed for %s: %v", base, p.sessionID, err)
		}
		return
	}
	untracked, err := p.git.UntrackedFiles(ctx, p.dir)
	if err != nil || ctx.Err() != nil {
		return
	}
	porcelain, err := p.git.StatusPorcelain(ctx, p.dir)
	if err != nil || ctx.Err() != nil {
		return
	}
	hasUncommitted := strings.TrimSpace(porcelain) != ""
	uncommittedFiles := git.ParsePorcelainFiles(porcelain)

	signature := rawDiff + "\x00" + strings.Join(untracked, "\n")
	if p.published && signature == p.lastSignature {
		if hasUncommitted == p.lastUncommitted {
			return
		}
		p.lastUncommitted = hasUncommitted
		publish(ctx, p.events, DiffEvent{
			SessionID:        p.sessionID,
			Base:             base,
			HasUncommitted:   hasUncommitted,
			UncommittedFiles: uncommittedFiles,
			Signature:        signature,
			FlagOnly:         true,
		})
		return
	}

	files := p.structuredDiff(ctx, base, untracked)
	if ctx.Err() != nil {
		return
	}

	p.lastSignature = signature
	p.lastUncommitted = hasUncommitted
	p.published = true
	publish(ctx, p.events, DiffEvent{
		SessionID:        p.sessionID,
		Base:             base,
		Files:            files,
		Untracked:        untracked,
		HasUncommitted:   hasUncommitted,
		UncommittedFiles: uncommittedFiles,
		Signature:        signature,
	})
}

// structuredDiff builds per-file old/new content for everything changed
// against base, plus synthetic added entries for text-readable untracked
// files.
func (p *DiffPoller) structuredDiff(ctx context.Context, base string, untracked []string) []diff.FileDiff {
	var files []diff.FileDiff

	entries, err := p.git.DiffNameStatus(ctx, p.dir, base)
	if err != nil {
		logger.Debug("DiffPoller: name-status against %s failed for %s: %v", base, p.sessionID, err)
		entries = nil
	}
	for _, entry := range entries {
		if ctx.Err() != nil {
			return nil
		}
		fd := diff.FileDiff{
			Name:     entry.Path,
			OldName:  entry.OldPath,
			Language: diff.DetectLanguage(entry.Path),
			Change:   entry.Kind,
		}
		if entry.Kind != diff.ChangeAdded {
			oldPath := entry.Path
			if entry.OldPath != "" {
				oldPath = entry.OldPath
			}
			if text, err := p.git.ShowFile(ctx, p.dir, base, oldPath); err == nil {
				fd.OldText = text
			}
		}
		if entry.Kind != diff.ChangeDeleted {
			if content, err := os.ReadFile(filepath.Join(p.dir, entry.Path)); err == nil {
				fd.NewText = string(content)
			}
		}
		files = append(files, fd)
	}

	for _, path := range untracked {
		content, err := os.ReadFile(filepath.Join(p.dir, path))
		if err != nil || !diff.IsText(content) {
			continue
		}
		files = append(files, diff.FileDiff{
			Name:     path,
			Language: diff.DetectLanguage(path),
			Change:   diff.ChangeAdded,
			NewText:  string(content),
		})
	}
	return files
}

// PlanPoller watches for plan files the session's agent produced.
type PlanPoller struct {
	sessionID      string
	worktree       string
	agentKind      agent.Kind
	agentSessionID string
	discoverer     *plans.Discoverer
	cfg            *config.Config
	events         chan<- Event
	interval       time.Duration

	cancel context.CancelFunc
	done   chan struct{}

	lastSignature string
	published     bool
}

// NewPlanPoller creates a plan poller for a session.
func NewPlanPoller(sessionID, worktree string, kind agent.Kind, agentSessionID string, d *plans.Discoverer, cfg *config.Config, events chan<- Event) *PlanPoller {
	return &PlanPoller{
		sessionID:      sessionID,
		worktree:       worktree,
		agentKind:      kind,
		agentSessionID: agentSessionID,
		discoverer:     d,
		cfg:            cfg,
		events:         events,
		interval:       Interval,
	}
}

// Start launches the poll loop.
func (p *PlanPoller) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		loop(ctx, p.interval, p.iterate)
	}()
}

// Stop cancels the loop and waits for the current iteration to finish.
func (p *PlanPoller) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
}

func (p *PlanPoller) iterate(ctx context.Context) {
	snap := p.cfg.Snapshot()
	files := p.discoverer.Discover(p.agentKind, p.worktree, p.agentSessionID, snap)
	signature := plans.Signature(files)
	if p.published && signature == p.lastSignature {
		return
	}
	p.lastSignature = signature
	p.published = true
	publish(ctx, p.events, PlanEvent{
		SessionID: p.sessionID,
		Files:     files,
		Signature: signature,
	})
}
