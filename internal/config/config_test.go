package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFromMissingFile(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("missing config should yield defaults: %v", err)
	}
	if cfg.GetUnattendedMode() {
		t.Error("unattended mode should default off")
	}
	if cfg.GetDefaultAgent() != "claude" {
		t.Errorf("default agent = %q", cfg.GetDefaultAgent())
	}
	if cfg.GetExtraPlanDirs() == nil {
		t.Error("plan dirs should be initialized, not nil")
	}
}

func TestSaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatal(err)
	}

	cfg.SetUnattendedMode(true)
	cfg.SetNotificationsEnabled(true)
	if !cfg.AddExtraPlanDir("docs/plans") {
		t.Error("first add should report true")
	}
	if cfg.AddExtraPlanDir("docs/plans") {
		t.Error("duplicate add should report false")
	}
	if err := cfg.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if !reloaded.GetUnattendedMode() || !reloaded.GetNotificationsEnabled() {
		t.Error("flags not persisted")
	}
	dirs := reloaded.GetExtraPlanDirs()
	if len(dirs) != 1 || dirs[0] != "docs/plans" {
		t.Errorf("plan dirs not persisted: %v", dirs)
	}
}

func TestValidateRejectsAbsolutePlanDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"extra_plan_dirs": ["/etc/plans"]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFrom(path); err == nil {
		t.Error("absolute plan dir should fail validation")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	cfg.AddExtraPlanDir("a")

	snap := cfg.Snapshot()
	cfg.AddExtraPlanDir("b")

	if len(snap.ExtraPlanDirs) != 1 {
		t.Errorf("snapshot should not see later mutations: %v", snap.ExtraPlanDirs)
	}
}

func TestLoadWorkspaceSettings(t *testing.T) {
	worktree := t.TempDir()

	// Missing file yields the zero value.
	ws := LoadWorkspaceSettings(worktree)
	if len(ws.PlanDirs) != 0 {
		t.Errorf("expected empty settings, got %+v", ws)
	}

	if err := os.WriteFile(filepath.Join(worktree, WorkspaceSettingsFile), []byte("plan_dirs:\n  - specs\n  - rfcs\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ws = LoadWorkspaceSettings(worktree)
	if len(ws.PlanDirs) != 2 || ws.PlanDirs[0] != "specs" || ws.PlanDirs[1] != "rfcs" {
		t.Errorf("unexpected workspace settings: %+v", ws)
	}

	// Malformed yaml also yields the zero value rather than an error.
	if err := os.WriteFile(filepath.Join(worktree, WorkspaceSettingsFile), []byte("plan_dirs: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	ws = LoadWorkspaceSettings(worktree)
	if len(ws.PlanDirs) != 0 {
		t.Errorf("malformed settings should be ignored, got %+v", ws)
	}
}
