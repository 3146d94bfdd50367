package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// WorkspaceSettings are per-project overrides read from a .troupe.yaml file
// at the worktree root. Missing file yields zero-value settings.
type WorkspaceSettings struct {
	// PlanDirs are extra worktree-relative directories scanned for plan files.
	PlanDirs []string `yaml:"plan_dirs"`
}

// WorkspaceSettingsFile is the per-worktree settings file name.
const WorkspaceSettingsFile = ".troupe.yaml"

// LoadWorkspaceSettings reads .troupe.yaml from the given worktree.
// A missing or malformed file is not an error; background loops must never
// fail on local settings noise.
func LoadWorkspaceSettings(worktree string) WorkspaceSettings {
	var ws WorkspaceSettings
	data, err := os.ReadFile(filepath.Join(worktree, WorkspaceSettingsFile))
	if err != nil {
		return ws
	}
	if err := yaml.Unmarshal(data, &ws); err != nil {
		return WorkspaceSettings{}
	}
	return ws
}
