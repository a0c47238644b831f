package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// profileFile is the YAML shape of a workspace guard profile.
type profileFile struct {
	Workspace string         `yaml:"workspace"`
	Guards    []profileGuard `yaml:"guards"`
}

type profileGuard struct {
	ID      string         `yaml:"id"`
	Name    string         `yaml:"name"`
	Type    string         `yaml:"type"`
	Enabled *bool          `yaml:"enabled,omitempty"`
	Config  map[string]any `yaml:"config,omitempty"`
}

// LoadProfile reads a workspace guard profile from
// <dir>/guards_<workspace>.yaml and returns the parsed guard set. Configs are
// schema-validated; a profile with a malformed config is rejected whole.
func LoadProfile(dir, workspace string) ([]Guard, error) {
	path := filepath.Join(dir, fmt.Sprintf("guards_%s.yaml", strings.ToLower(workspace)))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load guard profile %q: %w", workspace, err)
	}

	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse guard profile %q: %w", workspace, err)
	}
	if file.Workspace == "" {
		file.Workspace = workspace
	}

	guards := make([]Guard, 0, len(file.Guards))
	for i, pg := range file.Guards {
		raw, err := json.Marshal(pg.Config)
		if err != nil {
			return nil, fmt.Errorf("guard %q config: %w", pg.ID, err)
		}
		gtype := GuardType(pg.Type)
		if err := ValidateConfig(gtype, raw); err != nil {
			return nil, fmt.Errorf("guard %q: %w", pg.ID, err)
		}
		cfg, err := DecodeConfig(gtype, raw)
		if err != nil {
			return nil, fmt.Errorf("guard %q: %w", pg.ID, err)
		}
		enabled := true
		if pg.Enabled != nil {
			enabled = *pg.Enabled
		}
		guards = append(guards, Guard{
			ID:          pg.ID,
			WorkspaceID: file.Workspace,
			Name:        pg.Name,
			Type:        gtype,
			Enabled:     enabled,
			Position:    i,
			Config:      cfg,
		})
	}
	return guards, nil
}

// SeedStore loads a profile and writes its guards into a store, replacing
// guards with matching ids.
func SeedStore(ctx context.Context, store Store, dir, workspace string) error {
	guards, err := LoadProfile(dir, workspace)
	if err != nil {
		return err
	}
	for _, g := range guards {
		if err := store.PutGuard(ctx, g); err != nil {
			return fmt.Errorf("seed guard %q: %w", g.ID, err)
		}
	}
	return nil
}
