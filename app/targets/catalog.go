package targets

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/gh-harvest/app/harvest"
)

// Catalog holds one target config per kind. It starts from the built-in
// defaults; a <kind>.yml file in the targets directory overrides the fields
// it sets.
type Catalog struct {
	targetsDir string
	cache      map[harvest.Kind]*Config
	mu         sync.RWMutex
}

func NewCatalog(targetsDir string) *Catalog {
	return &Catalog{
		targetsDir: targetsDir,
		cache:      DefaultConfigs(),
	}
}

func (c *Catalog) Run() error {
	if _, err := os.Stat(c.targetsDir); os.IsNotExist(err) {
		slog.Debug("Targets directory not found, using built-in targets", "dir", c.targetsDir)
		return nil
	}

	files, err := filepath.Glob(filepath.Join(c.targetsDir, "*.yml"))
	if err != nil {
		return fmt.Errorf("failed to find YML files: %w", err)
	}

	for _, file := range files {
		name := strings.TrimSuffix(filepath.Base(file), ".yml")

		kind, err := harvest.ParseKind(name)
		if err != nil {
			slog.Warn("Ignoring targets file for unknown kind", "file", file)
			continue
		}

		config, err := c.LoadConfig(kind)
		if err != nil {
			return fmt.Errorf("error loading %s: %w", file, err)
		}

		slog.Debug("Targets configuration loaded", "kind", kind, "enabled", config.Settings.Enabled, "technologies", len(config.Technologies))
	}

	return nil
}

func (c *Catalog) LoadConfig(kind harvest.Kind) (*Config, error) {
	configFile := c.getConfigFilePath(kind)
	config, err := c.parseConfig(kind, configFile)
	if err != nil {
		return nil, err
	}

	config.Kind = kind

	if err := c.validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", configFile, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[kind] = config

	return config, nil
}

func (c *Catalog) GetConfig(kind harvest.Kind) (*Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	config, ok := c.cache[kind]
	if !ok {
		return nil, fmt.Errorf("targets config for kind '%s' not found", kind)
	}
	return config, nil
}

func (c *Catalog) GetConfigCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Targets expands the configs of the given kinds into targets, in kind,
// technology and repository order. An empty kinds list selects every
// enabled kind.
func (c *Catalog) Targets(kinds []harvest.Kind) ([]harvest.Target, error) {
	explicit := len(kinds) > 0
	if !explicit {
		kinds = harvest.AllKinds
	}

	var out []harvest.Target
	for _, kind := range kinds {
		config, err := c.GetConfig(kind)
		if err != nil {
			return nil, err
		}
		if !config.Settings.Enabled && !explicit {
			slog.Debug("Kind disabled, skipping", "kind", kind)
			continue
		}

		since, err := parseDate(config.Settings.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid since for %s: %w", kind, err)
		}

		for _, tech := range config.Technologies {
			for _, repo := range tech.Targets {
				out = append(out, harvest.Target{
					Kind:       kind,
					Repo:       repo,
					Technology: tech.Name,
					Since:      since,
					PerPage:    config.Settings.PerPage,
					MaxPages:   config.Settings.MaxPages,
					MaxItems:   config.Settings.MaxItems,
					Filter:     config.Filter,
				})
			}
		}
	}

	return out, nil
}

// parseConfig decodes the file over a copy of the kind's defaults, so a file
// only needs the keys it changes.
func (c *Catalog) parseConfig(kind harvest.Kind, configFile string) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	config, ok := DefaultConfigs()[kind]
	if !ok {
		return nil, fmt.Errorf("no defaults for kind '%s'", kind)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return config, nil
}

func (c *Catalog) validateConfig(config *Config) error {
	if config == nil {
		return fmt.Errorf("config is nil")
	}

	nonNegativeFields := map[string]int{
		"per page":            config.Settings.PerPage,
		"max pages":           config.Settings.MaxPages,
		"max items":           config.Settings.MaxItems,
		"min problem length":  config.Filter.MinProblemLength,
		"max problem length":  config.Filter.MaxProblemLength,
		"min solution length": config.Filter.MinSolutionLength,
		"max solution length": config.Filter.MaxSolutionLength,
	}

	for fieldName, fieldValue := range nonNegativeFields {
		if fieldValue < 0 {
			return fmt.Errorf("%s must be non-negative", fieldName)
		}
	}

	if config.Settings.PerPage > 100 {
		return fmt.Errorf("per page must not exceed 100, got %d", config.Settings.PerPage)
	}

	if _, err := parseDate(config.Settings.Since); err != nil {
		return fmt.Errorf("invalid since: %w", err)
	}
	if _, err := config.Filter.Cutoff(); err != nil {
		return err
	}

	for i, tech := range config.Technologies {
		if tech.Name == "" {
			return fmt.Errorf("technology at index %d must have a name", i)
		}
		for _, target := range tech.Targets {
			if target == "" {
				return fmt.Errorf("technology %s has an empty target", tech.Name)
			}
			if config.Kind.IsGitHub() {
				if _, _, err := (harvest.Target{Repo: target}).OwnerName(); err != nil {
					return fmt.Errorf("technology %s: %w", tech.Name, err)
				}
			}
		}
	}

	return nil
}

func (c *Catalog) getConfigFilePath(kind harvest.Kind) string {
	return filepath.Join(c.targetsDir, string(kind)+".yml")
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", s)
}
