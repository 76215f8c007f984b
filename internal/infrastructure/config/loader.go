// Package config loads YAML configuration from disk with embedded-default
// bootstrap: the first run writes ~/.merchat/config.yaml and the security
// and action documents next to it.
package config

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/merchat/assets"
	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// FileLoader loads YAML configuration from ~/.merchat/config.yaml
// (overridable via MERCHAT_CONFIG).
type FileLoader struct {
	overridePath string
}

var _ ports.ConfigProvider = (*FileLoader)(nil)

// NewFileLoader builds a new loader.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Path returns the resolved config file location.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Load implements ports.ConfigProvider.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := bootstrap(path); err != nil {
				return domain.Config{}, err
			}
			data = assets.DefaultConfigYAML
		} else {
			return domain.Config{}, err
		}
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, err
	}
	return hydrateDefaults(cfg), nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return expandPath(l.overridePath)
	}
	if custom := os.Getenv("MERCHAT_CONFIG"); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(userHomeDir(), ".merchat", "config.yaml")
}

func ensureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), 0o755)
}

// bootstrap writes the embedded defaults next to the config file so a
// fresh install has editable documents to start from.
func bootstrap(configPath string) error {
	dir := filepath.Dir(configPath)
	files := map[string][]byte{
		configPath:                          assets.DefaultConfigYAML,
		filepath.Join(dir, "security.yaml"): assets.DefaultSecurityYAML,
		filepath.Join(dir, "actions.yaml"):  assets.DefaultActionsYAML,
	}
	for path, content := range files {
		if _, err := os.Stat(path); err == nil {
			continue
		}
		if err := os.WriteFile(path, content, 0o600); err != nil {
			return err
		}
	}
	return nil
}

func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}
	if cfg.Preferences.DefaultModel == "" && len(cfg.Models) > 0 {
		cfg.Preferences.DefaultModel = cfg.Models[0].Name
	}
	if cfg.Preferences.DefaultMode == "" {
		cfg.Preferences.DefaultMode = string(domain.ModeB2C)
	}
	if cfg.Budgets.StandardTurnMs == 0 {
		cfg.Budgets.StandardTurnMs = 250
	}
	if cfg.Budgets.BulkTurnMs == 0 {
		cfg.Budgets.BulkTurnMs = 2000
	}
	if cfg.Budgets.DependencyMs == 0 {
		cfg.Budgets.DependencyMs = 50
	}
	if cfg.Budgets.ModelMs == 0 {
		cfg.Budgets.ModelMs = 150
	}
	if cfg.Budgets.MaxToolHops == 0 {
		cfg.Budgets.MaxToolHops = 5
	}
	if cfg.Budgets.RetryBackoffMs == 0 {
		cfg.Budgets.RetryBackoffMs = 10
	}
	if cfg.Cache.L1MaxEntries == 0 {
		cfg.Cache.L1MaxEntries = 512
	}
	if cfg.Cache.DefaultTTLSeconds == 0 {
		cfg.Cache.DefaultTTLSeconds = 60
	}
	if cfg.Security.RatePerMinute == 0 {
		cfg.Security.RatePerMinute = 30
	}
	if cfg.Security.RateBurst == 0 {
		cfg.Security.RateBurst = 10
	}
	if cfg.State.HistoryLimit == 0 {
		cfg.State.HistoryLimit = 50
	}
	cfg.Security.RulesFile = expandPath(cfg.Security.RulesFile)
	cfg.Actions.DefinitionsFile = expandPath(cfg.Actions.DefinitionsFile)
	cfg.Cache.L2Path = expandPath(cfg.Cache.L2Path)
	cfg.State.CheckpointPath = expandPath(cfg.State.CheckpointPath)
	return cfg
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if len(path) > 1 && path[:2] == "~/" {
		return filepath.Join(userHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

func userHomeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
