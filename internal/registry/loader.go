package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// actionEntry is one row of the actions YAML document. Entries select a
// builtin executor and may override its declarative surface; executors
// never come from configuration.
type actionEntry struct {
	Name            string                `yaml:"name"`
	Executor        string                `yaml:"executor"`
	Enabled         *bool                 `yaml:"enabled"`
	Description     string                `yaml:"description"`
	Modes           []string              `yaml:"modes"`
	CacheTTLSeconds *int                  `yaml:"cache_ttl_seconds"`
	Parameters      map[string]paramEntry `yaml:"parameters"`
}

type paramEntry struct {
	Type        string   `yaml:"type"`
	Description string   `yaml:"description"`
	Required    bool     `yaml:"required"`
	Enum        []string `yaml:"enum"`
	Minimum     *float64 `yaml:"minimum"`
	Maximum     *float64 `yaml:"maximum"`
}

type actionsFile struct {
	Actions []actionEntry `yaml:"actions"`
}

// Loader builds registry snapshots from the actions document.
type Loader struct {
	builtins *Builtins
	logger   ports.Logger
}

// NewLoader creates a loader over the builtin catalog.
func NewLoader(builtins *Builtins, logger ports.Logger) *Loader {
	return &Loader{builtins: builtins, logger: logger}
}

// Load parses path into action definitions. A missing file yields the
// builtin defaults. An invalid entry is skipped with a logged diagnostic
// naming it; one bad row must not take its healthy neighbors out of the
// catalog. Only an unreadable or unparseable document fails the load.
func (l *Loader) Load(path string) ([]domain.ActionDefinition, error) {
	if path == "" {
		return l.builtins.Definitions(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			l.logger.Info("actions file absent, using builtin defaults", map[string]interface{}{"path": path})
			return l.builtins.Definitions(), nil
		}
		return nil, fmt.Errorf("read actions file: %w", err)
	}

	var doc actionsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse actions file: %w", err)
	}

	var defs []domain.ActionDefinition
	for i, entry := range doc.Actions {
		def, err := l.resolve(entry)
		if err != nil {
			l.logger.Warn("skipping invalid action entry", map[string]interface{}{
				"index": i, "name": entry.Name, "error": err.Error(),
			})
			continue
		}
		if entry.Enabled != nil && !*entry.Enabled {
			continue
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func (l *Loader) resolve(entry actionEntry) (domain.ActionDefinition, error) {
	executor := entry.Executor
	if executor == "" {
		executor = entry.Name
	}
	def, ok := l.builtins.Executor(executor)
	if !ok {
		return domain.ActionDefinition{}, fmt.Errorf("unknown executor %q", executor)
	}
	if entry.Name != "" {
		def.Name = entry.Name
	}
	if entry.Description != "" {
		def.Description = entry.Description
	}
	if entry.Modes != nil {
		def.Modes = nil
		for _, raw := range entry.Modes {
			mode := domain.ParseMode(raw)
			if mode == domain.ModeUnknown {
				return domain.ActionDefinition{}, fmt.Errorf("unknown mode %q", raw)
			}
			def.Modes = append(def.Modes, mode)
		}
	}
	if entry.CacheTTLSeconds != nil {
		def.CachePolicy = domain.CachePolicy{TTL: time.Duration(*entry.CacheTTLSeconds) * time.Second}
	}
	if entry.Parameters != nil {
		fields := make(map[string]domain.ParamSpec, len(entry.Parameters))
		for name, p := range entry.Parameters {
			fields[name] = domain.ParamSpec{
				Type:        domain.ParamType(p.Type),
				Description: p.Description,
				Required:    p.Required,
				Enum:        p.Enum,
				Minimum:     p.Minimum,
				Maximum:     p.Maximum,
			}
		}
		def.Parameters = domain.ParameterSchema{Fields: fields}
	}
	return def, nil
}
