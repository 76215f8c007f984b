package domain

import "time"

// Config mirrors ~/.merchat/config.yaml.
type Config struct {
	ConfigFormatVersion string            `yaml:"config_format_version"`
	Preferences         Preferences       `yaml:"preferences"`
	Budgets             BudgetSettings    `yaml:"budgets"`
	Cache               CacheSettings     `yaml:"cache"`
	Security            SecuritySettings  `yaml:"security"`
	Actions             ActionSettings    `yaml:"actions"`
	State               StateSettings     `yaml:"state"`
	Models              []ModelDefinition `yaml:"models"`
}

// Preferences captures operator level toggles.
type Preferences struct {
	DefaultModel    string `yaml:"default_model"`
	DefaultMode     string `yaml:"default_mode"`
	StreamByDefault bool   `yaml:"stream_by_default"`
}

// BudgetSettings bound turn latency. Every external call gets its own
// sub-timeout so one slow dependency cannot silently consume the whole turn.
type BudgetSettings struct {
	StandardTurnMs int `yaml:"standard_turn_ms"`
	BulkTurnMs     int `yaml:"bulk_turn_ms"`
	DependencyMs   int `yaml:"dependency_ms"`
	ModelMs        int `yaml:"model_ms"`
	MaxToolHops    int `yaml:"max_tool_hops"`
	RetryBackoffMs int `yaml:"retry_backoff_ms"`
}

// TurnDeadline returns the whole-turn budget for a mode tier.
func (b BudgetSettings) TurnDeadline(mode Mode) time.Duration {
	if mode == ModeB2B && b.BulkTurnMs > 0 {
		return time.Duration(b.BulkTurnMs) * time.Millisecond
	}
	return time.Duration(b.StandardTurnMs) * time.Millisecond
}

// DependencyTimeout returns the per-call budget for data access reads.
func (b BudgetSettings) DependencyTimeout() time.Duration {
	return time.Duration(b.DependencyMs) * time.Millisecond
}

// ModelTimeout returns the per-call budget for model inference.
func (b BudgetSettings) ModelTimeout() time.Duration {
	return time.Duration(b.ModelMs) * time.Millisecond
}

// RetryBackoff returns the pause before the single transient retry.
func (b BudgetSettings) RetryBackoff() time.Duration {
	return time.Duration(b.RetryBackoffMs) * time.Millisecond
}

// CacheSettings configure the two cache tiers.
type CacheSettings struct {
	Enabled           bool   `yaml:"enabled"`
	L1MaxEntries      int    `yaml:"l1_max_entries"`
	DefaultTTLSeconds int    `yaml:"default_ttl_seconds"`
	L2Path            string `yaml:"l2_path"`
}

// DefaultTTL returns the cache TTL for actions that do not set their own.
func (c CacheSettings) DefaultTTL() time.Duration {
	return time.Duration(c.DefaultTTLSeconds) * time.Second
}

// SecuritySettings define judge behavior.
type SecuritySettings struct {
	Enabled            bool   `yaml:"enabled"`
	RulesFile          string `yaml:"rules_file"`
	RatePerMinute      int    `yaml:"rate_per_minute"`
	RateBurst          int    `yaml:"rate_burst"`
	MinUnitPriceCents  int64  `yaml:"min_unit_price_cents"`
	SemanticJudgeModel string `yaml:"semantic_judge_model"`
}

// ActionSettings locate the action-definition document.
type ActionSettings struct {
	DefinitionsFile string `yaml:"definitions_file"`
	HotReload       bool   `yaml:"hot_reload"`
}

// StateSettings control conversation persistence and windowing.
type StateSettings struct {
	CheckpointPath string `yaml:"checkpoint_path"`
	HistoryLimit   int    `yaml:"history_limit"`
}

// FindModelByName searches for a model by its name.
func (c *Config) FindModelByName(name string) (ModelDefinition, bool) {
	for _, model := range c.Models {
		if model.Name == name {
			return model, true
		}
	}
	return ModelDefinition{}, false
}

// GetDefaultModel retrieves the default model definition from configuration.
func (c *Config) GetDefaultModel() (ModelDefinition, bool) {
	if c.Preferences.DefaultModel != "" {
		return c.FindModelByName(c.Preferences.DefaultModel)
	}
	if len(c.Models) > 0 {
		return c.Models[0], true
	}
	return ModelDefinition{}, false
}
