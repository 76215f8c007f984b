package security

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/merchat/internal/domain"
)

// PatternRule is a regex-based policy rule loaded from YAML.
type PatternRule struct {
	Pattern string `yaml:"pattern"`
	Reason  string `yaml:"reason"`
	Threat  string `yaml:"threat"`
}

// RulesFile is the YAML schema root for the security rules document.
type RulesFile struct {
	Rules struct {
		InputPatterns  []PatternRule `yaml:"input_patterns"`
		OutputPatterns []PatternRule `yaml:"output_patterns"`
	} `yaml:"rules"`
}

type compiledRule struct {
	re   *regexp.Regexp
	rule PatternRule
}

func loadRules(path string) (RulesFile, error) {
	var rules RulesFile
	if path == "" {
		rules.Rules.InputPatterns = defaultInputPatterns()
		rules.Rules.OutputPatterns = defaultOutputPatterns()
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// fall back to defaults
		rules.Rules.InputPatterns = defaultInputPatterns()
		rules.Rules.OutputPatterns = defaultOutputPatterns()
		return rules, nil
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, err
	}
	if len(rules.Rules.InputPatterns) == 0 {
		rules.Rules.InputPatterns = defaultInputPatterns()
	}
	if len(rules.Rules.OutputPatterns) == 0 {
		rules.Rules.OutputPatterns = defaultOutputPatterns()
	}
	return rules, nil
}

func compileRules(rules []PatternRule) ([]compiledRule, error) {
	var compiled []compiledRule
	for _, rule := range rules {
		re, err := regexp.Compile(`(?i)` + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile rule %q: %w", rule.Pattern, err)
		}
		compiled = append(compiled, compiledRule{re: re, rule: rule})
	}
	return compiled, nil
}

func parseThreat(value string) domain.ThreatLevel {
	switch value {
	case "severe":
		return domain.ThreatSevere
	case "elevated":
		return domain.ThreatElevated
	default:
		return domain.ThreatElevated
	}
}

func defaultInputPatterns() []PatternRule {
	return []PatternRule{
		{Pattern: `ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts?)`, Reason: "Instruction override attempt", Threat: "severe"},
		{Pattern: `disregard\s+(your|the)\s+(instructions|rules|guidelines)`, Reason: "Instruction override attempt", Threat: "severe"},
		{Pattern: `(reveal|show|print|repeat)\s+(your|the)\s+(system\s+)?prompt`, Reason: "System prompt extraction", Threat: "severe"},
		{Pattern: `you\s+are\s+now\s+(a|an|in)\s`, Reason: "Role reassignment attempt", Threat: "elevated"},
		{Pattern: `\bDAN\s+mode\b`, Reason: "Jailbreak template", Threat: "severe"},
		{Pattern: `pretend\s+(you\s+have\s+)?no\s+(rules|restrictions|limits)`, Reason: "Restriction bypass attempt", Threat: "elevated"},
		{Pattern: `(set|change|override)\s+(the\s+)?price\s+to\s+\$?0`, Reason: "Price manipulation attempt", Threat: "severe"},
		{Pattern: `free\s+of\s+charge\s+override`, Reason: "Price manipulation attempt", Threat: "severe"},
		{Pattern: `apply\s+a?\s*100%\s+discount`, Reason: "Discount manipulation attempt", Threat: "severe"},
		{Pattern: `<\s*script\b`, Reason: "Markup injection", Threat: "elevated"},
		{Pattern: `\{\{.*\}\}`, Reason: "Template injection", Threat: "elevated"},
		{Pattern: `\b(drop|truncate|alter)\s+table\b`, Reason: "SQL injection attempt", Threat: "severe"},
		{Pattern: `\bunion\s+(all\s+)?select\b`, Reason: "SQL injection attempt", Threat: "severe"},
		{Pattern: `;\s*--`, Reason: "SQL injection attempt", Threat: "severe"},
		{Pattern: `\b(give|grant)\s+(me\s+)?(admin|root|superuser)\s+(access|privileges?|rights)\b`, Reason: "Privilege escalation attempt", Threat: "severe"},
		{Pattern: `\b(dump|export|list)\s+(all\s+)?(customer|user)\s+(emails?|passwords?|data|records)\b`, Reason: "Data exfiltration attempt", Threat: "severe"},
	}
}

func defaultOutputPatterns() []PatternRule {
	return []PatternRule{
		{Pattern: `system\s+prompt\s*:`, Reason: "System prompt leak", Threat: "severe"},
		{Pattern: `(?:^|\s)(?:api[_-]?key|secret[_-]?key|bearer)\s*[:=]`, Reason: "Credential leak", Threat: "severe"},
		{Pattern: `as\s+an\s+ai\s+(language\s+)?model`, Reason: "Persona leak", Threat: "elevated"},
		{Pattern: `\$0\.00\b`, Reason: "Zero price in reply", Threat: "elevated"},
	}
}
