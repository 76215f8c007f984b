// Package security implements the validation judge guarding both directions
// of the engine boundary. Inbound text passes pattern, business, and
// semantic policy stages in that order; the semantic stage is a model call
// and only runs on text a cheap suspicion heuristic flags. Outbound text
// passes pattern and business stages. Rate limiting is enforced
// independently of the policy chain. Any stage failure is treated as unsafe
// (fail closed).
package security

import (
	"context"
	"fmt"
	"regexp"
	"strconv"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// Judge implements ports.SecurityJudge.
type Judge struct {
	enabled        bool
	inputPatterns  []compiledRule
	outputPatterns []compiledRule
	semantic       *SemanticJudge
	limiter        *RateLimiter
	settings       domain.SecuritySettings
	logger         ports.Logger
}

var _ ports.SecurityJudge = (*Judge)(nil)

// NewJudge loads rules (falling back to embedded defaults when the rules
// file is absent) and wires the rate limiter. semantic may be nil.
func NewJudge(settings domain.SecuritySettings, semantic *SemanticJudge, logger ports.Logger) (*Judge, error) {
	rules, err := loadRules(settings.RulesFile)
	if err != nil {
		return nil, fmt.Errorf("load security rules: %w", err)
	}
	input, err := compileRules(rules.Rules.InputPatterns)
	if err != nil {
		return nil, err
	}
	output, err := compileRules(rules.Rules.OutputPatterns)
	if err != nil {
		return nil, err
	}
	return &Judge{
		enabled:        settings.Enabled,
		inputPatterns:  input,
		outputPatterns: output,
		semantic:       semantic,
		limiter:        NewRateLimiter(settings.RatePerMinute, settings.RateBurst),
		settings:       settings,
		logger:         logger,
	}, nil
}

// ValidateInput runs the inbound policy chain. The first failing stage
// short-circuits; later stages never see text an earlier stage rejected.
func (j *Judge) ValidateInput(ctx context.Context, text string, sctx domain.SecurityContext) domain.SecurityVerdict {
	if !j.enabled {
		return domain.SecurityVerdict{Safe: true, Stage: domain.StagePattern}
	}
	if verdict := j.patternStage(domain.StagePattern, j.inputPatterns, text); !verdict.Safe {
		j.logger.Warn("input rejected", map[string]interface{}{
			"session": sctx.SessionID, "stage": verdict.Stage, "reason": verdict.Reason,
		})
		return verdict
	}
	if verdict := j.businessInput(text, sctx); !verdict.Safe {
		j.logger.Warn("input rejected", map[string]interface{}{
			"session": sctx.SessionID, "stage": verdict.Stage, "reason": verdict.Reason,
		})
		return verdict
	}
	if j.semantic.Enabled() && suspicious(text) {
		safe, reason, err := j.semantic.Assess(ctx, text, sctx)
		if err != nil {
			// Fail closed: an unavailable judge never waves text through.
			j.logger.Error("semantic judge unavailable", err, map[string]interface{}{"session": sctx.SessionID})
			return unsafeVerdict(domain.StageSemantic, "semantic judge unavailable")
		}
		if !safe {
			return unsafeVerdict(domain.StageSemantic, reason)
		}
		return domain.SecurityVerdict{Safe: true, Stage: domain.StageSemantic}
	}
	return domain.SecurityVerdict{Safe: true, Stage: domain.StageBusiness}
}

// ValidateOutput screens generated text before it reaches the user.
func (j *Judge) ValidateOutput(ctx context.Context, text string, sctx domain.SecurityContext) domain.SecurityVerdict {
	if !j.enabled {
		return domain.SecurityVerdict{Safe: true, Stage: domain.StagePattern}
	}
	if verdict := j.patternStage(domain.StagePattern, j.outputPatterns, text); !verdict.Safe {
		j.logger.Warn("output rejected", map[string]interface{}{
			"session": sctx.SessionID, "reason": verdict.Reason,
		})
		return verdict
	}
	if verdict := j.businessOutput(text, sctx); !verdict.Safe {
		j.logger.Warn("output rejected", map[string]interface{}{
			"session": sctx.SessionID, "reason": verdict.Reason,
		})
		return verdict
	}
	return domain.SecurityVerdict{Safe: true, Stage: domain.StageBusiness}
}

// CheckRate consumes one turn token for the session.
func (j *Judge) CheckRate(sessionID string) domain.SecurityVerdict {
	allowed, wait := j.limiter.Allow(sessionID)
	if allowed {
		return domain.SecurityVerdict{Safe: true, Stage: domain.StageRateLimit}
	}
	return domain.SecurityVerdict{
		Safe:       false,
		Stage:      domain.StageRateLimit,
		Reason:     "session rate limit exceeded",
		Fallback:   "You're sending messages a little too quickly. Give me a moment and try again.",
		RetryAfter: wait,
	}
}

// RateTokens reports the session's remaining budget for state snapshots.
func (j *Judge) RateTokens(sessionID string) float64 {
	return j.limiter.Tokens(sessionID)
}

func (j *Judge) patternStage(stage string, rules []compiledRule, text string) domain.SecurityVerdict {
	// Severity ordering: scan every rule and report the worst match, so a
	// severe rule is never shadowed by an earlier elevated one.
	var worst *compiledRule
	for i := range rules {
		if !rules[i].re.MatchString(text) {
			continue
		}
		if worst == nil || moreSevere(parseThreat(rules[i].rule.Threat), parseThreat(worst.rule.Threat)) {
			worst = &rules[i]
		}
	}
	if worst == nil {
		return domain.SecurityVerdict{Safe: true, Stage: stage}
	}
	return unsafeVerdict(stage, worst.rule.Reason)
}

var quantityRe = regexp.MustCompile(`(?i)\b(\d{1,12})\s*(?:x\b|units?|pcs|pieces|copies|of\b)`)

// businessInput enforces commerce plausibility rules that regex patterns
// alone cannot express.
func (j *Judge) businessInput(text string, sctx domain.SecurityContext) domain.SecurityVerdict {
	maxQty := 1000
	if sctx.Mode == domain.ModeB2B {
		maxQty = 100000
	}
	for _, match := range quantityRe.FindAllStringSubmatch(text, -1) {
		qty, err := strconv.Atoi(match[1])
		if err != nil {
			continue
		}
		if qty > maxQty {
			return unsafeVerdict(domain.StageBusiness,
				fmt.Sprintf("requested quantity %d exceeds the %s limit", qty, sctx.Mode))
		}
	}
	return domain.SecurityVerdict{Safe: true, Stage: domain.StageBusiness}
}

var priceRe = regexp.MustCompile(`\$(\d+)\.(\d{2})\b`)

// businessOutput blocks replies quoting prices below the configured floor,
// the observable symptom of a successful price manipulation.
func (j *Judge) businessOutput(text string, _ domain.SecurityContext) domain.SecurityVerdict {
	if j.settings.MinUnitPriceCents <= 0 {
		return domain.SecurityVerdict{Safe: true, Stage: domain.StageBusiness}
	}
	for _, match := range priceRe.FindAllStringSubmatch(text, -1) {
		dollars, _ := strconv.ParseInt(match[1], 10, 64)
		cents, _ := strconv.ParseInt(match[2], 10, 64)
		total := dollars*100 + cents
		if total > 0 && total < j.settings.MinUnitPriceCents {
			return unsafeVerdict(domain.StageBusiness, "reply quotes a price below the allowed floor")
		}
	}
	return domain.SecurityVerdict{Safe: true, Stage: domain.StageBusiness}
}

func unsafeVerdict(stage, reason string) domain.SecurityVerdict {
	return domain.SecurityVerdict{
		Safe:   false,
		Stage:  stage,
		Reason: reason,
		// The fallback is deliberately generic: naming the tripped rule
		// would teach an attacker which probe landed.
		Fallback: "I can't help with that request. Is there something else I can help you find?",
	}
}

func moreSevere(next, current domain.ThreatLevel) bool {
	order := map[domain.ThreatLevel]int{
		domain.ThreatNone:     0,
		domain.ThreatElevated: 1,
		domain.ThreatSevere:   2,
	}
	return order[next] > order[current]
}

// ThreatFor maps a failed verdict to the session threat escalation it earns.
// Pattern and semantic rejections are deliberate manipulation attempts;
// business rejections are merely implausible requests.
func ThreatFor(verdict domain.SecurityVerdict) domain.ThreatLevel {
	if verdict.Safe {
		return domain.ThreatNone
	}
	if verdict.Stage == domain.StagePattern || verdict.Stage == domain.StageSemantic {
		return domain.ThreatSevere
	}
	return domain.ThreatElevated
}
