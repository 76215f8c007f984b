package domain

import "time"

// Validation stages, ordered cheapest first. The judge stops at the first
// stage that rejects.
const (
	StagePattern   = "pattern"
	StageBusiness  = "business"
	StageSemantic  = "semantic"
	StageRateLimit = "rate_limit"
)

// SecurityVerdict is the judge's decision for one boundary crossing.
// An unsafe verdict carries a Fallback the executor substitutes for the
// rejected content rather than failing the turn.
type SecurityVerdict struct {
	Safe       bool
	Stage      string
	Reason     string
	Fallback   string
	RetryAfter time.Duration
}

// Record converts the verdict into an audit entry.
func (v SecurityVerdict) Record(at time.Time) ValidationRecord {
	return ValidationRecord{Stage: v.Stage, Safe: v.Safe, Reason: v.Reason, At: at}
}

// SecurityContext is the state slice the judge needs for business-rule and
// rate-limit checks.
type SecurityContext struct {
	SessionID        string
	Mode             Mode
	Cart             CartSnapshot
	AvailableActions []string
	ThreatLevel      ThreatLevel
}
