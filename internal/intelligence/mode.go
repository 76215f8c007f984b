// Package intelligence hosts the mode classifier and the context enricher:
// the two signals that shape which actions a turn may use and what data the
// model sees.
package intelligence

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/doeshing/merchat/internal/domain"
	"github.com/doeshing/merchat/internal/ports"
)

// b2bSignals are lexical markers of wholesale intent. Matching is
// case-insensitive against the whole utterance.
var b2bSignals = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bbulk\b`),
	regexp.MustCompile(`(?i)\bwholesale\b`),
	regexp.MustCompile(`(?i)\b(request|need|get)\s+a\s+quote\b`),
	regexp.MustCompile(`(?i)\bquotation\b`),
	regexp.MustCompile(`(?i)\b(my|our)\s+(company|business|firm|office)\b`),
	regexp.MustCompile(`(?i)\bcorporate\s+(account|order|pricing)\b`),
	regexp.MustCompile(`(?i)\btax.?exempt\b`),
	regexp.MustCompile(`(?i)\bpurchase\s+order\b`),
	regexp.MustCompile(`(?i)\bnet.?(30|60|90)\b`),
	regexp.MustCompile(`(?i)\bresell(er|ing)?\b`),
	regexp.MustCompile(`(?i)\bcsv\s+(upload|import|order)\b`),
	regexp.MustCompile(`(?i)\b\d{3,}\s*(units|pcs|pieces|seats|licenses)\b`),
}

// b2bOrderVolumeThreshold is the 90-day order count above which a fresh
// session starts in wholesale mode even without lexical signals.
const b2bOrderVolumeThreshold = 10

// ModeDetector classifies each turn as retail or wholesale from lexical
// signals and the customer's order history. Classification is sticky: once a
// session is B2B it stays B2B, because wholesale customers routinely mix
// small personal asks into a business conversation and flip-flopping modes
// would re-price their cart mid-session.
type ModeDetector struct {
	data    ports.DataAccess
	timeout time.Duration
	logger  ports.Logger
}

// NewModeDetector creates a detector. data may be nil to disable the order
// history signal.
func NewModeDetector(data ports.DataAccess, timeout time.Duration, logger ports.Logger) *ModeDetector {
	if timeout <= 0 {
		timeout = 50 * time.Millisecond
	}
	return &ModeDetector{data: data, timeout: timeout, logger: logger}
}

// Detect returns the mode for this turn. An explicit override always wins
// and is the only way to leave B2B once entered. A single turn without
// wholesale signals never flips an established mode.
func (d *ModeDetector) Detect(ctx context.Context, sessionID string, current domain.Mode, message string, override domain.Mode) domain.Mode {
	if override != domain.ModeUnknown {
		return override
	}
	if current == domain.ModeB2B {
		return domain.ModeB2B
	}
	if d.looksWholesale(message) {
		return domain.ModeB2B
	}
	if current == domain.ModeUnknown {
		if d.highOrderVolume(ctx, sessionID) {
			return domain.ModeB2B
		}
		return domain.ModeB2C
	}
	return current
}

// highOrderVolume consults the customer's purchase history. The signal only
// seeds a session's initial mode; profile data alone does not flip an
// established retail session.
func (d *ModeDetector) highOrderVolume(ctx context.Context, sessionID string) bool {
	if d.data == nil {
		return false
	}
	fctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	profile, err := d.data.CustomerProfile(fctx, sessionID)
	if err != nil {
		d.logger.Warn("order volume lookup failed, assuming retail", map[string]interface{}{
			"session": sessionID, "error": err.Error(),
		})
		return false
	}
	return profile.OrderVolume90 >= b2bOrderVolumeThreshold
}

func (d *ModeDetector) looksWholesale(message string) bool {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		return false
	}
	for _, signal := range b2bSignals {
		if signal.MatchString(trimmed) {
			return true
		}
	}
	return false
}
