package domain

// Mode classifies a conversation as consumer (B2C) or business (B2B).
// Classification is sticky: only an explicit SetMode command changes it.
type Mode string

const (
	ModeUnknown Mode = "unknown"
	ModeB2C     Mode = "b2c"
	ModeB2B     Mode = "b2b"
)

// ParseMode maps a raw string to a Mode, defaulting to ModeUnknown.
func ParseMode(value string) Mode {
	switch value {
	case string(ModeB2C):
		return ModeB2C
	case string(ModeB2B):
		return ModeB2B
	default:
		return ModeUnknown
	}
}

// Applies reports whether the mode list includes the given mode.
// An empty list means the definition applies to every mode.
func Applies(modes []Mode, mode Mode) bool {
	if len(modes) == 0 {
		return true
	}
	for _, m := range modes {
		if m == mode {
			return true
		}
	}
	return false
}
