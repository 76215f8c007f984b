package security

import (
	"regexp"
	"unicode"
	"unicode/utf8"
)

// suspicionMarkers are cheap signals that text warrants the semantic stage.
// The semantic judge is a model call; consulting it on every turn would put
// an inference round-trip in front of "show me laptops".
var suspicionMarkers = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(instruction|prompt|system|policy|guideline)s?\b`),
	regexp.MustCompile(`(?i)\b(pretend|roleplay|role-play|act\s+as|imagine\s+you)\b`),
	regexp.MustCompile(`(?i)\b(admin|root|password|credential|token|jailbreak|bypass|override)\b`),
	regexp.MustCompile(`(?i)\binstead\s+of\b`),
	regexp.MustCompile(`(?i)\b(free|discount|refund)\b.*\b(everything|all|100)\b`),
	regexp.MustCompile("```|\\{\\{|<[a-zA-Z]+>"),
	regexp.MustCompile(`(?i)\bbase64\b|%[0-9a-f]{2}%[0-9a-f]{2}`),
}

// symbolRatioCeiling flags messages that are mostly punctuation or code,
// which no ordinary shopping utterance is.
const symbolRatioCeiling = 0.3

// suspicious reports whether text should be escalated to the semantic judge.
// False negatives here only skip the most expensive stage; the pattern and
// business stages have already passed the text.
func suspicious(text string) bool {
	for _, marker := range suspicionMarkers {
		if marker.MatchString(text) {
			return true
		}
	}
	return symbolRatio(text) > symbolRatioCeiling
}

func symbolRatio(text string) float64 {
	runes := utf8.RuneCountInString(text)
	if runes == 0 {
		return 0
	}
	var symbols int
	for _, r := range text {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && !unicode.IsSpace(r) {
			symbols++
		}
	}
	return float64(symbols) / float64(runes)
}
