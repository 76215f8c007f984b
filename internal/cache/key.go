package cache

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/doeshing/merchat/internal/domain"
)

// Key builds the canonical cache key for an action invocation. Two requests
// that differ only in parameter order, letter case, or Unicode composition
// form produce the same key. Mode is part of the identity because B2C and
// B2B see different prices for the same product.
func Key(action string, mode domain.Mode, params map[string]any) string {
	var b strings.Builder
	b.WriteString(canonicalToken(action))
	b.WriteByte(':')
	b.WriteString(string(mode))
	b.WriteByte(':')

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)
	for i, name := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(canonicalToken(name))
		b.WriteByte('=')
		b.WriteString(canonicalValue(params[name]))
	}
	return b.String()
}

// Prefix returns the invalidation prefix covering every key of an action
// regardless of mode and parameters.
func Prefix(action string) string {
	return canonicalToken(action) + ":"
}

func canonicalToken(s string) string {
	return norm.NFC.String(strings.ToLower(strings.TrimSpace(s)))
}

func canonicalValue(v any) string {
	switch t := v.(type) {
	case string:
		return canonicalToken(t)
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		// Whole-valued floats normalize to their integer form so JSON
		// decoding quirks do not split the keyspace.
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return canonicalToken(fmt.Sprintf("%v", t))
	}
}
