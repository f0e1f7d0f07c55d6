// Package textutil bounds free-form string maps before they leave the process as provider
// metadata or message attributes.
package textutil

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// MapLimits caps a string map. Zero fields mean unlimited.
type MapLimits struct {
	MaxEntries  int
	MaxKeyLen   int
	MaxValueLen int
}

// StripeMetadataLimits mirrors the provider's metadata constraints.
var StripeMetadataLimits = MapLimits{MaxEntries: 50, MaxKeyLen: 40, MaxValueLen: 500}

// MessageAttributeLimits mirrors the Pub/Sub attribute constraints.
var MessageAttributeLimits = MapLimits{MaxEntries: 100, MaxKeyLen: 256, MaxValueLen: 1024}

// BoundStringMap trims keys and values, drops entries whose key or value is blank and
// truncates to the limits on rune boundaries. When MaxEntries is exceeded the
// lexicographically first keys win. Returns nil when nothing survives.
func BoundStringMap(values map[string]string, limits MapLimits) map[string]string {
	if len(values) == 0 {
		return nil
	}
	keys := make([]string, 0, len(values))
	cleaned := make(map[string]string, len(values))
	for rawKey, rawValue := range values {
		key := truncateRunes(strings.TrimSpace(rawKey), limits.MaxKeyLen)
		value := truncateRunes(strings.TrimSpace(rawValue), limits.MaxValueLen)
		if key == "" || value == "" {
			continue
		}
		if _, dup := cleaned[key]; !dup {
			keys = append(keys, key)
		}
		cleaned[key] = value
	}
	if len(keys) == 0 {
		return nil
	}
	if limits.MaxEntries > 0 && len(keys) > limits.MaxEntries {
		sort.Strings(keys)
		for _, dropped := range keys[limits.MaxEntries:] {
			delete(cleaned, dropped)
		}
	}
	return cleaned
}

func truncateRunes(value string, limit int) string {
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
