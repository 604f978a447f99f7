package security

import "strings"

// maxTopicLevel bounds a single sanitized topic level.
const maxTopicLevel = 128

// SanitizeTopicLevel makes s safe to embed as one MQTT topic level. The level
// separator, the wildcards, NUL and whitespace become underscores, repeats
// collapse, and an empty result becomes "unknown".
func SanitizeTopicLevel(s string) string {
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxTopicLevel {
			break
		}
		switch r {
		case '/', '+', '#', 0, ' ', '\t', '\n', '\r':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = r == '_'
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "unknown"
	}
	return out
}
