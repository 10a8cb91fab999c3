// Package strings cleans free-text lists received from upstream systems.
package strings

import "strings"

// CleanList trims every value, drops blanks and repeats, and keeps at most
// max entries in first-seen order. max <= 0 keeps everything. Values longer
// than maxLen runes are cut when maxLen > 0.
func CleanList(values []string, max, maxLen int) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if maxLen > 0 {
			if r := []rune(v); len(r) > maxLen {
				v = string(r[:maxLen])
			}
		}
		if v == "" {
			continue
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
		if max > 0 && len(out) == max {
			break
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
