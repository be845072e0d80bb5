package classify

import "strings"

// Match is the assistant's keyword policy. phrases match text when
//
//   - some phrase is a case-insensitive substring of text, and
//   - some whitespace-separated word of text is one of the words the
//     phrases are made of.
//
// The first phrase (in list order) found as a substring is returned.
// Both checks are loose on purpose: "what's the time in tokyo" matches
// "time in", and "distance" matches "dist" only if both checks pass.
func Match(text string, phrases []string) (string, bool) {
	if text == "" || len(phrases) == 0 {
		return "", false
	}
	lower := strings.ToLower(text)
	hit, ok := forward(lower, phrases)
	if !ok {
		return "", false
	}
	if !reverse(lower, phrases) {
		return "", false
	}
	return hit, true
}

// Contains is the plain substring check used by a few rules.
func Contains(text string, phrases []string) (string, bool) {
	lower := strings.ToLower(text)
	return forward(lower, phrases)
}

func forward(lower string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if p != "" && strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}

func reverse(lower string, phrases []string) bool {
	words := make(map[string]struct{}, len(phrases)*2)
	for _, p := range phrases {
		for _, w := range strings.Fields(strings.ToLower(p)) {
			words[w] = struct{}{}
		}
	}
	for _, w := range strings.Fields(lower) {
		if _, ok := words[w]; ok {
			return true
		}
	}
	return false
}
