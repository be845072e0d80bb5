package classify

import "strings"

// CompatibilitySet is the flattened, de-duplicated list of phrases that
// can be handled without user interaction. Build it once and share it.
type CompatibilitySet struct {
	phrases []string
	index   map[string]struct{} // lowercased words of phrases
}

// NewCompatibilitySet flattens groups keeping first-seen order.
func NewCompatibilitySet(groups ...[]string) *CompatibilitySet {
	seen := map[string]struct{}{}
	c := &CompatibilitySet{index: map[string]struct{}{}}
	for _, g := range groups {
		for _, p := range g {
			p = strings.TrimSpace(p)
			if p == "" {
				continue
			}
			if _, dup := seen[p]; dup {
				continue
			}
			seen[p] = struct{}{}
			c.phrases = append(c.phrases, p)
			for _, w := range strings.Fields(strings.ToLower(p)) {
				c.index[w] = struct{}{}
			}
		}
	}
	return c
}

// Compatible reports whether text matches any phrase under Match.
func (c *CompatibilitySet) Compatible(text string) bool {
	_, ok := c.Lookup(text)
	return ok
}

// Lookup returns the phrase that made text compatible.
func (c *CompatibilitySet) Lookup(text string) (string, bool) {
	if c == nil || text == "" {
		return "", false
	}
	lower := strings.ToLower(text)
	hit, ok := forward(lower, c.phrases)
	if !ok {
		return "", false
	}
	for _, w := range strings.Fields(lower) {
		if _, ok := c.index[w]; ok {
			return hit, true
		}
	}
	return "", false
}

func (c *CompatibilitySet) Len() int {
	if c == nil {
		return 0
	}
	return len(c.phrases)
}

// Phrases returns a copy of the set in order.
func (c *CompatibilitySet) Phrases() []string {
	if c == nil {
		return nil
	}
	return append([]string(nil), c.phrases...)
}
