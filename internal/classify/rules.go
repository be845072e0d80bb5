package classify

import "strings"

type RuleKind int

const (
	// RuleIgnore keeps punctuation (alarm and reminder phrasing needs it).
	RuleIgnore RuleKind = iota + 1
	// RuleSplit suppresses splitting on " and ".
	RuleSplit
	// RuleDelay suppresses " after " delay detection.
	RuleDelay
)

func (k RuleKind) String() string {
	switch k {
	case RuleIgnore:
		return "ignore"
	case RuleSplit:
		return "split"
	case RuleDelay:
		return "delay"
	default:
		return "unknown"
	}
}

type MatchMode int

const (
	MatchWords MatchMode = iota
	MatchSubstring
)

type Rule struct {
	Kind    RuleKind
	Name    string
	Phrases []string
	Mode    MatchMode
}

// RuleTable groups exclusion rules by kind. All rules of one kind and
// mode are unioned into one phrase list before matching.
type RuleTable struct {
	words map[RuleKind][]string
	subs  map[RuleKind][]string
}

func NewRuleTable(rules ...Rule) RuleTable {
	t := RuleTable{words: map[RuleKind][]string{}, subs: map[RuleKind][]string{}}
	for _, r := range rules {
		switch r.Mode {
		case MatchSubstring:
			t.subs[r.Kind] = append(t.subs[r.Kind], r.Phrases...)
		default:
			t.words[r.Kind] = append(t.words[r.Kind], r.Phrases...)
		}
	}
	return t
}

// Matches reports whether text triggers any rule of kind and which phrase did.
func (t RuleTable) Matches(kind RuleKind, text string) (string, bool) {
	if hit, ok := Contains(text, t.subs[kind]); ok {
		return hit, true
	}
	return Match(text, t.words[kind])
}

// Phrases lists everything registered for kind.
func (t RuleTable) Phrases(kind RuleKind) []string {
	out := append([]string(nil), t.subs[kind]...)
	return append(out, t.words[kind]...)
}

func (t RuleTable) String() string {
	var b strings.Builder
	for _, k := range []RuleKind{RuleIgnore, RuleSplit, RuleDelay} {
		b.WriteString(k.String())
		b.WriteString("=")
		b.WriteString(strings.Join(t.Phrases(k), "|"))
		b.WriteString(" ")
	}
	return strings.TrimSpace(b.String())
}
