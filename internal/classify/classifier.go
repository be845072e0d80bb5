package classify

import (
	"regexp"
	"strings"
)

type Kind int

const (
	KindCommand Kind = iota
	KindEmpty
	KindTest
	KindShutdown
	KindSecret
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindEmpty:
		return "empty"
	case KindTest:
		return "test"
	case KindShutdown:
		return "shutdown"
	case KindSecret:
		return "secret"
	default:
		return "unknown"
	}
}

// Controls are the phrases behind the privileged short-circuits.
type Controls struct {
	Kill        []string
	Override    string
	Secrets     []string
	SecretVerbs []string
}

type Segment struct {
	Text       string
	Compatible bool
}

// Result is the outcome of Classify.
//
// For KindCommand, Segments always holds at least one entry; more than one
// means the command was split on " and ". Delay is set only for a single
// compatible command with a recognizable " after " suffix.
type Result struct {
	Kind       Kind
	Text       string
	Raw        string
	Compatible bool
	Segments   []Segment
	Delay      *Delay
}

// Compound reports whether the command was split.
func (r Result) Compound() bool { return len(r.Segments) > 1 }

type Classifier struct {
	compat   *CompatibilitySet
	rules    RuleTable
	controls Controls
}

func New(compat *CompatibilitySet, rules RuleTable, controls Controls) *Classifier {
	if controls.Override == "" {
		controls.Override = "override"
	}
	return &Classifier{compat: compat, rules: rules, controls: controls}
}

func (c *Classifier) Compatibility() *CompatibilitySet { return c.compat }

var andRe = regexp.MustCompile(`(?i) and `)

// Classify normalizes text and decides how it should be handled.
//
// Short-circuits are checked in order: empty, "test", kill with override,
// secret request. Then the command is split on " and " unless a split rule
// matches, checked for compatibility, and finally inspected for a delay
// unless a delay rule matches.
func (c *Classifier) Classify(text string) Result {
	raw := Normalize(text)
	if raw == "" {
		return Result{Kind: KindEmpty}
	}

	var cmd string
	if _, keep := c.rules.Matches(RuleIgnore, raw); keep {
		cmd = strings.ToLower(raw)
	} else {
		cmd = StripPunctuation(raw)
	}
	res := Result{Kind: KindCommand, Text: cmd, Raw: raw}
	if cmd == "" {
		res.Kind = KindEmpty
		return res
	}

	if strings.EqualFold(cmd, "test") {
		res.Kind = KindTest
		return res
	}
	if _, kill := Match(cmd, c.controls.Kill); kill && strings.Contains(strings.ToLower(cmd), c.controls.Override) {
		res.Kind = KindShutdown
		return res
	}
	if _, secret := Match(cmd, c.controls.Secrets); secret {
		if _, verb := Match(cmd, c.controls.SecretVerbs); verb {
			res.Kind = KindSecret
			return res
		}
	}

	if andRe.MatchString(cmd) {
		if _, hold := c.rules.Matches(RuleSplit, cmd); !hold {
			for _, part := range andRe.Split(cmd, -1) {
				part = strings.TrimSpace(part)
				if part == "" {
					continue
				}
				ok := c.compat.Compatible(part)
				res.Segments = append(res.Segments, Segment{Text: part, Compatible: ok})
				res.Compatible = res.Compatible || ok
			}
			if len(res.Segments) > 1 {
				return res
			}
			res.Segments = nil
		}
	}

	res.Compatible = c.compat.Compatible(cmd)
	res.Segments = []Segment{{Text: cmd, Compatible: res.Compatible}}
	if !res.Compatible {
		return res
	}
	if afterRe.MatchString(cmd) {
		if _, hold := c.rules.Matches(RuleDelay, cmd); !hold {
			if d, ok := ExtractDelay(cmd); ok {
				res.Delay = &d
			}
		}
	}
	return res
}
