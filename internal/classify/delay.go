package classify

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Delay is a command to run later.
type Delay struct {
	Task  string
	After time.Duration
}

var (
	digitsRe = regexp.MustCompile(`\d+(?:\.\d+)?`)
	afterRe  = regexp.MustCompile(`(?i)\s+after\s+`)
)

// ExtractDelay splits "turn off the lights after 5 minutes" into the task
// before the first " after " and the duration after it.
//
// The count is the first number (digits or words) and defaults to 1. The
// unit is hours when "hour" appears, seconds when "second" appears and
// minutes otherwise. The trailing part must carry a number or a unit word,
// so "what happens after lunch" is not a delay.
func ExtractDelay(text string) (Delay, bool) {
	loc := afterRe.FindStringIndex(text)
	if loc == nil {
		return Delay{}, false
	}
	task := strings.TrimSpace(text[:loc[0]])
	tail := strings.ToLower(strings.TrimSpace(text[loc[1]:]))
	if task == "" || tail == "" {
		return Delay{}, false
	}

	count, hasCount := extractNumber(tail)
	if !hasCount {
		count = 1
	}
	var unit time.Duration
	hasUnit := true
	switch {
	case strings.Contains(tail, "hour"):
		unit = time.Hour
	case strings.Contains(tail, "minute"):
		unit = time.Minute
	case strings.Contains(tail, "second"):
		unit = time.Second
	default:
		unit = time.Minute
		hasUnit = false
	}
	if !hasCount && !hasUnit {
		return Delay{}, false
	}
	after := time.Duration(count * float64(unit))
	if after <= 0 {
		return Delay{}, false
	}
	return Delay{Task: task, After: after}, true
}

func extractNumber(s string) (float64, bool) {
	if m := digitsRe.FindString(s); m != "" {
		if v, err := strconv.ParseFloat(m, 64); err == nil {
			return v, true
		}
	}
	if n, ok := WordsToNumber(s); ok {
		return float64(n), true
	}
	return 0, false
}

var (
	smallNumbers = map[string]int{
		"zero": 0, "one": 1, "a": 1, "an": 1, "two": 2, "three": 3, "four": 4, "five": 5,
		"six": 6, "seven": 7, "eight": 8, "nine": 9, "ten": 10, "eleven": 11,
		"twelve": 12, "thirteen": 13, "fourteen": 14, "fifteen": 15, "sixteen": 16,
		"seventeen": 17, "eighteen": 18, "nineteen": 19, "twenty": 20, "thirty": 30,
		"forty": 40, "fifty": 50, "sixty": 60, "seventy": 70, "eighty": 80, "ninety": 90,
	}
	scaleNumbers = map[string]int{"hundred": 100, "thousand": 1000}
)

// WordsToNumber reads the first run of number words in s:
// "twenty five minutes" is 25, "one hundred and ten" is 110.
// The articles "a" and "an" count as one only when nothing else is found.
func WordsToNumber(s string) (int, bool) {
	var (
		total, current int
		found, article bool
	)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ",.")
		if v, ok := smallNumbers[w]; ok {
			if w == "a" || w == "an" {
				if found {
					break
				}
				article = true
				continue
			}
			current += v
			found = true
			continue
		}
		if v, ok := scaleNumbers[w]; ok && (found || article) {
			if current == 0 {
				current = 1
			}
			current *= v
			if v >= 1000 {
				total += current
				current = 0
			}
			found = true
			continue
		}
		if w == "and" && found {
			continue
		}
		if found {
			break
		}
	}
	if !found {
		if article {
			return 1, true
		}
		return 0, false
	}
	return total + current, true
}
