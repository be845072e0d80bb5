// Package bgtask owns the recurring background task file.
package bgtask

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// BackgroundTask is one recurring command.
type BackgroundTask struct {
	Seconds     int         `yaml:"seconds" json:"seconds" validate:"required,gt=0"`
	Task        string      `yaml:"task" json:"task" validate:"required"`
	IgnoreHours IgnoreHours `yaml:"ignore_hours,omitempty" json:"ignore_hours,omitempty" validate:"dive,min=0,max=23"`
}

// Every is the task's interval.
func (t BackgroundTask) Every() time.Duration { return time.Duration(t.Seconds) * time.Second }

// Key identifies a task across reloads.
func (t BackgroundTask) Key() string { return strconv.Itoa(t.Seconds) + "|" + t.Task }

func (t BackgroundTask) record() map[string]any {
	m := map[string]any{"seconds": t.Seconds, "task": t.Task}
	if len(t.IgnoreHours) > 0 {
		m["ignore_hours"] = []int(t.IgnoreHours)
	}
	return m
}

// IgnoreHours is a sorted set of hours (0-23) in which a task must not run.
type IgnoreHours []int

// Contains reports whether hour is ignored.
func (h IgnoreHours) Contains(hour int) bool {
	i := sort.SearchInts(h, hour)
	return i < len(h) && h[i] == hour
}

// ParseIgnoreHours accepts an int (7), a string ("7"), an inclusive range
// ("7-10", or "22-2" wrapping past midnight) or a list of those.
// Range checks are left to validation.
func ParseIgnoreHours(v any) (IgnoreHours, error) {
	var out []int
	if err := collectHours(v, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	sort.Ints(out)
	uniq := out[:1]
	for _, h := range out[1:] {
		if h != uniq[len(uniq)-1] {
			uniq = append(uniq, h)
		}
	}
	return IgnoreHours(uniq), nil
}

func collectHours(v any, out *[]int) error {
	switch x := v.(type) {
	case nil:
		return nil
	case []any:
		for _, e := range x {
			if _, nested := e.([]any); nested {
				return errors.New("ignore_hours: nested lists are not allowed")
			}
			if err := collectHours(e, out); err != nil {
				return err
			}
		}
		return nil
	case []int:
		*out = append(*out, x...)
		return nil
	case string:
		return parseHourString(x, out)
	default:
		n, err := toInt(v)
		if err != nil {
			return fmt.Errorf("ignore_hours: %w", err)
		}
		*out = append(*out, n)
		return nil
	}
}

func parseHourString(s string, out *[]int) error {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if !strings.Contains(s, "-") {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("ignore_hours: %q is not an hour", s)
		}
		*out = append(*out, n)
		return nil
	}
	lo, hi, _ := strings.Cut(s, "-")
	start, err1 := strconv.Atoi(strings.TrimSpace(lo))
	end, err2 := strconv.Atoi(strings.TrimSpace(hi))
	if err1 != nil || err2 != nil {
		return fmt.Errorf("ignore_hours: %q is not a range", s)
	}
	// An end of 24 means up to midnight, midnight included.
	if end == 24 {
		end = 23
		*out = append(*out, 0)
	}
	if start < 0 || start > 23 || end < 0 || end > 23 {
		return fmt.Errorf("ignore_hours: range %q is outside 0-23", s)
	}
	if start <= end {
		for h := start; h <= end; h++ {
			*out = append(*out, h)
		}
		return nil
	}
	for h := start; h <= 23; h++ {
		*out = append(*out, h)
	}
	for h := 0; h <= end; h++ {
		*out = append(*out, h)
	}
	return nil
}

func toInt(v any) (int, error) {
	switch x := v.(type) {
	case int:
		return x, nil
	case int64:
		if x > math.MaxInt || x < math.MinInt {
			return 0, fmt.Errorf("%d is out of range", x)
		}
		return int(x), nil
	case uint64:
		if x > math.MaxInt {
			return 0, fmt.Errorf("%d is out of range", x)
		}
		return int(x), nil
	case float64:
		if x != math.Trunc(x) {
			return 0, fmt.Errorf("%v is not a whole number", x)
		}
		if x > math.MaxInt || x < math.MinInt {
			return 0, fmt.Errorf("%v is out of range", x)
		}
		return int(x), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%v (%T) is not a number", v, v)
	}
}
