package classify

import (
	"testing"
	"time"
)

var (
	testLights    = []string{"light", "party mode", "lights"}
	testTime      = []string{"current time", "time now", "time in", "what is the time", "whats the time", "tell me the time", "what time"}
	testReminder  = []string{"remind", "reminder", "reminders"}
	testAlarm     = []string{"alarm", "wake me", "timer"}
	testMeetings  = []string{"meeting", "meetings"}
	testNotify    = []string{"message", "text", "sms", "mail", "email"}
	testDistance  = []string{"far", "distance", "miles", "kilometers"}
	testAvoid     = []string{"sun", "moon", "update", "server", "cloud"}
	testWeather   = []string{"weather", "temperature", "sunrise", "sunset"}
	testGreetings = []string{"how are you", "how are you doing"}
)

func newTestClassifier() *Classifier {
	compat := NewCompatibilitySet(testLights, testTime, testReminder, testAlarm, testMeetings, testNotify, testDistance, testWeather, testGreetings)
	rules := NewRuleTable(
		Rule{Kind: RuleIgnore, Name: "alarm", Phrases: []string{"alarm", "remind"}, Mode: MatchSubstring},
		Rule{Kind: RuleSplit, Name: "send_notification", Phrases: testNotify},
		Rule{Kind: RuleSplit, Name: "reminder", Phrases: testReminder},
		Rule{Kind: RuleSplit, Name: "distance", Phrases: testDistance},
		Rule{Kind: RuleSplit, Name: "avoid", Phrases: testAvoid},
		Rule{Kind: RuleDelay, Name: "meetings", Phrases: testMeetings},
		Rule{Kind: RuleDelay, Name: "avoid", Phrases: testAvoid},
		Rule{Kind: RuleDelay, Name: "set_alarm", Phrases: testAlarm},
		Rule{Kind: RuleDelay, Name: "reminder", Phrases: testReminder},
	)
	return New(compat, rules, Controls{
		Kill:        []string{"kill", "terminate yourself", "stop running"},
		Secrets:     []string{"secret", "secrets", "param", "params"},
		SecretVerbs: []string{"list", "get"},
	})
}

func TestMatch(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text    string
		phrases []string
		want    string
		ok      bool
	}{
		{"turn on the lights", testLights, "light", true},
		{"Turn On The LIGHTS", testLights, "light", true},
		{"what is the time now", testTime, "time now", true},
		// substring without a whole-word hit
		{"flighty bird", testLights, "", false},
		// whole word present but no phrase substring
		{"party time", []string{"party mode"}, "", false},
		{"", testLights, "", false},
		{"lights", nil, "", false},
	}
	for _, tc := range cases {
		got, ok := Match(tc.text, tc.phrases)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("Match(%q) = %q,%v want %q,%v", tc.text, got, ok, tc.want, tc.ok)
		}
	}
}

func TestCompatibilitySetDedup(t *testing.T) {
	t.Parallel()

	c := NewCompatibilitySet([]string{"light", "lights"}, []string{"lights", " ", "weather"})
	if c.Len() != 3 {
		t.Fatalf("Len = %d, want 3: %v", c.Len(), c.Phrases())
	}
	if got := c.Phrases(); got[0] != "light" || got[2] != "weather" {
		t.Fatalf("order not preserved: %v", got)
	}
	if !c.Compatible("how is the weather") || c.Compatible("open safari") {
		t.Fatalf("unexpected compatibility")
	}
}

func TestClassifyShortCircuits(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	cases := []struct {
		text string
		want Kind
	}{
		{"", KindEmpty},
		{"   \t ", KindEmpty},
		{"?!", KindEmpty},
		{"Test", KindTest},
		{"test.", KindTest},
		{"kill yourself override", KindShutdown},
		{"stop running", KindCommand},
		{"list my secrets", KindSecret},
		{"get secret API_KEY", KindSecret},
		{"what is a secret", KindCommand},
	}
	for _, tc := range cases {
		if got := c.Classify(tc.text).Kind; got != tc.want {
			t.Fatalf("Classify(%q).Kind = %v, want %v", tc.text, got, tc.want)
		}
	}
}

func TestClassifyPunctuation(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	if got := c.Classify("What's the time?").Text; got != "Whats the time" {
		t.Fatalf("stripped text = %q", got)
	}
	if got := c.Classify("Set an alarm for 7:30 a.m.").Text; got != "set an alarm for 7:30 a.m." {
		t.Fatalf("alarm text = %q", got)
	}
	if got := c.Classify("  Remind me at 5:00!  ").Text; got != "remind me at 5:00!" {
		t.Fatalf("reminder text = %q", got)
	}
	if got := c.Classify("turn on the “lights”").Text; got != "turn on the lights" {
		t.Fatalf("quotes not stripped: %q", got)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"ｗｈａｔ　ｔｉｍｅ":       "what time",
		"play café  music":   "play café music",
		"the “lights”\tnow": `the "lights" now`,
		"ﬁle report":         "file report",
	}
	for in, want := range cases {
		if got := Normalize(in); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestClassifyCompound(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	res := c.Classify("turn on lights and tell me the time")
	if !res.Compound() {
		t.Fatalf("expected compound, got %+v", res)
	}
	if res.Segments[0].Text != "turn on lights" || res.Segments[1].Text != "tell me the time" {
		t.Fatalf("segments = %+v", res.Segments)
	}
	if !res.Segments[0].Compatible || !res.Segments[1].Compatible || !res.Compatible {
		t.Fatalf("segments should be compatible: %+v", res.Segments)
	}

	mixed := c.Classify("turn on lights and open safari")
	if !mixed.Compound() || !mixed.Compatible || mixed.Segments[1].Compatible {
		t.Fatalf("mixed = %+v", mixed)
	}

	// Exclusion vocabulary keeps the command whole.
	whole := c.Classify("send a message to mom and dad")
	if whole.Compound() {
		t.Fatalf("split despite exclusion: %+v", whole.Segments)
	}
	if !whole.Compatible {
		t.Fatalf("message command should be compatible")
	}
}

func TestClassifyDelay(t *testing.T) {
	t.Parallel()

	c := newTestClassifier()
	res := c.Classify("turn off the lights after 5 minutes")
	if res.Delay == nil {
		t.Fatalf("expected delay, got %+v", res)
	}
	if res.Delay.Task != "turn off the lights" || res.Delay.After != 5*time.Minute {
		t.Fatalf("delay = %+v", res.Delay)
	}

	for _, text := range []string{
		"remind me to call after 5 minutes",
		"set an alarm after 2 hours",
		"what is my meeting after 5 minutes",
		"tell me the weather after sunrise",
	} {
		if d := c.Classify(text).Delay; d != nil {
			t.Fatalf("%q should not be delayed, got %+v", text, d)
		}
	}

	if d := c.Classify("open safari after 5 minutes"); d.Delay != nil || d.Compatible {
		t.Fatalf("incompatible command must not be delayed: %+v", d)
	}
}

func TestExtractDelay(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text string
		task string
		want time.Duration
		ok   bool
	}{
		{"turn off the lights after 5 minutes", "turn off the lights", 5 * time.Minute, true},
		{"lights off after 2 hours", "lights off", 2 * time.Hour, true},
		{"lights off after an hour", "lights off", time.Hour, true},
		{"lights off after twenty five minutes", "lights off", 25 * time.Minute, true},
		{"lights off after 30 seconds", "lights off", 30 * time.Second, true},
		{"lights off after 1.5 hours", "lights off", 90 * time.Minute, true},
		{"lights off after 10", "lights off", 10 * time.Minute, true},
		{"lights off after lunch", "", 0, false},
		{"after 5 minutes", "", 0, false},
		{"lights off", "", 0, false},
	}
	for _, tc := range cases {
		d, ok := ExtractDelay(tc.text)
		if ok != tc.ok || d.Task != tc.task || d.After != tc.want {
			t.Fatalf("ExtractDelay(%q) = %+v,%v want %q %v %v", tc.text, d, ok, tc.task, tc.want, tc.ok)
		}
	}
}

func TestWordsToNumber(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"five minutes", 5, true},
		{"twenty five", 25, true},
		{"one hundred and ten seconds", 110, true},
		{"a hundred", 100, true},
		{"an hour", 1, true},
		{"two thousand three hundred", 2300, true},
		{"lunch", 0, false},
	}
	for _, tc := range cases {
		got, ok := WordsToNumber(tc.in)
		if got != tc.want || ok != tc.ok {
			t.Fatalf("WordsToNumber(%q) = %d,%v want %d,%v", tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestHumanizeDuration(t *testing.T) {
	t.Parallel()

	cases := map[time.Duration]string{
		0:                                  "0 seconds",
		time.Second:                        "1 second",
		5 * time.Minute:                    "5 minutes",
		90 * time.Minute:                   "1 hour and 30 minutes",
		2*24*time.Hour + 3*time.Hour + time.Second: "2 days, 3 hours and 1 second",
		1500 * time.Millisecond:            "2 seconds",
	}
	for in, want := range cases {
		if got := HumanizeDuration(in); got != want {
			t.Fatalf("HumanizeDuration(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestRuleTableUnion(t *testing.T) {
	t.Parallel()

	rt := NewRuleTable(
		Rule{Kind: RuleSplit, Name: "a", Phrases: []string{"send mail"}},
		Rule{Kind: RuleSplit, Name: "b", Phrases: []string{"miles"}},
	)
	// Substring from rule a, whole word from rule b: the union matches.
	if _, ok := rt.Matches(RuleSplit, "send mail about miles"); !ok {
		t.Fatalf("expected union match")
	}
	if _, ok := rt.Matches(RuleDelay, "send mail"); ok {
		t.Fatalf("other kinds must not match")
	}
}
