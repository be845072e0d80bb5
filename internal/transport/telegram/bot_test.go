package telegram

import (
	"strings"
	"testing"

	tele "gopkg.in/telebot.v4"

	"squire/internal/delivery"
	"squire/internal/dispatch"
	logx "squire/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	if got := splitText("short", 10); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short = %q", got)
	}

	long := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitText(long, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8) || got[1] != strings.Repeat("b", 8) {
		t.Fatalf("newline split = %q", got)
	}

	got = splitText(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Fatalf("hard split = %q", got)
	}
}

func TestPayloads(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		reply dispatch.Reply
		check func(t *testing.T, out []any)
	}{
		{"text", dispatch.Reply{Text: "hello"}, func(t *testing.T, out []any) {
			if len(out) != 1 || out[0] != "hello" {
				t.Fatalf("out = %#v", out)
			}
		}},
		{"audio", dispatch.Reply{Delivery: delivery.Delivery{Kind: delivery.KindAudio, Audio: []byte("RIFF"), ContentType: "audio/wav"}}, func(t *testing.T, out []any) {
			v, ok := out[0].(*tele.Voice)
			if len(out) != 1 || !ok || v.MIME != "audio/wav" {
				t.Fatalf("out = %#v", out)
			}
		}},
		{"file", dispatch.Reply{Delivery: delivery.Delivery{Kind: delivery.KindFile, Path: "/tmp/x/report.pdf"}}, func(t *testing.T, out []any) {
			d, ok := out[0].(*tele.Document)
			if len(out) != 1 || !ok || d.FileName != "report.pdf" {
				t.Fatalf("out = %#v", out)
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			tc.check(t, payloads(tc.reply))
		})
	}
}

func TestOwnerFilterAndApply(t *testing.T) {
	t.Parallel()

	b, err := New(Config{Token: "123:abc", OwnerIDs: []int64{42}}, nil, logx.Nop())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if !b.isOwner(42) || b.isOwner(7) {
		t.Fatalf("owner check wrong")
	}
	b.Apply(Config{OwnerIDs: []int64{7}})
	if b.isOwner(42) || !b.isOwner(7) {
		t.Fatalf("apply did not swap owners")
	}

	if _, err := New(Config{}, nil, logx.Nop()); err == nil {
		t.Fatalf("expected error for empty token")
	}
}
