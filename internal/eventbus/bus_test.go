package eventbus

import "testing"

func TestPublishFanout(t *testing.T) {
	t.Parallel()

	b := New()
	a, unsubA := b.Subscribe(2)
	c, unsubC := b.Subscribe(1)
	defer unsubA()

	Emit(b, TaskQueued, "speed test")
	Emit(b, TaskFinished, "speed test")

	if ev := <-a; ev.Type != TaskQueued || ev.Time.IsZero() {
		t.Fatalf("unexpected first event %+v", ev)
	}
	if ev := <-a; ev.Type != TaskFinished {
		t.Fatalf("unexpected second event %+v", ev)
	}
	// c has buffer 1, the second publish was dropped.
	if ev := <-c; ev.Type != TaskQueued {
		t.Fatalf("unexpected event on c %+v", ev)
	}
	select {
	case ev := <-c:
		t.Fatalf("expected drop, got %+v", ev)
	default:
	}

	unsubC()
	unsubC()
	if _, ok := <-c; ok {
		t.Fatalf("channel should be closed after unsubscribe")
	}
	Emit(b, TaskSkipped, nil)
	Emit(nil, TaskSkipped, nil)
}
