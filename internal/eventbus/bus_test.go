package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: "queue.enqueued"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			if e.Type != "queue.enqueued" {
				t.Fatalf("Type = %q, want queue.enqueued", e.Type)
			}
			if e.Time.IsZero() {
				t.Fatal("expected Publish to stamp Time")
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishNeverBlocks(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(Event{Type: "x"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}
}

func TestUnsubscribeThenPublish(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	unsub()
	unsub()
	b.Publish(Event{Type: "after"})
}

func TestRecorderKeepsTail(t *testing.T) {
	r := NewRecorder(3)
	for _, typ := range []string{"a", "b", "c", "d"} {
		r.Add(Event{Type: typ})
	}
	got := r.Last(10)
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	if got[0].Type != "b" || got[2].Type != "d" {
		t.Fatalf("unexpected order: %+v", got)
	}
	if got := r.Last(1); got[0].Type != "d" {
		t.Fatalf("Last(1) = %+v", got)
	}
}
