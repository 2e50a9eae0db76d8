package eventbus

import "testing"

func TestPublishFansOut(t *testing.T) {
	b := New()
	a, unsubA := b.Subscribe(1)
	c, unsubC := b.Subscribe(1)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: ItemPublished, Data: ItemEvent{ItemID: 7}})

	for _, ch := range []<-chan Event{a, c} {
		e := <-ch
		if e.Type != ItemPublished || e.Time.IsZero() {
			t.Fatalf("event = %+v", e)
		}
		if d, ok := e.Data.(ItemEvent); !ok || d.ItemID != 7 {
			t.Fatalf("data = %#v", e.Data)
		}
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	b := New()
	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: TickCompleted})
	b.Publish(Event{Type: TickCompleted})
	b.Publish(Event{Type: TickCompleted})
	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeClosesAndIsIdempotent(t *testing.T) {
	b := New()
	ch, unsub := b.Subscribe(0)
	unsub()
	unsub()
	if _, ok := <-ch; ok {
		t.Fatal("channel still open after unsubscribe")
	}
	b.Publish(Event{Type: ItemDeleted})
}
