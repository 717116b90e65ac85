package game

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

func drainPayloads(t *testing.T, sub *Subscriber, n int) []Event {
	t.Helper()
	out := make([]Event, 0, n)
	for i := 0; i < n; i++ {
		select {
		case raw, ok := <-sub.Events():
			if !ok {
				t.Fatalf("queue closed after %d events, want %d", i, n)
			}
			var ev Event
			if err := json.Unmarshal(raw, &ev); err != nil {
				t.Fatalf("bad payload: %v", err)
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d events, want %d", i, n)
		}
	}
	return out
}

func TestHub_PublishOrder(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("s1")
	defer hub.Unsubscribe(sub)

	for i := 0; i < 10; i++ {
		hub.Publish(EventRoundTick, RoundTickData{RoundID: fmt.Sprintf("r-%d", i)})
	}

	events := drainPayloads(t, sub, 10)
	for i, ev := range events {
		var tick RoundTickData
		data, _ := json.Marshal(ev.Data)
		json.Unmarshal(data, &tick)
		if want := fmt.Sprintf("r-%d", i); tick.RoundID != want {
			t.Errorf("event %d round = %q, want %q", i, tick.RoundID, want)
		}
	}
}

func TestHub_FanOut(t *testing.T) {
	hub := NewHub(zap.NewNop())
	subs := make([]*Subscriber, 3)
	for i := range subs {
		subs[i] = hub.Subscribe(fmt.Sprintf("s%d", i))
		defer hub.Unsubscribe(subs[i])
	}
	if got := hub.SubscriberCount(); got != 3 {
		t.Fatalf("SubscriberCount() = %d, want 3", got)
	}

	hub.Publish(EventRoundStart, RoundStartData{RoundID: "r1"})

	for i, sub := range subs {
		events := drainPayloads(t, sub, 1)
		if events[0].Type != EventRoundStart {
			t.Errorf("subscriber %d got type %q", i, events[0].Type)
		}
	}
}

func TestHub_SlowSubscriberDropsOldest(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("slow")
	defer hub.Unsubscribe(sub)

	// Overflow the queue without draining. The newest events must survive;
	// only the oldest are shed.
	total := defaultSubscriberQueue + 40
	for i := 0; i < total; i++ {
		hub.Publish(EventRoundTick, RoundTickData{RoundID: fmt.Sprintf("r-%d", i)})
	}

	events := drainPayloads(t, sub, defaultSubscriberQueue)
	var last RoundTickData
	data, _ := json.Marshal(events[len(events)-1].Data)
	json.Unmarshal(data, &last)
	if want := fmt.Sprintf("r-%d", total-1); last.RoundID != want {
		t.Errorf("last delivered round = %q, want %q", last.RoundID, want)
	}

	// Relative order still holds among whatever survived.
	prev := -1
	for _, ev := range events {
		var tick RoundTickData
		data, _ := json.Marshal(ev.Data)
		json.Unmarshal(data, &tick)
		var n int
		fmt.Sscanf(tick.RoundID, "r-%d", &n)
		if n <= prev {
			t.Fatalf("delivery out of order: r-%d after r-%d", n, prev)
		}
		prev = n
	}
}

func TestHub_UnsubscribeClosesQueue(t *testing.T) {
	hub := NewHub(zap.NewNop())
	sub := hub.Subscribe("s1")

	hub.Unsubscribe(sub)
	if _, ok := <-sub.Events(); ok {
		t.Error("queue still open after Unsubscribe")
	}
	if got := hub.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d, want 0", got)
	}

	// Second Unsubscribe is a no-op, not a double close.
	hub.Unsubscribe(sub)

	// Publishing with no subscribers must not panic.
	hub.Publish(EventRoundTick, RoundTickData{RoundID: "r1"})
}

func TestHub_ConcurrentPublishAndChurn(t *testing.T) {
	hub := NewHub(zap.NewNop())

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				hub.Publish(EventRoundTick, RoundTickData{RoundID: fmt.Sprintf("w%d-%d", w, i)})
			}
		}(w)
	}
	for c := 0; c < 4; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				sub := hub.Subscribe(fmt.Sprintf("churn-%d-%d", c, i))
				hub.Unsubscribe(sub)
			}
		}(c)
	}
	wg.Wait()

	if got := hub.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() = %d after churn, want 0", got)
	}
}
