package channel

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_EverySubscriberReceivesEveryMessage(t *testing.T) {
	b := New[Message]()
	defer b.Close()

	var a, c atomic.Int32
	subA, err := b.Subscribe(func(Message) { a.Add(1) })
	if err != nil {
		t.Fatalf("subscribe a: %v", err)
	}
	defer subA.Unsubscribe()
	subC, err := b.Subscribe(func(Message) { c.Add(1) })
	if err != nil {
		t.Fatalf("subscribe c: %v", err)
	}
	defer subC.Unsubscribe()

	for i := 0; i < 3; i++ {
		if err := b.Publish(Message{Type: TypeResult, ResourceID: "x"}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, func() bool { return a.Load() == 3 && c.Load() == 3 })
}

func TestBus_PreservesOrderPerSubscriber(t *testing.T) {
	b := New[int]()
	defer b.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	sub, err := b.Subscribe(func(v int) {
		mu.Lock()
		got = append(got, v)
		n := len(got)
		mu.Unlock()
		if n == 100 {
			close(done)
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Unsubscribe()

	for i := 0; i < 100; i++ {
		_ = b.Publish(i)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for deliveries")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		if v != i {
			t.Fatalf("out of order at %d: %d", i, v)
		}
	}
}

func TestBus_UnsubscribeStopsDelivery(t *testing.T) {
	b := New[int]()
	defer b.Close()

	var n atomic.Int32
	sub, err := b.Subscribe(func(int) { n.Add(1) })
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = b.Publish(1)
	waitFor(t, func() bool { return n.Load() == 1 })

	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	if err := sub.Unsubscribe(); err != nil {
		t.Fatalf("second unsubscribe should be a no-op: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected no subscribers, got %d", b.Len())
	}
	_ = b.Publish(2)
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("handler ran after unsubscribe: %d", n.Load())
	}
}

func TestBus_UnsubscribeFromHandlerDropsQueued(t *testing.T) {
	b := New[int]()
	defer b.Close()

	var n atomic.Int32
	var sub Subscription
	ready := make(chan struct{})
	var err error
	sub, err = b.Subscribe(func(int) {
		<-ready
		n.Add(1)
		_ = sub.Unsubscribe()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	_ = b.Publish(1)
	_ = b.Publish(2)
	_ = b.Publish(3)
	close(ready)
	time.Sleep(50 * time.Millisecond)
	if n.Load() != 1 {
		t.Fatalf("expected exactly one handled value, got %d", n.Load())
	}
}

func TestBus_ClosedRejects(t *testing.T) {
	b := New[int]()
	if _, err := b.Subscribe(func(int) {}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := b.Publish(1); err != ErrClosed {
		t.Fatalf("publish after close: %v", err)
	}
	if _, err := b.Subscribe(func(int) {}); err != ErrClosed {
		t.Fatalf("subscribe after close: %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("expected subscriptions dropped on close")
	}
}

func TestMessage_Is(t *testing.T) {
	m := Message{Type: TypeResult, ResourceID: "tab-1", Text: "x"}
	if !m.Is(TypeResult, "tab-1") {
		t.Fatal("expected match")
	}
	if m.Is(TypeResult, "tab-2") || m.Is(TypeExtract, "tab-1") {
		t.Fatal("unexpected match")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
