package extractor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hyperifyio/cfsource/internal/browser"
	"github.com/hyperifyio/cfsource/internal/browser/simhost"
	"github.com/hyperifyio/cfsource/internal/channel"
)

// collect subscribes to results for tab id and returns a snapshot func.
func collect(t *testing.T, h *simhost.Host, id browser.TabID) func() []channel.Message {
	t.Helper()
	var mu sync.Mutex
	var got []channel.Message
	sub, err := h.Runtime().Subscribe(func(m channel.Message) {
		if m.Is(channel.TypeResult, string(id)) {
			mu.Lock()
			got = append(got, m)
			mu.Unlock()
		}
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	t.Cleanup(func() { _ = sub.Unsubscribe() })
	return func() []channel.Message {
		mu.Lock()
		defer mu.Unlock()
		return append([]channel.Message(nil), got...)
	}
}

func openAndInject(t *testing.T, h *simhost.Host, url string, cfg Config) browser.TabID {
	t.Helper()
	id, err := h.CreateTab(context.Background(), browser.TabOptions{URL: url})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.Inject(context.Background(), id, New(cfg)); err != nil {
		t.Fatalf("inject: %v", err)
	}
	return id
}

func waitResults(t *testing.T, snap func() []channel.Message, n int, within time.Duration) []channel.Message {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if got := snap(); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d results within %v, got %d", n, within, len(snap()))
	return nil
}

func TestExtract_FindsElementText(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetPage("u", simhost.Page{Elements: map[string]string{DefaultElementID: "int main(){}"}})

	id := openAndInject(t, h, "u", Config{Interval: 5 * time.Millisecond, Timeout: time.Second})
	snap := collect(t, h, id)
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(id)})

	got := waitResults(t, snap, 1, time.Second)
	if got[0].Text != "int main(){}" || got[0].TimedOut {
		t.Fatalf("unexpected result: %+v", got[0])
	}
}

func TestExtract_WaitsForLateContent(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetPage("u", simhost.Page{
		Elements:     map[string]string{"code": "late"},
		ContentDelay: 40 * time.Millisecond,
	})
	id := openAndInject(t, h, "u", Config{ElementID: "code", Interval: 5 * time.Millisecond, Timeout: time.Second})
	snap := collect(t, h, id)
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(id)})

	got := waitResults(t, snap, 1, time.Second)
	if got[0].Text != "late" {
		t.Fatalf("unexpected text: %q", got[0].Text)
	}
}

func TestExtract_TimeoutSentinelExactlyOnce(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetPage("u", simhost.Page{})

	id := openAndInject(t, h, "u", Config{Interval: 5 * time.Millisecond, Timeout: 50 * time.Millisecond})
	snap := collect(t, h, id)
	start := time.Now()
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(id)})

	got := waitResults(t, snap, 1, time.Second)
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("timed out too early: %v", elapsed)
	}
	if !got[0].TimedOut || !IsTimeout(got[0].Text) {
		t.Fatalf("expected timeout sentinel, got %+v", got[0])
	}
	time.Sleep(60 * time.Millisecond)
	if n := len(snap()); n != 1 {
		t.Fatalf("expected one result, got %d", n)
	}
}

func TestExtract_IgnoresCommandsForOtherTabs(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetFallback(simhost.Page{Elements: map[string]string{DefaultElementID: "x"}})

	id := openAndInject(t, h, "u", Config{Interval: 5 * time.Millisecond, Timeout: time.Second})
	snap := collect(t, h, id)
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: "tab-other"})
	time.Sleep(50 * time.Millisecond)
	if n := len(snap()); n != 0 {
		t.Fatalf("extractor answered a command for another tab: %d", n)
	}
}

func TestExtract_OneResultPerCommand(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetPage("u", simhost.Page{Elements: map[string]string{DefaultElementID: "src"}})

	id := openAndInject(t, h, "u", Config{Interval: 5 * time.Millisecond, Timeout: time.Second})
	snap := collect(t, h, id)
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(id)})
	_ = h.Runtime().Publish(channel.Message{Type: channel.TypeExtract, ResourceID: string(id)})

	waitResults(t, snap, 2, time.Second)
	time.Sleep(30 * time.Millisecond)
	if n := len(snap()); n != 2 {
		t.Fatalf("expected two results for two commands, got %d", n)
	}
}

func TestConfig_Defaults(t *testing.T) {
	p := New(Config{})
	cfg := p.Config()
	if cfg.ElementID != DefaultElementID || cfg.Interval != DefaultInterval || cfg.Timeout != DefaultTimeout {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}
