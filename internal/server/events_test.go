package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hyperifyio/cfsource/internal/browser/simhost"
	"github.com/hyperifyio/cfsource/internal/extractor"
	"github.com/hyperifyio/cfsource/internal/orchestrator"
)

func TestEvents_StreamsTabLifecycle(t *testing.T) {
	h := simhost.New()
	defer h.Close()
	h.SetFallback(simhost.Page{Elements: map[string]string{extractor.DefaultElementID: "int main(){}"}})
	o := orchestrator.New(h, orchestrator.Config{
		BaseURL:   "https://cf.test",
		Timeout:   5 * time.Second,
		Extractor: extractor.Config{Interval: 5 * time.Millisecond, Timeout: time.Second},
	})

	srv := httptest.NewServer(New(Deps{Retriever: o, Events: h.Events()}).Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// the handler subscribes right after the upgrade
	deadline := time.Now().Add(2 * time.Second)
	for h.Events().Len() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := o.Retrieve(context.Background(), orchestrator.Request{SourceID: "1", DocumentID: "2"}); err != nil {
		t.Fatalf("retrieve: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	seen := map[string]bool{}
	for !seen["complete"] {
		var ev tabEvent
		if err := conn.ReadJSON(&ev); err != nil {
			t.Fatalf("read: %v (seen %v)", err, seen)
		}
		if ev.URL != "https://cf.test/contest/1/submission/2" || ev.TabID == "" {
			t.Fatalf("unexpected event %+v", ev)
		}
		seen[ev.Status] = true
	}
}

func TestEvents_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	New(Deps{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d", rec.Code)
	}
}
