package app

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

const submissionPage = `<!DOCTYPE html><html><head><title>Submission #78</title></head>
<body><div id="header">Codeforces</div>
<pre id="program-source-text" class="prettyprint linenums">#include &lt;bits/stdc++.h&gt;
int main(){int a,b;std::cin&gt;&gt;a&gt;&gt;b;std::cout&lt;&lt;a+b;}</pre>
</body></html>`

type upstream struct {
	srv        *httptest.Server
	judgeCalls atomic.Int32
	chatCalls  atomic.Int32
}

// newUpstream serves the Codeforces site and API, an OpenAI-compatible
// model endpoint and Judge0 from one test server.
func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/contest.status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"status":"OK","result":[
			{"id":77,"contestId":1900,"programmingLanguage":"GNU C++17","verdict":"WRONG_ANSWER","problem":{"contestId":1900,"index":"B"}},
			{"id":78,"contestId":1900,"programmingLanguage":"GNU C++17","verdict":"OK","problem":{"contestId":1900,"index":"B"}}]}`)
	})
	mux.HandleFunc("/contest/1900/submission/78", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, submissionPage)
	})
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[{"id":"coder","object":"model"}]}`)
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		u.chatCalls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"coder","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"`+"```cpp\\n#include <iostream>\\nint main(){}\\n```"+`"}}]}`)
	})
	mux.HandleFunc("/submissions", func(w http.ResponseWriter, r *http.Request) {
		u.judgeCalls.Add(1)
		var req struct {
			Stdin string `json:"stdin"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		in, _ := base64.StdEncoding.DecodeString(req.Stdin)
		out := base64.StdEncoding.EncodeToString([]byte("sum of " + strings.TrimSpace(string(in)) + "\n"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"stdout":%q,"status":{"id":3,"description":"Accepted"}}`, out)
	})
	u.srv = httptest.NewServer(mux)
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) config(dir string) Config {
	return Config{
		CFBaseURL:       u.srv.URL,
		CFAPIURL:        u.srv.URL + "/api",
		LLMBaseURL:      u.srv.URL + "/v1",
		LLMModel:        "coder",
		Judge0URL:       u.srv.URL,
		CacheDir:        filepath.Join(dir, "cache"),
		RetrieveTimeout: 5 * time.Second,
		ExtractTimeout:  500 * time.Millisecond,
		PollInterval:    10 * time.Millisecond,
	}
}

func TestApp_SolveWritesReportAndPDF(t *testing.T) {
	u := newUpstream(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	if err := os.WriteFile(input, []byte("1 2\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg := u.config(dir)
	cfg.ProblemURL = u.srv.URL + "/contest/1900/problem/B"
	cfg.InputPath = input
	cfg.OutputPath = filepath.Join(dir, "out", "solution.md")
	cfg.OutputPDFPath = filepath.Join(dir, "solution.pdf")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	md, err := os.ReadFile(cfg.OutputPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	for _, want := range []string{
		"# Solution for 1900B",
		"std::cout<<a+b;",
		"#include <iostream>",
		"sum of 1 2",
		"/contest/1900/submission/78",
	} {
		if !strings.Contains(string(md), want) {
			t.Fatalf("report missing %q:\n%s", want, md)
		}
	}
	if _, err := os.Stat(cfg.OutputPDFPath); err != nil {
		t.Fatalf("pdf not written: %v", err)
	}
	if u.judgeCalls.Load() != 1 || u.chatCalls.Load() != 1 {
		t.Fatalf("judge=%d chat=%d, want 1 each", u.judgeCalls.Load(), u.chatCalls.Load())
	}
	if a.host.Len() != 0 {
		t.Fatalf("%d tabs left open", a.host.Len())
	}

	// A second run answers the model call from the cache.
	b, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer b.Close()
	if err := b.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if u.chatCalls.Load() != 1 {
		t.Fatalf("expected cached clean, chat calls=%d", u.chatCalls.Load())
	}
}

func TestApp_SolveWithoutInputSkipsJudge(t *testing.T) {
	u := newUpstream(t)
	dir := t.TempDir()
	cfg := u.config(dir)
	cfg.LLMModel = ""
	cfg.ProblemURL = u.srv.URL + "/problemset/problem/1900/B"
	cfg.OutputPath = filepath.Join(dir, "solution.md")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if u.judgeCalls.Load() != 0 || u.chatCalls.Load() != 0 {
		t.Fatalf("judge=%d chat=%d, want none", u.judgeCalls.Load(), u.chatCalls.Load())
	}
	md, _ := os.ReadFile(cfg.OutputPath)
	if strings.Contains(string(md), "## Output") {
		t.Fatalf("unexpected output section:\n%s", md)
	}
}

func TestApp_RetrieveToFile(t *testing.T) {
	u := newUpstream(t)
	dir := t.TempDir()
	cfg := u.config(dir)
	cfg.ContestID, cfg.SubmissionID = "1900", "78"
	cfg.OutputPath = filepath.Join(dir, "78.cpp")

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if err := a.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := os.ReadFile(cfg.OutputPath)
	if !strings.HasPrefix(string(got), "#include <bits/stdc++.h>\nint main()") {
		t.Fatalf("unexpected source %q", got)
	}
}

func TestApp_RetrieveMissingSourceTimesOut(t *testing.T) {
	u := newUpstream(t)
	dir := t.TempDir()
	cfg := u.config(dir)
	cfg.ContestID, cfg.SubmissionID = "1900", "404"
	cfg.OutputPath = filepath.Join(dir, "404.cpp")
	cfg.ExtractTimeout = 100 * time.Millisecond

	a, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	err = a.Run(context.Background())
	if !errors.Is(err, ErrSourceTimedOut) {
		t.Fatalf("expected ErrSourceTimedOut, got %v", err)
	}
	got, _ := os.ReadFile(cfg.OutputPath)
	if !strings.Contains(string(got), "Timed out waiting for code block") {
		t.Fatalf("expected timeout marker in output, got %q", got)
	}
}

func TestNew_ClearsCache(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "http", "stale.body")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatal(err)
	}
	_ = os.WriteFile(stale, []byte("x"), 0o644)
	a, err := New(context.Background(), Config{CacheDir: dir, CacheClear: true, Serve: true})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer a.Close()
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Fatalf("cache not cleared: %v", err)
	}
}

func TestNew_UnreachableNATSFails(t *testing.T) {
	// nothing listens on port 1
	_, err := New(context.Background(), Config{CacheDir: t.TempDir(), Serve: true, NATSURL: "nats://127.0.0.1:1"})
	if err == nil || !strings.Contains(err.Error(), "nats connect") {
		t.Fatalf("expected nats connect error, got %v", err)
	}
}
