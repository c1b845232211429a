package cache

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHTTPCache_SaveLoad(t *testing.T) {
	c := &HTTPCache{Dir: t.TempDir()}
	ctx := context.Background()
	u := "https://codeforces.com/contest/1/submission/2"
	if err := c.Save(ctx, u, "text/html", `"v1"`, "Mon, 01 Jan 2024 00:00:00 GMT", []byte("<pre>x</pre>")); err != nil {
		t.Fatalf("save: %v", err)
	}
	meta, err := c.LoadMeta(ctx, u)
	if err != nil {
		t.Fatalf("load meta: %v", err)
	}
	if meta.ETag != `"v1"` || meta.URL != u || meta.SavedAt.IsZero() {
		t.Fatalf("unexpected meta: %+v", meta)
	}
	body, err := c.LoadBody(ctx, u)
	if err != nil || string(body) != "<pre>x</pre>" {
		t.Fatalf("load body: %q %v", body, err)
	}
}

func TestHTTPCache_StrictPerms(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "pages")
	c := &HTTPCache{Dir: dir, StrictPerms: true}
	if err := c.Save(context.Background(), "https://a.test/", "text/html", "", "", []byte("a")); err != nil {
		t.Fatalf("save: %v", err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode()&0o777 != 0o700 {
		t.Fatalf("dir mode %o", info.Mode()&0o777)
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		fi, _ := e.Info()
		if fi.Mode()&0o777 != 0o600 {
			t.Fatalf("%s mode %o", e.Name(), fi.Mode()&0o777)
		}
	}
}

func TestLLMCache_SaveGet(t *testing.T) {
	c := &LLMCache{Dir: t.TempDir()}
	key := KeyFrom("model", "prompt")
	if _, ok, err := c.Get(context.Background(), key); ok || err != nil {
		t.Fatalf("expected clean miss, ok=%v err=%v", ok, err)
	}
	if err := c.Save(context.Background(), key, []byte(`{"cleanCode":"x"}`)); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := c.Get(context.Background(), key)
	if err != nil || !ok || string(got) != `{"cleanCode":"x"}` {
		t.Fatalf("get: %q ok=%v err=%v", got, ok, err)
	}
	if KeyFrom("model", "prompt") == KeyFrom("other", "prompt") {
		t.Fatal("model must be part of the key")
	}
}

func TestLLMCache_UnreadableEntryIsAnError(t *testing.T) {
	c := &LLMCache{Dir: t.TempDir()}
	key := KeyFrom("model", "prompt")
	if err := os.Mkdir(c.pathFor(key), 0o755); err != nil {
		t.Fatal(err)
	}
	if _, ok, err := c.Get(context.Background(), key); ok || err == nil {
		t.Fatalf("expected read error, ok=%v err=%v", ok, err)
	}
}

func TestPurgeHTTPByAge(t *testing.T) {
	dir := t.TempDir()
	c := &HTTPCache{Dir: dir}
	ctx := context.Background()
	_ = c.Save(ctx, "https://old.test/", "text/html", "", "", []byte("old"))
	_ = c.Save(ctx, "https://new.test/", "text/html", "", "", []byte("new"))

	// age the first entry
	meta := c.metaPath("https://old.test/")
	b, _ := os.ReadFile(meta)
	aged := strings.Replace(string(b), time.Now().UTC().Format("2006-01-02"), "2000-01-01", 1)
	if err := os.WriteFile(meta, []byte(aged), 0o644); err != nil {
		t.Fatalf("rewrite meta: %v", err)
	}

	n, err := PurgeHTTPByAge(dir, time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged, got %d", n)
	}
	if _, err := c.LoadBody(ctx, "https://old.test/"); err == nil {
		t.Fatal("old body should be gone")
	}
	if _, err := c.LoadBody(ctx, "https://new.test/"); err != nil {
		t.Fatalf("new body should remain: %v", err)
	}
}

func TestPurgeLLMByAge(t *testing.T) {
	dir := t.TempDir()
	c := &LLMCache{Dir: dir}
	ctx := context.Background()
	oldKey, newKey := KeyFrom("m", "old"), KeyFrom("m", "new")
	_ = c.Save(ctx, oldKey, []byte("1"))
	_ = c.Save(ctx, newKey, []byte("2"))
	past := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(c.pathFor(oldKey), past, past); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	n, err := PurgeLLMByAge(dir, 24*time.Hour)
	if err != nil || n != 1 {
		t.Fatalf("purge: n=%d err=%v", n, err)
	}
	if _, ok, _ := c.Get(ctx, newKey); !ok {
		t.Fatal("fresh entry purged")
	}
}

func TestClearDir(t *testing.T) {
	dir := t.TempDir()
	_ = os.WriteFile(filepath.Join(dir, "x.body"), []byte("x"), 0o644)
	if err := ClearDir(dir); err != nil {
		t.Fatalf("clear: %v", err)
	}
	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Fatalf("expected empty dir, got %d entries", len(entries))
	}
	if err := ClearDir("  "); err == nil {
		t.Fatal("expected error for blank dir")
	}
}

func TestPurge_MissingDirIsNotAnError(t *testing.T) {
	if _, err := PurgeHTTPByAge(filepath.Join(t.TempDir(), "nope"), time.Hour); err != nil {
		t.Fatalf("purge missing dir: %v", err)
	}
}
