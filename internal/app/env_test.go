package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadEnvFiles_LoadsKeyValues(t *testing.T) {
	t.Setenv("FOO", "")
	t.Setenv("BAR", "")
	t.Setenv("BAZ", "")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "\n# sample dotenv file\nFOO=alpha\nexport BAR=\"beta gamma\"\nBAZ='a=b'\nmalformed\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	if err := LoadEnvFiles(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	for k, want := range map[string]string{"FOO": "alpha", "BAR": "beta gamma", "BAZ": "a=b"} {
		if got := os.Getenv(k); got != want {
			t.Fatalf("%s=%q, want %q", k, got, want)
		}
	}
}

// Later files override earlier ones when loading multiple dotenv files.
func TestLoadEnvFiles_OverrideOrder(t *testing.T) {
	t.Setenv("K", "")
	dir := t.TempDir()
	a := filepath.Join(dir, ".env.a")
	b := filepath.Join(dir, ".env.b")
	if err := os.WriteFile(a, []byte("K=first\n"), 0o600); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("K=second\n"), 0o600); err != nil {
		t.Fatalf("write b: %v", err)
	}
	if err := LoadEnvFiles(a, b); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	if got := os.Getenv("K"); got != "second" {
		t.Fatalf("override order failed: got %q, want second", got)
	}
}

func TestApplyEnvOverrides_FromEnv(t *testing.T) {
	t.Setenv("LISTEN_ADDR", "")
	t.Setenv("PORT", "8080")
	t.Setenv("RAPIDAPI_KEY", "")
	t.Setenv("JUDGE0_KEY", "secret")
	t.Setenv("CACHE_DIR", "/tmp/cfsource-cache")
	t.Setenv("RETRIEVE_TIMEOUT", "30s")
	t.Setenv("EXTRACT_TIMEOUT", "not-a-duration")
	t.Setenv("RESPECT_ROBOTS", "yes")
	t.Setenv("MAX_CONCURRENT", "3")

	var cfg Config
	ApplyEnvOverrides(&cfg)
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("ListenAddr=%q, want fallback from PORT", cfg.ListenAddr)
	}
	if cfg.Judge0Key != "secret" {
		t.Fatalf("Judge0Key=%q, want fallback from JUDGE0_KEY", cfg.Judge0Key)
	}
	if cfg.CacheDir != "/tmp/cfsource-cache" {
		t.Fatalf("CacheDir=%q", cfg.CacheDir)
	}
	if cfg.RetrieveTimeout != 30*time.Second || cfg.ExtractTimeout != 0 {
		t.Fatalf("durations: retrieve=%v extract=%v", cfg.RetrieveTimeout, cfg.ExtractTimeout)
	}
	if !cfg.RespectRobots || cfg.MaxConcurrent != 3 {
		t.Fatalf("RespectRobots=%v MaxConcurrent=%d", cfg.RespectRobots, cfg.MaxConcurrent)
	}
}

func TestApplyEnvOverrides_WinsOverFile(t *testing.T) {
	t.Setenv("LLM_MODEL", "from-env")
	t.Setenv("VERBOSE", "false")
	t.Setenv("POLL_INTERVAL", "250ms")
	cfg := Config{LLMModel: "from-file", Verbose: true}
	ApplyEnvOverrides(&cfg)
	if cfg.LLMModel != "from-env" {
		t.Fatalf("LLMModel=%q, want from-env", cfg.LLMModel)
	}
	if cfg.Verbose {
		t.Fatalf("VERBOSE=false should clear Verbose")
	}
	if cfg.PollInterval != 250*time.Millisecond {
		t.Fatalf("PollInterval=%v", cfg.PollInterval)
	}
}

func TestApplyEnvOverrides_VertexFallbacks(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "vertex")
	t.Setenv("VERTEX_PROJECT", "")
	t.Setenv("GOOGLE_CLOUD_PROJECT", "gcp-project")
	t.Setenv("VERTEX_REGION", "europe-north1")
	var cfg Config
	ApplyEnvOverrides(&cfg)
	if cfg.LLMProvider != ProviderVertex || cfg.VertexProject != "gcp-project" || cfg.VertexRegion != "europe-north1" {
		t.Fatalf("unexpected vertex settings: %+v", cfg)
	}
}
