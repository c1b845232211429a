package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/cfsource/internal/app"
	"github.com/hyperifyio/cfsource/internal/solve"
)

func TestParseFlags_PrecedenceFlagsEnvFile(t *testing.T) {
	dir := t.TempDir()
	conf := filepath.Join(dir, "cfsource.yaml")
	if err := os.WriteFile(conf, []byte("llm:\n  model: file-model\n  base: http://file.local/v1\njudge0:\n  url: http://judge.file\nretrieve:\n  timeout: 30s\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CFSOURCE_CONFIG", "")
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("LLM_BASE_URL", "")
	t.Setenv("JUDGE0_URL", "")

	cfg, err := parseFlags([]string{"-config", conf, "-serve", "-judge0.url", "http://judge.flag"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.LLMModel != "env-model" {
		t.Fatalf("LLMModel=%q, env should beat file", cfg.LLMModel)
	}
	if cfg.LLMBaseURL != "http://file.local/v1" {
		t.Fatalf("LLMBaseURL=%q, file should fill unset values", cfg.LLMBaseURL)
	}
	if cfg.Judge0URL != "http://judge.flag" {
		t.Fatalf("Judge0URL=%q, flag should win", cfg.Judge0URL)
	}
	if cfg.RetrieveTimeout != 30*time.Second {
		t.Fatalf("RetrieveTimeout=%v", cfg.RetrieveTimeout)
	}
}

func TestParseFlags_EnvReachesConfig(t *testing.T) {
	t.Setenv("CFSOURCE_CONFIG", "")
	t.Setenv("RETRIEVE_TIMEOUT", "30s")
	t.Setenv("EXTRACT_TIMEOUT", "10s")
	t.Setenv("POLL_INTERVAL", "")
	t.Setenv("MAX_CONCURRENT", "9")
	t.Setenv("CACHE_DIR", "/tmp/envcache")

	cfg, err := parseFlags([]string{"-serve"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RetrieveTimeout != 30*time.Second || cfg.ExtractTimeout != 10*time.Second {
		t.Fatalf("timeouts from env not applied: retrieve=%v extract=%v", cfg.RetrieveTimeout, cfg.ExtractTimeout)
	}
	if cfg.MaxConcurrent != 9 || cfg.CacheDir != "/tmp/envcache" {
		t.Fatalf("MaxConcurrent=%d CacheDir=%q", cfg.MaxConcurrent, cfg.CacheDir)
	}
	if cfg.PollInterval != 100*time.Millisecond {
		t.Fatalf("PollInterval=%v, want default", cfg.PollInterval)
	}
}

func TestParseFlags_EnvBeatsFileAndExplicitFlagsBeatBoth(t *testing.T) {
	conf := filepath.Join(t.TempDir(), "cfsource.yaml")
	if err := os.WriteFile(conf, []byte("retrieve:\n  timeout: 45s\n  maxConcurrent: 2\n  respectRobots: true\ncache:\n  maxAge: 1h\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CFSOURCE_CONFIG", conf)
	t.Setenv("RETRIEVE_TIMEOUT", "")
	t.Setenv("MAX_CONCURRENT", "6")
	t.Setenv("CACHE_MAX_AGE", "2h")
	t.Setenv("RESPECT_ROBOTS", "false")

	cfg, err := parseFlags([]string{"-serve"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RetrieveTimeout != 45*time.Second {
		t.Fatalf("RetrieveTimeout=%v, want file value", cfg.RetrieveTimeout)
	}
	if cfg.MaxConcurrent != 6 || cfg.CacheMaxAge != 2*time.Hour || cfg.RespectRobots {
		t.Fatalf("env should beat file: %+v", cfg)
	}

	// explicit flags win even when they equal the built-in default
	cfg, err = parseFlags([]string{"-serve", "-retrieve.timeout=90s", "-retrieve.concurrency=4", "-robots"}, io.Discard)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.RetrieveTimeout != 90*time.Second || cfg.MaxConcurrent != 4 || !cfg.RespectRobots {
		t.Fatalf("explicit flags lost: timeout=%v concurrency=%d robots=%v", cfg.RetrieveTimeout, cfg.MaxConcurrent, cfg.RespectRobots)
	}
	if cfg.CacheMaxAge != 2*time.Hour {
		t.Fatalf("CacheMaxAge=%v, env value expected", cfg.CacheMaxAge)
	}
}

func TestParseFlags_Errors(t *testing.T) {
	t.Setenv("CFSOURCE_CONFIG", "")
	if _, err := parseFlags(nil, io.Discard); err == nil || !strings.Contains(err.Error(), "one of") {
		t.Fatalf("expected missing mode error, got %v", err)
	}
	if _, err := parseFlags([]string{"-contest", "1"}, io.Discard); err == nil {
		t.Fatal("expected error for contest without submission")
	}
	if _, err := parseFlags([]string{"-version"}, io.Discard); !errors.Is(err, flag.ErrHelp) {
		t.Fatalf("expected ErrHelp for -version, got %v", err)
	}
	if _, err := parseFlags([]string{"-config", filepath.Join(t.TempDir(), "nope.yaml"), "-serve"}, io.Discard); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestExitCode(t *testing.T) {
	if got := exitCode(fmt.Errorf("x: %w", solve.ErrSourceUnavailable)); got != 3 {
		t.Fatalf("unavailable source exit=%d", got)
	}
	if got := exitCode(errors.Join(errors.New("a"), app.ErrSourceTimedOut)); got != 3 {
		t.Fatalf("timed out exit=%d", got)
	}
	if got := exitCode(errors.New("boom")); got != 1 {
		t.Fatalf("generic exit=%d", got)
	}
}
