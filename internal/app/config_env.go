package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ApplyEnvOverrides overwrites cfg with every set environment variable.
// The CLI calls it after the config file and before replaying explicit flags,
// so env wins over the file and flags win over env. Unparseable values are
// ignored.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	override := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	override(&cfg.LLMProvider, "LLM_PROVIDER")
	override(&cfg.VertexProject, "VERTEX_PROJECT", "GOOGLE_CLOUD_PROJECT")
	override(&cfg.VertexRegion, "VERTEX_REGION", "GOOGLE_CLOUD_REGION")
	override(&cfg.LLMBaseURL, "LLM_BASE_URL")
	override(&cfg.LLMModel, "LLM_MODEL")
	override(&cfg.LLMAPIKey, "LLM_API_KEY")
	override(&cfg.Judge0URL, "JUDGE0_URL")
	override(&cfg.Judge0Key, "RAPIDAPI_KEY", "JUDGE0_KEY")
	override(&cfg.NATSURL, "NATS_URL")
	override(&cfg.NATSSubject, "NATS_SUBJECT")
	override(&cfg.CFBaseURL, "CF_BASE_URL")
	override(&cfg.CFAPIURL, "CF_API_URL")
	override(&cfg.CacheDir, "CACHE_DIR")
	override(&cfg.ListenAddr, "LISTEN_ADDR")
	if os.Getenv("LISTEN_ADDR") == "" {
		if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
			cfg.ListenAddr = ":" + port
		}
	}
	if n, err := strconv.Atoi(strings.TrimSpace(os.Getenv("MAX_CONCURRENT"))); err == nil && n > 0 {
		cfg.MaxConcurrent = n
	}

	for key, dst := range map[string]*time.Duration{
		"RETRIEVE_TIMEOUT": &cfg.RetrieveTimeout,
		"EXTRACT_TIMEOUT":  &cfg.ExtractTimeout,
		"POLL_INTERVAL":    &cfg.PollInterval,
		"CACHE_MAX_AGE":    &cfg.CacheMaxAge,
	} {
		if d, ok := envDuration(key); ok {
			*dst = d
		}
	}
	for key, dst := range map[string]*bool{
		"VERBOSE":            &cfg.Verbose,
		"CACHE_CLEAR":        &cfg.CacheClear,
		"CACHE_STRICT_PERMS": &cfg.CacheStrictPerms,
		"LLM_CACHE_ONLY":     &cfg.LLMCacheOnly,
		"RESPECT_ROBOTS":     &cfg.RespectRobots,
	} {
		if v, ok := envBool(key); ok {
			*dst = v
		}
	}
}

func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

func envBool(key string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}
