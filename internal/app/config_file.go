package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
// Sections mirror the flag prefixes.
type FileConfig struct {
	Output    string `yaml:"output" json:"output"`
	OutputPDF string `yaml:"outputPDF" json:"outputPDF"`
	Listen    string `yaml:"listen" json:"listen"`
	UserAgent string `yaml:"userAgent" json:"userAgent"`
	Verbose   bool   `yaml:"verbose" json:"verbose"`

	Codeforces struct {
		Base string `yaml:"base" json:"base"`
		API  string `yaml:"api" json:"api"`
	} `yaml:"codeforces" json:"codeforces"`

	Retrieve struct {
		Timeout        time.Duration `yaml:"timeout" json:"timeout"`
		ExtractTimeout time.Duration `yaml:"extractTimeout" json:"extractTimeout"`
		PollInterval   time.Duration `yaml:"pollInterval" json:"pollInterval"`
		MaxConcurrent  int           `yaml:"maxConcurrent" json:"maxConcurrent"`
		RespectRobots  bool          `yaml:"respectRobots" json:"respectRobots"`
	} `yaml:"retrieve" json:"retrieve"`

	LLM struct {
		Provider  string `yaml:"provider" json:"provider"`
		Project   string `yaml:"project" json:"project"`
		Region    string `yaml:"region" json:"region"`
		BaseURL   string `yaml:"base" json:"base"`
		Model     string `yaml:"model" json:"model"`
		APIKey    string `yaml:"key" json:"key"`
		CacheOnly bool   `yaml:"cacheOnly" json:"cacheOnly"`
	} `yaml:"llm" json:"llm"`

	Judge0 struct {
		URL string `yaml:"url" json:"url"`
		Key string `yaml:"key" json:"key"`
	} `yaml:"judge0" json:"judge0"`

	NATS struct {
		URL     string `yaml:"url" json:"url"`
		Subject string `yaml:"subject" json:"subject"`
	} `yaml:"nats" json:"nats"`

	Cache struct {
		Dir         string        `yaml:"dir" json:"dir"`
		MaxAge      time.Duration `yaml:"maxAge" json:"maxAge"`
		Clear       bool          `yaml:"clear" json:"clear"`
		StrictPerms bool          `yaml:"strictPerms" json:"strictPerms"`
	} `yaml:"cache" json:"cache"`
}

// LoadConfigFile reads YAML or JSON into FileConfig. JSON goes through the
// YAML decoder first, which accepts duration strings such as "30s"; plain
// encoding/json is the fallback for JSON YAML rejects, like tab indentation.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			fc = FileConfig{}
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse json: %w", jerr)
			}
		}
	default:
		if err := yaml.Unmarshal(b, &fc); err != nil {
			fc = FileConfig{}
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig fills zero fields of cfg from fc. Call it on a fresh Config
// before env and flags are layered on top.
func ApplyFileConfig(cfg *Config, fc FileConfig) {
	if cfg == nil {
		return
	}
	str := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	dur := func(dst *time.Duration, v time.Duration) {
		if *dst == 0 && v > 0 {
			*dst = v
		}
	}
	flag := func(dst *bool, v bool) {
		if !*dst && v {
			*dst = true
		}
	}

	str(&cfg.OutputPath, fc.Output)
	str(&cfg.OutputPDFPath, fc.OutputPDF)
	str(&cfg.ListenAddr, fc.Listen)
	str(&cfg.UserAgent, fc.UserAgent)
	flag(&cfg.Verbose, fc.Verbose)

	str(&cfg.CFBaseURL, fc.Codeforces.Base)
	str(&cfg.CFAPIURL, fc.Codeforces.API)

	dur(&cfg.RetrieveTimeout, fc.Retrieve.Timeout)
	dur(&cfg.ExtractTimeout, fc.Retrieve.ExtractTimeout)
	dur(&cfg.PollInterval, fc.Retrieve.PollInterval)
	if cfg.MaxConcurrent == 0 && fc.Retrieve.MaxConcurrent > 0 {
		cfg.MaxConcurrent = fc.Retrieve.MaxConcurrent
	}
	flag(&cfg.RespectRobots, fc.Retrieve.RespectRobots)

	str(&cfg.LLMProvider, fc.LLM.Provider)
	str(&cfg.VertexProject, fc.LLM.Project)
	str(&cfg.VertexRegion, fc.LLM.Region)
	str(&cfg.LLMBaseURL, fc.LLM.BaseURL)
	str(&cfg.LLMModel, fc.LLM.Model)
	str(&cfg.LLMAPIKey, fc.LLM.APIKey)
	flag(&cfg.LLMCacheOnly, fc.LLM.CacheOnly)

	str(&cfg.Judge0URL, fc.Judge0.URL)
	str(&cfg.Judge0Key, fc.Judge0.Key)
	str(&cfg.NATSURL, fc.NATS.URL)
	str(&cfg.NATSSubject, fc.NATS.Subject)

	str(&cfg.CacheDir, fc.Cache.Dir)
	dur(&cfg.CacheMaxAge, fc.Cache.MaxAge)
	flag(&cfg.CacheClear, fc.Cache.Clear)
	flag(&cfg.CacheStrictPerms, fc.Cache.StrictPerms)
}

// ValidateConfig checks the settings the selected mode needs.
func ValidateConfig(cfg Config) error {
	modes := 0
	if cfg.Serve {
		modes++
	}
	if strings.TrimSpace(cfg.ProblemURL) != "" {
		modes++
	}
	if strings.TrimSpace(cfg.ContestID) != "" || strings.TrimSpace(cfg.SubmissionID) != "" {
		modes++
		if strings.TrimSpace(cfg.ContestID) == "" || strings.TrimSpace(cfg.SubmissionID) == "" {
			return errors.New("config: both contest and submission ids are required")
		}
	}
	switch modes {
	case 0:
		return errors.New("config: one of -serve, -problem or -contest/-submission is required")
	case 1:
	default:
		return errors.New("config: -serve, -problem and -contest/-submission are mutually exclusive")
	}
	if strings.TrimSpace(cfg.ProblemURL) != "" && strings.TrimSpace(cfg.OutputPath) == "" {
		return errors.New("config: output path is required")
	}
	for name, raw := range map[string]string{
		"codeforces.base": cfg.CFBaseURL,
		"codeforces.api":  cfg.CFAPIURL,
		"llm.base":        cfg.LLMBaseURL,
		"judge0.url":      cfg.Judge0URL,
	} {
		if raw == "" {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: %s must be an http(s) URL, got %q", name, raw)
		}
	}
	if raw := strings.TrimSpace(cfg.NATSURL); raw != "" {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "nats" && u.Scheme != "tls" && u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("config: nats.url must be a nats:// URL, got %q", raw)
		}
	}
	switch cfg.LLMProvider {
	case "", ProviderOpenAI:
	case ProviderVertex:
		if strings.TrimSpace(cfg.LLMModel) != "" && (strings.TrimSpace(cfg.VertexProject) == "" || strings.TrimSpace(cfg.VertexRegion) == "") {
			return errors.New("config: llm.provider=vertex needs llm.project and llm.region (or VERTEX_PROJECT, VERTEX_REGION)")
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q", cfg.LLMProvider)
	}
	if cfg.RetrieveTimeout < 0 || cfg.ExtractTimeout < 0 || cfg.PollInterval < 0 || cfg.MaxConcurrent < 0 {
		return errors.New("config: negative durations and limits are not allowed")
	}
	if cfg.ExtractTimeout > 0 && cfg.RetrieveTimeout > 0 && cfg.ExtractTimeout >= cfg.RetrieveTimeout {
		return fmt.Errorf("config: extract timeout %v must be shorter than retrieve timeout %v", cfg.ExtractTimeout, cfg.RetrieveTimeout)
	}
	return nil
}
