package app

import (
	"time"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Mode selection; the CLI sets exactly one of these.
	Serve        bool
	ProblemURL   string
	ContestID    string
	SubmissionID string

	// InputPath holds the custom test input for a solve. Empty means no run.
	InputPath  string
	OutputPath string
	// OutputPDFPath, when set, also renders the report as PDF.
	OutputPDFPath string

	ListenAddr string
	UserAgent  string

	// Codeforces
	CFBaseURL string
	CFAPIURL  string

	// Retrieval timing
	RetrieveTimeout time.Duration
	ExtractTimeout  time.Duration
	PollInterval    time.Duration
	MaxConcurrent   int
	RespectRobots   bool

	// LLM. LLMProvider is "openai" (any compatible endpoint) or "vertex".
	LLMProvider   string
	LLMBaseURL    string
	LLMModel      string
	LLMAPIKey     string
	VertexProject string
	VertexRegion  string

	// Judge0
	Judge0URL string
	Judge0Key string

	// NATS subject for retrieval outcomes; empty URL disables publishing
	NATSURL     string
	NATSSubject string

	// Behavior
	SkipClean        bool
	SkipRun          bool
	CacheDir         string
	CacheMaxAge      time.Duration
	CacheClear       bool
	CacheStrictPerms bool
	LLMCacheOnly     bool
	Verbose          bool
}

// LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

// Defaults applied by the CLI flags and by ApplyDefaults.
const (
	defaultOutput          = "solution.md"
	defaultListenAddr      = "localhost:3000"
	defaultUserAgent       = "cfsource/1.0 (+https://github.com/hyperifyio/cfsource)"
	defaultCacheDir        = ".cfsource-cache"
	defaultRetrieveTimeout = 90 * time.Second
	defaultExtractTimeout  = 60 * time.Second
	defaultPollInterval    = 100 * time.Millisecond
	defaultMaxConcurrent   = 4
)

// ApplyDefaults fills zero fields.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderOpenAI
	}
	if cfg.OutputPath == "" {
		cfg.OutputPath = defaultOutput
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = defaultCacheDir
	}
	if cfg.RetrieveTimeout <= 0 {
		cfg.RetrieveTimeout = defaultRetrieveTimeout
	}
	if cfg.ExtractTimeout <= 0 {
		cfg.ExtractTimeout = defaultExtractTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
}
