package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/app"
	"github.com/hyperifyio/cfsource/internal/solve"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// .env values join the environment layer of the config
	if err := app.LoadEnvFiles(".env"); err != nil {
		log.Warn().Err(err).Msg("load .env")
	}

	cfg, err := parseFlags(os.Args[1:], os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		log.Error().Err(err).Msg("invalid configuration")
		os.Exit(2)
	}

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if err := run(cfg); err != nil {
		log.Error().Err(err).Msg("run failed")
		os.Exit(exitCode(err))
	}
}

// parseFlags builds the configuration with precedence flags > env > config
// file > defaults. Only flags given on the command line take part; their
// defaults come from app.ApplyDefaults.
func parseFlags(args []string, stderr io.Writer) (app.Config, error) {
	var (
		flagged    app.Config
		configPath string
		version    bool
	)
	fs := newFlagSet(&flagged, &configPath, &version)
	fs.SetOutput(stderr)
	if err := fs.Parse(args); err != nil {
		return flagged, err
	}
	if version {
		fmt.Fprintf(stderr, "cfsource %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return flagged, flag.ErrHelp
	}

	var cfg app.Config
	if strings.TrimSpace(configPath) != "" {
		fc, err := app.LoadConfigFile(configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config %s: %w", configPath, err)
		}
		app.ApplyFileConfig(&cfg, fc)
	}
	app.ApplyEnvOverrides(&cfg)

	// replay the explicit flags on top
	replay := newFlagSet(&cfg, new(string), new(bool))
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err == nil {
			err = replay.Set(f.Name, f.Value.String())
		}
	})
	if err != nil {
		return cfg, err
	}

	app.ApplyDefaults(&cfg)
	if err := app.ValidateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// newFlagSet binds every CLI flag to cfg. Defaults are zero values so that an
// unset flag never masks the file or the environment.
func newFlagSet(cfg *app.Config, configPath *string, version *bool) *flag.FlagSet {
	fs := flag.NewFlagSet("cfsource", flag.ContinueOnError)
	fs.StringVar(configPath, "config", os.Getenv("CFSOURCE_CONFIG"), "Path to a YAML or JSON config file")
	fs.BoolVar(version, "version", false, "Print version and exit")

	fs.BoolVar(&cfg.Serve, "serve", false, "Serve the HTTP API")
	fs.StringVar(&cfg.ListenAddr, "listen", "", "Listen address for -serve (default localhost:3000, env LISTEN_ADDR or PORT)")
	fs.StringVar(&cfg.ProblemURL, "problem", "", "Problem URL to solve, e.g. https://codeforces.com/contest/1900/problem/B")
	fs.StringVar(&cfg.InputPath, "input", "", "Path to test input run through Judge0 after solving")
	fs.StringVar(&cfg.ContestID, "contest", "", "Contest id for direct retrieval")
	fs.StringVar(&cfg.SubmissionID, "submission", "", "Submission id, or comma-separated ids, for direct retrieval")
	fs.StringVar(&cfg.OutputPath, "output", "", "Path to write the solution report or retrieved source (default solution.md)")
	fs.StringVar(&cfg.OutputPDFPath, "output.pdf", "", "Also render the solution report as PDF")

	fs.StringVar(&cfg.CFBaseURL, "cf.base", "", "Codeforces site root (env CF_BASE_URL)")
	fs.StringVar(&cfg.CFAPIURL, "cf.api", "", "Codeforces API root (env CF_API_URL)")
	fs.StringVar(&cfg.UserAgent, "ua", "", "User-Agent for page and API requests")
	fs.DurationVar(&cfg.RetrieveTimeout, "retrieve.timeout", 0, "Deadline for one retrieval, tab creation to result (default 90s, env RETRIEVE_TIMEOUT)")
	fs.DurationVar(&cfg.ExtractTimeout, "retrieve.extractTimeout", 0, "How long the extractor waits for the source element (default 60s, env EXTRACT_TIMEOUT)")
	fs.DurationVar(&cfg.PollInterval, "retrieve.poll", 0, "Extractor polling interval (default 100ms, env POLL_INTERVAL)")
	fs.IntVar(&cfg.MaxConcurrent, "retrieve.concurrency", 0, "Maximum concurrent retrievals and page fetches (default 4, env MAX_CONCURRENT)")
	fs.BoolVar(&cfg.RespectRobots, "robots", false, "Honor robots.txt before loading pages (env RESPECT_ROBOTS)")

	fs.StringVar(&cfg.LLMProvider, "llm.provider", "", "LLM backend: openai (default, any compatible endpoint) or vertex")
	fs.StringVar(&cfg.VertexProject, "llm.project", "", "Google Cloud project for -llm.provider=vertex (env VERTEX_PROJECT)")
	fs.StringVar(&cfg.VertexRegion, "llm.region", "", "Vertex AI region for -llm.provider=vertex (env VERTEX_REGION)")
	fs.StringVar(&cfg.LLMBaseURL, "llm.base", "", "OpenAI-compatible base URL (env LLM_BASE_URL)")
	fs.StringVar(&cfg.LLMModel, "llm.model", "", "Model name; empty disables cleaning (env LLM_MODEL)")
	fs.StringVar(&cfg.LLMAPIKey, "llm.key", "", "API key for the OpenAI-compatible server (env LLM_API_KEY)")
	fs.BoolVar(&cfg.LLMCacheOnly, "llm.cacheOnly", false, "Fail instead of calling the model on a cache miss")
	fs.BoolVar(&cfg.SkipClean, "no-clean", false, "Skip the LLM cleaning step")

	fs.StringVar(&cfg.Judge0URL, "judge0.url", "", "Judge0 base URL (default RapidAPI Judge0 CE, env JUDGE0_URL)")
	fs.StringVar(&cfg.Judge0Key, "judge0.key", "", "RapidAPI key for Judge0 (env RAPIDAPI_KEY)")
	fs.BoolVar(&cfg.SkipRun, "no-run", false, "Skip running the solution on Judge0")
	fs.StringVar(&cfg.NATSURL, "nats.url", "", "Publish retrieval outcomes to this NATS server (env NATS_URL)")
	fs.StringVar(&cfg.NATSSubject, "nats.subject", "", "NATS subject for retrieval outcomes (default cfsource.retrievals)")

	fs.StringVar(&cfg.CacheDir, "cache.dir", "", "Cache directory path (default .cfsource-cache, env CACHE_DIR)")
	fs.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", 0, "Max age for cache entries before purge (e.g. 24h); 0 disables")
	fs.BoolVar(&cfg.CacheClear, "cache.clear", false, "Clear cache directory before run")
	fs.BoolVar(&cfg.CacheStrictPerms, "cache.strictPerms", false, "Restrict cache permissions (0700 dirs, 0600 files)")
	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	return fs
}

func run(cfg app.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}
	defer a.Close()

	return a.Run(ctx)
}

// exitCode maps failures to the process status: 3 when a page never rendered
// its source, 1 otherwise.
func exitCode(err error) int {
	if errors.Is(err, app.ErrSourceTimedOut) || errors.Is(err, solve.ErrSourceUnavailable) {
		return 3
	}
	return 1
}
