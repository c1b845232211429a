// Package app wires configuration into the retrieval stack and runs one of
// the CLI modes: serve the HTTP API, solve a problem, or retrieve submissions.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/hyperifyio/cfsource/internal/browser/headless"
	"github.com/hyperifyio/cfsource/internal/cache"
	"github.com/hyperifyio/cfsource/internal/clean"
	"github.com/hyperifyio/cfsource/internal/codeforces"
	"github.com/hyperifyio/cfsource/internal/extractor"
	"github.com/hyperifyio/cfsource/internal/fetch"
	"github.com/hyperifyio/cfsource/internal/judge"
	"github.com/hyperifyio/cfsource/internal/llm"
	"github.com/hyperifyio/cfsource/internal/notify"
	"github.com/hyperifyio/cfsource/internal/orchestrator"
	"github.com/hyperifyio/cfsource/internal/robots"
	"github.com/hyperifyio/cfsource/internal/server"
	"github.com/hyperifyio/cfsource/internal/solve"
)

// ErrSourceTimedOut is returned by Run in retrieve mode when a page never
// rendered its source element.
var ErrSourceTimedOut = errors.New("one or more submissions timed out")

// Codeforces allows one API call per two seconds.
const cfAPIInterval = 2 * time.Second

type App struct {
	cfg      Config
	closers  []io.Closer
	host     *headless.Host
	orch     *orchestrator.Orchestrator
	pipeline *solve.Pipeline
	server   *server.Server
}

func New(ctx context.Context, cfg Config) (*App, error) {
	ApplyDefaults(&cfg)
	httpClient := newHTTPClient(cfg.MaxConcurrent)

	pageDir := filepath.Join(cfg.CacheDir, "http")
	llmDir := filepath.Join(cfg.CacheDir, "llm")
	if cfg.CacheClear {
		if err := cache.ClearDir(cfg.CacheDir); err != nil {
			return nil, fmt.Errorf("clear cache: %w", err)
		}
	}
	if cfg.CacheMaxAge > 0 {
		// best effort; a stale entry is harmless
		if n, err := cache.PurgeHTTPByAge(pageDir, cfg.CacheMaxAge); err != nil {
			log.Warn().Err(err).Msg("purge page cache")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("purged page cache")
		}
		if n, err := cache.PurgeLLMByAge(llmDir, cfg.CacheMaxAge); err != nil {
			log.Warn().Err(err).Msg("purge llm cache")
		} else if n > 0 {
			log.Info().Int("removed", n).Msg("purged llm cache")
		}
	}
	pageCache := &cache.HTTPCache{Dir: pageDir, StrictPerms: cfg.CacheStrictPerms}

	pages := &fetch.Client{
		HTTPClient:        httpClient,
		UserAgent:         cfg.UserAgent,
		MaxAttempts:       3,
		PerRequestTimeout: 20 * time.Second,
		Cache:             pageCache,
		MaxConcurrent:     cfg.MaxConcurrent,
	}
	var opts []headless.Option
	if cfg.RespectRobots {
		opts = append(opts, headless.WithGate(&robots.Manager{
			HTTPClient: httpClient,
			Cache:      pageCache,
			UserAgent:  cfg.UserAgent,
			// the site root is operator-configured, not user input
			AllowPrivateHosts: true,
		}))
	}
	host := headless.New(pages, opts...)

	var closers []io.Closer
	orchCfg := orchestrator.Config{
		BaseURL: cfg.CFBaseURL,
		Timeout: cfg.RetrieveTimeout,
		Extractor: extractor.Config{
			Interval: cfg.PollInterval,
			Timeout:  cfg.ExtractTimeout,
		},
	}
	if strings.TrimSpace(cfg.NATSURL) != "" {
		pub, err := notify.Connect(notify.Options{URL: cfg.NATSURL, Subject: cfg.NATSSubject, Name: "cfsource"})
		if err != nil {
			_ = host.Close()
			return nil, err
		}
		closers = append(closers, pub)
		orchCfg.OnOutcome = pub.Observe
		log.Info().Str("subject", pub.Subject()).Msg("publishing retrieval outcomes")
	}
	orch := orchestrator.New(host, orchCfg)

	cf := codeforces.NewClient(cfg.CFAPIURL, cfg.UserAgent)
	cf.HTTP = &fetch.Client{
		HTTPClient:        httpClient,
		UserAgent:         cfg.UserAgent,
		Accept:            fetch.JSONTypes,
		MaxAttempts:       2,
		PerRequestTimeout: 30 * time.Second,
		Limiter:           rate.NewLimiter(rate.Every(cfAPIInterval), 1),
	}

	pipeline := &solve.Pipeline{Finder: cf, Retriever: orch}
	deps := server.Deps{Retriever: orch, Events: host.Events()}

	if !cfg.SkipClean && strings.TrimSpace(cfg.LLMModel) != "" {
		var provider llm.Client
		switch cfg.LLMProvider {
		case ProviderVertex:
			v, err := llm.NewVertex(ctx, cfg.VertexProject, cfg.VertexRegion)
			if err != nil {
				closeAll(closers)
				_ = host.Close()
				return nil, err
			}
			closers = append(closers, v)
			provider = v
		default:
			provider = llm.New(cfg.LLMBaseURL, cfg.LLMAPIKey, httpClient)
		}
		if !cfg.LLMCacheOnly {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := llm.Ping(pctx, provider, cfg.LLMModel); err != nil {
				log.Warn().Err(err).Str("model", cfg.LLMModel).Msg("LLM preflight failed; continuing")
			}
			cancel()
		}
		cleaner := &clean.Cleaner{
			Client:    provider,
			Model:     cfg.LLMModel,
			Cache:     &cache.LLMCache{Dir: llmDir, StrictPerms: cfg.CacheStrictPerms},
			CacheOnly: cfg.LLMCacheOnly,
		}
		pipeline.Cleaner = cleaner
		deps.Cleaner = cleaner
	} else {
		log.Debug().Msg("no LLM model configured; cleaning disabled")
	}

	if !cfg.SkipRun {
		runner := &judge.Client{BaseURL: cfg.Judge0URL, APIKey: cfg.Judge0Key, HTTPClient: httpClient}
		pipeline.Runner = runner
		deps.Runner = runner
	}
	deps.Solver = pipeline

	return &App{
		cfg:      cfg,
		closers:  closers,
		host:     host,
		orch:     orch,
		pipeline: pipeline,
		server:   server.New(deps),
	}, nil
}

// Close removes any tabs still open and releases model and bus clients.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.host != nil {
		if err := a.host.Close(); err != nil {
			log.Debug().Err(err).Msg("close host")
		}
	}
	closeAll(a.closers)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		if err := c.Close(); err != nil {
			log.Debug().Err(err).Msg("close client")
		}
	}
}

// Run executes the configured mode.
func (a *App) Run(ctx context.Context) error {
	switch {
	case a.cfg.Serve:
		log.Info().Str("addr", a.cfg.ListenAddr).Msg("serving")
		return a.server.ListenAndServe(ctx, a.cfg.ListenAddr)
	case strings.TrimSpace(a.cfg.ProblemURL) != "":
		return a.runSolve(ctx)
	default:
		return a.runRetrieve(ctx)
	}
}

func (a *App) runSolve(ctx context.Context) error {
	var input string
	if a.cfg.InputPath != "" {
		b, err := os.ReadFile(a.cfg.InputPath)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		input = string(b)
	}
	p := *a.pipeline
	if a.cfg.InputPath == "" {
		p.Runner = nil
	}
	sol, err := p.Solve(ctx, a.cfg.ProblemURL, input)
	if err != nil {
		return err
	}
	report := renderReport(sol, a.cfg)
	if err := writeFile(a.cfg.OutputPath, report); err != nil {
		return err
	}
	log.Info().Str("out", a.cfg.OutputPath).Str("submission", sol.SubmissionID).Msg("solution written")
	if a.cfg.OutputPDFPath != "" {
		if err := writeSimplePDF(report, a.cfg.OutputPDFPath); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		log.Info().Str("out", a.cfg.OutputPDFPath).Msg("pdf written")
	}
	return nil
}

// runRetrieve fetches one or more comma-separated submissions of a contest
// and writes their sources to stdout, or to the output path when a single
// submission is requested with -output.
func (a *App) runRetrieve(ctx context.Context) error {
	var reqs []orchestrator.Request
	for _, id := range strings.Split(a.cfg.SubmissionID, ",") {
		if id = strings.TrimSpace(id); id != "" {
			reqs = append(reqs, orchestrator.Request{SourceID: a.cfg.ContestID, DocumentID: id})
		}
	}
	outcomes := a.orch.RetrieveAll(ctx, reqs, a.cfg.MaxConcurrent)

	var errs []error
	var b strings.Builder
	timedOut := false
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("submission %s: %w", o.Request.DocumentID, o.Err))
			continue
		}
		if o.Result.TimedOut {
			timedOut = true
		}
		if len(outcomes) > 1 {
			fmt.Fprintf(&b, "// %s\n", o.Result.URL)
		}
		b.WriteString(o.Result.Text)
		if !strings.HasSuffix(o.Result.Text, "\n") {
			b.WriteString("\n")
		}
	}
	if len(reqs) == 1 && a.cfg.OutputPath != "" && a.cfg.OutputPath != defaultOutput {
		if err := writeFile(a.cfg.OutputPath, b.String()); err != nil {
			errs = append(errs, err)
		}
	} else {
		_, _ = os.Stdout.WriteString(b.String())
	}
	if timedOut {
		errs = append(errs, ErrSourceTimedOut)
	}
	return errors.Join(errs...)
}

func writeFile(path, content string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
