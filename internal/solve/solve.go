// Package solve chains the collaborators: find an accepted submission for a
// problem, retrieve its source, clean it for Judge0 and run it on an input.
package solve

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/codeforces"
	"github.com/hyperifyio/cfsource/internal/extractor"
	"github.com/hyperifyio/cfsource/internal/orchestrator"
)

// ErrSourceUnavailable is returned when the submission page never rendered
// its source before the extractor gave up.
var ErrSourceUnavailable = errors.New("submission source unavailable")

type Finder interface {
	FindAccepted(ctx context.Context, p codeforces.Problem) (codeforces.Accepted, error)
}

type Retriever interface {
	RetrieveResult(ctx context.Context, req orchestrator.Request) (orchestrator.Result, error)
}

type Cleaner interface {
	Clean(ctx context.Context, sourceCode, language string) (string, error)
}

type Runner interface {
	Run(ctx context.Context, code, input, language string) (string, error)
}

// Pipeline runs the steps in order. Cleaner and Runner may be nil, in which
// case their steps are skipped.
type Pipeline struct {
	Finder    Finder
	Retriever Retriever
	Cleaner   Cleaner
	Runner    Runner
}

// Solution is everything produced along the way.
type Solution struct {
	ProblemURL   string        `json:"problemUrl"`
	ContestID    string        `json:"contestId"`
	ProblemIndex string        `json:"problemIndex"`
	SubmissionID string        `json:"submissionId"`
	Language     string        `json:"language"`
	SourceURL    string        `json:"sourceUrl"`
	Code         string        `json:"code"`
	CleanCode    string        `json:"cleanCode,omitempty"`
	Input        string        `json:"input,omitempty"`
	Output       string        `json:"output,omitempty"`
	Ran          bool          `json:"ran"`
	Elapsed      time.Duration `json:"elapsedNs"`
}

// Solve runs the whole chain for problemURL. The partial Solution is returned
// alongside any error.
func (p *Pipeline) Solve(ctx context.Context, problemURL, input string) (sol Solution, err error) {
	start := time.Now()
	sol = Solution{ProblemURL: problemURL, Input: input}
	defer func() { sol.Elapsed = time.Since(start) }()

	prob, err := codeforces.ParseProblemURL(problemURL)
	if err != nil {
		return sol, err
	}
	sol.ContestID, sol.ProblemIndex = prob.ContestID, prob.Index
	logger := log.With().Str("contest", prob.ContestID).Str("problem", prob.Index).Logger()

	acc, err := p.Finder.FindAccepted(ctx, prob)
	if err != nil {
		return sol, err
	}
	sol.SubmissionID = strconv.FormatInt(acc.ID, 10)
	sol.Language = acc.Language
	logger.Info().Str("submission", sol.SubmissionID).Str("language", acc.Language).Msg("retrieving accepted submission")

	res, err := p.Retriever.RetrieveResult(ctx, orchestrator.Request{SourceID: prob.ContestID, DocumentID: sol.SubmissionID})
	sol.SourceURL = res.URL
	if err != nil {
		return sol, fmt.Errorf("retrieve submission %s: %w", sol.SubmissionID, err)
	}
	if res.TimedOut || extractor.IsTimeout(res.Text) {
		return sol, fmt.Errorf("submission %s: %w", sol.SubmissionID, ErrSourceUnavailable)
	}
	sol.Code = res.Text

	code := sol.Code
	if p.Cleaner != nil {
		cleaned, err := p.Cleaner.Clean(ctx, sol.Code, sol.Language)
		if err != nil {
			return sol, fmt.Errorf("clean: %w", err)
		}
		sol.CleanCode = cleaned
		code = cleaned
	}
	if p.Runner != nil {
		out, err := p.Runner.Run(ctx, code, input, sol.Language)
		if err != nil {
			return sol, fmt.Errorf("run: %w", err)
		}
		sol.Output, sol.Ran = out, true
	}
	logger.Info().Dur("elapsed", time.Since(start)).Bool("ran", sol.Ran).Msg("solve finished")
	return sol, nil
}
