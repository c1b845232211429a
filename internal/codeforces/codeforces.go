// Package codeforces finds accepted submissions through the public API and
// parses problem links.
package codeforces

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/cfsource/internal/fetch"
)

const (
	DefaultBaseURL = "https://codeforces.com"
	DefaultAPIURL  = "https://codeforces.com/api"
	// DefaultCount is how many of the newest submissions are scanned.
	DefaultCount = 1000
)

var (
	ErrInvalidProblemURL = errors.New("couldn't extract contest id or problem index from url")
	ErrAPI               = errors.New("codeforces api error")
	ErrNoAccepted        = errors.New("no accepted submission found")
)

// Language pairs a substring of Codeforces' language names with the short
// name used by the cleaner and Judge0.
type Language struct {
	Match string
	Name  string
}

// PreferredLanguages is the search order for accepted submissions.
var PreferredLanguages = []Language{
	{Match: "C++", Name: "cpp"},
	{Match: "Python", Name: "python"},
	{Match: "Java", Name: "java"},
	{Match: "C", Name: "c"},
	{Match: "Kotlin", Name: "kotlin"},
	{Match: "Go", Name: "go"},
}

// Problem identifies a problem within a contest.
type Problem struct {
	ContestID string
	Index     string
}

type Submission struct {
	ID                  int64  `json:"id"`
	ContestID           int64  `json:"contestId"`
	ProgrammingLanguage string `json:"programmingLanguage"`
	Verdict             string `json:"verdict"`
	Problem             struct {
		ContestID int64  `json:"contestId"`
		Index     string `json:"index"`
		Name      string `json:"name"`
	} `json:"problem"`
}

// Accepted is the submission chosen for a problem.
type Accepted struct {
	Submission
	// Language is the short name from PreferredLanguages.
	Language string
}

// SubmissionID renders the id the way submission URLs use it.
func (a Accepted) SubmissionID() string { return strconv.FormatInt(a.ID, 10) }

// ParseProblemURL accepts /contest/{id}/problem/{idx} and
// /problemset/problem/{id}/{idx} links, absolute or path-only.
func ParseProblemURL(raw string) (Problem, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Problem{}, fmt.Errorf("%w: %v", ErrInvalidProblemURL, err)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	at := func(i int) string {
		if i < 0 || i >= len(parts) {
			return ""
		}
		return parts[i]
	}
	var p Problem
	contest, problem, problemset := indexOf(parts, "contest"), indexOf(parts, "problem"), indexOf(parts, "problemset")
	switch {
	case contest >= 0 && problem >= 0:
		p = Problem{ContestID: at(contest + 1), Index: at(problem + 1)}
	case problemset >= 0 && problem >= 0:
		p = Problem{ContestID: at(problem + 1), Index: at(problem + 2)}
	}
	if p.ContestID == "" || p.Index == "" {
		return Problem{}, fmt.Errorf("%w: %s", ErrInvalidProblemURL, raw)
	}
	return p, nil
}

func indexOf(parts []string, s string) int {
	for i, p := range parts {
		if p == s {
			return i
		}
	}
	return -1
}

// SubmissionURL is the page that renders a submission's source.
func SubmissionURL(baseURL, contestID, submissionID string) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s/contest/%s/submission/%s", strings.TrimRight(baseURL, "/"), contestID, submissionID)
}

// Getter is satisfied by *fetch.Client.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, string, error)
}

// Client reads contest.status.
type Client struct {
	APIURL string
	HTTP   Getter
	Count  int
}

// NewClient uses a JSON-accepting fetch client with the given user agent.
func NewClient(apiURL, userAgent string) *Client {
	return &Client{
		APIURL: apiURL,
		HTTP:   &fetch.Client{UserAgent: userAgent, Accept: fetch.JSONTypes, MaxAttempts: 2},
	}
}

type statusResponse struct {
	Status  string       `json:"status"`
	Comment string       `json:"comment"`
	Result  []Submission `json:"result"`
}

// Status returns the newest submissions of a contest.
func (c *Client) Status(ctx context.Context, contestID string) ([]Submission, error) {
	if _, err := strconv.ParseInt(contestID, 10, 64); err != nil {
		return nil, fmt.Errorf("contest id %q: %w", contestID, ErrInvalidProblemURL)
	}
	api := strings.TrimRight(c.APIURL, "/")
	if api == "" {
		api = DefaultAPIURL
	}
	count := c.Count
	if count <= 0 {
		count = DefaultCount
	}
	q := url.Values{}
	q.Set("contestId", contestID)
	q.Set("from", "1")
	q.Set("count", strconv.Itoa(count))
	body, _, err := c.HTTP.Get(ctx, api+"/contest.status?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("contest.status: %w", err)
	}
	var sr statusResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("decode contest.status: %w", err)
	}
	if sr.Status != "OK" {
		return nil, fmt.Errorf("%w: %s %s", ErrAPI, sr.Status, sr.Comment)
	}
	return sr.Result, nil
}

// FindAccepted returns the first accepted submission for p, trying each
// preferred language in order.
func (c *Client) FindAccepted(ctx context.Context, p Problem) (Accepted, error) {
	subs, err := c.Status(ctx, p.ContestID)
	if err != nil {
		return Accepted{}, err
	}
	a, ok := PickAccepted(subs, p.Index, PreferredLanguages)
	if !ok {
		return Accepted{}, fmt.Errorf("%w for problem %s in contest %s", ErrNoAccepted, p.Index, p.ContestID)
	}
	log.Debug().
		Str("contest", p.ContestID).
		Str("problem", p.Index).
		Int64("submission", a.ID).
		Str("language", a.ProgrammingLanguage).
		Msg("accepted submission selected")
	return a, nil
}

// PickAccepted scans subs once per language in prefs.
func PickAccepted(subs []Submission, index string, prefs []Language) (Accepted, bool) {
	for _, l := range prefs {
		match := strings.ToLower(l.Match)
		for _, s := range subs {
			if s.Verdict == "OK" && s.Problem.Index == index && strings.Contains(strings.ToLower(s.ProgrammingLanguage), match) {
				return Accepted{Submission: s, Language: l.Name}, true
			}
		}
	}
	return Accepted{}, false
}
