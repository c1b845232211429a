// Package judge runs code against custom input on a Judge0 instance.
package judge

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/text/unicode/norm"
)

// DefaultBaseURL is the RapidAPI-hosted Judge0 CE.
const DefaultBaseURL = "https://judge0-ce.p.rapidapi.com"

// DefaultLanguageID is used for unknown language names (C++).
const DefaultLanguageID = 54

var languageIDs = map[string]int{
	"cpp":        54,
	"c++":        54,
	"python":     71,
	"java":       62,
	"javascript": 63,
	"c":          50,
	"kotlin":     78,
	"go":         60,
}

// LanguageID maps a language name to its Judge0 id.
func LanguageID(language string) int {
	if id, ok := languageIDs[strings.ToLower(strings.TrimSpace(language))]; ok {
		return id
	}
	return DefaultLanguageID
}

// ErrUpstream wraps non-2xx answers from Judge0.
var ErrUpstream = errors.New("judge0 error")

// Client submits code synchronously (wait=true).
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Submission is the decoded Judge0 result.
type Submission struct {
	Stdout        string
	Stderr        string
	CompileOutput string
	Status        string
	Time          string
}

// Output is the first non-empty of stdout, stderr and compile output.
func (s Submission) Output() string {
	for _, v := range []string{s.Stdout, s.Stderr, s.CompileOutput} {
		if v != "" {
			return v
		}
	}
	return ""
}

type request struct {
	SourceCode string `json:"source_code"`
	Stdin      string `json:"stdin"`
	LanguageID int    `json:"language_id"`
}

type response struct {
	Stdout        *string `json:"stdout"`
	Stderr        *string `json:"stderr"`
	CompileOutput *string `json:"compile_output"`
	Time          *string `json:"time"`
	Status        struct {
		ID          int    `json:"id"`
		Description string `json:"description"`
	} `json:"status"`
}

// Run submits code with input and returns the program output.
func (c *Client) Run(ctx context.Context, code, input, language string) (string, error) {
	sub, err := c.Submit(ctx, code, input, language)
	if err != nil {
		return "", err
	}
	return sub.Output(), nil
}

// Submit posts one submission and waits for its result.
func (c *Client) Submit(ctx context.Context, code, input, language string) (Submission, error) {
	base := strings.TrimRight(c.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	endpoint := base + "/submissions?base64_encoded=true&wait=true"
	body, err := json.Marshal(request{
		SourceCode: encode(code),
		Stdin:      encode(input),
		LanguageID: LanguageID(language),
	})
	if err != nil {
		return Submission{}, fmt.Errorf("encode submission: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Submission{}, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		if u, err := url.Parse(base); err == nil {
			req.Header.Set("X-RapidAPI-Host", u.Hostname())
		}
		req.Header.Set("X-RapidAPI-Key", c.APIKey)
	}

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	start := time.Now()
	resp, err := hc.Do(req)
	if err != nil {
		return Submission{}, fmt.Errorf("judge0 request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return Submission{}, fmt.Errorf("read judge0 response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Submission{}, fmt.Errorf("%w %d: %s", ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return Submission{}, fmt.Errorf("decode judge0 response: %w", err)
	}
	sub := Submission{Status: r.Status.Description, Time: deref(r.Time)}
	for _, f := range []struct {
		dst *string
		src *string
		nm  string
	}{
		{&sub.Stdout, r.Stdout, "stdout"},
		{&sub.Stderr, r.Stderr, "stderr"},
		{&sub.CompileOutput, r.CompileOutput, "compile_output"},
	} {
		v, err := decode(deref(f.src))
		if err != nil {
			return Submission{}, fmt.Errorf("decode %s: %w", f.nm, err)
		}
		*f.dst = v
	}
	log.Debug().
		Int("language_id", LanguageID(language)).
		Str("status", sub.Status).
		Dur("elapsed", time.Since(start)).
		Msg("judge0 submission finished")
	return sub, nil
}

// encode normalizes text to valid UTF-8 in NFC before base64 encoding, so
// Judge0 never rejects a submission as non-UTF-8.
func encode(s string) string {
	s = norm.NFC.String(strings.ToValidUTF8(s, "\uFFFD"))
	return base64.StdEncoding.EncodeToString([]byte(s))
}

// decode accepts Judge0's base64, which may wrap lines.
func decode(s string) (string, error) {
	if s == "" {
		return "", nil
	}
	s = strings.NewReplacer("\n", "", "\r", "").Replace(s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
