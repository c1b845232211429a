package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hyperifyio/cfsource/internal/cache"
)

// Content type prefixes accepted when Client.Accept is empty.
var HTMLTypes = []string{"text/html", "application/xhtml+xml"}

// JSONTypes covers API responses.
var JSONTypes = []string{"application/json", "text/json"}

// ErrContentType is returned when a response carries a type outside Client.Accept.
var ErrContentType = errors.New("unsupported content type")

// StatusError reports a non-2xx response.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	if e.Code >= 500 {
		return fmt.Sprintf("server error: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status: %d", e.Code)
}

// Client wraps http.Client and provides timeouts and limited retry on transient errors.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// Accept lists content type prefixes to allow. Empty means HTMLTypes.
	Accept []string
	// MaxAttempts includes the initial attempt. Minimum 1.
	MaxAttempts int
	// PerRequestTimeout bounds each request.
	PerRequestTimeout time.Duration
	// Backoff is the base delay between attempts, scaled by attempt number.
	Backoff time.Duration
	// Optional on-disk cache for GET bodies and validators.
	Cache *cache.HTTPCache
	// BypassCache skips conditional headers but still saves fresh responses.
	BypassCache bool
	// RedirectMaxHops caps redirect following. Zero means 5.
	RedirectMaxHops int
	// MaxConcurrent limits in-flight requests per client. Zero means unlimited.
	MaxConcurrent int
	// Limiter, when set, paces every attempt including retries.
	Limiter *rate.Limiter

	limiter     chan struct{}
	limiterOnce sync.Once
}

// Response is a successful fetch.
type Response struct {
	Body        []byte
	ContentType string
	// FromCache is set when the server answered 304 and the cached body was served.
	FromCache bool
}

func (c *Client) getHTTPClient() *http.Client {
	if c.HTTPClient != nil {
		// clone so the caller's client keeps its own redirect policy
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{Timeout: c.PerRequestTimeout, CheckRedirect: c.checkRedirectFunc()}
}

// Get issues a GET and returns the body and content type.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, string, error) {
	resp, err := c.Fetch(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	return resp.Body, resp.ContentType, nil
}

// Fetch issues a GET with the user agent, conditional validators from the
// cache, and bounded retry on 5xx and per-attempt deadlines.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Response, error) {
	var etag, lastMod string
	if c.Cache != nil && !c.BypassCache {
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta != nil {
			etag = meta.ETag
			lastMod = meta.LastModified
		}
	}
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := c.Backoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	var lastErr error
	for i := 0; i < attempts; i++ {
		r, err := c.tryOnce(ctx, rawURL, etag, lastMod)
		if err == nil {
			return c.settle(ctx, rawURL, r)
		}
		lastErr = err
		if !isTransient(ctx, err) || i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(i+1) * backoff):
		}
	}
	return nil, lastErr
}

type attempt struct {
	body         []byte
	contentType  string
	etag         string
	lastModified string
	status       int
}

func (c *Client) settle(ctx context.Context, rawURL string, r attempt) (*Response, error) {
	if r.status == http.StatusNotModified {
		if c.Cache == nil {
			return nil, &StatusError{Code: r.status}
		}
		cached, err := c.Cache.LoadBody(ctx, rawURL)
		if err != nil {
			return nil, fmt.Errorf("cached body: %w", err)
		}
		ct := r.contentType
		if meta, err := c.Cache.LoadMeta(ctx, rawURL); err == nil && meta.ContentType != "" {
			ct = meta.ContentType
		}
		return &Response{Body: cached, ContentType: ct, FromCache: true}, nil
	}
	if c.Cache != nil {
		_ = c.Cache.Save(ctx, rawURL, r.contentType, r.etag, r.lastModified, r.body)
	}
	return &Response{Body: r.body, ContentType: r.contentType}, nil
}

func (c *Client) tryOnce(ctx context.Context, rawURL, etag, lastMod string) (attempt, error) {
	if c.Limiter != nil {
		if err := c.Limiter.Wait(ctx); err != nil {
			return attempt{}, fmt.Errorf("rate limit: %w", err)
		}
	}
	c.acquire()
	defer c.release()

	if c.PerRequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.PerRequestTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return attempt{}, fmt.Errorf("new request: %w", err)
	}
	if !isHTTPScheme(req.URL) {
		return attempt{}, fmt.Errorf("unsupported URL scheme: %q", req.URL.Scheme)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}
	if etag != "" {
		req.Header.Set("If-None-Match", etag)
	}
	if lastMod != "" {
		req.Header.Set("If-Modified-Since", lastMod)
	}

	resp, err := c.getHTTPClient().Do(req)
	if err != nil {
		return attempt{}, err
	}
	defer resp.Body.Close()

	r := attempt{
		contentType:  resp.Header.Get("Content-Type"),
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
		status:       resp.StatusCode,
	}
	if resp.StatusCode == http.StatusNotModified {
		return r, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return r, &StatusError{Code: resp.StatusCode}
	}
	if !c.accepts(r.contentType) {
		return r, fmt.Errorf("%w: %s", ErrContentType, r.contentType)
	}
	r.body, err = io.ReadAll(resp.Body)
	if err != nil {
		return r, fmt.Errorf("read body: %w", err)
	}
	return r, nil
}

func isTransient(ctx context.Context, err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	// a per-attempt deadline is worth retrying, the caller's is not
	return errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	max := c.RedirectMaxHops
	if max <= 0 {
		max = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= max {
			return errors.New("too many redirects")
		}
		if !isHTTPScheme(req.URL) {
			return errors.New("redirect to unsupported scheme")
		}
		return nil
	}
}

func isHTTPScheme(u *url.URL) bool {
	if u == nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

func (c *Client) accepts(ct string) bool {
	allowed := c.Accept
	if len(allowed) == 0 {
		allowed = HTMLTypes
	}
	ct = strings.ToLower(strings.TrimSpace(ct))
	for _, prefix := range allowed {
		if strings.HasPrefix(ct, prefix) {
			return true
		}
	}
	return false
}

func (c *Client) acquire() {
	if c.MaxConcurrent <= 0 {
		return
	}
	c.limiterOnce.Do(func() {
		c.limiter = make(chan struct{}, c.MaxConcurrent)
	})
	c.limiter <- struct{}{}
}

func (c *Client) release() {
	if c.MaxConcurrent <= 0 || c.limiter == nil {
		return
	}
	select {
	case <-c.limiter:
	default:
	}
}
