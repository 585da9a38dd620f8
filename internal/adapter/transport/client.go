// Package transport provides the HTTP client used for catalog searches,
// granule downloads and remote job APIs: bounded retries with backoff,
// token-bucket rate limiting and optional bearer authentication.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/metrics"
)

// StatusError reports a non-success HTTP response.
type StatusError struct {
	Code int
	URL  string
	Body string // First bytes of the response body.
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d from %s", e.Code, e.URL)
	}
	return fmt.Sprintf("http %d from %s: %s", e.Code, e.URL, e.Body)
}

// Unwrap lets callers match transport failures with errors.Is.
func (e *StatusError) Unwrap() error { return domain.ErrTransport }

// Config controls retries, rate limiting and authentication.
type Config struct {
	Timeout     time.Duration // Per-request timeout.
	MaxRetries  int           // Retries after the first attempt.
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	RateLimit   float64 // Requests per second; 0 disables limiting.
	Burst       int
	UserAgent   string

	// RetryPost allows retrying POST and PATCH requests. Leave it off unless
	// the server deduplicates submissions, for example by a request id.
	RetryPost bool

	// TokenSource, when set, authenticates every request with a bearer token.
	TokenSource oauth2.TokenSource
}

// DefaultConfig returns conservative defaults for public data APIs.
func DefaultConfig() Config {
	return Config{
		Timeout:     5 * time.Minute,
		MaxRetries:  4,
		BaseBackoff: time.Second,
		MaxBackoff:  30 * time.Second,
		RateLimit:   5,
		Burst:       5,
		UserAgent:   "ph-pollution/1.0",
	}
}

// StaticToken returns a token source for a pre-issued bearer token such as
// an Earthdata login token.
func StaticToken(token string) oauth2.TokenSource {
	if token == "" {
		return nil
	}
	return oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token, TokenType: "Bearer"})
}

// Client wraps http.Client with retry and rate limiting.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	cfg     Config
	log     *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// New creates a Client. A nil logger discards log output.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	var rt http.RoundTripper = http.DefaultTransport
	if cfg.TokenSource != nil {
		rt = &oauth2.Transport{Source: cfg.TokenSource, Base: rt}
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Client{
		http:    &http.Client{Timeout: cfg.Timeout, Transport: rt},
		limiter: rate.NewLimiter(limit, burst),
		cfg:     cfg,
		log:     logger,
		sleep:   sleepContext,
	}
}

// Do sends req, retrying network errors, 429 and 5xx responses with
// exponential backoff. Retry-After is honored when present. POST and PATCH
// are sent once unless Config.RetryPost is set. A non-2xx final response is
// returned as *StatusError. The caller closes the body.
//
//nolint:gocyclo // Retry loop with per-status handling.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if c.cfg.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	retries := c.cfg.MaxRetries
	if !c.cfg.RetryPost && (req.Method == http.MethodPost || req.Method == http.MethodPatch) {
		retries = 0
	}

	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			if req.Body != nil && req.GetBody == nil {
				return nil, fmt.Errorf("%w: cannot retry request with unreplayable body: %w", domain.ErrTransport, lastErr)
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %w", domain.ErrTransport, err)
		}

		try := req.Clone(ctx)
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, fmt.Errorf("%w: failed to rewind request body: %w", domain.ErrTransport, err)
			}
			try.Body = body
		}

		resp, err := c.http.Do(try)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrTransport, ctx.Err())
			}
			lastErr = err
			if attempt == retries {
				break
			}
			metrics.HTTPRetries.WithLabelValues("network").Inc()
			c.log.Warn("request failed, retrying", "url", redact(req.URL.String()), "attempt", attempt+1, "err", err)
			if err := c.sleep(ctx, c.backoff(attempt)); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
			}
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			snippet := readSnippet(resp.Body)
			_ = resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, URL: redact(req.URL.String()), Body: snippet}
			if attempt == retries {
				break
			}
			reason := "5xx"
			if resp.StatusCode == http.StatusTooManyRequests {
				reason = "429"
			}
			metrics.HTTPRetries.WithLabelValues(reason).Inc()
			wait := c.backoff(attempt)
			if ra, ok := retryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
				wait = ra
			}
			c.log.Warn("server busy, retrying", "url", redact(req.URL.String()), "status", resp.StatusCode, "wait", wait)
			if err := c.sleep(ctx, wait); err != nil {
				return nil, fmt.Errorf("%w: %w", domain.ErrTransport, err)
			}
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			snippet := readSnippet(resp.Body)
			_ = resp.Body.Close()
			metrics.HTTPErrors.WithLabelValues("4xx").Inc()
			return nil, &StatusError{Code: resp.StatusCode, URL: redact(req.URL.String()), Body: snippet}
		}
		return resp, nil
	}

	var se *StatusError
	if errors.As(lastErr, &se) {
		metrics.HTTPErrors.WithLabelValues("5xx").Inc()
		return nil, lastErr
	}
	metrics.HTTPErrors.WithLabelValues("network").Inc()
	return nil, fmt.Errorf("%w: giving up after %d attempts: %w", domain.ErrTransport, retries+1, lastErr)
}

// Get issues a GET with the given extra headers.
func (c *Client) Get(ctx context.Context, url string, header http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Do(req)
}

// GetJSON issues a GET and decodes the JSON response into out. The response
// headers are returned for pagination.
func (c *Client) GetJSON(ctx context.Context, url string, header http.Header, out any) (http.Header, error) {
	resp, err := c.Get(ctx, url, header)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response from %s: %w", domain.ErrTransport, redact(url), err)
	}
	return resp.Header, nil
}

// PostJSON sends in as a JSON body and decodes the JSON response into out.
func (c *Client) PostJSON(ctx context.Context, url string, header http.Header, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response from %s: %w", domain.ErrTransport, redact(url), err)
	}
	return nil
}

// Download streams url into w and returns the number of bytes copied.
func (c *Client) Download(ctx context.Context, url string, header http.Header, w io.Writer) (int64, error) {
	resp, err := c.Get(ctx, url, header)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return n, fmt.Errorf("%w: failed to read body of %s: %w", domain.ErrTransport, redact(url), err)
	}
	return n, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BaseBackoff << attempt
	if d <= 0 || (c.cfg.MaxBackoff > 0 && d > c.cfg.MaxBackoff) {
		d = c.cfg.MaxBackoff
	}
	return d
}

// retryAfter parses a Retry-After header given as seconds or an HTTP date.
func retryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if when, err := http.ParseTime(v); err == nil {
		if d := when.Sub(now); d > 0 {
			return d, true
		}
		return 0, true
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func readSnippet(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return strings.TrimSpace(string(b))
}

// redact drops the query string, which may carry credentials.
func redact(u string) string {
	if i := strings.IndexByte(u, '?'); i >= 0 {
		return u[:i]
	}
	return u
}
