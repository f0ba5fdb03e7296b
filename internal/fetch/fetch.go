// Package fetch retrieves web pages with a browser-like identity, bounded
// timeouts, and automatic retry with exponential backoff on transient
// failures. Terminal failures are classified so callers can tell a bot
// challenge from a flaky network.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/html/charset"
	"golang.org/x/time/rate"
)

// Kind classifies a terminal fetch failure.
type Kind string

const (
	KindRateLimited  Kind = "rate_limited"
	KindBlocked      Kind = "blocked"
	KindServerError  Kind = "server_error"
	KindNetworkError Kind = "network_error"
)

// Error is a terminal fetch failure carrying the original status and a
// user-facing hint for the actionable cases.
type Error struct {
	Kind       Kind
	StatusCode int
	Message    string
	Hint       string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("fetch %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("fetch %s: %s", e.Kind, e.Message)
}

// Document is a successfully fetched page: body decoded to UTF-8, plus the
// response headers and terminal status code.
type Document struct {
	Body       []byte
	Header     http.Header
	StatusCode int
	URL        string
	FetchedAt  time.Time
}

// DefaultUserAgent mimics a desktop browser; many sites serve degraded or
// blocked content to obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = 300 * time.Millisecond
	defaultTimeout     = 20 * time.Second
	defaultMaxBody     = 10 << 20
)

// retryableStatus lists status codes worth another attempt.
var retryableStatus = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

// Client wraps http.Client with retry, backoff, and failure classification.
// The zero value is usable; fields tune behavior.
type Client struct {
	HTTPClient *http.Client
	UserAgent  string
	// MaxAttempts includes the initial attempt. Minimum 1; default 3.
	MaxAttempts int
	// Timeout bounds each individual request.
	Timeout time.Duration
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// Limiter, when set, paces attempts across all callers of this client.
	Limiter *rate.Limiter
	// RedirectMaxHops caps redirect following. Zero means default (5).
	RedirectMaxHops int
	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		base := *c.HTTPClient
		base.CheckRedirect = c.checkRedirectFunc()
		return &base
	}
	return &http.Client{CheckRedirect: c.checkRedirectFunc()}
}

// Fetch issues a GET with retry on transient failures. The caller's context
// bounds the whole retry loop; cancellation aborts between attempts and
// mid-request.
func (c *Client) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	attempts := c.MaxAttempts
	if attempts <= 0 {
		attempts = defaultMaxAttempts
	}
	backoff := c.BackoffBase
	if backoff <= 0 {
		backoff = defaultBackoffBase
	}

	var lastErr *Error
	for i := 0; i < attempts; i++ {
		if c.Limiter != nil {
			if err := c.Limiter.Wait(ctx); err != nil {
				return nil, &Error{Kind: KindNetworkError, Message: err.Error()}
			}
		}
		doc, ferr := c.tryOnce(ctx, rawURL)
		if ferr == nil {
			return doc, nil
		}
		lastErr = ferr
		if !retryable(ferr) || i == attempts-1 {
			break
		}
		log.Debug().Str("url", rawURL).Int("attempt", i+1).Int("status", ferr.StatusCode).Msg("fetch: retrying after transient failure")
		select {
		case <-ctx.Done():
			return nil, &Error{Kind: KindNetworkError, Message: ctx.Err().Error()}
		case <-time.After(backoff << i):
		}
	}
	return nil, lastErr
}

func (c *Client) tryOnce(ctx context.Context, rawURL string) (*Document, *Error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &Error{Kind: KindNetworkError, Message: "new request: " + err.Error()}
	}
	if req.URL == nil || !isHTTPScheme(req.URL) {
		return nil, &Error{Kind: KindNetworkError, Message: "unsupported URL scheme"}
	}
	ua := c.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, &Error{Kind: KindNetworkError, Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := peekBody(resp.Body)
		return nil, classifyStatus(resp.StatusCode, resp.Header, body)
	}

	maxBody := c.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	// Status stays zero on these: a mid-body reset is a connection failure
	// and gets the same retry budget, 2xx status notwithstanding.
	reader, err := charset.NewReader(io.LimitReader(resp.Body, maxBody), resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, &Error{Kind: KindNetworkError, Message: "decode body: " + err.Error()}
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		return nil, &Error{Kind: KindNetworkError, Message: "read body: " + err.Error()}
	}
	return &Document{
		Body:       body,
		Header:     resp.Header,
		StatusCode: resp.StatusCode,
		URL:        rawURL,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// classifyStatus maps a non-2xx terminal response to a failure kind with a
// hint where the user can act on it.
func classifyStatus(status int, header http.Header, body string) *Error {
	switch {
	case status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			StatusCode: status,
			Message:    "target is rate limiting requests",
			Hint:       "wait a while before re-submitting this URL",
		}
	case status == http.StatusForbidden && looksLikeBotChallenge(header, body):
		return &Error{
			Kind:       KindBlocked,
			StatusCode: status,
			Message:    "target is running bot protection and refused the request",
			Hint:       "this site actively blocks automated access; try a different source",
		}
	case status == http.StatusForbidden:
		return &Error{
			Kind:       KindBlocked,
			StatusCode: status,
			Message:    "target refused the request (403 Forbidden)",
			Hint:       "the page may require authentication or block non-browser clients",
		}
	case status >= 500:
		return &Error{
			Kind:       KindServerError,
			StatusCode: status,
			Message:    fmt.Sprintf("target returned server error %d", status),
			Hint:       "the site appears to be having trouble; retry later",
		}
	default:
		return &Error{
			Kind:       KindNetworkError,
			StatusCode: status,
			Message:    fmt.Sprintf("unexpected status %d", status),
		}
	}
}

// looksLikeBotChallenge detects active bot mitigation: a CDN-proxy header
// advertising a challenge, or well-known challenge-page content.
func looksLikeBotChallenge(header http.Header, body string) bool {
	if strings.Contains(strings.ToLower(header.Get("cf-mitigated")), "challenge") {
		return true
	}
	if strings.EqualFold(header.Get("Server"), "cloudflare") {
		return true
	}
	lower := strings.ToLower(body)
	for _, marker := range []string{
		"cf-browser-verification",
		"challenge-platform",
		"attention required! | cloudflare",
		"just a moment...",
		"ddos protection by",
		"verify you are human",
	} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// peekBody reads a bounded prefix of an error response for challenge
// detection; error pages do not need full decoding.
func peekBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil {
		return ""
	}
	return string(b)
}

// retryable reports whether another attempt could help. Blocked responses
// never are: a challenge page will not go away in 600 ms.
func retryable(e *Error) bool {
	if e.Kind == KindBlocked {
		return false
	}
	if e.StatusCode == 0 {
		// connection-level failure
		return e.Kind == KindNetworkError
	}
	return retryableStatus[e.StatusCode]
}

func (c *Client) checkRedirectFunc() func(req *http.Request, via []*http.Request) error {
	maxHops := c.RedirectMaxHops
	if maxHops <= 0 {
		maxHops = 5
	}
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxHops {
			return errors.New("too many redirects")
		}
		if req.URL == nil || !isHTTPScheme(req.URL) {
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
