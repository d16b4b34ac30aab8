package scraper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-ranks/config"
	"github.com/aluiziolira/go-scrape-ranks/useragent"
	"github.com/gocolly/colly/v2"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/net/publicsuffix"
)

// MaxAttempts is the number of tries the request primitive makes per call.
const MaxAttempts = 3

// maxRedirects bounds one request's redirect chain, matching net/http.
const maxRedirects = 10

const (
	searchPath        = "/s"
	addressChangePath = "/gp/delivery/ajax/address-change.html"
	botCheckMarker    = "Robot Check"
	acceptHeader      = "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,image/apng,*/*;q=0.8"
	responseCtxKey    = "response"
)

// Client owns one session against the target site: cookies, the current
// identity and an optional proxy. Requests are serialized; use one Client per
// concurrently processed keyword stream.
type Client struct {
	cfg        *config.Config
	base       *url.URL
	collector  *colly.Collector
	identities useragent.Source
	redirects  *lru.Cache[string, string]
	Metrics    *Metrics

	sleep func(ctx context.Context, d time.Duration) error

	mu sync.Mutex // one request in flight

	headerMu sync.RWMutex
	headers  http.Header // replaced, never mutated, on rotation

	requestCount  int64
	rotationCount int64

	statsMu      sync.Mutex
	errorsByType map[string]int
}

// Option customises a Client.
type Option func(*clientOptions)

type clientOptions struct {
	transport  http.RoundTripper
	identities useragent.Source
	metrics    *Metrics
	sleep      func(ctx context.Context, d time.Duration) error
}

// WithTransport replaces the HTTP transport, e.g. with an httpmock transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *clientOptions) { o.transport = rt }
}

// WithIdentitySource replaces the default user agent pool.
func WithIdentitySource(src useragent.Source) Option {
	return func(o *clientOptions) { o.identities = src }
}

// WithMetrics shares a metrics bundle between clients.
func WithMetrics(m *Metrics) Option {
	return func(o *clientOptions) { o.metrics = m }
}

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *clientOptions) { o.sleep = fn }
}

// NewClient builds a client with a fresh cookie jar and identity.
func NewClient(cfg *config.Config, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}

	o := clientOptions{
		identities: useragent.NewPool(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}

	// No AllowedDomains: redirect wrappers may land on another host.
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(0),
	)
	collector.SetRequestTimeout(config.CallTimeout)
	collector.WithTransport(&http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   config.CallTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	})

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}
	collector.SetCookieJar(jar)
	collector.SetRedirectHandler(followRedirect)

	if proxy := cfg.ProxyURL(); proxy != "" {
		if err := collector.SetProxy(proxy); err != nil {
			return nil, fmt.Errorf("configure proxy: %w", err)
		}
	}
	if o.transport != nil {
		collector.WithTransport(o.transport)
	}

	collector.OnResponse(func(r *colly.Response) {
		r.Ctx.Put(responseCtxKey, r)
	})

	redirects, err := lru.New[string, string](cfg.RedirectCacheSize)
	if err != nil {
		return nil, fmt.Errorf("create redirect cache: %w", err)
	}

	c := &Client{
		cfg:        cfg,
		base:       parsed,
		collector:  collector,
		identities: o.identities,
		redirects:  redirects,
		Metrics:    o.metrics,
		sleep:      o.sleep,

		errorsByType: make(map[string]int),
	}
	if err := c.RotateIdentity(); err != nil {
		return nil, err
	}
	return c, nil
}

// FetchSearchPage returns the markup of one search results page.
func (c *Client) FetchSearchPage(ctx context.Context, keyword string, page int, category string) (string, error) {
	params := url.Values{}
	params.Set("k", keyword)
	params.Set("page", fmt.Sprint(page))
	if category != "" {
		params.Set("i", category)
	}

	resp, err := c.do(ctx, http.MethodGet, searchPath, params, nil)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// SetLocation seeds session cookies from the site root, then submits the
// delivery ZIP code. Only the address-change body is returned.
func (c *Client) SetLocation(ctx context.Context, zipCode string) (string, error) {
	if _, err := c.do(ctx, http.MethodGet, "/", nil, nil); err != nil {
		if isFatal(err) {
			return "", err
		}
		slog.Warn("seeding cookies from site root failed", slog.Any("error", err))
	}

	form := url.Values{}
	form.Set("locationType", "LOCATION_INPUT")
	form.Set("zipCode", zipCode)
	form.Set("storeContext", "wireless")
	form.Set("deviceType", "mobileWeb")
	form.Set("pageType", "Gateway")

	extra := http.Header{}
	extra.Set("x-requested-with", "XMLHttpRequest")
	extra.Set("ect", "4g")
	extra.Set("downlink", "10")

	resp, err := c.do(ctx, http.MethodPost, addressChangePath, form, extra)
	if err != nil {
		return "", err
	}
	return string(resp.Body), nil
}

// ResolveRedirect follows a redirect wrapper and returns the final URL.
func (c *Client) ResolveRedirect(ctx context.Context, relativeURL string) (string, error) {
	if final, ok := c.redirects.Get(relativeURL); ok {
		return final, nil
	}

	resp, err := c.do(ctx, http.MethodGet, relativeURL, nil, nil)
	if err != nil {
		return "", err
	}
	final := resp.Request.URL.String()
	c.redirects.Add(relativeURL, final)
	return final, nil
}

// RotateIdentity swaps the session's user agent for a freshly sampled one.
func (c *Client) RotateIdentity() error {
	ua, err := c.identities.Next()
	if err != nil {
		return fmt.Errorf("rotate identity: %w", err)
	}
	if ua == "" {
		return fmt.Errorf("rotate identity: %w", useragent.ErrPoolExhausted)
	}

	next := http.Header{}
	next.Set("Host", c.base.Host)
	next.Set("Accept", acceptHeader)
	next.Set("User-Agent", ua)

	c.headerMu.Lock()
	c.headers = next
	c.headerMu.Unlock()

	atomic.AddInt64(&c.rotationCount, 1)
	c.Metrics.IncRotation()
	slog.Debug("identity rotated", slog.String("user_agent", ua))
	return nil
}

// UserAgent returns the identity currently sent with requests.
func (c *Client) UserAgent() string {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()
	return c.headers.Get("User-Agent")
}

// BaseURL returns the origin relative links are resolved against.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// RequestCount returns the number of HTTP attempts made.
func (c *Client) RequestCount() int {
	return int(atomic.LoadInt64(&c.requestCount))
}

// RotationCount returns the number of identities taken from the pool,
// including the initial one.
func (c *Client) RotationCount() int {
	return int(atomic.LoadInt64(&c.rotationCount))
}

// ErrorsByType returns a snapshot of failed attempts by category.
func (c *Client) ErrorsByType() map[string]int {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()
	out := make(map[string]int, len(c.errorsByType))
	for k, v := range c.errorsByType {
		out[k] = v
	}
	return out
}

// do is the retrying request primitive shared by all operations.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, extra http.Header) (*colly.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	target := c.absoluteURL(path)
	var lastErr error

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		hdr := c.snapshotHeaders()
		for key, values := range extra {
			hdr[key] = append([]string(nil), values...)
		}

		slog.Debug("send request",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("attempt", attempt),
		)

		resp, err := c.send(method, target, params, hdr)
		if err == nil {
			err = validate(resp)
		}
		if err == nil {
			c.Metrics.IncRequest(method, "valid")
			return resp, nil
		}

		lastErr = err
		category := errorTypeLabel(err)
		retryable := !isRedirectPolicy(err)
		c.Metrics.IncRequest(method, "invalid")
		c.Metrics.IncError(category)
		c.statsMu.Lock()
		c.errorsByType[category]++
		c.statsMu.Unlock()
		slog.Warn("invalid response",
			slog.String("method", method),
			slog.String("url", target),
			slog.Int("attempt", attempt),
			slog.String("category", category),
			slog.Any("error", err),
		)

		if !retryable {
			return nil, &FetchError{Method: method, URL: target, Attempts: attempt, Err: err}
		}
		if err := c.RotateIdentity(); err != nil {
			return nil, err
		}
		if attempt < MaxAttempts {
			if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
				return nil, err
			}
		}
	}

	return nil, &FetchError{Method: method, URL: target, Attempts: MaxAttempts, Err: lastErr}
}

func (c *Client) send(method, target string, params url.Values, hdr http.Header) (*colly.Response, error) {
	var body io.Reader
	switch method {
	case http.MethodGet:
		if len(params) > 0 {
			target += "?" + params.Encode()
		}
	default:
		body = strings.NewReader(params.Encode())
		hdr.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	atomic.AddInt64(&c.requestCount, 1)
	start := time.Now()
	reqCtx := colly.NewContext()
	err := c.collector.Request(method, target, body, reqCtx, hdr)
	c.Metrics.ObserveDuration(time.Since(start))

	resp, _ := reqCtx.GetAny(responseCtxKey).(*colly.Response)
	if err != nil {
		return nil, classifyError(err)
	}
	if resp == nil {
		return nil, fmt.Errorf("no response for %s %s", method, target)
	}

	slog.Debug("received response",
		slog.Int("status", resp.StatusCode),
		slog.String("url", resp.Request.URL.String()),
	)
	return resp, nil
}

func (c *Client) snapshotHeaders() http.Header {
	c.headerMu.RLock()
	defer c.headerMu.RUnlock()
	return c.headers.Clone()
}

func (c *Client) absoluteURL(path string) string {
	ref, err := url.Parse(path)
	if err != nil {
		return c.base.String() + path
	}
	return c.base.ResolveReference(ref).String()
}

func validate(resp *colly.Response) error {
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return ErrBadStatus{StatusCode: resp.StatusCode}
	}
	if bytes.Contains(resp.Body, []byte(botCheckMarker)) {
		return ErrBotCheck{URL: resp.Request.URL.String()}
	}
	return nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout{Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout{Err: err}
	}

	var recordErr tls.RecordHeaderError
	var verifyErr *tls.CertificateVerificationError
	var authorityErr x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	if errors.As(err, &recordErr) || errors.As(err, &verifyErr) ||
		errors.As(err, &authorityErr) || errors.As(err, &hostnameErr) ||
		strings.Contains(err.Error(), "tls: ") {
		return ErrTLS{Err: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ErrConnection{Err: err}
	}
	return err
}

// followRedirect follows any host, stopping after maxRedirects hops.
func followRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return ErrRedirectPolicy{URL: req.URL.String(), Hops: len(via)}
	}
	return nil
}

func isRedirectPolicy(err error) bool {
	var policy ErrRedirectPolicy
	return errors.As(err, &policy)
}

func isFatal(err error) bool {
	return errors.Is(err, useragent.ErrPoolExhausted)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
