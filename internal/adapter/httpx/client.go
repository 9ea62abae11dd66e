package httpx

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/davral/tidings/internal/core/domain"
	"github.com/davral/tidings/internal/core/ports"
	"github.com/davral/tidings/internal/logger"
	"github.com/davral/tidings/internal/util"
)

const maxBodySize = 16 << 20 // 16 MiB

// Hosts that are routinely unreachable from the deployment regions; requests
// to them go through the pool even when the source does not ask for a proxy.
var proxiedHosts = map[string]bool{
	"github.com":      true,
	"bloomberg.com":   true,
	"ft.com":          true,
	"bbc.co.uk":       true,
	"ycombinator.com": true,
	"reuters.com":     true,
}

// Config holds the client-wide defaults a request can override.
type Config struct {
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	MaxConcurrent  int
	UserAgents     []string
	VerifyTLS      bool
}

// Request describes one fetch. SourceID is carried for logging and proxy
// accounting only.
type Request struct {
	URL           string
	Method        string
	Headers       map[string]string
	Body          []byte
	SourceID      string
	UserAgent     string
	NeedProxy     bool
	ProxyGroup    string
	ProxyFallback bool

	// Per-request overrides; zero means use the client default.
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	TotalTimeout   time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
	VerifyTLS      *bool
}

// Response is the materialised reply. The body is fully read before Do
// returns so callers never hold a connection open.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	ProxyUsed  string
	Elapsed    time.Duration
}

// Text decodes the body to UTF-8, honouring a pinned encoding.
func (r *Response) Text(pinnedEncoding string) string {
	return util.DecodeText(r.Body, pinnedEncoding)
}

// JSON unmarshals the body into v.
func (r *Response) JSON(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return &domain.ProtocolError{Err: fmt.Errorf("decoding json: %w", err)}
	}
	return nil
}

// Client is the shared fetch substrate. It owns retry, user-agent rotation
// and proxy routing; strategies only describe the request.
type Client struct {
	cfg    Config
	pool   ports.ProxyPool
	logger *logger.StyledLogger
	sem    *semaphore.Weighted

	uaCounter atomic.Uint64
}

func NewClient(cfg Config, pool ports.ProxyPool, logger *logger.StyledLogger) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 60 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = 500 * time.Millisecond
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 16
	}

	return &Client{
		cfg:    cfg,
		pool:   pool,
		logger: logger,
		sem:    semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
	}
}

// Do performs one request with retries. Transport failures and retryable
// statuses (429 and 5xx) back off exponentially with jitter; protocol-level
// failures and other 4xx statuses surface immediately. When the request was
// routed through a proxy and allows fallback, the final attempt after a
// proxy failure goes direct.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	maxRetries := req.MaxRetries
	if maxRetries <= 0 {
		maxRetries = c.cfg.MaxRetries
	}
	baseBackoff := req.RetryBackoff
	if baseBackoff <= 0 {
		baseBackoff = c.cfg.RetryBackoff
	}

	record := c.selectProxy(req)

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		resp, err := c.attempt(ctx, req, record)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		if !domain.IsRetryable(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		// A failing proxy route falls back to a direct attempt when the
		// source allows it.
		var proxyErr *domain.ProxyError
		if record != nil && req.ProxyFallback && errors.As(err, &proxyErr) {
			c.logger.WarnWithSource("proxy route failed, retrying direct", req.SourceID, "proxy", record.ID)
			record = nil
		}

		delay := util.RetryBackoff(attempt, baseBackoff, util.DefaultMaxBackoff)
		c.logger.Debug("retrying request",
			"source", req.SourceID, "url", req.URL, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return nil, &domain.TransportError{URL: req.URL, Err: ctx.Err()}
		case <-time.After(delay):
		}
	}

	return nil, lastErr
}

// DoBatch fans requests out under the concurrency cap and returns responses
// positionally. A failed request leaves a nil response and its error in the
// matching slot.
func (c *Client) DoBatch(ctx context.Context, reqs []Request) ([]*Response, []error) {
	responses := make([]*Response, len(reqs))
	errs := make([]error, len(reqs))

	for i := range reqs {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			continue
		}
		go func(idx int) {
			defer c.sem.Release(1)
			responses[idx], errs[idx] = c.Do(ctx, reqs[idx])
		}(i)
	}

	// Draining the semaphore waits for all in-flight requests.
	if err := c.sem.Acquire(context.Background(), int64(c.cfg.MaxConcurrent)); err == nil {
		c.sem.Release(int64(c.cfg.MaxConcurrent))
	}

	return responses, errs
}

func (c *Client) attempt(ctx context.Context, req Request, record *domain.ProxyRecord) (*Response, error) {
	totalTimeout := req.TotalTimeout
	if totalTimeout <= 0 {
		totalTimeout = c.cfg.TotalTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, totalTimeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, body)
	if err != nil {
		return nil, &domain.ProtocolError{URL: req.URL, Err: err}
	}

	httpReq.Header.Set("User-Agent", c.userAgent(req))
	httpReq.Header.Set("Accept", "*/*")
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient(req, record).Do(httpReq)
	elapsed := time.Since(start)

	if err != nil {
		if record != nil {
			c.pool.Report(record.ID, false, elapsed)
			return nil, &domain.ProxyError{ProxyID: record.ID, Err: err}
		}
		return nil, &domain.TransportError{URL: req.URL, Err: err}
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		if record != nil {
			c.pool.Report(record.ID, false, elapsed)
		}
		return nil, &domain.TransportError{URL: req.URL, Err: err}
	}

	if resp.StatusCode >= 400 {
		if record != nil {
			c.pool.Report(record.ID, false, elapsed)
		}
		return nil, &domain.TransportError{URL: req.URL, StatusCode: resp.StatusCode}
	}

	proxyUsed := ""
	if record != nil {
		c.pool.Report(record.ID, true, elapsed)
		proxyUsed = record.ID
	}

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       payload,
		ProxyUsed:  proxyUsed,
		Elapsed:    elapsed,
	}, nil
}

// selectProxy resolves the routing decision for a request: an explicit
// need_proxy wins, otherwise the host allowlist decides.
func (c *Client) selectProxy(req Request) *domain.ProxyRecord {
	if c.pool == nil {
		return nil
	}
	if !req.NeedProxy && !hostRequiresProxy(req.URL) {
		return nil
	}
	record := c.pool.Get(req.SourceID, req.ProxyGroup)
	if record == nil {
		c.logger.Debug("no proxy available, going direct", "source", req.SourceID, "group", req.ProxyGroup)
	}
	return record
}

func hostRequiresProxy(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	for candidate := range proxiedHosts {
		if host == candidate || strings.HasSuffix(host, "."+candidate) {
			return true
		}
	}
	return false
}

func (c *Client) userAgent(req Request) string {
	if req.UserAgent != "" {
		return req.UserAgent
	}
	if len(c.cfg.UserAgents) == 0 {
		return "Mozilla/5.0 (compatible; tidings/1.0)"
	}
	n := c.uaCounter.Add(1)
	return c.cfg.UserAgents[int(n-1)%len(c.cfg.UserAgents)]
}

// httpClient builds the per-attempt client. Clients are deliberately not
// reused across requests so a poisoned connection or proxy never leaks into
// the next fetch.
func (c *Client) httpClient(req Request, record *domain.ProxyRecord) *http.Client {
	connectTimeout := req.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = c.cfg.ConnectTimeout
	}
	readTimeout := req.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = c.cfg.ReadTimeout
	}

	verifyTLS := c.cfg.VerifyTLS
	if req.VerifyTLS != nil {
		verifyTLS = *req.VerifyTLS
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: !verifyTLS, //nolint:gosec // some portals run broken chains
		},
	}

	if record != nil {
		if proxyURL, err := url.Parse(record.URL()); err == nil {
			transport.Proxy = http.ProxyURL(proxyURL)
		}
	}

	return &http.Client{Transport: transport}
}
