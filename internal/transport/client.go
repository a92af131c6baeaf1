// Package transport issues HTTP requests with bounded exponential-backoff retry and proxy rotation.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// DefaultUserAgent is sent when a request carries no User-Agent of its own.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

	defaultTimeout      = 15 * time.Second
	defaultMaxBodyBytes = 10 << 20
	directClientKey     = "direct"
)

var (
	errMissingURL    = errors.New("request url is required")
	errMissingMethod = errors.New("request method is required")
)

// Credentials carries HTTP basic authentication.
type Credentials struct {
	Principal string
	Secret    string
}

// Request describes one logical call. Every attempt replays it in full.
type Request struct {
	Method      string
	URL         string
	Body        []byte
	ContentType string
	Headers     http.Header
	Credentials *Credentials
}

// Response is the raw outcome of the attempt that succeeded.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ProxySelector yields the proxy for the next outbound attempt, or false for a direct connection.
type ProxySelector interface {
	Next() (*url.URL, bool)
}

// FailureRecorder persists one entry per failed attempt.
type FailureRecorder interface {
	RecordFailure(ctx context.Context, message string)
}

// Config wires a Client.
type Config struct {
	Policy          RetryPolicy
	Timeout         time.Duration
	UserAgent       string
	Proxies         ProxySelector
	Recorder        FailureRecorder
	Logger          *zap.Logger
	BaseTransport   *http.Transport
	MaxBodyBytes    int64
	RetryableStatus func(statusCode int) bool
	Sleep           func(ctx context.Context, delay time.Duration) error
}

// Client performs retried requests. It is safe for concurrent use.
type Client struct {
	policy          RetryPolicy
	timeout         time.Duration
	userAgent       string
	proxies         ProxySelector
	recorder        FailureRecorder
	logger          *zap.Logger
	baseTransport   *http.Transport
	maxBodyBytes    int64
	retryableStatus func(int) bool
	sleep           func(context.Context, time.Duration) error

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewClient validates the retry policy and applies defaults for the optional fields.
func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("transport: invalid retry policy: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	userAgent := strings.TrimSpace(cfg.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	base := cfg.BaseTransport
	if base == nil {
		base = http.DefaultTransport.(*http.Transport)
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBodyBytes
	}
	retryable := cfg.RetryableStatus
	if retryable == nil {
		retryable = RetryableStatus
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	return &Client{
		policy:          cfg.Policy,
		timeout:         timeout,
		userAgent:       userAgent,
		proxies:         cfg.Proxies,
		recorder:        cfg.Recorder,
		logger:          logger,
		baseTransport:   base,
		maxBodyBytes:    maxBody,
		retryableStatus: retryable,
		sleep:           sleep,
		clients:         make(map[string]*http.Client),
	}, nil
}

// Do runs the request until it yields a non-retryable response or the policy is exhausted.
// Status codes outside the retryable set are returned to the caller uninterpreted.
func (c *Client) Do(ctx context.Context, request Request) (*Response, error) {
	if strings.TrimSpace(request.URL) == "" {
		return nil, errMissingURL
	}
	if strings.TrimSpace(request.Method) == "" {
		return nil, errMissingMethod
	}
	target := describe(request)

	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			if err := c.sleep(ctx, c.policy.Delay(attempt-1)); err != nil {
				return nil, fmt.Errorf("transport: %s: %w", target, err)
			}
		}

		response, err := c.attempt(ctx, request)
		if err == nil && c.retryableStatus(response.StatusCode) {
			err = &StatusError{StatusCode: response.StatusCode, Body: response.Body}
		}
		if err == nil {
			return response, nil
		}

		lastErr = err
		c.recordFailure(ctx, attempt, target, err)
		if ctx.Err() != nil {
			return nil, fmt.Errorf("transport: %s: %w", target, ctx.Err())
		}
	}

	return nil, &ExhaustedError{Target: target, LastErr: lastErr, Attempts: c.policy.MaxAttempts}
}

func (c *Client) attempt(ctx context.Context, request Request) (*Response, error) {
	var body io.Reader
	if request.Body != nil {
		body = bytes.NewReader(request.Body)
	}
	httpRequest, err := http.NewRequestWithContext(ctx, request.Method, request.URL, body)
	if err != nil {
		return nil, err
	}
	for name, values := range request.Headers {
		for _, value := range values {
			httpRequest.Header.Add(name, value)
		}
	}
	if httpRequest.Header.Get("User-Agent") == "" {
		httpRequest.Header.Set("User-Agent", c.userAgent)
	}
	if request.ContentType != "" {
		httpRequest.Header.Set("Content-Type", request.ContentType)
	}
	if request.Credentials != nil {
		httpRequest.SetBasicAuth(request.Credentials.Principal, request.Credentials.Secret)
	}

	httpResponse, err := c.clientFor(c.nextProxy()).Do(httpRequest)
	if err != nil {
		return nil, err
	}
	defer httpResponse.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(httpResponse.Body, c.maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	return &Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header.Clone(),
		Body:       payload,
	}, nil
}

func (c *Client) nextProxy() *url.URL {
	if c.proxies == nil {
		return nil
	}
	endpoint, ok := c.proxies.Next()
	if !ok {
		return nil
	}
	return endpoint
}

// clientFor returns a cached http.Client routed through the given proxy, or a direct one for nil.
func (c *Client) clientFor(endpoint *url.URL) *http.Client {
	key := directClientKey
	if endpoint != nil {
		key = endpoint.String()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if client, ok := c.clients[key]; ok {
		return client
	}

	roundTripper := c.baseTransport.Clone()
	roundTripper.Proxy = nil
	if endpoint != nil {
		roundTripper.Proxy = http.ProxyURL(endpoint)
	}
	client := &http.Client{Timeout: c.timeout, Transport: roundTripper}
	c.clients[key] = client
	return client
}

func (c *Client) recordFailure(ctx context.Context, attempt int, target string, err error) {
	c.logger.Error("transport attempt failed",
		zap.Int("attempt", attempt),
		zap.Int("max_attempts", c.policy.MaxAttempts),
		zap.String("target", target),
		zap.Error(err))
	if c.recorder != nil {
		c.recorder.RecordFailure(ctx, fmt.Sprintf("attempt %d/%d to %s failed: %v", attempt, c.policy.MaxAttempts, target, err))
	}
}

func describe(request Request) string {
	target := request.URL
	if parsed, err := url.Parse(request.URL); err == nil {
		parsed.User = nil
		target = parsed.String()
	}
	return fmt.Sprintf("%s %s", strings.ToUpper(request.Method), target)
}
