// Package upstream fetches long URLs with a per-attempt timeout and a bounded
// number of attempts.
package upstream

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/serroba/shortlink-relay/internal/shortener"
	"go.uber.org/zap"
)

const (
	defaultRetryWaitMin = 100 * time.Millisecond
	defaultRetryWaitMax = time.Second
	maxBodyBytes        = 10 << 20
)

// Headers copied from the client request to the upstream request.
var forwardedHeaders = []string{"Accept", "Accept-Language", "User-Agent"}

// Client implements shortener.Fetcher on top of retryablehttp.
type Client struct {
	transport    http.RoundTripper
	retryWaitMin time.Duration
	retryWaitMax time.Duration
	logger       *leveledLogger
}

// Option customizes a Client.
type Option func(*Client)

// WithRetryWait sets the backoff bounds between attempts.
func WithRetryWait(waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.retryWaitMin = waitMin
		c.retryWaitMax = waitMax
	}
}

// WithTransport replaces the pooled transport, mostly for tests.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.transport = rt
	}
}

// NewClient creates a fetcher sharing one pooled transport across calls.
func NewClient(logger *zap.Logger, opts ...Option) *Client {
	c := &Client{
		transport:    cleanhttp.DefaultPooledTransport(),
		retryWaitMin: defaultRetryWaitMin,
		retryWaitMax: defaultRetryWaitMax,
		logger:       newLeveledLogger(logger),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch GETs req.URL up to req.Attempts times. Any status outside [200,300)
// and any transport failure is retried until the budget is spent.
func (c *Client) Fetch(ctx context.Context, req shortener.FetchRequest) (*shortener.FetchResult, error) {
	attempts := max(req.Attempts, 1)
	made := 0

	client := &retryablehttp.Client{
		HTTPClient: &http.Client{
			Transport: c.transport,
			Timeout:   req.AttemptTimeout,
		},
		Logger:       c.logger,
		RetryWaitMin: c.retryWaitMin,
		RetryWaitMax: c.retryWaitMax,
		RetryMax:     attempts - 1,
		RequestLogHook: func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
			made = attempt + 1
		},
		CheckRetry:   checkRetry,
		Backoff:      retryablehttp.DefaultBackoff,
		ErrorHandler: retryablehttp.PassthroughErrorHandler,
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return transportFailure(req.URL, 1, err), &shortener.UpstreamFetchError{URL: req.URL, Attempts: 1, Err: err}
	}

	for _, name := range forwardedHeaders {
		if v := req.Header.Get(name); v != "" {
			httpReq.Header.Set(name, v)
		}
	}

	resp, err := client.Do(httpReq)
	made = max(made, 1)

	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}

		result := transportFailure(req.URL, made, err)

		return result, &shortener.UpstreamFetchError{
			URL:        req.URL,
			StatusCode: result.StatusCode,
			Attempts:   made,
			Err:        err,
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result := transportFailure(req.URL, made, err)

		return result, &shortener.UpstreamFetchError{
			URL:        req.URL,
			StatusCode: result.StatusCode,
			Attempts:   made,
			Err:        err,
		}
	}

	result := &shortener.FetchResult{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Attempts:    made,
	}

	if !shortener.IsSuccessStatus(resp.StatusCode) {
		return result, &shortener.UpstreamFetchError{
			URL:        req.URL,
			StatusCode: resp.StatusCode,
			Attempts:   made,
		}
	}

	return result, nil
}

func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}

	if err != nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}

	return !shortener.IsSuccessStatus(resp.StatusCode), nil
}

// transportFailure synthesizes a result for a fetch that produced no response:
// 504 for timeouts, 502 otherwise.
func transportFailure(url string, attempts int, err error) *shortener.FetchResult {
	code := http.StatusBadGateway
	if isTimeout(err) {
		code = http.StatusGatewayTimeout
	}

	return &shortener.FetchResult{
		StatusCode:  code,
		Body:        []byte("fetch " + url + ": " + err.Error()),
		ContentType: "text/plain; charset=utf-8",
		Attempts:    attempts,
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
