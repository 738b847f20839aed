package retry

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/serroba/shortlink-relay/internal/shortener"
)

// Response headers of the internal retry API.
const (
	HeaderResult   = "X-Retry-Result"
	HeaderAttempts = "X-Retry-Attempts"
	HeaderMessage  = "X-Retry-Message"

	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Client implements shortener.Retrier by calling a remote retry API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets the retry API at baseURL. timeout bounds a whole call and
// should exceed request_wait_timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	c := cleanhttp.DefaultPooledClient()
	c.Timeout = timeout

	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    c,
	}
}

func (c *Client) Retry(ctx context.Context, id int64) (*shortener.RetryOutcome, error) {
	url := c.baseURL + "/v1/retry/" + strconv.FormatInt(id, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call retry api: %w", err)
	}
	defer resp.Body.Close()

	result := resp.Header.Get(HeaderResult)
	if result == "" {
		if resp.StatusCode == http.StatusNotFound {
			return nil, shortener.ErrNotFound
		}

		return nil, fmt.Errorf("retry api answered %d without a result", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read retry api response: %w", err)
	}

	attempts, _ := strconv.Atoi(resp.Header.Get(HeaderAttempts))

	return &shortener.RetryOutcome{
		StatusCode:  resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Attempts:    attempts,
		Success:     result == ResultSuccess,
		Message:     resp.Header.Get(HeaderMessage),
	}, nil
}
