package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	MethodGet  = http.MethodGet
	MethodPost = http.MethodPost
)

// maxErrorBody caps how much of a failed response is kept on StatusError.
const maxErrorBody = 4096

// StatusError is returned by SendAndParse for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Retryable reports whether the peer asked us to come back later.
func (e *StatusError) Retryable() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

type ClientOption func(*resty.Client)

// RequestOptions describes one outbound call. Body is sent as JSON unless it
// is already a string or byte slice.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams map[string][]string
	Body        interface{}
}

// Client is the outbound JSON client for chat notifications and webhooks.
type Client struct {
	r *resty.Client
}

func NewClient(opts ...ClientOption) *Client {
	r := resty.New().
		SetTimeout(30*time.Second).
		SetHeader("Accept", "application/json")
	for _, opt := range opts {
		opt(r)
	}
	return &Client{r: r}
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(r *resty.Client) {
		if timeout > 0 {
			r.SetTimeout(timeout)
		}
	}
}

// WithTransport replaces the round tripper, mostly for tests.
func WithTransport(rt http.RoundTripper) ClientOption {
	return func(r *resty.Client) { r.SetTransport(rt) }
}

// WithRetries retries transport errors and retryable statuses n times,
// waiting at least wait between attempts.
func WithRetries(n int, wait time.Duration) ClientOption {
	return func(r *resty.Client) {
		if n <= 0 {
			return
		}
		r.SetRetryCount(n).
			SetRetryWaitTime(wait).
			AddRetryCondition(func(resp *resty.Response, err error) bool {
				if err != nil {
					return true
				}
				se := StatusError{Code: resp.StatusCode()}
				return se.Retryable()
			})
	}
}

// SendAndParse performs the request and decodes a 2xx JSON body into dest
// when dest is not nil. Other statuses come back as *StatusError.
func (c *Client) SendAndParse(ctx context.Context, opts *RequestOptions, dest interface{}) error {
	req := c.r.R().SetContext(ctx)
	if len(opts.Headers) > 0 {
		req.SetHeaders(opts.Headers)
	}
	if len(opts.QueryParams) > 0 {
		req.SetQueryParamsFromValues(url.Values(opts.QueryParams))
	}
	if opts.Body != nil {
		req.SetBody(opts.Body)
	}

	resp, err := req.Execute(opts.Method, opts.URL)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if !resp.IsSuccess() {
		body := resp.String()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return &StatusError{Code: resp.StatusCode(), Body: body}
	}

	if dest == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), dest); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}
