package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ppiankov/scaggregator/internal/logging"
	"github.com/ppiankov/scaggregator/internal/workpool"
)

const (
	exportAccept  = "application/json; version=1.0"
	defaultAccept = "application/json"
)

// Options configures a Client.
type Options struct {
	BaseURL       string
	IAMURL        string
	Tenant        string
	APIKey        string
	Timeout       time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	RateLimitWait time.Duration
	Logger        *logging.Logger
}

// Client is the authenticated access port to the scanning platform. Every
// call retries transport errors and 5xx responses with exponential backoff
// and waits out 429 responses without spending an attempt.
type Client struct {
	baseURL       string
	tokens        *TokenSource
	httpClient    *http.Client
	maxRetries    int
	retryDelay    time.Duration
	rateLimitWait time.Duration
	log           *logging.Logger
	sleep         func(ctx context.Context, d time.Duration) error
}

// New creates a platform client.
func New(opts Options) *Client {
	httpClient := &http.Client{Timeout: opts.Timeout}
	log := opts.Logger
	if log == nil {
		log = logging.Nop()
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		tokens:        NewTokenSource(opts.IAMURL, opts.Tenant, opts.APIKey, httpClient),
		httpClient:    httpClient,
		maxRetries:    opts.MaxRetries,
		retryDelay:    opts.RetryDelay,
		rateLimitWait: opts.RateLimitWait,
		log:           log,
		sleep:         workpool.Sleep,
	}
}

// Authenticate fetches a token up front so bad credentials fail fast.
func (c *Client) Authenticate(ctx context.Context) error {
	_, err := c.tokens.Token(ctx)
	return err
}

type request struct {
	method string
	path   string
	query  url.Values
	body   []byte
	accept string
}

// do sends req and returns a 2xx response whose body the caller must close.
func (c *Client) do(ctx context.Context, r request) (*http.Response, error) {
	attempt := 0
	reauthed := false

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, r)
		if err != nil {
			if IsFatal(err) || ctx.Err() != nil {
				return nil, err
			}
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
			}
			wait := c.backoff(attempt)
			c.log.Debug("%s %s failed (%v), retry %d/%d in %s", r.method, r.path, err, attempt+1, c.maxRetries, wait)
			attempt++
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized:
			drain(resp)
			if reauthed {
				return nil, fmt.Errorf("%w: %s %s returned HTTP 401", ErrAuthFailed, r.method, r.path)
			}
			c.log.Debug("%s %s returned 401, refreshing token", r.method, r.path)
			c.tokens.Invalidate()
			reauthed = true

		case resp.StatusCode == http.StatusTooManyRequests:
			drain(resp)
			c.log.Warn("rate limited on %s, waiting %s", r.path, c.rateLimitWait)
			if err := c.sleep(ctx, c.rateLimitWait); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}

		case resp.StatusCode >= 500:
			statusErr := readStatusError(resp)
			if attempt >= c.maxRetries {
				return nil, fmt.Errorf("%s %s: %w", r.method, r.path, statusErr)
			}
			wait := c.backoff(attempt)
			c.log.Debug("%s %s: %v, retry %d/%d in %s", r.method, r.path, statusErr, attempt+1, c.maxRetries, wait)
			attempt++
			if err := c.sleep(ctx, wait); err != nil {
				return nil, err
			}

		default:
			return nil, fmt.Errorf("%s %s: %w", r.method, r.path, readStatusError(resp))
		}
	}
}

func (c *Client) send(ctx context.Context, r request) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	target := c.baseURL + r.path
	if len(r.query) > 0 {
		target += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, target, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	accept := r.accept
	if accept == "" {
		accept = defaultAccept
	}
	req.Header.Set("Accept", accept)
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) backoff(attempt int) time.Duration {
	return c.retryDelay * time.Duration(1<<uint(attempt))
}

// getJSON issues a GET and returns the raw body.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	resp, err := c.do(ctx, request{method: http.MethodGet, path: path, query: query})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// postJSON issues a POST with a JSON body and returns the raw response body.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}, accept string) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.do(ctx, request{method: http.MethodPost, path: path, body: body, accept: accept})
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func readStatusError(resp *http.Response) *StatusError {
	defer func() { _ = resp.Body.Close() }()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyPreview))
	return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyPreview))
	_ = resp.Body.Close()
}

// IsStatus reports whether err carries an HTTP status error with code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
