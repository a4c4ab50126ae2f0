// Package executor is the HTTP client of the external job executor.
package executor

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

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const maxErrorBody = 4096

// Config configures the executor client.
type Config struct {
	// BaseURL is the executor root, e.g. https://jobs.example.internal.
	BaseURL string

	// Token is a static bearer token. Ignored when client credentials are set.
	Token string

	// ClientID, ClientSecret and TokenURL enable the OAuth2 client-credentials flow.
	ClientID     string
	ClientSecret string
	TokenURL     string
	Scopes       []string

	// Timeout bounds each request. Zero means DefaultConfig's value.
	Timeout time.Duration

	// RateLimit caps requests per second (0 = unlimited).
	RateLimit float64
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second}
}

// Client calls the executor's job-run API.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  oauth2.TokenSource
	limiter *rate.Limiter
	logger  *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New builds a client. ctx scopes the token endpoint client for the
// client-credentials flow.
func New(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("executor base url is required")
	}
	if u, err := url.Parse(base); err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid executor base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultConfig().Timeout
	}

	c := &Client{
		baseURL: base,
		http:    &http.Client{Timeout: timeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}

	switch {
	case cfg.ClientID != "" && cfg.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		c.tokens = cc.TokenSource(context.WithValue(ctx, oauth2.HTTPClient, c.http))
	case strings.TrimSpace(cfg.Token) != "":
		c.tokens = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: strings.TrimSpace(cfg.Token), TokenType: "Bearer"})
	}

	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return c, nil
}

// CreateRun asks the executor to start a run of jobTypeID with payload and
// returns the executor-assigned run id.
func (c *Client) CreateRun(ctx context.Context, jobTypeID string, payload any) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal run payload: %w", err)
	}

	endpoint := c.endpoint("api", "jobs", jobTypeID, "runs")
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return "", err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", statusError(http.MethodPost, endpoint, resp)
	}

	var out createRunResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create-run response: %w", err)
	}
	if strings.TrimSpace(out.RunID) == "" {
		return "", ErrNoRunID
	}
	return out.RunID, nil
}

// GetRunStatus fetches the executor's status of a run. A 500 response that
// carries a status body is decoded like a 200, since the executor reports
// failed runs that way.
func (c *Client) GetRunStatus(ctx context.Context, jobTypeID string, runID string) (*RunStatus, error) {
	endpoint := c.endpoint("api", "jobs", jobTypeID, "runs", runID)
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	case resp.StatusCode == http.StatusInternalServerError:
		raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, fmt.Errorf("read status response: %w", err)
		}
		var status RunStatus
		if err := json.Unmarshal(raw, &status); err != nil || status.RunState == "" {
			return nil, &StatusError{Method: http.MethodGet, URL: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(raw))}
		}
		return &status, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return nil, statusError(http.MethodGet, endpoint, resp)
	}

	var status RunStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method string, endpoint string, body []byte) (*http.Response, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("build executor request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		tok, err := c.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("obtain executor token: %w", err)
		}
		tok.SetAuthHeader(req)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executor %s %s: %w", method, endpoint, err)
	}
	c.logger.Debug("executor request",
		zap.String("method", method),
		zap.String("url", endpoint),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

func (c *Client) endpoint(segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return c.baseURL + "/" + strings.Join(escaped, "/")
}

func statusError(method string, endpoint string, resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{Method: method, URL: endpoint, StatusCode: resp.StatusCode, Body: truncate(string(raw))}
}

func truncate(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxErrorBody {
		return s[:maxErrorBody]
	}
	return s
}
