package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Oudwins/somedaex/internals/env"
	"github.com/Oudwins/somedaex/internals/tasky"
	"github.com/Oudwins/somedaex/internals/timeouts"
	"github.com/google/uuid"
)

// Client talks to the pipeline backend over REST and its event stream.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	logger      *slog.Logger
	reconnect   tasky.BackoffConfig
	maxAttempts int
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithReconnect sets the delays used when the event stream drops. After
// maxAttempts failed reconnects in a row Subscribe gives up.
func WithReconnect(cfg tasky.BackoffConfig, maxAttempts int) Option {
	return func(c *Client) {
		c.reconnect = cfg
		c.maxAttempts = maxAttempts
	}
}

func NewClient(opts ...Option) *Client {
	envs := env.Get()
	client := &Client{
		baseURL: strings.TrimRight(envs.BACKEND_URL, "/"),
		httpClient: &http.Client{
			Timeout: timeouts.SecondDefault,
		},
		logger: slog.New(slog.DiscardHandler),
		reconnect: tasky.BackoffConfig{
			Base: 500 * time.Millisecond,
			Max:  10 * time.Second,
		},
		maxAttempts: 8,
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

func (c *Client) BaseURL() string {
	return c.baseURL + "/"
}

func (c *Client) taskPath(id int) string {
	return "/" + strconv.Itoa(id)
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	return c.httpClient.Do(req)
}

func isSuccess(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}
