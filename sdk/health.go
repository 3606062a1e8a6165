package sdk

import (
	"context"
	"net/http"
	"time"

	"github.com/Oudwins/somedaex/internals/timeouts"
)

const DefaultPingTimeout = timeouts.Probe

// Ping checks that the backend answers its task listing.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.ListTasks(ctx)
	return err
}

func IsRunning(baseURL string) bool {
	return IsRunningWithTimeout(baseURL, DefaultPingTimeout)
}

func IsRunningWithTimeout(baseURL string, timeout time.Duration) bool {
	if baseURL == "" {
		return false
	}
	if timeout <= 0 {
		timeout = DefaultPingTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	client := NewClient(
		WithBaseURL(baseURL),
		WithHTTPClient(&http.Client{Timeout: timeout}),
	)
	return client.Ping(ctx) == nil
}
