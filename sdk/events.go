package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/Oudwins/somedaex/internals/tasky"
	"github.com/r3labs/sse/v2"
)

const (
	EventStatus  = "status"
	EventSchema  = "schema"
	EventColumn  = "column"
	EventConfig  = "config"
	EventCreated = "created"
	EventDeleted = "deleted"
	EventReset   = "reset"
	EventResult  = "result"
)

// Event is one message from the backend's push channel.
type Event struct {
	Task  int             `json:"task"`
	Event string          `json:"event"`
	Value json.RawMessage `json:"value"`
}

// StringValue returns the value as a string and reports whether it was one.
// Values of other kinds come back as their raw JSON text.
func (e Event) StringValue() (string, bool) {
	if e.IsNull() {
		return string(e.Value), false
	}
	var s string
	if err := json.Unmarshal(e.Value, &s); err == nil {
		return s, true
	}
	return string(e.Value), false
}

// IsNull reports whether the value is absent or JSON null.
func (e Event) IsNull() bool {
	return len(e.Value) == 0 || string(e.Value) == "null"
}

type EventHandler func(Event)

// Subscribe streams backend events to handler in arrival order until ctx is
// cancelled, which returns nil. Dropped connections are retried with the
// client's reconnect policy; once that gives up a *StreamError is returned.
// The attempt budget counts consecutive failures: any delivered event
// restores it.
func (c *Client) Subscribe(ctx context.Context, handler EventHandler) error {
	stream := sse.NewClient(c.BaseURL())
	stream.Connection = &http.Client{Transport: c.httpClient.Transport}
	stream.Headers = map[string]string{"Accept": "text/event-stream"}
	strategy := tasky.NewRetry(ctx, c.reconnect, c.maxAttempts)
	stream.ReconnectStrategy = strategy
	closes := tasky.NewRetry(ctx, c.reconnect, c.maxAttempts)
	stream.ReconnectNotify = func(err error, next time.Duration) {
		c.logger.Warn("Event stream dropped, reconnecting", "error", err, "retry_in", next)
	}
	stream.OnConnect(func(*sse.Client) {
		c.logger.Debug("Event stream connected", "url", c.BaseURL())
	})

	onMessage := func(msg *sse.Event) {
		strategy.Reset()
		closes.Reset()
		if len(msg.Data) == 0 {
			return
		}
		var event Event
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			c.logger.Warn("Dropping undecodable event", "data", string(msg.Data), "error", err)
			return
		}
		handler(event)
	}

	for {
		err := stream.SubscribeRawWithContext(ctx, onMessage)
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			return &StreamError{Err: err}
		}

		// the server ended the stream cleanly
		next := closes.NextBackOff()
		if next < 0 {
			return &StreamError{Err: io.ErrUnexpectedEOF}
		}
		c.logger.Warn("Event stream closed by backend, reconnecting", "retry_in", next)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(next):
		}
	}
}

// IsStreamError reports whether err ended an event subscription.
func IsStreamError(err error) bool {
	var streamErr *StreamError
	return errors.As(err, &streamErr)
}
