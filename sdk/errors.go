package sdk

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// NetworkError reports that the backend could not be reached, or that it
// failed with a server-side status.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: backend unreachable: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is returned when the backend rejects a request.
type ValidationError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: rejected with status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: rejected: %s", e.Op, e.Message)
}

type NotFoundError struct {
	Op string
	ID int
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: task %d not found", e.Op, e.ID)
}

// StreamError ends a subscription that could not be kept alive.
type StreamError struct {
	Err error
}

func (e *StreamError) Error() string {
	return "event stream: " + e.Err.Error()
}

func (e *StreamError) Unwrap() error { return e.Err }

// APIError carries the status and body of a failed response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("unexpected status: %d", e.StatusCode)
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// responseError maps a non-2xx response onto the client's error types. The
// body is either plain text or a JSON object with a message field.
func responseError(op string, id int, resp *http.Response) error {
	message := readMessage(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &NotFoundError{Op: op, ID: id}
	case resp.StatusCode >= http.StatusInternalServerError:
		return &NetworkError{Op: op, Err: &APIError{StatusCode: resp.StatusCode, Message: message}}
	default:
		return &ValidationError{Op: op, StatusCode: resp.StatusCode, Message: message}
	}
}

func readMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64<<10))
	if err != nil {
		return ""
	}
	var payload ErrorResponse
	if err := json.Unmarshal(data, &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return strings.TrimSpace(string(data))
}
