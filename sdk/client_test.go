package sdk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Oudwins/somedaex/internals/tasky"
)

func newTestClient(server *httptest.Server, opts ...Option) *Client {
	base := []Option{WithBaseURL(server.URL + "/"), WithHTTPClient(server.Client())}
	return NewClient(append(base, opts...)...)
}

func TestCreateTaskSendsFlatBody(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Location", "/2")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id": 2, "type": "caseFold", "status": "invalid", "column": ""}`))
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	source := 1
	created, err := client.CreateTask(ctx, CreateTaskParams{Type: "caseFold", Source: &source, Config: map[string]any{"column": ""}})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if created.ID != 2 || created.Type != "caseFold" {
		t.Fatalf("unexpected created task %+v", created)
	}
	if got["type"] != "caseFold" || got["column"] != "" || got["source"] != float64(1) {
		t.Fatalf("unexpected request body %v", got)
	}
}

func TestCreateTaskOmitsMissingSource(t *testing.T) {
	body, err := json.Marshal(CreateTaskParams{Type: "loadFile", Config: map[string]any{"path": "", "format": nil}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := decoded["source"]; ok {
		t.Fatalf("expected no source key, got %v", decoded)
	}
	if decoded["type"] != "loadFile" {
		t.Fatalf("expected type loadFile, got %v", decoded["type"])
	}
	if value, ok := decoded["format"]; !ok || value != nil {
		t.Fatalf("expected null format, got %v", decoded)
	}
}

func TestUpdateAndDeleteTask(t *testing.T) {
	var mu sync.Mutex
	var calls []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls = append(calls, r.Method+" "+r.URL.Path)
		mu.Unlock()
		switch r.Method + " " + r.URL.Path {
		case http.MethodPost + " /3":
			_, _ = w.Write([]byte(`{"id": 3}`))
		case http.MethodDelete + " /3":
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.UpdateTask(ctx, 3, map[string]any{"column": "text"}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	if err := client.DeleteTask(ctx, 3); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}

	err := client.DeleteTask(ctx, 7)
	var notFound *NotFoundError
	if !errors.As(err, &notFound) || notFound.ID != 7 {
		t.Fatalf("expected NotFoundError for id 7, got %v", err)
	}
	if len(calls) != 3 {
		t.Fatalf("expected 3 calls, got %v", calls)
	}
}

func TestErrorMapping(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("No such type: bogus\n"))
		case "/1":
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(ErrorResponse{Message: "Task 9 is not defined"})
		default:
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := client.CreateTask(ctx, CreateTaskParams{Type: "bogus"})
	var validation *ValidationError
	if !errors.As(err, &validation) {
		t.Fatalf("expected ValidationError, got %T %v", err, err)
	}
	if validation.StatusCode != http.StatusBadRequest || validation.Message != "No such type: bogus" {
		t.Fatalf("unexpected validation error %+v", validation)
	}

	err = client.UpdateTask(ctx, 1, map[string]any{"source": 9})
	if !errors.As(err, &validation) || validation.Message != "Task 9 is not defined" {
		t.Fatalf("expected message from json envelope, got %v", err)
	}

	err = client.UpdateTask(ctx, 2, nil)
	var network *NetworkError
	if !errors.As(err, &network) {
		t.Fatalf("expected NetworkError for 5xx, got %T %v", err, err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected wrapped APIError, got %v", err)
	}
}

func TestTransportFailureIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	client := NewClient(WithBaseURL(url))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var network *NetworkError
	if _, err := client.CreateTask(ctx, CreateTaskParams{Type: "caseFold"}); !errors.As(err, &network) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if err := client.DeleteTask(ctx, 1); !errors.As(err, &network) {
		t.Fatalf("expected NetworkError, got %v", err)
	}
	if IsRunning(url) {
		t.Fatalf("expected closed server to be reported as not running")
	}
}

func TestListAndGetTasks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/":
			if r.Header.Get("Accept") != "application/json" {
				w.WriteHeader(http.StatusNotAcceptable)
				return
			}
			_, _ = w.Write([]byte(`{"tasks": [{"id": 0, "type": "loadFile", "status": "ready", "path": "/a.csv", "format": "csv"}, {"id": 1, "type": "caseFold", "status": "invalid", "source": 0, "column": ""}]}`))
		case "/1":
			_, _ = w.Write([]byte(`{"id": 1, "type": "caseFold", "status": "working", "source": 0, "column": "text"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	tasks, err := client.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Source != nil || tasks[0].Config["path"] != "/a.csv" {
		t.Fatalf("unexpected first task %+v", tasks[0])
	}
	if tasks[1].Source == nil || *tasks[1].Source != 0 {
		t.Fatalf("expected source 0, got %+v", tasks[1])
	}

	task, err := client.GetTask(ctx, 1)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if task.Status != "working" || task.Config["column"] != "text" {
		t.Fatalf("unexpected task %+v", task)
	}
	if _, ok := task.Config["status"]; ok {
		t.Fatalf("expected status to be lifted out of config")
	}

	if err := client.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if !IsRunning(server.URL) {
		t.Fatalf("expected server to be running")
	}
}

func TestSubscribeDeliversEventsInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			w.WriteHeader(http.StatusNotAcceptable)
			return
		}
		flusher := w.(http.Flusher)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for i := 0; i < 3; i++ {
			fmt.Fprintf(w, "data: {\"task\": %d, \"event\": \"status\", \"value\": \"ready\"}\n\n", i)
		}
		fmt.Fprint(w, "data: not json\n\n")
		fmt.Fprint(w, "data: {\"task\": 5, \"event\": \"schema\", \"value\": null}\n\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer server.Close()

	client := newTestClient(server)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var events []Event
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Subscribe(ctx, func(event Event) {
			mu.Lock()
			events = append(events, event)
			count := len(events)
			mu.Unlock()
			if count == 4 {
				cancel()
			}
		})
	}()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("expected nil after cancel, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for events")
	}

	mu.Lock()
	defer mu.Unlock()
	for i := 0; i < 3; i++ {
		if events[i].Task != i || events[i].Event != EventStatus {
			t.Fatalf("unexpected event %d: %+v", i, events[i])
		}
		if value, ok := events[i].StringValue(); !ok || value != "ready" {
			t.Fatalf("expected ready status, got %q", value)
		}
	}
	if events[3].Task != 5 || !events[3].IsNull() {
		t.Fatalf("expected null schema event, got %+v", events[3])
	}
}

func TestSubscribeGivesUpWithStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(server, WithReconnect(tasky.BackoffConfig{Base: time.Millisecond, Max: 5 * time.Millisecond}, 2))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := client.Subscribe(ctx, func(Event) {})
	if !IsStreamError(err) {
		t.Fatalf("expected StreamError, got %v", err)
	}
	if !strings.Contains(err.Error(), "event stream") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestSubscribeBudgetRestoredByEvents(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintf(w, "data: {\"task\": 0, \"event\": \"status\", \"value\": \"working\"}\n\n")
		w.(http.Flusher).Flush()
		// drop the connection without a clean end of stream
		panic(http.ErrAbortHandler)
	}))
	defer server.Close()

	client := newTestClient(server, WithReconnect(tasky.BackoffConfig{Base: time.Millisecond, Max: 5 * time.Millisecond}, 2))
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	received := 0
	err := client.Subscribe(ctx, func(Event) {
		received++
		if received == 10 {
			cancel()
		}
	})
	if err != nil {
		t.Fatalf("expected nil after cancel, got %v (after %d events)", err, received)
	}
	if received < 10 {
		t.Fatalf("expected at least 10 events, got %d", received)
	}
}
