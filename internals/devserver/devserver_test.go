package devserver

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Oudwins/somedaex/internals/arrowschema"
	"github.com/Oudwins/somedaex/internals/pipeline"
	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/Oudwins/somedaex/internals/testutil"
	"github.com/Oudwins/somedaex/sdk"
)

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	srv, err := New(context.Background(), Config{StepDelay: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	httpServer := httptest.NewServer(srv.Router())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
		httpServer.Close()
	})
	return srv, httpServer
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()

	payload := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp, payload
}

func TestTaskEndpoints(t *testing.T) {
	_, httpServer := newTestServer(t)
	base := httpServer.URL

	resp, body := doJSON(t, http.MethodPost, base+"/", map[string]any{"type": "loadFile", "path": "", "format": nil})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") != "/0" {
		t.Fatalf("expected Location /0, got %q", resp.Header.Get("Location"))
	}
	if body["id"] != float64(0) || body["type"] != "loadFile" || body["status"] != "invalid" {
		t.Fatalf("unexpected create body %v", body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/", map[string]any{"type": "caseFold", "column": "", "source": 0})
	if resp.StatusCode != http.StatusCreated || body["id"] != float64(1) {
		t.Fatalf("expected second task id 1, got %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodGet, base+"/1", nil)
	if resp.StatusCode != http.StatusOK || body["source"] != float64(0) {
		t.Fatalf("expected task 1 with source 0, got %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/1", map[string]any{"source": 0, "column": "text"})
	if resp.StatusCode != http.StatusOK || body["column"] != "text" {
		t.Fatalf("expected updated column, got %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/", map[string]any{"type": "bogus"})
	if resp.StatusCode != http.StatusBadRequest || body["message"] != "No such type: bogus" {
		t.Fatalf("expected unknown type rejection, got %d %v", resp.StatusCode, body)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/1", map[string]any{"source": 42})
	if resp.StatusCode != http.StatusBadRequest || body["message"] != "Task 42 is not defined" {
		t.Fatalf("expected undefined source rejection, got %d %v", resp.StatusCode, body)
	}

	resp, _ = doJSON(t, http.MethodPost, base+"/7", map[string]any{"column": "x"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown id, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodGet, base+"/", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if list, ok := body["tasks"].([]any); !ok || len(list) != 2 {
		t.Fatalf("expected two tasks, got %v", body["tasks"])
	}

	resp, _ = doJSON(t, http.MethodDelete, base+"/1", nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp, _ = doJSON(t, http.MethodDelete, base+"/1", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 on second delete, got %d", resp.StatusCode)
	}

	resp, body = doJSON(t, http.MethodPost, base+"/", map[string]any{"type": "caseFold"})
	if body["id"] != float64(2) {
		t.Fatalf("expected ids not to be reused, got %v", body["id"])
	}
}

func TestStoreIDsStartAtZero(t *testing.T) {
	store, err := newTaskStore(context.Background(), ":memory:")
	if err != nil {
		t.Fatalf("newTaskStore: %v", err)
	}
	defer store.close()
	ctx := context.Background()

	first, err := store.create(ctx, "loadFile", nil, tasks.Config{"path": ""})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := store.create(ctx, "caseFold", &first.ID, tasks.Config{"column": ""})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if first.ID != 0 || second.ID != 1 {
		t.Fatalf("expected ids 0 and 1, got %d and %d", first.ID, second.ID)
	}

	got, err := store.get(ctx, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Source == nil || *got.Source != 0 || got.Status != "invalid" {
		t.Fatalf("unexpected record %+v", got)
	}

	if err := store.delete(ctx, 5); err != errTaskNotFound {
		t.Fatalf("expected errTaskNotFound, got %v", err)
	}
}

func TestStoreKeepsSequenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := testutil.TempDBPath(t)

	store, err := newTaskStore(ctx, path)
	if err != nil {
		t.Fatalf("newTaskStore: %v", err)
	}
	first, err := store.create(ctx, "loadFile", nil, tasks.Config{"path": ""})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.delete(ctx, first.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := newTaskStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.close()
	second, err := reopened.create(ctx, "loadFile", nil, tasks.Config{"path": ""})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if second.ID != 1 {
		t.Fatalf("expected id 1 after reopen, got %d", second.ID)
	}
}

func TestPipelineAgainstDevserver(t *testing.T) {
	srv, httpServer := newTestServer(t)

	csvPath := testutil.TempFile(t, "comments.csv", "text,author\nhello,ann\n")

	client := sdk.NewClient(sdk.WithBaseURL(httpServer.URL+"/"), sdk.WithHTTPClient(httpServer.Client()))
	p := pipeline.New(tasks.DefaultRegistry(), client)
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(1)
	var runErr error
	go func() {
		defer wg.Done()
		runErr = p.Run(ctx)
	}()
	testutil.WaitFor(t, "event stream subscriber", func() bool { return srv.events.count() > 0 })

	load, err := p.AddTask(ctx, "loadFile")
	if err != nil {
		t.Fatalf("AddTask loadFile: %v", err)
	}
	fold, err := p.AddTask(ctx, "caseFold")
	if err != nil {
		t.Fatalf("AddTask caseFold: %v", err)
	}
	if load.ID() != 0 || fold.ID() != 1 || fold.Source() != load {
		t.Fatalf("unexpected chain: %d %d", load.ID(), fold.ID())
	}

	if err := p.UpdateConfig(ctx, load, tasks.Config{"path": csvPath, "format": "csv"}); err != nil {
		t.Fatalf("UpdateConfig load: %v", err)
	}
	testutil.WaitFor(t, "loadFile to complete", func() bool { return load.Status() == "complete" })

	want := []arrowschema.Column{{Name: "text", Type: "utf8"}, {Name: "author", Type: "utf8"}}
	if !reflect.DeepEqual(load.Schema(), want) {
		t.Fatalf("expected schema %v, got %v", want, load.Schema())
	}

	if err := p.UpdateConfig(ctx, fold, tasks.Config{"column": "text"}); err != nil {
		t.Fatalf("UpdateConfig fold: %v", err)
	}
	testutil.WaitFor(t, "caseFold to complete", func() bool { return fold.Status() == "complete" })
	if column, ok := fold.Column(); !ok || column != "text" {
		t.Fatalf("expected column event for text, got %q", column)
	}
	if !reflect.DeepEqual(fold.Schema(), want) {
		t.Fatalf("expected caseFold to inherit schema, got %v", fold.Schema())
	}

	if err := p.DeleteTask(ctx, load); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if err := p.Resync(ctx); err != nil {
		t.Fatalf("Resync: %v", err)
	}
	if p.Len() != 1 {
		t.Fatalf("expected one task left, got %d", p.Len())
	}

	cancel()
	wg.Wait()
	if runErr != nil {
		t.Fatalf("expected clean stop, got %v", runErr)
	}
}

func TestStreamRequiresEventStreamAccept(t *testing.T) {
	_, httpServer := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, httpServer.URL+"/", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if !strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		t.Fatalf("expected json listing without event-stream accept, got %q", resp.Header.Get("Content-Type"))
	}
}
