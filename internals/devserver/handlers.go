package devserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	z "github.com/Oudwins/zog"
	"github.com/go-chi/chi/v5"

	"github.com/Oudwins/somedaex/internals/tasks"
)

type taskRequest struct {
	Type   string `json:"type"`
	Source *int   `json:"source"`
}

var createSchema = z.Struct(z.Shape{
	"Type":   z.String().Required().Trim(),
	"Source": z.Ptr(z.Int().GTE(0)),
})

var reservedKeys = []string{"id", "type", "status", "source"}

// decodeTaskBody splits a flat task document into its envelope and config.
func decodeTaskBody(r *http.Request) (taskRequest, tasks.Config, bool, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return taskRequest{}, nil, false, err
	}
	var envelope taskRequest
	if err := json.Unmarshal(data, &envelope); err != nil {
		return taskRequest{}, nil, false, err
	}
	config := tasks.Config{}
	if err := json.Unmarshal(data, &config); err != nil {
		return taskRequest{}, nil, false, err
	}
	_, hasSource := config["source"]
	for _, key := range reservedKeys {
		delete(config, key)
	}
	return envelope, config, hasSource, nil
}

func (s *Server) HandlerGetPipeline(w http.ResponseWriter, r *http.Request) {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamEvents(w, r)
		return
	}

	records, err := s.store.list(r.Context())
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Failed to list tasks", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	RenderJSON(w, r, map[string]any{"tasks": records})
}

func (s *Server) HandlerCreateTask(w http.ResponseWriter, r *http.Request) {
	envelope, config, _, err := decodeTaskBody(r)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	if issues := createSchema.Validate(&envelope); len(issues) > 0 {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "Schema validation failed", z.Issues.Flatten(issues)), Render.Status(http.StatusBadRequest))
		return
	}

	typ, err := s.registry.Get(envelope.Type)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, fmt.Sprintf("No such type: %s", envelope.Type), nil), Render.Status(http.StatusBadRequest))
		return
	}
	if !s.checkSource(w, r, envelope.Source) {
		return
	}

	record, err := s.store.create(r.Context(), typ.ID, envelope.Source, typ.DefaultConfig().Merge(config))
	if err != nil {
		s.logger.Error("Failed to create task", "type", typ.ID, "error", err)
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Failed to create task", nil), Render.Status(http.StatusInternalServerError))
		return
	}
	s.logger.Info("Task created", "task_id", record.ID, "type", record.Type)

	s.events.broadcast(record.ID, "created", nil)
	s.sim.reset(record, "created")

	current, err := s.store.get(r.Context(), record.ID)
	if err != nil {
		current = record
	}
	RenderJSON(w, r, current, Render.Header("Location", "/"+strconv.Itoa(record.ID)), Render.Status(http.StatusCreated))
}

func (s *Server) HandlerGetTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	record, err := s.store.get(r.Context(), id)
	if err != nil {
		s.renderStoreError(w, r, id, err)
		return
	}
	RenderJSON(w, r, record)
}

func (s *Server) HandlerUpdateTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	record, err := s.store.get(r.Context(), id)
	if err != nil {
		s.renderStoreError(w, r, id, err)
		return
	}

	envelope, config, hasSource, err := decodeTaskBody(r)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInvalidJson, "Invalid JSON", nil), Render.Status(http.StatusBadRequest))
		return
	}
	if hasSource {
		if envelope.Source != nil && *envelope.Source == id {
			RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "A task cannot be its own source", nil), Render.Status(http.StatusBadRequest))
			return
		}
		if !s.checkSource(w, r, envelope.Source) {
			return
		}
		record.Source = envelope.Source
	}
	record.Config = record.Config.Merge(config)

	if err := s.store.updateConfig(r.Context(), id, record.Source, record.Config); err != nil {
		s.renderStoreError(w, r, id, err)
		return
	}
	s.logger.Info("Task updated", "task_id", id)

	s.events.broadcast(id, "config", record.Config)
	s.sim.reset(record, "config")

	if current, err := s.store.get(r.Context(), id); err == nil {
		record = current
	}
	RenderJSON(w, r, record)
}

func (s *Server) HandlerDeleteTask(w http.ResponseWriter, r *http.Request) {
	id, ok := taskID(w, r)
	if !ok {
		return
	}
	s.sim.forget(id)
	if err := s.store.delete(r.Context(), id); err != nil {
		s.renderStoreError(w, r, id, err)
		return
	}
	s.logger.Info("Task deleted", "task_id", id)
	s.events.broadcast(id, "deleted", nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) checkSource(w http.ResponseWriter, r *http.Request, source *int) bool {
	if source == nil {
		return true
	}
	exists, err := s.store.exists(r.Context(), *source)
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Failed to read task", nil), Render.Status(http.StatusInternalServerError))
		return false
	}
	if !exists {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, fmt.Sprintf("Task %d is not defined", *source), nil), Render.Status(http.StatusBadRequest))
		return false
	}
	return true
}

func (s *Server) renderStoreError(w http.ResponseWriter, r *http.Request, id int, err error) {
	if errors.Is(err, errTaskNotFound) {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeNotFound, fmt.Sprintf("Task %d not found", id), nil), Render.Status(http.StatusNotFound))
		return
	}
	s.logger.Error("Task store failure", "task_id", id, "error", err)
	RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Failed to access task", nil), Render.Status(http.StatusInternalServerError))
}

func taskID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeValidationFailed, "task id must be a number", nil), Render.Status(http.StatusBadRequest))
		return 0, false
	}
	return id, true
}

// streamEvents holds the request open and writes every broadcast event as an
// SSE data line until the client goes away or the server shuts down.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RenderJSON(w, r, JsonResponseError(JsonResponseErrorCodeInternal, "Streaming unsupported", nil), Render.Status(http.StatusInternalServerError))
		return
	}

	id, events := s.events.subscribe()
	defer s.events.unsubscribe(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.ctx.Done():
			return
		case payload := <-events:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
