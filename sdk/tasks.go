package sdk

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
)

// CreateTaskParams is sent flat: the type, the optional source id and every
// config entry share one JSON object.
type CreateTaskParams struct {
	Type   string
	Source *int
	Config map[string]any
}

func (p CreateTaskParams) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(p.Config)+2)
	maps.Copy(body, p.Config)
	body["type"] = p.Type
	if p.Source != nil {
		body["source"] = *p.Source
	} else {
		delete(body, "source")
	}
	return json.Marshal(body)
}

type CreatedTask struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// TaskInfo is the backend's view of one task.
type TaskInfo struct {
	ID     int
	Type   string
	Status string
	Source *int
	Config map[string]any
}

func (t *TaskInfo) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	info := TaskInfo{Config: map[string]any{}}
	for key, value := range raw {
		var err error
		switch key {
		case "id":
			err = json.Unmarshal(value, &info.ID)
		case "type":
			err = json.Unmarshal(value, &info.Type)
		case "status":
			err = json.Unmarshal(value, &info.Status)
		case "source":
			err = json.Unmarshal(value, &info.Source)
		default:
			var decoded any
			err = json.Unmarshal(value, &decoded)
			info.Config[key] = decoded
		}
		if err != nil {
			return fmt.Errorf("task field %q: %w", key, err)
		}
	}
	*t = info
	return nil
}

type TaskListResponse struct {
	Tasks []TaskInfo `json:"tasks"`
}

func (c *Client) CreateTask(ctx context.Context, params CreateTaskParams) (*CreatedTask, error) {
	const op = "create task"
	resp, err := c.doRequest(ctx, http.MethodPost, "/", params)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return nil, responseError(op, -1, resp)
	}

	var payload CreatedTask
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if payload.Type == "" {
		payload.Type = params.Type
	}
	return &payload, nil
}

func (c *Client) UpdateTask(ctx context.Context, id int, updates map[string]any) error {
	const op = "update task"
	if updates == nil {
		updates = map[string]any{}
	}
	resp, err := c.doRequest(ctx, http.MethodPost, c.taskPath(id), updates)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return responseError(op, id, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) DeleteTask(ctx context.Context, id int) error {
	const op = "delete task"
	resp, err := c.doRequest(ctx, http.MethodDelete, c.taskPath(id), nil)
	if err != nil {
		return &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return responseError(op, id, resp)
	}
	return nil
}

func (c *Client) ListTasks(ctx context.Context) ([]TaskInfo, error) {
	const op = "list tasks"
	resp, err := c.doRequest(ctx, http.MethodGet, "/", nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return nil, responseError(op, -1, resp)
	}

	var payload TaskListResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return payload.Tasks, nil
}

func (c *Client) GetTask(ctx context.Context, id int) (*TaskInfo, error) {
	const op = "get task"
	resp, err := c.doRequest(ctx, http.MethodGet, c.taskPath(id), nil)
	if err != nil {
		return nil, &NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return nil, responseError(op, id, resp)
	}

	var payload TaskInfo
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, &NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	return &payload, nil
}
