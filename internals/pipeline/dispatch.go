package pipeline

import (
	"context"
	"errors"

	"github.com/Oudwins/somedaex/internals/arrowschema"
	"github.com/Oudwins/somedaex/sdk"
)

var errNotString = errors.New("schema value is not a string")

// Dispatch applies one pushed event. Events for tasks that are not in the
// pipeline are dropped.
func (p *Pipeline) Dispatch(event sdk.Event) {
	p.mu.Lock()
	task, ok := p.tasks[event.Task]
	if !ok {
		p.mu.Unlock()
		p.logger.Warn("Dropping event for unknown task", "task_id", event.Task, "event", event.Event)
		return
	}

	changed := true
	switch event.Event {
	case sdk.EventStatus:
		status, _ := event.StringValue()
		task.status = status
	case sdk.EventSchema:
		if err := p.applySchema(task, event); err != nil {
			p.logger.Warn("Failed to decode task schema", "task_id", task.id, "error", err)
		}
	case sdk.EventColumn:
		if event.IsNull() {
			task.column = nil
		} else {
			column, _ := event.StringValue()
			task.column = &column
		}
	case sdk.EventConfig, sdk.EventCreated, sdk.EventDeleted, sdk.EventReset, sdk.EventResult:
		changed = false
		p.logger.Debug("Ignoring event", "task_id", task.id, "event", event.Event)
	default:
		changed = false
		p.logger.Debug("Ignoring unknown event kind", "task_id", task.id, "event", event.Event)
	}
	id := task.id
	p.mu.Unlock()

	if changed {
		p.notify(Change{Kind: ChangeUpdated, TaskID: id})
	}
}

// applySchema runs with the pipeline lock held.
func (p *Pipeline) applySchema(task *Task, event sdk.Event) error {
	if event.IsNull() {
		task.schema = nil
		return nil
	}
	encoded, ok := event.StringValue()
	if !ok {
		task.status = StatusError
		return &arrowschema.DecodeError{Err: errNotString}
	}
	columns, err := arrowschema.Decode(&encoded)
	if err != nil {
		task.status = StatusError
		return err
	}
	task.schema = columns
	return nil
}

// Run feeds backend events into the pipeline until ctx is cancelled or the
// stream fails. A failed stream is returned as the backend's stream error.
func (p *Pipeline) Run(ctx context.Context) error {
	return p.backend.Subscribe(ctx, p.Dispatch)
}

// Resync reloads the status of every known task from the backend. It never
// adds or removes tasks.
func (p *Pipeline) Resync(ctx context.Context) error {
	infos, err := p.backend.ListTasks(ctx)
	if err != nil {
		return err
	}

	var updated []int
	p.mu.Lock()
	for _, info := range infos {
		task, ok := p.tasks[info.ID]
		if !ok || info.Status == "" || task.status == info.Status {
			continue
		}
		task.status = info.Status
		updated = append(updated, info.ID)
	}
	p.mu.Unlock()

	for _, id := range updated {
		p.notify(Change{Kind: ChangeUpdated, TaskID: id})
	}
	return nil
}
