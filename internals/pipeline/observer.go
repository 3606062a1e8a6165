package pipeline

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/Oudwins/somedaex/internals/tasks"
)

// observer remembers the last {source, ...config} document the backend
// accepted for one task. push serializes updates for that task.
type observer struct {
	push sync.Mutex
	last map[string]any
}

func newObserver(initial map[string]any) *observer {
	return &observer{last: initial}
}

// UpdateConfig merges updates into the task's config and pushes the result
// to the backend when it differs from what was last pushed. A rejected push
// marks the task with StatusError and leaves it in the pipeline.
func (p *Pipeline) UpdateConfig(ctx context.Context, task *Task, updates tasks.Config) error {
	if task == nil {
		return ErrNotInPipeline
	}
	for _, key := range []string{"source", "type", "id"} {
		if _, ok := updates[key]; ok {
			return fmt.Errorf("%w: %s", ErrReservedKey, key)
		}
	}

	p.mu.RLock()
	id := task.id
	obs, live := p.observers[id]
	live = live && p.tasks[id] == task
	p.mu.RUnlock()
	if id == tasks.UnsavedID {
		return ErrTaskNotCreated
	}
	if !live {
		return fmt.Errorf("%w: %d", ErrNotInPipeline, id)
	}

	obs.push.Lock()
	defer obs.push.Unlock()

	p.mu.Lock()
	if p.observers[id] != obs {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrNotInPipeline, id)
	}
	task.config = task.config.Merge(updates)
	doc := task.snapshot()
	changed := !reflect.DeepEqual(doc, obs.last)
	p.mu.Unlock()

	if !changed {
		return nil
	}
	p.notify(Change{Kind: ChangeUpdated, TaskID: id})

	err := p.backend.UpdateTask(ctx, id, doc)

	p.mu.Lock()
	if p.observers[id] != obs {
		// deleted while the update was in flight
		p.mu.Unlock()
		p.logger.Debug("Discarding update response for deleted task", "task_id", id)
		return nil
	}
	if err != nil {
		task.status = StatusError
	} else {
		obs.last = doc
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Warn("Failed to push task config", "task_id", id, "error", err)
		p.notify(Change{Kind: ChangeUpdated, TaskID: id})
		return err
	}
	return nil
}
