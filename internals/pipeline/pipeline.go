// Package pipeline keeps the client's view of the task chain in step with the
// backend.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/Oudwins/somedaex/internals/tasks"
	"github.com/Oudwins/somedaex/internals/tasky"
	"github.com/Oudwins/somedaex/sdk"
)

var (
	ErrTaskNotCreated = errors.New("task has not been created on the backend")
	ErrNotInPipeline  = errors.New("task is not part of the pipeline")
	ErrDuplicateID    = errors.New("backend returned an id already in the pipeline")
	ErrReservedKey    = errors.New("config key is reserved")
)

// Backend is the part of sdk.Client the pipeline depends on.
type Backend interface {
	CreateTask(ctx context.Context, params sdk.CreateTaskParams) (*sdk.CreatedTask, error)
	UpdateTask(ctx context.Context, id int, updates map[string]any) error
	DeleteTask(ctx context.Context, id int) error
	ListTasks(ctx context.Context) ([]sdk.TaskInfo, error)
	Subscribe(ctx context.Context, handler sdk.EventHandler) error
}

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeDeleted ChangeKind = "deleted"
	ChangeUpdated ChangeKind = "updated"
)

type Change struct {
	Kind   ChangeKind
	TaskID int
}

type Pipeline struct {
	mu        sync.RWMutex
	registry  *tasks.Registry
	backend   Backend
	logger    *slog.Logger
	serial    *tasky.Serial
	tasks     map[int]*Task
	newest    *Task
	observers map[int]*observer

	listenersMu  sync.Mutex
	listeners    map[int]func(Change)
	nextListener int
}

type Option func(*Pipeline)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(registry *tasks.Registry, backend Backend, opts ...Option) *Pipeline {
	p := &Pipeline{
		registry:  registry,
		backend:   backend,
		logger:    slog.New(slog.DiscardHandler),
		serial:    tasky.NewSerial(),
		tasks:     map[int]*Task{},
		observers: map[int]*observer{},
		listeners: map[int]func(Change){},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Close stops the structural operation queue. Calls made afterwards fail with
// tasky.ErrClosed.
func (p *Pipeline) Close() {
	p.serial.Close()
}

func (p *Pipeline) Registry() *tasks.Registry {
	return p.registry
}

// AddTask appends a task of the given type to the end of the chain. Calls are
// applied one at a time in call order.
func (p *Pipeline) AddTask(ctx context.Context, typeID string) (*Task, error) {
	typ, err := p.registry.Get(typeID)
	if err != nil {
		return nil, err
	}

	var added *Task
	err = p.serial.Do(ctx, func(ctx context.Context) error {
		task := newTask(&p.mu, typ)
		params := sdk.CreateTaskParams{Type: typ.ID, Config: task.config.Clone()}

		p.mu.RLock()
		newest := p.newest
		if newest != nil {
			source := newest.id
			params.Source = &source
		}
		p.mu.RUnlock()

		created, err := p.backend.CreateTask(ctx, params)
		if err != nil {
			return err
		}

		p.mu.Lock()
		if _, exists := p.tasks[created.ID]; exists {
			p.mu.Unlock()
			return fmt.Errorf("%w: %d", ErrDuplicateID, created.ID)
		}
		task.id = created.ID
		task.source = newest
		p.tasks[task.id] = task
		p.observers[task.id] = newObserver(task.snapshot())
		p.newest = task
		p.mu.Unlock()

		p.logger.Debug("Task added", "task_id", task.id, "type", typ.ID)
		added = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.notify(Change{Kind: ChangeAdded, TaskID: added.ID()})
	return added, nil
}

// DeleteTask removes task from the backend and then from the pipeline. Tasks
// that used it as their source keep pointing at the detached task.
func (p *Pipeline) DeleteTask(ctx context.Context, task *Task) error {
	if task == nil {
		return ErrNotInPipeline
	}
	if task.ID() == tasks.UnsavedID {
		return ErrTaskNotCreated
	}

	var id int
	err := p.serial.Do(ctx, func(ctx context.Context) error {
		p.mu.RLock()
		id = task.id
		current, ok := p.tasks[id]
		p.mu.RUnlock()
		if !ok || current != task {
			return fmt.Errorf("%w: %d", ErrNotInPipeline, id)
		}

		if err := p.backend.DeleteTask(ctx, id); err != nil {
			return err
		}

		p.mu.Lock()
		delete(p.tasks, id)
		delete(p.observers, id)
		if p.newest == task {
			p.newest = nil
		}
		p.mu.Unlock()

		p.logger.Debug("Task deleted", "task_id", id)
		return nil
	})
	if err != nil {
		return err
	}
	p.notify(Change{Kind: ChangeDeleted, TaskID: id})
	return nil
}

func (p *Pipeline) Get(id int) (*Task, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	task, ok := p.tasks[id]
	return task, ok
}

// Tasks returns the live tasks ordered by id.
func (p *Pipeline) Tasks() []*Task {
	p.mu.RLock()
	ids := make([]int, 0, len(p.tasks))
	for id := range p.tasks {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]*Task, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.tasks[id])
	}
	p.mu.RUnlock()
	return out
}

// Newest returns the task the next AddTask will attach to, or nil when the
// next task starts a new chain.
func (p *Pipeline) Newest() *Task {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.newest
}

func (p *Pipeline) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.tasks)
}

// Watch registers fn to be called after every change to the pipeline. The
// returned func unregisters it.
func (p *Pipeline) Watch(fn func(Change)) func() {
	p.listenersMu.Lock()
	id := p.nextListener
	p.nextListener++
	p.listeners[id] = fn
	p.listenersMu.Unlock()

	return func() {
		p.listenersMu.Lock()
		delete(p.listeners, id)
		p.listenersMu.Unlock()
	}
}

func (p *Pipeline) notify(change Change) {
	p.listenersMu.Lock()
	ids := make([]int, 0, len(p.listeners))
	for id := range p.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	fns := make([]func(Change), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, p.listeners[id])
	}
	p.listenersMu.Unlock()

	for _, fn := range fns {
		fn(change)
	}
}
