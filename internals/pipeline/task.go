package pipeline

import (
	"encoding/json"
	"maps"
	"slices"
	"sync"

	"github.com/Oudwins/somedaex/internals/arrowschema"
	"github.com/Oudwins/somedaex/internals/tasks"
)

const (
	StatusInvalid = "invalid"
	StatusError   = "error"
)

// Task is one step of the pipeline. Only the Pipeline that created it
// changes its fields; everything else reads through the accessors.
type Task struct {
	mu     *sync.RWMutex
	id     int
	typ    *tasks.Type
	status string
	source *Task
	schema []arrowschema.Column
	column *string
	config tasks.Config
}

func newTask(mu *sync.RWMutex, typ *tasks.Type) *Task {
	return &Task{
		mu:     mu,
		id:     tasks.UnsavedID,
		typ:    typ,
		status: StatusInvalid,
		config: typ.DefaultConfig(),
	}
}

func (t *Task) ID() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.id
}

func (t *Task) Type() string {
	return t.typ.ID
}

func (t *Task) TypeInfo() *tasks.Type {
	return t.typ
}

func (t *Task) Status() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.status
}

// Source returns the task this one reads from. It may no longer be part of
// the pipeline if it was deleted after this task was added.
func (t *Task) Source() *Task {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.source
}

func (t *Task) Schema() []arrowschema.Column {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.schema)
}

func (t *Task) Column() (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.column == nil {
		return "", false
	}
	return *t.column, true
}

// Config returns a copy of the task's configuration.
func (t *Task) Config() tasks.Config {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.config.Clone()
}

func (t *Task) Title() string {
	return t.typ.TitleFor(t.Config())
}

func (t *Task) MarshalJSON() ([]byte, error) {
	t.mu.RLock()
	body := make(map[string]any, len(t.config)+1)
	maps.Copy(body, t.config.Clone())
	t.mu.RUnlock()
	body["type"] = t.typ.ID
	return json.Marshal(body)
}

// View is a point-in-time copy of a task for rendering.
type View struct {
	ID     int                  `json:"id"`
	Type   string               `json:"type"`
	Title  string               `json:"title"`
	Status string               `json:"status"`
	Source *int                 `json:"source,omitempty"`
	Schema []arrowschema.Column `json:"schema"`
	Column *string              `json:"column,omitempty"`
	Config tasks.Config         `json:"config"`
}

func (t *Task) View() View {
	t.mu.RLock()
	defer t.mu.RUnlock()
	view := View{
		ID:     t.id,
		Type:   t.typ.ID,
		Status: t.status,
		Schema: slices.Clone(t.schema),
		Config: t.config.Clone(),
	}
	view.Title = t.typ.TitleFor(view.Config)
	if t.source != nil {
		id := t.source.id
		view.Source = &id
	}
	if t.column != nil {
		column := *t.column
		view.Column = &column
	}
	return view
}

// snapshot is the document pushed to the backend on config changes. Callers
// hold the pipeline lock.
func (t *Task) snapshot() map[string]any {
	doc := make(map[string]any, len(t.config)+1)
	maps.Copy(doc, t.config.Clone())
	if t.source != nil {
		doc["source"] = t.source.id
	} else {
		doc["source"] = nil
	}
	return doc
}
