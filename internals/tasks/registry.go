package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	z "github.com/Oudwins/zog"
)

var ErrUnknownType = errors.New("unknown task type")

// Type describes one task variant. The pipeline never looks at anything but
// the ID to decide how to treat a task.
type Type struct {
	ID       string
	Label    string
	Category string
	// Editor is an opaque reference to the UI component that edits this
	// variant's config. The core never interprets it.
	Editor   string
	Defaults func() Config
	Title    func(Config) string
	Validate func(Config) map[string][]string
}

// DefaultConfig returns a fresh copy of the variant's default configuration.
func (t *Type) DefaultConfig() Config {
	if t.Defaults == nil {
		return Config{}
	}
	return t.Defaults().Clone()
}

// TitleFor returns a human readable title for a task of this type.
func (t *Type) TitleFor(config Config) string {
	if t.Title != nil {
		return t.Title(config)
	}
	return t.Label
}

// Check validates config against the variant's rules. A nil return means the
// config is complete enough for the backend to run the task.
func (t *Type) Check(config Config) error {
	if t.Validate == nil {
		return nil
	}
	if issues := t.Validate(config); len(issues) > 0 {
		return &ConfigError{TypeID: t.ID, Issues: issues}
	}
	return nil
}

type ConfigError struct {
	TypeID string
	Issues map[string][]string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid %s config: %v", e.TypeID, e.Issues)
}

type Category struct {
	Label string
	Types []*Type
}

// Registry maps type ids to variants. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[string]*Type
	order []string
}

func NewRegistry(types ...*Type) (*Registry, error) {
	registry := &Registry{types: map[string]*Type{}}
	for _, t := range types {
		if err := registry.Register(t); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// DefaultRegistry returns a new registry holding the built-in task types.
func DefaultRegistry() *Registry {
	registry, err := NewRegistry(LoadFile(), CaseFold(), RemoveEmoji())
	if err != nil {
		panic(err)
	}
	return registry
}

func (r *Registry) Register(t *Type) error {
	if t == nil || t.ID == "" {
		return errors.New("task type requires an id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.types[t.ID]; exists {
		return fmt.Errorf("duplicate task type: %s", t.ID)
	}
	r.types[t.ID] = t
	r.order = append(r.order, t.ID)
	return nil
}

func (r *Registry) Get(id string) (*Type, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, id)
	}
	return t, nil
}

// List returns the registered types in registration order.
func (r *Registry) List() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Type, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.types[id])
	}
	return out
}

// Categories groups the registered types by category, ordered by the first
// registration in each category.
func (r *Registry) Categories() []Category {
	var categories []Category
	index := map[string]int{}
	for _, t := range r.List() {
		i, ok := index[t.Category]
		if !ok {
			i = len(categories)
			index[t.Category] = i
			categories = append(categories, Category{Label: t.Category})
		}
		categories[i].Types = append(categories[i].Types, t)
	}
	return categories
}

// validateAs decodes config into T and runs schema against it.
func validateAs[T any](schema *z.StructSchema, config Config) map[string][]string {
	var payload T
	data, err := json.Marshal(config)
	if err == nil {
		err = json.Unmarshal(data, &payload)
	}
	if err != nil {
		return map[string][]string{"$root": {err.Error()}}
	}
	if issues := schema.Validate(&payload); len(issues) > 0 {
		return z.Issues.Flatten(issues)
	}
	return nil
}
