package devserver

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

type event struct {
	Task  int    `json:"task"`
	Event string `json:"event"`
	Value any    `json:"value"`
}

// broadcaster fans events out to every connected stream. A subscriber that
// falls behind by more than its buffer loses events rather than blocking the
// others.
type broadcaster struct {
	logger *slog.Logger
	mu     sync.RWMutex
	subs   map[uuid.UUID]chan []byte
}

func newBroadcaster(logger *slog.Logger) *broadcaster {
	return &broadcaster{
		logger: logger,
		subs:   make(map[uuid.UUID]chan []byte),
	}
}

func (b *broadcaster) subscribe() (uuid.UUID, <-chan []byte) {
	id := uuid.New()
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	b.logger.Info("Event stream subscribed", "subscriber", id)
	return id, ch
}

func (b *broadcaster) unsubscribe(id uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.subs[id]; !exists {
		return
	}
	delete(b.subs, id)
	b.logger.Info("Event stream unsubscribed", "subscriber", id)
}

func (b *broadcaster) broadcast(task int, name string, value any) {
	payload, err := json.Marshal(event{Task: task, Event: name, Value: value})
	if err != nil {
		b.logger.Error("Failed to encode event", "task_id", task, "event", name, "error", err)
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subs {
		select {
		case ch <- payload:
		default:
			b.logger.Warn("Dropping event for slow subscriber", "subscriber", id, "task_id", task, "event", name)
		}
	}
}

func (b *broadcaster) count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
