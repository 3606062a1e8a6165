package devserver

import (
	"context"
	"encoding/csv"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Oudwins/somedaex/internals/arrowschema"
	"github.com/Oudwins/somedaex/internals/tasks"
)

const (
	statusInvalid  = "invalid"
	statusReady    = "ready"
	statusWorking  = "working"
	statusComplete = "complete"
	statusError    = "error"
)

var fallbackSchema = []arrowschema.Column{{Name: "text", Type: "utf8"}}

// simulator walks tasks through the backend's status lifecycle without doing
// any real work. Every config change starts a new generation for the task;
// steps from older generations are abandoned.
type simulator struct {
	ctx      context.Context
	logger   *slog.Logger
	store    *taskStore
	events   *broadcaster
	registry *tasks.Registry
	delay    time.Duration

	mu          sync.Mutex
	generations map[int]int
	schemas     map[int][]arrowschema.Column
	wg          sync.WaitGroup
}

func newSimulator(ctx context.Context, logger *slog.Logger, store *taskStore, events *broadcaster, registry *tasks.Registry, delay time.Duration) *simulator {
	return &simulator{
		ctx:         ctx,
		logger:      logger,
		store:       store,
		events:      events,
		registry:    registry,
		delay:       delay,
		generations: map[int]int{},
		schemas:     map[int][]arrowschema.Column{},
	}
}

// reset re-evaluates record after it was created or its config changed.
func (s *simulator) reset(record *taskRecord, reason string) {
	s.mu.Lock()
	s.generations[record.ID]++
	gen := s.generations[record.ID]
	delete(s.schemas, record.ID)

	s.events.broadcast(record.ID, "reset", reason)
	s.events.broadcast(record.ID, "schema", nil)
	if s.isMonadic(record.Type) {
		column := record.Config.String("column")
		if column == "" {
			s.events.broadcast(record.ID, "column", nil)
		} else {
			s.events.broadcast(record.ID, "column", column)
		}
	}

	status := statusInvalid
	if s.valid(record) {
		status = statusReady
	}
	s.setStatusLocked(record.ID, status)
	s.mu.Unlock()

	if status == statusReady {
		s.wg.Add(1)
		go s.run(*record, gen)
	}
}

// forget stops any in-flight steps for id.
func (s *simulator) forget(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.generations, id)
	delete(s.schemas, id)
}

func (s *simulator) wait() {
	s.wg.Wait()
}

func (s *simulator) run(record taskRecord, gen int) {
	defer s.wg.Done()

	if !s.step(record.ID, gen, func() { s.setStatusLocked(record.ID, statusWorking) }) {
		return
	}

	columns, err := s.resultSchema(record)
	s.step(record.ID, gen, func() {
		if err != nil {
			s.logger.Warn("Simulated task failed", "task_id", record.ID, "error", err)
			s.setStatusLocked(record.ID, statusError)
			return
		}
		encoded, err := arrowschema.Encode(columns)
		if err != nil {
			s.logger.Error("Failed to encode schema", "task_id", record.ID, "error", err)
			s.setStatusLocked(record.ID, statusError)
			return
		}
		s.schemas[record.ID] = columns
		s.events.broadcast(record.ID, "schema", encoded)
		s.setStatusLocked(record.ID, statusComplete)
	})
}

// step waits one delay and runs apply if gen is still current.
func (s *simulator) step(id int, gen int, apply func()) bool {
	select {
	case <-s.ctx.Done():
		return false
	case <-time.After(s.delay):
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[id] != gen {
		return false
	}
	apply()
	return true
}

func (s *simulator) setStatusLocked(id int, status string) {
	if err := s.store.updateStatus(s.ctx, id, status); err != nil {
		if !errors.Is(err, errTaskNotFound) {
			s.logger.Error("Failed to store task status", "task_id", id, "error", err)
		}
		return
	}
	s.events.broadcast(id, "status", status)
}

func (s *simulator) isMonadic(typeID string) bool {
	return typeID != "loadFile"
}

func (s *simulator) valid(record *taskRecord) bool {
	typ, err := s.registry.Get(record.Type)
	if err != nil {
		return false
	}
	if err := typ.Check(record.Config); err != nil {
		return false
	}
	if s.isMonadic(record.Type) {
		return record.Source != nil
	}
	info, err := os.Stat(record.Config.String("path"))
	return err == nil && info.Mode().IsRegular()
}

func (s *simulator) resultSchema(record taskRecord) ([]arrowschema.Column, error) {
	if s.isMonadic(record.Type) {
		s.mu.Lock()
		columns, ok := s.schemas[*record.Source]
		s.mu.Unlock()
		if !ok {
			return fallbackSchema, nil
		}
		return columns, nil
	}

	path := record.Config.String("path")
	switch record.Config.String("format") {
	case "arrow":
		return arrowschema.ReadFile(path)
	case "csv":
		return csvHeader(path)
	default:
		return fallbackSchema, nil
	}
}

func csvHeader(path string) ([]arrowschema.Column, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	header, err := csv.NewReader(f).Read()
	if err != nil {
		return nil, err
	}
	columns := make([]arrowschema.Column, 0, len(header))
	for _, name := range header {
		columns = append(columns, arrowschema.Column{Name: strings.TrimSpace(name), Type: "utf8"})
	}
	return columns, nil
}
