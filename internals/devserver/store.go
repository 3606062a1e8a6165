package devserver

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"

	"github.com/Oudwins/somedaex/internals/tasks"
)

//go:embed migrations/*.sql
var migrations embed.FS

var errTaskNotFound = errors.New("task not found")

type taskStore struct {
	db *sql.DB
}

type taskRecord struct {
	ID        int
	Type      string
	Status    string
	Source    *int
	Config    tasks.Config
	CreatedAt string
}

// MarshalJSON renders the record the way the backend reports tasks: config
// keys flattened next to id, type, status and source.
func (r taskRecord) MarshalJSON() ([]byte, error) {
	body := make(map[string]any, len(r.Config)+4)
	for key, value := range r.Config {
		body[key] = value
	}
	body["id"] = r.ID
	body["type"] = r.Type
	body["status"] = r.Status
	if r.Source != nil {
		body["source"] = *r.Source
	} else {
		body["source"] = nil
	}
	return json.Marshal(body)
}

func newTaskStore(ctx context.Context, dbPath string) (*taskStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	// every connection to :memory: is its own database
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}

	store := &taskStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *taskStore) migrate(ctx context.Context) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return err
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, s.db, fsys)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

func (s *taskStore) close() error {
	return s.db.Close()
}

func (s *taskStore) create(ctx context.Context, taskType string, source *int, config tasks.Config) (*taskRecord, error) {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return nil, fmt.Errorf("failed to encode task config: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var id int
	if err := tx.QueryRowContext(ctx, `SELECT next FROM task_ids`).Scan(&id); err != nil {
		return nil, err
	}
	if _, err := tx.ExecContext(ctx, `UPDATE task_ids SET next = ?`, id+1); err != nil {
		return nil, err
	}

	record := &taskRecord{
		ID:        id,
		Type:      taskType,
		Status:    "invalid",
		Source:    source,
		Config:    config,
		CreatedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO tasks (id, type, status, source, config_json, created_at)
VALUES (?, ?, ?, ?, ?, ?)
`, record.ID, record.Type, record.Status, nullableInt(source), string(configJSON), record.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return record, nil
}

func (s *taskStore) get(ctx context.Context, id int) (*taskRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, type, status, source, config_json, created_at
FROM tasks
WHERE id = ?
`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errTaskNotFound
	}
	return record, err
}

func (s *taskStore) list(ctx context.Context) ([]taskRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, type, status, source, config_json, created_at
FROM tasks
ORDER BY id
`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []taskRecord{}
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

func (s *taskStore) exists(ctx context.Context, id int) (bool, error) {
	var found int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM tasks WHERE id = ?`, id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *taskStore) updateConfig(ctx context.Context, id int, source *int, config tasks.Config) error {
	configJSON, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to encode task config: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE tasks SET source = ?, config_json = ? WHERE id = ?
`, nullableInt(source), string(configJSON), id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (s *taskStore) updateStatus(ctx context.Context, id int, status string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

func (s *taskStore) delete(ctx context.Context, id int) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectRow(result)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*taskRecord, error) {
	var record taskRecord
	var source sql.NullInt64
	var configJSON string
	if err := row.Scan(&record.ID, &record.Type, &record.Status, &source, &configJSON, &record.CreatedAt); err != nil {
		return nil, err
	}
	if source.Valid {
		value := int(source.Int64)
		record.Source = &value
	}
	record.Config = tasks.Config{}
	if err := json.Unmarshal([]byte(configJSON), &record.Config); err != nil {
		return nil, fmt.Errorf("failed to decode task config: %w", err)
	}
	return &record, nil
}

func expectRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return errTaskNotFound
	}
	return nil
}

func nullableInt(value *int) any {
	if value == nil {
		return nil
	}
	return *value
}
