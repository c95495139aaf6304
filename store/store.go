package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/angelstreet/virtualpytest-sub004/config"
)

// ErrNotFound is returned by Update and Delete when no record has the id.
var ErrNotFound = errors.New("record not found")

// Record is a JSON object stored under a table name. The "id" field is
// always present once stored.
type Record map[string]interface{}

// ID returns the record id, or "".
func (r Record) ID() string {
	if id, ok := r["id"].(string); ok {
		return id
	}
	return ""
}

// RecordStore is the narrow persistence surface the controllers and
// executors need. Filters in Select are gjson paths compared by string value.
type RecordStore interface {
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table, id string, fields Record) (Record, error)
	Select(ctx context.Context, table string, filters map[string]string, limit int) ([]Record, error)
	Upsert(ctx context.Context, table string, rec Record) (Record, error)
	Delete(ctx context.Context, table, id string) error
}

// SQLiteStore keeps records as JSON rows in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
	mu  sync.Mutex
}

// Open creates or opens the database at path.
func Open(path string) (*SQLiteStore, error) {
	db, err := config.InitDatabase(path)
	if err != nil {
		return nil, err
	}
	return New(db), nil
}

// New wraps an already-migrated database.
func New(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert stores rec under a new id unless rec already carries one.
func (s *SQLiteStore) Insert(ctx context.Context, table string, rec Record) (Record, error) {
	out := copyRecord(rec)
	if out.ID() == "" {
		out["id"] = uuid.New().String()
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}

	ts := s.now().UnixMilli()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO records (table_name, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		table, out.ID(), string(data), ts, ts)
	if err != nil {
		return nil, fmt.Errorf("insert into %s failed: %w", table, err)
	}
	return out, nil
}

// Update merges fields into an existing record.
func (s *SQLiteStore) Update(ctx context.Context, table, id string, fields Record) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, table, id)
	if err != nil {
		return nil, err
	}
	for k, v := range fields {
		if k == "id" {
			continue
		}
		existing[k] = v
	}
	if err := s.write(ctx, table, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Upsert inserts rec, or merges it into the record with the same id.
func (s *SQLiteStore) Upsert(ctx context.Context, table string, rec Record) (Record, error) {
	if rec.ID() == "" {
		return s.Insert(ctx, table, rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.get(ctx, table, rec.ID())
	if errors.Is(err, ErrNotFound) {
		return s.Insert(ctx, table, rec)
	}
	if err != nil {
		return nil, err
	}
	for k, v := range rec {
		existing[k] = v
	}
	if err := s.write(ctx, table, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Select returns records of table whose gjson path values equal the filter
// values, newest first. limit <= 0 means no limit.
func (s *SQLiteStore) Select(ctx context.Context, table string, filters map[string]string, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT data FROM records WHERE table_name = ? ORDER BY created_at DESC, rowid DESC`, table)
	if err != nil {
		return nil, fmt.Errorf("select from %s failed: %w", table, err)
	}
	defer rows.Close()

	var results []Record
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		if !matches(data, filters) {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("corrupt record in %s: %w", table, err)
		}
		results = append(results, rec)
		if limit > 0 && len(results) >= limit {
			break
		}
	}
	return results, rows.Err()
}

// Delete removes the record with id.
func (s *SQLiteStore) Delete(ctx context.Context, table, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE table_name = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("delete from %s failed: %w", table, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) get(ctx context.Context, table, id string) (Record, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM records WHERE table_name = ? AND id = ?`, table, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("corrupt record in %s: %w", table, err)
	}
	return rec, nil
}

func (s *SQLiteStore) write(ctx context.Context, table string, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE records SET data = ?, updated_at = ? WHERE table_name = ? AND id = ?`,
		string(data), s.now().UnixMilli(), table, rec.ID())
	return err
}

func matches(data string, filters map[string]string) bool {
	for path, want := range filters {
		if gjson.Get(data, path).String() != want {
			return false
		}
	}
	return true
}

func copyRecord(rec Record) Record {
	out := make(Record, len(rec)+1)
	for k, v := range rec {
		out[k] = v
	}
	return out
}
