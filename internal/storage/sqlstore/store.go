package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/lib/pq"           // Postgres driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/TheChickenIsOnFire/Openrouter-AI-Chat-Extension/internal/storage"
)

type SQLStore struct {
	db         *sql.DB
	driverName string
	broker     *storage.Broker
}

var _ storage.Store = (*SQLStore)(nil)

func New(driverName, dataSourceName string) (*SQLStore, error) {
	db, err := sql.Open(driverName, dataSourceName)
	if err != nil {
		return nil, err
	}
	if driverName == "sqlite3" {
		// One connection: ":memory:" databases are per connection, and it
		// avoids "database is locked" under concurrent writers.
		db.SetMaxOpenConns(1)
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}

	s := &SQLStore{db: db, driverName: driverName, broker: storage.NewBroker()}
	if err := s.createTables(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables() error {
	query := `
	CREATE TABLE IF NOT EXISTS kv (
		area TEXT NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (area, name)
	);
	`

	if s.driverName == "postgres" {
		query = strings.ReplaceAll(query, "DATETIME", "TIMESTAMP")
	}

	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	return nil
}

// Helper to handle placeholders
func (s *SQLStore) rebind(query string) string {
	if s.driverName == "postgres" {
		// Replace ? with $1, $2, etc.
		n := strings.Count(query, "?")
		for i := 1; i <= n; i++ {
			query = strings.Replace(query, "?", fmt.Sprintf("$%d", i), 1)
		}
	}
	return query
}

func (s *SQLStore) Get(ctx context.Context, area storage.Area, key string, dst any) (bool, error) {
	var raw string
	query := s.rebind("SELECT value FROM kv WHERE area = ? AND name = ?")
	err := s.db.QueryRowContext(ctx, query, string(area), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, &storage.Error{Op: "get", Key: key, Err: err}
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return false, &storage.Error{Op: "decode", Key: key, Err: err}
	}
	return true, nil
}

func (s *SQLStore) Set(ctx context.Context, area storage.Area, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return &storage.Error{Op: "encode", Key: key, Err: err}
	}
	query := s.rebind(`
		INSERT INTO kv (area, name, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (area, name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`)
	if _, err := s.db.ExecContext(ctx, query, string(area), key, string(raw)); err != nil {
		return &storage.Error{Op: "set", Key: key, Err: err}
	}
	s.broker.Publish(storage.Change{Area: area, Key: key})
	return nil
}

func (s *SQLStore) SetIfAbsent(ctx context.Context, area storage.Area, key string, value any) (bool, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return false, &storage.Error{Op: "encode", Key: key, Err: err}
	}
	query := s.rebind(`
		INSERT INTO kv (area, name, value, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (area, name) DO NOTHING
	`)
	result, err := s.db.ExecContext(ctx, query, string(area), key, string(raw))
	if err != nil {
		return false, &storage.Error{Op: "set-if-absent", Key: key, Err: err}
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, &storage.Error{Op: "set-if-absent", Key: key, Err: err}
	}
	if rows == 0 {
		return false, nil
	}
	s.broker.Publish(storage.Change{Area: area, Key: key})
	return true, nil
}

func (s *SQLStore) Remove(ctx context.Context, area storage.Area, keys ...string) error {
	query := s.rebind("DELETE FROM kv WHERE area = ? AND name = ?")
	for _, key := range keys {
		if _, err := s.db.ExecContext(ctx, query, string(area), key); err != nil {
			return &storage.Error{Op: "remove", Key: key, Err: err}
		}
		s.broker.Publish(storage.Change{Area: area, Key: key})
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, area storage.Area) error {
	query := s.rebind("DELETE FROM kv WHERE area = ?")
	if _, err := s.db.ExecContext(ctx, query, string(area)); err != nil {
		return &storage.Error{Op: "clear", Err: err}
	}
	s.broker.Publish(storage.Change{Area: area, Cleared: true})
	return nil
}

func (s *SQLStore) Keys(ctx context.Context, area storage.Area) ([]string, error) {
	query := s.rebind("SELECT name FROM kv WHERE area = ? ORDER BY name")
	rows, err := s.db.QueryContext(ctx, query, string(area))
	if err != nil {
		return nil, &storage.Error{Op: "keys", Err: err}
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, &storage.Error{Op: "keys", Err: err}
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, &storage.Error{Op: "keys", Err: err}
	}
	return keys, nil
}

func (s *SQLStore) Subscribe() (<-chan storage.Change, func()) {
	return s.broker.Subscribe()
}

func (s *SQLStore) Watch(match func(storage.Change) bool) (<-chan struct{}, func()) {
	return s.broker.Watch(match)
}

func (s *SQLStore) Close() error {
	s.broker.CloseAll()
	return s.db.Close()
}
