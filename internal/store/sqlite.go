package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 1 - nodes and universes tables
const currentSchemaVersion = 1

// SQLite is a Backend storing each table in its own SQLite table within a
// single database file.
type SQLite struct {
	db *sql.DB
}

var _ Backend = (*SQLite)(nil)

// sqliteParams are applied by the driver to every connection it opens.
const sqliteParams = "_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"

// OpenSQLite creates or opens a SQLite database at path.
//
// Every connection is configured with:
//   - WAL mode for concurrent reads during writes
//   - FULL synchronous mode so a write is durable once Put returns
//   - 5-second busy timeout for lock contention
//
// Opening is idempotent. A database stamped with a newer schema version
// than this build understands is refused.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?"+sqliteParams)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	// SQLite supports one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Table implements Backend.
func (s *SQLite) Table(name string) (KV, error) {
	if !knownTable(name) {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return &sqliteTable{
		db:     s.db,
		name:   name,
		get:    fmt.Sprintf("SELECT payload FROM %s WHERE id = ?", name),
		put:    fmt.Sprintf("INSERT INTO %s (id, payload) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET payload = excluded.payload", name),
		delete: fmt.Sprintf("DELETE FROM %s WHERE id = ?", name),
		keys:   fmt.Sprintf("SELECT id FROM %s ORDER BY id COLLATE BINARY", name),
	}, nil
}

func applySchema(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// sqliteTable is one table of a SQLite backend. Statements are built once
// from a name checked against Tables.
type sqliteTable struct {
	db     *sql.DB
	name   string
	get    string
	put    string
	delete string
	keys   string
}

func (t *sqliteTable) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload string
	err := t.db.QueryRowContext(ctx, t.get, key).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Unavailable("get", t.name, key, err)
	}
	return []byte(payload), true, nil
}

func (t *sqliteTable) Put(ctx context.Context, key string, value []byte) error {
	if _, err := t.db.ExecContext(ctx, t.put, key, string(value)); err != nil {
		return Unavailable("put", t.name, key, err)
	}
	return nil
}

func (t *sqliteTable) Delete(ctx context.Context, key string) error {
	if _, err := t.db.ExecContext(ctx, t.delete, key); err != nil {
		return Unavailable("delete", t.name, key, err)
	}
	return nil
}

func (t *sqliteTable) Keys(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, t.keys)
	if err != nil {
		return nil, Unavailable("keys", t.name, "", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, Unavailable("keys", t.name, "", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, Unavailable("keys", t.name, "", err)
	}
	return keys, nil
}
