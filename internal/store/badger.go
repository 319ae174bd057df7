package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a Badger backend.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps everything in RAM. Used by tests.
	InMemory bool

	// SyncWrites makes every write durable before it returns.
	SyncWrites bool

	// Logger receives Badger's internal logs. Nil disables them.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable on-disk configuration.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// Badger is a Backend storing every table in one Badger database, with
// the table name as key prefix.
type Badger struct {
	db *badger.DB
}

var _ Backend = (*Badger)(nil)

// badgerLogger adapts slog.Logger to badger.Logger.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenBadger opens (creating if needed) a Badger database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &Badger{db: db}, nil
}

// Close closes the database.
func (b *Badger) Close() error {
	return b.db.Close()
}

// Table implements Backend.
func (b *Badger) Table(name string) (KV, error) {
	if !knownTable(name) {
		return nil, fmt.Errorf("unknown table %q", name)
	}
	return &badgerTable{db: b.db, name: name, prefix: []byte(name + "/")}, nil
}

type badgerTable struct {
	db     *badger.DB
	name   string
	prefix []byte
}

func (t *badgerTable) key(k string) []byte {
	out := make([]byte, 0, len(t.prefix)+len(k))
	out = append(out, t.prefix...)
	return append(out, k...)
}

func (t *badgerTable) Get(_ context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(t.key(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, Unavailable("get", t.name, key, err)
	}
	return value, true, nil
}

func (t *badgerTable) Put(_ context.Context, key string, value []byte) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Set(t.key(key), value)
	})
	if err != nil {
		return Unavailable("put", t.name, key, err)
	}
	return nil
}

func (t *badgerTable) Delete(_ context.Context, key string) error {
	err := t.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(t.key(key))
	})
	if err != nil {
		return Unavailable("delete", t.name, key, err)
	}
	return nil
}

func (t *badgerTable) Keys(_ context.Context) ([]string, error) {
	var keys []string
	err := t.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = t.prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(t.prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			keys = append(keys, string(k[len(t.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, Unavailable("keys", t.name, "", err)
	}
	return keys, nil
}
