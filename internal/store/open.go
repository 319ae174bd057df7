package store

import (
	"fmt"
	"log/slog"
)

// Backend kinds accepted by Open.
const (
	KindSQLite = "sqlite"
	KindBadger = "badger"
	KindMemory = "memory"
)

// Config selects and configures a backend.
type Config struct {
	// Kind is one of KindSQLite, KindBadger or KindMemory.
	Kind string

	// Path is the SQLite file or Badger directory.
	Path string

	// Logger is passed to backends that log internally.
	Logger *slog.Logger
}

// Open returns the backend described by cfg.
func Open(cfg Config) (Backend, error) {
	switch cfg.Kind {
	case KindSQLite, "":
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite backend requires a path")
		}
		return OpenSQLite(cfg.Path)
	case KindBadger:
		bc := DefaultBadgerConfig(cfg.Path)
		bc.Logger = cfg.Logger
		return OpenBadger(bc)
	case KindMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Kind)
	}
}
