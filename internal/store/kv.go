package store

import "context"

// Table names. Each is an independent keyspace.
const (
	TableNodes     = "nodes"
	TableUniverses = "universes"
)

// Tables lists every table a backend must provide.
var Tables = []string{TableNodes, TableUniverses}

// KV is a byte-level key-value table.
//
// Get reports a missing key as (nil, false, nil). Put is an upsert.
// Delete of a missing key succeeds. Keys returns keys in ascending byte
// order.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Backend owns the tables of one database.
type Backend interface {
	// Table returns the named table. Unknown names are an error.
	Table(name string) (KV, error)
	Close() error
}

func knownTable(name string) bool {
	for _, t := range Tables {
		if t == name {
			return true
		}
	}
	return false
}
