package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
)

// ObjectStore persists values of one payload type keyed by handle.
type ObjectStore[T any] interface {
	// Get returns the value stored at h. found is false when h is absent.
	Get(ctx context.Context, h handle.Handle) (v T, found bool, err error)

	// Save stores v under a freshly minted handle and returns it.
	Save(ctx context.Context, v T) (handle.Handle, error)

	// SaveHandle stores v at h, replacing any previous value.
	SaveHandle(ctx context.Context, v T, h handle.Handle) error

	// Delete removes h. Deleting an absent handle is not an error.
	Delete(ctx context.Context, h handle.Handle) error

	// Handles lists every stored handle.
	Handles(ctx context.Context) ([]handle.Handle, error)
}

// Objects is the JSON-encoded ObjectStore over a KV table.
type Objects[T any] struct {
	kv    KV
	table string
	gen   handle.Generator
}

var _ ObjectStore[struct{}] = (*Objects[struct{}])(nil)

// NewObjects wraps kv. gen mints handles for Save; nil means random
// handles.
func NewObjects[T any](kv KV, table string, gen handle.Generator) *Objects[T] {
	if gen == nil {
		gen = handle.UUIDv4Generator{}
	}
	return &Objects[T]{kv: kv, table: table, gen: gen}
}

// OpenObjects looks up table on b and wraps it.
func OpenObjects[T any](b Backend, table string, gen handle.Generator) (*Objects[T], error) {
	kv, err := b.Table(table)
	if err != nil {
		return nil, err
	}
	return NewObjects[T](kv, table, gen), nil
}

// Get implements ObjectStore.
func (o *Objects[T]) Get(ctx context.Context, h handle.Handle) (T, bool, error) {
	var zero T
	key := h.String()

	data, found, err := o.kv.Get(ctx, key)
	if err != nil {
		return zero, false, o.wrap("get", key, err)
	}
	if !found {
		return zero, false, nil
	}

	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return zero, false, Malformed("decode", o.table, key, err)
	}
	return v, true, nil
}

// Save implements ObjectStore.
func (o *Objects[T]) Save(ctx context.Context, v T) (handle.Handle, error) {
	h := o.gen.Next()
	if err := o.SaveHandle(ctx, v, h); err != nil {
		return handle.Nil, err
	}
	return h, nil
}

// SaveHandle implements ObjectStore.
func (o *Objects[T]) SaveHandle(ctx context.Context, v T, h handle.Handle) error {
	if h.IsZero() {
		return Malformed("put", o.table, "", fmt.Errorf("zero handle"))
	}
	key := h.String()

	data, err := json.Marshal(v)
	if err != nil {
		return Malformed("encode", o.table, key, err)
	}
	if err := o.kv.Put(ctx, key, data); err != nil {
		return o.wrap("put", key, err)
	}
	return nil
}

// Delete implements ObjectStore.
func (o *Objects[T]) Delete(ctx context.Context, h handle.Handle) error {
	key := h.String()
	if err := o.kv.Delete(ctx, key); err != nil {
		return o.wrap("delete", key, err)
	}
	return nil
}

// Handles implements ObjectStore.
func (o *Objects[T]) Handles(ctx context.Context) ([]handle.Handle, error) {
	keys, err := o.kv.Keys(ctx)
	if err != nil {
		return nil, o.wrap("keys", "", err)
	}

	handles := make([]handle.Handle, 0, len(keys))
	for _, k := range keys {
		h, err := handle.Parse(k)
		if err != nil {
			return nil, Malformed("keys", o.table, k, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

// wrap tags backend errors as unavailable unless they are already typed.
func (o *Objects[T]) wrap(op, key string, err error) error {
	if _, ok := err.(*Error); ok {
		return err
	}
	return Unavailable(op, o.table, key, err)
}
