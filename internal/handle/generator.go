package handle

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"
)

// Generator mints fresh handles.
// Implemented by UUIDv4Generator (production) and FixedGenerator (tests).
type Generator interface {
	Next() Handle
}

// UUIDv4Generator mints random handles.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv4Generator struct{}

// Next returns a new random Handle.
func (UUIDv4Generator) Next() Handle {
	return New()
}

// FixedGenerator mints a deterministic sequence of handles.
//
// Handles have the form 00000000-0000-4000-8000-<prefix><counter>, where
// the counter starts at 1. The same generator configuration always yields
// the same sequence, which keeps scenario snapshots byte-identical.
//
// Thread-safety: safe for concurrent use via internal mutex.
type FixedGenerator struct {
	mu     sync.Mutex
	prefix uint16
	n      uint32
}

// NewFixedGenerator creates a generator whose handles carry prefix in
// their final group, so two generators never collide when prefixes differ.
func NewFixedGenerator(prefix uint16) *FixedGenerator {
	return &FixedGenerator{prefix: prefix}
}

// Next returns the next handle in the sequence.
func (g *FixedGenerator) Next() Handle {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.n++
	return Sequential(g.prefix, g.n)
}

// Count returns the number of handles minted so far.
func (g *FixedGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return int(g.n)
}

// Sequential builds the n-th handle of a FixedGenerator with the given
// prefix without consuming a generator.
func Sequential(prefix uint16, n uint32) Handle {
	var u uuid.UUID
	u[6] = 0x40 // version 4
	u[8] = 0x80 // RFC 4122 variant
	binary.BigEndian.PutUint16(u[10:12], prefix)
	binary.BigEndian.PutUint32(u[12:16], n)
	return Handle{id: u}
}
