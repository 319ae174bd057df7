package handle

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_RoundTrip(t *testing.T) {
	h := New()
	parsed, err := Parse(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse("not-a-handle")
	assert.Error(t, err)
}

func TestHandle_ZeroValue(t *testing.T) {
	var h Handle
	assert.True(t, h.IsZero())
	assert.Equal(t, "", h.String())
	assert.False(t, New().IsZero())
}

func TestHandle_JSON(t *testing.T) {
	type wrapper struct {
		ID     Handle `json:"id"`
		Parent Handle `json:"parent,omitzero"`
	}

	h := MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	data, err := json.Marshal(wrapper{ID: h})
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8"}`, string(data))

	var out wrapper
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, h, out.ID)
	assert.True(t, out.Parent.IsZero())

	require.NoError(t, json.Unmarshal([]byte(`{"id":"","parent":""}`), &out))
	assert.True(t, out.ID.IsZero())

	assert.Error(t, json.Unmarshal([]byte(`{"id":"zzz"}`), &out))
}

func TestHandle_MapKey(t *testing.T) {
	a := MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	b := MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	m := map[Handle]int{a: 1}
	assert.Equal(t, 1, m[b])
}

func TestFixedGenerator_Sequence(t *testing.T) {
	gen := NewFixedGenerator(1)

	assert.Equal(t, "00000000-0000-4000-8000-000100000001", gen.Next().String())
	assert.Equal(t, "00000000-0000-4000-8000-000100000002", gen.Next().String())
	assert.Equal(t, 2, gen.Count())
	assert.Equal(t, Sequential(1, 3), gen.Next())
}

func TestFixedGenerator_PrefixesDoNotCollide(t *testing.T) {
	a := NewFixedGenerator(1)
	b := NewFixedGenerator(2)
	assert.NotEqual(t, a.Next(), b.Next())
}

func TestFixedGenerator_Concurrent(t *testing.T) {
	gen := NewFixedGenerator(7)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[Handle]bool)
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				h := gen.Next()
				mu.Lock()
				seen[h] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 400)
}

func TestUUIDv4Generator_Unique(t *testing.T) {
	var gen UUIDv4Generator
	assert.NotEqual(t, gen.Next(), gen.Next())
}
