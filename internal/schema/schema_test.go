package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_CompilesEmbeddedSchema(t *testing.T) {
	s, err := New()
	require.NoError(t, err)
	require.NotNil(t, s)
}

func TestValidateBranch(t *testing.T) {
	s := MustNew()

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{
			name: "full patch",
			body: `{"duration": 3, "patches": [{
				"target_body": "00000000-0000-4000-8000-000100000001",
				"position": {"x": 1, "y": 2.5, "z": -3},
				"d_velocity": {"x": 0, "y": 0, "z": 0.1},
				"mass": 5, "d_mass": -1}]}`,
		},
		{name: "no patches", body: `{"duration": 0, "patches": []}`},
		{name: "patches omitted", body: `{"duration": 1}`},
		{name: "new body without target", body: `{"duration": 1, "patches": [{"mass": 1}]}`},
		{name: "negative duration", body: `{"duration": -1, "patches": []}`, wantErr: true},
		{name: "fractional duration", body: `{"duration": 1.5}`, wantErr: true},
		{name: "missing duration", body: `{"patches": []}`, wantErr: true},
		{name: "unknown patch field", body: `{"duration": 1, "patches": [{"spin": 1}]}`, wantErr: true},
		{name: "unknown top level field", body: `{"duration": 1, "extra": true}`, wantErr: true},
		{name: "bad handle", body: `{"duration": 1, "patches": [{"target_body": "nope"}]}`, wantErr: true},
		{name: "vector missing component", body: `{"duration": 1, "patches": [{"velocity": {"x": 1, "y": 2}}]}`, wantErr: true},
		{name: "string mass", body: `{"duration": 1, "patches": [{"mass": "heavy"}]}`, wantErr: true},
		{name: "not json", body: `{"duration":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.ValidateBranch([]byte(tt.body))
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var ve *ValidationError
			assert.ErrorAs(t, err, &ve)
		})
	}
}

func TestValidateAdvance(t *testing.T) {
	s := MustNew()

	assert.NoError(t, s.ValidateAdvance([]byte(`{"duration": 10}`)))
	assert.Error(t, s.ValidateAdvance([]byte(`{"duration": -2}`)))
	assert.Error(t, s.ValidateAdvance([]byte(`{}`)))
	assert.Error(t, s.ValidateAdvance([]byte(`{"duration": 1, "patches": []}`)))
}

func TestValidateUpdate(t *testing.T) {
	s := MustNew()

	assert.NoError(t, s.ValidateUpdate([]byte(`{"patches": [{"d_position": {"x": 5, "y": 0, "z": 0}}]}`)))
	assert.NoError(t, s.ValidateUpdate([]byte(`{"patches": []}`)))
	assert.Error(t, s.ValidateUpdate([]byte(`{"patches": [{"d_mas": 1}]}`)))
	assert.Error(t, s.ValidateUpdate([]byte(`{"duration": 1, "patches": []}`)))
}

func TestValidate_ReportsFieldPath(t *testing.T) {
	s := MustNew()

	err := s.ValidateBranch([]byte(`{"duration": 1, "patches": [{"mass": "heavy"}]}`))
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Contains(t, ve.Field, "mass")
	assert.NotEmpty(t, ve.Message)
}

func TestValidate_UnknownDefinition(t *testing.T) {
	s := MustNew()
	err := s.Validate("#Nope", []byte(`{}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown definition")
}

func TestOpenAPI(t *testing.T) {
	s := MustNew()

	b, err := s.OpenAPI()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Contains(t, doc, "openapi")

	components, ok := doc["components"].(map[string]any)
	require.True(t, ok, "components section")
	schemas, ok := components["schemas"].(map[string]any)
	require.True(t, ok, "schemas section")
	assert.Contains(t, schemas, "BranchParams")
	assert.Contains(t, schemas, "BranchRequest")
}

func TestValidate_ConcurrentUse(t *testing.T) {
	s := MustNew()
	done := make(chan error, 8)
	for range 8 {
		go func() {
			done <- s.ValidateBranch([]byte(`{"duration": 2, "patches": [{"mass": 1}]}`))
		}()
	}
	for range 8 {
		assert.NoError(t, <-done)
	}
}
