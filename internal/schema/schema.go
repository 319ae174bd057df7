// Package schema holds the CUE definitions for request bodies accepted by
// the node endpoints. It validates raw JSON against them and renders them
// as an OpenAPI document.
package schema

import (
	_ "embed"
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	cuejson "cuelang.org/go/encoding/json"
	"cuelang.org/go/encoding/openapi"
)

//go:embed patch.cue
var source string

// Definition names exported by patch.cue.
const (
	DefAdvanceRequest = "#AdvanceRequest"
	DefBranchRequest  = "#BranchRequest"
	DefUpdateRequest  = "#UpdateRequest"
	DefBranchParams   = "#BranchParams"
)

// ValidationError describes the first violation found in a request body.
type ValidationError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Schema is a compiled patch.cue. CUE values are not safe for concurrent
// use, so every evaluation holds mu.
type Schema struct {
	mu    sync.Mutex
	ctx   *cue.Context
	value cue.Value
}

// New compiles the embedded schema.
func New() (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(source, cue.Filename("patch.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile patch schema: %w", err)
	}
	return &Schema{ctx: ctx, value: v}, nil
}

// MustNew is like New but panics on error. The schema is embedded, so an
// error here is a build defect.
func MustNew() *Schema {
	s, err := New()
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks data against the named definition.
func (s *Schema) Validate(def string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := s.value.LookupPath(cue.ParsePath(def))
	if !d.Exists() {
		return fmt.Errorf("schema: unknown definition %s", def)
	}
	expr, err := cuejson.Extract("request", data)
	if err != nil {
		return &ValidationError{Message: "body is not valid JSON"}
	}
	v := s.ctx.BuildExpr(expr)
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := d.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// ValidateAdvance checks an advance request body.
func (s *Schema) ValidateAdvance(data []byte) error {
	return s.Validate(DefAdvanceRequest, data)
}

// ValidateBranch checks a branch request body.
func (s *Schema) ValidateBranch(data []byte) error {
	return s.Validate(DefBranchRequest, data)
}

// ValidateUpdate checks a patch request body.
func (s *Schema) ValidateUpdate(data []byte) error {
	return s.Validate(DefUpdateRequest, data)
}

// OpenAPI renders the definitions as an OpenAPI 3 document.
func (s *Schema) OpenAPI() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := openapi.Gen(s.value, &openapi.Config{ExpandReferences: true})
	if err != nil {
		return nil, fmt.Errorf("generate openapi: %w", err)
	}
	return b, nil
}

// formatCUEError keeps the first CUE error with its path.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Message: err.Error()}
	}
	first := errs[0]
	field := strings.Join(first.Path(), ".")
	ve := &ValidationError{
		Field:   field,
		Message: strings.TrimPrefix(first.Error(), field+": "),
	}
	if pos := errors.Positions(first); len(pos) > 0 {
		ve.Pos = pos[0]
	}
	return ve
}
