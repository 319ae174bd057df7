package api

import (
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
)

// MaxPatchesPerRequest bounds the patch list of a single request.
const MaxPatchesPerRequest = 1024

// Error codes returned in ErrorResponse.Code.
const (
	CodeInvalidHandle    = "INVALID_HANDLE"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNodeNotFound     = "NODE_NOT_FOUND"
	CodeMalformedData    = "MALFORMED_DATA"
	CodeStoreUnavailable = "STORE_UNAVAILABLE"
	CodeOwnerUnavailable = "OWNER_UNAVAILABLE"
	CodeNonFiniteState   = "NON_FINITE_STATE"
	CodeInternal         = "INTERNAL_ERROR"
)

// AdvanceRequest is the body of POST /v1/nodes/:id/advance.
type AdvanceRequest struct {
	// Duration is the number of ticks to advance. Required.
	Duration *int `json:"duration" validate:"required,gte=0"`
}

// BranchRequest is the body of POST /v1/nodes/:id/branch.
type BranchRequest struct {
	Duration *int                      `json:"duration" validate:"required,gte=0"`
	Patches  []multiverse.BranchParams `json:"patches" validate:"max=1024"`
}

// UpdateRequest is the body of POST /v1/nodes/:id/patches.
type UpdateRequest struct {
	Patches []multiverse.BranchParams `json:"patches" validate:"max=1024"`
}

// Ack acknowledges a mutation.
type Ack struct {
	Status string        `json:"status"`
	Handle handle.Handle `json:"handle"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	// Error is a human-readable message.
	Error string `json:"error"`

	// Code is one of the Code* constants.
	Code string `json:"code"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Root    string `json:"root"`
}
