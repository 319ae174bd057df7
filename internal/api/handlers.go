// Package api serves the multiverse over HTTP with gin.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/GrigorianNick/multiverse-simulator/internal/canon"
	"github.com/GrigorianNick/multiverse-simulator/internal/handle"
	"github.com/GrigorianNick/multiverse-simulator/internal/manager"
	"github.com/GrigorianNick/multiverse-simulator/internal/multiverse"
	"github.com/GrigorianNick/multiverse-simulator/internal/physics"
	"github.com/GrigorianNick/multiverse-simulator/internal/schema"
	"github.com/GrigorianNick/multiverse-simulator/internal/store"
)

// maxBodyBytes caps request bodies read by the POST handlers.
const maxBodyBytes = 4 << 20

// Service is the command surface the handlers drive. *manager.Client
// implements it.
type Service interface {
	Root() handle.Handle
	Advance(ctx context.Context, h handle.Handle, duration int) (handle.Handle, error)
	Branch(ctx context.Context, h handle.Handle, duration int, patches []multiverse.BranchParams) (handle.Handle, error)
	Update(ctx context.Context, h handle.Handle, patches []multiverse.BranchParams) error
	GetUniverse(ctx context.Context, h handle.Handle) (physics.Universe, bool, error)
	GetNode(ctx context.Context, h handle.Handle) (multiverse.Node, bool, error)
	GetNodes(ctx context.Context) ([]handle.Handle, error)
	GetTimeline(ctx context.Context, h handle.Handle) ([]physics.Universe, bool, error)
	GetChildren(ctx context.Context, h handle.Handle) (multiverse.Links, bool, error)
}

var _ Service = (*manager.Client)(nil)

// Handlers contains the HTTP handlers for the node API.
type Handlers struct {
	svc      Service
	schema   *schema.Schema
	validate *validator.Validate
	version  string
}

// NewHandlers creates handlers for svc.
func NewHandlers(svc Service, s *schema.Schema, version string) *Handlers {
	return &Handlers{
		svc:      svc,
		schema:   s,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		version:  version,
	}
}

// HandleListNodes handles GET /v1/nodes.
func (h *Handlers) HandleListNodes(c *gin.Context) {
	logger := requestLogger(c, "HandleListNodes")

	handles, err := h.svc.GetNodes(c.Request.Context())
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.JSON(http.StatusOK, handles)
}

// HandleGetNode handles GET /v1/nodes/:id.
func (h *Handlers) HandleGetNode(c *gin.Context) {
	logger := requestLogger(c, "HandleGetNode")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	node, found, err := h.svc.GetNode(c.Request.Context(), id)
	if !respondFound(c, logger, id, found, err) {
		return
	}
	c.JSON(http.StatusOK, node)
}

// HandleGetUniverse handles GET /v1/nodes/:id/universe.
//
// The ETag is the universe's content fingerprint, so a client polling a
// node sees 304 until an update upstream changes its state.
func (h *Handlers) HandleGetUniverse(c *gin.Context) {
	logger := requestLogger(c, "HandleGetUniverse")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	u, found, err := h.svc.GetUniverse(c.Request.Context(), id)
	if !respondFound(c, logger, id, found, err) {
		return
	}

	body, err := canon.Marshal(u)
	if err != nil {
		writeError(c, logger, fmt.Errorf("encode universe: %w", err))
		return
	}
	etag := `"` + canon.Sum(canon.DomainUniverse, body) + `"`
	c.Header("ETag", etag)
	if c.GetHeader("If-None-Match") == etag {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", body)
}

// HandleGetTimeline handles GET /v1/nodes/:id/timeline.
func (h *Handlers) HandleGetTimeline(c *gin.Context) {
	logger := requestLogger(c, "HandleGetTimeline")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	timeline, found, err := h.svc.GetTimeline(c.Request.Context(), id)
	if !respondFound(c, logger, id, found, err) {
		return
	}
	c.JSON(http.StatusOK, timeline)
}

// HandleGetChildren handles GET /v1/nodes/:id/children.
func (h *Handlers) HandleGetChildren(c *gin.Context) {
	logger := requestLogger(c, "HandleGetChildren")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	links, found, err := h.svc.GetChildren(c.Request.Context(), id)
	if !respondFound(c, logger, id, found, err) {
		return
	}
	c.JSON(http.StatusOK, links)
}

// HandleAdvance handles POST /v1/nodes/:id/advance.
//
// Response:
//
//	201 Created: Ack with the successor's handle
//	400 Bad Request: malformed handle or body
//	404 Not Found: unknown node
func (h *Handlers) HandleAdvance(c *gin.Context) {
	logger := requestLogger(c, "HandleAdvance")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	var req AdvanceRequest
	if !h.bind(c, logger, h.schema.ValidateAdvance, &req) {
		return
	}

	next, err := h.svc.Advance(c.Request.Context(), id, *req.Duration)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("node advanced", "node", id.String(), "successor", next.String(), "duration", *req.Duration)
	c.JSON(http.StatusCreated, Ack{Status: "created", Handle: next})
}

// HandleBranch handles POST /v1/nodes/:id/branch.
//
// Response:
//
//	201 Created: Ack with the child's handle
//	400 Bad Request: malformed handle or body
//	404 Not Found: unknown node
func (h *Handlers) HandleBranch(c *gin.Context) {
	logger := requestLogger(c, "HandleBranch")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	var req BranchRequest
	if !h.bind(c, logger, h.schema.ValidateBranch, &req) {
		return
	}

	child, err := h.svc.Branch(c.Request.Context(), id, *req.Duration, req.Patches)
	if err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("node branched", "node", id.String(), "child", child.String(), "patches", len(req.Patches))
	c.JSON(http.StatusCreated, Ack{Status: "created", Handle: child})
}

// HandleUpdate handles POST /v1/nodes/:id/patches.
//
// The patches are appended to the node and every state derived from it is
// recomputed on next read.
func (h *Handlers) HandleUpdate(c *gin.Context) {
	logger := requestLogger(c, "HandleUpdate")
	id, ok := parseHandle(c, logger)
	if !ok {
		return
	}

	var req UpdateRequest
	if !h.bind(c, logger, h.schema.ValidateUpdate, &req) {
		return
	}

	if err := h.svc.Update(c.Request.Context(), id, req.Patches); err != nil {
		writeError(c, logger, err)
		return
	}
	logger.Info("node updated", "node", id.String(), "patches", len(req.Patches))
	c.JSON(http.StatusOK, Ack{Status: "updated", Handle: id})
}

// HandlePatchSchema handles GET /v1/schema/patch.
func (h *Handlers) HandlePatchSchema(c *gin.Context) {
	logger := requestLogger(c, "HandlePatchSchema")

	doc, err := h.schema.OpenAPI()
	if err != nil {
		writeError(c, logger, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", doc)
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "healthy",
		Version: h.version,
		Root:    h.svc.Root().String(),
	})
}

// bind reads the body, checks it against the CUE schema, decodes it into
// req and runs struct validation.
func (h *Handlers) bind(c *gin.Context, logger *slog.Logger, check func([]byte) error, req any) bool {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		logger.Warn("unreadable request body", "error", err)
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "request body could not be read")
		return false
	}
	if err := check(body); err != nil {
		logger.Warn("request failed schema validation", "error", err)
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return false
	}
	if err := json.Unmarshal(body, req); err != nil {
		logger.Warn("invalid request body", "error", err)
		abort(c, http.StatusBadRequest, CodeInvalidRequest, "invalid request body")
		return false
	}
	if err := h.validate.Struct(req); err != nil {
		logger.Warn("request failed validation", "error", err)
		abort(c, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return false
	}
	return true
}

func parseHandle(c *gin.Context, logger *slog.Logger) (handle.Handle, bool) {
	raw := c.Param("id")
	id, err := handle.Parse(raw)
	if err != nil || id.IsZero() {
		logger.Warn("invalid handle", "id", raw)
		abort(c, http.StatusBadRequest, CodeInvalidHandle, fmt.Sprintf("invalid handle %q", raw))
		return handle.Nil, false
	}
	return id, true
}

// respondFound writes an error response and returns false unless the query
// succeeded and found its node.
func respondFound(c *gin.Context, logger *slog.Logger, id handle.Handle, found bool, err error) bool {
	if err != nil {
		writeError(c, logger, err)
		return false
	}
	if !found {
		abort(c, http.StatusNotFound, CodeNodeNotFound, fmt.Sprintf("node %s not found", id))
		return false
	}
	return true
}

// writeError maps err onto a status code and error code.
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", "code", code, "error", err)
	} else {
		logger.Warn("request rejected", "code", code, "error", err)
	}
	abort(c, status, code, err.Error())
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, multiverse.ErrNodeNotFound):
		return http.StatusNotFound, CodeNodeNotFound
	case errors.Is(err, multiverse.ErrInvalidDuration), errors.Is(err, multiverse.ErrInvalidPatch):
		return http.StatusBadRequest, CodeInvalidRequest
	case errors.Is(err, multiverse.ErrNonFiniteState):
		return http.StatusUnprocessableEntity, CodeNonFiniteState
	case store.IsMalformed(err):
		return http.StatusInternalServerError, CodeMalformedData
	case store.IsUnavailable(err):
		return http.StatusInternalServerError, CodeStoreUnavailable
	case errors.Is(err, manager.ErrOwnerUnavailable):
		return http.StatusServiceUnavailable, CodeOwnerUnavailable
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}

func abort(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: msg, Code: code})
}
