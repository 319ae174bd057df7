package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/GrigorianNick/multiverse-simulator/internal/telemetry"
)

// RegisterRoutes registers the node and schema endpoints under rg.
//
// Routes:
//
//	GET  /nodes                  - all node handles
//	GET  /nodes/:id              - one node
//	GET  /nodes/:id/universe     - resolved state
//	GET  /nodes/:id/timeline     - resolved states from the root
//	GET  /nodes/:id/children     - branch children and successor
//	POST /nodes/:id/advance      - create the successor
//	POST /nodes/:id/branch       - create a patched child
//	POST /nodes/:id/patches      - append patches to a node
//	GET  /schema/patch           - OpenAPI document for request bodies
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	nodes := rg.Group("/nodes")
	{
		nodes.GET("", h.HandleListNodes)
		nodes.GET("/:id", h.HandleGetNode)
		nodes.GET("/:id/universe", h.HandleGetUniverse)
		nodes.GET("/:id/timeline", h.HandleGetTimeline)
		nodes.GET("/:id/children", h.HandleGetChildren)
		nodes.POST("/:id/advance", h.HandleAdvance)
		nodes.POST("/:id/branch", h.HandleBranch)
		nodes.POST("/:id/patches", h.HandleUpdate)
	}
	rg.GET("/schema/patch", h.HandlePatchSchema)
}

// NewRouter builds the full engine: middleware, /v1 routes, /health and
// /metrics.
func NewRouter(h *Handlers, logger *slog.Logger, serviceName string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(serviceName))
	router.Use(RequestID(logger))
	router.Use(AccessLog())
	router.Use(Metrics())

	RegisterRoutes(router.Group("/v1"), h)
	router.GET("/health", h.HandleHealth)
	router.GET("/metrics", gin.WrapH(telemetry.MetricsHandler()))
	return router
}
