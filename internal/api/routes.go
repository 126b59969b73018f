// routes.go - Route registration helpers
// This file provides a clean way to register all API routes
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/robertroutledge/pccf-converter/internal/layout"
	"github.com/robertroutledge/pccf-converter/internal/storage"
)

// Dependencies holds all handler dependencies
type Dependencies struct {
	Store          storage.Store
	Jobs           JobManager
	Layout         *layout.Layout
	Version        string
	WSMaxMessageKB int
}

// Handlers holds all handler instances
type Handlers struct {
	Health HealthHandler
	Upload UploadHandler
	Jobs   JobHandler
	Layout LayoutHandler
}

// NewHandlers creates all handler instances
func NewHandlers(deps *Dependencies) *Handlers {
	l := deps.Layout
	if l == nil {
		l = layout.PCCF()
	}
	return &Handlers{
		Health: NewHealthHandler(deps.Version),
		Upload: NewUploadHandler(deps.Store, deps.Jobs),
		Jobs:   NewJobHandler(deps.Jobs, NewProgressSocket(deps.WSMaxMessageKB)),
		Layout: NewLayoutHandler(l),
	}
}

// RegisterRoutes registers all API routes with the Echo instance
func RegisterRoutes(e *echo.Echo, handlers *Handlers) {
	// Health check
	e.GET("/health", handlers.Health.HandleHealth)
	e.GET("/api/health", handlers.Health.HandleHealth)

	// Prometheus scrape endpoint
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// File routes
	fileGroup := e.Group("/api/files")
	fileGroup.POST("/upload", handlers.Upload.HandleUploadFile)
	fileGroup.POST("/upload/chunk", handlers.Upload.HandleUploadChunk)
	fileGroup.POST("/upload/complete", handlers.Upload.HandleCompleteUpload)
	fileGroup.POST("/upload/binary", handlers.Upload.HandleUploadBinary)
	fileGroup.GET("/recent", handlers.Upload.HandleGetRecentFiles)
	fileGroup.GET("/:id", handlers.Upload.HandleGetFile)
	fileGroup.DELETE("/:id", handlers.Upload.HandleDeleteFile)
	fileGroup.PUT("/:id", handlers.Upload.HandleRenameFile)
	fileGroup.GET("/:id/download", handlers.Upload.HandleDownloadFile)
	fileGroup.GET("/:id/preview", handlers.Upload.HandlePreviewFile)

	// Job routes
	e.POST("/api/convert", handlers.Jobs.HandleStartConvert)
	e.POST("/api/subset", handlers.Jobs.HandleStartSubset)
	jobGroup := e.Group("/api/jobs")
	jobGroup.GET("", handlers.Jobs.HandleListJobs)
	jobGroup.GET("/:id", handlers.Jobs.HandleGetJob)
	jobGroup.DELETE("/:id", handlers.Jobs.HandleCancelJob)
	jobGroup.GET("/:id/ws", handlers.Jobs.HandleJobProgress)

	// Layout description
	e.GET("/api/layout", handlers.Layout.HandleGetLayout)
}

// SetupMiddleware configures common middleware
func SetupMiddleware(e *echo.Echo) {
	// Use custom error handler
	e.HTTPErrorHandler = ErrorHandler
}
