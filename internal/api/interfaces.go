// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"github.com/labstack/echo/v4"

	"github.com/robertroutledge/pccf-converter/internal/jobs"
)

// UploadHandler handles file upload and file management operations
type UploadHandler interface {
	HandleUploadFile(c echo.Context) error
	HandleUploadBinary(c echo.Context) error
	HandleUploadChunk(c echo.Context) error
	HandleCompleteUpload(c echo.Context) error
	HandleGetRecentFiles(c echo.Context) error
	HandleGetFile(c echo.Context) error
	HandleDeleteFile(c echo.Context) error
	HandleRenameFile(c echo.Context) error
	HandleDownloadFile(c echo.Context) error
	HandlePreviewFile(c echo.Context) error
}

// JobHandler handles conversion and subset jobs
type JobHandler interface {
	HandleStartConvert(c echo.Context) error
	HandleStartSubset(c echo.Context) error
	HandleListJobs(c echo.Context) error
	HandleGetJob(c echo.Context) error
	HandleCancelJob(c echo.Context) error
	HandleJobProgress(c echo.Context) error
}

// LayoutHandler describes the record layout
type LayoutHandler interface {
	HandleGetLayout(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// JobManager defines the interface for job management
// This allows mocking in tests
type JobManager interface {
	Detect(fileID string) (string, error)
	StartConvert(fileID string, req jobs.ConvertRequest) (*jobs.Job, error)
	StartSubset(fileID string, req jobs.SubsetRequest) (*jobs.Job, error)
	GetJob(id string) (*jobs.Job, bool)
	ListJobs() []*jobs.Job
	Cancel(id string) error
	Subscribe(id string) (<-chan jobs.Job, func(), error)
}

var _ JobManager = (*jobs.Manager)(nil)
