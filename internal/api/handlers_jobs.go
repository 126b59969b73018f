// handlers_jobs.go - Conversion and subset job handlers
package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/robertroutledge/pccf-converter/internal/jobs"
)

const mimeMsgpack = "application/msgpack"

// JobHandlerImpl implements the JobHandler interface
type JobHandlerImpl struct {
	jobs JobManager
	ws   *ProgressSocket
}

// NewJobHandler creates a new job handler
func NewJobHandler(jobs JobManager, ws *ProgressSocket) JobHandler {
	return &JobHandlerImpl{
		jobs: jobs,
		ws:   ws,
	}
}

// wantsMsgpack reports whether the client asked for MessagePack.
func wantsMsgpack(c echo.Context) bool {
	accept := c.Request().Header.Get(echo.HeaderAccept)
	return strings.Contains(accept, mimeMsgpack)
}

// respond writes v as MessagePack when the client accepts it, else JSON.
func respond(c echo.Context, status int, v interface{}) error {
	if !wantsMsgpack(c) {
		return c.JSON(status, v)
	}
	data, err := msgpack.Marshal(v)
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(status, mimeMsgpack, data)
}

type startConvertRequest struct {
	FileID string `json:"fileId"`
	jobs.ConvertRequest
}

type startSubsetRequest struct {
	FileID string `json:"fileId"`
	jobs.SubsetRequest
}

// HandleStartConvert starts converting an uploaded PCCF file
func (h *JobHandlerImpl) HandleStartConvert(c echo.Context) error {
	var req startConvertRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	job, err := h.jobs.StartConvert(req.FileID, req.ConvertRequest)
	if err != nil {
		return jobError(err, req.FileID)
	}

	return respond(c, http.StatusAccepted, job)
}

// HandleStartSubset starts extracting rows from a converted file
func (h *JobHandlerImpl) HandleStartSubset(c echo.Context) error {
	var req startSubsetRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}
	if req.FileID == "" {
		return NewValidationError("fileId")
	}

	job, err := h.jobs.StartSubset(req.FileID, req.SubsetRequest)
	if err != nil {
		return jobError(err, req.FileID)
	}

	return respond(c, http.StatusAccepted, job)
}

// HandleListJobs returns all known jobs, newest first
func (h *JobHandlerImpl) HandleListJobs(c echo.Context) error {
	return respond(c, http.StatusOK, h.jobs.ListJobs())
}

// HandleGetJob returns the current state of a job
func (h *JobHandlerImpl) HandleGetJob(c echo.Context) error {
	id := c.Param("id")
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}
	return respond(c, http.StatusOK, job)
}

// HandleCancelJob cancels a queued or running job
func (h *JobHandlerImpl) HandleCancelJob(c echo.Context) error {
	id := c.Param("id")
	job, ok := h.jobs.GetJob(id)
	if !ok {
		return NewNotFoundError("job", id)
	}
	if job.Status.Done() {
		return NewConflictError("job " + id + " already " + string(job.Status))
	}
	if err := h.jobs.Cancel(id); err != nil {
		return jobError(err, id)
	}
	return c.NoContent(http.StatusAccepted)
}

// HandleJobProgress streams job updates over a WebSocket
func (h *JobHandlerImpl) HandleJobProgress(c echo.Context) error {
	if h.ws == nil {
		return NewServiceUnavailableError("progress streaming is disabled")
	}
	return h.ws.Serve(c, h.jobs)
}
