// handlers_upload.go - File upload operation handlers
package api

import (
	"bytes"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/robertroutledge/pccf-converter/internal/models"
	"github.com/robertroutledge/pccf-converter/internal/parser"
	"github.com/robertroutledge/pccf-converter/internal/storage"
)

const (
	defaultPreviewRows = 20
	maxPreviewRows     = 500
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	store storage.Store
	jobs  JobManager
}

// NewUploadHandler creates a new upload handler instance. jobs may be nil,
// in which case uploads are stored without format detection.
func NewUploadHandler(store storage.Store, jobs JobManager) UploadHandler {
	return &UploadHandlerImpl{
		store: store,
		jobs:  jobs,
	}
}

// detect records the format of a new upload and returns the updated info.
func (h *UploadHandlerImpl) detect(info *models.FileInfo) *models.FileInfo {
	if h.jobs == nil {
		return info
	}
	format, err := h.jobs.Detect(info.ID)
	if err != nil {
		return info
	}
	info.Format = format
	return info
}

// HandleUploadFile accepts a file as base64 JSON and saves it to storage
func (h *UploadHandlerImpl) HandleUploadFile(c echo.Context) error {
	var req uploadFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoder := base64.NewDecoder(base64.StdEncoding, strings.NewReader(req.Data))
	info, err := h.store.Save(req.Name, decoder)
	if err != nil {
		var corrupt base64.CorruptInputError
		if errors.As(err, &corrupt) {
			return NewBadRequestError("invalid base64 data", err)
		}
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, h.detect(info))
}

// HandleUploadBinary accepts raw binary file upload (multipart/form-data)
func (h *UploadHandlerImpl) HandleUploadBinary(c echo.Context) error {
	file, err := c.FormFile("file")
	if err != nil {
		return NewBadRequestError("no file provided", err)
	}

	src, err := file.Open()
	if err != nil {
		return NewInternalError("failed to open uploaded file", err)
	}
	defer src.Close()

	info, err := h.store.Save(file.Filename, src)
	if err != nil {
		return NewInternalError("failed to save file", err)
	}

	return c.JSON(http.StatusCreated, h.detect(info))
}

// HandleUploadChunk accepts a single chunk of a chunked upload
func (h *UploadHandlerImpl) HandleUploadChunk(c echo.Context) error {
	var req uploadChunkRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	decoded, err := base64.StdEncoding.DecodeString(req.Data)
	if err != nil {
		return NewBadRequestError("invalid base64 data", err)
	}

	if err := h.store.SaveChunk(req.UploadID, req.ChunkIndex, bytes.NewReader(decoded)); err != nil {
		return NewBadRequestError("failed to save chunk", err)
	}

	return c.NoContent(http.StatusAccepted)
}

// HandleCompleteUpload assembles a chunked upload
func (h *UploadHandlerImpl) HandleCompleteUpload(c echo.Context) error {
	var req completeUploadRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if err := req.validate(); err != nil {
		return err
	}

	info, err := h.store.CompleteChunkedUpload(req.UploadID, req.Name, req.TotalChunks)
	if err != nil {
		return NewBadRequestError("failed to assemble chunks", err)
	}

	return c.JSON(http.StatusCreated, h.detect(info))
}

// HandleGetRecentFiles returns uploads and outputs, newest first
func (h *UploadHandlerImpl) HandleGetRecentFiles(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	files, err := h.store.List(limit)
	if err != nil {
		return NewInternalError("failed to list files", err)
	}

	status := c.QueryParam("status")
	if status == "" {
		return c.JSON(http.StatusOK, files)
	}
	filtered := make([]*models.FileInfo, 0, len(files))
	for _, f := range files {
		if f.Status == status {
			filtered = append(filtered, f)
		}
	}
	return c.JSON(http.StatusOK, filtered)
}

// HandleGetFile returns metadata for a specific file
func (h *UploadHandlerImpl) HandleGetFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	info, err := h.store.Get(id)
	if err != nil {
		return fileError(err, id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDeleteFile deletes a file
func (h *UploadHandlerImpl) HandleDeleteFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	if err := h.store.Delete(id); err != nil {
		return fileError(err, id)
	}

	return c.NoContent(http.StatusNoContent)
}

// HandleRenameFile updates the name of a file
func (h *UploadHandlerImpl) HandleRenameFile(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return NewValidationError("id")
	}

	var req renameFileRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid request body", err)
	}

	if req.Name == "" {
		return NewValidationError("name")
	}

	info, err := h.store.Rename(id, req.Name)
	if err != nil {
		return fileError(err, id)
	}

	return c.JSON(http.StatusOK, info)
}

// HandleDownloadFile sends the file content as an attachment
func (h *UploadHandlerImpl) HandleDownloadFile(c echo.Context) error {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		return fileError(err, id)
	}
	path, err := h.store.GetFilePath(id)
	if err != nil {
		return fileError(err, id)
	}
	return c.Attachment(path, info.Name)
}

// previewResponse holds the first records of a file
type previewResponse struct {
	FileID   string              `json:"fileId" msgpack:"fileId"`
	Format   string              `json:"format" msgpack:"format"`
	Header   []string            `json:"header" msgpack:"header"`
	Records  []models.Record     `json:"records" msgpack:"records"`
	Problems []models.ParseError `json:"problems,omitempty" msgpack:"problems,omitempty"`
}

// HandlePreviewFile decodes the first rows of a raw or converted file
func (h *UploadHandlerImpl) HandlePreviewFile(c echo.Context) error {
	id := c.Param("id")
	rows := defaultPreviewRows
	if v := c.QueryParam("rows"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("rows")
		}
		rows = min(n, maxPreviewRows)
	}

	path, err := h.store.GetFilePath(id)
	if err != nil {
		return fileError(err, id)
	}

	p, err := parser.GetGlobalRegistry().FindParser(path)
	if err != nil {
		return NewBadRequestError("file format not recognised", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return NewInternalError("failed to open file", err)
	}
	defer f.Close()

	resp := previewResponse{FileID: id, Format: p.Name()}
	switch p := p.(type) {
	case *parser.FixedWidthParser:
		resp.Header = p.Decoder().Layout().Header()
		err = previewFixed(f, p.Decoder(), rows, &resp)
	case *parser.TSVParser:
		err = previewDelimited(f, rows, &resp)
	default:
		return NewBadRequestError("preview not supported for "+p.Name(), nil)
	}
	if err != nil {
		return NewInternalError("failed to read file", err)
	}

	return respond(c, http.StatusOK, resp)
}

func previewFixed(r io.Reader, dec *parser.FixedWidthDecoder, rows int, resp *previewResponse) error {
	lr := parser.NewLineReader(r)
	for len(resp.Records) < rows {
		raw, err := lr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if parser.IsBlank(raw) {
			continue
		}
		rec, err := dec.Decode(raw, lr.Line())
		if err != nil {
			pe := models.ParseError{Line: lr.Line(), Content: parser.Printable(raw, 80), Reason: err.Error()}
			var encErr *parser.EncodingError
			if errors.As(err, &encErr) {
				pe.Field = encErr.Field
			}
			resp.Problems = append(resp.Problems, pe)
			if !errors.Is(err, parser.ErrShortRecord) {
				continue
			}
		}
		resp.Records = append(resp.Records, rec)
	}
	return nil
}

func previewDelimited(r io.Reader, rows int, resp *previewResponse) error {
	dr, err := parser.NewDelimitedReader(r, '\t')
	if err != nil {
		return err
	}
	resp.Header = dr.Header()
	for len(resp.Records) < rows {
		rec, err := dr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		resp.Records = append(resp.Records, rec)
	}
	return nil
}

// Request/Response types

type uploadFileRequest struct {
	Name string `json:"name"`
	Data string `json:"data"` // Base64-encoded content
}

func (r *uploadFileRequest) validate() error {
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	return nil
}

type uploadChunkRequest struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex int    `json:"chunkIndex"`
	Data       string `json:"data"` // Base64-encoded chunk
}

func (r *uploadChunkRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Data == "" {
		return NewValidationError("data")
	}
	if r.ChunkIndex < 0 {
		return NewValidationError("chunkIndex")
	}
	return nil
}

type completeUploadRequest struct {
	UploadID    string `json:"uploadId"`
	Name        string `json:"name"`
	TotalChunks int    `json:"totalChunks"`
}

func (r *completeUploadRequest) validate() error {
	if r.UploadID == "" {
		return NewValidationError("uploadId")
	}
	if r.Name == "" {
		return NewValidationError("name")
	}
	if r.TotalChunks <= 0 {
		return NewBadRequestError("totalChunks must be positive", nil)
	}
	return nil
}

type renameFileRequest struct {
	Name string `json:"name"`
}
