// handlers_upload_test.go - Tests for upload handlers
package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/robertroutledge/pccf-converter/internal/models"
	"github.com/robertroutledge/pccf-converter/internal/testutil"
)

func TestUploadHandler_HandleUploadFile(t *testing.T) {
	tests := []struct {
		name       string
		request    uploadFileRequest
		wantStatus int
		wantErr    bool
		errCode    string
	}{
		{
			name: "valid file upload",
			request: uploadFileRequest{
				Name: "pccf.txt",
				Data: base64.StdEncoding.EncodeToString([]byte("hello world")),
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "empty name",
			request: uploadFileRequest{
				Data: base64.StdEncoding.EncodeToString([]byte("content")),
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "empty data",
			request: uploadFileRequest{
				Name: "pccf.txt",
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "VALIDATION_ERROR",
		},
		{
			name: "invalid base64",
			request: uploadFileRequest{
				Name: "pccf.txt",
				Data: "not-valid-base64!!!",
			},
			wantStatus: http.StatusBadRequest,
			wantErr:    true,
			errCode:    "BAD_REQUEST",
		},
		{
			name: "large file upload",
			request: uploadFileRequest{
				Name: "large.bin",
				Data: base64.StdEncoding.EncodeToString(make([]byte, 1024*1024)), // 1MB
			},
			wantStatus: http.StatusCreated,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			store := testutil.NewMockStorage()
			handler := NewUploadHandler(store, nil)

			e := echo.New()
			body, _ := json.Marshal(tt.request)
			req := httptest.NewRequest(http.MethodPost, "/api/files/upload", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			// Execute
			err := handler.HandleUploadFile(c)

			// Assert
			if tt.wantErr {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var response models.FileInfo
			if err := json.Unmarshal(rec.Body.Bytes(), &response); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if response.ID == "" {
				t.Error("expected non-empty ID in response")
			}
			if response.Name != tt.request.Name {
				t.Errorf("expected name %s, got %s", tt.request.Name, response.Name)
			}
		})
	}
}

func TestUploadHandler_HandleUploadBinary(t *testing.T) {
	store := testutil.NewMockStorage()
	handler := NewUploadHandler(store, nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "pccf.txt")
	if err != nil {
		t.Fatal(err)
	}
	part.Write([]byte("V6B1A1V6B59"))
	mw.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", &body)
	req.Header.Set(echo.HeaderContentType, mw.FormDataContentType())
	rec := httptest.NewRecorder()

	if err := handler.HandleUploadBinary(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected status %d, got %d", http.StatusCreated, rec.Code)
	}
	if store.GetFileCount() != 1 {
		t.Errorf("expected 1 stored file, got %d", store.GetFileCount())
	}

	// No file part
	req = httptest.NewRequest(http.MethodPost, "/api/files/upload/binary", strings.NewReader(""))
	rec = httptest.NewRecorder()
	err = handler.HandleUploadBinary(e.NewContext(req, rec))
	assertAPIError(t, err, http.StatusBadRequest, "BAD_REQUEST")
}

func TestUploadHandler_HandleGetRecentFiles(t *testing.T) {
	tests := []struct {
		name       string
		setupFiles int
		query      string
		wantCount  int
		wantErr    bool
	}{
		{name: "empty storage", setupFiles: 0, wantCount: 0},
		{name: "few files", setupFiles: 3, wantCount: 3},
		{name: "many files limited to 50", setupFiles: 60, wantCount: 50},
		{name: "explicit limit", setupFiles: 10, query: "?limit=4", wantCount: 4},
		{name: "invalid limit", setupFiles: 1, query: "?limit=abc", wantErr: true},
		{name: "status filter", setupFiles: 2, query: "?status=output", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			for i := 0; i < tt.setupFiles; i++ {
				store.AddFile(fmt.Sprintf("id-%d", i), fmt.Sprintf("file%d.txt", i), []byte("content"))
			}
			handler := NewUploadHandler(store, nil)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/files/recent"+tt.query, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			err := handler.HandleGetRecentFiles(c)
			if tt.wantErr {
				assertAPIError(t, err, http.StatusBadRequest, "VALIDATION_ERROR")
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var files []models.FileInfo
			if err := json.Unmarshal(rec.Body.Bytes(), &files); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if len(files) != tt.wantCount {
				t.Errorf("expected %d files, got %d", tt.wantCount, len(files))
			}
		})
	}
}

func TestUploadHandler_HandleGetFile(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		wantStatus int
		errCode    string
	}{
		{name: "existing file", fileID: "existing-id", wantStatus: http.StatusOK},
		{name: "non-existent file", fileID: "missing-id", wantStatus: http.StatusNotFound, errCode: "NOT_FOUND"},
		{name: "empty id", fileID: "", wantStatus: http.StatusBadRequest, errCode: "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			store.AddFile("existing-id", "pccf.txt", []byte("content"))
			handler := NewUploadHandler(store, nil)

			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/api/files/"+tt.fileID, nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)

			err := handler.HandleGetFile(c)
			if tt.errCode != "" {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			var info models.FileInfo
			if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
				t.Fatalf("failed to unmarshal response: %v", err)
			}
			if info.ID != tt.fileID {
				t.Errorf("expected id %s, got %s", tt.fileID, info.ID)
			}
		})
	}
}

func TestUploadHandler_HandleDeleteFile(t *testing.T) {
	store := testutil.NewMockStorage()
	store.AddFile("file-1", "pccf.txt", []byte("content"))
	handler := NewUploadHandler(store, nil)
	e := echo.New()

	for _, tc := range []struct {
		id         string
		wantStatus int
		errCode    string
	}{
		{id: "file-1", wantStatus: http.StatusNoContent},
		{id: "file-1", wantStatus: http.StatusNotFound, errCode: "NOT_FOUND"},
	} {
		req := httptest.NewRequest(http.MethodDelete, "/api/files/"+tc.id, nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("id")
		c.SetParamValues(tc.id)

		err := handler.HandleDeleteFile(c)
		if tc.errCode != "" {
			assertAPIError(t, err, tc.wantStatus, tc.errCode)
			continue
		}
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rec.Code != tc.wantStatus {
			t.Errorf("expected status %d, got %d", tc.wantStatus, rec.Code)
		}
	}

	if store.GetFileCount() != 0 {
		t.Errorf("expected file to be deleted, %d remain", store.GetFileCount())
	}
}

func TestUploadHandler_HandleRenameFile(t *testing.T) {
	tests := []struct {
		name       string
		fileID     string
		newName    string
		wantStatus int
		errCode    string
	}{
		{name: "valid rename", fileID: "file-1", newName: "renamed.txt", wantStatus: http.StatusOK},
		{name: "empty name", fileID: "file-1", newName: "", wantStatus: http.StatusBadRequest, errCode: "VALIDATION_ERROR"},
		{name: "missing file", fileID: "nope", newName: "x.txt", wantStatus: http.StatusNotFound, errCode: "NOT_FOUND"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := testutil.NewMockStorage()
			store.AddFile("file-1", "pccf.txt", []byte("content"))
			handler := NewUploadHandler(store, nil)

			e := echo.New()
			body, _ := json.Marshal(renameFileRequest{Name: tt.newName})
			req := httptest.NewRequest(http.MethodPut, "/api/files/"+tt.fileID, bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)
			c.SetParamNames("id")
			c.SetParamValues(tt.fileID)

			err := handler.HandleRenameFile(c)
			if tt.errCode != "" {
				assertAPIError(t, err, tt.wantStatus, tt.errCode)
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			info, _ := store.Get("file-1")
			if info.Name != tt.newName {
				t.Errorf("expected name %s, got %s", tt.newName, info.Name)
			}
		})
	}
}

func TestUploadHandler_ChunkedUpload(t *testing.T) {
	store := testutil.NewMockStorage()
	handler := NewUploadHandler(store, nil)
	e := echo.New()

	parts := []string{"V6B1A1", "V6B", "BC"}
	for i, p := range parts {
		body, _ := json.Marshal(uploadChunkRequest{
			UploadID:   "upload-1",
			ChunkIndex: i,
			Data:       base64.StdEncoding.EncodeToString([]byte(p)),
		})
		req := httptest.NewRequest(http.MethodPost, "/api/files/upload/chunk", bytes.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		if err := handler.HandleUploadChunk(e.NewContext(req, rec)); err != nil {
			t.Fatalf("chunk %d: unexpected error: %v", i, err)
		}
		if rec.Code != http.StatusAccepted {
			t.Errorf("chunk %d: expected status %d, got %d", i, http.StatusAccepted, rec.Code)
		}
	}

	body, _ := json.Marshal(completeUploadRequest{UploadID: "upload-1", Name: "pccf.txt", TotalChunks: len(parts)})
	req := httptest.NewRequest(http.MethodPost, "/api/files/upload/complete", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	if err := handler.HandleCompleteUpload(e.NewContext(req, rec)); err != nil {
		t.Fatalf("complete: unexpected error: %v", err)
	}

	var info models.FileInfo
	if err := json.Unmarshal(rec.Body.Bytes(), &info); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	data, err := store.GetFileData(info.ID)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "V6B1A1V6BBC" {
		t.Errorf("unexpected assembled content %q", data)
	}
}

func TestUploadHandler_ChunkValidation(t *testing.T) {
	tests := []struct {
		name    string
		request uploadChunkRequest
		errCode string
	}{
		{name: "missing upload id", request: uploadChunkRequest{Data: "YQ=="}, errCode: "VALIDATION_ERROR"},
		{name: "negative index", request: uploadChunkRequest{UploadID: "u", ChunkIndex: -1, Data: "YQ=="}, errCode: "VALIDATION_ERROR"},
		{name: "missing data", request: uploadChunkRequest{UploadID: "u"}, errCode: "VALIDATION_ERROR"},
		{name: "bad base64", request: uploadChunkRequest{UploadID: "u", Data: "***"}, errCode: "BAD_REQUEST"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewUploadHandler(testutil.NewMockStorage(), nil)
			e := echo.New()
			body, _ := json.Marshal(tt.request)
			req := httptest.NewRequest(http.MethodPost, "/api/files/upload/chunk", bytes.NewReader(body))
			req.Header.Set("Content-Type", "application/json")
			err := handler.HandleUploadChunk(e.NewContext(req, httptest.NewRecorder()))
			assertAPIError(t, err, http.StatusBadRequest, tt.errCode)
		})
	}
}

func TestUploadHandler_HandlePreviewFile(t *testing.T) {
	store := testutil.NewMockStorageWithTempDir(t.TempDir())
	content := pccfBytes(t, "V6B1A1", "T2P0A1", "V8W1A1")
	content = append(content, []byte("SHORT\r\n")...)
	store.AddFile("raw", "pccf.txt", content)
	handler := NewUploadHandler(store, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/files/raw/preview?rows=10", nil)
	req.Header.Set(echo.HeaderAccept, mimeMsgpack)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("raw")

	if err := handler.HandlePreviewFile(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != mimeMsgpack {
		t.Errorf("expected msgpack content type, got %q", ct)
	}

	var resp previewResponse
	if err := msgpack.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode msgpack: %v", err)
	}
	if resp.Format != "pccf_fixed" {
		t.Errorf("expected pccf_fixed, got %s", resp.Format)
	}
	if len(resp.Records) != 4 {
		t.Fatalf("expected 4 records (short line padded), got %d", len(resp.Records))
	}
	if resp.Records[1].Values[0] != "T2P0A1" {
		t.Errorf("unexpected postal code %q", resp.Records[1].Values[0])
	}
	if len(resp.Problems) != 1 || resp.Problems[0].Line != 4 {
		t.Errorf("expected one problem on line 4, got %+v", resp.Problems)
	}
}

// assertAPIError checks that err is an *APIError with the given status and code.
func assertAPIError(t *testing.T, err error, status int, code string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected APIError, got %T", err)
	}
	if apiErr.Status != status {
		t.Errorf("expected status %d, got %d", status, apiErr.Status)
	}
	if apiErr.Code != code {
		t.Errorf("expected error code %s, got %s", code, apiErr.Code)
	}
}
