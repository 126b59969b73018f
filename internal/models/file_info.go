package models

import "time"

// File statuses.
const (
	FileStatusUploaded = "uploaded"
	FileStatusOutput   = "output"
)

// FileInfo represents metadata about a stored file.
type FileInfo struct {
	ID         string    `json:"id" msgpack:"id"`
	Name       string    `json:"name" msgpack:"name"`
	Size       int64     `json:"size" msgpack:"size"`
	UploadedAt time.Time `json:"uploadedAt" msgpack:"uploadedAt"`
	Status     string    `json:"status" msgpack:"status"` // "uploaded", "output"
	Format     string    `json:"format,omitempty" msgpack:"format,omitempty"`
}
