package model

import "time"

// Allowed content types for uploaded scores.
const (
	ContentTypeJPEG = "image/jpeg"
	ContentTypePNG  = "image/png"
	ContentTypePDF  = "application/pdf"
)

// AllowedScoreTypes lists the accepted upload content types.
var AllowedScoreTypes = []string{ContentTypeJPEG, ContentTypePNG, ContentTypePDF}

// Score represents one uploaded sheet-music file.
type Score struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	FileName   string    `json:"fileName"`
	FileType   string    `json:"fileType"`
	FileSize   int64     `json:"fileSize"`
	FilePath   string    `json:"filePath"` // object key in the score bucket, served only via signed URL
	UploadedAt time.Time `json:"uploadedAt"`
	URL        string    `json:"url"` // most recently issued signed URL, may have expired

	// Conversions is populated by library listing only; it is not part of
	// the stored score document.
	Conversions []*Conversion `json:"conversions,omitempty"`
}
