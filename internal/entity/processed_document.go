package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
)

// ProcessedDocument is a single file inside a processing run.
type ProcessedDocument struct {
	ID              uuid.UUID                `json:"id"`
	ProcessingRunID uuid.UUID                `json:"processing_run_id"`
	Filename        string                   `json:"filename"`
	FilePath        string                   `json:"file_path"` // storage key
	FileSize        int64                    `json:"file_size"`
	MimeType        string                   `json:"mime_type"`
	Status          constants.DocumentStatus `json:"status"`
	ErrorMessage    *string                  `json:"error_message,omitempty"`
	OCRResult       OCRResult                `json:"ocr_result"`
	ExtractedFields []ExtractedField         `json:"extracted_fields"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
}

// RawText is the cleaned OCR text of the document.
func (d *ProcessedDocument) RawText() string {
	return d.OCRResult.RawText
}
