package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
)

// TaskCheckpoint records how far the pipeline got for a document so a retry can resume.
type TaskCheckpoint struct {
	DocumentID     uuid.UUID        `json:"document_id"`
	Stage          constants.Stage  `json:"stage"`
	Attempt        int              `json:"attempt"`
	DocumentTypeID *uuid.UUID       `json:"document_type_id,omitempty"`
	OCR            *OCRResult       `json:"ocr,omitempty"`
	Fields         []ExtractedField `json:"fields,omitempty"`
	LastError      *string          `json:"last_error,omitempty"`
	UpdatedAt      time.Time        `json:"updated_at"`
}
