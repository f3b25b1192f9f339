package entity

import (
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
)

// ProcessingRun is one execution batch producing one or more processed documents.
type ProcessingRun struct {
	ID             uuid.UUID           `json:"id"`
	DocumentTypeID uuid.UUID           `json:"document_type_id"`
	UserID         uuid.UUID           `json:"user_id"`
	Source         constants.RunSource `json:"source"`
	TriggerName    *string             `json:"trigger_name,omitempty"`
	Status         constants.RunStatus `json:"status"`
	CreatedAt      time.Time           `json:"created_at"`
	UpdatedAt      time.Time           `json:"updated_at"`

	Documents []*ProcessedDocument `json:"documents,omitempty"`
}
