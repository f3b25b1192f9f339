package entity

import (
	"time"

	"github.com/google/uuid"
)

// DocumentType is a user-defined kind of document together with its field schema.
// Fields holds scalar names and "table:<group>::<column>" tokens in configured order.
type DocumentType struct {
	ID          uuid.UUID         `json:"id"`
	UserID      uuid.UUID         `json:"user_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []string          `json:"fields"`
	ExportKeys  map[string]string `json:"export_keys,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// ExportLabel returns the external column label for a field, falling back to the field name.
func (t *DocumentType) ExportLabel(field string) string {
	if t == nil || t.ExportKeys == nil {
		return field
	}
	if label, ok := t.ExportKeys[field]; ok && label != "" {
		return label
	}
	return field
}
