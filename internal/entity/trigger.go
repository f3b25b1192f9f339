package entity

import (
	"time"

	"github.com/google/uuid"
)

// Trigger is a folder-watch configuration. ProcessedFiles only grows.
type Trigger struct {
	ID             uuid.UUID `json:"id"`
	UserID         uuid.UUID `json:"user_id"`
	Enabled        bool      `json:"enabled"`
	Folder         string    `json:"folder"`
	ProcessedFiles []string  `json:"processed_files"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// ProcessedSet returns the processed file names as a lookup set.
func (t *Trigger) ProcessedSet() map[string]struct{} {
	set := make(map[string]struct{}, len(t.ProcessedFiles))
	for _, name := range t.ProcessedFiles {
		set[name] = struct{}{}
	}
	return set
}
