package entity

// ExtractedField is one reconciled value. Table cells carry Group and RowIndex.
type ExtractedField struct {
	Name          string    `json:"name"`
	Value         string    `json:"value"`
	Confidence    float64   `json:"confidence"`
	Coordinate    []float64 `json:"coordinate"` // [x1, y1, x2, y2] in source pixels, nil when unknown
	Group         string    `json:"group,omitempty"`
	RowIndex      *int      `json:"row_index,omitempty"`
	OriginalValue string    `json:"original_value"`
	IsCorrected   bool      `json:"is_corrected"`
}

// IsTableCell reports whether the field belongs to a table group row.
func (f ExtractedField) IsTableCell() bool {
	return f.Group != "" && f.RowIndex != nil
}
