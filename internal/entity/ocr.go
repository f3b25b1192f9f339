package entity

// OCRBlock is one text span recognised by the OCR engine.
type OCRBlock struct {
	ID      int       `json:"block_id"`
	Label   string    `json:"block_label,omitempty"`
	Content string    `json:"block_content"`
	BBox    []float64 `json:"block_bbox"`
}

// OCRContent is the structured OCR output for a whole document (all pages).
type OCRContent struct {
	InputPath      string     `json:"input_path,omitempty"`
	Width          int        `json:"width,omitempty"`
	Height         int        `json:"height,omitempty"`
	ParsingResList []OCRBlock `json:"parsing_res_list"`
}

// OCRResult is the OCR bundle persisted on a processed document.
type OCRResult struct {
	RawText          string     `json:"raw_text"`
	RawTextRaw       string     `json:"raw_text_raw"`
	JSONContent      OCRContent `json:"json_content"`
	HighlightedImage *string    `json:"highlighted_image"`
	PreviewImage     *string    `json:"preview_image"`
}

// IsZero reports whether no OCR has been recorded.
func (o OCRResult) IsZero() bool {
	return o.RawText == "" && o.RawTextRaw == "" && len(o.JSONContent.ParsingResList) == 0 &&
		o.HighlightedImage == nil && o.PreviewImage == nil
}

// Blocks returns the located text spans of all pages.
func (o OCRResult) Blocks() []OCRBlock {
	return o.JSONContent.ParsingResList
}
