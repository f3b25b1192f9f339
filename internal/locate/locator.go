// Package locate maps extracted values back to OCR bounding boxes.
package locate

import (
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// minWordOverlap is the share of a value's words that must appear in a block for the fuzzy pass.
const minWordOverlap = 0.5

// Find returns the bounding box of the block that best matches value, or nil.
//
// Exact case-insensitive containment wins immediately (first block in order). Otherwise, for
// values of two or more words, the first block containing at least half of the words wins.
// Blocks without a 4-element bbox are skipped in both passes.
func Find(value string, blocks []entity.OCRBlock) []float64 {
	needle := strings.ToLower(strings.TrimSpace(value))
	if needle == "" || len(blocks) == 0 {
		return nil
	}

	for _, b := range blocks {
		if b.Content == "" || len(b.BBox) != 4 {
			continue
		}
		if strings.Contains(strings.ToLower(b.Content), needle) {
			return cloneBox(b.BBox)
		}
	}

	words := strings.Fields(needle)
	if len(words) < 2 {
		return nil
	}
	for _, b := range blocks {
		if b.Content == "" || len(b.BBox) != 4 {
			continue
		}
		content := strings.ToLower(b.Content)
		matched := 0
		for _, w := range words {
			if strings.Contains(content, w) {
				matched++
			}
		}
		if float64(matched) >= float64(len(words))*minWordOverlap {
			return cloneBox(b.BBox)
		}
	}
	return nil
}

func cloneBox(b []float64) []float64 {
	out := make([]float64, len(b))
	copy(out, b)
	return out
}
