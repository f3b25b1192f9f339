package ocr

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/joseph-ayodele/docflow/internal/entity"
)

// groundingScale is the coordinate space DeepSeek reports boxes in.
const groundingScale = 1000

var (
	reGroundingHead = regexp.MustCompile(`^([^<]*)<\|/ref\|><\|det\|>\[\[(\d+),\s*(\d+),\s*(\d+),\s*(\d+)\]\]<\|/det\|>`)
	reGroundingTag  = regexp.MustCompile(`<\|ref\|>[^<]*<\|/ref\|><\|det\|>\[\[[^\]]+\]\]<\|/det\|>\s*`)
	reAnyTag        = regexp.MustCompile(`<\|/?[^|]+\|>`)
	reManyNewlines  = regexp.MustCompile(`\n{3,}`)
)

// ParseGrounding turns grounding output of the form
//
//	<|ref|>label<|/ref|><|det|>[[x1, y1, x2, y2]]<|/det|>
//	text until the next ref tag
//
// into blocks with pixel coordinates for an image of width x height.
func ParseGrounding(raw string, width, height int) []entity.OCRBlock {
	if raw == "" {
		return nil
	}
	var blocks []entity.OCRBlock
	for _, chunk := range strings.Split(raw, "<|ref|>")[1:] {
		m := reGroundingHead.FindStringSubmatch(chunk)
		if m == nil {
			continue
		}
		bbox := make([]float64, 4)
		for i := 0; i < 4; i++ {
			n, _ := strconv.Atoi(m[i+2])
			size := width
			if i%2 == 1 {
				size = height
			}
			bbox[i] = float64(n * size / groundingScale)
		}
		content := strings.TrimSpace(chunk[len(m[0]):])
		blocks = append(blocks, entity.OCRBlock{
			ID:      len(blocks),
			Label:   strings.TrimSpace(m[1]),
			Content: content,
			BBox:    bbox,
		})
	}
	return blocks
}

// CleanMarkdown strips grounding tags and collapses runs of blank lines.
func CleanMarkdown(raw string) string {
	if raw == "" {
		return ""
	}
	cleaned := reGroundingTag.ReplaceAllString(raw, "")
	cleaned = reAnyTag.ReplaceAllString(cleaned, "")
	cleaned = reManyNewlines.ReplaceAllString(cleaned, "\n\n")
	return strings.TrimSpace(cleaned)
}
