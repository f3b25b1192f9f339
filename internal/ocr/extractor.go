package ocr

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// PageSeparator joins the text of consecutive pages.
const PageSeparator = "\n\n---\n\n"

// ExtractorConfig holds the converter binaries and logging knobs.
type ExtractorConfig struct {
	Pdftoppm       string // default "pdftoppm"
	Soffice        string // default "soffice"
	DPI            int    // default 200
	WorkDir        string // parent of per-document temp dirs; "" uses the OS temp dir
	LogPreviewSize int    // chars of text logged after OCR; 0 disables
}

// Document is the OCR bundle of one file. Call Cleanup once the page images are no longer needed.
type Document struct {
	OCR        entity.OCRResult
	PageImages []string // rasterized pages of a PDF or Word file; empty for plain images
	Pages      int
	workDir    string
}

// Cleanup removes the rasterized pages.
func (d *Document) Cleanup() error {
	if d == nil || d.workDir == "" {
		return nil
	}
	return os.RemoveAll(d.workDir)
}

// Extractor turns a document of any accepted format into an OCR result.
type Extractor struct {
	engine Engine
	runner Runner
	cfg    ExtractorConfig
	logger *slog.Logger
}

func NewExtractor(engine Engine, runner Runner, cfg ExtractorConfig, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.Soffice == "" {
		cfg.Soffice = "soffice"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 200
	}
	return &Extractor{engine: engine, runner: runner, cfg: cfg, logger: logger}
}

// Ready reports whether the underlying engine can run.
func (x *Extractor) Ready() bool {
	return x.engine != nil && x.engine.Ready()
}

// Extract rasterizes PDF and Word files, runs the engine on every page and joins the pages.
// When OCR recognises nothing, the PDF text layer is used instead.
func (x *Extractor) Extract(ctx context.Context, path string) (*Document, error) {
	if !x.Ready() {
		return nil, common.EngineUnavailable("ocr engine")
	}
	start := time.Now()
	ext := constants.NormalizeExt(filepath.Ext(path))
	if _, ok := constants.AllowedExtensions[ext]; !ok {
		return nil, common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("unsupported file type %q", ext), common.ErrInvalidInput)
	}

	doc := &Document{}
	images := []string{path}
	var fallbackText string

	if constants.IsPDFExt(ext) || constants.IsWordExt(ext) {
		dir, err := os.MkdirTemp(x.cfg.WorkDir, "docflow-ocr-*")
		if err != nil {
			return nil, fmt.Errorf("create work dir: %w", err)
		}
		doc.workDir = dir

		pdfPath := path
		if constants.IsWordExt(ext) {
			if pdfPath, err = x.convertWordToPDF(ctx, path, dir); err != nil {
				_ = doc.Cleanup()
				return nil, err
			}
		}
		if images, err = x.rasterizePDF(ctx, pdfPath, dir); err != nil {
			_ = doc.Cleanup()
			return nil, err
		}
		doc.PageImages = images
		if fallbackText, err = pdfText(pdfPath); err != nil {
			x.logger.Warn("ocr.pdf_text.failed", "path", path, "error", err)
		}
	}

	var markdown, raw []string
	var blocks []entity.OCRBlock
	for _, img := range images {
		page, err := x.engine.Extract(ctx, img)
		if err != nil {
			_ = doc.Cleanup()
			return nil, err
		}
		markdown = append(markdown, page.Markdown)
		if page.Raw != "" {
			raw = append(raw, page.Raw)
		}
		for _, b := range page.Blocks {
			b.ID = len(blocks)
			blocks = append(blocks, b)
		}
		if doc.OCR.JSONContent.InputPath == "" {
			doc.OCR.JSONContent.InputPath = img
			doc.OCR.JSONContent.Width = page.Width
			doc.OCR.JSONContent.Height = page.Height
		}
	}

	text := strings.Join(markdown, PageSeparator)
	if strings.TrimSpace(text) == "" && fallbackText != "" {
		text = fallbackText
	}
	doc.Pages = len(images)
	doc.OCR.RawText = text
	doc.OCR.RawTextRaw = strings.Join(raw, PageSeparator)
	doc.OCR.JSONContent.ParsingResList = blocks

	if x.cfg.LogPreviewSize > 0 {
		x.logger.Info("ocr.preview", "chars", len(text), "preview", strings.ReplaceAll(Truncate(text, x.cfg.LogPreviewSize), "\n", `\n`))
	}
	x.logger.Info("ocr.document.done",
		"file", filepath.Base(path),
		"pages", doc.Pages,
		"blocks", len(blocks),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
