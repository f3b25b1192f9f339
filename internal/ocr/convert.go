package ocr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
)

// rasterizePDF renders every page of a PDF to PNG with pdftoppm and returns the images in
// page order.
func (x *Extractor) rasterizePDF(ctx context.Context, path, dir string) ([]string, error) {
	prefix := filepath.Join(dir, "page")
	// pdftoppm -r 200 -png <in.pdf> <dir/page>
	_, errb, err := x.runner.Run(ctx, x.cfg.Pdftoppm, "-r", strconv.Itoa(x.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm: %w: %s", err, truncate(string(errb), 512))
	}
	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Slice(matches, func(i, j int) bool { return pageNumber(matches[i]) < pageNumber(matches[j]) })
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no images for %s", filepath.Base(path))
	}
	return matches, nil
}

// pageNumber extracts N from ".../page-N.png"; pdftoppm zero-pads only for large documents.
func pageNumber(path string) int {
	base := strings.TrimSuffix(filepath.Base(path), ".png")
	i := strings.LastIndexByte(base, '-')
	n, _ := strconv.Atoi(base[i+1:])
	return n
}

// convertWordToPDF converts a Word document with a headless office suite.
func (x *Extractor) convertWordToPDF(ctx context.Context, path, dir string) (string, error) {
	_, errb, err := x.runner.Run(ctx, x.cfg.Soffice, "--headless", "--convert-to", "pdf", "--outdir", dir, path)
	if err != nil {
		return "", fmt.Errorf("soffice: %w: %s", err, truncate(string(errb), 512))
	}
	out := filepath.Join(dir, strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))+".pdf")
	if _, err := os.Stat(out); err != nil {
		return "", fmt.Errorf("soffice produced no pdf: %w", err)
	}
	return out, nil
}

// pdfText reads the embedded text layer of a PDF.
func pdfText(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return strings.TrimSpace(b.String()), nil
}
