// Package ocr wraps the external OCR engine and turns documents of any accepted format into
// page images, grounded text blocks and clean markdown.
package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

// Page is the OCR output for one image.
type Page struct {
	ImagePath string
	Width     int
	Height    int
	Markdown  string // cleaned text
	Raw       string // engine output with grounding tags
	Blocks    []entity.OCRBlock
}

// Engine recognises the text of a single image.
type Engine interface {
	Ready() bool
	Extract(ctx context.Context, imagePath string) (Page, error)
}

// Config configures a DeepSeekEngine.
type Config struct {
	Command       string   // executable taking the image path and an output directory
	Args          []string // extra arguments placed before the image path
	OutputDir     string   // root for per-call output directories
	UseGPU        bool
	CleanMarkdown bool
}

// DeepSeekEngine runs a DeepSeek OCR command line that prints grounding markdown to stdout
// or leaves it in its output directory.
type DeepSeekEngine struct {
	cfg    Config
	runner Runner
	ready  bool
	logger *slog.Logger
}

// NewDeepSeekEngine resolves the command once; Ready reports whether it was found.
func NewDeepSeekEngine(cfg Config, runner Runner, logger *slog.Logger) *DeepSeekEngine {
	if logger == nil {
		logger = slog.Default()
	}
	if runner == nil {
		runner = ExecRunner{Logger: logger}
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = os.TempDir()
	}
	ready := false
	if cfg.Command != "" {
		if _, err := exec.LookPath(cfg.Command); err == nil {
			ready = true
		} else {
			logger.Warn("ocr.engine.unavailable", "command", cfg.Command, "error", err)
		}
	}
	return &DeepSeekEngine{cfg: cfg, runner: runner, ready: ready, logger: logger}
}

func (e *DeepSeekEngine) Ready() bool { return e.ready }

func (e *DeepSeekEngine) Extract(ctx context.Context, imagePath string) (Page, error) {
	if !e.ready {
		return Page{}, common.EngineUnavailable("ocr engine")
	}
	width, height, err := ImageSize(imagePath)
	if err != nil {
		return Page{}, err
	}
	if err := os.MkdirAll(e.cfg.OutputDir, 0o755); err != nil {
		return Page{}, fmt.Errorf("create ocr output dir: %w", err)
	}
	outDir, err := os.MkdirTemp(e.cfg.OutputDir, "page-*")
	if err != nil {
		return Page{}, fmt.Errorf("create ocr output dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(outDir); err != nil {
			e.logger.Warn("ocr.output.cleanup_failed", "dir", outDir, "error", err)
		}
	}()

	abs, err := filepath.Abs(imagePath)
	if err != nil {
		abs = imagePath
	}
	args := append([]string{}, e.cfg.Args...)
	if e.cfg.UseGPU {
		args = append(args, "--gpu")
	}
	args = append(args, filepath.ToSlash(abs), filepath.ToSlash(outDir))

	stdout, _, err := e.runner.Run(ctx, e.cfg.Command, args...)
	if err != nil {
		return Page{}, fmt.Errorf("ocr %s: %w", filepath.Base(imagePath), err)
	}
	raw := strings.TrimSpace(string(stdout))
	if raw == "" {
		raw = loadOutputText(outDir)
	}

	page := Page{
		ImagePath: imagePath,
		Width:     width,
		Height:    height,
		Raw:       raw,
		Blocks:    ParseGrounding(raw, width, height),
	}
	page.Markdown = raw
	if e.cfg.CleanMarkdown {
		if cleaned := CleanMarkdown(raw); cleaned != "" {
			page.Markdown = cleaned
		}
	}
	e.logger.Debug("ocr.page.done", "image", filepath.Base(imagePath), "blocks", len(page.Blocks), "chars", len(raw))
	return page, nil
}

// ImageSize reads image dimensions without decoding the pixels.
func ImageSize(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("decode image %s: %w", filepath.Base(path), err)
	}
	return cfg.Width, cfg.Height, nil
}

var outputKeys = []string{"markdown", "text", "result", "output", "content"}

// loadOutputText returns the largest text-like file left in dir by the engine.
func loadOutputText(dir string) string {
	type candidate struct {
		path string
		size int64
	}
	var files []candidate
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".md", ".mmd", ".txt", ".json":
			if info, err := d.Info(); err == nil {
				files = append(files, candidate{path, info.Size()})
			}
		}
		return nil
	})
	sort.SliceStable(files, func(i, j int) bool { return files[i].size > files[j].size })

	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			continue
		}
		if strings.EqualFold(filepath.Ext(f.path), ".json") {
			var payload map[string]any
			if json.Unmarshal(data, &payload) == nil {
				for _, k := range outputKeys {
					if s, ok := payload[k].(string); ok && strings.TrimSpace(s) != "" {
						return s
					}
				}
			}
		}
		return string(data)
	}
	return ""
}

// Serialized guards a non-reentrant engine so only one Extract runs at a time.
type Serialized struct {
	engine Engine
	sem    chan struct{}
}

func NewSerialized(engine Engine) *Serialized {
	return &Serialized{engine: engine, sem: make(chan struct{}, 1)}
}

func (s *Serialized) Ready() bool { return s.engine.Ready() }

func (s *Serialized) Extract(ctx context.Context, imagePath string) (Page, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return Page{}, ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.engine.Extract(ctx, imagePath)
}
