package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"time"

	"github.com/joseph-ayodele/docflow/internal/app"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/ocr"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	timeout := flag.Duration("timeout", 10*time.Minute, "recognition deadline")
	blocks := flag.Bool("blocks", false, "print located blocks instead of text")
	flag.Parse()
	if flag.NArg() != 1 {
		logger.Error("usage", "cmd", "runocr [-blocks] [-timeout 10m] <file>")
		os.Exit(2)
	}
	path := flag.Arg(0)

	cfg := common.LoadConfig()
	rec := app.NewRecognizer(cfg.OCR, true, logger)
	if !rec.Ready() {
		logger.Error("ocr engine not available", "command", cfg.OCR.Command)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	start := time.Now()
	doc, err := rec.Extract(ctx, path)
	if err != nil {
		logger.Error("ocr failed", "path", path, "error", err)
		os.Exit(1)
	}
	defer func(d *ocr.Document) {
		if cerr := d.Cleanup(); cerr != nil {
			logger.Warn("cleanup failed", "error", cerr)
		}
	}(doc)

	logger.Info("ocr done",
		"path", path,
		"pages", doc.Pages,
		"chars", len([]rune(doc.OCR.RawText)),
		"blocks", len(doc.OCR.Blocks()),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)

	if *blocks {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.SetEscapeHTML(false)
		if err := enc.Encode(doc.OCR.Blocks()); err != nil {
			logger.Error("encode blocks", "error", err)
			os.Exit(1)
		}
		return
	}
	text := doc.OCR.RawText
	if text == "" {
		text = doc.OCR.RawTextRaw
	}
	_, _ = os.Stdout.WriteString(text + "\n")
}
