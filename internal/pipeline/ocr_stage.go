package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/storage"
)

type OCRStage struct {
	Recognizer Recognizer
	Blobs      Blobs
	Logger     *slog.Logger
}

func NewOCRStage(rec Recognizer, blobs Blobs, logger *slog.Logger) *OCRStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &OCRStage{Recognizer: rec, Blobs: blobs, Logger: logger}
}

// Run recognises the job's file and uploads the first-page preview of PDF and Word files
// next to the original.
func (s *OCRStage) Run(ctx context.Context, job Job) (entity.OCRResult, error) {
	doc, err := s.Recognize(ctx, job)
	if err != nil {
		return entity.OCRResult{}, err
	}
	defer func() {
		if err := doc.Cleanup(); err != nil {
			s.Logger.Warn("pipeline.ocr.cleanup_failed", "document_id", job.DocumentID, "error", err)
		}
	}()

	res := doc.OCR
	key, err := s.StorePreview(ctx, doc, job.StorageKey, job.Filename)
	if err != nil {
		return entity.OCRResult{}, err
	}
	res.PreviewImage = key
	return res, nil
}

// Recognize runs OCR on a local copy of the job's original. The caller owns doc.Cleanup.
func (s *OCRStage) Recognize(ctx context.Context, job Job) (*ocr.Document, error) {
	if s.Recognizer == nil || !s.Recognizer.Ready() {
		return nil, common.EngineUnavailable("ocr engine")
	}
	local, release, err := s.localCopy(ctx, job)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	doc, err := s.Recognizer.Extract(ctx, local)
	if err != nil {
		s.Logger.Error("pipeline.ocr.failed", "document_id", job.DocumentID, "error", err)
		return nil, fmt.Errorf("ocr: %w", err)
	}
	s.Logger.Info("pipeline.ocr.ok",
		"document_id", job.DocumentID,
		"pages", doc.Pages,
		"blocks", len(doc.OCR.Blocks()),
		"text_len", len(doc.OCR.RawText),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return doc, nil
}

// StorePreview uploads the first rasterized page as "<prefix>/<stem>_preview.png" and
// returns its key, or nil when the document has no page images.
func (s *OCRStage) StorePreview(ctx context.Context, doc *ocr.Document, storageKey, filename string) (*string, error) {
	if len(doc.PageImages) == 0 || s.Blobs == nil || storageKey == "" {
		return nil, nil
	}
	data, err := os.ReadFile(doc.PageImages[0])
	if err != nil {
		return nil, common.StorageFailure("read preview page", err)
	}
	if filename == "" {
		filename = path.Base(storageKey)
	}
	key := storage.PreviewKey(keyPrefix(storageKey), filename)
	if err := s.Blobs.Put(ctx, key, data, "image/png"); err != nil {
		return nil, common.StorageFailure("upload preview", err)
	}
	return &key, nil
}

// localCopy returns the job's local file, fetching the original from blob storage when the
// local copy is gone.
func (s *OCRStage) localCopy(ctx context.Context, job Job) (string, func(), error) {
	noop := func() {}
	if job.FilePath != "" {
		_, err := os.Stat(job.FilePath)
		if err == nil {
			return job.FilePath, noop, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", noop, common.StorageFailure("stat local file", err)
		}
	}
	if job.StorageKey == "" || s.Blobs == nil {
		return "", noop, common.NewAppError(common.CodeInvalidArgument,
			fmt.Sprintf("file for document %s is not available", job.DocumentID), common.ErrInvalidInput)
	}

	data, err := s.Blobs.Get(ctx, job.StorageKey)
	if err != nil {
		return "", noop, common.StorageFailure("fetch original", err)
	}
	name := job.Filename
	if name == "" {
		name = path.Base(job.StorageKey)
	}
	f, err := os.CreateTemp("", "docflow-*"+strings.ToLower(filepath.Ext(name)))
	if err != nil {
		return "", noop, common.StorageFailure("create temp file", err)
	}
	release := func() { _ = os.Remove(f.Name()) }
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		release()
		return "", noop, common.StorageFailure("write temp file", err)
	}
	if err := f.Close(); err != nil {
		release()
		return "", noop, common.StorageFailure("close temp file", err)
	}
	s.Logger.Debug("pipeline.ocr.fetched_original", "document_id", job.DocumentID, "key", job.StorageKey)
	return f.Name(), release, nil
}

// keyPrefix is the directory part of a storage key as key parts.
func keyPrefix(key string) []string {
	dir := path.Dir(key)
	if dir == "." || dir == "/" {
		return nil
	}
	return strings.Split(dir, "/")
}
