package ingest

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

type DirStats struct {
	Scanned uint32
	Matched uint32
	Skipped uint32
}

// SubmitDirectory walks root, skips hidden entries if requested, and submits every
// allowed file as one manual run.
func (s *Service) SubmitDirectory(ctx context.Context, ownerID, typeID uuid.UUID, root string, skipHidden bool) (*Submission, DirStats, error) {
	var stats DirStats
	if strings.TrimSpace(root) == "" {
		return nil, stats, errors.New("root path is required")
	}

	var files []Upload
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root && d.IsDir() {
			return nil
		}
		stats.Scanned++
		if skipHidden && IsHidden(path) {
			stats.Skipped++
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if !AllowedExt(filepath.Ext(path)) {
			stats.Skipped++
			return nil
		}
		stats.Matched++
		files = append(files, Upload{Filename: d.Name(), Path: path})
		return nil
	})
	if err != nil {
		return nil, stats, fmt.Errorf("walk: %w", err)
	}
	if len(files) == 0 {
		s.logger.Info("ingest.directory.empty", "root", root, "scanned", stats.Scanned)
		return nil, stats, nil
	}

	sub, err := s.Submit(ctx, Request{OwnerID: ownerID, DocumentTypeID: typeID, Files: files})
	return sub, stats, err
}
