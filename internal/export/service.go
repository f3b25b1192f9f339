package export

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXML  Format = "xml"
	FormatJSON Format = "json"
)

var contentTypes = map[Format]string{
	FormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	FormatXML:  "application/xml; charset=utf-8",
	FormatJSON: "application/json; charset=utf-8",
}

// ParseFormat accepts a format name in any case, with or without a leading dot.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")))
	if _, ok := contentTypes[f]; !ok {
		return "", common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("unknown export format %q", s), common.ErrInvalidInput)
	}
	return f, nil
}

type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessedDocument, error)
}

type RunStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.ProcessingRun, error)
}

type TypeStore interface {
	Get(ctx context.Context, id uuid.UUID) (*entity.DocumentType, error)
}

// File is a rendered export.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Service loads a document with its type and renders it.
type Service struct {
	docs   DocumentStore
	runs   RunStore
	types  TypeStore
	logger *slog.Logger
}

func NewService(docs DocumentStore, runs RunStore, types TypeStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{docs: docs, runs: runs, types: types, logger: logger}
}

// Export renders documentID in format. A non-nil ownerID must own the document's run.
func (s *Service) Export(ctx context.Context, documentID uuid.UUID, ownerID *uuid.UUID, format Format) (*File, error) {
	start := time.Now()
	ct, ok := contentTypes[format]
	if !ok {
		return nil, common.NewAppError(common.CodeInvalidArgument, fmt.Sprintf("unknown export format %q", format), common.ErrInvalidInput)
	}
	doc, err := s.docs.Get(ctx, documentID)
	if err != nil {
		return nil, err
	}
	run, err := s.runs.Get(ctx, doc.ProcessingRunID)
	if err != nil {
		return nil, err
	}
	if ownerID != nil && run.UserID != *ownerID {
		return nil, common.NewAppError(common.CodeNotFound, "document not found", common.ErrNotFound)
	}
	dt, err := s.types.Get(ctx, run.DocumentTypeID)
	if err != nil {
		return nil, err
	}

	d := Build(doc, dt)
	var data []byte
	switch format {
	case FormatXLSX:
		data, err = XLSX(d)
	case FormatXML:
		data, err = XML(d)
	case FormatJSON:
		data, err = JSON(d)
	}
	if err != nil {
		s.logger.Error("export.render.failed", "document_id", documentID, "format", format, "error", err)
		return nil, common.WrapError(err, "render export")
	}

	s.logger.Info("export.ok",
		"document_id", documentID,
		"format", format,
		"fields", len(d.Fields),
		"tables", len(d.Tables),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return &File{Name: exportName(doc.Filename, format), ContentType: ct, Data: data}, nil
}

func exportName(filename string, format Format) string {
	stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	if stem == "" || stem == "." {
		stem = "document"
	}
	return stem + "_1c." + string(format)
}
