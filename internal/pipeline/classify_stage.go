package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
)

type ClassifyStage struct {
	Types      TypeStore
	Classifier Classifier
	Logger     *slog.Logger
}

func NewClassifyStage(types TypeStore, classifier Classifier, logger *slog.Logger) *ClassifyStage {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClassifyStage{Types: types, Classifier: classifier, Logger: logger}
}

// Run resolves the document type: the given id when set, otherwise the classifier's pick
// among the owner's types.
func (s *ClassifyStage) Run(ctx context.Context, typeID *uuid.UUID, ownerID uuid.UUID, text string) (*entity.DocumentType, error) {
	if typeID != nil {
		dt, err := s.Types.Get(ctx, *typeID)
		if err != nil {
			return nil, fmt.Errorf("load document type: %w", err)
		}
		return dt, nil
	}

	if strings.TrimSpace(text) == "" {
		return nil, common.NewAppError(common.CodeClassification, "no text extracted", common.ErrClassificationAmbiguous)
	}
	candidates, err := s.Types.ListByUser(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list document types: %w", err)
	}
	if s.Classifier == nil {
		return nil, common.NewAppError(common.CodeClassification, "unable to classify document", common.ErrClassificationAmbiguous)
	}
	dt, err := s.Classifier.Classify(ctx, text, candidates)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("pipeline.classify.ok", "owner_id", ownerID, "document_type_id", dt.ID, "name", dt.Name)
	return dt, nil
}
