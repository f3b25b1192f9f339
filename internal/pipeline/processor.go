package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/common"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/llm"
	"github.com/joseph-ayodele/docflow/internal/ocr"
	"github.com/joseph-ayodele/docflow/internal/reconcile"
	"github.com/joseph-ayodele/docflow/internal/search"
)

type Options struct {
	Recognizer  Recognizer
	Classifier  Classifier
	Generator   llm.Generator
	Reconciler  *reconcile.Engine
	Types       TypeStore
	Documents   DocumentStore
	Runs        RunStore
	Checkpoints CheckpointStore // optional; without it every attempt starts from OCR
	Blobs       Blobs
	Index       search.Index // optional
	Logger      *slog.Logger
}

// Processor chains the stages for one document.
type Processor struct {
	logger      *slog.Logger
	docs        DocumentStore
	checkpoints CheckpointStore
	ocr         *OCRStage
	classify    *ClassifyStage
	extract     *ExtractStage
	persist     *PersistStage
}

func NewProcessor(opts Options) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		logger:      logger,
		docs:        opts.Documents,
		checkpoints: opts.Checkpoints,
		ocr:         NewOCRStage(opts.Recognizer, opts.Blobs, logger),
		classify:    NewClassifyStage(opts.Types, opts.Classifier, logger),
		extract:     NewExtractStage(opts.Generator, opts.Documents, opts.Reconciler, logger),
		persist:     NewPersistStage(opts.Documents, opts.Runs, opts.Index, logger),
	}
}

// Process runs the pipeline for job, resuming after the last checkpointed stage.
func (p *Processor) Process(ctx context.Context, job Job) (out *Outcome, err error) {
	log := p.logger.With("document_id", job.DocumentID, "run_id", job.RunID, "attempt", job.Attempt)
	start := time.Now()

	cp := p.loadCheckpoint(ctx, job.DocumentID, log)
	if cp.Stage != constants.StageNone {
		log.Info("pipeline.resume", "stage", cp.Stage, "checkpoint_attempt", cp.Attempt)
	}
	cp.Attempt = job.Attempt
	defer func() {
		if err != nil {
			msg := err.Error()
			cp.LastError = &msg
			p.saveCheckpoint(ctx, cp, log)
		}
	}()

	if err := p.docs.UpdateStatus(ctx, job.DocumentID, constants.DocumentProcessing, nil); err != nil {
		return nil, common.StorageFailure("mark processing", err)
	}

	if !cp.Stage.Reached(constants.StageOCRDone) || cp.OCR == nil {
		res, err := p.ocr.Run(ctx, job)
		if err != nil {
			return nil, err
		}
		cp.OCR, cp.Stage = &res, constants.StageOCRDone
		p.saveCheckpoint(ctx, cp, log)
	}
	res := *cp.OCR

	var dt *entity.DocumentType
	if cp.Stage.Reached(constants.StageClassified) && cp.DocumentTypeID != nil {
		dt, err = p.classify.Run(ctx, cp.DocumentTypeID, job.OwnerID, res.RawText)
	} else {
		dt, err = p.classify.Run(ctx, job.DocumentTypeID, job.OwnerID, res.RawText)
	}
	if err != nil {
		return nil, err
	}
	if !cp.Stage.Reached(constants.StageClassified) || cp.DocumentTypeID == nil {
		cp.DocumentTypeID, cp.Stage = &dt.ID, constants.StageClassified
		p.saveCheckpoint(ctx, cp, log)
	}

	if !cp.Stage.Reached(constants.StageExtracted) {
		tokens := job.RequestedFields
		if len(tokens) == 0 {
			tokens = dt.Fields
		}
		cp.Fields = p.extract.Run(ctx, job.DocumentID, tokens, dt, res)
		cp.Stage = constants.StageExtracted
		p.saveCheckpoint(ctx, cp, log)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !cp.Stage.Reached(constants.StagePersisted) {
		if err := p.persist.Persist(ctx, job, res, cp.Fields); err != nil {
			return nil, err
		}
		cp.Stage = constants.StagePersisted
		p.saveCheckpoint(ctx, cp, log)
	}

	p.persist.IndexDocument(ctx, job, dt, res.RawText)
	p.clearCheckpoint(ctx, job.DocumentID, log)

	log.Info("pipeline.done",
		"document_type_id", dt.ID, "fields", len(cp.Fields), "elapsed_ms", time.Since(start).Milliseconds())
	return &Outcome{
		DocumentTypeID:  dt.ID,
		Fields:          cp.Fields,
		RawText:         res.RawText,
		StructuredOCR:   res.JSONContent,
		PreviewImageKey: res.PreviewImage,
		FinalStatus:     constants.DocumentNeedsReview,
	}, nil
}

// Analysis is the OCR and classification of a file that has no document row yet.
type Analysis struct {
	Document *ocr.Document
	Type     *entity.DocumentType
}

// Close removes the rasterized pages.
func (a *Analysis) Close() error {
	if a == nil {
		return nil
	}
	return a.Document.Cleanup()
}

// Analyze recognises and classifies a local file among the owner's types. Files without any
// recognised text fail with an ambiguity error.
func (p *Processor) Analyze(ctx context.Context, path string, ownerID uuid.UUID) (*Analysis, error) {
	doc, err := p.ocr.Recognize(ctx, Job{FilePath: path, OwnerID: ownerID})
	if err != nil {
		return nil, err
	}
	text := doc.OCR.RawText
	if text == "" {
		text = doc.OCR.RawTextRaw
	}
	dt, err := p.classify.Run(ctx, nil, ownerID, text)
	if err != nil {
		_ = doc.Cleanup()
		return nil, err
	}
	return &Analysis{Document: doc, Type: dt}, nil
}

// Seed stores the preview of an analysed file and checkpoints it as classified, so that
// Process for documentID starts at extraction.
func (p *Processor) Seed(ctx context.Context, documentID uuid.UUID, storageKey, filename string, a *Analysis) error {
	res := a.Document.OCR
	key, err := p.ocr.StorePreview(ctx, a.Document, storageKey, filename)
	if err != nil {
		return err
	}
	res.PreviewImage = key
	if p.checkpoints == nil {
		return nil
	}
	cp := &entity.TaskCheckpoint{
		DocumentID:     documentID,
		Stage:          constants.StageClassified,
		DocumentTypeID: &a.Type.ID,
		OCR:            &res,
	}
	if err := p.checkpoints.Save(ctx, cp); err != nil {
		return common.StorageFailure("seed checkpoint", err)
	}
	return nil
}

// Discard drops the checkpoint of a document whose task gave up.
func (p *Processor) Discard(ctx context.Context, documentID uuid.UUID) {
	p.clearCheckpoint(ctx, documentID, p.logger)
}

func (p *Processor) loadCheckpoint(ctx context.Context, documentID uuid.UUID, log *slog.Logger) *entity.TaskCheckpoint {
	fresh := &entity.TaskCheckpoint{DocumentID: documentID, Stage: constants.StageNone}
	if p.checkpoints == nil {
		return fresh
	}
	cp, err := p.checkpoints.Get(ctx, documentID)
	if err != nil {
		log.Warn("pipeline.checkpoint.load_failed", "error", err)
		return fresh
	}
	if cp == nil {
		return fresh
	}
	return cp
}

func (p *Processor) saveCheckpoint(ctx context.Context, cp *entity.TaskCheckpoint, log *slog.Logger) {
	if p.checkpoints == nil {
		return
	}
	if err := p.checkpoints.Save(context.WithoutCancel(ctx), cp); err != nil {
		log.Warn("pipeline.checkpoint.save_failed", "stage", cp.Stage, "error", err)
	}
}

func (p *Processor) clearCheckpoint(ctx context.Context, documentID uuid.UUID, log *slog.Logger) {
	if p.checkpoints == nil {
		return
	}
	if err := p.checkpoints.Delete(context.WithoutCancel(ctx), documentID); err != nil {
		log.Warn("pipeline.checkpoint.delete_failed", "document_id", documentID, "error", err)
	}
}
