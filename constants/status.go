package constants

// DocumentStatus is the lifecycle status of a processed document.
type DocumentStatus string

// Stable values (store these exact strings in DB).
const (
	DocumentProcessing  DocumentStatus = "processing"   // OCR or extraction in flight
	DocumentNeedsReview DocumentStatus = "needs_review" // extraction done, awaiting a human
	DocumentReviewed    DocumentStatus = "reviewed"     // confirmed by a human
	DocumentError       DocumentStatus = "error"        // terminal for automated processing
)

// Valid reports whether s is a known document status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentProcessing, DocumentNeedsReview, DocumentReviewed, DocumentError:
		return true
	}
	return false
}

var documentTransitions = map[DocumentStatus][]DocumentStatus{
	DocumentProcessing:  {DocumentNeedsReview, DocumentError},
	DocumentNeedsReview: {DocumentReviewed, DocumentProcessing, DocumentError},
	DocumentReviewed:    {DocumentNeedsReview, DocumentProcessing},
	DocumentError:       {DocumentProcessing},
}

// CanTransition reports whether a document may move from s to next. Re-extraction is the
// only way out of error and goes through processing. Staying put is always allowed.
func (s DocumentStatus) CanTransition(next DocumentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range documentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RunStatus mirrors DocumentStatus at the processing run level.
type RunStatus string

const (
	RunProcessing  RunStatus = "processing"
	RunNeedsReview RunStatus = "needs_review"
	RunReviewed    RunStatus = "reviewed"
	RunError       RunStatus = "error"
)

func (s RunStatus) Valid() bool {
	switch s {
	case RunProcessing, RunNeedsReview, RunReviewed, RunError:
		return true
	}
	return false
}

// RunSource tells where a processing run came from.
type RunSource string

const (
	SourceManual  RunSource = "manual"
	SourceTrigger RunSource = "trigger"
)

// Stage is the last pipeline stage a task attempt completed. Retries resume after it.
type Stage string

const (
	StageNone       Stage = ""
	StageOCRDone    Stage = "ocr_done"
	StageClassified Stage = "classified"
	StageExtracted  Stage = "extracted"
	StagePersisted  Stage = "persisted"
)

var stageOrder = map[Stage]int{
	StageNone:       0,
	StageOCRDone:    1,
	StageClassified: 2,
	StageExtracted:  3,
	StagePersisted:  4,
}

// Reached reports whether s is at or past target.
func (s Stage) Reached(target Stage) bool {
	return stageOrder[s] >= stageOrder[target]
}
