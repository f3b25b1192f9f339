package constants

const (
	// NotFoundValue is the placeholder for a requested field the model did not return.
	NotFoundValue = "Не найдено"
	// ExtractionErrorValue is the placeholder used when the generator call itself failed.
	ExtractionErrorValue = "Ошибка извлечения"
	// DefaultTriggerName labels trigger runs whose folder has no usable base name.
	DefaultTriggerName = "Триггер"

	// TableFieldPrefix and TableFieldSeparator form the "table:<group>::<column>" token grammar.
	TableFieldPrefix    = "table:"
	TableFieldSeparator = "::"
)

// Confidence levels assigned during reconciliation.
const (
	DefaultConfidence  = 0.8
	FallbackConfidence = 0.55
)

// IsPlaceholder reports whether v is one of the synthetic "no value" markers.
func IsPlaceholder(v string) bool {
	return v == "" || v == NotFoundValue || v == ExtractionErrorValue
}
