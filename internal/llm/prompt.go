package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
	"github.com/joseph-ayodele/docflow/internal/entity"
	"github.com/joseph-ayodele/docflow/internal/fieldschema"
)

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// RAGExample is a previously extracted document of the same type used as a few-shot sample.
type RAGExample struct {
	Filename string
	Fields   []entity.ExtractedField
}

// FormatRAGContext renders examples as numbered blocks, skipping placeholder values
// and examples that end up empty.
func FormatRAGContext(examples []RAGExample) string {
	var parts []string
	for _, ex := range examples {
		var lines []string
		for _, f := range ex.Fields {
			if f.Name == "" || constants.IsPlaceholder(f.Value) {
				continue
			}
			lines = append(lines, fmt.Sprintf("  %s: %s", f.Name, f.Value))
		}
		if len(lines) == 0 {
			continue
		}
		name := ex.Filename
		if name == "" {
			name = "Документ"
		}
		parts = append(parts, fmt.Sprintf("Пример %d (%s):\n%s", len(parts)+1, name, strings.Join(lines, "\n")))
	}
	return strings.Join(parts, "\n\n")
}

// ExtractionMaxTokens returns the completion budget for an extraction request.
func ExtractionMaxTokens(s fieldschema.Schema) int {
	if s.HasTables() {
		return MaxTokensExtractTables
	}
	return MaxTokensExtract
}

// BuildExtractionPrompt renders the field extraction instruction. ragContext may be empty.
func BuildExtractionPrompt(text string, s fieldschema.Schema, ragContext string) string {
	text = Truncate(text, DocumentTextLimit)

	fieldLines := make([]string, 0, len(s.Scalars))
	for _, f := range s.Scalars {
		fieldLines = append(fieldLines, "- "+f)
	}

	tablesExample := `"tables": []`
	var tablesText string
	if s.HasTables() {
		groupLines := make([]string, 0, len(s.Tables))
		for _, g := range s.Tables {
			groupLines = append(groupLines, fmt.Sprintf("- %s: %s", g.Name, strings.Join(g.Columns, ", ")))
		}
		first := s.Tables[0]
		cells := make([]string, 0, len(first.Columns))
		for _, c := range first.Columns {
			cells = append(cells, fmt.Sprintf(`"%s": "значение"`, c))
		}
		tablesExample = fmt.Sprintf(`"tables": [{"group": "%s", "rows": [{%s}]}]`, first.Name, strings.Join(cells, ", "))
		tablesText = "\n\nТАБЛИЧНЫЕ ГРУППЫ (извлеки ТОЛЬКО указанные колонки для каждой группы):\n" +
			strings.Join(groupLines, "\n") +
			"\n\nВАЖНО: Верни ТОЛЬКО те колонки, которые указаны выше. НЕ добавляй другие колонки.\n" +
			"Используй ТОЧНЫЕ названия колонок как указано.\n" +
			"Сохраняй порядок строк как в документе.\n" +
			"Извлеки ВСЕ строки таблицы из документа.\n"
	}

	var b strings.Builder
	b.WriteString("Ты - эксперт по извлечению данных из документов.\n")
	b.WriteString("Проанализируй текст документа и извлеки значения для указанных полей.\n\n")
	steps := []string{
		"Внимательно прочитай текст документа",
		"Найди значения для каждого запрошенного поля",
		`Если поле встречается несколько раз (например, в таблице), верни несколько объектов с одинаковым "name" в порядке появления`,
		`Если поле не найдено, укажи "` + constants.NotFoundValue + `"`,
		"Для каждого поля оцени уверенность от 0.0 до 1.0",
	}
	if ragContext != "" {
		b.WriteString("ПРИМЕРЫ ИЗВЛЕЧЁННЫХ ПОЛЕЙ ИЗ ДОКУМЕНТОВ ЭТОГО ТИПА:\n")
		b.WriteString(ragContext)
		b.WriteString("\n\nТЕКСТ ДОКУМЕНТА ДЛЯ АНАЛИЗА:\n")
		steps = append([]string{"Используй примеры для понимания формата и типичных значений полей"}, steps...)
	} else {
		b.WriteString("ТЕКСТ ДОКУМЕНТА:\n")
	}
	b.WriteString(text)
	b.WriteString("\n\nПОЛЯ ДЛЯ ИЗВЛЕЧЕНИЯ:\n")
	b.WriteString(strings.Join(fieldLines, "\n"))
	b.WriteString(tablesText)
	b.WriteString("\n\nИНСТРУКЦИИ:\n")
	for i, step := range steps {
		fmt.Fprintf(&b, "%d. %s\n", i+1, step)
	}
	b.WriteString("\nВерни ТОЛЬКО JSON в формате:\n{\n")
	b.WriteString(`  "fields": [` + "\n")
	b.WriteString(`    {"name": "название поля", "value": "найденное значение", "confidence": 0.95},` + "\n")
	b.WriteString("    ...\n  ],\n  ")
	b.WriteString(tablesExample)
	b.WriteString("\n}\n\nНе добавляй никаких пояснений, только JSON.")
	return b.String()
}

type typePayload struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Fields      []string          `json:"fields"`
	ExportKeys  map[string]string `json:"export_keys"`
}

// BuildClassificationPrompt asks the model to pick one of the candidate type ids.
func BuildClassificationPrompt(text string, types []*entity.DocumentType) string {
	payload := make([]typePayload, 0, len(types))
	for _, t := range types {
		fields := t.Fields
		if fields == nil {
			fields = []string{}
		}
		keys := t.ExportKeys
		if keys == nil {
			keys = map[string]string{}
		}
		payload = append(payload, typePayload{
			ID:          t.ID.String(),
			Name:        t.Name,
			Description: t.Description,
			Fields:      fields,
			ExportKeys:  keys,
		})
	}
	typesJSON, _ := json.Marshal(payload)

	return "Ты классификатор документов. Определи, к какому типу относится документ.\n" +
		`Верни ТОЛЬКО JSON: {"document_type_id": "<id>"} или {"document_type_id": null}.` + "\n\n" +
		"ТИПЫ ДОКУМЕНТОВ:\n" + string(typesJSON) + "\n\n" +
		"ТЕКСТ ДОКУМЕНТА:\n" + Truncate(text, DocumentTextLimit) + "\n"
}

// RerankItem is one candidate shown to the model during reranking.
type RerankItem struct {
	Filename string
	Content  string
}

// BuildRerankPrompt lists candidates as 1-based numbered lines.
func BuildRerankPrompt(query string, items []RerankItem, topK int) string {
	lines := make([]string, 0, len(items))
	for i, it := range items {
		name := it.Filename
		if name == "" {
			name = "Unknown"
		}
		snippet := Truncate(it.Content, RerankSnippetLimit)
		if snippet != it.Content {
			snippet += "..."
		}
		lines = append(lines, fmt.Sprintf("%d. [%s]: %s", i+1, name, snippet))
	}
	return "Ты - помощник для поиска документов. Пользователь ищет: \"" + query + "\"\n\n" +
		"Вот список документов с кратким содержанием:\n" + strings.Join(lines, "\n") + "\n\n" +
		"Задача: отранжируй документы по релевантности к запросу пользователя.\n" +
		`Верни ТОЛЬКО JSON в формате: {"ranked": [1, 3, 2, ...]}` + "\n" +
		"где числа - номера документов в порядке убывания релевантности.\n" +
		fmt.Sprintf("Включи только самые релевантные документы, максимум %d штук.\n", topK) +
		"Если документ совсем не релевантен запросу, не включай его."
}

// BuildAnswerPrompt composes a free-form question about one document.
func BuildAnswerPrompt(question, rawText string, fields []entity.ExtractedField) string {
	var section string
	var lines []string
	for _, f := range fields {
		if f.Value == "" || f.Value == constants.NotFoundValue {
			continue
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", f.Name, f.Value))
	}
	if len(lines) > 0 {
		section = "\n\nИЗВЛЕЧЁННЫЕ ДАННЫЕ:\n" + strings.Join(lines, "\n")
	}
	return "Ты - помощник по анализу документов. Ответь на вопрос пользователя на основе содержимого документа.\n\n" +
		"ТЕКСТ ДОКУМЕНТА:\n" + Truncate(rawText, DocumentTextLimit) + "\n" + section + "\n\n" +
		"ВОПРОС: " + question + "\n\n" +
		"Ответь кратко и по существу на русском языке."
}
