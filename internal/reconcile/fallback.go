package reconcile

import (
	"regexp"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// fallbackValue scans OCR text line by line for "<name>: value" or "<name> - value".
// Leading markdown decoration (bullets, emphasis, quotes, table pipes) is tolerated.
func fallbackValue(name, text string) (string, bool) {
	name = strings.TrimSpace(name)
	if name == "" || strings.TrimSpace(text) == "" {
		return "", false
	}
	re, err := regexp.Compile(`(?i)^[\s*#>|\-]*` + regexp.QuoteMeta(name) + `[\s*]*[:\-]\s*(.+)$`)
	if err != nil {
		return "", false
	}
	for _, line := range strings.Split(text, "\n") {
		m := re.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		v := strings.TrimSpace(strings.Trim(strings.TrimSpace(m[1]), "*|"))
		if v == "" || constants.IsPlaceholder(v) {
			continue
		}
		return v, true
	}
	return "", false
}
