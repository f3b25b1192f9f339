package ingest

import (
	"path/filepath"
	"strings"

	"github.com/joseph-ayodele/docflow/constants"
)

// AllowedExt checks ext against constants.AllowedExtensions.
func AllowedExt(ext string) bool {
	ext = constants.NormalizeExt(ext)
	_, ok := constants.AllowedExtensions[ext]
	return ok
}

// IsHidden checks if a file or directory is hidden (starts with '.').
func IsHidden(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".")
}

// uploadName is the base name the file is stored under. Directory parts of a client
// supplied name are dropped.
func uploadName(f Upload) string {
	name := strings.TrimSpace(f.Filename)
	if name == "" {
		name = f.Path
	}
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" {
		return ""
	}
	return name
}
