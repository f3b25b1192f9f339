package constants

import "strings"

// AllowedExtensions holds the file extensions accepted for ingestion and trigger scans.
var AllowedExtensions = map[string]struct{}{
	"png":  {},
	"jpg":  {},
	"jpeg": {},
	"gif":  {},
	"bmp":  {},
	"tiff": {},
	"pdf":  {},
	"doc":  {},
	"docx": {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// IsPDFExt reports whether ext is a PDF extension.
func IsPDFExt(ext string) bool {
	return NormalizeExt(ext) == "pdf"
}

// IsWordExt reports whether ext is a Word document extension.
func IsWordExt(ext string) bool {
	switch NormalizeExt(ext) {
	case "doc", "docx":
		return true
	}
	return false
}

// MimeTypeForExt maps an extension to the content type stored with the blob.
func MimeTypeForExt(ext string) string {
	switch NormalizeExt(ext) {
	case "png":
		return "image/png"
	case "jpg", "jpeg":
		return "image/jpeg"
	case "gif":
		return "image/gif"
	case "bmp":
		return "image/bmp"
	case "tiff":
		return "image/tiff"
	case "pdf":
		return "application/pdf"
	case "doc":
		return "application/msword"
	case "docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	}
	return "application/octet-stream"
}
