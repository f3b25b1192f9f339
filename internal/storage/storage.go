// Package storage keeps original uploads and previews in blob storage under
// "<document type>/<run>/<file>" keys.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store is the blob storage used for originals and previews.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
}

// Exister is the part of Store FindAvailableKey needs.
type Exister interface {
	Exists(ctx context.Context, key string) (bool, error)
}

// BuildKey joins non-empty parts with "/", normalising backslashes and stray slashes.
func BuildKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		v := strings.Trim(strings.ReplaceAll(strings.TrimSpace(p), `\`, "/"), "/")
		if v != "" {
			cleaned = append(cleaned, v)
		}
	}
	return strings.Join(cleaned, "/")
}

// FindAvailableKey returns the first free key for filename under prefix, appending _1, _2, ...
// before the extension when the plain name is taken.
func FindAvailableKey(ctx context.Context, store Exister, prefix []string, filename string) (string, error) {
	ext := path.Ext(filename)
	stem := strings.TrimSuffix(filename, ext)
	for n := 0; ; n++ {
		name := filename
		if n > 0 {
			name = fmt.Sprintf("%s_%d%s", stem, n, ext)
		}
		key := BuildKey(append(append([]string{}, prefix...), name)...)
		taken, err := store.Exists(ctx, key)
		if err != nil {
			return "", fmt.Errorf("check key %s: %w", key, err)
		}
		if !taken {
			return key, nil
		}
		if err := ctx.Err(); err != nil {
			return "", err
		}
	}
}

// Prefix is the key prefix of a document: "<documentTypeID>/<runID>".
func Prefix(documentTypeID, runID string) []string {
	return []string{documentTypeID, runID}
}

// PreviewKey is where the first-page preview of filename is stored.
func PreviewKey(prefix []string, filename string) string {
	stem := strings.TrimSuffix(path.Base(filename), path.Ext(filename))
	return BuildKey(append(append([]string{}, prefix...), stem+"_preview.png")...)
}
