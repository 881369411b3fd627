// Package raster provides page rasterizers backed by pre-rendered page
// images or by the scans embedded in a document.
package raster

import (
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	_ "golang.org/x/image/bmp"
)

// SupportedImageExtensions lists supported file extensions for loading, in
// lookup order.
var SupportedImageExtensions = []string{".png", ".jpg", ".jpeg", ".bmp"}

// ErrPageImageMissing is returned when no image exists for a page.
var ErrPageImageMissing = errors.New("page image missing")

// ImageError wraps a failure to read or decode a page image.
type ImageError struct {
	Operation string
	Path      string
	Err       error
}

func (e *ImageError) Error() string {
	return fmt.Sprintf("page image %s %s: %v", e.Operation, e.Path, e.Err)
}

func (e *ImageError) Unwrap() error { return e.Err }

// IsSupportedImage reports whether the path has a supported image extension.
func IsSupportedImage(path string) bool {
	return slices.Contains(SupportedImageExtensions, strings.ToLower(filepath.Ext(path)))
}

// LoadImage opens and decodes an image file.
func LoadImage(path string) (image.Image, error) {
	if path == "" {
		return nil, &ImageError{Operation: "load", Err: errors.New("empty path")}
	}
	if !IsSupportedImage(path) {
		return nil, &ImageError{Operation: "load", Path: path, Err: fmt.Errorf("unsupported format: %s", filepath.Ext(path))}
	}

	f, err := os.Open(path) //nolint:gosec // G304: page images live under the configured directory
	if err != nil {
		return nil, &ImageError{Operation: "load", Path: path, Err: err}
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Debug("Failed to close page image", "path", path, "error", err)
		}
	}()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &ImageError{Operation: "decode", Path: path, Err: err}
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return nil, &ImageError{Operation: "decode", Path: path, Err: errors.New("empty image")}
	}
	return img, nil
}

// findPageImage returns the first existing page-<n> image in dir, n being
// the one-based page number.
func findPageImage(dir string, page int) (string, error) {
	base := filepath.Join(dir, fmt.Sprintf("page-%d", page+1))
	for _, ext := range SupportedImageExtensions {
		p := base + ext
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("page %d in %s: %w", page, dir, ErrPageImageMissing)
}
