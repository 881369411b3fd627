package raster

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/disintegration/imaging"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ScanRasterizer serves the page images embedded in a scanned document.
// The largest image on a page is taken to be the scan and is stretched over
// the page box. Pages without images have nothing to recognize.
type ScanRasterizer struct {
	data  []byte
	pages []model.Page
}

// NewScan creates a rasterizer over the images embedded in doc.
func NewScan(doc model.Document) (*ScanRasterizer, error) {
	insp, err := burner.Inspect(doc.Data)
	if err != nil && insp.PageCount == 0 {
		return nil, fmt.Errorf("raster: %w", err)
	}
	return &ScanRasterizer{data: doc.Data, pages: insp.Pages}, nil
}

// Rasterize implements render.Rasterizer. Scans carry no glyph runs.
func (r *ScanRasterizer) Rasterize(ctx context.Context, page int, scale float64) (image.Image, []model.GlyphRun, error) {
	if page < 0 || page >= len(r.pages) {
		return nil, nil, fmt.Errorf("raster: page %d out of range", page)
	}
	if scale <= 0 {
		return nil, nil, fmt.Errorf("raster: invalid scale %v", scale)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	img, err := r.extract(page)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	p := r.pages[page]
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if p.Width > 0 && p.Height > 0 {
		w = max(1, int(math.Round(p.Width*scale)))
		h = max(1, int(math.Round(p.Height*scale)))
	}
	if w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	return img, []model.GlyphRun{}, nil
}

// extract writes the document to a scratch directory and lets pdfcpu pull
// the images of one page out of it.
func (r *ScanRasterizer) extract(page int) (image.Image, error) {
	tempDir, err := os.MkdirTemp("", "lectorium-scan-*")
	if err != nil {
		return nil, fmt.Errorf("raster: failed to create temp directory: %w", err)
	}
	defer func() { _ = os.RemoveAll(tempDir) }()

	src := filepath.Join(tempDir, "document.pdf")
	if err := os.WriteFile(src, r.data, 0o600); err != nil {
		return nil, fmt.Errorf("raster: failed to stage document: %w", err)
	}
	out := filepath.Join(tempDir, "images")
	if err := os.Mkdir(out, 0o700); err != nil {
		return nil, fmt.Errorf("raster: failed to create image directory: %w", err)
	}
	if err := api.ExtractImagesFile(src, out, []string{strconv.Itoa(page + 1)}, nil); err != nil {
		return nil, fmt.Errorf("raster: failed to extract images of page %d: %w", page, err)
	}

	img, err := largestImage(out)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, fmt.Errorf("page %d has no embedded image: %w", page, ErrPageImageMissing)
	}
	return img, nil
}

// largestImage decodes every supported image below dir and returns the one
// with the most pixels. Unreadable files are skipped.
func largestImage(dir string) (image.Image, error) {
	var (
		best image.Image
		area int
	)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsSupportedImage(path) {
			return nil
		}
		img, err := LoadImage(path)
		if err != nil {
			return nil //nolint:nilerr // skip images pdfcpu wrote in formats we cannot decode
		}
		if a := img.Bounds().Dx() * img.Bounds().Dy(); a > area {
			best, area = img, a
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("raster: failed to collect extracted images: %w", err)
	}
	return best, nil
}

// ForDocument prefers pre-rendered page images under root and falls back to
// the images embedded in the document when root has none for it.
func ForDocument(root string, doc model.Document) (Rasterizer, error) {
	if root != "" {
		dir, err := Open(root, doc)
		if err == nil {
			return dir, nil
		}
		if !errors.Is(err, ErrPageImageMissing) {
			return nil, err
		}
	}
	return NewScan(doc)
}

// Rasterizer is satisfied by both rasterizers of this package.
type Rasterizer interface {
	Rasterize(ctx context.Context, page int, scale float64) (image.Image, []model.GlyphRun, error)
}
