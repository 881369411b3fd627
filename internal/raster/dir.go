package raster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"regexp"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/disintegration/imaging"
)

var safeID = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DirRasterizer serves pages from <root>/<file id>/page-<n>.<ext>, n being
// one-based. An optional page-<n>.json sidecar holds the page's glyph runs
// in document units. Images are resampled to the requested zoom of the
// document's page size.
type DirRasterizer struct {
	dir   string
	pages []model.Page
}

// Open creates a rasterizer for doc. Page sizes come from the document
// binary; pages it does not describe fall back to the image size.
func Open(root string, doc model.Document) (*DirRasterizer, error) {
	if root == "" {
		return nil, errors.New("raster: no page image directory configured")
	}
	if !safeID.MatchString(doc.ID) || doc.ID == "." || doc.ID == ".." {
		return nil, fmt.Errorf("raster: invalid file id %q", doc.ID)
	}
	dir := filepath.Join(root, doc.ID)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return nil, fmt.Errorf("raster: no page images for %s: %w", doc.ID, ErrPageImageMissing)
	}

	var pages []model.Page
	if len(doc.Data) > 0 {
		insp, err := burner.Inspect(doc.Data)
		if err != nil && insp.PageCount == 0 {
			return nil, fmt.Errorf("raster: %w", err)
		}
		pages = insp.Pages
	}
	return &DirRasterizer{dir: dir, pages: pages}, nil
}

// Rasterize implements render.Rasterizer.
func (r *DirRasterizer) Rasterize(ctx context.Context, page int, scale float64) (image.Image, []model.GlyphRun, error) {
	if page < 0 || (len(r.pages) > 0 && page >= len(r.pages)) {
		return nil, nil, fmt.Errorf("raster: page %d out of range", page)
	}
	if scale <= 0 {
		return nil, nil, fmt.Errorf("raster: invalid scale %v", scale)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	path, err := findPageImage(r.dir, page)
	if err != nil {
		return nil, nil, err
	}
	img, err := LoadImage(path)
	if err != nil {
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	runs, err := r.runs(page)
	if err != nil {
		return nil, nil, err
	}

	w, h := r.targetSize(page, img.Bounds(), scale)
	if w != img.Bounds().Dx() || h != img.Bounds().Dy() {
		img = imaging.Resize(img, w, h, imaging.Lanczos)
	}
	return img, runs, nil
}

// targetSize maps the page size at scale to pixels. Without a known page
// size the image is taken to be drawn at zoom 1.
func (r *DirRasterizer) targetSize(page int, b image.Rectangle, scale float64) (int, int) {
	width, height := float64(b.Dx()), float64(b.Dy())
	if page < len(r.pages) && r.pages[page].Width > 0 && r.pages[page].Height > 0 {
		width, height = r.pages[page].Width, r.pages[page].Height
	}
	w := max(1, int(math.Round(width*scale)))
	h := max(1, int(math.Round(height*scale)))
	return w, h
}

func (r *DirRasterizer) runs(page int) ([]model.GlyphRun, error) {
	path := filepath.Join(r.dir, fmt.Sprintf("page-%d.json", page+1))
	data, err := os.ReadFile(path) //nolint:gosec // G304: sidecar under the configured directory
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, &ImageError{Operation: "load", Path: path, Err: err}
	}
	var runs []model.GlyphRun
	if err := json.Unmarshal(data, &runs); err != nil {
		return nil, &ImageError{Operation: "decode", Path: path, Err: err}
	}
	if runs == nil {
		runs = []model.GlyphRun{}
	}
	return runs, nil
}
