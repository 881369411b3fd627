package raster

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"testing"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/testutil"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scannedPDF has a scanned first page and a text-only second page.
func scannedPDF(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, imaging.Encode(&buf, imaging.New(153, 198, color.Gray{Y: 200}), imaging.JPEG))
	return testutil.BuildPDF([]testutil.PDFPage{
		{Width: 612, Height: 792, Scan: buf.Bytes(), ScanWidth: 153, ScanHeight: 198},
		{Width: 612, Height: 792, Content: "BT /F1 12 Tf 72 700 Td (typed) Tj ET"},
	})
}

func TestScanRasterizer(t *testing.T) {
	r, err := NewScan(model.Document{ID: "scan", Data: scannedPDF(t)})
	require.NoError(t, err)
	ctx := context.Background()

	img, runs, err := r.Rasterize(ctx, 0, 0.5)
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.Equal(t, image.Rect(0, 0, 306, 396), img.Bounds(), "the scan is stretched over the page box")

	_, _, err = r.Rasterize(ctx, 1, 1)
	assert.ErrorIs(t, err, ErrPageImageMissing)

	_, _, err = r.Rasterize(ctx, 2, 1)
	assert.Error(t, err)
	_, _, err = r.Rasterize(ctx, 0, 0)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = r.Rasterize(cancelled, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewScan_NotAPDF(t *testing.T) {
	_, err := NewScan(model.Document{ID: "x", Data: []byte("plain text")})
	assert.Error(t, err)
}

func TestForDocument(t *testing.T) {
	root := pageDir(t, map[string]image.Image{"page-1.png": imaging.New(10, 10, color.White)})
	data := scannedPDF(t)

	r, err := ForDocument(root, model.Document{ID: "doc", Data: data})
	require.NoError(t, err)
	assert.IsType(t, &DirRasterizer{}, r, "pre-rendered images win")

	r, err = ForDocument(root, model.Document{ID: "other", Data: data})
	require.NoError(t, err)
	assert.IsType(t, &ScanRasterizer{}, r)

	r, err = ForDocument("", model.Document{ID: "doc", Data: data})
	require.NoError(t, err)
	assert.IsType(t, &ScanRasterizer{}, r)

	_, err = ForDocument(root, model.Document{ID: "../etc", Data: data})
	assert.Error(t, err)
}
