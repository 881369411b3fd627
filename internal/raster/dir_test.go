package raster

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/testutil"
	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageDir writes page images for file id "doc" and returns the root.
func pageDir(t *testing.T, files map[string]image.Image) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "doc")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, img := range files {
		require.NoError(t, imaging.Save(img, filepath.Join(dir, name)))
	}
	return root
}

func TestDirRasterizer_ScalesToPageSize(t *testing.T) {
	// SamplePDF pages are 612x792; the image is drawn at half size
	root := pageDir(t, map[string]image.Image{
		"page-1.png": imaging.New(306, 396, color.White),
		"page-2.jpg": imaging.New(612, 792, color.Black),
	})
	r, err := Open(root, model.Document{ID: "doc", Data: testutil.SamplePDF(2)})
	require.NoError(t, err)

	img, runs, err := r.Rasterize(context.Background(), 0, 1)
	require.NoError(t, err)
	assert.Nil(t, runs, "no sidecar, no glyph information")
	assert.Equal(t, image.Rect(0, 0, 612, 792), img.Bounds())

	img, _, err = r.Rasterize(context.Background(), 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 306, img.Bounds().Dx())
	assert.Equal(t, 396, img.Bounds().Dy())
}

func TestDirRasterizer_Sidecar(t *testing.T) {
	root := pageDir(t, map[string]image.Image{"page-1.bmp": imaging.New(20, 10, color.White)})
	sidecar := `[{"transform":[12,0,0,12,72,700],"text":"Hello","width":30,"font_name":"Helvetica"}]`
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc", "page-1.json"), []byte(sidecar), 0o600))

	r, err := Open(root, model.Document{ID: "doc"})
	require.NoError(t, err)

	img, runs, err := r.Rasterize(context.Background(), 0, 2)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 40, 20), img.Bounds(), "without page sizes the image is zoom 1")
	require.Len(t, runs, 1)
	assert.Equal(t, "Hello", runs[0].Text)
	assert.InDelta(t, 72, runs[0].Transform[4], 1e-9)
}

func TestDirRasterizer_Errors(t *testing.T) {
	root := pageDir(t, map[string]image.Image{"page-1.png": imaging.New(10, 10, color.White)})
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc", "page-2.png"), []byte("not a png"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc", "page-1.json"), []byte("{"), 0o600))

	_, err := Open("", model.Document{ID: "doc"})
	assert.Error(t, err)
	_, err = Open(root, model.Document{ID: "../etc"})
	assert.Error(t, err)
	_, err = Open(root, model.Document{ID: "missing"})
	assert.ErrorIs(t, err, ErrPageImageMissing)

	r, err := Open(root, model.Document{ID: "doc"})
	require.NoError(t, err)
	ctx := context.Background()

	_, _, err = r.Rasterize(ctx, 0, 1)
	var ie *ImageError
	require.ErrorAs(t, err, &ie, "broken sidecar")
	assert.Equal(t, "decode", ie.Operation)

	_, _, err = r.Rasterize(ctx, 1, 1)
	require.ErrorAs(t, err, &ie)

	_, _, err = r.Rasterize(ctx, 2, 1)
	assert.ErrorIs(t, err, ErrPageImageMissing)

	_, _, err = r.Rasterize(ctx, -1, 1)
	assert.Error(t, err)
	_, _, err = r.Rasterize(ctx, 0, 0)
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, _, err = r.Rasterize(cancelled, 0, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsSupportedImage(t *testing.T) {
	assert.True(t, IsSupportedImage("a/page-1.PNG"))
	assert.True(t, IsSupportedImage("page-1.jpeg"))
	assert.False(t, IsSupportedImage("page-1.tiff"))

	_, err := LoadImage("page-1.tiff")
	assert.Error(t, err)
	_, err = LoadImage("")
	assert.Error(t, err)
}
