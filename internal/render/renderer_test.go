package render

import (
	"context"
	"errors"
	"image"
	"image/color"
	"sync"
	"testing"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRasterizer produces a gray page sized 100x140 per unit of scale.
type fakeRasterizer struct {
	mu    sync.Mutex
	calls int
	block chan struct{} // when set, Rasterize waits on it or ctx
	err   error
}

func (f *fakeRasterizer) Rasterize(ctx context.Context, page int, scale float64) (image.Image, []model.GlyphRun, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, nil, f.err
	}
	w, h := int(100*scale), int(140*scale)
	runs := []model.GlyphRun{{Text: "page", Transform: [6]float64{10, 0, 0, 10, 10, 100}, Width: 20}}
	return solid(w, h, color.Gray{Y: 200}), runs, nil
}

func (f *fakeRasterizer) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingSurface struct {
	mu     sync.Mutex
	frames []image.Image
	flags  []bool
}

func (s *recordingSurface) Draw(img image.Image, placeholder bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, img)
	s.flags = append(s.flags, placeholder)
}

func TestRenderer_MissThenHit(t *testing.T) {
	cache := NewCache(8)
	rast := &fakeRasterizer{}
	r := NewRenderer(cache, rast)
	surface := &recordingSurface{}

	frame, err := r.Render(context.Background(), "doc", 0, 1, surface)
	require.NoError(t, err)
	assert.False(t, frame.CacheHit)
	assert.False(t, frame.UsedPlaceholder)
	assert.Len(t, frame.Runs, 1)
	assert.Equal(t, []bool{false}, surface.flags)

	r.Wait()

	frame, err = r.Render(context.Background(), "doc", 0, 1.001, surface)
	require.NoError(t, err)
	assert.True(t, frame.CacheHit)
	assert.Equal(t, 1, rast.Calls())
	assert.Equal(t, image.Rect(0, 0, 100, 140), frame.Image.Bounds())
}

func TestRenderer_StretchedPlaceholder(t *testing.T) {
	cache := NewCache(8)
	cache.Put(NewKey("doc", 2, 1), solid(100, 140, color.White))
	r := NewRenderer(cache, &fakeRasterizer{})
	surface := &recordingSurface{}

	frame, err := r.Render(context.Background(), "doc", 2, 2, surface)
	require.NoError(t, err)
	assert.True(t, frame.UsedPlaceholder)

	require.Len(t, surface.frames, 2)
	assert.True(t, surface.flags[0])
	assert.Equal(t, image.Rect(0, 0, 200, 280), surface.frames[0].Bounds())
	assert.False(t, surface.flags[1])
	assert.Equal(t, image.Rect(0, 0, 200, 280), surface.frames[1].Bounds())
}

func TestRenderer_CancelledRenderIsStale(t *testing.T) {
	cache := NewCache(8)
	rast := &fakeRasterizer{block: make(chan struct{})}
	r := NewRenderer(cache, rast)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := r.Render(ctx, "doc", 0, 1.5, &recordingSurface{})
		done <- err
	}()

	require.Eventually(t, func() bool { return rast.Calls() == 1 }, timeout, tick)
	cancel()

	err := <-done
	assert.ErrorIs(t, err, ErrRasterizationCancelled)

	r.Wait()
	_, ok := cache.Get(NewKey("doc", 0, 1.5))
	assert.False(t, ok, "stale bitmaps are not cached")
}

func TestRenderer_AlreadyCancelledSkipsRasterizer(t *testing.T) {
	rast := &fakeRasterizer{}
	r := NewRenderer(NewCache(8), rast)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Render(ctx, "doc", 0, 1, &recordingSurface{})
	assert.ErrorIs(t, err, ErrRasterizationCancelled)
	assert.Zero(t, rast.Calls())
}

func TestRenderer_RasterizerFailure(t *testing.T) {
	boom := errors.New("boom")
	r := NewRenderer(NewCache(8), &fakeRasterizer{err: boom})

	_, err := r.Render(context.Background(), "doc", 0, 1, &recordingSurface{})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrRasterizationCancelled)
}

func TestRenderer_InvalidScale(t *testing.T) {
	r := NewRenderer(NewCache(8), &fakeRasterizer{})
	_, err := r.Render(context.Background(), "doc", 0, 0, SurfaceFunc(func(image.Image, bool) {}))
	assert.Error(t, err)
}
