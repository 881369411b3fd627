package burner

import (
	"context"
	"io"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/testutil"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var created = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

type fixedWidth float64

func (f fixedWidth) Measure(_, text string, size float64) float64 {
	return float64(f) * size * float64(len([]rune(text)))
}

func pageContent(t *testing.T, data []byte, page int) string {
	t.Helper()
	ctx, err := readContext(data)
	require.NoError(t, err)
	r, err := pdfcpu.ExtractPageContent(ctx, page+1)
	require.NoError(t, err)
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

func sampleAnnotations() []model.Annotation {
	return []model.Annotation{
		{
			ID: "hl", Page: 0, Type: model.AnnotationHighlight, Color: "#ffeb3b", Opacity: 0.4,
			BBox: &model.BBox{X: 72, Y: 80, Width: 120, Height: 20}, CreatedAt: created,
		},
		{
			ID: "ink", Page: 1, Type: model.AnnotationInk, Color: "#ff0000", Opacity: 1, StrokeWidth: 3,
			Paths: [][]model.Point{{{X: 10, Y: 10}, {X: 50, Y: 60}, {X: 90, Y: 10}}, {{X: 5, Y: 5}}}, CreatedAt: created,
		},
		{
			ID: "note", Page: 2, Type: model.AnnotationNote, Color: "#00aaff", Opacity: 1, Text: "Prüfen (bitte)",
			BBox: &model.BBox{X: 500, Y: 40, Width: 20, Height: 20}, CreatedAt: created,
		},
	}
}

func TestBurn_NothingPendingKeepsContent(t *testing.T) {
	src := testutil.SamplePDF(3)
	resp, err := Burn(Full, Request{Source: src}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, resp.PageCount)
	assert.Empty(t, resp.OCRPages)
	assert.Empty(t, resp.Annotations)

	n, err := PageCount(resp.Data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	for p := 0; p < 3; p++ {
		assert.Equal(t, pageContent(t, src, p), pageContent(t, resp.Data, p), "page %d", p)
	}

	embedded, err := ReadEmbedded(resp.Data)
	require.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestBurn_AlreadyBurnedAnnotationsAreNotRedrawn(t *testing.T) {
	src := testutil.SamplePDF(1)
	anns := sampleAnnotations()[:1]
	anns[0].IsBurned = true

	resp, err := Burn(Full, Request{Source: src, Annotations: anns}, nil)
	require.NoError(t, err)
	assert.Equal(t, pageContent(t, src, 0), pageContent(t, resp.Data, 0))
}

func TestBurn_FullDrawsAndEmbeds(t *testing.T) {
	src := testutil.SamplePDF(3)
	resp, err := Burn(Full, Request{Source: src, Annotations: sampleAnnotations()}, fixedWidth(0.5))
	require.NoError(t, err)
	assert.Equal(t, []string{"hl", "ink", "note"}, resp.Annotations)

	first := pageContent(t, resp.Data, 0)
	assert.Contains(t, first, "(Page 1) Tj", "original content is kept")
	assert.Contains(t, first, "re f")
	assert.Contains(t, first, "72 692 120 20 re", "top-left boxes map to y-up space")

	second := pageContent(t, resp.Data, 1)
	assert.Contains(t, second, "3 w 1 J 1 j")
	assert.Contains(t, second, "10 782 m")
	assert.Contains(t, second, "S")

	embedded, err := ReadEmbedded(resp.Data)
	require.NoError(t, err)
	require.Len(t, embedded, 3)
	for _, a := range embedded {
		assert.True(t, a.IsBurned)
		assert.Equal(t, model.FromEmbedded, a.Source)
	}
	assert.Equal(t, "Prüfen (bitte)", embedded[2].Text)
	assert.True(t, created.Equal(embedded[0].CreatedAt))

	// a second burn rewrites the record instead of appending to it
	again, err := Burn(Full, Request{Source: resp.Data, Annotations: embedded}, nil)
	require.NoError(t, err)
	reread, err := ReadEmbedded(again.Data)
	require.NoError(t, err)
	assert.Len(t, reread, 3)
}

func highlightBlend(t *testing.T, data []byte) types.Name {
	t.Helper()
	ctx, err := readContext(data)
	require.NoError(t, err)
	pageDict, _, _, err := ctx.PageDict(1, false)
	require.NoError(t, err)
	res, err := ctx.DereferenceDict(pageDict["Resources"])
	require.NoError(t, err)
	states, err := ctx.DereferenceDict(res["ExtGState"])
	require.NoError(t, err)
	for name, obj := range states {
		if !strings.HasPrefix(name, gsPrefix) {
			continue
		}
		gs, err := ctx.DereferenceDict(obj)
		require.NoError(t, err)
		bm, _ := gs["BM"].(types.Name)
		return bm
	}
	t.Fatal("no highlight graphics state")
	return ""
}

func TestBurn_BlendModeFollowsLuminance(t *testing.T) {
	tests := []struct {
		name      string
		luminance map[int]float64
		want      types.Name
	}{
		{name: "unknown page counts as light", want: "Multiply"},
		{name: "light page", luminance: map[int]float64{0: 0.9}, want: "Multiply"},
		{name: "threshold", luminance: map[int]float64{0: 0.5}, want: "Multiply"},
		{name: "dark page", luminance: map[int]float64{0: 0.2}, want: "Screen"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := Request{Source: testutil.SamplePDF(1), Annotations: sampleAnnotations()[:1], Luminance: tt.luminance}
			resp, err := Burn(Full, req, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, highlightBlend(t, resp.Data))
		})
	}
}

func TestBurn_IncrementalOCR(t *testing.T) {
	src := testutil.SamplePDF(2)
	words := []model.OCRWord{
		{Text: "Page", BBox: model.BBox{X: 72, Y: 70, Width: 60, Height: 24}, Confidence: 98},
		{Text: "", BBox: model.BBox{X: 1, Y: 1, Width: 1, Height: 1}},
	}
	resp, err := Burn(Incremental, Request{
		Source:      src,
		Annotations: sampleAnnotations(),
		OCR:         map[int][]model.OCRWord{1: words},
	}, fixedWidth(0.5))
	require.NoError(t, err)
	assert.Equal(t, []int{1}, resp.OCRPages)
	assert.Empty(t, resp.Annotations, "incremental burns leave annotations alone")

	content := pageContent(t, resp.Data, 1)
	assert.Contains(t, content, "3 Tr")
	assert.Contains(t, content, "<50616765> Tj")
	// 60 / (0.5 * 24 * 4) = 125%
	assert.Contains(t, content, "125 Tz")
	assert.NotContains(t, content, "re f")
	assert.Equal(t, pageContent(t, src, 0), pageContent(t, resp.Data, 0))

	embedded, err := ReadEmbedded(resp.Data)
	require.NoError(t, err)
	assert.Empty(t, embedded)
}

func TestBurn_OCRIsReplacedNotStacked(t *testing.T) {
	first, err := Burn(Incremental, Request{
		Source: testutil.SamplePDF(1),
		OCR:    map[int][]model.OCRWord{0: {{Text: "wrng", BBox: model.BBox{X: 1, Y: 1, Width: 10, Height: 10}}}},
	}, nil)
	require.NoError(t, err)

	second, err := Burn(Incremental, Request{
		Source: first.Data,
		OCR:    map[int][]model.OCRWord{0: {{Text: "right", BBox: model.BBox{X: 1, Y: 1, Width: 10, Height: 10}}}},
	}, nil)
	require.NoError(t, err)

	content := pageContent(t, second.Data, 0)
	assert.Contains(t, content, hexText("right"))
	assert.NotContains(t, content, hexText("wrng"))
	assert.Equal(t, 1, strings.Count(content, "3 Tr"))
}

func TestBurn_Failures(t *testing.T) {
	tests := []struct {
		name string
		req  Request
	}{
		{name: "empty source", req: Request{}},
		{name: "not a pdf", req: Request{Source: []byte("definitely not a pdf")}},
		{name: "page out of range", req: Request{
			Source: testutil.SamplePDF(1),
			OCR:    map[int][]model.OCRWord{4: {{Text: "x", BBox: model.BBox{Width: 1, Height: 1}}}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Burn(Full, tt.req, nil)
			require.ErrorIs(t, err, ErrBurnFailed)
			assert.Nil(t, resp.Data)
		})
	}

	_, err := PageCount([]byte("%PDF-broken"))
	assert.ErrorIs(t, err, ErrBurnFailed)
}

func TestWorker_MovesSourceAndBurns(t *testing.T) {
	w := NewWorker(WithMeasurer(fixedWidth(0.5)))
	t.Cleanup(w.Close)

	req := &Request{Source: testutil.SamplePDF(2), Annotations: sampleAnnotations()[:1]}
	resp, err := w.Submit(context.Background(), Full, req)
	require.NoError(t, err)
	assert.Nil(t, req.Source, "source is moved into the worker")
	assert.Equal(t, 2, resp.PageCount)
	assert.Equal(t, []string{"hl"}, resp.Annotations)
}

func TestWorker_SurvivesPanicAndTimeout(t *testing.T) {
	w := NewWorker(WithTimeout(50*time.Millisecond), WithMeasurer(fixedWidth(0.5)))
	t.Cleanup(w.Close)
	release := make(chan struct{})
	defer close(release)

	var calls atomic.Int32
	w.burn = func(kind Kind, req Request, m textlayer.Measurer) (Response, error) {
		switch calls.Add(1) {
		case 1:
			panic("corrupt xref")
		case 2:
			<-release
			return Response{}, nil
		default:
			return Burn(kind, req, m)
		}
	}
	ctx := context.Background()

	_, err := w.Submit(ctx, Full, &Request{Source: testutil.SamplePDF(1)})
	require.ErrorIs(t, err, ErrBurnFailed)
	assert.Contains(t, err.Error(), "panic")

	_, err = w.Submit(ctx, Full, &Request{Source: testutil.SamplePDF(1)})
	require.ErrorIs(t, err, ErrBurnFailed)
	assert.Contains(t, err.Error(), "timed out")

	resp, err := w.Submit(ctx, Full, &Request{Source: testutil.SamplePDF(1)})
	require.NoError(t, err, "worker keeps serving")
	assert.Equal(t, 1, resp.PageCount)
}

func TestWorker_Closed(t *testing.T) {
	w := NewWorker(WithMeasurer(fixedWidth(0.5)))
	w.Close()
	w.Close()
	req := &Request{Source: testutil.SamplePDF(1)}
	_, err := w.Submit(context.Background(), Full, req)
	assert.ErrorIs(t, err, ErrWorkerClosed)
	assert.Nil(t, req.Source)
}

func TestEncoding(t *testing.T) {
	assert.Equal(t, "<50616765>", hexText("Page"))
	assert.Equal(t, "<e93f>", hexText("é中"))
	assert.Equal(t, types.HexLiteral("FEFF0041"), utf16Hex("A"))
	assert.Equal(t, types.HexLiteral("FEFFD83DDE00"), utf16Hex("😀"))
	assert.Equal(t, "1.235", num(1.23456))
	assert.Equal(t, "0", num(0))
	assert.Equal(t, "-2", num(-2))
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "full", Full.String())
	assert.Equal(t, "incremental", Incremental.String())
	assert.Equal(t, "unknown", Kind(9).String())
}

func TestInspect(t *testing.T) {
	src := testutil.BuildPDF([]testutil.PDFPage{
		{Width: 612, Height: 792},
		{Width: 420, Height: 595},
	})

	in, err := Inspect(src)
	require.NoError(t, err)
	assert.Equal(t, 2, in.PageCount)
	require.Len(t, in.Pages, 2)
	assert.Equal(t, model.Page{Index: 1, Width: 420, Height: 595}, in.Pages[1])
	assert.Empty(t, in.Embedded)

	resp, err := Burn(Full, Request{Source: src, Annotations: sampleAnnotations()[:1]}, nil)
	require.NoError(t, err)
	in, err = Inspect(resp.Data)
	require.NoError(t, err)
	require.Len(t, in.Embedded, 1)
	assert.Equal(t, "hl", in.Embedded[0].ID)

	_, err = Inspect([]byte("not a pdf"))
	assert.Error(t, err)
}

func TestBurn_SkipsUndrawableAnnotations(t *testing.T) {
	broken := model.Annotation{ID: "nobox", Page: 0, Type: model.AnnotationHighlight, Opacity: 0.4, CreatedAt: created}
	anns := append([]model.Annotation{broken}, sampleAnnotations()[0])

	resp, err := Burn(Full, Request{Source: testutil.SamplePDF(1), Annotations: anns}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"hl"}, resp.Annotations)

	embedded, err := ReadEmbedded(resp.Data)
	require.NoError(t, err)
	require.Len(t, embedded, 1)
	assert.Equal(t, "hl", embedded[0].ID)

	resp, err = Burn(Full, Request{Source: testutil.SamplePDF(1), Annotations: []model.Annotation{broken}}, nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Annotations)
}
