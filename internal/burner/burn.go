package burner

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/textlayer"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	// InfoKey is the document info entry holding the embedded annotations
	// as base64 JSON.
	InfoKey = "LectoriumAnnotations"
	// ocrKey is the page dictionary entry pointing at the page's OCR text
	// stream, so a later burn replaces it instead of stacking layers.
	ocrKey = "LectoriumOCR"

	ocrFontName = "LecOCR"
	gsPrefix    = "LecGS"
)

func configuration() *pdfmodel.Configuration {
	conf := pdfmodel.NewDefaultConfiguration()
	conf.ValidationMode = pdfmodel.ValidationRelaxed
	return conf
}

func readContext(data []byte) (*pdfmodel.Context, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", ErrBurnFailed)
	}
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), configuration())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read document: %w", ErrBurnFailed, err)
	}
	return ctx, nil
}

// PageCount returns the number of pages of a document.
func PageCount(data []byte) (int, error) {
	ctx, err := readContext(data)
	if err != nil {
		return 0, err
	}
	return ctx.PageCount, nil
}

// burner holds the state of one burn.
type burner struct {
	ctx     *pdfmodel.Context
	measure widthFunc
	font    *types.IndirectRef
	gsSeq   int
}

// Burn executes one burn synchronously. Workers call it; it is exported for
// the CLI, which has no session.
func Burn(kind Kind, req Request, measurer textlayer.Measurer) (Response, error) {
	start := time.Now()
	resp, err := burn(kind, req, measurer)
	status := "success"
	if err != nil {
		status = "error"
	}
	burnsTotal.WithLabelValues(kind.String(), status).Inc()
	burnDuration.WithLabelValues(kind.String()).Observe(time.Since(start).Seconds())
	return resp, err
}

func burn(kind Kind, req Request, measurer textlayer.Measurer) (Response, error) {
	ctx, err := readContext(req.Source)
	if err != nil {
		return Response{}, err
	}
	b := &burner{ctx: ctx, measure: func(text string, size float64) float64 {
		if measurer == nil {
			return 0
		}
		return measurer.Measure("Helvetica", text, size)
	}}

	if kind == Full {
		req.Annotations = drawable(req.Annotations)
	}

	resp := Response{PageCount: ctx.PageCount}
	if !req.pending(kind) {
		// nothing to draw; rewrite without touching page content
		return b.finish(resp)
	}

	byPage := make(map[int][]model.Annotation)
	if kind == Full {
		for _, a := range req.Annotations {
			if !a.IsBurned {
				byPage[a.Page] = append(byPage[a.Page], a)
			}
		}
	}

	pages := make(map[int]struct{})
	for p := range byPage {
		pages[p] = struct{}{}
	}
	for p := range req.OCR {
		pages[p] = struct{}{}
	}
	order := make([]int, 0, len(pages))
	for p := range pages {
		order = append(order, p)
	}
	sort.Ints(order)

	for _, page := range order {
		if page < 0 || page >= ctx.PageCount {
			return Response{}, fmt.Errorf("%w: page %d out of range (%d pages)", ErrBurnFailed, page, ctx.PageCount)
		}
		lum, ok := req.Luminance[page]
		if !ok {
			lum = 1
		}
		words, hasOCR := req.OCR[page]
		if err := b.page(page, byPage[page], words, hasOCR, lum); err != nil {
			return Response{}, fmt.Errorf("%w: page %d: %w", ErrBurnFailed, page, err)
		}
		if hasOCR {
			resp.OCRPages = append(resp.OCRPages, page)
		}
	}

	if kind == Full {
		ids, err := b.embed(req.Annotations)
		if err != nil {
			return Response{}, fmt.Errorf("%w: %w", ErrBurnFailed, err)
		}
		resp.Annotations = ids
	}
	return b.finish(resp)
}

// drawable drops annotations whose geometry cannot be drawn. They are
// neither drawn nor recorded, so they stay pending.
func drawable(anns []model.Annotation) []model.Annotation {
	out := make([]model.Annotation, 0, len(anns))
	for _, a := range anns {
		if err := a.Validate(); err != nil {
			slog.Warn("Skipping annotation", "id", a.ID, "error", err)
			continue
		}
		out = append(out, a)
	}
	return out
}

func (b *burner) finish(resp Response) (Response, error) {
	var out bytes.Buffer
	if err := api.WriteContext(b.ctx, &out); err != nil {
		return Response{}, fmt.Errorf("%w: failed to write document: %w", ErrBurnFailed, err)
	}
	resp.Data = out.Bytes()
	slog.Debug("Burn written", "bytes", len(resp.Data), "ocr_pages", len(resp.OCRPages),
		"annotations", len(resp.Annotations))
	return resp, nil
}

// page draws annotations and writes OCR text on one page. Page numbers are
// 0-based here and 1-based in pdfcpu.
func (b *burner) page(page int, anns []model.Annotation, words []model.OCRWord, hasOCR bool, luminance float64) error {
	pageDict, _, inh, err := b.ctx.PageDict(page+1, true)
	if err != nil {
		return err
	}
	if pageDict == nil {
		return fmt.Errorf("missing page dictionary")
	}
	space := b.space(pageDict, inh)

	res, err := b.resources(pageDict, inh)
	if err != nil {
		return err
	}

	contents, err := b.contents(pageDict)
	if err != nil {
		return err
	}

	var added types.Array
	if len(anns) > 0 {
		s := &stream{}
		var notes []model.Annotation
		for _, a := range anns {
			switch a.Type {
			case model.AnnotationHighlight:
				gs, err := b.extGState(res, a.Opacity, luminance, true)
				if err != nil {
					return err
				}
				drawHighlight(s, space, a, gs)
			case model.AnnotationInk:
				gs, err := b.extGState(res, a.Opacity, luminance, false)
				if err != nil {
					return err
				}
				drawInk(s, space, a, gs)
			case model.AnnotationNote:
				notes = append(notes, a)
			}
		}
		if !s.empty() {
			ir, err := b.newStream(s.bytes())
			if err != nil {
				return err
			}
			added = append(added, *ir)
		}
		if err := b.addNotes(pageDict, space, notes); err != nil {
			return err
		}
	}

	if hasOCR {
		contents = b.dropOCR(pageDict, contents)
		font, err := b.ocrFont(res)
		if err != nil {
			return err
		}
		s := &stream{}
		writeOCR(s, space, words, font, b.measure)
		ir, err := b.newStream(s.bytes())
		if err != nil {
			return err
		}
		added = append(added, *ir)
		pageDict[ocrKey] = *ir
	}

	if len(added) == 0 {
		return nil
	}

	// isolate the original content's graphics state from ours
	open, err := b.newStream([]byte("q\n"))
	if err != nil {
		return err
	}
	closing, err := b.newStream([]byte("Q\n"))
	if err != nil {
		return err
	}
	next := types.Array{*open}
	next = append(next, contents...)
	next = append(next, *closing)
	next = append(next, added...)
	pageDict["Contents"] = next
	return nil
}

func (b *burner) space(pageDict types.Dict, inh *pdfmodel.InheritedPageAttrs) pageSpace {
	if inh != nil && inh.MediaBox != nil {
		r := inh.MediaBox
		return pageSpace{llx: r.LL.X, lly: r.LL.Y, width: r.Width(), height: r.Height()}
	}
	if obj, ok := pageDict["MediaBox"]; ok {
		if arr, err := b.ctx.DereferenceArray(obj); err == nil && len(arr) == 4 {
			v := make([]float64, 4)
			for i, o := range arr {
				v[i] = number(o)
			}
			return pageSpace{llx: v[0], lly: v[1], width: v[2] - v[0], height: v[3] - v[1]}
		}
	}
	return pageSpace{width: 612, height: 792}
}

func number(o types.Object) float64 {
	switch v := o.(type) {
	case types.Float:
		return float64(v)
	case types.Integer:
		return float64(v)
	default:
		return 0
	}
}

// resources returns the page's own resource dictionary, creating it from
// the inherited resources when the page has none.
func (b *burner) resources(pageDict types.Dict, inh *pdfmodel.InheritedPageAttrs) (types.Dict, error) {
	if obj, ok := pageDict["Resources"]; ok && obj != nil {
		return b.ctx.DereferenceDict(obj)
	}
	res := types.Dict{}
	if inh != nil {
		for k, v := range inh.Resources {
			res[k] = v
		}
	}
	pageDict["Resources"] = res
	return res, nil
}

// subDict returns res[key] as a dictionary, creating it when absent.
func (b *burner) subDict(res types.Dict, key string) (types.Dict, error) {
	if obj, ok := res[key]; ok && obj != nil {
		d, err := b.ctx.DereferenceDict(obj)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}
	}
	d := types.Dict{}
	res[key] = d
	return d, nil
}

// contents returns the page's content stream references as an array.
func (b *burner) contents(pageDict types.Dict) (types.Array, error) {
	obj, ok := pageDict["Contents"]
	if !ok || obj == nil {
		return nil, nil
	}
	if arr, isArr := obj.(types.Array); isArr {
		return append(types.Array(nil), arr...), nil
	}
	deref, err := b.ctx.Dereference(obj)
	if err != nil {
		return nil, err
	}
	if arr, isArr := deref.(types.Array); isArr {
		return append(types.Array(nil), arr...), nil
	}
	return types.Array{obj}, nil
}

// dropOCR removes a previously burned OCR stream from the contents.
func (b *burner) dropOCR(pageDict types.Dict, contents types.Array) types.Array {
	prev, ok := pageDict[ocrKey].(types.IndirectRef)
	if !ok {
		return contents
	}
	out := contents[:0]
	for _, c := range contents {
		if ir, isRef := c.(types.IndirectRef); isRef && ir.ObjectNumber == prev.ObjectNumber {
			continue
		}
		out = append(out, c)
	}
	return out
}

func (b *burner) newStream(content []byte) (*types.IndirectRef, error) {
	sd, err := b.ctx.NewStreamDictForBuf(content)
	if err != nil {
		return nil, err
	}
	if err := sd.Encode(); err != nil {
		return nil, err
	}
	return b.ctx.IndRefForNewObject(*sd)
}

// extGState registers a graphics state with the given alpha. Fills use a
// blend mode chosen from the page luminance: Multiply on light pages and
// Screen on dark ones.
func (b *burner) extGState(res types.Dict, opacity, luminance float64, fill bool) (string, error) {
	states, err := b.subDict(res, "ExtGState")
	if err != nil {
		return "", err
	}
	if opacity <= 0 {
		opacity = 1
	}
	gs := types.Dict{"Type": types.Name("ExtGState")}
	if fill {
		gs["ca"] = types.Float(opacity)
		if luminance < 0.5 {
			gs["BM"] = types.Name("Screen")
		} else {
			gs["BM"] = types.Name("Multiply")
		}
	} else {
		gs["CA"] = types.Float(opacity)
	}

	var name string
	for {
		name = fmt.Sprintf("%s%d", gsPrefix, b.gsSeq)
		b.gsSeq++
		if _, taken := states[name]; !taken {
			break
		}
	}
	states[name] = gs
	return name, nil
}

func (b *burner) ocrFont(res types.Dict) (string, error) {
	fonts, err := b.subDict(res, "Font")
	if err != nil {
		return "", err
	}
	if b.font == nil {
		d := types.Dict{
			"Type":     types.Name("Font"),
			"Subtype":  types.Name("Type1"),
			"BaseFont": types.Name("Helvetica"),
			"Encoding": types.Name("WinAnsiEncoding"),
		}
		ir, err := b.ctx.IndRefForNewObject(d)
		if err != nil {
			return "", err
		}
		b.font = ir
	}
	fonts[ocrFontName] = *b.font
	return ocrFontName, nil
}

// addNotes adds a Text annotation icon per note.
func (b *burner) addNotes(pageDict types.Dict, space pageSpace, notes []model.Annotation) error {
	if len(notes) == 0 {
		return nil
	}
	var annots types.Array
	if obj, ok := pageDict["Annots"]; ok && obj != nil {
		arr, err := b.ctx.DereferenceArray(obj)
		if err != nil {
			return err
		}
		annots = append(annots, arr...)
	}
	for _, n := range notes {
		x, y, w, h := space.rect(*n.BBox)
		c := model.ColorOr(n.Color, model.HighlightYellow)
		d := types.Dict{
			"Type":     types.Name("Annot"),
			"Subtype":  types.Name("Text"),
			"Rect":     types.Array{types.Float(x), types.Float(y), types.Float(x + w), types.Float(y + h)},
			"Contents": utf16Hex(n.Text),
			"NM":       utf16Hex(n.ID),
			"Name":     types.Name("Comment"),
			"C":        types.Array{types.Float(c.R), types.Float(c.G), types.Float(c.B)},
			"F":        types.Integer(4), // print
		}
		ir, err := b.ctx.IndRefForNewObject(d)
		if err != nil {
			return err
		}
		annots = append(annots, *ir)
	}
	pageDict["Annots"] = annots
	return nil
}

// utf16Hex encodes text as a UTF-16BE hex string with byte order mark.
func utf16Hex(text string) types.HexLiteral {
	buf := []byte{0xfe, 0xff}
	for _, r := range text {
		if r > 0xffff {
			r -= 0x10000
			hi, lo := 0xd800+(r>>10), 0xdc00+(r&0x3ff)
			buf = append(buf, byte(hi>>8), byte(hi), byte(lo>>8), byte(lo))
			continue
		}
		buf = append(buf, byte(r>>8), byte(r))
	}
	return types.HexLiteral(fmt.Sprintf("%X", buf))
}

// embed records every annotation, marked burned, in the info dictionary.
func (b *burner) embed(anns []model.Annotation) ([]string, error) {
	record := make([]model.Annotation, len(anns))
	ids := make([]string, len(anns))
	for i, a := range anns {
		a = a.Clone()
		a.IsBurned = true
		record[i] = a
		ids[i] = a.ID
	}
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("failed to encode annotations: %w", err)
	}
	value := types.StringLiteral(base64.StdEncoding.EncodeToString(data))

	if b.ctx.Info == nil {
		ir, err := b.ctx.IndRefForNewObject(types.Dict{InfoKey: value})
		if err != nil {
			return nil, err
		}
		b.ctx.Info = ir
		return ids, nil
	}
	info, err := b.ctx.DereferenceDict(*b.ctx.Info)
	if err != nil {
		return nil, fmt.Errorf("failed to read info dictionary: %w", err)
	}
	if info == nil {
		return nil, fmt.Errorf("info dictionary missing")
	}
	info[InfoKey] = value
	return ids, nil
}
