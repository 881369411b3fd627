package testutil

import (
	"bytes"
	"fmt"
)

// PDFPage describes one page of a generated test document.
type PDFPage struct {
	Width   float64
	Height  float64
	Content string // raw content stream; may be empty
	// Scan is a JPEG drawn over the whole page as image /Im1, like a
	// scanner writes it.
	Scan []byte
	// ScanWidth and ScanHeight are the pixel size of Scan.
	ScanWidth, ScanHeight int
}

// BuildPDF writes a minimal, well-formed PDF with a correct cross-reference
// table. Every page shares a Helvetica font resource named /F1.
func BuildPDF(pages []PDFPage) []byte {
	var buf bytes.Buffer
	offsets := []int{0}
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets)-1, body)
	}

	buf.WriteString("%PDF-1.7\n%\xe2\xe3\xcf\xd3\n")

	// 1 catalog, 2 pages tree, 3 font, then page/content pairs, then scans
	kids := ""
	scanObj := make([]int, len(pages))
	next := 4 + 2*len(pages)
	for i, p := range pages {
		kids += fmt.Sprintf("%d 0 R ", 4+2*i)
		if len(p.Scan) > 0 {
			scanObj[i] = next
			next++
		}
	}
	obj("<< /Type /Catalog /Pages 2 0 R >>")
	obj(fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", kids, len(pages)))
	obj("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	for i, p := range pages {
		w, h := p.Width, p.Height
		if w <= 0 || h <= 0 {
			w, h = 612, 792
		}
		xobj, content := "", p.Content
		if scanObj[i] > 0 {
			xobj = fmt.Sprintf(" /XObject << /Im1 %d 0 R >>", scanObj[i])
			content = fmt.Sprintf("q %g 0 0 %g 0 0 cm /Im1 Do Q\n", w, h) + content
		}
		obj(fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] "+
			"/Resources << /Font << /F1 3 0 R >>%s >> /Contents %d 0 R >>", w, h, xobj, 5+2*i))
		obj(fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content))
	}
	for _, p := range pages {
		if len(p.Scan) == 0 {
			continue
		}
		obj(fmt.Sprintf("<< /Type /XObject /Subtype /Image /Width %d /Height %d /ColorSpace /DeviceRGB "+
			"/BitsPerComponent 8 /Filter /DCTDecode /Length %d >>\nstream\n%s\nendstream",
			p.ScanWidth, p.ScanHeight, len(p.Scan), p.Scan))
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(offsets))
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets[1:] {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(offsets), xref)
	return buf.Bytes()
}

// SamplePDF returns a letter-sized document whose pages each show
// "Page N" in Helvetica.
func SamplePDF(pageCount int) []byte {
	pages := make([]PDFPage, pageCount)
	for i := range pages {
		pages[i] = PDFPage{
			Width:   612,
			Height:  792,
			Content: fmt.Sprintf("BT /F1 24 Tf 72 700 Td (Page %d) Tj ET", i+1),
		}
	}
	return BuildPDF(pages)
}
