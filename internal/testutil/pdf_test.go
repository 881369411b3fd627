package testutil

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPDF_CrossReference(t *testing.T) {
	data := SamplePDF(2)
	require.True(t, bytes.HasPrefix(data, []byte("%PDF-1.7")))
	require.True(t, bytes.HasSuffix(data, []byte("%%EOF\n")))

	s := string(data)
	idx := strings.LastIndex(s, "startxref\n")
	require.Positive(t, idx)
	rest := strings.SplitN(s[idx+len("startxref\n"):], "\n", 2)
	xref, err := strconv.Atoi(rest[0])
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(s[xref:], "xref\n0 8\n"))

	// every in-use entry points at its object header
	lines := strings.Split(s[xref:], "\n")
	for n := 1; n < 8; n++ {
		off, err := strconv.Atoi(lines[2+n][:10])
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(s[off:], fmt.Sprintf("%d 0 obj", n)), "object %d", n)
	}
	assert.Contains(t, s, "(Page 2) Tj")
}

func TestBuildPDF_Scan(t *testing.T) {
	scan := []byte{0xff, 0xd8, 0xff, 0xd9}
	data := BuildPDF([]PDFPage{{}, {Scan: scan, ScanWidth: 2, ScanHeight: 3}})
	s := string(data)

	// pages are 4 and 6, the scan follows the last content stream
	assert.Contains(t, s, "/XObject << /Im1 8 0 R >> >> /Contents 7 0 R")
	assert.Contains(t, s, "8 0 obj\n<< /Type /XObject /Subtype /Image /Width 2 /Height 3")
	assert.Contains(t, s, "q 612 0 0 792 0 0 cm /Im1 Do Q")
	assert.Contains(t, s, "xref\n0 9\n")
}
