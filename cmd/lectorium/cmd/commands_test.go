package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/MeKo-Tech/lectorium/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePDF(t *testing.T, dir, name string, pages int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, testutil.SamplePDF(pages), 0o600))
	return path
}

func TestHashCommand(t *testing.T) {
	dir := isolate(t)
	path := writePDF(t, dir, "thesis.pdf", 3)

	out, _, err := executeCommand(t, "hash", "--json", "--check=false", path)
	require.NoError(t, err)
	var res hashResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, "thesis", res.ID)
	assert.Equal(t, 3, res.PageCount)
	assert.Len(t, res.Hash, 16)
	assert.Nil(t, res.Conflict)

	out, _, err = executeCommand(t, "hash", "--json=false", "--check", "--store", ":memory:", path)
	require.NoError(t, err)
	assert.Contains(t, out, "untracked")

	_, _, err = executeCommand(t, "hash", "--check=false", filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestBurnCommand(t *testing.T) {
	dir := isolate(t)
	path := writePDF(t, dir, "thesis.pdf", 2)
	annPath := filepath.Join(dir, "notes.yaml")
	require.NoError(t, os.WriteFile(annPath, []byte(`annotations:
  - page: 0
    type: highlight
    color: "#ffeb3b"
    opacity: 0.4
    bbox: {x: 72, y: 96, width: 180, height: 14}
  - page: 1
    type: note
    color: "#ff9800"
    opacity: 1
    text: Check this figure
    bbox: {x: 400, y: 300, width: 20, height: 20}
`), 0o600))
	output := filepath.Join(dir, "burned.pdf")

	out, _, err := executeCommand(t, "burn", "--store", ":memory:", "--annotations", annPath, "--output", output, path)
	require.NoError(t, err)
	assert.Contains(t, out, "2 annotations")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	pages, err := burner.PageCount(data)
	require.NoError(t, err)
	assert.Equal(t, 2, pages)
	embedded, err := burner.ReadEmbedded(data)
	require.NoError(t, err)
	assert.Len(t, embedded, 2)
}

func TestLoadAnnotationFile(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{name: "empty", content: "annotations: []\n", want: 0},
		{name: "ink", content: "annotations:\n  - page: 0\n    type: ink\n    color: '#000'\n    opacity: 1\n    paths: [[{x: 1, y: 2}, {x: 3, y: 4}]]\n", want: 1},
		{name: "missing bbox", content: "annotations:\n  - page: 0\n    type: highlight\n", wantErr: true},
		{name: "unknown type", content: "annotations:\n  - page: 0\n    type: stamp\n", wantErr: true},
		{name: "not yaml", content: "annotations: [", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o600))
			anns, err := loadAnnotationFile(path)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, anns, tt.want)
		})
	}

	_, err := loadAnnotationFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestWriteBatch(t *testing.T) {
	res := ocr.BatchResult{Pages: []ocr.BatchPage{{
		Page:        0,
		Words:       []model.OCRWord{{Text: "Kapitel"}},
		Text:        "Kapitel",
		Markdown:    "## Kapitel\n",
		Translation: []string{"Chapter"},
	}}}

	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, "text", res))
	assert.Equal(t, "=== Page 1 ===\nKapitel\n  > Chapter\n", buf.String())

	buf.Reset()
	require.NoError(t, writeBatch(&buf, "markdown", res))
	assert.Equal(t, "<!-- page 1 -->\n\n## Kapitel\n\n", buf.String())

	buf.Reset()
	require.NoError(t, writeBatch(&buf, "json", res))
	var decoded ocr.BatchResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "Kapitel", decoded.Pages[0].Text)
}

func TestOCRCommand_Errors(t *testing.T) {
	dir := isolate(t)
	path := writePDF(t, dir, "scan.pdf", 1)

	_, _, err := executeCommand(t, "ocr", "--format", "html", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported format")

	_, _, err = executeCommand(t, "ocr", "--format", "text", "--store", ":memory:", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no vision service configured")
}

func TestConfigCommands(t *testing.T) {
	dir := isolate(t)
	target := filepath.Join(dir, "generated.yaml")

	out, _, err := executeCommand(t, "config", "init", target)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote")
	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Contains(t, string(data), "rate_limit")

	out, _, err = executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "Environment prefix: LECTORIUM")
	assert.Contains(t, out, "log_level: info")
}
