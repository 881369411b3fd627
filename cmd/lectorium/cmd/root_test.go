package cmd

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate keeps configuration lookups away from the developer's files.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", dir)
	t.Chdir(dir)
	GetConfigLoader().Set("documents.dir", filepath.Join(dir, "documents"))
	return dir
}

// executeCommand runs the root command and returns stdout and stderr.
func executeCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := GetRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	t.Cleanup(func() {
		cmd.SetOut(nil)
		cmd.SetErr(nil)
		cmd.SetArgs(nil)
	})

	err := cmd.Execute()
	return strings.TrimSpace(stdout.String()), stderr.String(), err
}

func TestRootCommand(t *testing.T) {
	assert.NotNil(t, rootCmd)
	assert.Equal(t, "lectorium", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
	assert.NotEmpty(t, rootCmd.Version)
}

func TestRootCommandHelp(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand(t, "--help")
	require.NoError(t, err)
	assert.Contains(t, out, "annotation")
	assert.Contains(t, out, "Available Commands:")
	assert.Contains(t, out, "Usage:")
}

func TestRootCommandVersion(t *testing.T) {
	isolate(t)
	out, _, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Contains(t, out, "lectorium version")
}

func TestRootCommandSubcommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, sub := range rootCmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, expected := range []string{"serve", "ocr", "burn", "hash", "config"} {
		assert.Contains(t, names, expected, "Expected subcommand '%s' not found", expected)
	}
}

func TestRootCommandInvalidFlag(t *testing.T) {
	isolate(t)
	_, errOut, err := executeCommand(t, "--invalid-flag")
	require.Error(t, err)
	assert.Contains(t, errOut+err.Error(), "unknown flag")
}

func TestRootCommandConfiguration(t *testing.T) {
	assert.True(t, rootCmd.HasSubCommands())
	for _, name := range []string{"config", "verbose", "log-level", "store"} {
		assert.NotNil(t, rootCmd.PersistentFlags().Lookup(name), name)
	}
}

func TestParsePageRange(t *testing.T) {
	tests := []struct {
		pages     string
		count     int
		wantStart int
		wantEnd   int
		wantErr   bool
	}{
		{pages: "", count: 4, wantStart: 0, wantEnd: 3},
		{pages: "3", count: 4, wantStart: 2, wantEnd: 2},
		{pages: "2-4", count: 4, wantStart: 1, wantEnd: 3},
		{pages: " 1 - 2 ", count: 4, wantStart: 0, wantEnd: 1},
		{pages: "", count: 0, wantErr: true},
		{pages: "0", count: 4, wantErr: true},
		{pages: "3-1", count: 4, wantErr: true},
		{pages: "1-9", count: 4, wantErr: true},
		{pages: "a-b", count: 4, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.pages, func(t *testing.T) {
			start, end, err := parsePageRange(tt.pages, tt.count)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStart, start)
			assert.Equal(t, tt.wantEnd, end)
		})
	}
}

func TestBindFlags(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	c.Flags().String("pages-dir", "", "")
	require.NoError(t, bindFlags(c, map[string]string{"documents.pages_dir": "pages-dir"}))
	assert.Error(t, bindFlags(c, map[string]string{"documents.dir": "missing"}))
}
