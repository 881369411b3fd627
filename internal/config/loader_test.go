package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate moves the working and home directories to an empty temp dir so
// no real configuration file is picked up.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Chdir(dir)
	return dir
}

func newTestLoader() *Loader {
	return NewLoaderWithViper(viper.New())
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader()
	require.NotNil(t, loader)
	assert.Same(t, viper.GetViper(), loader.GetViper())
}

func TestLoadWithNoConfigFile(t *testing.T) {
	dir := isolate(t)

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, infoLevel, cfg.LogLevel)
	assert.Equal(t, filepath.Join(dir, ".lectorium", "lectorium.db"), cfg.Store.Path)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadFromSearchPath(t *testing.T) {
	dir := isolate(t)
	writeFile(t, filepath.Join(dir, "xdg", "lectorium", "lectorium.yaml"), `
log_level: debug
ocr:
  workers: 6
server:
  port: 9191
`)

	loader := newTestLoader()
	cfg, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, debugLevel, cfg.LogLevel)
	assert.Equal(t, 6, cfg.OCR.Workers)
	assert.Equal(t, 9191, cfg.Server.Port)
	assert.InDelta(t, 2, cfg.OCR.Scale, 1e-9, "unset keys keep defaults")
	assert.Contains(t, loader.GetConfigFileUsed(), "lectorium.yaml")
}

func TestLoadWithFile(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "custom.yaml")
	writeFile(t, path, "store:\n  path: \":memory:\"\nrender:\n  cache_entries: 8\n")

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, memoryStore, cfg.Store.Path)
	assert.Equal(t, 8, cfg.Render.CacheEntries)
}

func TestLoadWithFile_Errors(t *testing.T) {
	isolate(t)
	dir := t.TempDir()

	_, err := newTestLoader().LoadWithFile(filepath.Join(dir, "missing.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")

	broken := filepath.Join(dir, "broken.yaml")
	writeFile(t, broken, "server: [port\n")
	_, err = newTestLoader().LoadWithFile(broken)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")

	invalid := filepath.Join(dir, "invalid.yaml")
	writeFile(t, invalid, "log_level: loud\n")
	_, err = newTestLoader().LoadWithFile(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")

	cfg, err := newTestLoader().LoadWithFileWithoutValidation(invalid)
	require.NoError(t, err)
	assert.Equal(t, "loud", cfg.LogLevel)
}

func TestEnvironmentVariableOverride(t *testing.T) {
	isolate(t)
	t.Setenv("LECTORIUM_LOG_LEVEL", "warn")
	t.Setenv("LECTORIUM_SERVER_PORT", "7070")
	t.Setenv("LECTORIUM_SERVER_RATE_LIMIT_ENABLED", "true")
	t.Setenv("LECTORIUM_REMOTE_VISION_ENDPOINT", "https://vision.internal")
	t.Setenv("LECTORIUM_OCR_SCALE", "1.25")

	cfg, err := newTestLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.True(t, cfg.Server.RateLimit.Enabled)
	assert.Equal(t, "https://vision.internal", cfg.Remote.Vision.Endpoint)
	assert.InDelta(t, 1.25, cfg.OCR.Scale, 1e-9)
}

func TestGetSetConfigValues(t *testing.T) {
	loader := newTestLoader()
	loader.Set("documents.dir", "/srv/docs")
	assert.Equal(t, "/srv/docs", loader.GetString("documents.dir"))
	assert.Equal(t, "/srv/docs", loader.Get("documents.dir"))
}

func TestGetResolvedConfig(t *testing.T) {
	loader := newTestLoader()
	loader.setDefaults()
	settings := loader.GetResolvedConfig()
	assert.Contains(t, settings, "server")
	assert.Contains(t, settings, "ocr")
	assert.Contains(t, settings, "remote")
}

func TestGenerateDefaultConfigFile(t *testing.T) {
	dir := isolate(t)
	path := filepath.Join(dir, "generated.yaml")
	require.NoError(t, GenerateDefaultConfigFile(path))

	cfg, err := newTestLoader().LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Server.Port, cfg.Server.Port)
	assert.Equal(t, DefaultConfig().Render.CacheEntries, cfg.Render.CacheEntries)

	require.NoError(t, GenerateDefaultConfigFile(""))
	_, err = os.Stat(filepath.Join(dir, "lectorium.yaml"))
	assert.NoError(t, err)
}

func TestGetConfigSearchPaths(t *testing.T) {
	dir := isolate(t)
	paths := GetConfigSearchPaths()
	assert.Equal(t, []string{".", dir, filepath.Join(dir, "xdg", "lectorium"), "/etc/lectorium"}, paths)

	t.Setenv("XDG_CONFIG_HOME", "")
	paths = GetConfigSearchPaths()
	assert.Contains(t, paths, filepath.Join(dir, ".config", "lectorium"))
}

func TestPrintConfigInfo(t *testing.T) {
	var buf bytes.Buffer
	newTestLoader().PrintConfigInfo(&buf)
	assert.Contains(t, buf.String(), "Environment prefix: LECTORIUM")
}
