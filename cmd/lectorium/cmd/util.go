package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/spf13/cobra"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// readDocument loads a PDF from disk. The file id defaults to the base name
// without extension.
func readDocument(path, id string) (model.Document, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user supplied input file
	if err != nil {
		return model.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	name := filepath.Base(path)
	if id == "" {
		id = strings.TrimSuffix(name, filepath.Ext(name))
	}
	return model.Document{ID: id, Name: name, Data: data}, nil
}

// parsePageRange parses a one-based range like "3" or "1-5" into zero-based
// first and last pages. An empty range selects every page.
func parsePageRange(pages string, pageCount int) (int, int, error) {
	pages = strings.TrimSpace(pages)
	if pages == "" {
		if pageCount == 0 {
			return 0, 0, fmt.Errorf("document has no pages")
		}
		return 0, pageCount - 1, nil
	}

	startStr, endStr, isRange := strings.Cut(pages, "-")
	start, err := strconv.Atoi(strings.TrimSpace(startStr))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid start page: %s", startStr)
	}
	end := start
	if isRange {
		if end, err = strconv.Atoi(strings.TrimSpace(endStr)); err != nil {
			return 0, 0, fmt.Errorf("invalid end page: %s", endStr)
		}
	}
	if start < 1 || end < 1 {
		return 0, 0, fmt.Errorf("page numbers must be positive: %s", pages)
	}
	if start > end {
		return 0, 0, fmt.Errorf("start page %d greater than end page %d", start, end)
	}
	if end > pageCount {
		return 0, 0, fmt.Errorf("page %d out of range, document has %d pages", end, pageCount)
	}
	return start - 1, end - 1, nil
}

// bindFlags binds the running command's flags to config keys. Binding
// happens per invocation because several commands share keys.
func bindFlags(cmd *cobra.Command, keys map[string]string) error {
	for key, name := range keys {
		if err := GetConfigLoader().GetViper().BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	return nil
}
