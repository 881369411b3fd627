package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/lectorium/internal/burner"
	"github.com/MeKo-Tech/lectorium/internal/integrity"
	"github.com/spf13/cobra"
)

// hashResult is one line of hash output.
type hashResult struct {
	File      string              `json:"file"`
	ID        string              `json:"id"`
	Hash      string              `json:"hash"`
	PageCount int                 `json:"page_count"`
	Conflict  *integrity.Conflict `json:"conflict,omitempty"`
}

// hashCmd prints document fingerprints and checks them against the store.
var hashCmd = &cobra.Command{
	Use:   "hash <file.pdf>...",
	Short: "Print the fingerprint of documents and check them for external changes",
	Long: `Print the sparse content hash and page count of each document. With --check
the fingerprint is compared with the one recorded at the last save, reporting
whether the file was changed by another program and how severe the change is.

Examples:
  lectorium hash thesis.pdf
  lectorium hash --check --json *.pdf`,
	Args: cobra.MinimumNArgs(1),
	RunE: runHash,
}

func runHash(cmd *cobra.Command, args []string) error {
	check, _ := cmd.Flags().GetBool("check")
	asJSON, _ := cmd.Flags().GetBool("json")

	var detector *integrity.Detector
	if check {
		cfg, err := GetConfig()
		if err != nil {
			return err
		}
		st, err := cfg.OpenStore()
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer func() { _ = st.Close() }()
		detector = integrity.NewDetector(st)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	for _, path := range args {
		doc, err := readDocument(path, "")
		if err != nil {
			return err
		}
		pages, err := burner.PageCount(doc.Data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		res := hashResult{File: path, ID: doc.ID, Hash: integrity.SparseHash(doc.Data), PageCount: pages}
		if detector != nil {
			c, err := detector.Check(ctx, doc.ID, doc.Data, pages)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			res.Conflict = &c
		}

		if asJSON {
			if err := enc.Encode(res); err != nil {
				return err
			}
			continue
		}
		line := fmt.Sprintf("%s  %s  %d pages", res.Hash, res.File, res.PageCount)
		if c := res.Conflict; c != nil {
			switch {
			case c.Conflicting:
				line += fmt.Sprintf("  CHANGED (%s: %s)", c.Severity, c.Reason)
			case c.StoredHash == "":
				line += "  untracked"
			default:
				line += "  ok"
			}
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(hashCmd)
	hashCmd.Flags().Bool("check", false, "compare with the fingerprint recorded at the last save")
	hashCmd.Flags().Bool("json", false, "print one JSON object per document")
}
