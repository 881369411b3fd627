package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/lectorium/internal/ocr"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/spf13/cobra"
)

var ocrFlags = map[string]string{
	"documents.pages_dir":    "pages-dir",
	"ocr.scale":              "scale",
	"ocr.column_mode":        "column-mode",
	"remote.vision.endpoint": "vision-endpoint",
}

// ocrCmd runs batch recognition over a page range.
var ocrCmd = &cobra.Command{
	Use:   "ocr <file.pdf>",
	Short: "Recognize a range of pages and print text, Markdown or JSON",
	Long: `Recognize the pages of a document through the configured vision service.
Page images are read from the pages directory (<pages-dir>/<id>/page-<n>.png)
when it has them, otherwise from the scans embedded in the document.
Recognized pages are cached in the local store, so a resumed run only sends
the remaining pages. A quota error stops the run and reports the page to
resume from.

Examples:
  lectorium ocr scan.pdf --pages-dir ./pages
  lectorium ocr scan.pdf --pages 3-12 --format markdown
  lectorium ocr scan.pdf --pages 1-5 --translate de --format json`,
	Args: cobra.ExactArgs(1),
	RunE: runOCR,
}

type ocrOptions struct {
	id        string
	pages     string
	format    string
	translate string
	refine    bool
	burn      string
}

func runOCR(cmd *cobra.Command, args []string) error {
	if err := bindFlags(cmd, ocrFlags); err != nil {
		return err
	}
	cfg, err := GetConfig()
	if err != nil {
		return err
	}

	o := ocrOptions{}
	o.id, _ = cmd.Flags().GetString("id")
	o.pages, _ = cmd.Flags().GetString("pages")
	o.format, _ = cmd.Flags().GetString("format")
	o.translate, _ = cmd.Flags().GetString("translate")
	o.refine, _ = cmd.Flags().GetBool("refine")
	o.burn, _ = cmd.Flags().GetString("burn")

	switch o.format {
	case "text", "markdown", "json":
	default:
		return fmt.Errorf("unsupported format %q (must be text, markdown or json)", o.format)
	}
	doc, err := readDocument(args[0], o.id)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = eng.Close() }()
	if eng.opts.Recognizer == nil {
		return errors.New("no vision service configured, set remote.vision.endpoint")
	}

	// the CLI never writes next to the documents directory
	opts := eng.opts
	opts.Writer = nil
	opts.AutoOCR = false
	sess, err := session.Open(ctx, doc, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	start, end, err := parsePageRange(o.pages, sess.PageCount())
	if err != nil {
		return err
	}

	res, runErr := sess.RunBatch(ctx, ocr.BatchRequest{
		Start:       start,
		End:         end,
		Markdown:    o.format == "markdown",
		TranslateTo: o.translate,
		Progress:    ocr.NewConsoleProgress(cmd.ErrOrStderr(), "OCR: "),
	})
	if runErr != nil && !res.Halted {
		return runErr
	}

	if o.refine && opts.Refiner != nil {
		refineBatch(ctx, sess, &res)
	}

	if err := writeBatch(cmd.OutOrStdout(), o.format, res); err != nil {
		return err
	}

	if o.burn != "" && len(res.Pages) > 0 {
		if err := burnRecognized(ctx, sess, o.burn); err != nil {
			return err
		}
		slog.Info("Recognized text burned", "output", o.burn, "pages", len(res.Pages))
	}

	if runErr != nil {
		return fmt.Errorf("stopped early, resume with --pages %d-%d: %w", res.ResumeFrom+2, end+1, runErr)
	}
	return nil
}

// refineBatch replaces each page's words with the refined ones. A page the
// language service cannot refine keeps its recognized text.
func refineBatch(ctx context.Context, sess *session.Session, res *ocr.BatchResult) {
	for i, p := range res.Pages {
		words, err := sess.RefinePage(ctx, p.Page)
		if err != nil {
			slog.Warn("Refinement failed", "page", p.Page+1, "error", err)
			continue
		}
		res.Pages[i].Words = words
		texts := make([]string, len(words))
		for j, w := range words {
			texts[j] = w.Text
		}
		res.Pages[i].Text = strings.Join(texts, " ")
	}
}

func writeBatch(w io.Writer, format string, res ocr.BatchResult) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	case "markdown":
		for _, p := range res.Pages {
			if _, err := fmt.Fprintf(w, "<!-- page %d -->\n\n%s\n", p.Page+1, p.Markdown); err != nil {
				return err
			}
		}
	default:
		for _, p := range res.Pages {
			if _, err := fmt.Fprintf(w, "=== Page %d ===\n%s\n", p.Page+1, p.Text); err != nil {
				return err
			}
			for _, line := range p.Translation {
				if _, err := fmt.Fprintf(w, "  > %s\n", line); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(ocrCmd)
	flags := ocrCmd.Flags()
	flags.String("id", "", "file id of the document (default: file name without extension)")
	flags.String("pages", "", "one-based page range, e.g. '4' or '1-5' (default: all pages, at most 50)")
	flags.StringP("format", "f", "text", "output format: text, markdown or json")
	flags.String("translate", "", "translate recognized lines to this language")
	flags.Bool("refine", false, "run the language service over recognized pages")
	flags.String("burn", "", "write a copy with the recognized text burned in to this path")
	flags.String("pages-dir", "", "directory with pre-rendered page images per document")
	flags.Float64("scale", 0, "zoom factor pages are recognized at")
	flags.Bool("column-mode", false, "read multi-column pages column by column")
	flags.String("vision-endpoint", "", "vision service endpoint")
}
