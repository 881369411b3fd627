package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/MeKo-Tech/lectorium/internal/session"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// annotationFile is the YAML import format of the burn command. Pages are
// zero-based like everywhere in the engine.
type annotationFile struct {
	Annotations []model.Annotation `yaml:"annotations"`
}

// burnCmd imports annotations and bakes them into a copy of a document.
var burnCmd = &cobra.Command{
	Use:   "burn <file.pdf>",
	Short: "Burn annotations from a YAML file into a document",
	Long: `Import annotations from a YAML file, add them to the document's annotation
store and write a copy with every pending annotation and recognized page
burned in. The fingerprint of the written copy is recorded, so reopening it
does not report a conflict.

Example annotations file:

  annotations:
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

Examples:
  lectorium burn thesis.pdf --annotations notes.yaml --output thesis-annotated.pdf`,
	Args: cobra.ExactArgs(1),
	RunE: runBurn,
}

func runBurn(cmd *cobra.Command, args []string) error {
	cfg, err := GetConfig()
	if err != nil {
		return err
	}
	id, _ := cmd.Flags().GetString("id")
	annPath, _ := cmd.Flags().GetString("annotations")
	output, _ := cmd.Flags().GetString("output")
	if output == "" {
		return errors.New("--output is required")
	}

	var imported []model.Annotation
	if annPath != "" {
		if imported, err = loadAnnotationFile(annPath); err != nil {
			return err
		}
	}

	doc, err := readDocument(args[0], id)
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

	opts := eng.opts
	opts.AutoOCR = false
	opts.Writer = session.WriterFunc(func(_ context.Context, _ string, data []byte) error {
		return os.WriteFile(output, data, 0o644) //nolint:gosec // G306: documents are meant to be shared
	})
	sess, err := session.Open(ctx, doc, opts)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Close() }()

	for i, ann := range imported {
		if _, err := sess.AddAnnotation(ctx, ann); err != nil {
			return fmt.Errorf("annotation %d: %w", i+1, err)
		}
	}

	res, err := sess.Save(ctx)
	if err != nil {
		return fmt.Errorf("failed to burn %s: %w", args[0], err)
	}
	slog.Info("Document burned", "file_id", res.FileID, "kind", res.Kind, "output", output,
		"annotations", len(res.Annotations), "ocr_pages", len(res.OCRPages))
	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s (%d pages, %d annotations, %d OCR pages)\n",
		output, res.PageCount, len(res.Annotations), len(res.OCRPages))
	return err
}

// loadAnnotationFile reads and validates an annotation import file.
func loadAnnotationFile(path string) ([]model.Annotation, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: user supplied input file
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f annotationFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	for i := range f.Annotations {
		if err := f.Annotations[i].Validate(); err != nil {
			return nil, fmt.Errorf("%s: annotation %d: %w", path, i+1, err)
		}
	}
	return f.Annotations, nil
}

// burnRecognized writes a copy of the session's document with its pending
// OCR text and annotations burned in. The session itself is unchanged.
func burnRecognized(ctx context.Context, sess *session.Session, path string) error {
	words, err := sess.GetUnburntOcr(ctx)
	if err != nil {
		return err
	}
	data, err := sess.Burn(ctx, sess.Data(), sess.Annotations(), words)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // G306: documents are meant to be shared
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(burnCmd)
	burnCmd.Flags().String("id", "", "file id of the document (default: file name without extension)")
	burnCmd.Flags().StringP("annotations", "a", "", "YAML file with annotations to import")
	burnCmd.Flags().StringP("output", "o", "", "path of the burned copy")
}
