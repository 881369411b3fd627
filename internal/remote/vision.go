package remote

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/MeKo-Tech/lectorium/internal/model"
	"github.com/disintegration/imaging"
	"golang.org/x/text/unicode/norm"
)

// VisionClient recognizes page images through the remote vision service.
type VisionClient struct {
	c        client
	language string
}

// NewVisionClient creates a vision client. language is an optional
// recognition hint such as "en" or "de".
func NewVisionClient(cfg Config, language string) (*VisionClient, error) {
	c, err := newClient("vision", cfg)
	if err != nil {
		return nil, err
	}
	return &VisionClient{c: c, language: language}, nil
}

type recognizeRequest struct {
	Page     int    `json:"page"`
	Image    string `json:"image"` // base64 PNG
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	Language string `json:"language,omitempty"`
}

type recognizeResponse struct {
	Words []struct {
		Text       string     `json:"text"`
		BBox       model.BBox `json:"bbox"`
		Confidence float64    `json:"confidence"`
	} `json:"words"`
}

// Recognize implements ocr.Recognizer. Boxes are in pixels of img.
func (v *VisionClient) Recognize(ctx context.Context, page int, img image.Image) ([]model.OCRWord, error) {
	if img == nil {
		return nil, fmt.Errorf("page %d: no image", page)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", page, err)
	}
	b := img.Bounds()
	req := recognizeRequest{
		Page:     page,
		Image:    base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:    b.Dx(),
		Height:   b.Dy(),
		Language: v.language,
	}

	var resp recognizeResponse
	if err := v.c.post(ctx, "/v1/recognize", req, &resp); err != nil {
		return nil, err
	}

	words := make([]model.OCRWord, 0, len(resp.Words))
	for _, w := range resp.Words {
		if w.Text == "" || w.BBox.IsEmpty() {
			continue
		}
		words = append(words, model.OCRWord{
			Text:       norm.NFC.String(w.Text),
			BBox:       w.BBox,
			Confidence: clampConfidence(w.Confidence),
		})
	}
	return words, nil
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}
