package remote

import (
	"context"
	"errors"
)

// LanguageClient talks to the language service. It implements both
// ocr.Refiner and ocr.Translator.
type LanguageClient struct {
	refine    client
	translate client
}

// NewLanguageClient creates a language service client.
func NewLanguageClient(cfg Config) (*LanguageClient, error) {
	r, err := newClient("refine", cfg)
	if err != nil {
		return nil, err
	}
	t, err := newClient("translate", cfg)
	if err != nil {
		return nil, err
	}
	return &LanguageClient{refine: r, translate: t}, nil
}

type refineRequest struct {
	Words []string `json:"words"`
}

type refineResponse struct {
	Words []string `json:"words"`
}

// Refine sends ordered words and returns the corrected words in the same
// order. The length is passed through unchecked; the scheduler rejects
// mismatches.
func (l *LanguageClient) Refine(ctx context.Context, words []string) ([]string, error) {
	if len(words) == 0 {
		return nil, nil
	}
	var resp refineResponse
	if err := l.refine.post(ctx, "/v1/refine", refineRequest{Words: words}, &resp); err != nil {
		return nil, err
	}
	return resp.Words, nil
}

type translateRequest struct {
	Lines  []string `json:"lines"`
	Target string   `json:"target"`
}

type translateResponse struct {
	Lines []string `json:"lines"`
}

// Translate translates lines into the target language.
func (l *LanguageClient) Translate(ctx context.Context, lines []string, target string) ([]string, error) {
	if target == "" {
		return nil, errors.New("translate: target language is required")
	}
	if len(lines) == 0 {
		return nil, nil
	}
	var resp translateResponse
	req := translateRequest{Lines: lines, Target: target}
	if err := l.translate.post(ctx, "/v1/translate", req, &resp); err != nil {
		return nil, err
	}
	return resp.Lines, nil
}
