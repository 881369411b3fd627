package burner

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/MeKo-Tech/lectorium/internal/model"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ReadEmbedded returns the annotations recorded in a burned document. A
// document without a record yields no annotations and no error.
func ReadEmbedded(data []byte) ([]model.Annotation, error) {
	ctx, err := readContext(data)
	if err != nil {
		return nil, err
	}
	return readEmbedded(ctx)
}

func readEmbedded(ctx *pdfmodel.Context) ([]model.Annotation, error) {
	if ctx.Info == nil {
		return nil, nil
	}
	info, err := ctx.DereferenceDict(*ctx.Info)
	if err != nil || info == nil {
		return nil, nil
	}
	obj, ok := info[InfoKey]
	if !ok {
		return nil, nil
	}

	var encoded string
	switch v := obj.(type) {
	case types.StringLiteral:
		encoded = string(v)
	case types.HexLiteral:
		raw, err := hex.DecodeString(string(v))
		if err != nil {
			return nil, fmt.Errorf("invalid %s entry: %w", InfoKey, err)
		}
		encoded = string(raw)
	default:
		return nil, fmt.Errorf("invalid %s entry of type %T", InfoKey, obj)
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid %s encoding: %w", InfoKey, err)
	}
	var anns []model.Annotation
	if err := json.Unmarshal(raw, &anns); err != nil {
		return nil, fmt.Errorf("invalid %s payload: %w", InfoKey, err)
	}
	for i := range anns {
		anns[i].IsBurned = true
		anns[i].Source = model.FromEmbedded
	}
	return anns, nil
}
