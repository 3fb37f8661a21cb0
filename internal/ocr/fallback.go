package ocr

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Fallback reads the text layer first and runs OCR only when that yields
// nothing. It never returns an error: extraction problems are logged and
// degrade to whatever text was recovered, possibly empty.
type Fallback struct {
	primary   Extractor
	secondary Extractor
}

// NewFallback chains a text-layer extractor with an OCR extractor.
// secondary may be nil.
func NewFallback(primary, secondary Extractor) *Fallback {
	return &Fallback{primary: primary, secondary: secondary}
}

// ExtractText implements Extractor.
func (f *Fallback) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	text, err := f.primary.ExtractText(ctx, pdfPath)
	if err != nil {
		zap.L().Warn("ocr: text layer extraction failed", zap.String("pdf", pdfPath), zap.Error(err))
		text = ""
	}
	if strings.TrimSpace(text) != "" || f.secondary == nil {
		return text, nil
	}

	ocrText, err := f.secondary.ExtractText(ctx, pdfPath)
	if err != nil {
		zap.L().Warn("ocr: fallback extraction failed", zap.String("pdf", pdfPath), zap.Error(err))
		return text, nil
	}
	if strings.TrimSpace(ocrText) == "" {
		return text, nil
	}
	return ocrText, nil
}
