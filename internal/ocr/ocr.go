package ocr

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/config"
)

// Extractor extracts text content from PDF files.
type Extractor interface {
	ExtractText(ctx context.Context, pdfPath string) (string, error)
}

// NewExtractor creates an Extractor based on config. Every provider reads the
// text layer first; "local" falls back to pdftoppm+tesseract, "mistral" to the
// Mistral OCR API, and "none" disables the fallback.
func NewExtractor(cfg config.OCRConfig) (Extractor, error) {
	text := NewPdfToText(cfg.PdfToTextPath, cfg.MaxPages)

	switch cfg.Provider {
	case "local", "":
		return NewFallback(text, NewTesseract(TesseractOptions{
			PdfToPPMPath:  cfg.PdfToPPMPath,
			TesseractPath: cfg.TesseractPath,
			Lang:          cfg.Lang,
			DPI:           cfg.DPI,
			MaxPages:      cfg.MaxPages,
		})), nil
	case "mistral":
		if cfg.MistralKey == "" {
			return nil, eris.New("ocr: mistral provider requires mistral_api_key")
		}
		return NewFallback(text, NewMistralOCR(cfg.MistralKey, cfg.MistralModel)), nil
	case "none":
		return NewFallback(text, nil), nil
	default:
		return nil, eris.Errorf("ocr: unknown provider %q", cfg.Provider)
	}
}
