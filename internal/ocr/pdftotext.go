package ocr

import (
	"context"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// PdfToText reads a PDF's embedded text layer with poppler's pdftotext.
// Scanned statements have no text layer and come back blank.
type PdfToText struct {
	binPath  string
	maxPages int
	runner   Runner
}

// NewPdfToText creates a PdfToText extractor. An empty binPath means
// "pdftotext" on PATH; maxPages <= 0 reads every page.
func NewPdfToText(binPath string, maxPages int) *PdfToText {
	if binPath == "" {
		binPath = "pdftotext"
	}
	return &PdfToText{binPath: binPath, maxPages: maxPages, runner: execRunner{}}
}

func (p *PdfToText) args(pdfPath string) []string {
	args := []string{"-layout", "-enc", "UTF-8", "-eol", "unix"}
	if p.maxPages > 0 {
		args = append(args, "-l", strconv.Itoa(p.maxPages))
	}
	return append(args, pdfPath, "-")
}

// ExtractText returns the layout-preserved text with page breaks turned into
// newlines.
func (p *PdfToText) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	out, stderr, err := p.runner.Run(ctx, p.binPath, p.args(pdfPath)...)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: pdftotext failed for %s: %s", pdfPath, strings.TrimSpace(string(stderr)))
	}
	return strings.ReplaceAll(string(out), "\f", "\n"), nil
}
