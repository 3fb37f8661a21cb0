package ocr

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Tesseract rasterizes a PDF with pdftoppm and OCRs each page with tesseract.
type Tesseract struct {
	pdftoppm  string
	tesseract string
	lang      string
	dpi       int
	maxPages  int
	runner    Runner
}

// TesseractOptions configures a Tesseract extractor. Zero values take defaults.
type TesseractOptions struct {
	PdfToPPMPath  string
	TesseractPath string
	Lang          string
	DPI           int
	MaxPages      int
}

// NewTesseract creates a Tesseract extractor.
func NewTesseract(opts TesseractOptions) *Tesseract {
	t := &Tesseract{
		pdftoppm:  opts.PdfToPPMPath,
		tesseract: opts.TesseractPath,
		lang:      opts.Lang,
		dpi:       opts.DPI,
		maxPages:  opts.MaxPages,
		runner:    execRunner{},
	}
	if t.pdftoppm == "" {
		t.pdftoppm = "pdftoppm"
	}
	if t.tesseract == "" {
		t.tesseract = "tesseract"
	}
	if t.lang == "" {
		t.lang = "eng"
	}
	if t.dpi <= 0 {
		t.dpi = 300
	}
	return t
}

// ExtractText renders every page to PNG and joins the per-page OCR output
// with newlines. Pages that fail OCR are skipped.
func (t *Tesseract) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	tmpDir, err := os.MkdirTemp("", "lead-mailer-ocr-*")
	if err != nil {
		return "", eris.Wrap(err, "ocr: create raster dir")
	}
	defer os.RemoveAll(tmpDir) //nolint:errcheck

	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -r 300 -png <in.pdf> <tmp/page>
	if _, errb, err := t.runner.Run(ctx, t.pdftoppm, "-r", strconv.Itoa(t.dpi), "-png", pdfPath, prefix); err != nil {
		return "", eris.Wrapf(err, "ocr: pdftoppm failed for %s: %s", pdfPath, strings.TrimSpace(string(errb)))
	}

	// pdftoppm zero-pads page numbers, so lexical order is page order.
	pages, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(pages)
	if t.maxPages > 0 && len(pages) > t.maxPages {
		pages = pages[:t.maxPages]
	}
	if len(pages) == 0 {
		return "", eris.Errorf("ocr: pdftoppm rendered no pages for %s", pdfPath)
	}

	var chunks []string
	for i, img := range pages {
		// tesseract <file> stdout -l <lang>
		out, errb, err := t.runner.Run(ctx, t.tesseract, img, "stdout", "-l", t.lang)
		if err != nil {
			zap.L().Warn("ocr: tesseract failed on page",
				zap.String("pdf", pdfPath),
				zap.Int("page", i+1),
				zap.String("stderr", strings.TrimSpace(string(errb))),
				zap.Error(err),
			)
			continue
		}
		if txt := string(out); strings.TrimSpace(txt) != "" {
			chunks = append(chunks, txt)
		}
	}

	return strings.Join(chunks, "\n"), nil
}
