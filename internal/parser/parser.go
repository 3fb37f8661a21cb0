// Package parser turns uploaded lead documents into leads and metrics.
//
// CSV rosters yield leads; PDF statements yield metrics. PDF text is
// redacted before metrics are extracted or anything is retained.
package parser

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-mailer/internal/extract"
	"github.com/sells-group/lead-mailer/internal/model"
	"github.com/sells-group/lead-mailer/internal/ocr"
	"github.com/sells-group/lead-mailer/internal/redact"
)

// MaxDocumentText caps the redacted text kept per PDF.
const MaxDocumentText = 2000

const defaultConcurrency = 4

var (
	// ErrUnsupportedFileType matches any upload whose extension is not .csv or .pdf.
	ErrUnsupportedFileType = eris.New("unsupported file type")
	// ErrMalformedCSV is returned when a CSV upload cannot be read.
	ErrMalformedCSV = eris.New("malformed csv")
)

// UnsupportedFileTypeError names the rejected extension.
type UnsupportedFileTypeError struct {
	Filename string
	Ext      string
}

func (e *UnsupportedFileTypeError) Error() string {
	return "Unsupported file type: " + e.Ext
}

// Is lets errors.Is match ErrUnsupportedFileType.
func (e *UnsupportedFileTypeError) Is(target error) bool {
	return target == ErrUnsupportedFileType
}

// Upload is one file received from a client.
type Upload struct {
	Filename string
	Data     []byte
}

// Document is the redacted text kept for one PDF.
type Document struct {
	Filename string        `json:"filename"`
	Text     string        `json:"text"`
	Metrics  model.Metrics `json:"metrics"`
}

// Result is the merged outcome of parsing a batch.
type Result struct {
	Leads     []model.Lead
	Metrics   model.Metrics
	Documents []Document
}

// Parser parses upload batches.
type Parser struct {
	extractor   ocr.Extractor
	concurrency int
}

// New creates a Parser. concurrency bounds parallel PDF extraction.
func New(extractor ocr.Extractor, concurrency int) *Parser {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Parser{extractor: extractor, concurrency: concurrency}
}

type kind int

const (
	kindCSV kind = iota
	kindPDF
)

func classify(filename string) (kind, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".csv":
		return kindCSV, nil
	case ".pdf":
		return kindPDF, nil
	default:
		return 0, &UnsupportedFileTypeError{Filename: filename, Ext: ext}
	}
}

// Parse validates every upload before doing any work, so a single
// unsupported file rejects the whole batch. PDFs are extracted concurrently
// and merged in upload order, so later documents win metric conflicts.
func (p *Parser) Parse(ctx context.Context, uploads []Upload) (*Result, error) {
	kinds := make([]kind, len(uploads))
	for i, u := range uploads {
		k, err := classify(u.Filename)
		if err != nil {
			return nil, err
		}
		kinds[i] = k
	}

	docs := make([]*Document, len(uploads))
	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, u := range uploads {
		if kinds[i] != kindPDF {
			continue
		}
		g.Go(func() error {
			docs[i] = p.parsePDF(ctx, u)
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{Metrics: model.Metrics{}}
	for i, u := range uploads {
		switch kinds[i] {
		case kindCSV:
			leads, err := ParseCSV(ctx, bytes.NewReader(u.Data))
			if err != nil {
				return nil, eris.Wrapf(err, "parser: %s", u.Filename)
			}
			res.Leads = append(res.Leads, leads...)
		case kindPDF:
			res.Metrics.Merge(docs[i].Metrics)
			res.Documents = append(res.Documents, *docs[i])
		}
	}

	zap.L().Info("parser: batch parsed",
		zap.Int("uploads", len(uploads)),
		zap.Int("leads", len(res.Leads)),
		zap.Int("metrics", len(res.Metrics)),
	)
	return res, nil
}

// parsePDF never fails: extraction problems are logged and yield empty text.
func (p *Parser) parsePDF(ctx context.Context, u Upload) *Document {
	text := p.extractText(ctx, u)
	clean := redact.Text(text)
	return &Document{
		Filename: u.Filename,
		Text:     truncate(clean, MaxDocumentText),
		Metrics:  extract.Metrics(clean),
	}
}

func (p *Parser) extractText(ctx context.Context, u Upload) string {
	tmp, err := os.CreateTemp("", "lead-mailer-*.pdf")
	if err != nil {
		zap.L().Warn("parser: create temp pdf", zap.String("file", u.Filename), zap.Error(err))
		return ""
	}
	path := tmp.Name()
	defer os.Remove(path) //nolint:errcheck

	_, werr := tmp.Write(u.Data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		zap.L().Warn("parser: write temp pdf", zap.String("file", u.Filename), zap.Error(errors.Join(werr, cerr)))
		return ""
	}

	text, err := p.extractor.ExtractText(ctx, path)
	if err != nil {
		zap.L().Warn("parser: pdf extraction failed", zap.String("file", u.Filename), zap.Error(err))
		return ""
	}
	return text
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
