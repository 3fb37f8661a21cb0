// Package fetcher streams rows out of uploaded tabular files.
package fetcher

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CSVOptions configures StreamCSV. Records may have any number of fields.
type CSVOptions struct {
	Delimiter rune // default ','
	Comment   rune // 0 disables comments

	// HeaderCh, when set, receives the first record instead of the row
	// channel. It should be buffered or read concurrently.
	HeaderCh chan<- []string

	TrimSpace bool
	// SkipBlank drops data records whose fields are all blank.
	SkipBlank bool
	// StripBOM decodes a leading UTF-8/UTF-16 byte order mark so it does not
	// end up glued to the first header.
	StripBOM bool
	// LazyQuotes accepts bare quotes inside unquoted fields.
	LazyQuotes bool
}

func (o CSVOptions) reader(r io.Reader) *csv.Reader {
	if o.StripBOM {
		r = transform.NewReader(r, unicode.BOMOverride(encoding.Nop.NewDecoder()))
	}
	cr := csv.NewReader(r)
	if o.Delimiter != 0 {
		cr.Comma = o.Delimiter
	}
	cr.Comment = o.Comment
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = o.LazyQuotes
	return cr
}

func blank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}

// StreamCSV reads r in a goroutine and sends each record on the returned row
// channel. The caller must drain the row channel; at most one error is sent
// on the error channel. Both close when reading stops.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		defer close(rowCh)
		if err := streamCSV(ctx, opts.reader(r), opts, rowCh); err != nil {
			errCh <- err
		}
	}()

	return rowCh, errCh
}

func streamCSV(ctx context.Context, cr *csv.Reader, opts CSVOptions, rowCh chan<- []string) error {
	headerPending := opts.HeaderCh != nil
	for {
		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "csv: context cancelled")
		}

		record, err := cr.Read()
		switch {
		case err == io.EOF:
			return nil
		case err != nil:
			return eris.Wrap(err, "csv: read row")
		}

		if opts.TrimSpace {
			for i := range record {
				record[i] = strings.TrimSpace(record[i])
			}
		}

		out := rowCh
		if headerPending {
			headerPending = false
			out = opts.HeaderCh
		} else if opts.SkipBlank && blank(record) {
			continue
		}

		select {
		case out <- record:
		case <-ctx.Done():
			return eris.Wrap(ctx.Err(), "csv: context cancelled")
		}
	}
}

// ReadAllCSV drains StreamCSV into memory. On error it returns the rows read
// so far.
func ReadAllCSV(ctx context.Context, r io.Reader, opts CSVOptions) ([][]string, error) {
	rowCh, errCh := StreamCSV(ctx, r, opts)
	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	return rows, <-errCh
}
