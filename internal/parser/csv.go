package parser

import (
	"context"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/extract"
	"github.com/sells-group/lead-mailer/internal/fetcher"
	"github.com/sells-group/lead-mailer/internal/model"
)

// Cell values treated as missing.
var missingValues = map[string]bool{
	"":     true,
	"nan":  true,
	"n/a":  true,
	"na":   true,
	"null": true,
	"<na>": true,
	"#n/a": true,
}

type row map[string]string

// get returns the first present, non-missing value among keys.
func (r row) get(keys ...string) (string, bool) {
	for _, k := range keys {
		v, ok := r[k]
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		if missingValues[strings.ToLower(v)] {
			continue
		}
		return v, true
	}
	return "", false
}

// ParseCSV reads a lead roster. Headers are trimmed and lowercased; every
// data row becomes a lead, duplicates and all-blank rows included.
func ParseCSV(ctx context.Context, r io.Reader) ([]model.Lead, error) {
	records, err := fetcher.ReadAllCSV(ctx, r, fetcher.CSVOptions{StripBOM: true, LazyQuotes: true})
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedCSV, "%v", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	header := make([]string, len(records[0]))
	for i, h := range records[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}

	leads := make([]model.Lead, 0, len(records)-1)
	for _, rec := range records[1:] {
		r := make(row, len(header))
		for i, h := range header {
			if i >= len(rec) {
				break
			}
			if _, dup := r[h]; dup {
				continue
			}
			r[h] = rec[i]
		}
		leads = append(leads, toLead(r))
	}
	return leads, nil
}

func toLead(r row) model.Lead {
	lead := model.Lead{Company: model.UnknownCompany}
	if v, ok := r.get("company", "business"); ok {
		lead.Company = v
	}
	lead.ContactName, _ = r.get("contact", "name")
	lead.Email, _ = r.get("email")
	lead.Phone, _ = r.get("phone")

	if v, ok := r.get("avg_deposits"); ok {
		if f, ok := extract.ParseCurrency(v); ok {
			lead.AvgDeposits = &f
		}
	}
	if v, ok := r.get("nsf", "nsf_count"); ok {
		if n, ok := parseCount(v); ok {
			lead.NSFCount = &n
		}
	}
	return lead
}

// parseCount accepts "3" and integral floats such as "3.0" within int32 range.
func parseCount(s string) (int, bool) {
	if n, err := strconv.ParseInt(s, 10, 32); err == nil {
		return int(n), true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f != math.Trunc(f) || f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}
