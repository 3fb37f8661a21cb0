// Package extract pulls financial metrics out of statement text.
package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/lead-mailer/internal/model"
)

type pattern struct {
	name    string
	re      *regexp.Regexp
	integer bool
}

// Each pattern is matched independently; the first match per metric wins.
var patterns = []pattern{
	{
		name: model.MetricAvgDeposits,
		re:   regexp.MustCompile(`(?i)\b(?:avg|average)\.?\s+deposits?\s*[:\-]?\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`),
	},
	{
		name:    model.MetricNSFCount,
		re:      regexp.MustCompile(`(?i)\bnsf\s*(?:count)?\s*[:\-]?\s*(\d+)`),
		integer: true,
	},
	{
		name: model.MetricMonthlyRevenue,
		re:   regexp.MustCompile(`(?i)\bmonthly\s+revenue\s*[:\-]?\s*\$?\s*(\d[\d,]*(?:\.\d+)?)`),
	},
}

// Metrics scans text for known metrics. Values that fail to convert are
// omitted.
func Metrics(text string) model.Metrics {
	out := model.Metrics{}
	for _, p := range patterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		if p.integer {
			n, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			out[p.name] = float64(n)
			continue
		}
		v, ok := ParseCurrency(m[1])
		if !ok {
			continue
		}
		out[p.name] = v
	}
	return out
}

// ParseCurrency converts "$4,500.00" style strings to a float.
func ParseCurrency(s string) (float64, bool) {
	cleaned := strings.TrimSpace(strings.NewReplacer(",", "", "$", "").Replace(s))
	if cleaned == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(cleaned, 64)
	if err != nil || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}
