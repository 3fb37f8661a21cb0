package model

// Lead is one normalized prospect row.
type Lead struct {
	Company     string   `json:"company"`
	ContactName string   `json:"contact_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	AvgDeposits *float64 `json:"avg_deposits,omitempty"`
	NSFCount    *int     `json:"nsf_count,omitempty"`
}

// UnknownCompany is used when a row carries no company or business name.
const UnknownCompany = "Unknown"

// Metric names extracted from statements.
const (
	MetricAvgDeposits    = "avg_deposits"
	MetricNSFCount       = "nsf_count"
	MetricMonthlyRevenue = "monthly_revenue"
)

// Metrics maps a metric name to its numeric value.
type Metrics map[string]float64

// Merge copies every entry of other into m, overwriting existing keys.
func (m Metrics) Merge(other Metrics) {
	for k, v := range other {
		m[k] = v
	}
}

// Lookup returns the value for name and whether it is present.
func (m Metrics) Lookup(name string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	v, ok := m[name]
	return v, ok
}
