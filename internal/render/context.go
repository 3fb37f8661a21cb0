package render

import (
	"net/url"
	"strings"

	"github.com/sells-group/lead-mailer/internal/config"
	"github.com/sells-group/lead-mailer/internal/model"
)

// EmailContext is every value a campaign template may reference.
type EmailContext struct {
	Company        string
	ContactName    string
	Email          string
	Phone          string
	AvgDeposits    *float64
	NSFCount       *int
	MonthlyRevenue *float64

	BusinessName    string
	BusinessAddress string
	FromName        string
	OptoutMode      string
	UnsubscribeURL  string
}

// Branding is the sender identity merged into every context.
type Branding struct {
	BusinessName    string
	BusinessAddress string
	FromName        string
	OptoutMode      string
	OptoutLink      string
}

// BrandingFromConfig assembles branding from the branding and mail sections.
func BrandingFromConfig(b config.BrandingConfig, m config.MailConfig) Branding {
	return Branding{
		BusinessName:    b.BusinessName,
		BusinessAddress: b.BusinessAddress,
		FromName:        m.FromName,
		OptoutMode:      b.OptoutMode,
		OptoutLink:      b.OptoutLink,
	}
}

// BuildContext assembles the context for one lead. Lead fields take
// precedence over batch metrics of the same name.
func BuildContext(lead model.Lead, metrics model.Metrics, b Branding) EmailContext {
	ctx := EmailContext{
		Company:         lead.Company,
		ContactName:     lead.ContactName,
		Email:           lead.Email,
		Phone:           lead.Phone,
		BusinessName:    b.BusinessName,
		BusinessAddress: b.BusinessAddress,
		FromName:        b.FromName,
		OptoutMode:      b.OptoutMode,
		UnsubscribeURL:  UnsubscribeURL(b.OptoutLink, lead.Email),
	}
	if ctx.Company == "" {
		ctx.Company = model.UnknownCompany
	}

	if v, ok := metrics.Lookup(model.MetricAvgDeposits); ok {
		ctx.AvgDeposits = &v
	}
	if v, ok := metrics.Lookup(model.MetricNSFCount); ok {
		n := int(v)
		ctx.NSFCount = &n
	}
	if v, ok := metrics.Lookup(model.MetricMonthlyRevenue); ok {
		ctx.MonthlyRevenue = &v
	}

	if lead.AvgDeposits != nil {
		v := *lead.AvgDeposits
		ctx.AvgDeposits = &v
	}
	if lead.NSFCount != nil {
		n := *lead.NSFCount
		ctx.NSFCount = &n
	}
	return ctx
}

// UnsubscribeURL appends the recipient address to the opt-out link.
func UnsubscribeURL(link, email string) string {
	if email == "" {
		return link
	}
	sep := "?"
	if strings.Contains(link, "?") {
		sep = "&"
	}
	return link + sep + "email=" + url.QueryEscape(email)
}
