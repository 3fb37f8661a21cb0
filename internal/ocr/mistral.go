package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-mailer/internal/resilience"
)

const (
	mistralOCREndpoint  = "https://api.mistral.ai/v1/ocr"
	defaultMistralModel = "mistral-ocr-latest"
	maxMistralResponse  = 16 << 20
)

// MistralOCR reads scanned statements through the Mistral OCR API. Rate
// limits and 5xx responses are retried.
type MistralOCR struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client
	retry    resilience.RetryConfig
}

// MistralOption configures a MistralOCR.
type MistralOption func(*MistralOCR)

// WithMistralEndpoint overrides the API URL.
func WithMistralEndpoint(url string) MistralOption {
	return func(m *MistralOCR) {
		if url != "" {
			m.endpoint = url
		}
	}
}

// WithMistralRetry overrides the retry policy for API calls.
func WithMistralRetry(cfg resilience.RetryConfig) MistralOption {
	return func(m *MistralOCR) { m.retry = cfg }
}

// NewMistralOCR creates a MistralOCR extractor. An empty model selects the
// default OCR model.
func NewMistralOCR(apiKey, model string, opts ...MistralOption) *MistralOCR {
	if model == "" {
		model = defaultMistralModel
	}
	m := &MistralOCR{
		apiKey:   apiKey,
		model:    model,
		endpoint: mistralOCREndpoint,
		client:   &http.Client{Timeout: 2 * time.Minute},
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: time.Second,
			MaxBackoff:     8 * time.Second,
			Multiplier:     2,
			OnRetry:        resilience.RetryLogger("ocr", "mistral"),
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

type mistralDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type mistralRequest struct {
	Model    string          `json:"model"`
	Document mistralDocument `json:"document"`
}

type mistralPage struct {
	Index    int    `json:"index"`
	Markdown string `json:"markdown"`
}

type mistralResponse struct {
	Pages []mistralPage `json:"pages"`
}

// ExtractText sends the PDF inline as a data URL and joins the non-blank
// pages in page order.
func (m *MistralOCR) ExtractText(ctx context.Context, pdfPath string) (string, error) {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return "", eris.Wrapf(err, "ocr: read PDF %s", pdfPath)
	}

	body, err := json.Marshal(mistralRequest{
		Model: m.model,
		Document: mistralDocument{
			Type:        "document_url",
			DocumentURL: "data:application/pdf;base64," + base64.StdEncoding.EncodeToString(data),
		},
	})
	if err != nil {
		return "", eris.Wrap(err, "ocr: marshal mistral request")
	}

	var parsed mistralResponse
	err = resilience.Do(ctx, m.retry, func(ctx context.Context) error {
		return m.call(ctx, body, &parsed)
	})
	if err != nil {
		return "", err
	}

	sort.SliceStable(parsed.Pages, func(i, j int) bool { return parsed.Pages[i].Index < parsed.Pages[j].Index })
	var pages []string
	for _, p := range parsed.Pages {
		if strings.TrimSpace(p.Markdown) != "" {
			pages = append(pages, p.Markdown)
		}
	}
	return strings.Join(pages, "\n"), nil
}

func (m *MistralOCR) call(ctx context.Context, body []byte, out *mistralResponse) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "ocr: create mistral request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.apiKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "ocr: mistral API call"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxMistralResponse))
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "ocr: read mistral response"), resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		apiErr := eris.Errorf("ocr: mistral API returned %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(apiErr, resp.StatusCode)
		}
		return apiErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return eris.Wrap(err, "ocr: unmarshal mistral response")
	}
	return nil
}
