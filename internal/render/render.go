// Package render turns campaign templates and a typed context into HTML.
package render

import (
	"bytes"
	"embed"
	"html/template"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

//go:embed tones.yaml
var tonesYAML []byte

// ErrUnknownTemplate is returned when Render is asked for a template that
// was never loaded.
var ErrUnknownTemplate = eris.New("render: unknown template")

// Tone selects a template and subject line.
type Tone struct {
	Name     string `yaml:"-"`
	Template string `yaml:"template"`
	Subject  string `yaml:"subject"`
}

// Catalog lists the available tones.
type Catalog struct {
	Default string          `yaml:"default"`
	Tones   map[string]Tone `yaml:"tones"`
}

// Renderer renders the embedded campaign templates. It holds no mutable
// state after construction and is safe for concurrent use.
type Renderer struct {
	tmpl    *template.Template
	catalog Catalog
}

// New parses the embedded templates and tone catalog.
func New() (*Renderer, error) {
	printer := message.NewPrinter(language.English)
	funcs := template.FuncMap{
		"money": func(v float64) string { return printer.Sprintf("$%.2f", v) },
	}

	tmpl, err := template.New("campaign").Funcs(funcs).ParseFS(templateFS, "templates/*.html.tmpl")
	if err != nil {
		return nil, eris.Wrap(err, "render: parse templates")
	}

	catalog, err := parseCatalog(tonesYAML)
	if err != nil {
		return nil, err
	}
	for name, tone := range catalog.Tones {
		if tmpl.Lookup(tone.Template) == nil {
			return nil, eris.Errorf("render: tone %q references missing template %q", name, tone.Template)
		}
	}

	return &Renderer{tmpl: tmpl, catalog: catalog}, nil
}

func parseCatalog(data []byte) (Catalog, error) {
	var wrapper struct {
		Catalog Catalog `yaml:"catalog"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Catalog{}, eris.Wrap(err, "render: parse tone catalog")
	}
	c := wrapper.Catalog
	if _, ok := c.Tones[c.Default]; !ok {
		return Catalog{}, eris.Errorf("render: default tone %q is not defined", c.Default)
	}
	for name, t := range c.Tones {
		t.Name = name
		c.Tones[name] = t
	}
	return c, nil
}

// Render executes the named template with ctx. HTML-special characters in
// context values are escaped.
func (r *Renderer) Render(name string, ctx EmailContext) (string, error) {
	t := r.tmpl.Lookup(name)
	if t == nil {
		return "", eris.Wrapf(ErrUnknownTemplate, "template %q", name)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, ctx); err != nil {
		return "", eris.Wrapf(err, "render: execute %s", name)
	}
	return buf.String(), nil
}

// Tone looks up a tone by case-insensitive name.
func (r *Renderer) Tone(name string) (Tone, bool) {
	t, ok := r.catalog.Tones[strings.ToLower(strings.TrimSpace(name))]
	return t, ok
}

// DefaultTone returns the catalog's default tone.
func (r *Renderer) DefaultTone() Tone {
	return r.catalog.Tones[r.catalog.Default]
}

// ResolveTone returns the named tone, or the default and false when name is
// unknown.
func (r *Renderer) ResolveTone(name string) (Tone, bool) {
	if t, ok := r.Tone(name); ok {
		return t, true
	}
	return r.DefaultTone(), false
}

// ToneNames lists the catalog's tone names in sorted order.
func (r *Renderer) ToneNames() []string {
	names := make([]string, 0, len(r.catalog.Tones))
	for name := range r.catalog.Tones {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
