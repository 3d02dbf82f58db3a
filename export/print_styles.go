package export

import (
	"fmt"
	"strings"

	"github.com/flosch/pongo2/v6"
)

const (
	DefaultPageSize    = "A4"
	DefaultOrientation = "portrait"
	DefaultPageMargin  = "10mm"
	DefaultFontFamily  = "Inter, ui-sans-serif, system-ui, -apple-system, 'Segoe UI', Roboto, 'Helvetica Neue', Arial"

	// MinLineControl is the smallest orphans/widows value allowed for text blocks.
	MinLineControl = 3
)

const printStyleSource = `<style>
  @page { size: {{ page_size|safe }} {{ orientation|safe }}; margin: {{ margin|safe }}; }
  html, body { height: 100%; background: white; -webkit-print-color-adjust: exact; }
  body { margin: 0; font-family: {{ font_family|safe }}; }
  .{{ marker }} { display: block; page-break-after: always; break-after: page; }
  .{{ marker }}:last-child { page-break-after: auto; break-after: auto; }
  img { max-width: 100%; height: auto; page-break-inside: avoid; break-inside: avoid; }
  .card, .p-6, .p-8 { page-break-inside: avoid; break-inside: avoid; }
  .avoid-break { page-break-inside: avoid; break-inside: avoid; }
  p, h1, h2, h3, h4, h5, h6 { orphans: {{ orphans }}; widows: {{ widows }}; }
  * { -webkit-print-color-adjust: exact; print-color-adjust: exact; }
{% if extra_css %}  {{ extra_css|safe }}
{% endif %}</style>`

var printStyleTemplate = pongo2.Must(pongo2.FromString(printStyleSource))

// PrintStyles configures the print-only style block appended after the host
// styles. Zero values fall back to the defaults.
type PrintStyles struct {
	PageSize    string
	Orientation string
	Margin      string
	FontFamily  string
	Orphans     int
	Widows      int
	ExtraCSS    string
}

// DefaultPrintStyles returns A4 portrait with 10mm margins.
func DefaultPrintStyles() PrintStyles {
	return PrintStyles{}.withDefaults()
}

func (s PrintStyles) withDefaults() PrintStyles {
	if strings.TrimSpace(s.PageSize) == "" {
		s.PageSize = DefaultPageSize
	}
	if strings.TrimSpace(s.Orientation) == "" {
		s.Orientation = DefaultOrientation
	}
	if strings.TrimSpace(s.Margin) == "" {
		s.Margin = DefaultPageMargin
	}
	if strings.TrimSpace(s.FontFamily) == "" {
		s.FontFamily = DefaultFontFamily
	}
	if s.Orphans == 0 {
		s.Orphans = MinLineControl
	}
	if s.Widows == 0 {
		s.Widows = MinLineControl
	}
	return s
}

// Validate reports settings that would break the style block.
func (s PrintStyles) Validate() error {
	s = s.withDefaults()
	switch strings.ToLower(s.Orientation) {
	case "portrait", "landscape":
	default:
		return NewError(KindValidation, fmt.Sprintf("unsupported page orientation: %s", s.Orientation), nil)
	}
	if s.Orphans < MinLineControl || s.Widows < MinLineControl {
		return NewError(KindValidation, fmt.Sprintf("orphans and widows must be at least %d", MinLineControl), nil)
	}
	for name, value := range map[string]string{
		"page size":   s.PageSize,
		"margin":      s.Margin,
		"font family": s.FontFamily,
		"extra css":   s.ExtraCSS,
	} {
		if strings.ContainsAny(value, "<>") {
			return NewError(KindValidation, fmt.Sprintf("print %s must not contain markup", name), nil)
		}
	}
	return nil
}

// Render returns the print style element.
func (s PrintStyles) Render() (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	s = s.withDefaults()
	out, err := printStyleTemplate.Execute(pongo2.Context{
		"page_size":   s.PageSize,
		"orientation": strings.ToLower(s.Orientation),
		"margin":      s.Margin,
		"font_family": s.FontFamily,
		"marker":      PageBreakClass,
		"orphans":     s.Orphans,
		"widows":      s.Widows,
		"extra_css":   strings.TrimSpace(s.ExtraCSS),
	})
	if err != nil {
		return "", NewError(KindInternal, "print styles render failed", err)
	}
	return out, nil
}
