package export

import (
	"bytes"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// PDFLayout is PDFOptions resolved to the values a browser print call takes.
// Nil paper and margin fields leave the browser default in place.
type PDFLayout struct {
	Landscape         bool
	PrintBackground   bool
	PreferCSSPageSize bool
	Scale             float64
	PaperWidth        *float64
	PaperHeight       *float64
	MarginTop         *float64
	MarginBottom      *float64
	MarginLeft        *float64
	MarginRight       *float64
}

// ResolvePDFLayout validates opts and converts sizes and margins to inches.
// CSS page size is preferred when requested, or when no page size is named.
func ResolvePDFLayout(opts PDFOptions) (PDFLayout, error) {
	scale, err := ValidateScale(opts.Scale)
	if err != nil {
		return PDFLayout{}, err
	}
	layout := PDFLayout{Scale: scale}
	if opts.Landscape != nil {
		layout.Landscape = *opts.Landscape
	}
	if opts.PrintBackground != nil {
		layout.PrintBackground = *opts.PrintBackground
	}
	if opts.PreferCSSPageSize != nil {
		layout.PreferCSSPageSize = *opts.PreferCSSPageSize
	} else {
		layout.PreferCSSPageSize = opts.PageSize == ""
	}

	if opts.PageSize != "" {
		width, height, err := LookupPageSize(opts.PageSize)
		if err != nil {
			return PDFLayout{}, err
		}
		layout.PaperWidth, layout.PaperHeight = &width, &height
	}

	margins := []struct {
		value  string
		target **float64
	}{
		{opts.MarginTop, &layout.MarginTop},
		{opts.MarginBottom, &layout.MarginBottom},
		{opts.MarginLeft, &layout.MarginLeft},
		{opts.MarginRight, &layout.MarginRight},
	}
	for _, margin := range margins {
		if margin.value == "" {
			continue
		}
		inches, err := ParseLengthInches(margin.value)
		if err != nil {
			return PDFLayout{}, err
		}
		*margin.target = &inches
	}
	return layout, nil
}

// InjectBaseURL adds a base element so relative asset URLs in markup resolve
// against baseURL once the markup is loaded into a blank surface. Markup that
// already declares a base is returned unchanged.
func InjectBaseURL(markup []byte, baseURL string) []byte {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return markup
	}

	lower := asciiLower(markup)
	if bytes.Contains(lower, []byte("<base")) {
		return markup
	}

	baseTag := fmt.Sprintf(`<base href="%s">`, html.EscapeString(baseURL))
	if at, ok := afterOpenTag(lower, "<head"); ok {
		return splice(markup, at, baseTag)
	}
	if at, ok := afterOpenTag(lower, "<html"); ok {
		return splice(markup, at, "<head>"+baseTag+"</head>")
	}
	return splice(markup, 0, baseTag)
}

// asciiLower keeps byte offsets aligned with markup.
func asciiLower(markup []byte) []byte {
	out := make([]byte, len(markup))
	for i, b := range markup {
		if 'A' <= b && b <= 'Z' {
			b += 'a' - 'A'
		}
		out[i] = b
	}
	return out
}

func afterOpenTag(lower []byte, tag string) (int, bool) {
	start := bytes.Index(lower, []byte(tag))
	if start < 0 {
		return 0, false
	}
	end := bytes.IndexByte(lower[start:], '>')
	if end < 0 {
		return 0, false
	}
	return start + end + 1, true
}

func splice(markup []byte, at int, insert string) []byte {
	out := make([]byte, 0, len(markup)+len(insert))
	out = append(out, markup[:at]...)
	out = append(out, insert...)
	return append(out, markup[at:]...)
}
