package export

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DefaultPDFScale is the print scale used when none is configured.
const DefaultPDFScale = 1.0

// PDFExternalAssetsPolicy controls how external assets are handled while a
// browser surface prints.
type PDFExternalAssetsPolicy string

const (
	PDFExternalAssetsUnspecified PDFExternalAssetsPolicy = ""
	PDFExternalAssetsAllow       PDFExternalAssetsPolicy = "allow"
	PDFExternalAssetsBlock       PDFExternalAssetsPolicy = "block"
)

// PDFOptions configures browser-surface printing. Nil pointers mean unset.
type PDFOptions struct {
	PageSize             string
	Landscape            *bool
	PrintBackground      *bool
	Scale                float64
	MarginTop            string
	MarginBottom         string
	MarginLeft           string
	MarginRight          string
	PreferCSSPageSize    *bool
	BaseURL              string
	ExternalAssetsPolicy PDFExternalAssetsPolicy
}

// PageSizeInches maps named paper sizes to portrait width and height.
var PageSizeInches = map[string]struct {
	Width  float64
	Height float64
}{
	"A3":     {Width: 11.69, Height: 16.54},
	"A4":     {Width: 8.27, Height: 11.69},
	"A5":     {Width: 5.83, Height: 8.27},
	"LETTER": {Width: 8.5, Height: 11},
	"LEGAL":  {Width: 8.5, Height: 14},
}

var pdfLengthPattern = regexp.MustCompile(`^\s*([0-9]+(?:\.[0-9]+)?)\s*([a-zA-Z]*)\s*$`)

// DefaultPDFOptions prints backgrounds and lets the print style block's
// @page rule decide paper size and margins.
func DefaultPDFOptions() PDFOptions {
	return PDFOptions{
		Scale:             DefaultPDFScale,
		PrintBackground:   BoolPtr(true),
		PreferCSSPageSize: BoolPtr(true),
	}
}

// MergePDFOptions applies the set fields of override on top of base.
func MergePDFOptions(base, override PDFOptions) PDFOptions {
	merged := base
	if override.PageSize != "" {
		merged.PageSize = override.PageSize
	}
	if override.Landscape != nil {
		merged.Landscape = override.Landscape
	}
	if override.PrintBackground != nil {
		merged.PrintBackground = override.PrintBackground
	}
	if override.Scale != 0 {
		merged.Scale = override.Scale
	}
	if override.MarginTop != "" {
		merged.MarginTop = override.MarginTop
	}
	if override.MarginBottom != "" {
		merged.MarginBottom = override.MarginBottom
	}
	if override.MarginLeft != "" {
		merged.MarginLeft = override.MarginLeft
	}
	if override.MarginRight != "" {
		merged.MarginRight = override.MarginRight
	}
	if override.PreferCSSPageSize != nil {
		merged.PreferCSSPageSize = override.PreferCSSPageSize
	}
	if override.BaseURL != "" {
		merged.BaseURL = override.BaseURL
	}
	if override.ExternalAssetsPolicy != "" {
		merged.ExternalAssetsPolicy = override.ExternalAssetsPolicy
	}
	return merged
}

// ValidateScale reports scales outside the range browsers accept.
func ValidateScale(scale float64) (float64, error) {
	if scale == 0 {
		scale = DefaultPDFScale
	}
	if scale < 0.1 || scale > 2.0 {
		return 0, NewError(KindValidation, "pdf scale must be between 0.1 and 2.0", nil)
	}
	return scale, nil
}

// LookupPageSize resolves a named paper size.
func LookupPageSize(name string) (width, height float64, err error) {
	size, ok := PageSizeInches[strings.ToUpper(strings.TrimSpace(name))]
	if !ok {
		return 0, 0, NewError(KindValidation, fmt.Sprintf("unsupported pdf page size: %s", name), nil)
	}
	return size.Width, size.Height, nil
}

// ParseLengthInches converts a CSS-like length (in, cm, mm, pt, px) to inches.
// A bare number is read as inches.
func ParseLengthInches(value string) (float64, error) {
	matches := pdfLengthPattern.FindStringSubmatch(value)
	if len(matches) != 3 {
		return 0, NewError(KindValidation, fmt.Sprintf("invalid pdf length: %s", value), nil)
	}

	raw := matches[1]
	unit := strings.ToLower(matches[2])
	if unit == "" {
		unit = "in"
	}

	amount, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, NewError(KindValidation, fmt.Sprintf("invalid pdf length: %s", value), err)
	}

	switch unit {
	case "in":
		return amount, nil
	case "cm":
		return amount / 2.54, nil
	case "mm":
		return amount / 25.4, nil
	case "pt":
		return amount / 72.0, nil
	case "px":
		return amount / 96.0, nil
	default:
		return 0, NewError(KindValidation, fmt.Sprintf("unsupported pdf length unit: %s", unit), nil)
	}
}

// BoolPtr returns a pointer to value.
func BoolPtr(value bool) *bool {
	return &value
}
