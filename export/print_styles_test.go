package export

import (
	"strings"
	"testing"
)

func TestPrintStyles_RenderDefaults(t *testing.T) {
	out, err := DefaultPrintStyles().Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	rules := []string{
		"@page { size: A4 portrait; margin: 10mm; }",
		".print-page { display: block; page-break-after: always; break-after: page; }",
		".print-page:last-child { page-break-after: auto; break-after: auto; }",
		"img { max-width: 100%; height: auto; page-break-inside: avoid; break-inside: avoid; }",
		".card, .p-6, .p-8 { page-break-inside: avoid; break-inside: avoid; }",
		".avoid-break { page-break-inside: avoid; break-inside: avoid; }",
		"p, h1, h2, h3, h4, h5, h6 { orphans: 3; widows: 3; }",
		"print-color-adjust: exact;",
		"'Segoe UI'",
	}
	for _, rule := range rules {
		if !strings.Contains(out, rule) {
			t.Fatalf("expected rule %q in\n%s", rule, out)
		}
	}
	if !strings.HasPrefix(out, "<style>") || !strings.HasSuffix(out, "</style>") {
		t.Fatalf("expected style element, got %q", out)
	}
}

func TestPrintStyles_RenderOverrides(t *testing.T) {
	out, err := PrintStyles{
		PageSize:    "Letter",
		Orientation: "Landscape",
		Margin:      "0.5in",
		Orphans:     4,
		ExtraCSS:    ".hero { min-height: auto; }",
	}.Render()
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !strings.Contains(out, "@page { size: Letter landscape; margin: 0.5in; }") {
		t.Fatalf("expected page override, got\n%s", out)
	}
	if !strings.Contains(out, "orphans: 4; widows: 3;") {
		t.Fatalf("expected line control override, got\n%s", out)
	}
	if !strings.Contains(out, ".hero { min-height: auto; }") {
		t.Fatalf("expected extra css, got\n%s", out)
	}
}

func TestPrintStyles_Validate(t *testing.T) {
	cases := []PrintStyles{
		{Orientation: "sideways"},
		{Orphans: 2},
		{Widows: 1},
		{ExtraCSS: "</style><script>alert(1)</script>"},
		{Margin: "10mm<"},
	}
	for _, tc := range cases {
		if err := tc.Validate(); KindFromError(err) != KindValidation {
			t.Fatalf("expected validation error for %+v, got %v", tc, err)
		}
	}
	if err := DefaultPrintStyles().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
