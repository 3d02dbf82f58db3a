package export

import (
	"bytes"
	"strings"

	"github.com/flosch/pongo2/v6"
	"golang.org/x/net/html"
)

const documentSource = `<!doctype html><html><head><meta charset="utf-8">{{ styles|safe }}{{ print_styles|safe }}</head><body>{{ body|safe }}</body></html>`

var documentTemplate = pongo2.Must(pongo2.FromString(documentSource))

// PrintDocument is the assembled markup handed to a surface.
type PrintDocument struct {
	Markup   []byte
	Sections int
	Styles   int
}

// BuildPrintDocument clones root, marks its top-level sections and wraps the
// clone with the host styles followed by the print block. root is not modified.
func BuildPrintDocument(root *html.Node, styles []StyleResource, printStyles PrintStyles) (PrintDocument, error) {
	if root == nil {
		return PrintDocument{}, NewError(KindNotMounted, "content root is not mounted", nil)
	}

	printBlock, err := printStyles.Render()
	if err != nil {
		return PrintDocument{}, err
	}

	clone := cloneTree(root)
	sections := markSections(clone, PageBreakClass)

	var body bytes.Buffer
	if err := html.Render(&body, clone); err != nil {
		return PrintDocument{}, NewError(KindInternal, "content clone render failed", err)
	}

	copied := make([]string, 0, len(styles))
	for _, style := range styles {
		copied = append(copied, style.Markup)
	}

	out, err := documentTemplate.Execute(pongo2.Context{
		"styles":       strings.Join(copied, "\n"),
		"print_styles": printBlock,
		"body":         body.String(),
	})
	if err != nil {
		return PrintDocument{}, NewError(KindInternal, "print document render failed", err)
	}

	return PrintDocument{
		Markup:   []byte(out),
		Sections: sections,
		Styles:   len(styles),
	}, nil
}
