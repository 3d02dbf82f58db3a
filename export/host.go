package export

import (
	"bytes"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// DefaultRootAttribute marks the content root when no id is configured.
const DefaultRootAttribute = "data-export-root"

// RootSelector locates the content root inside the host document.
// ID wins over Attribute when both are set.
type RootSelector struct {
	ID        string
	Attribute string
}

func (s RootSelector) matches(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if id := strings.TrimSpace(s.ID); id != "" {
		value, ok := attrValue(n, "id")
		return ok && value == id
	}
	attr := strings.TrimSpace(s.Attribute)
	if attr == "" {
		attr = DefaultRootAttribute
	}
	_, ok := attrValue(n, attr)
	return ok
}

// HostDocument is a parsed host page. The tree is replaced wholesale on
// Reload and never edited in place.
type HostDocument struct {
	mu       sync.RWMutex
	selector RootSelector
	doc      *html.Node
	head     *html.Node
	root     *html.Node
}

// ParseHostDocument parses a host page.
func ParseHostDocument(r io.Reader, sel RootSelector) (*HostDocument, error) {
	d := &HostDocument{selector: sel}
	if err := d.Reload(r); err != nil {
		return nil, err
	}
	return d, nil
}

// LoadHostDocument parses the host page stored at path.
func LoadHostDocument(path string, sel RootSelector) (*HostDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, NewError(KindValidation, "host document open failed", err)
	}
	defer f.Close()
	return ParseHostDocument(f, sel)
}

// Reload replaces the document tree with a freshly parsed one.
func (d *HostDocument) Reload(r io.Reader) error {
	if d == nil {
		return NewError(KindInternal, "host document is nil", nil)
	}
	if r == nil {
		return NewError(KindValidation, "host document reader is required", nil)
	}
	doc, err := html.Parse(r)
	if err != nil {
		return NewError(KindValidation, "host document parse failed", err)
	}

	head := findFirst(doc, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Head
	})
	root := findFirst(doc, d.selector.matches)

	d.mu.Lock()
	d.doc = doc
	d.head = head
	d.root = root
	d.mu.Unlock()
	return nil
}

// ContentRoot returns the live content root, nil when absent.
func (d *HostDocument) ContentRoot() *html.Node {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.root
}

// StyleResources snapshots link and style elements of the head in order.
func (d *HostDocument) StyleResources() []StyleResource {
	if d == nil {
		return nil
	}
	d.mu.RLock()
	head := d.head
	d.mu.RUnlock()
	return collectStyleResources(head)
}

// Render writes the host page markup.
func (d *HostDocument) Render(w io.Writer) error {
	return d.RenderWithOverlay(w, "")
}

// RenderWithOverlay writes the host page with overlay markup appended to the
// body, outside the content root.
func (d *HostDocument) RenderWithOverlay(w io.Writer, overlay string) error {
	if d == nil {
		return NewError(KindInternal, "host document is nil", nil)
	}
	d.mu.RLock()
	doc := d.doc
	d.mu.RUnlock()
	if doc == nil {
		return NewError(KindNotMounted, "host document is not loaded", nil)
	}

	if strings.TrimSpace(overlay) == "" {
		return html.Render(w, doc)
	}

	page := cloneTree(doc)
	body := findFirst(page, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if body == nil {
		return NewError(KindValidation, "host document has no body", nil)
	}
	nodes, err := html.ParseFragment(strings.NewReader(overlay), &html.Node{
		Type:     html.ElementNode,
		Data:     "body",
		DataAtom: atom.Body,
	})
	if err != nil {
		return NewError(KindValidation, "overlay parse failed", err)
	}
	for _, n := range nodes {
		body.AppendChild(n)
	}
	return html.Render(w, page)
}

func collectStyleResources(head *html.Node) []StyleResource {
	if head == nil {
		return nil
	}
	var out []StyleResource
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				switch c.DataAtom {
				case atom.Link:
					out = append(out, StyleResource{Kind: StyleLink, Markup: renderNode(c)})
					continue
				case atom.Style:
					out = append(out, StyleResource{Kind: StyleInline, Markup: renderNode(c)})
					continue
				}
			}
			walk(c)
		}
	}
	walk(head)
	return out
}

func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	if err := html.Render(&buf, n); err != nil {
		return ""
	}
	return buf.String()
}

func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n == nil {
		return nil
	}
	if match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Namespace == "" && attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
