package export

import (
	"strings"

	"golang.org/x/net/html"
)

// PageBreakClass marks a top-level section that ends a printed page.
const PageBreakClass = "print-page"

// cloneTree returns a deep copy of n detached from any parent.
func cloneTree(n *html.Node) *html.Node {
	if n == nil {
		return nil
	}
	out := &html.Node{
		Type:      n.Type,
		DataAtom:  n.DataAtom,
		Data:      n.Data,
		Namespace: n.Namespace,
	}
	if len(n.Attr) > 0 {
		out.Attr = make([]html.Attribute, len(n.Attr))
		copy(out.Attr, n.Attr)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		out.AppendChild(cloneTree(c))
	}
	return out
}

// markSections adds class to every immediate child element of root and
// returns how many were marked.
func markSections(root *html.Node, class string) int {
	if root == nil {
		return 0
	}
	marked := 0
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		addClass(c, class)
		marked++
	}
	return marked
}

func addClass(n *html.Node, class string) {
	for i, attr := range n.Attr {
		if attr.Namespace != "" || attr.Key != "class" {
			continue
		}
		fields := strings.Fields(attr.Val)
		for _, existing := range fields {
			if existing == class {
				return
			}
		}
		n.Attr[i].Val = strings.Join(append(fields, class), " ")
		return
	}
	n.Attr = append(n.Attr, html.Attribute{Key: "class", Val: class})
}
