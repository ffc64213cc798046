// Package dom holds the small set of HTML tree helpers the page parsers share.
package dom

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/jmcleod/eduportal/internal/util"
)

// Parse parses an HTML document.
func Parse(body string) (*html.Node, error) {
	return html.Parse(strings.NewReader(body))
}

// Attr returns the value of attribute key, or "".
func Attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// HasClass reports whether n carries class name.
func HasClass(n *html.Node, name string) bool {
	for _, c := range strings.Fields(Attr(n, "class")) {
		if c == name {
			return true
		}
	}
	return false
}

// Is matches element nodes of the given atom.
func Is(a atom.Atom) func(*html.Node) bool {
	return func(n *html.Node) bool { return n.DataAtom == a }
}

// First returns the first element below root, in document order, that match
// accepts. root itself is not considered.
func First(root *html.Node, match func(*html.Node) bool) *html.Node {
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			return c
		}
		if n := First(c, match); n != nil {
			return n
		}
	}
	return nil
}

// All returns every element below root that match accepts.
func All(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// Children returns the element children of n that match accepts.
func Children(n *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && match(c) {
			out = append(out, c)
		}
	}
	return out
}

// HasAncestor reports whether an element of atom a sits between n and stop.
func HasAncestor(n, stop *html.Node, a atom.Atom) bool {
	for p := n.Parent; p != nil && p != stop; p = p.Parent {
		if p.DataAtom == a {
			return true
		}
	}
	return false
}

// Text returns the collapsed, NFC-normalised text content of n. <br> becomes
// sep.
func Text(n *html.Node, sep string) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			switch {
			case c.Type == html.TextNode:
				b.WriteString(c.Data)
			case c.Type == html.ElementNode && c.DataAtom == atom.Br:
				b.WriteString(sep)
			case c.Type == html.ElementNode:
				walk(c)
			}
		}
	}
	walk(n)
	return util.Normalize(util.CollapseSpace(b.String()))
}

// OwnText returns the text of n without the text of children matching skip.
func OwnText(n *html.Node, skip func(*html.Node) bool) string {
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch {
		case c.Type == html.TextNode:
			b.WriteString(c.Data)
		case c.Type == html.ElementNode && skip(c):
		case c.Type == html.ElementNode:
			b.WriteString(Text(c, " "))
			b.WriteString(" ")
		}
	}
	return util.Normalize(util.CollapseSpace(b.String()))
}
