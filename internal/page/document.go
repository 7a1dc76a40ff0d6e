// Package page models the document a bootstrap run operates on and the
// read-only browsing environment around it.
package page

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// Document is a parsed HTML page.
type Document struct {
	root *html.Node
}

// Parse reads an HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("page: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse for in-memory markup.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// Render writes the document back out as HTML.
func (d *Document) Render(w io.Writer) error {
	if err := html.Render(w, d.root); err != nil {
		return fmt.Errorf("page: render: %w", err)
	}
	return nil
}

// Root returns the <html> element.
func (d *Document) Root() *Element {
	var root *Element
	walkElements(d.root, false, func(el *Element) bool {
		if el.Tag() == "html" {
			root = el
			return false
		}
		return true
	})
	return root
}

// Head returns the <head> element. The parser always synthesises one.
func (d *Document) Head() *Element { return d.Root().Find(ByTag("head")) }

// Body returns the <body> element.
func (d *Document) Body() *Element { return d.Root().Find(ByTag("body")) }

// Main returns the first <main> element, or nil.
func (d *Document) Main() *Element { return d.Root().Find(ByTag("main")) }

// Header returns the first <header> element, or nil.
func (d *Document) Header() *Element { return d.Root().Find(ByTag("header")) }

// Footer returns the first <footer> element, or nil.
func (d *Document) Footer() *Element { return d.Root().Find(ByTag("footer")) }

// ElementByID returns the element with the given id, or nil.
func (d *Document) ElementByID(id string) *Element {
	if id == "" {
		return nil
	}
	return d.Root().Find(func(el *Element) bool { return el.ID() == id })
}

// SetLang sets the document language.
func (d *Document) SetLang(lang string) { d.Root().SetAttr("lang", lang) }

// Lang returns the document language.
func (d *Document) Lang() string { return d.Root().Attr("lang") }

// Meta returns the content of <meta name=...> in the head, or "".
func (d *Document) Meta(name string) string {
	el := d.Head().Find(func(el *Element) bool {
		return el.Tag() == "meta" && el.Attr("name") == name
	})
	if el == nil {
		return ""
	}
	return el.Attr("content")
}

// Sections returns elements carrying the "section" class under <main>.
func (d *Document) Sections() []*Element {
	main := d.Main()
	if main == nil {
		return nil
	}
	return main.FindAll(ByClass("section"))
}
