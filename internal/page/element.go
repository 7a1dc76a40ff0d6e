package page

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Element is a handle on an element node of a Document.
type Element struct {
	n *html.Node
}

// wrap returns nil for nil or non-element nodes.
func wrap(n *html.Node) *Element {
	if n == nil || n.Type != html.ElementNode {
		return nil
	}
	return &Element{n: n}
}

// NewElement creates a detached element with the given tag name.
func NewElement(tag string) *Element {
	return &Element{n: &html.Node{
		Type:     html.ElementNode,
		Data:     tag,
		DataAtom: atom.Lookup([]byte(tag)),
	}}
}

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.n }

// Tag returns the lower-case tag name.
func (e *Element) Tag() string { return e.n.Data }

// ID returns the id attribute.
func (e *Element) ID() string { return e.Attr("id") }

// Attr returns the value of the named attribute, or "" when absent.
func (e *Element) Attr(key string) string {
	v, _ := e.LookupAttr(key)
	return v
}

// LookupAttr returns the named attribute and whether it is present.
func (e *Element) LookupAttr(key string) (string, bool) {
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

// SetAttr sets or replaces an attribute.
func (e *Element) SetAttr(key, val string) {
	for i, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == key {
			e.n.Attr[i].Val = val
			return
		}
	}
	e.n.Attr = append(e.n.Attr, html.Attribute{Key: key, Val: val})
}

// RemoveAttr deletes an attribute if present.
func (e *Element) RemoveAttr(key string) {
	out := e.n.Attr[:0]
	for _, a := range e.n.Attr {
		if a.Namespace == "" && a.Key == key {
			continue
		}
		out = append(out, a)
	}
	e.n.Attr = out
}

// Classes returns the class list in declaration order.
func (e *Element) Classes() []string {
	return strings.Fields(e.Attr("class"))
}

// HasClass reports whether the class list contains name exactly.
func (e *Element) HasClass(name string) bool {
	for _, c := range e.Classes() {
		if c == name {
			return true
		}
	}
	return false
}

// ClassContains reports whether the class attribute contains fragment
// anywhere, mirroring the CSS [class*=fragment] selector.
func (e *Element) ClassContains(fragment string) bool {
	return strings.Contains(e.Attr("class"), fragment)
}

// AddClass appends classes that are not already present.
func (e *Element) AddClass(names ...string) {
	classes := e.Classes()
	for _, name := range names {
		if name == "" || e.hasIn(classes, name) {
			continue
		}
		classes = append(classes, name)
	}
	e.SetAttr("class", strings.Join(classes, " "))
}

func (e *Element) hasIn(classes []string, name string) bool {
	for _, c := range classes {
		if c == name {
			return true
		}
	}
	return false
}

// Text returns the concatenated text content of the element.
func (e *Element) Text() string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(e.n)
	return b.String()
}

// Parent returns the parent element, or nil at the root.
func (e *Element) Parent() *Element { return wrap(e.n.Parent) }

// Children returns the direct element children.
func (e *Element) Children() []*Element {
	var out []*Element
	for c := e.n.FirstChild; c != nil; c = c.NextSibling {
		if el := wrap(c); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// Append detaches child from its current parent and appends it.
func (e *Element) Append(child *Element) {
	detach(child.n)
	e.n.AppendChild(child.n)
}

// Prepend detaches child from its current parent and inserts it first.
func (e *Element) Prepend(child *Element) {
	detach(child.n)
	if e.n.FirstChild == nil {
		e.n.AppendChild(child.n)
		return
	}
	e.n.InsertBefore(child.n, e.n.FirstChild)
}

// Wrap replaces e with wrapper in the tree and moves e inside it.
func (e *Element) Wrap(wrapper *Element) {
	if p := e.n.Parent; p != nil {
		detach(wrapper.n)
		p.InsertBefore(wrapper.n, e.n)
	}
	wrapper.Append(e)
}

// Remove detaches the element from the tree.
func (e *Element) Remove() { detach(e.n) }

// FindAll returns descendants (excluding e) matching fn in document order.
func (e *Element) FindAll(fn func(*Element) bool) []*Element {
	var out []*Element
	walkElements(e.n, false, func(el *Element) bool {
		if fn(el) {
			out = append(out, el)
		}
		return true
	})
	return out
}

// Find returns the first descendant matching fn, or nil.
func (e *Element) Find(fn func(*Element) bool) *Element {
	var found *Element
	walkElements(e.n, false, func(el *Element) bool {
		if fn(el) {
			found = el
			return false
		}
		return true
	})
	return found
}

// Precedes reports whether e comes before other in document order.
func (e *Element) Precedes(other *Element) bool {
	if e == nil || other == nil || e.n == other.n {
		return false
	}
	root := e.n
	for root.Parent != nil {
		root = root.Parent
	}
	result := false
	walkElements(root, true, func(el *Element) bool {
		switch el.n {
		case e.n:
			result = true
			return false
		case other.n:
			return false
		}
		return true
	})
	return result
}

func detach(n *html.Node) {
	if n.Parent != nil {
		n.Parent.RemoveChild(n)
	}
}

// walkElements visits element nodes depth-first in document order until
// visit returns false.
func walkElements(n *html.Node, includeSelf bool, visit func(*Element) bool) bool {
	if includeSelf {
		if el := wrap(n); el != nil && !visit(el) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if !walkElements(c, true, visit) {
			return false
		}
	}
	return true
}

// ByTag matches elements with the given tag name.
func ByTag(tag string) func(*Element) bool {
	return func(el *Element) bool { return el.Tag() == tag }
}

// ByClass matches elements carrying class name exactly.
func ByClass(name string) func(*Element) bool {
	return func(el *Element) bool { return el.HasClass(name) }
}

// HasAttr matches elements carrying the attribute.
func HasAttr(key string) func(*Element) bool {
	return func(el *Element) bool {
		_, ok := el.LookupAttr(key)
		return ok
	}
}

// AttrPrefix matches elements whose attribute starts with prefix, like
// the CSS [key^=prefix] selector.
func AttrPrefix(key, prefix string) func(*Element) bool {
	return func(el *Element) bool {
		v, ok := el.LookupAttr(key)
		return ok && strings.HasPrefix(v, prefix)
	}
}
