package decorate

import (
	"maps"
	"slices"
	"strings"

	"github.com/dusk-indust/pageboot/internal/page"
)

// Section and block lifecycle attribute values.
const (
	StatusInitialized = "initialized"
	StatusLoading     = "loading"
	StatusLoaded      = "loaded"
)

const (
	attrSectionStatus = "data-section-status"
	attrBlockStatus   = "data-block-status"
	attrBlockName     = "data-block-name"
)

// DecorateTemplateAndTheme adds the template and theme metadata values to
// the body as class names.
func (d *Decorator) DecorateTemplateAndTheme() {
	body := d.doc.Body()
	if body == nil {
		return
	}
	for _, name := range []string{"template", "theme"} {
		v := d.doc.Meta(name)
		if v == "" {
			continue
		}
		for _, c := range strings.Split(v, ",") {
			if c = ClassName(strings.TrimSpace(c)); c != "" {
				body.AddClass(c)
			}
		}
	}
}

// DecorateButtons turns links standing alone in a paragraph into buttons.
// A link wrapped in <strong> becomes primary, one wrapped in <em>
// secondary.
func (d *Decorator) DecorateButtons(el *page.Element) {
	for _, a := range el.FindAll(page.ByTag("a")) {
		text := a.Text()
		if a.Attr("title") == "" {
			a.SetAttr("title", text)
		}
		if a.Attr("href") == text || a.Find(page.ByTag("img")) != nil {
			continue
		}
		up := a.Parent()
		if up == nil || childNodes(up) != 1 {
			continue
		}
		switch up.Tag() {
		case "p", "div":
			a.SetAttr("class", "button")
			up.AddClass("button-container")
		case "strong", "em":
			twoup := up.Parent()
			if twoup == nil || twoup.Tag() != "p" || childNodes(twoup) != 1 {
				continue
			}
			if up.Tag() == "strong" {
				a.SetAttr("class", "button primary")
			} else {
				a.SetAttr("class", "button secondary")
			}
			twoup.AddClass("button-container")
		}
	}
}

// DecorateIcons appends an <img> for every span.icon-<name>.
func (d *Decorator) DecorateIcons(el *page.Element) {
	for _, span := range el.FindAll(page.ByClass("icon")) {
		if span.Tag() != "span" {
			continue
		}
		name := ""
		for _, c := range span.Classes() {
			if strings.HasPrefix(c, "icon-") {
				name = strings.TrimPrefix(c, "icon-")
				break
			}
		}
		if name == "" {
			continue
		}
		img := page.NewElement("img")
		img.SetAttr("data-icon-name", name)
		img.SetAttr("src", d.codeBasePath+"/icons/"+name+".svg")
		img.SetAttr("alt", "")
		img.SetAttr("loading", "lazy")
		span.Append(img)
	}
}

// DecorateSections turns each top-level div of main into a hidden section,
// groups its content into wrappers and applies section metadata.
func (d *Decorator) DecorateSections(main *page.Element) {
	for _, section := range main.Children() {
		if section.Tag() != "div" {
			continue
		}
		if _, done := section.LookupAttr(attrSectionStatus); done {
			continue
		}

		var wrappers []*page.Element
		defaultContent := false
		for _, child := range section.Children() {
			isBlock := child.Tag() == "div" && child.Attr("class") != ""
			if isBlock || !defaultContent {
				w := page.NewElement("div")
				wrappers = append(wrappers, w)
				defaultContent = !isBlock
				if defaultContent {
					w.AddClass("default-content-wrapper")
				}
			}
			wrappers[len(wrappers)-1].Append(child)
		}
		for _, w := range wrappers {
			section.Append(w)
		}

		section.AddClass("section")
		section.SetAttr(attrSectionStatus, StatusInitialized)
		section.SetAttr("style", "display: none;")

		meta := section.Find(func(el *page.Element) bool {
			return el.Tag() == "div" && el.HasClass("section-metadata")
		})
		if meta == nil {
			continue
		}
		cfg := readBlockConfig(meta)
		for _, key := range slices.Sorted(maps.Keys(cfg)) {
			val := cfg[key]
			if key == "style" {
				for _, s := range strings.Split(val, ",") {
					if s = ClassName(strings.TrimSpace(s)); s != "" {
						section.AddClass(s)
					}
				}
				continue
			}
			section.SetAttr("data-"+key, val)
		}
		if p := meta.Parent(); p != nil && p.Node() != section.Node() {
			p.Remove()
		} else {
			meta.Remove()
		}
	}
}

// DecorateBlocks marks every div.section > div > div carrying a class as a
// block.
func (d *Decorator) DecorateBlocks(main *page.Element) {
	for _, section := range main.FindAll(page.ByClass("section")) {
		if section.Tag() != "div" {
			continue
		}
		for _, wrapper := range section.Children() {
			if wrapper.Tag() != "div" {
				continue
			}
			for _, block := range wrapper.Children() {
				if block.Tag() == "div" {
					d.decorateBlock(block)
				}
			}
		}
	}
}

func (d *Decorator) decorateBlock(block *page.Element) {
	classes := block.Classes()
	if len(classes) == 0 {
		return
	}
	if _, done := block.LookupAttr(attrBlockStatus); done {
		return
	}
	name := classes[0]
	block.AddClass("block")
	block.SetAttr(attrBlockName, name)
	block.SetAttr(attrBlockStatus, StatusInitialized)
	if wrapper := block.Parent(); wrapper != nil {
		wrapper.AddClass(name + "-wrapper")
	}
	for p := block.Parent(); p != nil; p = p.Parent() {
		if p.HasClass("section") {
			p.AddClass(name + "-container")
			break
		}
	}
}

// BuildBlock creates an undecorated block named name holding elems in a
// single cell.
func (d *Decorator) BuildBlock(name string, elems ...*page.Element) *page.Element {
	block := page.NewElement("div")
	block.AddClass(name)
	row := page.NewElement("div")
	col := page.NewElement("div")
	for _, el := range elems {
		col.Append(el)
	}
	row.Append(col)
	block.Append(row)
	return block
}

// readBlockConfig reads two-column rows of a config block into
// class-name keys and text values.
func readBlockConfig(block *page.Element) map[string]string {
	cfg := make(map[string]string)
	for _, row := range block.Children() {
		cols := row.Children()
		if len(cols) < 2 {
			continue
		}
		key := ClassName(cols[0].Text())
		if key == "" {
			continue
		}
		cfg[key] = strings.TrimSpace(cols[1].Text())
	}
	return cfg
}

// childNodes counts all child nodes, text included.
func childNodes(el *page.Element) int {
	n := 0
	for c := el.Node().FirstChild; c != nil; c = c.NextSibling {
		n++
	}
	return n
}
