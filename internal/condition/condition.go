// Package condition holds the predicates that decide whether an optional
// capability is relevant to the current page.
package condition

import (
	"regexp"
	"sort"

	"github.com/dusk-indust/pageboot/internal/page"
)

// Func inspects a document and reports whether a capability applies.
// Implementations must not mutate the document.
type Func func(doc *page.Document) bool

// Names of the built-in conditions.
const (
	NameExperimentation = "experimentation"
	NameAlways          = "always"
	NameNever           = "never"
)

var (
	// metaNamePrefixes are page-level metadata keys that declare an
	// experiment, campaign or audience.
	metaNamePrefixes = []string{"experiment", "campaign-", "audience-"}

	// metaPropertyPrefixes are structured-data properties with the same role.
	metaPropertyPrefixes = []string{"campaign:", "audience:"}

	// sectionClassFragments mark decorated sections.
	sectionClassFragments = []string{"experiment", "audience", "campaign"}

	sectionMetadataRe = regexp.MustCompile(`(?i)Experiment|Campaign|Audience`)
)

var builtins = map[string]Func{
	NameExperimentation: Experimentation,
	NameAlways:          Always,
	NameNever:           Never,
}

// Lookup returns a built-in condition by name.
func Lookup(name string) (Func, bool) {
	f, ok := builtins[name]
	return f, ok
}

// Names lists the built-in condition names in sorted order.
func Names() []string {
	names := make([]string, 0, len(builtins))
	for name := range builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Always is true for every page.
func Always(*page.Document) bool { return true }

// Never is false for every page.
func Never(*page.Document) bool { return false }

// Experimentation reports whether the page declares an experiment, campaign
// or audience signal. It works on undecorated documents by falling back to
// the raw section-metadata text.
func Experimentation(doc *page.Document) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	if doc == nil {
		return false
	}
	return hasMetadataSignal(doc) || hasDecoratedSection(doc) || hasSectionMetadataText(doc)
}

func hasMetadataSignal(doc *page.Document) bool {
	head := doc.Head()
	if head == nil {
		return false
	}
	return head.Find(func(el *page.Element) bool {
		for _, p := range metaNamePrefixes {
			if page.AttrPrefix("name", p)(el) {
				return true
			}
		}
		for _, p := range metaPropertyPrefixes {
			if page.AttrPrefix("property", p)(el) {
				return true
			}
		}
		return false
	}) != nil
}

func hasDecoratedSection(doc *page.Document) bool {
	root := doc.Root()
	if root == nil {
		return false
	}
	return root.Find(func(el *page.Element) bool {
		if !el.HasClass("section") {
			return false
		}
		for _, frag := range sectionClassFragments {
			if el.ClassContains(frag) {
				return true
			}
		}
		return false
	}) != nil
}

func hasSectionMetadataText(doc *page.Document) bool {
	root := doc.Root()
	if root == nil {
		return false
	}
	for _, block := range root.FindAll(page.ByClass("section-metadata")) {
		for _, div := range block.FindAll(page.ByTag("div")) {
			if sectionMetadataRe.MatchString(div.Text()) {
				return true
			}
		}
	}
	return false
}

// Safe wraps f so that a panic evaluates to false.
func Safe(f Func) Func {
	if f == nil {
		return nil
	}
	return func(doc *page.Document) (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		return f(doc)
	}
}
