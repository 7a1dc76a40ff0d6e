package decorate

import (
	"context"
	"fmt"

	"github.com/dusk-indust/pageboot/internal/page"
	"github.com/rs/zerolog"
)

// LoadCSS adds a stylesheet link for href to the head and resolves it. A
// link already present is not added or fetched again.
func (d *Decorator) LoadCSS(ctx context.Context, href string) error {
	head := d.doc.Head()
	if head == nil {
		return fmt.Errorf("decorate: load css %s: document has no head", href)
	}
	existing := head.Find(func(el *page.Element) bool {
		return el.Tag() == "link" && el.Attr("rel") == "stylesheet" && el.Attr("href") == href
	})
	if existing != nil {
		return nil
	}

	link := page.NewElement("link")
	link.SetAttr("rel", "stylesheet")
	link.SetAttr("href", href)
	head.Append(link)

	if err := d.fetch(ctx, href); err != nil {
		return fmt.Errorf("decorate: load css: %w", err)
	}
	return nil
}

// WaitForFirstImage marks the first image of section eager and waits for it
// to resolve. A section without images returns at once; an image that fails
// to load still counts as settled.
func (d *Decorator) WaitForFirstImage(ctx context.Context, section *page.Element) error {
	img := section.Find(page.ByTag("img"))
	if img == nil {
		return nil
	}
	img.SetAttr("loading", "eager")
	if err := d.fetch(ctx, img.Attr("src")); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		zerolog.Ctx(ctx).Debug().Err(err).Str("src", img.Attr("src")).Msg("first image failed")
	}
	return nil
}

// LoadSection loads the blocks of section, optionally waits for its first
// image, then reveals it.
func (d *Decorator) LoadSection(ctx context.Context, section *page.Element, waitForImage bool) error {
	if section == nil {
		return nil
	}
	status := section.Attr(attrSectionStatus)
	if status == StatusLoading || status == StatusLoaded {
		return nil
	}
	section.SetAttr(attrSectionStatus, StatusLoading)

	for _, block := range section.FindAll(page.ByClass("block")) {
		if err := ctx.Err(); err != nil {
			return err
		}
		d.LoadBlock(ctx, block)
	}

	if waitForImage {
		if err := d.WaitForFirstImage(ctx, section); err != nil {
			return err
		}
	}

	section.SetAttr(attrSectionStatus, StatusLoaded)
	section.RemoveAttr("style")
	return nil
}

// LoadSections loads every section of main in document order.
func (d *Decorator) LoadSections(ctx context.Context, main *page.Element) error {
	if main == nil {
		return nil
	}
	for _, section := range main.FindAll(page.ByClass("section")) {
		if err := d.LoadSection(ctx, section, false); err != nil {
			return err
		}
	}
	return nil
}

// LoadBlock loads the stylesheet and runs the code registered for a
// decorated block. Failures are logged and leave the block loaded.
func (d *Decorator) LoadBlock(ctx context.Context, block *page.Element) {
	status := block.Attr(attrBlockStatus)
	if status == StatusLoading || status == StatusLoaded {
		return
	}
	name := block.Attr(attrBlockName)
	block.SetAttr(attrBlockStatus, StatusLoading)
	logger := zerolog.Ctx(ctx).With().Str("block", name).Logger()

	href := fmt.Sprintf("%s/blocks/%s/%s.css", d.codeBasePath, name, name)
	if err := d.LoadCSS(ctx, href); err != nil {
		logger.Warn().Err(err).Msg("block styles failed")
	}

	if fn, ok := d.block(name); ok {
		if err := runBlock(ctx, fn, block); err != nil {
			logger.Error().Err(err).Msg("failed to load block")
		}
	}
	block.SetAttr(attrBlockStatus, StatusLoaded)
}

func runBlock(ctx context.Context, fn BlockFunc, block *page.Element) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decorate: block panicked: %v", r)
		}
	}()
	return fn(ctx, block)
}

// LoadHeader builds, decorates and loads the header block inside el.
func (d *Decorator) LoadHeader(ctx context.Context, el *page.Element) error {
	return d.loadFragment(ctx, "header", el)
}

// LoadFooter builds, decorates and loads the footer block inside el.
func (d *Decorator) LoadFooter(ctx context.Context, el *page.Element) error {
	return d.loadFragment(ctx, "footer", el)
}

func (d *Decorator) loadFragment(ctx context.Context, name string, el *page.Element) error {
	if el == nil {
		return fmt.Errorf("decorate: load %s: element missing", name)
	}
	block := d.BuildBlock(name)
	el.Append(block)
	d.decorateBlock(block)
	d.LoadBlock(ctx, block)
	return nil
}
