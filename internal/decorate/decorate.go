// Package decorate implements the DOM decoration and resource loading
// operations the bootstrap delegates to: button, icon, section and block
// decoration, block construction, and section, stylesheet and header/footer
// loading.
package decorate

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"github.com/dusk-indust/pageboot/internal/page"
)

// ErrNotFound is returned by fetchers for missing resources.
var ErrNotFound = errors.New("decorate: resource not found")

// Fetcher resolves a resource reference (stylesheet, image). A nil Fetcher
// treats every resource as immediately available.
type Fetcher interface {
	Fetch(ctx context.Context, ref string) error
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, ref string) error

func (f FetcherFunc) Fetch(ctx context.Context, ref string) error { return f(ctx, ref) }

// DirFetcher resolves site-relative references against a directory on
// disk. Absolute URLs with a scheme are not checked.
type DirFetcher struct {
	Root string
}

func (d DirFetcher) Fetch(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	u, err := url.Parse(ref)
	if err != nil {
		return fmt.Errorf("decorate: parse %q: %w", ref, err)
	}
	if u.Scheme != "" {
		return nil
	}
	p := filepath.Join(d.Root, filepath.FromSlash(strings.TrimPrefix(u.Path, "/")))
	if _, err := os.Stat(p); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return fmt.Errorf("decorate: stat %s: %w", ref, err)
	}
	return nil
}

// BlockFunc decorates a loaded block, the way block code does in the
// browser.
type BlockFunc func(ctx context.Context, block *page.Element) error

// Decorator operates on one Document.
type Decorator struct {
	doc          *page.Document
	codeBasePath string
	fetcher      Fetcher

	mu     sync.Mutex
	blocks map[string]BlockFunc
}

// Option configures a Decorator.
type Option func(*Decorator)

// WithCodeBasePath sets the prefix for icons, block styles and site styles.
func WithCodeBasePath(p string) Option {
	return func(d *Decorator) { d.codeBasePath = strings.TrimRight(p, "/") }
}

// WithFetcher sets the resource fetcher.
func WithFetcher(f Fetcher) Option {
	return func(d *Decorator) { d.fetcher = f }
}

// WithBlock registers block code for name.
func WithBlock(name string, fn BlockFunc) Option {
	return func(d *Decorator) { d.blocks[name] = fn }
}

// New creates a Decorator for doc.
func New(doc *page.Document, opts ...Option) *Decorator {
	d := &Decorator{
		doc:    doc,
		blocks: make(map[string]BlockFunc),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CodeBasePath returns the configured prefix.
func (d *Decorator) CodeBasePath() string { return d.codeBasePath }

// RegisterBlock adds or replaces block code for name.
func (d *Decorator) RegisterBlock(name string, fn BlockFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks[name] = fn
}

func (d *Decorator) block(name string) (BlockFunc, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn, ok := d.blocks[name]
	return fn, ok
}

func (d *Decorator) fetch(ctx context.Context, ref string) error {
	if d.fetcher == nil {
		return ctx.Err()
	}
	return d.fetcher.Fetch(ctx, ref)
}

var (
	nonAlnum   = regexp.MustCompile(`[^0-9a-z]`)
	dashRun    = regexp.MustCompile(`-+`)
	edgeDashes = regexp.MustCompile(`^-|-$`)
)

// ClassName sanitizes a string for use as a CSS class name.
func ClassName(s string) string {
	s = nonAlnum.ReplaceAllString(strings.ToLower(s), "-")
	s = dashRun.ReplaceAllString(s, "-")
	return edgeDashes.ReplaceAllString(s, "")
}
