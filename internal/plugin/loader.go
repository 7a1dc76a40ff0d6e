package plugin

import (
	"context"
	"fmt"
	"sync"
)

// Loader resolves a resource reference to a plugin module.
type Loader interface {
	Load(ctx context.Context, ref string) (Module, error)
}

// LoaderFunc adapts a function to Loader.
type LoaderFunc func(ctx context.Context, ref string) (Module, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, ref string) (Module, error) {
	return f(ctx, ref)
}

// Compile-time interface checks.
var (
	_ Loader = LoaderFunc(nil)
	_ Loader = (*Catalog)(nil)
	_ Module = Hooks(nil)
)

// Catalog is a Loader over modules compiled into the binary, keyed by the
// reference a plugin declares.
type Catalog struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewCatalog returns an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{modules: make(map[string]Module)}
}

// Register binds ref to m, replacing any previous binding.
func (c *Catalog) Register(ref string, m Module) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.modules[ref] = m
}

// Load implements Loader.
func (c *Catalog) Load(ctx context.Context, ref string) (Module, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	m, ok := c.modules[ref]
	if !ok {
		return nil, fmt.Errorf("plugin: module %q not found", ref)
	}
	return m, nil
}
