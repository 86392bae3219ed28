// Package loader binds a catalog kind and a cache root into a Loader.
package loader

import (
	"context"

	"github.com/ekisa-team/modelforge/internal/cache"
	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/onnx"
)

// Factory hands out loaders backed by a shared cache.
type Factory struct {
	cache *cache.Cache
}

// NewFactory creates a Factory. A nil cache uses cache.New().
func NewFactory(c *cache.Cache) *Factory {
	if c == nil {
		c = cache.New()
	}

	return &Factory{cache: c}
}

// Cache returns the cache shared by every loader of the factory.
func (f *Factory) Cache() *cache.Cache {
	return f.cache
}

// GetLoader returns the loader for kind rooted at root.
func (f *Factory) GetLoader(kind catalog.Kind, root string) (*Loader, error) {
	entry, err := f.cache.Catalog().Resolve(kind)
	if err != nil {
		return nil, err
	}

	return &Loader{entry: entry, root: root, cache: f.cache}, nil
}

// Loader acquires and deserializes one model kind.
type Loader struct {
	entry catalog.Entry
	root  string
	cache *cache.Cache
}

// Kind returns the model kind.
func (l *Loader) Kind() catalog.Kind {
	return l.entry.Kind
}

// Entry returns the catalog row the loader is bound to.
func (l *Loader) Entry() catalog.Entry {
	return l.entry
}

// Root returns the cache root.
func (l *Loader) Root() string {
	return l.root
}

// ModelPath returns the cached artifact path.
func (l *Loader) ModelPath() (string, error) {
	return l.cache.ModelPath(l.entry.Kind, l.root)
}

// Exists reports whether the artifact is cached.
func (l *Loader) Exists() (bool, error) {
	return l.cache.Exists(l.entry.Kind, l.root)
}

// EnsureAvailable fetches the artifact if needed and returns its path.
func (l *Loader) EnsureAvailable(ctx context.Context, overwrite bool) (string, error) {
	return l.cache.EnsureLocal(ctx, l.entry.Kind, l.root, overwrite)
}

// Load makes the artifact available and returns the parsed model.
func (l *Loader) Load(ctx context.Context) (*onnx.Model, error) {
	return l.cache.Load(ctx, l.entry.Kind, l.root)
}
