// Package cache keeps pretrained model artifacts on local disk, fetching them on first use.
package cache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/docker/go-units"
	"github.com/google/renameio"
	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/singleflight"

	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/metrics"
	"github.com/ekisa-team/modelforge/internal/onnx"
	"github.com/ekisa-team/modelforge/internal/source"
	"github.com/ekisa-team/modelforge/internal/xfs"
)

// Cache resolves catalog kinds to files under a cache root.
// It is safe for concurrent use; concurrent acquisitions of the same file share one fetch.
type Cache struct {
	catalog catalog.Catalog
	sources *source.Registry
	metrics *metrics.Collector

	flights singleflight.Group
	locks   sync.Map // absolute path -> *sync.Mutex
}

// Option configures a Cache.
type Option func(*Cache)

// WithCatalog replaces the default catalog table.
func WithCatalog(c catalog.Catalog) Option {
	return func(cc *Cache) {
		cc.catalog = c
	}
}

// WithSources replaces the default fetcher registry.
func WithSources(r *source.Registry) Option {
	return func(c *Cache) {
		c.sources = r
	}
}

// WithMetrics records fetches and lookups on m.
func WithMetrics(m *metrics.Collector) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// New creates a Cache backed by catalog.Default and the default fetchers.
func New(opts ...Option) *Cache {
	c := &Cache{
		catalog: catalog.Default,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.sources == nil {
		c.sources = source.NewDefaultRegistry()
	}

	return c
}

// Catalog returns the table the cache resolves kinds against.
func (c *Cache) Catalog() catalog.Catalog {
	return c.catalog
}

// ModelPath returns where kind lives under root. It performs no I/O.
func (c *Cache) ModelPath(kind catalog.Kind, root string) (string, error) {
	entry, err := c.catalog.Resolve(kind)
	if err != nil {
		return "", err
	}

	return filepath.Join(xfs.ExpandTilde(root), entry.FileName()), nil
}

// Exists reports whether the artifact for kind is present under root.
func (c *Cache) Exists(kind catalog.Kind, root string) (bool, error) {
	path, err := c.ModelPath(kind, root)
	if err != nil {
		return false, err
	}

	return xfs.IsRegularFile(path)
}

// EnsureLocal returns the path of the artifact for kind, fetching it when it is missing or
// when overwrite is set. The final path only ever holds a completely fetched file.
func (c *Cache) EnsureLocal(ctx context.Context, kind catalog.Kind, root string, overwrite bool) (string, error) {
	entry, err := c.catalog.Resolve(kind)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	path, err := filepath.Abs(filepath.Join(xfs.ExpandTilde(root), entry.FileName()))
	if err != nil {
		return "", fmt.Errorf("failed to resolve cache path for %s: %w", kind, err)
	}

	if !overwrite {
		if ok, err := xfs.IsRegularFile(path); err != nil {
			return "", err
		} else if ok {
			c.metrics.RecordCacheLookup(string(kind), true)
			slog.Debug("Model found in cache", "kind", kind, "path", path)
			return path, nil
		}
	}

	key := path
	if overwrite {
		key += "#overwrite"
	}

	ch := c.flights.DoChan(key, func() (any, error) {
		// Serialize refresh and plain acquisition of the same file.
		mu, _ := c.locks.LoadOrStore(path, &sync.Mutex{})
		mu.(*sync.Mutex).Lock()
		defer mu.(*sync.Mutex).Unlock()

		if !overwrite {
			if ok, err := xfs.IsRegularFile(path); err != nil {
				return nil, err
			} else if ok {
				c.metrics.RecordCacheLookup(string(kind), true)
				return path, nil
			}
			c.metrics.RecordCacheLookup(string(kind), false)
		}

		// Callers sharing this flight must not be cancelled by the one that started it.
		// The fetcher's per-attempt timeout bounds the download instead.
		return path, c.fetch(context.WithoutCancel(ctx), entry, path)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return path, nil
	}
}

func (c *Cache) fetch(ctx context.Context, entry catalog.Entry, path string) (err error) {
	start := time.Now()
	var n int64
	defer func() {
		c.metrics.RecordFetch(string(entry.Kind), n, err)
		if err != nil {
			err = &AcquisitionError{Kind: entry.Kind, URL: entry.URL, Cause: err}
		}
	}()

	fetcher, err := c.sources.For(entry.URL)
	if err != nil {
		return err
	}

	if err := xfs.EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}

	slog.Info("Downloading model", "kind", entry.Kind, "url", entry.URL, "path", path)

	pf, err := renameio.TempFile(filepath.Dir(path), path)
	if err != nil {
		return fmt.Errorf("failed to create temporary file for %s: %w", path, err)
	}
	defer pf.Cleanup() //nolint:errcheck

	digester := digest.Canonical.Digester()
	n, err = fetcher.Fetch(ctx, entry.URL, io.MultiWriter(pf, digester.Hash()))
	if err != nil {
		return err
	}

	if err := pf.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", path, err)
	}

	slog.Info("Model downloaded successfully",
		"kind", entry.Kind,
		"path", path,
		"size", units.HumanSize(float64(n)),
		"digest", digester.Digest(),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	return nil
}

// Load ensures the artifact for kind is local and deserializes it. A file that fails to
// deserialize is fetched again once; if that copy fails as well, ErrCorruptArtifact is returned.
func (c *Cache) Load(ctx context.Context, kind catalog.Kind, root string) (*onnx.Model, error) {
	path, err := c.EnsureLocal(ctx, kind, root, false)
	if err != nil {
		return nil, err
	}

	model, err := onnx.Load(path)
	if err == nil {
		return model, nil
	}

	slog.Warn("Cached model failed to load, fetching again", "kind", kind, "path", path, "error", err)
	c.metrics.RecordCorrupt(string(kind))

	if _, err := c.EnsureLocal(ctx, kind, root, true); err != nil {
		return nil, err
	}

	model, err = onnx.Load(path)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("%w: %s", ErrCorruptArtifact, path), err)
	}

	return model, nil
}
