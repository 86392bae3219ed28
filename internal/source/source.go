// Package source provides the fetch primitives used to acquire remote model artifacts.
package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// Error definitions for the source package.
var (
	ErrUnsupportedScheme = errors.New("no fetcher for URL scheme")
	ErrUnexpectedStatus  = errors.New("unexpected response status")
)

// Fetcher copies the resource at rawURL into dst and returns the number of bytes written.
// Implementations block until the copy completes, fails, or ctx is done.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error)
}

// Registry selects a Fetcher by URL scheme.
type Registry struct {
	fetchers map[string]Fetcher
	mu       sync.RWMutex
}

// NewRegistry creates an empty fetcher registry.
func NewRegistry() *Registry {
	return &Registry{
		fetchers: make(map[string]Fetcher),
	}
}

// NewDefaultRegistry registers the HTTP fetcher for http/https and the file fetcher for file URLs.
func NewDefaultRegistry(opts ...HTTPOption) *Registry {
	r := NewRegistry()
	h := NewHTTPFetcher(opts...)
	r.Register("http", h)
	r.Register("https", h)
	r.Register("file", FileFetcher{})
	return r
}

// Register binds f to scheme, replacing any previous binding.
func (r *Registry) Register(scheme string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fetchers[strings.ToLower(scheme)] = f
}

// Get returns the fetcher registered for scheme.
func (r *Registry) Get(scheme string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.fetchers[strings.ToLower(scheme)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, scheme)
	}

	return f, nil
}

// For returns the fetcher able to serve rawURL.
func (r *Registry) For(rawURL string) (Fetcher, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid source URL %q: %w", rawURL, err)
	}

	return r.Get(u.Scheme)
}
