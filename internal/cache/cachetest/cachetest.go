// Package cachetest serves catalog artifacts from an in-process HTTP server for tests.
package cachetest

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ekisa-team/modelforge/internal/catalog"
	"github.com/ekisa-team/modelforge/internal/onnx/onnxtest"
	"github.com/ekisa-team/modelforge/internal/source"
)

// Server serves a valid ONNX fixture for every catalog kind and counts requests.
type Server struct {
	*httptest.Server

	hits atomic.Int64

	mu     sync.Mutex
	bodies map[string][]byte
	status int
	gate   chan struct{}
}

// NewServer starts a Server that is closed when t finishes.
func NewServer(t testing.TB) *Server {
	t.Helper()

	s := &Server{
		bodies: make(map[string][]byte),
		status: http.StatusOK,
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)

	return s
}

func (s *Server) serve(w http.ResponseWriter, r *http.Request) {
	s.hits.Add(1)

	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	s.mu.Lock()
	status := s.status
	body, ok := s.bodies[strings.TrimPrefix(r.URL.Path, "/")]
	s.mu.Unlock()

	if status != http.StatusOK {
		w.WriteHeader(status)
		return
	}
	if !ok {
		base := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/"), catalog.Extension)
		body = onnxtest.Marshal(onnxtest.Fixture(base))
	}

	_, _ = w.Write(body)
}

// Hits returns the number of requests served so far.
func (s *Server) Hits() int64 {
	return s.hits.Load()
}

// SetBody overrides the payload served for file (e.g. "resnet50.onnx").
func (s *Server) SetBody(file string, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.bodies[file] = body
}

// Hold makes every subsequent request wait until the returned release func is called.
func (s *Server) Hold() (release func()) {
	gate := make(chan struct{})

	s.mu.Lock()
	s.gate = gate
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { close(gate) })
	}
}

// SetStatus makes every subsequent request answer with status and no body.
func (s *Server) SetStatus(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = status
}

// Catalog mirrors catalog.Default with every URL pointing at the server.
func (s *Server) Catalog() catalog.Catalog {
	c := make(catalog.Catalog, len(catalog.Default))
	for kind, entry := range catalog.Default {
		entry.URL = s.URL + "/" + entry.FileName()
		c[kind] = entry
	}

	return c
}

// Sources returns a fetcher registry that does not retry, so failures surface immediately.
func Sources() *source.Registry {
	return source.NewDefaultRegistry(source.WithMaxRetries(0))
}
