// Package bundle lays out, writes and verifies compiled bundles: an executable library,
// a graph topology and a parameter blob sharing one base name, committed by a manifest.
//
// The manifest is removed before any file is replaced and written last, so a bundle whose
// export was interrupted never verifies and is treated as absent.
package bundle

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Error definitions for the bundle package.
var (
	ErrIncomplete = errors.New("compiled bundle is absent or incomplete")
)

// Role names a file of the bundle.
type Role string

// Bundle file roles.
const (
	RoleLibrary Role = "library"
	RoleGraph   Role = "graph"
	RoleParams  Role = "params"
)

// Roles lists the roles in export order.
var Roles = []Role{RoleLibrary, RoleGraph, RoleParams}

// LibraryExtension returns the native shared library extension for the host OS.
func LibraryExtension() string {
	switch runtime.GOOS {
	case "darwin":
		return ".dylib"
	case "windows":
		return ".dll"
	default:
		return ".so"
	}
}

// Paths are the on-disk locations of a bundle.
type Paths struct {
	Dir      string
	Name     string
	Library  string
	Graph    string
	Params   string
	Manifest string
}

// PathsFor returns the bundle layout for base name under dir.
func PathsFor(dir, name string) Paths {
	return Paths{
		Dir:      dir,
		Name:     name,
		Library:  filepath.Join(dir, name+LibraryExtension()),
		Graph:    filepath.Join(dir, name+".json"),
		Params:   filepath.Join(dir, name+".params"),
		Manifest: filepath.Join(dir, name+".bundle.json"),
	}
}

// Path returns the file path for role.
func (p Paths) Path(role Role) string {
	switch role {
	case RoleLibrary:
		return p.Library
	case RoleGraph:
		return p.Graph
	case RoleParams:
		return p.Params
	}
	return ""
}

// String renders the layout one file per line, for debug logs.
func (p Paths) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Library : %s\n", p.Library)
	fmt.Fprintf(&sb, "Graph : %s\n", p.Graph)
	fmt.Fprintf(&sb, "Params : %s\n", p.Params)
	fmt.Fprintf(&sb, "Manifest : %s\n", p.Manifest)
	return sb.String()
}

// Contents are the in-memory bundle files.
type Contents struct {
	Library []byte
	Graph   []byte
	Params  []byte
}

// Bytes returns the payload for role.
func (c *Contents) Bytes(role Role) []byte {
	switch role {
	case RoleLibrary:
		return c.Library
	case RoleGraph:
		return c.Graph
	case RoleParams:
		return c.Params
	}
	return nil
}

func (c *Contents) set(role Role, b []byte) {
	switch role {
	case RoleLibrary:
		c.Library = b
	case RoleGraph:
		c.Graph = b
	case RoleParams:
		c.Params = b
	}
}

// FileInfo records one committed file.
type FileInfo struct {
	Name   string        `json:"name"`
	Digest digest.Digest `json:"digest"`
	Size   int64         `json:"size"`
}

// Manifest commits a bundle.
type Manifest struct {
	Name        string            `json:"name"`
	Provider    string            `json:"provider"`
	Target      string            `json:"target"`
	Fingerprint string            `json:"fingerprint"`
	CreatedAt   time.Time         `json:"created_at"`
	Files       map[Role]FileInfo `json:"files"`
}

// Metadata is the caller supplied part of a manifest.
type Metadata struct {
	Provider    string
	Target      string
	Fingerprint string
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: no manifest at %s", ErrIncomplete, path)
		}
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: manifest %s: %v", ErrIncomplete, path, err)
	}
	for _, role := range Roles {
		if _, ok := m.Files[role]; !ok {
			return nil, fmt.Errorf("%w: manifest %s has no %s entry", ErrIncomplete, path, role)
		}
	}

	return &m, nil
}
