package tvmc

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/ekisa-team/modelforge/internal/bundle"
)

// Member names inside a tvmc package archive.
const (
	MemberLibrary = "mod.so"
	MemberGraph   = "mod.json"
	MemberParams  = "mod.params"
)

// ErrMalformedArchive is returned when a package archive lacks one of its members.
var ErrMalformedArchive = errors.New("malformed tvmc package archive")

// ReadArchive extracts the library, graph and params from a tvmc package archive.
func ReadArchive(r io.Reader) (*bundle.Contents, error) {
	c := &bundle.Contents{}

	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		var dst *[]byte
		switch path.Base(hdr.Name) {
		case MemberLibrary:
			dst = &c.Library
		case MemberGraph:
			dst = &c.Graph
		case MemberParams:
			dst = &c.Params
		default:
			continue
		}

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrMalformedArchive, hdr.Name, err)
		}
		*dst = buf.Bytes()
	}

	for _, m := range []struct {
		name string
		data []byte
	}{
		{MemberLibrary, c.Library},
		{MemberGraph, c.Graph},
		{MemberParams, c.Params},
	} {
		if len(m.data) == 0 {
			return nil, fmt.Errorf("%w: missing %s", ErrMalformedArchive, m.name)
		}
	}

	return c, nil
}

// WriteArchive packs c in the layout tvmc run expects.
func WriteArchive(w io.Writer, c *bundle.Contents) error {
	tw := tar.NewWriter(w)

	for _, m := range []struct {
		name string
		data []byte
	}{
		{MemberLibrary, c.Library},
		{MemberGraph, c.Graph},
		{MemberParams, c.Params},
	} {
		if err := tw.WriteHeader(&tar.Header{
			Name:     m.name,
			Mode:     0o644,
			Size:     int64(len(m.data)),
			Typeflag: tar.TypeReg,
		}); err != nil {
			return err
		}
		if _, err := tw.Write(m.data); err != nil {
			return err
		}
	}

	return tw.Close()
}
