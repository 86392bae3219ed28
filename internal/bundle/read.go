package bundle

import (
	"context"
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sync/errgroup"
)

// Verify checks that every file named by the manifest exists and matches its digest.
// Files are hashed concurrently. Any mismatch reports ErrIncomplete.
func Verify(ctx context.Context, p Paths) (*Manifest, error) {
	m, err := readManifest(p.Manifest)
	if err != nil {
		return nil, err
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, role := range Roles {
		want := m.Files[role]
		path := p.Path(role)
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			f, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrIncomplete, role, err)
			}
			defer f.Close()

			got, err := digest.Canonical.FromReader(f)
			if err != nil {
				return fmt.Errorf("hash %s: %w", path, err)
			}
			if got != want.Digest {
				return fmt.Errorf("%w: %s digest %s does not match manifest %s", ErrIncomplete, path, got, want.Digest)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return m, nil
}

// Read loads the three files into memory and checks them against the manifest.
func Read(ctx context.Context, p Paths) (*Contents, *Manifest, error) {
	m, err := readManifest(p.Manifest)
	if err != nil {
		return nil, nil, err
	}

	c := &Contents{}
	for _, role := range Roles {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		path := p.Path(role)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrIncomplete, role, err)
		}
		if got := digest.FromBytes(data); got != m.Files[role].Digest {
			return nil, nil, fmt.Errorf("%w: %s digest %s does not match manifest %s", ErrIncomplete, path, got, m.Files[role].Digest)
		}
		c.set(role, data)
	}

	return c, m, nil
}
