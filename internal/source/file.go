package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
)

// FileFetcher copies artifacts from file:// URLs, typically a local mirror.
type FileFetcher struct{}

// Fetch copies the file referenced by rawURL into dst.
func (FileFetcher) Fetch(ctx context.Context, rawURL string, dst io.Writer) (int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return 0, fmt.Errorf("invalid file URL %q: %w", rawURL, err)
	}

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	f, err := os.Open(u.Path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", u.Path, err)
	}
	defer f.Close()

	n, err := io.Copy(dst, f)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", u.Path, err)
	}

	return n, nil
}
