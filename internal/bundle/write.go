package bundle

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	units "github.com/docker/go-units"
	"github.com/google/renameio"
	"github.com/opencontainers/go-digest"

	"github.com/ekisa-team/modelforge/internal/xfs"
)

// Invalidate removes the manifest so the files on disk stop verifying.
func Invalidate(p Paths) error {
	if err := os.Remove(p.Manifest); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("invalidate bundle %s: %w", p.Name, err)
	}
	return nil
}

// Write exports c under p. Each file is written to a temporary file and renamed into
// place, then the manifest is written the same way. Files are never partially visible.
func Write(p Paths, c *Contents, meta Metadata) (*Manifest, error) {
	if err := xfs.EnsureDir(p.Dir); err != nil {
		return nil, err
	}

	if err := Invalidate(p); err != nil {
		return nil, err
	}

	m := &Manifest{
		Name:        p.Name,
		Provider:    meta.Provider,
		Target:      meta.Target,
		Fingerprint: meta.Fingerprint,
		CreatedAt:   time.Now().UTC(),
		Files:       make(map[Role]FileInfo, len(Roles)),
	}

	for _, role := range Roles {
		data := c.Bytes(role)
		if len(data) == 0 {
			return nil, fmt.Errorf("export %s: %s is empty", p.Name, role)
		}

		path := p.Path(role)
		if err := renameio.WriteFile(path, data, 0o644); err != nil {
			return nil, fmt.Errorf("export %s: %w", path, err)
		}

		m.Files[role] = FileInfo{
			Name:   filepath.Base(path),
			Digest: digest.FromBytes(data),
			Size:   int64(len(data)),
		}
		slog.Debug("Bundle file exported", "role", role, "path", path, "size", units.HumanSize(float64(len(data))))
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := renameio.WriteFile(p.Manifest, data, 0o644); err != nil {
		return nil, fmt.Errorf("commit manifest: %w", err)
	}

	return m, nil
}
