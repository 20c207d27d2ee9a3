package zones

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/banshee-data/uwb.follow/internal/fsutil"
	"github.com/banshee-data/uwb.follow/internal/monitoring"
)

// LoadFile reads a positions.json style array of zones. A missing or
// malformed file is logged and yields no zones; individual records that fail
// validation are skipped.
func LoadFile(fsys fsutil.FileSystem, path string) []Zone {
	data, err := fsys.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			monitoring.Logf("zone file %s not found, starting with no zones", path)
		} else {
			monitoring.Logf("failed to read zone file %s: %v", path, err)
		}
		return nil
	}

	var records []Zone
	if err := json.Unmarshal(data, &records); err != nil {
		monitoring.Logf("zone file %s is malformed, starting with no zones: %v", path, err)
		return nil
	}

	out := records[:0]
	for i, z := range records {
		if err := z.Validate(); err != nil {
			monitoring.Logf("skipping zone %d in %s: %v", i, path, err)
			continue
		}
		out = append(out, z)
	}
	monitoring.Logf("loaded %d zones from %s", len(out), path)
	return out
}

// Marshal renders zones in the positions.json layout.
func Marshal(zs []Zone) ([]byte, error) {
	if zs == nil {
		zs = []Zone{}
	}
	return json.MarshalIndent(zs, "", "    ")
}

// WriteFile replaces path with zs in the positions.json layout.
func WriteFile(fsys fsutil.FileSystem, path string, zs []Zone) error {
	data, err := Marshal(zs)
	if err != nil {
		return fmt.Errorf("encode zones: %w", err)
	}
	if err := fsys.WriteFile(path, data, os.FileMode(0o644)); err != nil {
		return fmt.Errorf("write zone file %s: %w", path, err)
	}
	return nil
}

// NewFileRepository returns a MemoryRepository seeded from path that
// rewrites the file after every change.
func NewFileRepository(fsys fsutil.FileSystem, path string, tol Tolerance) *MemoryRepository {
	r := NewMemoryRepository(tol)
	for _, z := range LoadFile(fsys, path) {
		// records from LoadFile are already valid
		_, _ = r.Add(z)
	}
	r.save = func(zs []Zone) error {
		return WriteFile(fsys, path, zs)
	}
	return r
}
