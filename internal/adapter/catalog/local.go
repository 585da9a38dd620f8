package catalog

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.ngs.io/ph-pollution/internal/domain"
)

var localExtensions = map[string]bool{".nc": true, ".nc4": true, ".hdf": true, ".he5": true, ".h5": true}

// Local serves granules from <Root>/<short_name>/, for offline runs.
type Local struct {
	Root string
}

// Search lists the data files of shortName. Time filtering happens after
// load, since file names carry no reliable timestamp.
func (l *Local) Search(_ context.Context, shortName string, _ domain.TimeRange) ([]Granule, error) {
	dir := filepath.Join(l.Root, shortName)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list local catalog %s: %w", dir, err)
	}
	var out []Granule
	for _, e := range entries {
		if e.IsDir() || !localExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		path := filepath.Join(dir, e.Name())
		out = append(out, Granule{ID: e.Name(), Product: shortName, URLs: []string{path}})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
