// Package catalog searches granule catalogs and downloads the matching files.
package catalog

import (
	"context"
	"time"

	"go.ngs.io/ph-pollution/internal/domain"
)

// Granule is one searchable data file of a collection.
type Granule struct {
	ID      string
	Product string    // Collection short name.
	URLs    []string  // Data links, most preferred first. Local catalogs use file paths.
	Start   time.Time // Zero when the catalog does not report it.
}

// Catalog finds granules of a collection within a time range.
type Catalog interface {
	Search(ctx context.Context, shortName string, tr domain.TimeRange) ([]Granule, error)
}
