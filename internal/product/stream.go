// Package product loads the satellite products of the pipeline into
// (time, latitude, longitude) cubes.
package product

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/catalog"
	"go.ngs.io/ph-pollution/internal/adapter/granule"
	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/metrics"
)

// StreamOptions controls how each granule of a product is read.
type StreamOptions struct {
	// Variables to read; empty reads every data variable.
	Variables []string
	// Region pushes a hyperslab read down to the file, padded by Margin cells.
	Region *domain.Region
	Margin int
	// TimeDim is the time dimension to concatenate along. Defaults to "time".
	TimeDim string
	// Prepare runs on each granule right after it is opened.
	Prepare func(*domain.Dataset) (*domain.Dataset, error)
}

// Streamer searches, downloads and stacks the granules of one product.
type Streamer struct {
	Catalog    catalog.Catalog
	Downloader *catalog.Downloader
	Log        *slog.Logger
}

// Stream returns every granule of shortName in tr concatenated along time
// and sorted ascending. Granules without a time axis get a singleton one from
// their metadata.
func (s *Streamer) Stream(ctx context.Context, shortName string, tr domain.TimeRange, opts StreamOptions) (*domain.Dataset, error) {
	start := time.Now()
	defer metrics.ObserveStage("stream_"+shortName, start)

	timeDim := opts.TimeDim
	if timeDim == "" {
		timeDim = domain.TimeDim
	}

	granules, err := s.Catalog.Search(ctx, shortName, tr)
	if err != nil {
		return nil, fmt.Errorf("failed to search %s: %w", shortName, err)
	}
	if len(granules) == 0 {
		return nil, fmt.Errorf("searching %s between %s and %s: %w",
			shortName, tr.StartDate(), tr.EndDate(), domain.ErrNoGranules)
	}
	s.logger().Info("granules found", "product", shortName, "count", len(granules))

	paths, err := s.Downloader.Fetch(ctx, granules)
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	parts := make([]*domain.Dataset, 0, len(paths))
	for _, p := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds, err := openGranule(p, timeDim, opts)
		if err != nil {
			return nil, err
		}
		parts = append(parts, ds)
	}

	stacked, err := domain.Concat(timeDim, parts)
	if err != nil {
		return nil, fmt.Errorf("failed to concatenate %s granules: %w", shortName, err)
	}
	return stacked.SortBy(timeDim)
}

func openGranule(path, timeDim string, opts StreamOptions) (*domain.Dataset, error) {
	ds, err := granule.Open(path, granule.Options{
		Variables: opts.Variables,
		Region:    opts.Region,
		Margin:    opts.Margin,
	})
	if err != nil {
		return nil, err
	}
	if opts.Prepare != nil {
		if ds, err = opts.Prepare(ds); err != nil {
			return nil, fmt.Errorf("failed to prepare %s: %w", path, err)
		}
	}
	return withTime(ds, timeDim)
}

// withTime guarantees a time coordinate named dim.
func withTime(ds *domain.Dataset, dim string) (*domain.Dataset, error) {
	if c, ok := ds.Coords[dim]; ok {
		if !c.IsTime() {
			return nil, fmt.Errorf("%s: axis %s is not a decodable time axis: %w", ds.Source, dim, domain.ErrTimeUnresolved)
		}
		return ds, nil
	}
	t, err := domain.ResolveTime(ds)
	if err != nil {
		return nil, err
	}
	return ds.ExpandDims(domain.NewTimeCoord(dim, []time.Time{t}))
}

func (s *Streamer) logger() *slog.Logger {
	if s.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.Log
}
