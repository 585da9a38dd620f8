package product

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.ngs.io/ph-pollution/internal/domain"
	"go.ngs.io/ph-pollution/internal/metrics"
)

var cubeDims = []string{domain.TimeDim, domain.LatDim, domain.LonDim}

// Loader turns a product spec into a cleaned (time, latitude, longitude) cube.
type Loader struct {
	Streamer *Streamer
	Region   domain.Region
	Range    domain.TimeRange
	// RequireFillValue fails variables that declare no fill value instead of
	// leaving them unmasked.
	RequireFillValue bool
	// Margin pads the hyperslab read around the region, in cells.
	Margin int
	Log    *slog.Logger
}

// Load streams the product and returns a dataset holding the single cube
// variable named s.Name on the common axes.
func (l *Loader) Load(ctx context.Context, s Spec) (*domain.Dataset, error) {
	start := time.Now()
	defer metrics.ObserveStage("load_"+s.Name, start)

	timeName := s.TimeName
	if timeName == "" {
		timeName = domain.TimeDim
	}
	opts := StreamOptions{
		Variables: s.variables(),
		TimeDim:   timeName,
		Prepare:   func(ds *domain.Dataset) (*domain.Dataset, error) { return l.prepare(ds, s) },
	}
	if s.Grid == nil {
		opts.Region = &l.Region
		opts.Margin = l.Margin
	}

	ds, err := l.Streamer.Stream(ctx, s.ShortName, l.Range, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", s.Name, err)
	}

	lat, lon := s.LatName, s.LonName
	if lat == "" || lon == "" {
		if lat, lon, err = domain.DetectSpatialCoords(ds); err != nil {
			return nil, err
		}
	}
	ds = ds.Rename(map[string]string{lat: domain.LatDim, lon: domain.LonDim, timeName: domain.TimeDim})
	if ds, err = domain.TemporalSubset(ds, l.Range); err != nil {
		return nil, err
	}

	v, err := l.clean(ds, s)
	if err != nil {
		return nil, err
	}
	out := domain.NewDataset()
	out.Source = s.ShortName
	for _, d := range cubeDims {
		out.AddCoord(ds.Coords[d])
	}
	v.Name = s.Name
	if err := out.AddVar(v); err != nil {
		return nil, err
	}
	if out, err = out.Transpose(cubeDims...); err != nil {
		return nil, err
	}
	if _, err := out.Var(s.Name); err != nil {
		return nil, err
	}
	cube := out.Vars[s.Name]
	if !sameOrder(cube.Dims, cubeDims) {
		return nil, fmt.Errorf("%w: %s has dims %v, expected %v", domain.ErrShape, s.Name, cube.Dims, cubeDims)
	}

	l.logger().Info("product loaded", "product", s.Name,
		"time", out.Coords[domain.TimeDim].Len(),
		"latitude", out.Coords[domain.LatDim].Len(),
		"longitude", out.Coords[domain.LonDim].Len())
	metrics.GridCells.WithLabelValues(s.Name).Set(float64(cube.Len()))
	return out, nil
}

// prepare subsets one granule to the region and keeps the product variables.
func (l *Loader) prepare(ds *domain.Dataset, s Spec) (*domain.Dataset, error) {
	var err error
	if s.Grid != nil {
		if ds, err = attachGrid(ds, s, *s.Grid); err != nil {
			return nil, err
		}
	}
	if s.LatName != "" && s.LonName != "" {
		ds, err = domain.SpatialSubsetNamed(ds, l.Region, s.LatName, s.LonName)
	} else {
		ds, err = domain.SpatialSubset(ds, l.Region)
	}
	if err != nil {
		return nil, err
	}
	return ds.Select(s.variables()...)
}

// clean masks fill values and bad quality cells, then converts units.
func (l *Loader) clean(ds *domain.Dataset, s Spec) (*domain.Variable, error) {
	v, err := ds.Var(s.Variable)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", s.Name, err)
	}
	// Fill values are compared against raw values before any scaling.
	if v, err = domain.MaskFill(v, l.RequireFillValue); err != nil {
		return nil, err
	}
	if s.QCVariable != "" {
		qc, err := ds.Var(s.QCVariable)
		if err != nil {
			return nil, fmt.Errorf("%s quality flags: %w", s.Name, err)
		}
		if qc, err = qc.Transpose(v.Dims); err != nil {
			return nil, err
		}
		if v, err = domain.MaskWhere(v, qc); err != nil {
			return nil, err
		}
	}

	switch {
	case s.Scale != 0:
		v = domain.ScaleOffset(v, s.Scale, s.Offset)
	default:
		v = domain.ApplyCFPacking(v)
	}
	cp := *v
	cp.Attrs = v.Attrs.Clone()
	v = &cp
	for _, k := range []string{"scale_factor", "add_offset", "_FillValue", "missing_value", "valid_range"} {
		delete(v.Attrs, k)
	}
	if s.Units != "" {
		v.Attrs["units"] = s.Units
	}
	return v, nil
}

// attachGrid adds cell-centered coordinates to the last two dims of the
// product variable when the file carries none.
func attachGrid(ds *domain.Dataset, s Spec, g RegularGrid) (*domain.Dataset, error) {
	v, err := ds.Var(s.Variable)
	if err != nil {
		return nil, err
	}
	if len(v.Dims) < 2 {
		return nil, fmt.Errorf("%w: %s needs two spatial dims, has %v", domain.ErrShape, s.Variable, v.Dims)
	}
	rowDim, colDim := v.Dims[len(v.Dims)-2], v.Dims[len(v.Dims)-1]
	if ds.HasCoord(rowDim) && ds.HasCoord(colDim) {
		return ds, nil
	}
	rows, cols := v.Shape[len(v.Shape)-2], v.Shape[len(v.Shape)-1]
	lats := make([]float64, rows)
	for i := range lats {
		lats[i] = 90 - g.Step*(float64(i)+0.5)
	}
	lons := make([]float64, cols)
	for j := range lons {
		lons[j] = -180 + g.Step*(float64(j)+0.5)
	}

	out := ds.Rename(map[string]string{rowDim: domain.LatDim, colDim: domain.LonDim})
	out.AddCoord(domain.NewCoord(domain.LatDim, lats))
	out.AddCoord(domain.NewCoord(domain.LonDim, lons))
	return out, nil
}

func sameOrder(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (l *Loader) logger() *slog.Logger {
	if l.Log == nil {
		return slog.New(slog.DiscardHandler)
	}
	return l.Log
}
