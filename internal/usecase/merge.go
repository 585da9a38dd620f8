package usecase

import (
	"fmt"
	"math"
	"sort"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/interp"
	"go.ngs.io/ph-pollution/internal/domain"
)

// Time alignment modes for Merge.
const (
	AlignExact = "exact"
	AlignMonth = "month"
)

// Layer is one variable to place on the reference grid.
type Layer struct {
	// Name in the merged output.
	Name string
	Data *domain.Dataset
	// Var inside Data; defaults to Name.
	Var string
}

// MergeOptions controls time alignment.
type MergeOptions struct {
	TimeAlignment string
}

var gridDims = []string{domain.TimeDim, domain.LatDim, domain.LonDim}

// Merge bilinearly regrids every layer onto the latitude/longitude axes of
// ref and aligns all layers on the sorted union of their time labels. Cells
// outside a layer's grid, and time steps a layer lacks, are NaN. Layers
// already on the reference grid are copied unchanged.
func Merge(ref *domain.Dataset, layers []Layer, opts MergeOptions) (*domain.Dataset, error) {
	lats, ok1 := ref.Coords[domain.LatDim]
	lons, ok2 := ref.Coords[domain.LonDim]
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("reference grid: %w", domain.ErrCoordinatesNotFound)
	}

	layerTimes := make([][]time.Time, len(layers))
	seen := make(map[int64]time.Time)
	for i, l := range layers {
		ts, err := layerAxis(l, opts.TimeAlignment)
		if err != nil {
			return nil, err
		}
		layerTimes[i] = ts
		for _, t := range ts {
			seen[t.Unix()] = t
		}
	}
	union := make([]time.Time, 0, len(seen))
	for _, t := range seen {
		union = append(union, t)
	}
	sort.Slice(union, func(i, j int) bool { return union[i].Before(union[j]) })
	position := make(map[int64]int, len(union))
	for i, t := range union {
		position[t.Unix()] = i
	}

	out := domain.NewDataset()
	out.AddCoord(domain.NewTimeCoord(domain.TimeDim, union))
	out.AddCoord(cloneCoord(lats))
	out.AddCoord(cloneCoord(lons))

	nLat, nLon := lats.Len(), lons.Len()
	plane := nLat * nLon
	for i, l := range layers {
		v, err := layerVar(l)
		if err != nil {
			return nil, err
		}
		srcLat := l.Data.Coords[domain.LatDim]
		srcLon := l.Data.Coords[domain.LonDim]
		same := sameAxis(srcLat, lats) && sameAxis(srcLon, lons)

		data := make([]float64, len(union)*plane)
		for k := range data {
			data[k] = math.NaN()
		}
		srcPlane := srcLat.Len() * srcLon.Len()
		for k, t := range layerTimes[i] {
			slice := v.Data[k*srcPlane : (k+1)*srcPlane]
			dst := data[position[t.Unix()]*plane:][:plane]
			if same {
				copy(dst, slice)
				continue
			}
			g := interp.Grid2D{X: srcLon.Values, Y: srcLat.Values, Values: slice}
			values, err := g.Regrid(lats.Values, lons.Values)
			if err != nil {
				return nil, fmt.Errorf("failed to regrid %s at %s: %w", l.Name, t.Format(time.DateOnly), err)
			}
			copy(dst, values)
		}

		mv, err := domain.NewVariable(l.Name, gridDims, []int{len(union), nLat, nLon}, data)
		if err != nil {
			return nil, err
		}
		mv.Attrs = v.Attrs.Clone()
		if err := out.AddVar(mv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func layerVar(l Layer) (*domain.Variable, error) {
	name := l.Var
	if name == "" {
		name = l.Name
	}
	v, err := l.Data.Var(name)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", l.Name, err)
	}
	if !equalDims(v.Dims, gridDims) {
		return nil, fmt.Errorf("%w: layer %s has dims %v, expected %v", domain.ErrShape, l.Name, v.Dims, gridDims)
	}
	return v, nil
}

// layerAxis returns the layer's time labels after alignment. Labels must
// stay unique.
func layerAxis(l Layer, mode string) ([]time.Time, error) {
	c, ok := l.Data.Coords[domain.TimeDim]
	if !ok || !c.IsTime() {
		return nil, fmt.Errorf("layer %s: %w", l.Name, domain.ErrTimeCoordinateNotFound)
	}
	if !l.Data.HasCoord(domain.LatDim) || !l.Data.HasCoord(domain.LonDim) {
		return nil, fmt.Errorf("layer %s: %w", l.Name, domain.ErrCoordinatesNotFound)
	}
	out := make([]time.Time, c.Len())
	dup := make(map[int64]bool, c.Len())
	for i, t := range c.Times {
		switch mode {
		case "", AlignExact:
		case AlignMonth:
			t = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
		default:
			return nil, fmt.Errorf("unknown time alignment %q", mode)
		}
		if dup[t.Unix()] {
			return nil, fmt.Errorf("%w: layer %s has duplicate time %s", domain.ErrShape, l.Name, t.Format(time.RFC3339))
		}
		dup[t.Unix()] = true
		out[i] = t
	}
	return out, nil
}

func sameAxis(a, b *domain.Coord) bool {
	if a.Len() != b.Len() {
		return false
	}
	for i := range a.Values {
		if math.Abs(a.Values[i]-b.Values[i]) > 1e-9 {
			return false
		}
	}
	return true
}

func cloneCoord(c *domain.Coord) *domain.Coord {
	out := domain.NewCoord(c.Name, append([]float64(nil), c.Values...))
	out.Attrs = c.Attrs.Clone()
	return out
}

func equalDims(a, b []string) bool {
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
