package usecase

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"go.ngs.io/ph-pollution/internal/adapter/granule"
	"go.ngs.io/ph-pollution/internal/adapter/interp"
	csvstore "go.ngs.io/ph-pollution/internal/adapter/store/csv"
	"go.ngs.io/ph-pollution/internal/domain"
)

// ErrOutsideGrid means a query point lies outside the merged grid.
var ErrOutsideGrid = errors.New("point outside grid")

// VariableInfo describes one merged variable.
type VariableInfo struct {
	Name  string   `json:"name"`
	Units string   `json:"units,omitempty"`
	Dims  []string `json:"dims"`
	Shape []int    `json:"shape"`
}

// ValuePoint is the interpolated value at one time step; Value is nil where
// the data is missing.
type ValuePoint struct {
	Time  string   `json:"time"`
	Value *float64 `json:"value"`
}

// ValuesResponse is the result of a point query.
type ValuesResponse struct {
	Variable string       `json:"variable"`
	Lat      float64      `json:"lat"`
	Lon      float64      `json:"lon"`
	Units    string       `json:"units,omitempty"`
	Values   []ValuePoint `json:"values"`
}

// QueryUseCase answers point queries over a merged grid held in memory.
type QueryUseCase struct {
	ds *domain.Dataset
}

// NewQueryUseCase serves queries from ds, which must be on the common axes.
func NewQueryUseCase(ds *domain.Dataset) (*QueryUseCase, error) {
	for _, d := range gridDims {
		if !ds.HasCoord(d) {
			return nil, fmt.Errorf("merged grid lacks %s: %w", d, domain.ErrCoordinatesNotFound)
		}
	}
	if !ds.Coords[domain.TimeDim].IsTime() {
		return nil, domain.ErrTimeCoordinateNotFound
	}
	return &QueryUseCase{ds: ds}, nil
}

// OpenQueryUseCase loads the merged NetCDF file at path, or its CSV export
// when path ends in .csv.
func OpenQueryUseCase(path string) (*QueryUseCase, error) {
	var ds *domain.Dataset
	var err error
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		ds, err = csvstore.ReadDataset(path)
	} else {
		ds, err = granule.Open(path, granule.Options{})
	}
	if err != nil {
		return nil, err
	}
	return NewQueryUseCase(ds)
}

// Variables lists the merged variables in name order.
func (q *QueryUseCase) Variables() []VariableInfo {
	names := q.ds.VarNames()
	out := make([]VariableInfo, 0, len(names))
	for _, n := range names {
		v := q.ds.Vars[n]
		units, _ := v.Attrs.String("units")
		out = append(out, VariableInfo{Name: n, Units: units, Dims: v.Dims, Shape: v.Shape})
	}
	return out
}

// Values interpolates variable at (lat, lon) for every time step, or only
// the step in the same month as at when at is set.
func (q *QueryUseCase) Values(variable string, lat, lon float64, at *time.Time) (*ValuesResponse, error) {
	v, err := q.ds.Var(variable)
	if err != nil {
		return nil, err
	}
	if !equalDims(v.Dims, gridDims) {
		return nil, fmt.Errorf("%w: %s has dims %v", domain.ErrShape, variable, v.Dims)
	}
	times := q.ds.Coords[domain.TimeDim].Times
	lats := q.ds.Coords[domain.LatDim].Values
	lons := q.ds.Coords[domain.LonDim].Values
	if !inside(lats, lat) || !inside(lons, lon) {
		return nil, fmt.Errorf("%w: (%.4f, %.4f)", ErrOutsideGrid, lat, lon)
	}

	units, _ := v.Attrs.String("units")
	resp := &ValuesResponse{Variable: variable, Lat: lat, Lon: lon, Units: units, Values: []ValuePoint{}}
	plane := len(lats) * len(lons)
	for k, t := range times {
		if at != nil && (t.Year() != at.Year() || t.Month() != at.Month()) {
			continue
		}
		g := interp.Grid2D{X: lons, Y: lats, Values: v.Data[k*plane : (k+1)*plane]}
		x, err := g.InterpolateAt(lon, lat)
		if err != nil {
			return nil, fmt.Errorf("failed to interpolate %s: %w", variable, err)
		}
		p := ValuePoint{Time: t.Format(time.RFC3339)}
		if !math.IsNaN(x) {
			p.Value = &x
		}
		resp.Values = append(resp.Values, p)
	}
	return resp, nil
}

func inside(axis []float64, x float64) bool {
	return len(axis) > 0 && x >= axis[0] && x <= axis[len(axis)-1]
}
