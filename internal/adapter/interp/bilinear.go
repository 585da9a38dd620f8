// Package interp implements bilinear interpolation on rectilinear
// latitude/longitude grids without extrapolation.
package interp

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// ErrOutsideGrid is returned when a point lies outside the grid hull.
var ErrOutsideGrid = errors.New("point outside grid")

// GridCell represents one rectangular cell with four corner values.
type GridCell struct {
	// Corner coordinates.
	X0, X1 float64 // Longitude bounds.
	Y0, Y1 float64 // Latitude bounds.

	// Values at the four corners:
	// V00 at (X0, Y0), V10 at (X1, Y0), V01 at (X0, Y1), V11 at (X1, Y1).
	V00, V10, V01, V11 float64
}

// BilinearInterpolate performs bilinear interpolation within a grid cell.
//
//	f(x,y) ≈ (1-t)(1-u)f(x0,y0) + t(1-u)f(x1,y0) + (1-t)u*f(x0,y1) + tu*f(x1,y1)
//
// where t = (x - x0) / (x1 - x0) and u = (y - y0) / (y1 - y0).
// A NaN corner yields NaN.
func BilinearInterpolate(cell GridCell, x, y float64) (float64, error) {
	if cell.X1 <= cell.X0 {
		return 0, fmt.Errorf("invalid grid cell: X1 must be > X0")
	}
	if cell.Y1 <= cell.Y0 {
		return 0, fmt.Errorf("invalid grid cell: Y1 must be > Y0")
	}

	const epsilon = 1e-9
	if x < cell.X0-epsilon || x > cell.X1+epsilon {
		return 0, fmt.Errorf("%w: x %.6f not in [%.6f, %.6f]", ErrOutsideGrid, x, cell.X0, cell.X1)
	}
	if y < cell.Y0-epsilon || y > cell.Y1+epsilon {
		return 0, fmt.Errorf("%w: y %.6f not in [%.6f, %.6f]", ErrOutsideGrid, y, cell.Y0, cell.Y1)
	}

	t := math.Max(0, math.Min(1, (x-cell.X0)/(cell.X1-cell.X0)))
	u := math.Max(0, math.Min(1, (y-cell.Y0)/(cell.Y1-cell.Y0)))

	// NaN propagates through the weighted sum, including zero weights.
	return (1-t)*(1-u)*cell.V00 +
		t*(1-u)*cell.V10 +
		(1-t)*u*cell.V01 +
		t*u*cell.V11, nil
}

// Grid2D is a rectilinear grid with row-major values: Values[i*len(X)+j]
// is the value at (X[j], Y[i]).
type Grid2D struct {
	X      []float64 // Longitudes, strictly increasing.
	Y      []float64 // Latitudes, strictly increasing.
	Values []float64
}

// Validate checks if the grid is valid.
func (g *Grid2D) Validate() error {
	if len(g.X) < 2 {
		return fmt.Errorf("grid must have at least 2 X coordinates")
	}
	if len(g.Y) < 2 {
		return fmt.Errorf("grid must have at least 2 Y coordinates")
	}
	if len(g.Values) != len(g.X)*len(g.Y) {
		return fmt.Errorf("grid has %d values, expected %d x %d", len(g.Values), len(g.Y), len(g.X))
	}
	for i := 1; i < len(g.X); i++ {
		if g.X[i] <= g.X[i-1] {
			return fmt.Errorf("X coordinates must be strictly increasing")
		}
	}
	for i := 1; i < len(g.Y); i++ {
		if g.Y[i] <= g.Y[i-1] {
			return fmt.Errorf("Y coordinates must be strictly increasing")
		}
	}
	return nil
}

// cellIndex returns i such that axis[i] <= v <= axis[i+1], or -1.
func cellIndex(axis []float64, v float64) int {
	n := len(axis)
	if math.IsNaN(v) || v < axis[0] || v > axis[n-1] {
		return -1
	}
	i := sort.SearchFloat64s(axis, v)
	if i == 0 {
		return 0
	}
	if i >= n-1 {
		return n - 2
	}
	if axis[i] == v {
		return i
	}
	return i - 1
}

func (g *Grid2D) at(i, j int) float64 { return g.Values[i*len(g.X)+j] }

// InterpolateAt performs bilinear interpolation at a point inside the grid.
func (g *Grid2D) InterpolateAt(x, y float64) (float64, error) {
	if err := g.Validate(); err != nil {
		return 0, fmt.Errorf("invalid grid: %w", err)
	}
	return g.interpolate(x, y)
}

func (g *Grid2D) interpolate(x, y float64) (float64, error) {
	xi := cellIndex(g.X, x)
	if xi < 0 {
		return 0, fmt.Errorf("%w: x %.6f not in [%.6f, %.6f]", ErrOutsideGrid, x, g.X[0], g.X[len(g.X)-1])
	}
	yi := cellIndex(g.Y, y)
	if yi < 0 {
		return 0, fmt.Errorf("%w: y %.6f not in [%.6f, %.6f]", ErrOutsideGrid, y, g.Y[0], g.Y[len(g.Y)-1])
	}
	cell := GridCell{
		X0: g.X[xi], X1: g.X[xi+1],
		Y0: g.Y[yi], Y1: g.Y[yi+1],
		V00: g.at(yi, xi),
		V10: g.at(yi, xi+1),
		V01: g.at(yi+1, xi),
		V11: g.at(yi+1, xi+1),
	}
	return BilinearInterpolate(cell, x, y)
}

// Regrid samples g at every (lat, lon) pair of the target axes and returns
// row-major values of shape len(lats) x len(lons). Targets outside the grid
// hull are NaN.
func (g *Grid2D) Regrid(lats, lons []float64) ([]float64, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("invalid grid: %w", err)
	}
	out := make([]float64, len(lats)*len(lons))
	for i, y := range lats {
		for j, x := range lons {
			v, err := g.interpolate(x, y)
			if err != nil {
				if errors.Is(err, ErrOutsideGrid) {
					out[i*len(lons)+j] = math.NaN()
					continue
				}
				return nil, err
			}
			out[i*len(lons)+j] = v
		}
	}
	return out, nil
}
