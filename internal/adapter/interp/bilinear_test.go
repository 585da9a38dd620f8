package interp

import (
	"errors"
	"math"
	"testing"
)

// TestBilinearInterpolate_CenterPoint tests interpolation at the center of a grid cell
func TestBilinearInterpolate_CenterPoint(t *testing.T) {
	cell := GridCell{
		X0: 116.0, X1: 118.0,
		Y0: 4.0, Y1: 6.0,
		V00: 1.0, V10: 3.0,
		V01: 5.0, V11: 7.0,
	}

	// 0.25 * (1 + 3 + 5 + 7) = 4.0
	result, err := BilinearInterpolate(cell, 117.0, 5.0)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if math.Abs(result-4.0) > 1e-9 {
		t.Errorf("Center point: expected 4.0, got %.10f", result)
	}
}

// TestBilinearInterpolate_CornerPoints tests that corners return exact values
func TestBilinearInterpolate_CornerPoints(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 10.0,
		Y0: 0.0, Y1: 10.0,
		V00: 1.0, V10: 2.0,
		V01: 3.0, V11: 4.0,
	}

	tests := []struct {
		x, y     float64
		expected float64
		name     string
	}{
		{0.0, 0.0, 1.0, "bottom-left"},
		{10.0, 0.0, 2.0, "bottom-right"},
		{0.0, 10.0, 3.0, "top-left"},
		{10.0, 10.0, 4.0, "top-right"},
	}

	for _, tt := range tests {
		result, err := BilinearInterpolate(cell, tt.x, tt.y)
		if err != nil {
			t.Fatalf("Unexpected error for %s: %v", tt.name, err)
		}
		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("%s corner: expected %.10f, got %.10f", tt.name, tt.expected, result)
		}
	}
}

// TestBilinearInterpolate_NaNCorner tests that a missing corner poisons the cell
func TestBilinearInterpolate_NaNCorner(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 1.0,
		Y0: 0.0, Y1: 1.0,
		V00: 1.0, V10: math.NaN(),
		V01: 3.0, V11: 4.0,
	}
	for _, p := range [][2]float64{{0.5, 0.5}, {0, 0}, {0, 1}} {
		result, err := BilinearInterpolate(cell, p[0], p[1])
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if !math.IsNaN(result) {
			t.Errorf("At %v: expected NaN, got %v", p, result)
		}
	}
}

// TestBilinearInterpolate_OutOfBounds tests error handling for out-of-bounds points
func TestBilinearInterpolate_OutOfBounds(t *testing.T) {
	cell := GridCell{
		X0: 0.0, X1: 10.0,
		Y0: 0.0, Y1: 10.0,
		V00: 1.0, V10: 2.0,
		V01: 3.0, V11: 4.0,
	}

	tests := []struct {
		x, y float64
		name string
	}{
		{-1.0, 5.0, "x too small"},
		{11.0, 5.0, "x too large"},
		{5.0, -1.0, "y too small"},
		{5.0, 11.0, "y too large"},
	}

	for _, tt := range tests {
		_, err := BilinearInterpolate(cell, tt.x, tt.y)
		if !errors.Is(err, ErrOutsideGrid) {
			t.Errorf("%s: expected ErrOutsideGrid for (%.1f, %.1f), got %v", tt.name, tt.x, tt.y, err)
		}
	}
}

// TestGrid2D_InterpolateAt tests 2D grid interpolation
func TestGrid2D_InterpolateAt(t *testing.T) {
	grid := &Grid2D{
		X: []float64{0.0, 1.0, 2.0},
		Y: []float64{0.0, 1.0, 2.0},
		Values: []float64{
			1.0, 2.0, 3.0, // y=0
			4.0, 5.0, 6.0, // y=1
			7.0, 8.0, 9.0, // y=2
		},
	}

	tests := []struct {
		x, y     float64
		expected float64
	}{
		{0.0, 0.0, 1.0},
		{1.0, 0.0, 2.0},
		{2.0, 0.0, 3.0},
		{0.0, 1.0, 4.0},
		{1.0, 1.0, 5.0},
		{2.0, 2.0, 9.0},
		{0.5, 0.5, 3.0},
		{1.5, 1.5, 7.0},
	}

	for _, tt := range tests {
		result, err := grid.InterpolateAt(tt.x, tt.y)
		if err != nil {
			t.Fatalf("Unexpected error at (%.1f, %.1f): %v", tt.x, tt.y, err)
		}
		if math.Abs(result-tt.expected) > 1e-9 {
			t.Errorf("At (%.1f, %.1f): expected %.10f, got %.10f", tt.x, tt.y, tt.expected, result)
		}
	}

	if _, err := grid.InterpolateAt(2.5, 0); !errors.Is(err, ErrOutsideGrid) {
		t.Errorf("expected ErrOutsideGrid, got %v", err)
	}
}

// TestGrid2D_Validate tests grid validation
func TestGrid2D_Validate(t *testing.T) {
	tests := []struct {
		name    string
		grid    *Grid2D
		wantErr bool
	}{
		{
			name:    "valid grid",
			grid:    &Grid2D{X: []float64{0, 1, 2}, Y: []float64{0, 1}, Values: []float64{1, 2, 3, 4, 5, 6}},
			wantErr: false,
		},
		{
			name:    "too few X coords",
			grid:    &Grid2D{X: []float64{0}, Y: []float64{0, 1}, Values: []float64{1, 2}},
			wantErr: true,
		},
		{
			name:    "too few Y coords",
			grid:    &Grid2D{X: []float64{0, 1}, Y: []float64{0}, Values: []float64{1, 2}},
			wantErr: true,
		},
		{
			name:    "value count mismatch",
			grid:    &Grid2D{X: []float64{0, 1}, Y: []float64{0, 1}, Values: []float64{1, 2, 3}},
			wantErr: true,
		},
		{
			name:    "descending Y",
			grid:    &Grid2D{X: []float64{0, 1}, Y: []float64{1, 0}, Values: []float64{1, 2, 3, 4}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.grid.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestGrid2D_Regrid tests resampling onto target axes without extrapolation
func TestGrid2D_Regrid(t *testing.T) {
	// f(x, y) = x + 10y on a 3x2 grid is reproduced exactly inside the hull.
	grid := &Grid2D{
		X:      []float64{116, 118, 120},
		Y:      []float64{4, 6},
		Values: []float64{156, 158, 160, 176, 178, 180},
	}
	lats := []float64{3, 5}
	lons := []float64{117, 119, 121}

	out, err := grid.Regrid(lats, lons)
	if err != nil {
		t.Fatalf("Regrid: %v", err)
	}
	if len(out) != 6 {
		t.Fatalf("expected 6 values, got %d", len(out))
	}
	for j := range lons {
		if !math.IsNaN(out[j]) {
			t.Errorf("lat=3 is outside the hull, expected NaN at lon %v, got %v", lons[j], out[j])
		}
	}
	if math.Abs(out[3]-(117+50)) > 1e-9 || math.Abs(out[4]-(119+50)) > 1e-9 {
		t.Errorf("expected [167 169], got %v", out[3:5])
	}
	if !math.IsNaN(out[5]) {
		t.Errorf("lon=121 is outside the hull, expected NaN, got %v", out[5])
	}
}
