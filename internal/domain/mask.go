package domain

import (
	"fmt"
	"math"
)

// Kelvin offset used for temperature conversions.
const KelvinOffset = 273.15

// FillValue returns the declared fill value of v, checking _FillValue then
// missing_value.
func FillValue(v *Variable) (float64, bool) {
	if f, ok := v.Attrs.Float("_FillValue"); ok {
		return f, true
	}
	return v.Attrs.Float("missing_value")
}

// MaskFill replaces elements equal to the declared fill value with NaN. When
// the variable declares no fill value it is returned unchanged, or
// ErrFillValueMissing when require is set.
func MaskFill(v *Variable, require bool) (*Variable, error) {
	fill, ok := FillValue(v)
	if !ok {
		if require {
			return nil, fmt.Errorf("%s: %w", v.Name, ErrFillValueMissing)
		}
		return v, nil
	}
	return maskEqual(v, fill), nil
}

func maskEqual(v *Variable, fill float64) *Variable {
	if math.IsNaN(fill) {
		return v
	}
	return v.Where(func(_ int, x float64) bool { return x != fill })
}

// MaskWhere sets v to NaN wherever the same-shaped qc variable is not zero.
func MaskWhere(v, qc *Variable) (*Variable, error) {
	if qc.Len() != v.Len() {
		return nil, fmt.Errorf("%w: quality flags %s have %d values, %s has %d", ErrShape, qc.Name, qc.Len(), v.Name, v.Len())
	}
	return v.Where(func(i int, _ float64) bool { return qc.Data[i] == 0 }), nil
}

// ScaleOffset returns v*scale + offset elementwise.
func ScaleOffset(v *Variable, scale, offset float64) *Variable {
	return v.Map(func(x float64) float64 { return x*scale + offset })
}

// ApplyCFPacking unpacks values with the variable's scale_factor and
// add_offset attributes, after masking the raw fill value. The packing
// attributes are removed from the result.
func ApplyCFPacking(v *Variable) *Variable {
	out := v
	if fill, ok := FillValue(v); ok {
		out = maskEqual(v, fill)
	}
	scale, hasScale := v.Attrs.Float("scale_factor")
	offset, hasOffset := v.Attrs.Float("add_offset")
	if !hasScale && !hasOffset {
		return out
	}
	if !hasScale {
		scale = 1
	}
	out = ScaleOffset(out, scale, offset)
	for _, k := range []string{"scale_factor", "add_offset", "_FillValue", "missing_value"} {
		delete(out.Attrs, k)
	}
	return out
}
