// Package era5 reads ERA5 reanalysis NetCDF downloads with the pure-Go
// netcdf reader and maps them onto the common grid convention.
package era5

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/batchatco/go-native-netcdf/netcdf"
	"github.com/batchatco/go-native-netcdf/netcdf/api"

	"go.ngs.io/ph-pollution/internal/domain"
)

// SkinTemperature is the ERA5 short name of skin temperature.
const SkinTemperature = "skt"

// Native axis names; newer CDS output uses valid_time.
var timeNames = []string{"valid_time", "time"}

// Load opens an ERA5 file, unpacks packed variables, renames the time axis
// to the common name, converts skin temperature to degrees Celsius, sorts
// latitude ascending and returns the (time, latitude, longitude) variables.
// With no names every gridded variable is returned.
func Load(path string, names ...string) (*domain.Dataset, error) {
	nc, err := netcdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ERA5 file %s: %w", path, err)
	}
	defer nc.Close()

	raw, err := read(nc, path, names)
	if err != nil {
		return nil, err
	}

	timeName := ""
	for _, n := range timeNames {
		if raw.HasCoord(n) {
			timeName = n
			break
		}
	}
	if timeName == "" {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrTimeCoordinateNotFound)
	}
	if !raw.HasCoord(domain.LatDim) || !raw.HasCoord(domain.LonDim) {
		return nil, fmt.Errorf("%s: %w", path, domain.ErrCoordinatesNotFound)
	}
	ds := raw.Rename(map[string]string{timeName: domain.TimeDim})

	grid := []string{domain.TimeDim, domain.LatDim, domain.LonDim}
	for name, v := range ds.Vars {
		if !hasDims(v, grid) {
			delete(ds.Vars, name)
		}
	}
	if len(names) > 0 {
		for _, n := range names {
			if _, err := ds.Var(n); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}

	if v, ok := ds.Vars[SkinTemperature]; ok {
		c := v.Map(func(k float64) float64 { return k - domain.KelvinOffset })
		c.Attrs["units"] = "degC"
		ds.Vars[SkinTemperature] = c
	}

	if ds, err = ds.SortBy(domain.LatDim); err != nil {
		return nil, err
	}
	return ds.Transpose(grid...)
}

func hasDims(v *domain.Variable, dims []string) bool {
	if len(v.Dims) != len(dims) {
		return false
	}
	for _, d := range dims {
		if v.DimIndex(d) < 0 {
			return false
		}
	}
	return true
}

// read loads coordinate variables and the requested data variables.
func read(nc api.Group, path string, names []string) (*domain.Dataset, error) {
	ds := domain.NewDataset()
	ds.Source = path
	ds.Attrs = attrs(nc.Attributes())

	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[n] = true
	}

	var data []*domain.Variable
	for _, name := range nc.ListVariables() {
		vg, err := nc.GetVarGetter(name)
		if err != nil {
			return nil, fmt.Errorf("failed to get variable %s: %w", name, err)
		}
		dims := vg.Dimensions()
		isCoord := len(dims) == 1 && dims[0] == name
		if !isCoord && len(names) > 0 && !want[name] {
			continue
		}

		values, err := vg.Values()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		flat, shape, err := flatten(values)
		if err != nil {
			// Character and compound variables carry no grid data.
			continue
		}
		va := attrs(vg.Attributes())

		if isCoord {
			c, err := coord(name, flat, va)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			ds.AddCoord(c)
			continue
		}
		if len(shape) != len(dims) {
			return nil, fmt.Errorf("%w: %s has %d dims but %d-D values", domain.ErrShape, name, len(dims), len(shape))
		}
		v, err := domain.NewVariable(name, dims, shape, flat)
		if err != nil {
			return nil, err
		}
		v.Attrs = va
		data = append(data, domain.ApplyCFPacking(v))
	}

	for _, v := range data {
		if err := ds.AddVar(v); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func coord(name string, values []float64, a domain.Attrs) (*domain.Coord, error) {
	if units, ok := a.String("units"); ok && strings.Contains(units, " since ") {
		times, err := domain.DecodeCFTime(values, units)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
		c := domain.NewTimeCoord(name, times)
		c.Attrs = a
		return c, nil
	}
	c := domain.NewCoord(name, values)
	c.Attrs = a
	return c, nil
}

func attrs(m api.AttributeMap) domain.Attrs {
	out := domain.Attrs{}
	if m == nil {
		return out
	}
	for _, k := range m.Keys() {
		if v, ok := m.Get(k); ok {
			out[k] = v
		}
	}
	return out
}

// flatten converts the nested slices returned by the reader into row-major
// float64 data and its shape.
func flatten(values any) ([]float64, []int, error) {
	rv := reflect.ValueOf(values)
	var shape []int
	n := 1
	for t := rv; t.Kind() == reflect.Slice; {
		shape = append(shape, t.Len())
		n *= t.Len()
		if t.Len() == 0 {
			break
		}
		t = t.Index(0)
	}

	out := make([]float64, 0, n)
	var walk func(reflect.Value) error
	walk = func(x reflect.Value) error {
		switch x.Kind() {
		case reflect.Slice:
			for i := 0; i < x.Len(); i++ {
				if err := walk(x.Index(i)); err != nil {
					return err
				}
			}
		case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
			out = append(out, float64(x.Int()))
		case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
			out = append(out, float64(x.Uint()))
		case reflect.Float32, reflect.Float64:
			out = append(out, x.Float())
		default:
			return fmt.Errorf("unsupported element kind %s", x.Kind())
		}
		return nil
	}
	if err := walk(rv); err != nil {
		return nil, nil, err
	}
	if len(out) != n {
		return nil, nil, fmt.Errorf("%w: ragged array of %d values for shape %v", domain.ErrShape, len(out), shape)
	}
	return out, shape, nil
}
